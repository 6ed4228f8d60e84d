/*
handlers.go - HTTP API handlers for the tab billing engine

PURPOSE:
  Exposes the billing core via REST. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Tabs:
    POST   /api/tabs                          Create tab
    GET    /api/tabs/{tabID}                  Get tab
    POST   /api/tabs/{tabID}/line-items      Create line item (rules run)
    GET    /api/tabs/{tabID}/line-items      List line items
    POST   /api/tabs/{tabID}/billing-groups  Create billing group
    GET    /api/tabs/{tabID}/billing-groups  List billing groups
    POST   /api/tabs/{tabID}/rules           Create rule
    GET    /api/tabs/{tabID}/rules           List rules
    GET    /api/tabs/{tabID}/allocations     Per-payment allocation state

  Line items:
    POST   /api/line-items/{id}/assign       Assign to a billing group
    POST   /api/line-items/{id}/unassign     Unassign
    POST   /api/line-items/{id}/approve      Approve pending assignment
    POST   /api/line-items/{id}/reject       Reject pending assignment

  Billing groups / rules:
    DELETE /api/billing-groups/{id}          Close group (cascades unassign)
    PUT    /api/rules/{id}                   Update rule
    DELETE /api/rules/{id}                   Delete rule

  Payments:
    POST   /api/payments                     Record payment
    POST   /api/payments/{id}/allocate       Allocate across groups
    POST   /api/payments/{id}/reverse        Reverse an allocation

  Audit:
    GET    /api/audit                        Query trail (export=csv supported)

ERROR HANDLING:
  Errors are returned as JSON with the status derived from the domain
  error taxonomy:
  - 400: validation errors
  - 404: missing payment/tab/group/rule
  - 409: business rule violations
  - 500: everything else
*/
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/tab-engine/allocation"
	"github.com/warp/tab-engine/audit"
	"github.com/warp/tab-engine/billing"
	"github.com/warp/tab-engine/rules"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    billing.TxStore
	Rules    rules.Store
	Tracker  *billing.BalanceTracker
	Applier  *rules.Applier
	Engine   *allocation.Engine
	Recorder *audit.Recorder
	Logger   *slog.Logger
}

func NewHandler(store billing.TxStore, ruleStore rules.Store, tracker *billing.BalanceTracker, applier *rules.Applier, engine *allocation.Engine, recorder *audit.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:    store,
		Rules:    ruleStore,
		Tracker:  tracker,
		Applier:  applier,
		Engine:   engine,
		Recorder: recorder,
		Logger:   logger,
	}
}

// =============================================================================
// TABS
// =============================================================================

func (h *Handler) CreateTab(w http.ResponseWriter, r *http.Request) {
	var req CreateTabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, billing.NewValidationError("body", "invalid JSON"))
		return
	}
	if req.Name == "" {
		writeError(w, billing.NewValidationError("name", "must not be empty"))
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	tab := billing.Tab{
		ID:        billing.TabID(uuid.NewString()),
		OrgID:     req.OrgID,
		Name:      req.Name,
		Currency:  req.Currency,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveTab(r.Context(), tab); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tabResponse(tab))
}

func (h *Handler) GetTab(w http.ResponseWriter, r *http.Request) {
	tab, err := h.Store.GetTab(r.Context(), billing.TabID(chi.URLParam(r, "tabID")))
	if err != nil {
		writeError(w, err)
		return
	}
	if tab == nil {
		writeError(w, billing.NewNotFoundError("tab", chi.URLParam(r, "tabID")))
		return
	}
	writeJSON(w, http.StatusOK, tabResponse(*tab))
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (h *Handler) CreateLineItem(w http.ResponseWriter, r *http.Request) {
	tabID := billing.TabID(chi.URLParam(r, "tabID"))

	var req CreateLineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, billing.NewValidationError("body", "invalid JSON"))
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil || !quantity.IsPositive() {
		writeError(w, billing.NewValidationError("quantity", "must be a positive decimal"))
		return
	}
	unitPrice, err := billing.ParseMoney(req.UnitPrice)
	if err != nil || unitPrice.IsNegative() {
		writeError(w, billing.NewValidationError("unit_price", "must be a non-negative amount"))
		return
	}

	tab, err := h.Store.GetTab(r.Context(), tabID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tab == nil {
		writeError(w, billing.NewNotFoundError("tab", string(tabID)))
		return
	}

	item := billing.LineItem{
		ID:          billing.LineItemID(uuid.NewString()),
		TabID:       tabID,
		Description: req.Description,
		Category:    req.Category,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	item.ComputeTotal()

	if err := h.Store.SaveLineItem(r.Context(), item); err != nil {
		writeError(w, err)
		return
	}

	// The item is stored before rules run; a reject rule or a failed
	// assignment (closed group, credit limit) surfaces as a domain error.
	decision, err := h.Applier.Apply(r.Context(), item.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	stored, err := h.Store.GetLineItem(r.Context(), item.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := lineItemResponse(*stored)
	if decision != nil {
		resp.RuleDecision = &RuleDecisionResponse{
			RuleID:   string(decision.Rule.ID),
			RuleName: decision.Rule.Name,
			Action:   string(decision.Action),
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListLineItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.LineItemsByTab(r.Context(), billing.TabID(chi.URLParam(r, "tabID")))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]LineItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, lineItemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) AssignLineItem(w http.ResponseWriter, r *http.Request) {
	itemID := billing.LineItemID(chi.URLParam(r, "id"))

	var req AssignLineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, billing.NewValidationError("body", "invalid JSON"))
		return
	}
	if req.BillingGroupID == "" {
		writeError(w, billing.NewValidationError("billing_group_id", "must not be empty"))
		return
	}

	err := h.Store.WithTx(r.Context(), func(s billing.Store) error {
		return h.Tracker.Assign(r.Context(), s, itemID, billing.GroupID(req.BillingGroupID))
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeItem(w, r, itemID)
}

func (h *Handler) UnassignLineItem(w http.ResponseWriter, r *http.Request) {
	itemID := billing.LineItemID(chi.URLParam(r, "id"))
	err := h.Store.WithTx(r.Context(), func(s billing.Store) error {
		return h.Tracker.Unassign(r.Context(), s, itemID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeItem(w, r, itemID)
}

func (h *Handler) ApproveLineItem(w http.ResponseWriter, r *http.Request) {
	itemID := billing.LineItemID(chi.URLParam(r, "id"))
	if err := h.Applier.Approve(r.Context(), itemID); err != nil {
		writeError(w, err)
		return
	}
	h.writeItem(w, r, itemID)
}

func (h *Handler) RejectLineItem(w http.ResponseWriter, r *http.Request) {
	itemID := billing.LineItemID(chi.URLParam(r, "id"))
	if err := h.Applier.RejectPending(r.Context(), itemID); err != nil {
		writeError(w, err)
		return
	}
	h.writeItem(w, r, itemID)
}

func (h *Handler) writeItem(w http.ResponseWriter, r *http.Request, itemID billing.LineItemID) {
	item, err := h.Store.GetLineItem(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	if item == nil {
		writeError(w, billing.NewNotFoundError("line item", string(itemID)))
		return
	}
	writeJSON(w, http.StatusOK, lineItemResponse(*item))
}

// =============================================================================
// BILLING GROUPS
// =============================================================================

func (h *Handler) CreateBillingGroup(w http.ResponseWriter, r *http.Request) {
	tabID := billing.TabID(chi.URLParam(r, "tabID"))

	var req CreateBillingGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, billing.NewValidationError("body", "invalid JSON"))
		return
	}
	if req.Name == "" {
		writeError(w, billing.NewValidationError("name", "must not be empty"))
		return
	}
	groupType := billing.GroupType(req.GroupType)
	switch groupType {
	case billing.GroupStandard, billing.GroupCorporate, billing.GroupDeposit, billing.GroupCredit:
	case "":
		groupType = billing.GroupStandard
	default:
		writeError(w, billing.NewValidationError("group_type", "unknown group type"))
		return
	}

	group := billing.BillingGroup{
		ID:        billing.GroupID(uuid.NewString()),
		TabID:     tabID,
		Name:      req.Name,
		Type:      groupType,
		Status:    billing.GroupActive,
		CreatedAt: time.Now().UTC(),
	}
	if req.DepositAmount != "" {
		m, err := billing.ParseMoney(req.DepositAmount)
		if err != nil {
			writeError(w, billing.NewValidationError("deposit_amount", "must be a decimal amount"))
			return
		}
		group.DepositAmount = m
	}
	if req.CreditLimit != "" {
		m, err := billing.ParseMoney(req.CreditLimit)
		if err != nil {
			writeError(w, billing.NewValidationError("credit_limit", "must be a decimal amount"))
			return
		}
		group.CreditLimit = m
	}

	if err := h.Store.SaveGroup(r.Context(), group); err != nil {
		writeError(w, err)
		return
	}
	h.Recorder.Record(r.Context(), audit.Event{
		EntityType: "billing_group",
		EntityID:   string(group.ID),
		Action:     "created",
		Metadata:   map[string]string{"tab_id": string(tabID), "group_type": string(groupType)},
	})
	writeJSON(w, http.StatusCreated, groupResponse(group))
}

func (h *Handler) ListBillingGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.GroupsByTab(r.Context(), billing.TabID(chi.URLParam(r, "tabID")))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]BillingGroupResponse, 0, len(groups))
	for _, g := range groups {
		resp = append(resp, groupResponse(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CloseBillingGroup(w http.ResponseWriter, r *http.Request) {
	groupID := billing.GroupID(chi.URLParam(r, "id"))
	err := h.Store.WithTx(r.Context(), func(s billing.Store) error {
		return h.Tracker.CloseGroup(r.Context(), s, groupID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.Recorder.Record(r.Context(), audit.Event{
		EntityType: "billing_group",
		EntityID:   string(groupID),
		Action:     "closed",
	})
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RULES
// =============================================================================

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	tabID := billing.TabID(chi.URLParam(r, "tabID"))

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, billing.NewValidationError("body", "invalid JSON"))
		return
	}

	rule, err := ruleFromRequest(req)
	if err != nil {
		writeError(w, err)
		return
	}
	rule.ID = billing.RuleID(uuid.NewString())
	rule.TabID = tabID
	rule.CreatedAt = time.Now().UTC()

	// Malformed rules are rejected here, before they can reach the evaluator.
	if err := rule.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Rules.SaveRule(r.Context(), rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ruleResponse(rule))
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.Rules.RulesByTab(r.Context(), billing.TabID(chi.URLParam(r, "tabID")))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]RuleResponse, 0, len(list))
	for _, rule := range list {
		resp = append(resp, ruleResponse(rule))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := billing.RuleID(chi.URLParam(r, "id"))

	existing, err := h.Rules.GetRule(r.Context(), ruleID)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing == nil {
		writeError(w, billing.NewNotFoundError("rule", string(ruleID)))
		return
	}

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, billing.NewValidationError("body", "invalid JSON"))
		return
	}
	rule, err := ruleFromRequest(req)
	if err != nil {
		writeError(w, err)
		return
	}
	rule.ID = existing.ID
	rule.TabID = existing.TabID
	rule.CreatedAt = existing.CreatedAt

	if err := rule.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Rules.SaveRule(r.Context(), rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleResponse(rule))
}

func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.Rules.DeleteRule(r.Context(), billing.RuleID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENTS & ALLOCATION
// =============================================================================

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, billing.NewValidationError("body", "invalid JSON"))
		return
	}
	amount, err := billing.ParseMoney(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, billing.NewValidationError("amount", "must be a positive amount"))
		return
	}
	status := billing.PaymentStatus(req.Status)
	if status == "" {
		status = billing.PaymentSucceeded
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	tab, err := h.Store.GetTab(r.Context(), billing.TabID(req.TabID))
	if err != nil {
		writeError(w, err)
		return
	}
	if tab == nil {
		writeError(w, billing.NewNotFoundError("tab", req.TabID))
		return
	}

	payment := billing.Payment{
		ID:        billing.PaymentID(uuid.NewString()),
		TabID:     billing.TabID(req.TabID),
		Amount:    amount,
		Currency:  req.Currency,
		Status:    status,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SavePayment(r.Context(), payment); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse(payment))
}

func (h *Handler) AllocatePayment(w http.ResponseWriter, r *http.Request) {
	paymentID := billing.PaymentID(chi.URLParam(r, "id"))

	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, billing.NewValidationError("body", "invalid JSON"))
		return
	}
	method, err := allocation.ParseMethod(req.Method)
	if err != nil {
		writeError(w, err)
		return
	}
	groupIDs := make([]billing.GroupID, 0, len(req.BillingGroupIDs))
	for _, id := range req.BillingGroupIDs {
		groupIDs = append(groupIDs, billing.GroupID(id))
	}

	outcome, err := h.Engine.Allocate(r.Context(), paymentID, groupIDs, method)
	observeAllocation(string(method), err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocateResponse(outcome))
}

func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Reverse(r.Context(), billing.PaymentID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) TabAllocations(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.TabAllocations(r.Context(), billing.TabID(chi.URLParam(r, "tabID")))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]TabAllocationsResponse, 0, len(entries))
	for _, entry := range entries {
		out := TabAllocationsResponse{
			PaymentID: string(entry.PaymentID),
			Method:    entry.Method,
			Reversed:  entry.Reversed,
		}
		for _, share := range entry.Allocations {
			out.Allocations = append(out.Allocations, AllocationShareResponse{
				BillingGroupID: string(share.GroupID),
				Amount:         share.Amount.String(),
			})
		}
		resp = append(resp, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// AUDIT
// =============================================================================

func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   r.URL.Query().Get("entity_id"),
		Action:     r.URL.Query().Get("action"),
		UserID:     r.URL.Query().Get("user_id"),
		Search:     r.URL.Query().Get("search"),
	}
	if v := r.URL.Query().Get("date_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, billing.NewValidationError("date_from", "must be RFC3339"))
			return
		}
		q.From = &t
	}
	if v := r.URL.Query().Get("date_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, billing.NewValidationError("date_to", "must be RFC3339"))
			return
		}
		q.To = &t
	}
	q.Limit = intParam(r, "limit", 50)
	q.Offset = intParam(r, "offset", 0)

	if r.URL.Query().Get("export") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-trail.csv"`)
		if err := h.Recorder.ExportCSV(r.Context(), w, q); err != nil {
			h.Logger.Error("audit export failed", "error", err)
		}
		return
	}

	result, err := h.Recorder.QueryTrail(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := AuditTrailResponse{
		Events:     make([]AuditEventResponse, 0, len(result.Events)),
		TotalCount: result.TotalCount,
		HasMore:    result.HasMore,
	}
	for _, e := range result.Events {
		resp.Events = append(resp.Events, AuditEventResponse{
			ID:         e.ID,
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Action:     e.Action,
			UserID:     e.UserID,
			UserEmail:  e.UserEmail,
			Changes:    e.Changes,
			Metadata:   e.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func ruleFromRequest(req SaveRuleRequest) (rules.Rule, error) {
	conditions := rules.Conditions{
		Categories: req.Conditions.Category,
		TimeStart:  req.Conditions.TimeStart,
		TimeEnd:    req.Conditions.TimeEnd,
		Metadata:   req.Conditions.Metadata,
	}
	if req.Conditions.AmountMin != "" {
		m, err := billing.ParseMoney(req.Conditions.AmountMin)
		if err != nil {
			return rules.Rule{}, billing.NewValidationError("conditions.amount_min", "must be a decimal amount")
		}
		conditions.AmountMin = &m
	}
	if req.Conditions.AmountMax != "" {
		m, err := billing.ParseMoney(req.Conditions.AmountMax)
		if err != nil {
			return rules.Rule{}, billing.NewValidationError("conditions.amount_max", "must be a decimal amount")
		}
		conditions.AmountMax = &m
	}
	for _, d := range req.Conditions.DayOfWeek {
		conditions.DaysOfWeek = append(conditions.DaysOfWeek, time.Weekday(d))
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	return rules.Rule{
		GroupID:    billing.GroupID(req.BillingGroupID),
		Name:       req.Name,
		Priority:   req.Priority,
		Action:     rules.Action(req.Action),
		Conditions: conditions,
		IsActive:   isActive,
	}, nil
}

func tabResponse(tab billing.Tab) TabResponse {
	return TabResponse{ID: string(tab.ID), OrgID: tab.OrgID, Name: tab.Name, Currency: tab.Currency}
}

func lineItemResponse(item billing.LineItem) LineItemResponse {
	return LineItemResponse{
		ID:              string(item.ID),
		TabID:           string(item.TabID),
		Description:     item.Description,
		Category:        item.Category,
		Quantity:        item.Quantity.String(),
		UnitPrice:       item.UnitPrice.String(),
		TotalPrice:      item.TotalPrice.String(),
		BillingGroupID:  string(item.GroupID),
		PendingApproval: item.PendingApproval,
		Metadata:        item.Metadata,
	}
}

func groupResponse(g billing.BillingGroup) BillingGroupResponse {
	resp := BillingGroupResponse{
		ID:             string(g.ID),
		TabID:          string(g.TabID),
		Name:           g.Name,
		GroupType:      string(g.Type),
		Status:         string(g.Status),
		CurrentBalance: g.CurrentBalance.String(),
	}
	if g.Type == billing.GroupDeposit {
		resp.DepositAmount = g.DepositAmount.String()
		resp.DepositApplied = g.DepositApplied.String()
	}
	if g.Type == billing.GroupCredit {
		resp.CreditLimit = g.CreditLimit.String()
	}
	return resp
}

func ruleResponse(rule rules.Rule) RuleResponse {
	conditions := ConditionsRequest{
		Category:  rule.Conditions.Categories,
		TimeStart: rule.Conditions.TimeStart,
		TimeEnd:   rule.Conditions.TimeEnd,
		Metadata:  rule.Conditions.Metadata,
	}
	if rule.Conditions.AmountMin != nil {
		conditions.AmountMin = rule.Conditions.AmountMin.String()
	}
	if rule.Conditions.AmountMax != nil {
		conditions.AmountMax = rule.Conditions.AmountMax.String()
	}
	for _, d := range rule.Conditions.DaysOfWeek {
		conditions.DayOfWeek = append(conditions.DayOfWeek, int(d))
	}
	return RuleResponse{
		ID:             string(rule.ID),
		TabID:          string(rule.TabID),
		BillingGroupID: string(rule.GroupID),
		Name:           rule.Name,
		Priority:       rule.Priority,
		Action:         string(rule.Action),
		Conditions:     conditions,
		IsActive:       rule.IsActive,
	}
}

func paymentResponse(p billing.Payment) PaymentResponse {
	return PaymentResponse{
		ID:               string(p.ID),
		TabID:            string(p.TabID),
		Amount:           p.Amount.String(),
		Currency:         p.Currency,
		Status:           string(p.Status),
		AllocationMethod: p.AllocationMethod,
	}
}

func allocateResponse(outcome *allocation.Outcome) AllocateResponse {
	resp := AllocateResponse{
		PaymentID:   string(outcome.PaymentID),
		Method:      string(outcome.Method),
		Unallocated: outcome.Unallocated.String(),
	}
	for _, share := range outcome.Allocations {
		resp.Allocations = append(resp.Allocations, AllocationShareResponse{
			BillingGroupID: string(share.GroupID),
			Amount:         share.Amount.String(),
		})
	}
	for _, g := range outcome.UpdatedGroups {
		resp.UpdatedGroups = append(resp.UpdatedGroups, groupResponse(g))
	}
	return resp
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case billing.IsValidation(err):
		status = http.StatusBadRequest
	case billing.IsNotFound(err):
		status = http.StatusNotFound
	case billing.IsBusinessRule(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
