package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tab-engine/allocation"
	"github.com/warp/tab-engine/api"
	"github.com/warp/tab-engine/audit"
	"github.com/warp/tab-engine/billing"
	"github.com/warp/tab-engine/billing/store"
	"github.com/warp/tab-engine/rules"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiFixture struct {
	router *chi.Mux
	store  *store.Memory
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mem := store.NewMemory()
	sink := audit.NewMemorySink()
	clock := billing.FixedClock{At: time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)}
	tracker := billing.NewBalanceTracker(nil)
	recorder := audit.NewRecorder(sink, clock)
	applier := rules.NewApplier(mem, mem, tracker, recorder, nil, clock, nil)
	engine := allocation.NewEngine(mem, tracker, recorder, clock, nil)

	handler := api.NewHandler(mem, mem, tracker, applier, engine, recorder, nil)
	return &apiFixture{router: api.NewRouter(handler), store: mem}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func (f *apiFixture) createTab(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/tabs", api.CreateTabRequest{Name: "Table 12", Currency: "USD"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.TabResponse](t, rec).ID
}

func (f *apiFixture) createGroup(t *testing.T, tabID string, req api.CreateBillingGroupRequest) api.BillingGroupResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/billing-groups", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.BillingGroupResponse](t, rec)
}

func (f *apiFixture) createItem(t *testing.T, tabID string, req api.CreateLineItemRequest) (api.LineItemResponse, *httptest.ResponseRecorder) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/line-items", req)
	if rec.Code != http.StatusCreated {
		return api.LineItemResponse{}, rec
	}
	return decode[api.LineItemResponse](t, rec), rec
}

func (f *apiFixture) createPayment(t *testing.T, tabID, amount string) api.PaymentResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/payments", api.CreatePaymentRequest{
		TabID: tabID, Amount: amount, Currency: "USD", Status: "succeeded",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.PaymentResponse](t, rec)
}

// =============================================================================
// TABS & LINE ITEMS
// =============================================================================

func TestAPI_CreateAndGetTab(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)

	rec := f.do(t, http.MethodGet, "/api/tabs/"+tabID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Table 12", decode[api.TabResponse](t, rec).Name)

	rec = f.do(t, http.MethodGet, "/api/tabs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreateTab_MissingName(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/tabs", api.CreateTabRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateLineItem_ComputesTotal(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)

	item, rec := f.createItem(t, tabID, api.CreateLineItemRequest{
		Description: "Negroni", Category: "alcohol",
		Quantity: "2", UnitPrice: "14.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "28.00", item.TotalPrice)
	assert.Nil(t, item.RuleDecision, "no rules configured")
}

func TestAPI_CreateLineItem_InvalidInput(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)

	_, rec := f.createItem(t, tabID, api.CreateLineItemRequest{
		Description: "x", Quantity: "-1", UnitPrice: "5.00",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, rec = f.createItem(t, tabID, api.CreateLineItemRequest{
		Description: "x", Quantity: "1", UnitPrice: "not-money",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateLineItem_RuleAutoAssigns(t *testing.T) {
	// GIVEN: An auto_assign rule for alcohol
	// WHEN: Posting an alcohol line item
	// THEN: The response reports the rule decision and the assignment

	f := newAPIFixture(t)
	tabID := f.createTab(t)
	group := f.createGroup(t, tabID, api.CreateBillingGroupRequest{Name: "Host"})

	rec := f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/rules", api.SaveRuleRequest{
		BillingGroupID: group.ID, Name: "Alcohol to host", Priority: 1,
		Action:     "auto_assign",
		Conditions: api.ConditionsRequest{Category: []string{"alcohol"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	item, rec := f.createItem(t, tabID, api.CreateLineItemRequest{
		Description: "Negroni", Category: "alcohol", Quantity: "1", UnitPrice: "14.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, group.ID, item.BillingGroupID)
	require.NotNil(t, item.RuleDecision)
	assert.Equal(t, "auto_assign", item.RuleDecision.Action)
}

func TestAPI_CreateLineItem_RejectRuleBlocks(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)

	rec := f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/rules", api.SaveRuleRequest{
		Name: "No tobacco", Priority: 1, Action: "reject",
		Conditions: api.ConditionsRequest{Category: []string{"tobacco"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	_, rec = f.createItem(t, tabID, api.CreateLineItemRequest{
		Description: "Cigar", Category: "tobacco", Quantity: "1", UnitPrice: "20.00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Error, "rejected by rule")
}

// =============================================================================
// ASSIGNMENT LIFECYCLE
// =============================================================================

func TestAPI_AssignUnassignLineItem(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)
	group := f.createGroup(t, tabID, api.CreateBillingGroupRequest{Name: "Shared"})
	item, _ := f.createItem(t, tabID, api.CreateLineItemRequest{
		Description: "Pizza", Quantity: "1", UnitPrice: "18.00",
	})

	rec := f.do(t, http.MethodPost, "/api/line-items/"+item.ID+"/assign",
		api.AssignLineItemRequest{BillingGroupID: group.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, group.ID, decode[api.LineItemResponse](t, rec).BillingGroupID)

	rec = f.do(t, http.MethodGet, "/api/tabs/"+tabID+"/billing-groups", nil)
	groups := decode[[]api.BillingGroupResponse](t, rec)
	require.Len(t, groups, 1)
	assert.Equal(t, "18.00", groups[0].CurrentBalance)

	rec = f.do(t, http.MethodPost, "/api/line-items/"+item.ID+"/unassign", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[api.LineItemResponse](t, rec).BillingGroupID)
}

func TestAPI_AssignToMissingGroup_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)
	item, _ := f.createItem(t, tabID, api.CreateLineItemRequest{
		Description: "Pizza", Quantity: "1", UnitPrice: "18.00",
	})

	rec := f.do(t, http.MethodPost, "/api/line-items/"+item.ID+"/assign",
		api.AssignLineItemRequest{BillingGroupID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreditLimit_MapsToConflict(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)
	group := f.createGroup(t, tabID, api.CreateBillingGroupRequest{
		Name: "Corp card", GroupType: "credit", CreditLimit: "20.00",
	})
	item, _ := f.createItem(t, tabID, api.CreateLineItemRequest{
		Description: "Champagne", Quantity: "1", UnitPrice: "95.00",
	})

	rec := f.do(t, http.MethodPost, "/api/line-items/"+item.ID+"/assign",
		api.AssignLineItemRequest{BillingGroupID: group.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Error, "credit limit exceeded")
}

func TestAPI_CloseGroupCascades(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)
	group := f.createGroup(t, tabID, api.CreateBillingGroupRequest{Name: "Shared"})
	item, _ := f.createItem(t, tabID, api.CreateLineItemRequest{
		Description: "Pizza", Quantity: "1", UnitPrice: "18.00",
	})
	rec := f.do(t, http.MethodPost, "/api/line-items/"+item.ID+"/assign",
		api.AssignLineItemRequest{BillingGroupID: group.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/billing-groups/"+group.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tabs/"+tabID+"/line-items", nil)
	items := decode[[]api.LineItemResponse](t, rec)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].BillingGroupID)
}

// =============================================================================
// RULES CRUD
// =============================================================================

func TestAPI_RuleValidationErrors(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)

	// auto_assign without a target group.
	rec := f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/rules", api.SaveRuleRequest{
		Name: "dangling", Priority: 1, Action: "auto_assign",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown action.
	rec = f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/rules", api.SaveRuleRequest{
		BillingGroupID: "g1", Name: "weird", Priority: 1, Action: "explode",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed time window.
	rec = f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/rules", api.SaveRuleRequest{
		BillingGroupID: "g1", Name: "half window", Priority: 1, Action: "notify",
		Conditions: api.ConditionsRequest{TimeStart: "09:00"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_RuleUpdateAndDelete(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)
	group := f.createGroup(t, tabID, api.CreateBillingGroupRequest{Name: "Host"})

	rec := f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/rules", api.SaveRuleRequest{
		BillingGroupID: group.ID, Name: "v1", Priority: 5, Action: "notify",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rule := decode[api.RuleResponse](t, rec)

	rec = f.do(t, http.MethodPut, "/api/rules/"+rule.ID, api.SaveRuleRequest{
		BillingGroupID: group.ID, Name: "v2", Priority: 1, Action: "auto_assign",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[api.RuleResponse](t, rec)
	assert.Equal(t, "v2", updated.Name)
	assert.Equal(t, 1, updated.Priority)

	rec = f.do(t, http.MethodPut, "/api/rules/missing", api.SaveRuleRequest{
		BillingGroupID: group.ID, Name: "x", Action: "notify",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/rules/"+rule.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tabs/"+tabID+"/rules", nil)
	assert.Empty(t, decode[[]api.RuleResponse](t, rec))
}

// =============================================================================
// PAYMENTS & ALLOCATION
// =============================================================================

// seedSplitTab builds a tab with two groups holding 60.00 and 40.00.
func seedSplitTab(t *testing.T, f *apiFixture) (tabID string, g1, g2 string) {
	t.Helper()
	tabID = f.createTab(t)
	group1 := f.createGroup(t, tabID, api.CreateBillingGroupRequest{Name: "One"})
	group2 := f.createGroup(t, tabID, api.CreateBillingGroupRequest{Name: "Two"})

	for _, seed := range []struct {
		group string
		price string
	}{{group1.ID, "60.00"}, {group2.ID, "40.00"}} {
		item, rec := f.createItem(t, tabID, api.CreateLineItemRequest{
			Description: "charge", Quantity: "1", UnitPrice: seed.price,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = f.do(t, http.MethodPost, "/api/line-items/"+item.ID+"/assign",
			api.AssignLineItemRequest{BillingGroupID: seed.group})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	return tabID, group1.ID, group2.ID
}

func TestAPI_AllocateProportional(t *testing.T) {
	f := newAPIFixture(t)
	tabID, g1, g2 := seedSplitTab(t, f)
	payment := f.createPayment(t, tabID, "100.00")

	rec := f.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/allocate", api.AllocateRequest{
		BillingGroupIDs: []string{g1, g2}, Method: "proportional",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[api.AllocateResponse](t, rec)
	require.Len(t, resp.Allocations, 2)
	assert.Equal(t, "60.00", resp.Allocations[0].Amount)
	assert.Equal(t, "40.00", resp.Allocations[1].Amount)
	assert.Equal(t, "0.00", resp.Unallocated)
	for _, g := range resp.UpdatedGroups {
		assert.Equal(t, "0.00", g.CurrentBalance)
	}
}

func TestAPI_AllocateErrors(t *testing.T) {
	f := newAPIFixture(t)
	tabID, g1, g2 := seedSplitTab(t, f)
	payment := f.createPayment(t, tabID, "50.00")

	// Unknown method.
	rec := f.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/allocate", api.AllocateRequest{
		BillingGroupIDs: []string{g1}, Method: "waterfall",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown payment.
	rec = f.do(t, http.MethodPost, "/api/payments/ghost/allocate", api.AllocateRequest{
		BillingGroupIDs: []string{g1}, Method: "fifo",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Double allocation.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/payments/%s/allocate", payment.ID), api.AllocateRequest{
		BillingGroupIDs: []string{g1, g2}, Method: "fifo",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/payments/%s/allocate", payment.ID), api.AllocateRequest{
		BillingGroupIDs: []string{g1, g2}, Method: "fifo",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_ReverseAndListTabAllocations(t *testing.T) {
	f := newAPIFixture(t)
	tabID, g1, g2 := seedSplitTab(t, f)
	payment := f.createPayment(t, tabID, "100.00")

	rec := f.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/allocate", api.AllocateRequest{
		BillingGroupIDs: []string{g1, g2}, Method: "equal",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/reverse", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Reversing twice conflicts.
	rec = f.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/reverse", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tabs/"+tabID+"/allocations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]api.TabAllocationsResponse](t, rec)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Reversed)
	assert.Equal(t, "equal", entries[0].Method)
}

func TestAPI_ReverseUnallocatedPayment_Conflict(t *testing.T) {
	f := newAPIFixture(t)
	tabID := f.createTab(t)
	payment := f.createPayment(t, tabID, "10.00")

	rec := f.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/reverse", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Payment or allocations not found", decode[api.ErrorResponse](t, rec).Error)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAPI_AuditTrailQueryAndExport(t *testing.T) {
	f := newAPIFixture(t)
	tabID, g1, g2 := seedSplitTab(t, f)
	payment := f.createPayment(t, tabID, "100.00")
	rec := f.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/allocate", api.AllocateRequest{
		BillingGroupIDs: []string{g1, g2}, Method: "proportional",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/audit?entity_type=payment&action=allocated", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decode[api.AuditTrailResponse](t, rec)
	require.Len(t, trail.Events, 1)
	assert.Equal(t, payment.ID, trail.Events[0].EntityID)

	rec = f.do(t, http.MethodGet, "/api/audit?export=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	firstLine := strings.SplitN(rec.Body.String(), "\n", 2)[0]
	assert.Contains(t, firstLine, "Entity Type")
	assert.Contains(t, firstLine, "Changes (JSON)")
}

func TestAPI_AuditTrail_BadDateFilter(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/audit?date_from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestAPI_Healthz(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
