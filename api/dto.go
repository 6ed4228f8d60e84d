/*
dto.go - Request/response data structures for the REST API

Money amounts are serialized as fixed two-decimal strings to avoid any
float round-tripping on the wire.
*/
package api

// =============================================================================
// REQUESTS
// =============================================================================

type CreateTabRequest struct {
	OrgID    string `json:"org_id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type CreateLineItemRequest struct {
	Description string            `json:"description"`
	Category    string            `json:"category,omitempty"`
	Quantity    string            `json:"quantity"`
	UnitPrice   string            `json:"unit_price"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type AssignLineItemRequest struct {
	BillingGroupID string `json:"billing_group_id"`
}

type CreateBillingGroupRequest struct {
	Name          string `json:"name"`
	GroupType     string `json:"group_type"`
	DepositAmount string `json:"deposit_amount,omitempty"`
	CreditLimit   string `json:"credit_limit,omitempty"`
}

type ConditionsRequest struct {
	Category  []string          `json:"category,omitempty"`
	AmountMin string            `json:"amount_min,omitempty"`
	AmountMax string            `json:"amount_max,omitempty"`
	TimeStart string            `json:"time_start,omitempty"`
	TimeEnd   string            `json:"time_end,omitempty"`
	DayOfWeek []int             `json:"day_of_week,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type SaveRuleRequest struct {
	BillingGroupID string            `json:"billing_group_id,omitempty"`
	Name           string            `json:"name"`
	Priority       int               `json:"priority"`
	Action         string            `json:"action"`
	Conditions     ConditionsRequest `json:"conditions"`
	IsActive       *bool             `json:"is_active,omitempty"`
}

type CreatePaymentRequest struct {
	TabID    string            `json:"tab_id"`
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type AllocateRequest struct {
	BillingGroupIDs []string `json:"billing_group_ids"`
	Method          string   `json:"method"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type TabResponse struct {
	ID       string `json:"id"`
	OrgID    string `json:"org_id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type LineItemResponse struct {
	ID              string            `json:"id"`
	TabID           string            `json:"tab_id"`
	Description     string            `json:"description"`
	Category        string            `json:"category,omitempty"`
	Quantity        string            `json:"quantity"`
	UnitPrice       string            `json:"unit_price"`
	TotalPrice      string            `json:"total_price"`
	BillingGroupID  string            `json:"billing_group_id,omitempty"`
	PendingApproval bool              `json:"pending_approval"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	// RuleDecision reports what the rule engine did on creation, if anything.
	RuleDecision *RuleDecisionResponse `json:"rule_decision,omitempty"`
}

type RuleDecisionResponse struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Action   string `json:"action"`
}

type BillingGroupResponse struct {
	ID             string `json:"id"`
	TabID          string `json:"tab_id"`
	Name           string `json:"name"`
	GroupType      string `json:"group_type"`
	Status         string `json:"status"`
	CurrentBalance string `json:"current_balance"`
	DepositAmount  string `json:"deposit_amount,omitempty"`
	DepositApplied string `json:"deposit_applied,omitempty"`
	CreditLimit    string `json:"credit_limit,omitempty"`
}

type RuleResponse struct {
	ID             string            `json:"id"`
	TabID          string            `json:"tab_id"`
	BillingGroupID string            `json:"billing_group_id,omitempty"`
	Name           string            `json:"name"`
	Priority       int               `json:"priority"`
	Action         string            `json:"action"`
	Conditions     ConditionsRequest `json:"conditions"`
	IsActive       bool              `json:"is_active"`
}

type PaymentResponse struct {
	ID               string `json:"id"`
	TabID            string `json:"tab_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	AllocationMethod string `json:"allocation_method,omitempty"`
}

type AllocationShareResponse struct {
	BillingGroupID string `json:"billing_group_id"`
	Amount         string `json:"amount"`
}

type AllocateResponse struct {
	PaymentID     string                    `json:"payment_id"`
	Method        string                    `json:"method"`
	Allocations   []AllocationShareResponse `json:"allocations"`
	UpdatedGroups []BillingGroupResponse    `json:"updated_groups"`
	Unallocated   string                    `json:"unallocated"`
}

type TabAllocationsResponse struct {
	PaymentID   string                    `json:"payment_id"`
	Method      string                    `json:"allocation_method"`
	Allocations []AllocationShareResponse `json:"allocations"`
	Reversed    bool                      `json:"reversed"`
}

type AuditEventResponse struct {
	ID         string            `json:"id"`
	Timestamp  string            `json:"timestamp"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Action     string            `json:"action"`
	UserID     string            `json:"user_id,omitempty"`
	UserEmail  string            `json:"user_email,omitempty"`
	Changes    map[string]string `json:"changes,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type AuditTrailResponse struct {
	Events     []AuditEventResponse `json:"events"`
	TotalCount int                  `json:"total_count"`
	HasMore    bool                 `json:"has_more"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
