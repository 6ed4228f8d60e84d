/*
Package billing provides the core tab billing domain.

PURPOSE:
  This package contains the domain types and algorithms shared by the
  rule engine and the payment allocation engine: exact decimal money,
  tabs, line items, billing groups, payments, and allocation records.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A currency amount backed by decimal.Decimal (never float64)
  - Tab: A running customer balance a merchant tracks
  - LineItem: One billable charge on a tab
  - BillingGroup: A sub-ledger within a tab representing one payer
  - Payment: A received payment against a tab
  - Allocation: A credit of part of a payment to one billing group

DESIGN PRINCIPLES:
  1. Precision: decimal arithmetic with 2-decimal rounding, no binary floats
  2. Immutability: allocations are never deleted, only reversed
  3. Type Safety: strong ID types prevent mixing tab/group/payment IDs
  4. Auditability: every balance mutation is recorded by the audit package

SEE ALSO:
  - errors.go: Typed error taxonomy (validation/not-found/business-rule)
  - tracker.go: Billing group balance bookkeeping
  - store.go: Persistence interfaces
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount with exact decimal arithmetic
// =============================================================================

// Money is a currency amount. All money values in the engine are held to
// two decimal places; intermediate math stays in decimal space.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value).Round(2)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

// NewMoneyFromCents builds a Money from an integer cent count.
func NewMoneyFromCents(cents int64) Money {
	return Money{Value: decimal.New(cents, -2)}
}

func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d.Round(2)}, nil
}

// MustParseMoney is for literals in tests and fixtures.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return Money{}
	}
	return m
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money           { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money           { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s)} }
func (m Money) Div(s decimal.Decimal) Money { return Money{Value: m.Value.Div(s)} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg()} }
func (m Money) Round2() Money               { return Money{Value: m.Value.Round(2)} }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool          { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool    { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool       { return m.Value.LessThan(b.Value) }

func (m Money) Min(b Money) Money {
	if m.LessThan(b) {
		return m
	}
	return b
}

// ClampZero floors a money value at zero.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return ZeroMoney()
	}
	return m
}

func (m Money) String() string { return m.Value.StringFixed(2) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TabID string
type LineItemID string
type GroupID string
type PaymentID string
type RuleID string
type AllocationID string

// =============================================================================
// TAB & LINE ITEMS
// =============================================================================

type Tab struct {
	ID        TabID
	OrgID     string
	Name      string
	Currency  string
	CreatedAt time.Time
}

// LineItem is one billable charge on a tab. TotalPrice is always
// Quantity * UnitPrice rounded to 2 decimal places.
type LineItem struct {
	ID          LineItemID
	TabID       TabID
	Description string
	Category    string
	Quantity    decimal.Decimal
	UnitPrice   Money
	TotalPrice  Money
	// GroupID is empty while the item is unassigned.
	GroupID GroupID
	// PendingApproval is set when a require_approval rule matched the
	// item; PendingGroupID remembers the group it would be assigned to.
	PendingApproval bool
	PendingGroupID  GroupID
	Metadata        map[string]string
	CreatedAt       time.Time
}

// ComputeTotal derives TotalPrice from quantity and unit price.
func (li *LineItem) ComputeTotal() {
	li.TotalPrice = li.UnitPrice.Mul(li.Quantity).Round2()
}

// =============================================================================
// BILLING GROUPS
// =============================================================================

type GroupType string

const (
	GroupStandard  GroupType = "standard"
	GroupCorporate GroupType = "corporate"
	GroupDeposit   GroupType = "deposit"
	GroupCredit    GroupType = "credit"
)

type GroupStatus string

const (
	GroupActive GroupStatus = "active"
	GroupClosed GroupStatus = "closed"
)

// BillingGroup is one payer's sub-ledger within a tab.
//
// INVARIANT: CurrentBalance >= 0. It equals the sum of TotalPrice of all
// line items currently assigned to the group, minus payment allocations
// credited to it.
type BillingGroup struct {
	ID             GroupID
	TabID          TabID
	Name           string
	Type           GroupType
	Status         GroupStatus
	CurrentBalance Money

	// Deposit groups only.
	DepositAmount  Money
	DepositApplied Money

	// Credit groups only. Zero means no limit configured.
	CreditLimit Money

	CreatedAt time.Time
}

func (g *BillingGroup) IsActive() bool { return g.Status == GroupActive }

// =============================================================================
// PAYMENTS & ALLOCATIONS
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is immutable once succeeded, except for allocation bookkeeping
// (AllocationMethod) appended by the allocation engine.
type Payment struct {
	ID       PaymentID
	TabID    TabID
	Amount   Money
	Currency string
	Status   PaymentStatus

	// AllocationMethod records how the payment was split, once allocated.
	AllocationMethod string
	Metadata         map[string]string
	CreatedAt        time.Time
}

// AllocationKind distinguishes original credits from their reversals.
// Reversal never deletes the original row; it appends a reversal row so
// the full history stays reconstructable.
type AllocationKind string

const (
	AllocationOriginal AllocationKind = "original"
	AllocationReversal AllocationKind = "reversal"
)

// Allocation credits part of a payment to one billing group.
//
// INVARIANT: for a given payment, the sum of original allocation amounts
// never exceeds the payment amount, and each amount never exceeded the
// group's balance at allocation time.
type Allocation struct {
	ID        AllocationID
	PaymentID PaymentID
	GroupID   GroupID
	Amount    Money
	Method    string
	Kind      AllocationKind
	CreatedAt time.Time
}
