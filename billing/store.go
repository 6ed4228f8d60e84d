/*
store.go - Persistence interfaces for the billing domain

PURPOSE:
  Defines the interface between the domain engines and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   CRUD for tabs, line items, groups, payments, rules, allocations
  TxStore: Transactional wrapper with all-or-nothing semantics

APPEND-ONLY ALLOCATIONS:
  payment_allocations has no update or delete path. Reversals append
  reversal rows; originals are never touched. This keeps allocation
  history reconstructable for audit.

TRANSACTION BOUNDARY:
  Every allocation and rule-application runs inside WithTx. Shared state
  (BillingGroup.CurrentBalance) is only read-then-written inside the
  transaction that computed it.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - billing/store: in-memory for testing/dev
*/
package billing

import "context"

// Store handles persistence for the billing domain.
type Store interface {
	// Tabs
	GetTab(ctx context.Context, id TabID) (*Tab, error)
	SaveTab(ctx context.Context, tab Tab) error

	// Line items
	GetLineItem(ctx context.Context, id LineItemID) (*LineItem, error)
	SaveLineItem(ctx context.Context, item LineItem) error
	LineItemsByTab(ctx context.Context, tabID TabID) ([]LineItem, error)
	LineItemsByGroup(ctx context.Context, groupID GroupID) ([]LineItem, error)

	// Billing groups
	GetGroup(ctx context.Context, id GroupID) (*BillingGroup, error)
	SaveGroup(ctx context.Context, group BillingGroup) error
	GroupsByTab(ctx context.Context, tabID TabID) ([]BillingGroup, error)

	// Payments
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	SavePayment(ctx context.Context, payment Payment) error
	PaymentsByTab(ctx context.Context, tabID TabID) ([]Payment, error)

	// Allocations (append-only)
	AppendAllocations(ctx context.Context, allocations []Allocation) error
	AllocationsByPayment(ctx context.Context, paymentID PaymentID) ([]Allocation, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back and the error is returned unchanged.
	WithTx(ctx context.Context, fn func(Store) error) error
}
