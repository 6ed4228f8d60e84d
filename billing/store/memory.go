// Package store provides an in-memory Store implementation (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tab-engine/billing"
	"github.com/warp/tab-engine/rules"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of billing.TxStore + rules.Store
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	tabs        map[billing.TabID]billing.Tab
	items       map[billing.LineItemID]billing.LineItem
	groups      map[billing.GroupID]billing.BillingGroup
	payments    map[billing.PaymentID]billing.Payment
	allocations []billing.Allocation
	rules       map[billing.RuleID]rules.Rule
}

// Compile-time interface checks.
var (
	_ billing.TxStore = (*Memory)(nil)
	_ rules.Store     = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		tabs:     make(map[billing.TabID]billing.Tab),
		items:    make(map[billing.LineItemID]billing.LineItem),
		groups:   make(map[billing.GroupID]billing.BillingGroup),
		payments: make(map[billing.PaymentID]billing.Payment),
		rules:    make(map[billing.RuleID]rules.Rule),
	}
}

// -----------------------------------------------------------------------------
// Tabs

func (m *Memory) GetTab(_ context.Context, id billing.TabID) (*billing.Tab, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tab, ok := m.tabs[id]; ok {
		t := tab
		return &t, nil
	}
	return nil, nil
}

func (m *Memory) SaveTab(_ context.Context, tab billing.Tab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[tab.ID] = tab
	return nil
}

// -----------------------------------------------------------------------------
// Line items

func (m *Memory) GetLineItem(_ context.Context, id billing.LineItemID) (*billing.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLineItemLocked(id), nil
}

func (m *Memory) getLineItemLocked(id billing.LineItemID) *billing.LineItem {
	if item, ok := m.items[id]; ok {
		i := item
		return &i
	}
	return nil
}

func (m *Memory) SaveLineItem(_ context.Context, item billing.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *Memory) LineItemsByTab(_ context.Context, tabID billing.TabID) ([]billing.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []billing.LineItem
	for _, item := range m.items {
		if item.TabID == tabID {
			result = append(result, item)
		}
	}
	sortItems(result)
	return result, nil
}

func (m *Memory) LineItemsByGroup(_ context.Context, groupID billing.GroupID) ([]billing.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lineItemsByGroupLocked(groupID), nil
}

func (m *Memory) lineItemsByGroupLocked(groupID billing.GroupID) []billing.LineItem {
	var result []billing.LineItem
	for _, item := range m.items {
		if item.GroupID == groupID {
			result = append(result, item)
		}
	}
	sortItems(result)
	return result
}

func sortItems(items []billing.LineItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

// -----------------------------------------------------------------------------
// Billing groups

func (m *Memory) GetGroup(_ context.Context, id billing.GroupID) (*billing.BillingGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getGroupLocked(id), nil
}

func (m *Memory) getGroupLocked(id billing.GroupID) *billing.BillingGroup {
	if group, ok := m.groups[id]; ok {
		g := group
		return &g
	}
	return nil
}

func (m *Memory) SaveGroup(_ context.Context, group billing.BillingGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = group
	return nil
}

func (m *Memory) GroupsByTab(_ context.Context, tabID billing.TabID) ([]billing.BillingGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groupsByTabLocked(tabID), nil
}

func (m *Memory) groupsByTabLocked(tabID billing.TabID) []billing.BillingGroup {
	var result []billing.BillingGroup
	for _, group := range m.groups {
		if group.TabID == tabID {
			result = append(result, group)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// -----------------------------------------------------------------------------
// Payments

func (m *Memory) GetPayment(_ context.Context, id billing.PaymentID) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPaymentLocked(id), nil
}

func (m *Memory) getPaymentLocked(id billing.PaymentID) *billing.Payment {
	if p, ok := m.payments[id]; ok {
		pp := p
		return &pp
	}
	return nil
}

func (m *Memory) SavePayment(_ context.Context, payment billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.ID] = payment
	return nil
}

func (m *Memory) PaymentsByTab(_ context.Context, tabID billing.TabID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentsByTabLocked(tabID), nil
}

func (m *Memory) paymentsByTabLocked(tabID billing.TabID) []billing.Payment {
	var result []billing.Payment
	for _, p := range m.payments {
		if p.TabID == tabID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// -----------------------------------------------------------------------------
// Allocations (append-only)

func (m *Memory) AppendAllocations(_ context.Context, allocations []billing.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations = append(m.allocations, allocations...)
	return nil
}

func (m *Memory) AllocationsByPayment(_ context.Context, paymentID billing.PaymentID) ([]billing.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsByPaymentLocked(paymentID), nil
}

func (m *Memory) allocationsByPaymentLocked(paymentID billing.PaymentID) []billing.Allocation {
	var result []billing.Allocation
	for _, a := range m.allocations {
		if a.PaymentID == paymentID {
			result = append(result, a)
		}
	}
	return result
}

// -----------------------------------------------------------------------------
// Rules (rules.Store)

func (m *Memory) GetRule(_ context.Context, id billing.RuleID) (*rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rules[id]; ok {
		rr := r
		return &rr, nil
	}
	return nil, nil
}

func (m *Memory) SaveRule(_ context.Context, rule rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, id billing.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, id)
	return nil
}

func (m *Memory) RulesByTab(_ context.Context, tabID billing.TabID) ([]rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []rules.Rule
	for _, r := range m.rules {
		if r.TabID == tabID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot restored on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	tabs        map[billing.TabID]billing.Tab
	items       map[billing.LineItemID]billing.LineItem
	groups      map[billing.GroupID]billing.BillingGroup
	payments    map[billing.PaymentID]billing.Payment
	allocations []billing.Allocation
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		tabs:        make(map[billing.TabID]billing.Tab, len(m.tabs)),
		items:       make(map[billing.LineItemID]billing.LineItem, len(m.items)),
		groups:      make(map[billing.GroupID]billing.BillingGroup, len(m.groups)),
		payments:    make(map[billing.PaymentID]billing.Payment, len(m.payments)),
		allocations: append([]billing.Allocation{}, m.allocations...),
	}
	for k, v := range m.tabs {
		s.tabs[k] = v
	}
	for k, v := range m.items {
		s.items[k] = v
	}
	for k, v := range m.groups {
		s.groups[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.tabs = s.tabs
	m.items = s.items
	m.groups = s.groups
	m.payments = s.payments
	m.allocations = s.allocations
}

// txView gives fn direct access to the locked parent state.
type txView struct {
	parent *Memory
}

func (tv *txView) GetTab(_ context.Context, id billing.TabID) (*billing.Tab, error) {
	if tab, ok := tv.parent.tabs[id]; ok {
		t := tab
		return &t, nil
	}
	return nil, nil
}

func (tv *txView) SaveTab(_ context.Context, tab billing.Tab) error {
	tv.parent.tabs[tab.ID] = tab
	return nil
}

func (tv *txView) GetLineItem(_ context.Context, id billing.LineItemID) (*billing.LineItem, error) {
	return tv.parent.getLineItemLocked(id), nil
}

func (tv *txView) SaveLineItem(_ context.Context, item billing.LineItem) error {
	tv.parent.items[item.ID] = item
	return nil
}

func (tv *txView) LineItemsByTab(_ context.Context, tabID billing.TabID) ([]billing.LineItem, error) {
	var result []billing.LineItem
	for _, item := range tv.parent.items {
		if item.TabID == tabID {
			result = append(result, item)
		}
	}
	sortItems(result)
	return result, nil
}

func (tv *txView) LineItemsByGroup(_ context.Context, groupID billing.GroupID) ([]billing.LineItem, error) {
	return tv.parent.lineItemsByGroupLocked(groupID), nil
}

func (tv *txView) GetGroup(_ context.Context, id billing.GroupID) (*billing.BillingGroup, error) {
	return tv.parent.getGroupLocked(id), nil
}

func (tv *txView) SaveGroup(_ context.Context, group billing.BillingGroup) error {
	tv.parent.groups[group.ID] = group
	return nil
}

func (tv *txView) GroupsByTab(_ context.Context, tabID billing.TabID) ([]billing.BillingGroup, error) {
	return tv.parent.groupsByTabLocked(tabID), nil
}

func (tv *txView) GetPayment(_ context.Context, id billing.PaymentID) (*billing.Payment, error) {
	return tv.parent.getPaymentLocked(id), nil
}

func (tv *txView) SavePayment(_ context.Context, payment billing.Payment) error {
	tv.parent.payments[payment.ID] = payment
	return nil
}

func (tv *txView) PaymentsByTab(_ context.Context, tabID billing.TabID) ([]billing.Payment, error) {
	return tv.parent.paymentsByTabLocked(tabID), nil
}

func (tv *txView) AppendAllocations(_ context.Context, allocations []billing.Allocation) error {
	tv.parent.allocations = append(tv.parent.allocations, allocations...)
	return nil
}

func (tv *txView) AllocationsByPayment(_ context.Context, paymentID billing.PaymentID) ([]billing.Allocation, error) {
	return tv.parent.allocationsByPaymentLocked(paymentID), nil
}
