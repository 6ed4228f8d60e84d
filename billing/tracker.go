/*
tracker.go - Billing group balance bookkeeping

PURPOSE:
  Keeps BillingGroup.CurrentBalance in sync as line items are assigned
  and unassigned, and as payment allocations credit the group. This is
  the only code that mutates group balances.

INVARIANTS:
  1. CurrentBalance >= 0. A subtraction that would go below zero is
     clamped to zero and logged as a consistency warning.
  2. Credit groups: assignment that would push the balance above
     CreditLimit is rejected BEFORE any mutation.
  3. Deposit groups additionally track DepositApplied, capped at
     DepositAmount.

TRANSACTION DISCIPLINE:
  All methods take the Store they should write through. Callers pass the
  transactional view obtained from TxStore.WithTx so every
  read-compute-write on a balance happens inside one transaction.
*/
package billing

import (
	"context"
	"log/slog"
)

// BalanceTracker recomputes group balances on assignment changes and
// payment allocation. It holds no state of its own besides a logger.
type BalanceTracker struct {
	logger *slog.Logger
}

func NewBalanceTracker(logger *slog.Logger) *BalanceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceTracker{logger: logger}
}

// Assign moves a line item into a billing group and adds its total to
// the group balance. An item already assigned elsewhere is unassigned
// first so balances stay consistent.
func (t *BalanceTracker) Assign(ctx context.Context, store Store, itemID LineItemID, groupID GroupID) error {
	item, err := store.GetLineItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return NewNotFoundError("line item", string(itemID))
	}

	group, err := store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return NewNotFoundError("billing group", string(groupID))
	}
	if !group.IsActive() {
		return NewBusinessRuleError("billing group is closed")
	}
	if item.GroupID == groupID {
		return nil
	}
	if item.GroupID != "" {
		if err := t.Unassign(ctx, store, itemID); err != nil {
			return err
		}
		item, err = store.GetLineItem(ctx, itemID)
		if err != nil {
			return err
		}
	}

	// Credit limit check happens before any mutation is written.
	if group.Type == GroupCredit && group.CreditLimit.IsPositive() {
		if group.CurrentBalance.Add(item.TotalPrice).GreaterThan(group.CreditLimit) {
			return &CreditLimitError{
				GroupID:   group.ID,
				Limit:     group.CreditLimit,
				Balance:   group.CurrentBalance,
				Requested: item.TotalPrice,
			}
		}
	}

	group.CurrentBalance = group.CurrentBalance.Add(item.TotalPrice)
	if err := store.SaveGroup(ctx, *group); err != nil {
		return err
	}

	item.GroupID = groupID
	item.PendingApproval = false
	return store.SaveLineItem(ctx, *item)
}

// Unassign removes a line item from its group and subtracts its total
// from the group balance, floored at zero.
func (t *BalanceTracker) Unassign(ctx context.Context, store Store, itemID LineItemID) error {
	item, err := store.GetLineItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return NewNotFoundError("line item", string(itemID))
	}
	if item.GroupID == "" {
		return nil
	}

	group, err := store.GetGroup(ctx, item.GroupID)
	if err != nil {
		return err
	}
	if group != nil {
		next := group.CurrentBalance.Sub(item.TotalPrice)
		if next.IsNegative() {
			// Should not happen if assignment bookkeeping is correct.
			t.logger.Warn("billing group balance would go negative, clamping to zero",
				"group_id", group.ID,
				"balance", group.CurrentBalance.String(),
				"item_total", item.TotalPrice.String(),
			)
			next = ZeroMoney()
		}
		group.CurrentBalance = next
		if err := store.SaveGroup(ctx, *group); err != nil {
			return err
		}
	}

	item.GroupID = ""
	return store.SaveLineItem(ctx, *item)
}

// CloseGroup soft-deletes a group: status becomes closed and all of its
// line items become unassigned.
func (t *BalanceTracker) CloseGroup(ctx context.Context, store Store, groupID GroupID) error {
	group, err := store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return NewNotFoundError("billing group", string(groupID))
	}

	items, err := store.LineItemsByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := t.Unassign(ctx, store, item.ID); err != nil {
			return err
		}
	}

	group, err = store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	group.Status = GroupClosed
	return store.SaveGroup(ctx, *group)
}

// Credit decrements a group's balance by an allocated payment amount,
// floored at zero. Deposit groups also advance DepositApplied.
func (t *BalanceTracker) Credit(ctx context.Context, store Store, group *BillingGroup, amount Money) error {
	next := group.CurrentBalance.Sub(amount)
	if next.IsNegative() {
		t.logger.Warn("allocation exceeds group balance, clamping to zero",
			"group_id", group.ID,
			"balance", group.CurrentBalance.String(),
			"amount", amount.String(),
		)
		next = ZeroMoney()
	}
	group.CurrentBalance = next

	if group.Type == GroupDeposit {
		applied := group.DepositApplied.Add(amount)
		if applied.GreaterThan(group.DepositAmount) {
			applied = group.DepositAmount
		}
		group.DepositApplied = applied
	}

	return store.SaveGroup(ctx, *group)
}

// Restore adds a reversed allocation amount back onto the group balance.
func (t *BalanceTracker) Restore(ctx context.Context, store Store, group *BillingGroup, amount Money) error {
	group.CurrentBalance = group.CurrentBalance.Add(amount)

	if group.Type == GroupDeposit {
		group.DepositApplied = group.DepositApplied.Sub(amount).ClampZero()
	}

	return store.SaveGroup(ctx, *group)
}
