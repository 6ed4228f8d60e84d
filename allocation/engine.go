/*
Package allocation splits received payments across billing groups.

PURPOSE:
  Given a succeeded payment against a tab whose charges are split across
  billing groups, decide how much of the payment each group is credited,
  persist the allocation records, update group balances, and support
  reversal. The whole of each operation runs inside one store
  transaction: a failure after partial writes rolls everything back, so
  a partial allocation is never observable.

IDEMPOTENCY:
  A payment can be allocated at most once. The guard is checked inside
  the transaction (existing original allocation rows for the payment),
  so two concurrent Allocate calls cannot both commit.

REVERSAL:
  Reversal appends reversal rows and restores group balances; the
  original rows are never deleted, preserving the audit history.

SEE ALSO:
  - split.go: the pure split math
  - billing/tracker.go: balance mutation rules
*/
package allocation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/warp/tab-engine/audit"
	"github.com/warp/tab-engine/billing"
)

// checkoutGroupsKey is the checkout metadata field carrying a
// comma-separated billing group ID list.
const checkoutGroupsKey = "billingGroupIds"

// Engine is the payment allocation engine.
type Engine struct {
	store    billing.TxStore
	tracker  *billing.BalanceTracker
	recorder *audit.Recorder
	clock    billing.Clock
	logger   *slog.Logger
}

func NewEngine(store billing.TxStore, tracker *billing.BalanceTracker, recorder *audit.Recorder, clock billing.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, tracker: tracker, recorder: recorder, clock: clock, logger: logger}
}

// Outcome reports a completed allocation.
type Outcome struct {
	PaymentID   billing.PaymentID
	Method      Method
	Allocations []Share
	// UpdatedGroups holds the post-allocation state of every credited group.
	UpdatedGroups []billing.BillingGroup
	// Unallocated is the portion of the payment no group absorbed
	// (equal method capping, or fifo exhaustion of balances).
	Unallocated billing.Money
}

// Allocate splits the payment across the given billing groups using the
// chosen method, persists one allocation record per non-zero share, and
// decrements each credited group's balance. All-or-nothing.
func (e *Engine) Allocate(ctx context.Context, paymentID billing.PaymentID, groupIDs []billing.GroupID, method Method) (*Outcome, error) {
	var outcome *Outcome

	err := e.store.WithTx(ctx, func(s billing.Store) error {
		payment, err := s.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return billing.NewNotFoundError("payment", string(paymentID))
		}
		if payment.Status != billing.PaymentSucceeded {
			return billing.NewBusinessRuleError("payment has not succeeded")
		}

		existing, err := s.AllocationsByPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		for _, a := range existing {
			if a.Kind == billing.AllocationOriginal {
				return billing.NewBusinessRuleError("payment already allocated")
			}
		}

		groups, err := e.resolveGroups(ctx, s, payment.TabID, groupIDs)
		if err != nil {
			return err
		}

		split, err := Split(payment.Amount, groups, method)
		if err != nil {
			return err
		}

		byID := make(map[billing.GroupID]*billing.BillingGroup, len(groups))
		for i := range groups {
			byID[groups[i].ID] = &groups[i]
		}

		now := e.clock.Now().UTC()
		var records []billing.Allocation
		var credited []Share
		var updated []billing.BillingGroup
		for _, share := range split.Shares {
			if !share.Amount.IsPositive() {
				continue
			}
			group := byID[share.GroupID]
			if err := e.tracker.Credit(ctx, s, group, share.Amount); err != nil {
				return err
			}
			records = append(records, billing.Allocation{
				ID:        billing.AllocationID(uuid.NewString()),
				PaymentID: paymentID,
				GroupID:   share.GroupID,
				Amount:    share.Amount,
				Method:    string(method),
				Kind:      billing.AllocationOriginal,
				CreatedAt: now,
			})
			credited = append(credited, share)
			updated = append(updated, *group)
		}
		if len(records) == 0 {
			return billing.NewBusinessRuleError("no outstanding balance to allocate against")
		}
		if err := s.AppendAllocations(ctx, records); err != nil {
			return err
		}

		payment.AllocationMethod = string(method)
		if payment.Metadata == nil {
			payment.Metadata = make(map[string]string)
		}
		payment.Metadata["allocation_method"] = string(method)
		if err := s.SavePayment(ctx, *payment); err != nil {
			return err
		}

		outcome = &Outcome{
			PaymentID:     paymentID,
			Method:        method,
			Allocations:   credited,
			UpdatedGroups: updated,
			Unallocated:   split.Unallocated,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.recordAllocation(ctx, outcome)
	return outcome, nil
}

// AllocateFromCheckout allocates proportionally when the checkout
// metadata names billing groups; returns (nil, nil) otherwise, e.g. for
// tabs without billing groups enabled.
func (e *Engine) AllocateFromCheckout(ctx context.Context, paymentID billing.PaymentID, checkoutMetadata map[string]string) (*Outcome, error) {
	raw, ok := checkoutMetadata[checkoutGroupsKey]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var groupIDs []billing.GroupID
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			groupIDs = append(groupIDs, billing.GroupID(id))
		}
	}
	if len(groupIDs) == 0 {
		return nil, nil
	}
	return e.Allocate(ctx, paymentID, groupIDs, MethodProportional)
}

// Reverse restores every credited group's balance and appends reversal
// rows. The original allocation rows are kept.
func (e *Engine) Reverse(ctx context.Context, paymentID billing.PaymentID) error {
	var reversed []billing.Allocation

	err := e.store.WithTx(ctx, func(s billing.Store) error {
		payment, err := s.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}

		var originals []billing.Allocation
		if payment != nil {
			all, err := s.AllocationsByPayment(ctx, paymentID)
			if err != nil {
				return err
			}
			for _, a := range all {
				switch a.Kind {
				case billing.AllocationOriginal:
					originals = append(originals, a)
				case billing.AllocationReversal:
					return billing.NewBusinessRuleError("payment allocation already reversed")
				}
			}
		}
		if payment == nil || len(originals) == 0 {
			return billing.NewBusinessRuleError("Payment or allocations not found")
		}

		now := e.clock.Now().UTC()
		var records []billing.Allocation
		for _, original := range originals {
			group, err := s.GetGroup(ctx, original.GroupID)
			if err != nil {
				return err
			}
			if group == nil {
				return billing.NewNotFoundError("billing group", string(original.GroupID))
			}
			if err := e.tracker.Restore(ctx, s, group, original.Amount); err != nil {
				return err
			}
			records = append(records, billing.Allocation{
				ID:        billing.AllocationID(uuid.NewString()),
				PaymentID: paymentID,
				GroupID:   original.GroupID,
				Amount:    original.Amount,
				Method:    original.Method,
				Kind:      billing.AllocationReversal,
				CreatedAt: now,
			})
		}
		if err := s.AppendAllocations(ctx, records); err != nil {
			return err
		}

		if payment.Metadata == nil {
			payment.Metadata = make(map[string]string)
		}
		payment.Metadata["allocation_reversed"] = "true"
		if err := s.SavePayment(ctx, *payment); err != nil {
			return err
		}

		reversed = records
		return nil
	})
	if err != nil {
		return err
	}

	e.recordReversal(ctx, paymentID, reversed)
	return nil
}

// PaymentAllocations is one tab payment's allocation state.
type PaymentAllocations struct {
	PaymentID   billing.PaymentID
	Method      string
	Allocations []Share
	Reversed    bool
}

// TabAllocations returns, for every payment on the tab that has been
// allocated, its shares and the method used. Payments without
// allocations are omitted.
func (e *Engine) TabAllocations(ctx context.Context, tabID billing.TabID) ([]PaymentAllocations, error) {
	payments, err := e.store.PaymentsByTab(ctx, tabID)
	if err != nil {
		return nil, err
	}

	var result []PaymentAllocations
	for _, p := range payments {
		all, err := e.store.AllocationsByPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		entry := PaymentAllocations{PaymentID: p.ID, Method: p.AllocationMethod}
		for _, a := range all {
			switch a.Kind {
			case billing.AllocationOriginal:
				entry.Allocations = append(entry.Allocations, Share{GroupID: a.GroupID, Amount: a.Amount})
			case billing.AllocationReversal:
				entry.Reversed = true
			}
		}
		if len(entry.Allocations) == 0 {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (e *Engine) resolveGroups(ctx context.Context, s billing.Store, tabID billing.TabID, groupIDs []billing.GroupID) ([]billing.BillingGroup, error) {
	var groups []billing.BillingGroup
	for _, id := range groupIDs {
		group, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		if group == nil || group.TabID != tabID || !group.IsActive() {
			continue
		}
		groups = append(groups, *group)
	}
	if len(groups) == 0 {
		return nil, billing.NewBusinessRuleError("No billing groups found")
	}
	return groups, nil
}

func (e *Engine) recordAllocation(ctx context.Context, outcome *Outcome) {
	changes := make(map[string]string, len(outcome.Allocations))
	for _, share := range outcome.Allocations {
		changes[string(share.GroupID)] = share.Amount.String()
	}
	_, err := e.recorder.Record(ctx, audit.Event{
		EntityType: "payment",
		EntityID:   string(outcome.PaymentID),
		Action:     "allocated",
		Changes:    changes,
		Metadata: map[string]string{
			"method":      string(outcome.Method),
			"unallocated": outcome.Unallocated.String(),
		},
	})
	if err != nil {
		e.logger.Warn("failed to record allocation", "payment_id", outcome.PaymentID, "error", err)
	}
}

func (e *Engine) recordReversal(ctx context.Context, paymentID billing.PaymentID, records []billing.Allocation) {
	changes := make(map[string]string, len(records))
	for _, r := range records {
		changes[string(r.GroupID)] = r.Amount.String()
	}
	_, err := e.recorder.Record(ctx, audit.Event{
		EntityType: "payment",
		EntityID:   string(paymentID),
		Action:     "reversed",
		Changes:    changes,
	})
	if err != nil {
		e.logger.Warn("failed to record reversal", "payment_id", paymentID, "error", err)
	}
}
