/*
service.go - Applying rule decisions to line items

PURPOSE:
  Connects rule selection to the balance tracker. Apply evaluates a line
  item against the tab's rules and carries out the winning action inside
  a store transaction, then audits the decision.

ACTION SEMANTICS:
  auto_assign      -> item assigned to the rule's group
  require_approval -> item flagged pending, NOT assigned
  notify           -> item assigned + notification raised
  reject           -> assignment blocked, BusinessRuleError to the caller

FAILURE SEMANTICS:
  Rule evaluation never throws; malformed rules are skipped (fail
  closed). Errors out of Apply come from the assignment itself (closed
  group, credit limit) and roll the transaction back.
*/
package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/tab-engine/audit"
	"github.com/warp/tab-engine/billing"
)

// Applier evaluates rules for line items and carries out the decision.
type Applier struct {
	store    billing.TxStore
	rules    Store
	tracker  *billing.BalanceTracker
	recorder *audit.Recorder
	notifier Notifier
	clock    billing.Clock
	logger   *slog.Logger
}

func NewApplier(store billing.TxStore, ruleStore Store, tracker *billing.BalanceTracker, recorder *audit.Recorder, notifier Notifier, clock billing.Clock, logger *slog.Logger) *Applier {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Applier{
		store:    store,
		rules:    ruleStore,
		tracker:  tracker,
		recorder: recorder,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// Apply evaluates the line item against its tab's active rules and
// carries out the winning action. Returns (nil, nil) when no rule
// matches; the item is left unassigned.
func (a *Applier) Apply(ctx context.Context, itemID billing.LineItemID) (*Decision, error) {
	item, err := a.store.GetLineItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, billing.NewNotFoundError("line item", string(itemID))
	}

	candidates, err := a.rules.RulesByTab(ctx, item.TabID)
	if err != nil {
		return nil, err
	}

	decision, ok := SelectAction(*item, candidates, a.clock.Now())
	if !ok {
		return nil, nil
	}

	switch decision.Action {
	case ActionAutoAssign:
		err = a.store.WithTx(ctx, func(s billing.Store) error {
			return a.tracker.Assign(ctx, s, item.ID, decision.Rule.GroupID)
		})

	case ActionRequireApproval:
		err = a.store.WithTx(ctx, func(s billing.Store) error {
			item.PendingApproval = true
			item.PendingGroupID = decision.Rule.GroupID
			return s.SaveLineItem(ctx, *item)
		})

	case ActionNotify:
		err = a.store.WithTx(ctx, func(s billing.Store) error {
			return a.tracker.Assign(ctx, s, item.ID, decision.Rule.GroupID)
		})
		if err == nil {
			if nerr := a.notifier.Notify(ctx, Notification{
				TabID:   item.TabID,
				ItemID:  item.ID,
				GroupID: decision.Rule.GroupID,
				RuleID:  decision.Rule.ID,
				Message: fmt.Sprintf("line item %s assigned by rule %q", item.ID, decision.Rule.Name),
			}); nerr != nil {
				// Notification delivery is best-effort; the assignment stands.
				a.logger.Warn("notification delivery failed", "rule_id", decision.Rule.ID, "error", nerr)
			}
		}

	case ActionReject:
		err = billing.NewBusinessRuleError(
			fmt.Sprintf("line item rejected by rule %q", decision.Rule.Name))
	}

	a.record(ctx, *item, decision, err)
	if err != nil {
		return &decision, err
	}
	return &decision, nil
}

// Approve assigns a pending line item to the group its matching rule
// selected. No-op error if the item is not pending.
func (a *Applier) Approve(ctx context.Context, itemID billing.LineItemID) error {
	item, err := a.store.GetLineItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return billing.NewNotFoundError("line item", string(itemID))
	}
	if !item.PendingApproval {
		return billing.NewBusinessRuleError("line item is not pending approval")
	}

	groupID := item.PendingGroupID
	err = a.store.WithTx(ctx, func(s billing.Store) error {
		return a.tracker.Assign(ctx, s, item.ID, groupID)
	})
	if err != nil {
		return err
	}

	if _, rerr := a.recorder.Record(ctx, audit.Event{
		EntityType: "line_item",
		EntityID:   string(item.ID),
		Action:     "approval_granted",
		Metadata:   map[string]string{"billing_group_id": string(groupID)},
	}); rerr != nil {
		a.logger.Warn("failed to record approval decision", "item_id", item.ID, "error", rerr)
	}
	return nil
}

// RejectPending clears a pending approval without assigning the item.
func (a *Applier) RejectPending(ctx context.Context, itemID billing.LineItemID) error {
	item, err := a.store.GetLineItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return billing.NewNotFoundError("line item", string(itemID))
	}
	if !item.PendingApproval {
		return billing.NewBusinessRuleError("line item is not pending approval")
	}

	err = a.store.WithTx(ctx, func(s billing.Store) error {
		item.PendingApproval = false
		item.PendingGroupID = ""
		return s.SaveLineItem(ctx, *item)
	})
	if err != nil {
		return err
	}

	if _, rerr := a.recorder.Record(ctx, audit.Event{
		EntityType: "line_item",
		EntityID:   string(item.ID),
		Action:     "approval_rejected",
	}); rerr != nil {
		a.logger.Warn("failed to record approval decision", "item_id", item.ID, "error", rerr)
	}
	return nil
}

func (a *Applier) record(ctx context.Context, item billing.LineItem, decision Decision, applyErr error) {
	outcome := "applied"
	if applyErr != nil {
		outcome = "blocked"
	}
	_, err := a.recorder.Record(ctx, audit.Event{
		EntityType: "line_item",
		EntityID:   string(item.ID),
		Action:     "rule_" + string(decision.Action),
		Changes: map[string]string{
			"billing_group_id": string(decision.Rule.GroupID),
			"outcome":          outcome,
		},
		Metadata: map[string]string{
			"rule_id":   string(decision.Rule.ID),
			"rule_name": decision.Rule.Name,
			"tab_id":    string(item.TabID),
		},
	})
	if err != nil {
		a.logger.Warn("failed to record rule decision", "item_id", item.ID, "error", err)
	}
}
