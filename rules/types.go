/*
Package rules implements billing-group automation rules.

PURPOSE:
  When a line item is created or updated, the rule engine evaluates it
  against the tab's active rules and decides what should happen to it:
  auto-assign it to a billing group, hold it for approval, assign it and
  raise a notification, or reject the assignment outright.

KEY CONCEPTS:
  - Conditions: a small typed struct of optional filters, ANDed together.
    Absent fields are wildcards. Validated at rule-creation time so
    malformed rules never reach the evaluator.
  - Priority: lower value wins. Ties break by creation time (earliest
    wins), then by rule ID, so selection is fully deterministic.
  - Fail closed: a rule whose conditions cannot be evaluated is treated
    as non-matching. One bad rule cannot break the engine.

SEE ALSO:
  - evaluator.go: Conditions.Matches
  - engine.go: rule selection
  - service.go: applying the selected action inside a transaction
*/
package rules

import (
	"fmt"
	"time"

	"github.com/warp/tab-engine/billing"
)

// =============================================================================
// ACTIONS
// =============================================================================

type Action string

const (
	// ActionAutoAssign moves the item into the rule's group directly.
	ActionAutoAssign Action = "auto_assign"

	// ActionRequireApproval flags the item pending; it is NOT assigned
	// until a reviewer approves it.
	ActionRequireApproval Action = "require_approval"

	// ActionNotify assigns the item to the rule's group and raises a
	// notification side-channel event.
	ActionNotify Action = "notify"

	// ActionReject blocks the assignment and surfaces an error.
	ActionReject Action = "reject"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAutoAssign, ActionRequireApproval, ActionNotify, ActionReject:
		return true
	}
	return false
}

// =============================================================================
// RULE
// =============================================================================

// Rule is one billing-group automation rule. Rules are authored through
// the rule CRUD surface; the engine only reads them.
type Rule struct {
	ID         billing.RuleID
	TabID      billing.TabID
	GroupID    billing.GroupID
	Name       string
	Priority   int // lower value = evaluated first
	Action     Action
	Conditions Conditions
	IsActive   bool
	CreatedAt  time.Time
}

// Validate rejects malformed rules before they are stored.
func (r Rule) Validate() error {
	if r.Name == "" {
		return billing.NewValidationError("name", "must not be empty")
	}
	if !r.Action.Valid() {
		return billing.NewValidationError("action", fmt.Sprintf("unknown action %q", r.Action))
	}
	if r.Action != ActionReject && r.GroupID == "" {
		return billing.NewValidationError("billingGroupId", "required for non-reject actions")
	}
	return r.Conditions.Validate()
}

// =============================================================================
// CONDITIONS
// =============================================================================

// Conditions is the filter set a line item is matched against. All
// present fields are ANDed; absent fields always match. An empty
// Conditions matches every line item.
type Conditions struct {
	// Categories matches when the item category is one of these
	// (case-sensitive exact match).
	Categories []string

	// AmountMin/AmountMax bound the item TotalPrice, inclusive.
	AmountMin *billing.Money
	AmountMax *billing.Money

	// TimeStart/TimeEnd is an inclusive HH:MM window compared against
	// the evaluation-time wall clock. A window with end before start
	// never matches; there is no midnight wraparound.
	TimeStart string
	TimeEnd   string

	// DaysOfWeek matches the current weekday (time.Sunday = 0).
	DaysOfWeek []time.Weekday

	// Metadata requires every key to exist on the item with an equal
	// value. Extra item keys are ignored.
	Metadata map[string]string
}

func (c Conditions) Validate() error {
	if c.AmountMin != nil && c.AmountMin.IsNegative() {
		return billing.NewValidationError("conditions.amount.min", "must not be negative")
	}
	if c.AmountMax != nil && c.AmountMax.IsNegative() {
		return billing.NewValidationError("conditions.amount.max", "must not be negative")
	}
	if c.AmountMin != nil && c.AmountMax != nil && c.AmountMin.GreaterThan(*c.AmountMax) {
		return billing.NewValidationError("conditions.amount", "min greater than max")
	}
	if (c.TimeStart == "") != (c.TimeEnd == "") {
		return billing.NewValidationError("conditions.time", "start and end must both be set")
	}
	if c.TimeStart != "" {
		if _, err := parseClock(c.TimeStart); err != nil {
			return billing.NewValidationError("conditions.time.start", err.Error())
		}
		if _, err := parseClock(c.TimeEnd); err != nil {
			return billing.NewValidationError("conditions.time.end", err.Error())
		}
	}
	for _, d := range c.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return billing.NewValidationError("conditions.dayOfWeek", fmt.Sprintf("invalid weekday %d", d))
		}
	}
	return nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid HH:MM time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
