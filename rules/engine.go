package rules

import (
	"sort"
	"time"

	"github.com/warp/tab-engine/billing"
)

// =============================================================================
// RULE ENGINE - selects the winning rule for a line item
// =============================================================================

// Decision is the outcome of rule selection for one line item.
type Decision struct {
	Rule   Rule
	Action Action
}

// SelectAction evaluates the line item against the given rules and
// returns the winning rule's decision, or false when no active rule
// matches (the caller leaves the item unassigned).
//
// Ordering: lowest Priority wins; among equal priorities the earliest
// CreatedAt wins, then the lexically smallest ID. The input slice is not
// modified.
func SelectAction(item billing.LineItem, candidates []Rule, now time.Time) (Decision, bool) {
	active := make([]Rule, 0, len(candidates))
	for _, r := range candidates {
		if r.IsActive {
			active = append(active, r)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		return active[i].ID < active[j].ID
	})

	for _, r := range active {
		// A malformed rule fails validation here and is skipped rather
		// than breaking evaluation of the remaining rules.
		if err := r.Conditions.Validate(); err != nil {
			continue
		}
		if r.Conditions.Matches(item, now) {
			return Decision{Rule: r, Action: r.Action}, true
		}
	}
	return Decision{}, false
}
