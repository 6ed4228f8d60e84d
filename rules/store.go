package rules

import (
	"context"

	"github.com/warp/tab-engine/billing"
)

// Store persists rules. The rule authoring surface writes them; the
// engine only reads.
type Store interface {
	GetRule(ctx context.Context, id billing.RuleID) (*Rule, error)
	SaveRule(ctx context.Context, rule Rule) error
	DeleteRule(ctx context.Context, id billing.RuleID) error

	// RulesByTab returns every rule configured for the tab, active or
	// not, ordered by creation time.
	RulesByTab(ctx context.Context, tabID billing.TabID) ([]Rule, error)
}
