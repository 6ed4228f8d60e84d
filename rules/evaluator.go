package rules

import (
	"time"

	"github.com/warp/tab-engine/billing"
)

// =============================================================================
// CONDITION EVALUATOR - pure, deterministic given a supplied "now"
// =============================================================================

// Matches reports whether the line item satisfies every present
// condition at the given evaluation time. It is pure, never panics, and
// fails closed: conditions it cannot evaluate do not match.
func (c Conditions) Matches(item billing.LineItem, now time.Time) bool {
	return c.matchCategory(item) &&
		c.matchAmount(item) &&
		c.matchTime(now) &&
		c.matchDay(now) &&
		c.matchMetadata(item)
}

func (c Conditions) matchCategory(item billing.LineItem) bool {
	if len(c.Categories) == 0 {
		return true
	}
	for _, cat := range c.Categories {
		if item.Category == cat {
			return true
		}
	}
	return false
}

func (c Conditions) matchAmount(item billing.LineItem) bool {
	if c.AmountMin != nil && item.TotalPrice.LessThan(*c.AmountMin) {
		return false
	}
	if c.AmountMax != nil && item.TotalPrice.GreaterThan(*c.AmountMax) {
		return false
	}
	return true
}

func (c Conditions) matchTime(now time.Time) bool {
	if c.TimeStart == "" && c.TimeEnd == "" {
		return true
	}
	start, err := parseClock(c.TimeStart)
	if err != nil {
		return false
	}
	end, err := parseClock(c.TimeEnd)
	if err != nil {
		return false
	}
	// An inverted window never matches; no midnight wraparound.
	if end < start {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute <= end
}

func (c Conditions) matchDay(now time.Time) bool {
	if len(c.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range c.DaysOfWeek {
		if now.Weekday() == d {
			return true
		}
	}
	return false
}

func (c Conditions) matchMetadata(item billing.LineItem) bool {
	for k, want := range c.Metadata {
		got, ok := item.Metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
