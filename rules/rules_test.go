package rules_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tab-engine/billing"
	"github.com/warp/tab-engine/rules"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func item(category, total string) billing.LineItem {
	li := billing.LineItem{
		ID:         "item-1",
		TabID:      "tab-1",
		Category:   category,
		TotalPrice: billing.MustParseMoney(total),
	}
	return li
}

func moneyPtr(s string) *billing.Money {
	m := billing.MustParseMoney(s)
	return &m
}

// tuesdayNoon is 2026-03-10, a Tuesday, at 12:30.
var tuesdayNoon = time.Date(2026, time.March, 10, 12, 30, 0, 0, time.UTC)

func rule(id string, priority int, action rules.Action, c rules.Conditions) rules.Rule {
	return rules.Rule{
		ID:         billing.RuleID(id),
		TabID:      "tab-1",
		GroupID:    "g1",
		Name:       id,
		Priority:   priority,
		Action:     action,
		Conditions: c,
		IsActive:   true,
		CreatedAt:  time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// CONDITION MATCHING
// =============================================================================

func TestConditions_Empty_MatchesEverything(t *testing.T) {
	// GIVEN: A rule with no conditions at all
	// WHEN: Evaluating any line item
	// THEN: It matches (absent fields are wildcards)

	c := rules.Conditions{}
	assert.True(t, c.Matches(item("alcohol", "12.00"), tuesdayNoon))
	assert.True(t, c.Matches(item("", "0.00"), tuesdayNoon))
}

func TestConditions_Category(t *testing.T) {
	c := rules.Conditions{Categories: []string{"alcohol", "tobacco"}}

	assert.True(t, c.Matches(item("alcohol", "12.00"), tuesdayNoon))
	assert.True(t, c.Matches(item("tobacco", "12.00"), tuesdayNoon))
	assert.False(t, c.Matches(item("food", "12.00"), tuesdayNoon))
	// Case-sensitive exact match.
	assert.False(t, c.Matches(item("Alcohol", "12.00"), tuesdayNoon))
}

func TestConditions_AmountRange_Inclusive(t *testing.T) {
	c := rules.Conditions{AmountMin: moneyPtr("10.00"), AmountMax: moneyPtr("50.00")}

	assert.False(t, c.Matches(item("x", "9.99"), tuesdayNoon))
	assert.True(t, c.Matches(item("x", "10.00"), tuesdayNoon), "min boundary is inclusive")
	assert.True(t, c.Matches(item("x", "50.00"), tuesdayNoon), "max boundary is inclusive")
	assert.False(t, c.Matches(item("x", "50.01"), tuesdayNoon))
}

func TestConditions_TimeWindow_Inclusive(t *testing.T) {
	c := rules.Conditions{TimeStart: "12:00", TimeEnd: "14:00"}

	assert.True(t, c.Matches(item("x", "1.00"), tuesdayNoon))
	assert.True(t, c.Matches(item("x", "1.00"),
		time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)), "window start is inclusive")
	assert.True(t, c.Matches(item("x", "1.00"),
		time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)), "window end is inclusive")
	assert.False(t, c.Matches(item("x", "1.00"),
		time.Date(2026, time.March, 10, 14, 1, 0, 0, time.UTC)))
}

func TestConditions_InvertedTimeWindow_NeverMatches(t *testing.T) {
	// GIVEN: A window whose end precedes its start (22:00 to 02:00)
	// WHEN: Evaluating at 23:00 and at 01:00
	// THEN: Neither matches; there is no midnight wraparound

	c := rules.Conditions{TimeStart: "22:00", TimeEnd: "02:00"}

	assert.False(t, c.Matches(item("x", "1.00"),
		time.Date(2026, time.March, 10, 23, 0, 0, 0, time.UTC)))
	assert.False(t, c.Matches(item("x", "1.00"),
		time.Date(2026, time.March, 10, 1, 0, 0, 0, time.UTC)))
}

func TestConditions_MalformedTime_FailsClosed(t *testing.T) {
	c := rules.Conditions{TimeStart: "25:99", TimeEnd: "14:00"}
	assert.False(t, c.Matches(item("x", "1.00"), tuesdayNoon))
}

func TestConditions_DayOfWeek(t *testing.T) {
	c := rules.Conditions{DaysOfWeek: []time.Weekday{time.Saturday, time.Sunday}}

	assert.False(t, c.Matches(item("x", "1.00"), tuesdayNoon))
	saturday := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	assert.True(t, c.Matches(item("x", "1.00"), saturday))
}

func TestConditions_Metadata_AllKeysMustMatch(t *testing.T) {
	c := rules.Conditions{Metadata: map[string]string{"channel": "bar", "vip": "true"}}

	li := item("x", "1.00")
	li.Metadata = map[string]string{"channel": "bar", "vip": "true", "extra": "ignored"}
	assert.True(t, c.Matches(li, tuesdayNoon), "extra item keys are ignored")

	li.Metadata = map[string]string{"channel": "bar"}
	assert.False(t, c.Matches(li, tuesdayNoon), "missing key does not match")

	li.Metadata = map[string]string{"channel": "bar", "vip": "false"}
	assert.False(t, c.Matches(li, tuesdayNoon), "unequal value does not match")
}

func TestConditions_AllPresentFieldsAreANDed(t *testing.T) {
	c := rules.Conditions{
		Categories: []string{"alcohol"},
		AmountMin:  moneyPtr("10.00"),
	}
	assert.True(t, c.Matches(item("alcohol", "12.00"), tuesdayNoon))
	assert.False(t, c.Matches(item("alcohol", "5.00"), tuesdayNoon))
	assert.False(t, c.Matches(item("food", "12.00"), tuesdayNoon))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestRule_Validate(t *testing.T) {
	valid := rule("r1", 1, rules.ActionAutoAssign, rules.Conditions{})
	assert.NoError(t, valid.Validate())

	noName := valid
	noName.Name = ""
	assert.Error(t, noName.Validate())

	badAction := valid
	badAction.Action = "explode"
	assert.Error(t, badAction.Validate())

	// Non-reject actions need a target group; reject does not.
	noGroup := valid
	noGroup.GroupID = ""
	assert.Error(t, noGroup.Validate())

	reject := valid
	reject.Action = rules.ActionReject
	reject.GroupID = ""
	assert.NoError(t, reject.Validate())
}

func TestConditions_Validate(t *testing.T) {
	assert.NoError(t, rules.Conditions{}.Validate())

	minAboveMax := rules.Conditions{AmountMin: moneyPtr("50.00"), AmountMax: moneyPtr("10.00")}
	assert.Error(t, minAboveMax.Validate())

	halfWindow := rules.Conditions{TimeStart: "09:00"}
	assert.Error(t, halfWindow.Validate(), "start without end is malformed")

	badClock := rules.Conditions{TimeStart: "9am", TimeEnd: "17:00"}
	assert.Error(t, badClock.Validate())

	badDay := rules.Conditions{DaysOfWeek: []time.Weekday{8}}
	assert.Error(t, badDay.Validate())
}

// =============================================================================
// RULE SELECTION
// =============================================================================

func TestSelectAction_LowestPriorityWins(t *testing.T) {
	// GIVEN: Two matching rules with priorities 5 and 1
	// WHEN: Selecting
	// THEN: Priority 1 wins regardless of slice order

	r5 := rule("r5", 5, rules.ActionNotify, rules.Conditions{})
	r1 := rule("r1", 1, rules.ActionAutoAssign, rules.Conditions{})

	decision, ok := rules.SelectAction(item("x", "1.00"), []rules.Rule{r5, r1}, tuesdayNoon)
	require.True(t, ok)
	assert.Equal(t, billing.RuleID("r1"), decision.Rule.ID)
	assert.Equal(t, rules.ActionAutoAssign, decision.Action)
}

func TestSelectAction_TieBreaksByCreatedAtThenID(t *testing.T) {
	// GIVEN: Three matching rules at the same priority
	// WHEN: Selecting
	// THEN: Earliest CreatedAt wins; equal timestamps break by rule ID

	older := rule("b-old", 1, rules.ActionNotify, rules.Conditions{})
	older.CreatedAt = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	newer := rule("a-new", 1, rules.ActionAutoAssign, rules.Conditions{})
	newer.CreatedAt = time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)

	decision, ok := rules.SelectAction(item("x", "1.00"), []rules.Rule{newer, older}, tuesdayNoon)
	require.True(t, ok)
	assert.Equal(t, billing.RuleID("b-old"), decision.Rule.ID)

	twinA := rule("a", 1, rules.ActionNotify, rules.Conditions{})
	twinB := rule("b", 1, rules.ActionAutoAssign, rules.Conditions{})
	decision, ok = rules.SelectAction(item("x", "1.00"), []rules.Rule{twinB, twinA}, tuesdayNoon)
	require.True(t, ok)
	assert.Equal(t, billing.RuleID("a"), decision.Rule.ID)
}

func TestSelectAction_SkipsInactiveAndNonMatching(t *testing.T) {
	inactive := rule("inactive", 0, rules.ActionReject, rules.Conditions{})
	inactive.IsActive = false
	nonMatching := rule("wrong-cat", 1, rules.ActionReject,
		rules.Conditions{Categories: []string{"tobacco"}})
	matching := rule("match", 2, rules.ActionAutoAssign, rules.Conditions{})

	decision, ok := rules.SelectAction(item("alcohol", "1.00"),
		[]rules.Rule{inactive, nonMatching, matching}, tuesdayNoon)
	require.True(t, ok)
	assert.Equal(t, billing.RuleID("match"), decision.Rule.ID)
}

func TestSelectAction_MalformedRuleSkipped(t *testing.T) {
	// GIVEN: The highest-priority rule has unparseable conditions
	// WHEN: Selecting
	// THEN: It is skipped rather than breaking evaluation

	broken := rule("broken", 0, rules.ActionReject,
		rules.Conditions{TimeStart: "not-a-time", TimeEnd: "14:00"})
	fallback := rule("fallback", 1, rules.ActionAutoAssign, rules.Conditions{})

	decision, ok := rules.SelectAction(item("x", "1.00"), []rules.Rule{broken, fallback}, tuesdayNoon)
	require.True(t, ok)
	assert.Equal(t, billing.RuleID("fallback"), decision.Rule.ID)
}

func TestSelectAction_NoMatch(t *testing.T) {
	only := rule("r1", 1, rules.ActionAutoAssign,
		rules.Conditions{Categories: []string{"tobacco"}})

	_, ok := rules.SelectAction(item("food", "1.00"), []rules.Rule{only}, tuesdayNoon)
	assert.False(t, ok)
}
