package allocation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tab-engine/allocation"
	"github.com/warp/tab-engine/billing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func group(id string, balance string) billing.BillingGroup {
	return billing.BillingGroup{
		ID:             billing.GroupID(id),
		TabID:          "tab-1",
		Name:           id,
		Type:           billing.GroupStandard,
		Status:         billing.GroupActive,
		CurrentBalance: billing.MustParseMoney(balance),
	}
}

func money(s string) billing.Money { return billing.MustParseMoney(s) }

func shareTotal(shares []allocation.Share) billing.Money {
	total := billing.ZeroMoney()
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	return total
}

// =============================================================================
// PROPORTIONAL
// =============================================================================

func TestSplitProportional_ExactRatios(t *testing.T) {
	// GIVEN: Two groups with balances 60 and 40
	// WHEN: Splitting a 100.00 payment proportionally
	// THEN: Shares are 60.00 and 40.00, nothing unallocated

	groups := []billing.BillingGroup{group("g1", "60.00"), group("g2", "40.00")}

	result, err := allocation.Split(money("100.00"), groups, allocation.MethodProportional)
	require.NoError(t, err)

	assert.True(t, result.Shares[0].Amount.Equal(money("60.00")), "g1 share = %s", result.Shares[0].Amount)
	assert.True(t, result.Shares[1].Amount.Equal(money("40.00")), "g2 share = %s", result.Shares[1].Amount)
	assert.True(t, result.Unallocated.IsZero())
}

func TestSplitProportional_RoundingRemainderGoesToLastGroup(t *testing.T) {
	// GIVEN: Three groups with equal balances
	// WHEN: Splitting 100.00 three ways proportionally
	// THEN: Shares sum to exactly 100.00; the odd cent lands on the last group

	groups := []billing.BillingGroup{
		group("g1", "50.00"), group("g2", "50.00"), group("g3", "50.00"),
	}

	result, err := allocation.Split(money("100.00"), groups, allocation.MethodProportional)
	require.NoError(t, err)

	assert.True(t, shareTotal(result.Shares).Equal(money("100.00")),
		"shares must reconcile exactly with the payment")
	assert.True(t, result.Shares[0].Amount.Equal(money("33.33")))
	assert.True(t, result.Shares[1].Amount.Equal(money("33.33")))
	assert.True(t, result.Shares[2].Amount.Equal(money("33.34")))
}

func TestSplitProportional_TinyPaymentNeverOvershoots(t *testing.T) {
	// GIVEN: Four groups with equal balances
	// WHEN: Splitting a 0.02 payment proportionally (each quarter share
	//       is a half cent, which rounds up to 0.01)
	// THEN: The rounded-up shares are walked back so the total is still
	//       exactly 0.02 and no share is negative

	groups := []billing.BillingGroup{
		group("g1", "1.00"), group("g2", "1.00"), group("g3", "1.00"), group("g4", "1.00"),
	}

	result, err := allocation.Split(money("0.02"), groups, allocation.MethodProportional)
	require.NoError(t, err)

	assert.True(t, shareTotal(result.Shares).Equal(money("0.02")),
		"shares must reconcile exactly with the payment, got %s", shareTotal(result.Shares))
	for _, s := range result.Shares {
		assert.False(t, s.Amount.IsNegative(), "share for %s is negative: %s", s.GroupID, s.Amount)
	}
	assert.True(t, result.Unallocated.IsZero())
}

func TestSplitProportional_ZeroTotalBalance_Errors(t *testing.T) {
	// GIVEN: All groups fully paid off
	// WHEN: Splitting proportionally
	// THEN: Business rule error, nothing to allocate against

	groups := []billing.BillingGroup{group("g1", "0.00"), group("g2", "0.00")}

	_, err := allocation.Split(money("50.00"), groups, allocation.MethodProportional)
	assert.Error(t, err)
	assert.True(t, billing.IsBusinessRule(err))
}

func TestSplitProportional_SingleGroup_TakesAll(t *testing.T) {
	groups := []billing.BillingGroup{group("g1", "80.00")}

	result, err := allocation.Split(money("100.00"), groups, allocation.MethodProportional)
	require.NoError(t, err)
	assert.True(t, result.Shares[0].Amount.Equal(money("100.00")))
}

// =============================================================================
// FIFO
// =============================================================================

func TestSplitFIFO_FillsGroupsInOrder(t *testing.T) {
	// GIVEN: Groups with balances 60 and 40, in that order
	// WHEN: Splitting a 58.00 payment fifo
	// THEN: First group takes 58.00, second takes nothing

	groups := []billing.BillingGroup{group("g1", "60.00"), group("g2", "40.00")}

	result, err := allocation.Split(money("58.00"), groups, allocation.MethodFIFO)
	require.NoError(t, err)

	assert.True(t, result.Shares[0].Amount.Equal(money("58.00")))
	assert.True(t, result.Shares[1].Amount.IsZero())
	assert.True(t, result.Unallocated.IsZero())
}

func TestSplitFIFO_SpillsToNextGroup(t *testing.T) {
	// GIVEN: Groups with balances 60 and 40
	// WHEN: Splitting a 75.00 payment fifo
	// THEN: First group capped at its balance, overflow spills to the second

	groups := []billing.BillingGroup{group("g1", "60.00"), group("g2", "40.00")}

	result, err := allocation.Split(money("75.00"), groups, allocation.MethodFIFO)
	require.NoError(t, err)

	assert.True(t, result.Shares[0].Amount.Equal(money("60.00")))
	assert.True(t, result.Shares[1].Amount.Equal(money("15.00")))
	assert.True(t, result.Unallocated.IsZero())
}

func TestSplitFIFO_PaymentExceedsAllBalances(t *testing.T) {
	// GIVEN: Total outstanding 100.00 across two groups
	// WHEN: Splitting a 120.00 payment fifo
	// THEN: Both groups fill to their balances; 20.00 is left unallocated

	groups := []billing.BillingGroup{group("g1", "60.00"), group("g2", "40.00")}

	result, err := allocation.Split(money("120.00"), groups, allocation.MethodFIFO)
	require.NoError(t, err)

	assert.True(t, result.Shares[0].Amount.Equal(money("60.00")))
	assert.True(t, result.Shares[1].Amount.Equal(money("40.00")))
	assert.True(t, result.Unallocated.Equal(money("20.00")))
}

// =============================================================================
// EQUAL
// =============================================================================

func TestSplitEqual_EvenSplit(t *testing.T) {
	groups := []billing.BillingGroup{group("g1", "60.00"), group("g2", "40.00")}

	result, err := allocation.Split(money("50.00"), groups, allocation.MethodEqual)
	require.NoError(t, err)

	assert.True(t, result.Shares[0].Amount.Equal(money("25.00")))
	assert.True(t, result.Shares[1].Amount.Equal(money("25.00")))
	assert.True(t, result.Unallocated.IsZero())
}

func TestSplitEqual_CappedAtBalance_ShortfallNotRedistributed(t *testing.T) {
	// GIVEN: Groups with balances 60.00 and 10.00
	// WHEN: Splitting 50.00 equally (25.00 each)
	// THEN: The second group caps at 10.00; the 15.00 shortfall is NOT
	//       moved to the first group, it is reported as unallocated

	groups := []billing.BillingGroup{group("g1", "60.00"), group("g2", "10.00")}

	result, err := allocation.Split(money("50.00"), groups, allocation.MethodEqual)
	require.NoError(t, err)

	assert.True(t, result.Shares[0].Amount.Equal(money("25.00")))
	assert.True(t, result.Shares[1].Amount.Equal(money("10.00")))
	assert.True(t, result.Unallocated.Equal(money("15.00")))

	// Conservation: allocated + unallocated = payment.
	assert.True(t, shareTotal(result.Shares).Add(result.Unallocated).Equal(money("50.00")))
}

func TestSplitEqual_RoundingRemainderOnLastShare(t *testing.T) {
	// GIVEN: Three groups with ample balances
	// WHEN: Splitting 100.00 equally
	// THEN: 33.33 / 33.33 / 33.34 and exact reconciliation

	groups := []billing.BillingGroup{
		group("g1", "100.00"), group("g2", "100.00"), group("g3", "100.00"),
	}

	result, err := allocation.Split(money("100.00"), groups, allocation.MethodEqual)
	require.NoError(t, err)

	assert.True(t, result.Shares[2].Amount.Equal(money("33.34")))
	assert.True(t, shareTotal(result.Shares).Equal(money("100.00")))
}

func TestSplitEqual_TinyPaymentNeverOvershoots(t *testing.T) {
	// GIVEN: Four groups with equal balances
	// WHEN: Splitting a 0.02 payment equally (0.005 per share rounds up)
	// THEN: Allocated + unallocated reconcile exactly to 0.02

	groups := []billing.BillingGroup{
		group("g1", "1.00"), group("g2", "1.00"), group("g3", "1.00"), group("g4", "1.00"),
	}

	result, err := allocation.Split(money("0.02"), groups, allocation.MethodEqual)
	require.NoError(t, err)

	assert.True(t, shareTotal(result.Shares).Add(result.Unallocated).Equal(money("0.02")),
		"allocated + unallocated must equal the payment, got %s + %s",
		shareTotal(result.Shares), result.Unallocated)
	for _, s := range result.Shares {
		assert.False(t, s.Amount.IsNegative(), "share for %s is negative: %s", s.GroupID, s.Amount)
	}
}

// =============================================================================
// GENERAL
// =============================================================================

func TestSplit_NoGroups_Errors(t *testing.T) {
	_, err := allocation.Split(money("10.00"), nil, allocation.MethodProportional)
	assert.Error(t, err)
	assert.True(t, billing.IsBusinessRule(err))
}

func TestParseMethod(t *testing.T) {
	for _, valid := range []string{"proportional", "fifo", "equal"} {
		m, err := allocation.ParseMethod(valid)
		assert.NoError(t, err)
		assert.Equal(t, valid, string(m))
	}

	_, err := allocation.ParseMethod("waterfall")
	assert.Error(t, err)
	assert.True(t, billing.IsValidation(err))
}
