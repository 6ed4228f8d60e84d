/*
split.go - Pure split math for the three allocation methods

PURPOSE:
  Computing the per-group split is kept free of storage so the
  arithmetic properties (exact reconciliation, determinism, remainder
  handling) are directly testable.

METHODS:
  proportional: amount * (balance / sum of balances), rounded to 2
    decimals; the rounding remainder goes to the LAST group so the
    shares always sum to the payment exactly. When rounding pushes the
    earlier shares past the payment, the overshoot is walked back off
    the shares last to first.
  fifo: groups processed in the order given, each takes
    min(remaining, balance) until the payment is exhausted.
  equal: amount / groupCount per group (rounding remainder on the last
    share), each share capped at the group's balance. A capped group's
    shortfall is NOT redistributed; the payment may end up
    under-allocated and the difference is reported as Unallocated.

All three are deterministic given the same inputs. No floating point.
*/
package allocation

import (
	"github.com/shopspring/decimal"

	"github.com/warp/tab-engine/billing"
)

// Method selects how a payment is split across billing groups.
type Method string

const (
	MethodProportional Method = "proportional"
	MethodFIFO         Method = "fifo"
	MethodEqual        Method = "equal"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodProportional, MethodFIFO, MethodEqual:
		return Method(s), nil
	}
	return "", billing.NewValidationError("method", "must be one of proportional, fifo, equal")
}

// Share is one group's portion of a payment.
type Share struct {
	GroupID billing.GroupID
	Amount  billing.Money
}

// SplitResult carries the computed shares plus any portion of the
// payment that no group absorbed (equal method only).
type SplitResult struct {
	Shares      []Share
	Unallocated billing.Money
}

// Split computes the per-group shares for the payment amount. Groups are
// processed in the order given; order is significant for fifo and for
// which group absorbs rounding remainders.
func Split(amount billing.Money, groups []billing.BillingGroup, method Method) (SplitResult, error) {
	if len(groups) == 0 {
		return SplitResult{}, billing.NewBusinessRuleError("No billing groups found")
	}

	switch method {
	case MethodProportional:
		return splitProportional(amount, groups)
	case MethodFIFO:
		return splitFIFO(amount, groups), nil
	case MethodEqual:
		return splitEqual(amount, groups), nil
	}
	return SplitResult{}, billing.NewValidationError("method", "unknown allocation method")
}

func splitProportional(amount billing.Money, groups []billing.BillingGroup) (SplitResult, error) {
	sum := billing.ZeroMoney()
	for _, g := range groups {
		sum = sum.Add(g.CurrentBalance)
	}
	if !sum.IsPositive() {
		return SplitResult{}, billing.NewBusinessRuleError("no outstanding balance to allocate against")
	}

	shares := make([]Share, len(groups))
	allocated := billing.ZeroMoney()
	for i, g := range groups {
		var share billing.Money
		if i == len(groups)-1 {
			// Remainder cents land on the last group so the total
			// reconciles exactly with the payment amount.
			share = amount.Sub(allocated).ClampZero()
		} else {
			ratio := g.CurrentBalance.Value.Div(sum.Value)
			share = amount.Mul(ratio).Round2()
		}
		shares[i] = Share{GroupID: g.ID, Amount: share}
		allocated = allocated.Add(share)
	}
	trimExcess(shares, amount)
	return SplitResult{Shares: shares, Unallocated: billing.ZeroMoney()}, nil
}

// trimExcess walks a rounding overshoot back off the shares, last to
// first, so the shares never total more than the payment. Overshoot
// happens when every non-final nominal share rounds up, e.g. 0.02 split
// four ways rounds each half-cent share to 0.01.
func trimExcess(shares []Share, amount billing.Money) {
	total := billing.ZeroMoney()
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	excess := total.Sub(amount)
	for i := len(shares) - 1; i >= 0 && excess.IsPositive(); i-- {
		cut := excess.Min(shares[i].Amount)
		shares[i].Amount = shares[i].Amount.Sub(cut)
		excess = excess.Sub(cut)
	}
}

func splitFIFO(amount billing.Money, groups []billing.BillingGroup) SplitResult {
	shares := make([]Share, len(groups))
	remaining := amount
	for i, g := range groups {
		take := remaining.Min(g.CurrentBalance).ClampZero()
		shares[i] = Share{GroupID: g.ID, Amount: take}
		remaining = remaining.Sub(take)
	}
	return SplitResult{Shares: shares, Unallocated: remaining.ClampZero()}
}

func splitEqual(amount billing.Money, groups []billing.BillingGroup) SplitResult {
	n := decimal.NewFromInt(int64(len(groups)))
	base := amount.Div(n).Round2()

	shares := make([]Share, len(groups))
	dealt := billing.ZeroMoney()
	for i, g := range groups {
		share := base
		if i == len(groups)-1 {
			share = amount.Sub(dealt).ClampZero()
		}
		dealt = dealt.Add(share)

		// Cap at the group's balance. The shortfall is forfeited, not
		// redistributed: the payment may end up under-allocated.
		shares[i] = Share{GroupID: g.ID, Amount: share.Min(g.CurrentBalance)}
	}
	trimExcess(shares, amount)

	total := billing.ZeroMoney()
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	return SplitResult{Shares: shares, Unallocated: amount.Sub(total).ClampZero()}
}
