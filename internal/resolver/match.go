package resolver

import (
	"github.com/atomicswap/resolver/pkg/swap"
)

// MatchCandidate is a Pending order eligible for the optional matching
// pass (spec §4.3.6).
type MatchCandidate struct {
	OrderHash [32]byte
	Order     swap.CrossChainOrder
}

// Match is a pair of orders whose intents cross: a wants what b offers and
// vice versa, at equal amounts and compatible timelocks.
type Match struct {
	A, B swap.CrossChainOrder
}

// compatibleTimelocks requires each order's target timelock to satisfy I2
// against that same order's source timelock, since a match drives both
// orders through the same resolver instance concurrently.
func compatibleTimelocks(a, b swap.CrossChainOrder, skewSeconds int64) bool {
	return a.TargetTimelock+skewSeconds <= a.Timelock && b.TargetTimelock+skewSeconds <= b.Timelock
}

// matches reports whether a and b cross per spec §4.3.6's predicate:
// a.tokenIn == b.tokenOut, a.tokenOut == b.tokenIn, a.amountIn ==
// b.amountOut, a.amountOut == b.amountIn, and compatible timelocks.
func matches(a, b swap.CrossChainOrder, skewSeconds int64) bool {
	return a.TokenIn == b.TokenOut &&
		a.TokenOut == b.TokenIn &&
		a.AmountIn == b.AmountOut &&
		a.AmountOut == b.AmountIn &&
		compatibleTimelocks(a, b, skewSeconds)
}

// FindMatches runs the optional matching pass over a set of Pending
// orders, tie-breaking on oldest CreatedAt first (spec §4.3.6). Matching
// is advisory: an unmatched order still fulfills through the normal
// event-driven path, so a failure to match is never itself an error.
func FindMatches(candidates []MatchCandidate, requiredSkew int64) []Match {
	sorted := make([]MatchCandidate, len(candidates))
	copy(sorted, candidates)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Order.CreatedAt.Before(sorted[j-1].Order.CreatedAt); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	used := make(map[[32]byte]bool)
	var out []Match

	for i, a := range sorted {
		if used[a.OrderHash] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			b := sorted[j]
			if used[b.OrderHash] {
				continue
			}
			if matches(a.Order, b.Order, requiredSkew) {
				out = append(out, Match{A: a.Order, B: b.Order})
				used[a.OrderHash] = true
				used[b.OrderHash] = true
				break
			}
		}
	}

	return out
}
