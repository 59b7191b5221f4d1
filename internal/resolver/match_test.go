package resolver

import (
	"testing"
	"time"

	"github.com/atomicswap/resolver/pkg/swap"
)

func candidate(hashByte byte, tokenIn, tokenOut string, amountIn, amountOut uint64, createdAt time.Time) MatchCandidate {
	var hash [32]byte
	hash[0] = hashByte
	return MatchCandidate{
		OrderHash: hash,
		Order: swap.CrossChainOrder{
			OrderHash:      hash,
			TokenIn:        tokenIn,
			TokenOut:       tokenOut,
			AmountIn:       amountIn,
			AmountOut:      amountOut,
			Timelock:       createdAt.Add(24 * time.Hour).Unix(),
			TargetTimelock: createdAt.Add(12 * time.Hour).Unix(),
			CreatedAt:      createdAt,
		},
	}
}

func TestFindMatchesPairsCrossingOrders(t *testing.T) {
	now := time.Now()
	a := candidate(1, "ETH", "SOL", 100, 200, now)
	b := candidate(2, "SOL", "ETH", 200, 100, now.Add(time.Minute))

	matches := FindMatches([]MatchCandidate{a, b}, int64((10 * time.Minute).Seconds()))
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].A.OrderHash != a.Order.OrderHash || matches[0].B.OrderHash != b.Order.OrderHash {
		t.Fatalf("expected a matched with b in insertion order, got %+v", matches[0])
	}
}

func TestFindMatchesSkipsNonCrossingOrders(t *testing.T) {
	now := time.Now()
	a := candidate(1, "ETH", "SOL", 100, 200, now)
	b := candidate(2, "ETH", "SOL", 100, 200, now.Add(time.Minute)) // same direction, never crosses a

	matches := FindMatches([]MatchCandidate{a, b}, int64((10 * time.Minute).Seconds()))
	if len(matches) != 0 {
		t.Fatalf("expected no matches for non-crossing orders, got %d", len(matches))
	}
}

func TestFindMatchesRejectsIncompatibleSkew(t *testing.T) {
	now := time.Now()
	a := candidate(1, "ETH", "SOL", 100, 200, now)
	b := candidate(2, "SOL", "ETH", 200, 100, now.Add(time.Minute))
	// Push b's target timelock to violate the skew requirement against its own source timelock.
	b.Order.TargetTimelock = b.Order.Timelock - 1

	matches := FindMatches([]MatchCandidate{a, b}, int64((10 * time.Minute).Seconds()))
	if len(matches) != 0 {
		t.Fatalf("expected no match when skew is incompatible, got %d", len(matches))
	}
}
