package feecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/pkg/swap"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cache, err := Connect(context.Background(), Config{Addr: mr.Addr(), KeyPrefix: "test:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestFeeQuoteRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := cache.GetFeeQuote(ctx, swap.ChainID("evm-sepolia")); err != nil || ok {
		t.Fatalf("expected no quote before any Put, got ok=%v err=%v", ok, err)
	}

	quote := chain.FeeQuote{
		Chain:     swap.ChainID("evm-sepolia"),
		GasPrice:  42_000_000_000,
		GasTipCap: 1_500_000_000,
		FetchedAt: time.Now().Truncate(time.Second),
	}
	if err := cache.PutFeeQuote(ctx, quote); err != nil {
		t.Fatalf("put fee quote: %v", err)
	}

	got, ok, err := cache.GetFeeQuote(ctx, quote.Chain)
	if err != nil || !ok {
		t.Fatalf("expected quote to round-trip, got ok=%v err=%v", ok, err)
	}
	if got.GasPrice != quote.GasPrice || got.GasTipCap != quote.GasTipCap {
		t.Fatalf("round-tripped quote mismatch: got %+v want %+v", got, quote)
	}
}

func TestFeeQuotePerChainIsolation(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	a := chain.FeeQuote{Chain: swap.ChainID("evm-sepolia"), GasPrice: 10}
	b := chain.FeeQuote{Chain: swap.ChainID("solana-devnet"), GasPrice: 20}
	if err := cache.PutFeeQuote(ctx, a); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := cache.PutFeeQuote(ctx, b); err != nil {
		t.Fatalf("put b: %v", err)
	}

	gotA, _, err := cache.GetFeeQuote(ctx, a.Chain)
	if err != nil || gotA.GasPrice != a.GasPrice {
		t.Fatalf("chain a quote clobbered: got %+v err=%v", gotA, err)
	}
	gotB, _, err := cache.GetFeeQuote(ctx, b.Chain)
	if err != nil || gotB.GasPrice != b.GasPrice {
		t.Fatalf("chain b quote clobbered: got %+v err=%v", gotB, err)
	}
}

func TestAcquireSubmitSlotEnforcesMaxConcurrent(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	chainID := swap.ChainID("evm-sepolia")

	ok1, err := cache.AcquireSubmitSlot(ctx, chainID, 2)
	if err != nil || !ok1 {
		t.Fatalf("expected first slot to be granted, got ok=%v err=%v", ok1, err)
	}
	ok2, err := cache.AcquireSubmitSlot(ctx, chainID, 2)
	if err != nil || !ok2 {
		t.Fatalf("expected second slot to be granted, got ok=%v err=%v", ok2, err)
	}
	ok3, err := cache.AcquireSubmitSlot(ctx, chainID, 2)
	if err != nil || ok3 {
		t.Fatalf("expected third slot to be denied, got ok=%v err=%v", ok3, err)
	}

	if err := cache.ReleaseSubmitSlot(ctx, chainID); err != nil {
		t.Fatalf("release slot: %v", err)
	}
	ok4, err := cache.AcquireSubmitSlot(ctx, chainID, 2)
	if err != nil || !ok4 {
		t.Fatalf("expected slot to be granted after release, got ok=%v err=%v", ok4, err)
	}
}
