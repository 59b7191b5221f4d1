package storage

import (
	"context"
	"testing"
	"time"

	"github.com/atomicswap/resolver/pkg/swap"
)

func testOrder(hashByte byte) swap.CrossChainOrder {
	var hash, lock [32]byte
	hash[0] = hashByte
	lock[0] = hashByte + 1

	return swap.CrossChainOrder{
		OrderHash:      hash,
		SourceChain:    "evm-sepolia",
		TargetChain:    "solana-devnet",
		TokenIn:        "USDC",
		TokenOut:       "USDC",
		AmountIn:       1_000_000,
		AmountOut:      999_000,
		Maker:          "0xmaker",
		Receiver:       "solrecv",
		Hashlock:       lock,
		Timelock:       time.Now().Add(2 * time.Hour).Unix(),
		TargetTimelock: time.Now().Add(1 * time.Hour).Unix(),
		State:          swap.StateSourceLocked,
		SourceHtlcID:   "src-htlc-1",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestOrderRepositorySaveAndLoadRoundTrips(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := DefaultConfig()

	db, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("cannot connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	repo := NewOrderRepository(db)
	order := testOrder(0x42)
	source := &swap.HTLCMirror{HTLCID: "src-htlc-1", Sender: order.Maker, Receiver: order.Receiver, Amount: order.AmountIn, Hashlock: order.Hashlock, Timelock: order.Timelock, Phase: swap.HTLCLocked}

	if err := repo.SaveOrderWithOutbox(ctx, order, source, nil); err != nil {
		t.Fatalf("SaveOrderWithOutbox failed: %v", err)
	}

	rec, src, tgt, err := repo.LoadOrder(ctx, order.OrderHash)
	if err != nil {
		t.Fatalf("LoadOrder failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a persisted order, got nil")
	}
	if rec.State != string(swap.StateSourceLocked) {
		t.Fatalf("state = %s, want SourceLocked", rec.State)
	}
	if src == nil || src.HTLCID != "src-htlc-1" {
		t.Fatalf("expected source mirror to round-trip, got %+v", src)
	}
	if tgt != nil {
		t.Fatalf("expected no target mirror, got %+v", tgt)
	}

	pending, err := repo.FetchPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("FetchPendingOutbox failed: %v", err)
	}

	var found bool
	for _, msg := range pending {
		if msg.OrderHash == rec.OrderHash {
			found = true
			if msg.State != swap.StateSourceLocked {
				t.Fatalf("outbox state = %s, want SourceLocked", msg.State)
			}
		}
	}
	if !found {
		t.Fatal("expected a pending outbox row for the saved order")
	}
}

func TestCursorRepositoryGetSet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := DefaultConfig()

	db, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("cannot connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	repo := NewCursorRepository(db)
	chain := swap.ChainID("evm-sepolia-cursor-test")

	if _, found, err := repo.Get(ctx, chain); err != nil || found {
		t.Fatalf("expected no cursor yet, found=%v err=%v", found, err)
	}

	if err := repo.Set(ctx, chain, 12345); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	height, found, err := repo.Get(ctx, chain)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || height != 12345 {
		t.Fatalf("height = %d, found = %v, want 12345/true", height, found)
	}
}
