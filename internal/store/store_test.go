package store

import (
	"testing"
	"time"

	"github.com/atomicswap/resolver/pkg/swap"
)

func testOrder(hash byte) swap.CrossChainOrder {
	var h [32]byte
	h[0] = hash
	return swap.CrossChainOrder{
		OrderHash:   h,
		SourceChain: "ethereum",
		TargetChain: "solana",
		State:       swap.StatePending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func TestInsertAndGet(t *testing.T) {
	s := New()
	order := testOrder(1)

	if err := s.Insert(order); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok := s.GetOrder(order.OrderHash)
	if !ok {
		t.Fatalf("GetOrder: not found")
	}
	if got.State != swap.StatePending {
		t.Errorf("state = %v, want Pending", got.State)
	}
}

func TestInsertDuplicateIsNoop(t *testing.T) {
	s := New()
	order := testOrder(1)

	if err := s.Insert(order); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(order); err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if s.Stats().Total != 1 {
		t.Errorf("Total = %d, want 1", s.Stats().Total)
	}
}

func TestSeenEventDedup(t *testing.T) {
	s := New()
	key := swap.EventDedupKey{Chain: "ethereum", TxID: "0xabc", LogIndex: 0}

	if s.SeenEvent(key) {
		t.Fatalf("first SeenEvent should be false")
	}
	if !s.SeenEvent(key) {
		t.Fatalf("second SeenEvent should be true")
	}
}

func TestWithOrderMutatesAndTouchesUpdatedAt(t *testing.T) {
	s := New()
	order := testOrder(1)
	if err := s.Insert(order); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	before, _ := s.GetOrder(order.OrderHash)

	err := s.WithOrder(order.OrderHash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		o.State = swap.StateSourceLocked
		o.SourceHtlcID = "htlc-1"
		return nil
	})
	if err != nil {
		t.Fatalf("WithOrder: %v", err)
	}

	after, _ := s.GetOrder(order.OrderHash)
	if after.State != swap.StateSourceLocked {
		t.Errorf("state = %v, want SourceLocked", after.State)
	}
	if after.SourceHtlcID != "htlc-1" {
		t.Errorf("SourceHtlcID = %q, want htlc-1", after.SourceHtlcID)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) && after.UpdatedAt != before.UpdatedAt {
		t.Errorf("UpdatedAt did not advance")
	}
}

func TestWithOrderUnknownHash(t *testing.T) {
	s := New()
	var hash [32]byte
	err := s.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		return nil
	})
	if err != swap.ErrOrderNotFound {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestSecretLifecycle(t *testing.T) {
	s := New()
	var hash [32]byte
	hash[0] = 1
	secret := [32]byte{9, 9, 9}

	if _, ok := s.Secret(hash); ok {
		t.Fatalf("expected no secret initially")
	}

	s.StoreSecret(hash, secret)
	got, ok := s.Secret(hash)
	if !ok || got != secret {
		t.Fatalf("Secret = %v, %v, want %v, true", got, ok, secret)
	}

	s.ClearSecret(hash)
	if _, ok := s.Secret(hash); ok {
		t.Fatalf("expected secret cleared")
	}
}

func TestCapacityEvictsOldestTerminal(t *testing.T) {
	s := New()

	terminalOrder := testOrder(1)
	terminalOrder.State = swap.StateFulfilled
	if err := s.Insert(terminalOrder); err != nil {
		t.Fatalf("Insert terminal: %v", err)
	}

	for i := 2; i <= MaxPendingOrders; i++ {
		o := testOrder(byte(i % 256))
		o.OrderHash[1] = byte(i / 256)
		if err := s.Insert(o); err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
	}

	if s.Stats().Total != MaxPendingOrders {
		t.Fatalf("Total = %d, want %d", s.Stats().Total, MaxPendingOrders)
	}

	newOrder := testOrder(250)
	newOrder.OrderHash[1] = 250
	if err := s.Insert(newOrder); err != nil {
		t.Fatalf("Insert at capacity should evict terminal, got: %v", err)
	}

	if _, ok := s.GetOrder(terminalOrder.OrderHash); ok {
		t.Errorf("terminal order should have been evicted")
	}
	if s.Stats().Total != MaxPendingOrders {
		t.Errorf("Total = %d, want %d after eviction+insert", s.Stats().Total, MaxPendingOrders)
	}
}

func TestCapacityRejectsWhenNoneTerminal(t *testing.T) {
	s := New()

	for i := 1; i <= MaxPendingOrders; i++ {
		o := testOrder(byte(i % 256))
		o.OrderHash[1] = byte(i / 256)
		o.State = swap.StatePending
		if err := s.Insert(o); err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
	}

	overflow := testOrder(250)
	overflow.OrderHash[1] = 250
	overflow.SourceChain = "ethereum"
	if err := s.Insert(overflow); err != ErrStoreFull {
		t.Fatalf("err = %v, want ErrStoreFull", err)
	}

	if !s.IsBackpressured("ethereum") {
		t.Errorf("expected source chain flagged backpressured")
	}
}

func TestSnapshotAndEvict(t *testing.T) {
	s := New()
	order := testOrder(1)
	order.State = swap.StateFulfilled
	if err := s.Insert(order); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	snap, ok := s.SnapshotAndEvict(order.OrderHash)
	if !ok {
		t.Fatalf("SnapshotAndEvict: not found")
	}
	if snap.Order.OrderHash != order.OrderHash {
		t.Errorf("snapshot order hash mismatch")
	}

	if _, ok := s.GetOrder(order.OrderHash); ok {
		t.Errorf("order should be gone after SnapshotAndEvict")
	}
}

func TestAllNonTerminalExcludesTerminal(t *testing.T) {
	s := New()

	pending := testOrder(1)
	fulfilled := testOrder(2)
	fulfilled.State = swap.StateFulfilled

	if err := s.Insert(pending); err != nil {
		t.Fatalf("Insert pending: %v", err)
	}
	if err := s.Insert(fulfilled); err != nil {
		t.Fatalf("Insert fulfilled: %v", err)
	}

	nonTerminal := s.AllNonTerminal()
	if len(nonTerminal) != 1 || nonTerminal[0] != pending.OrderHash {
		t.Errorf("AllNonTerminal = %v, want only pending order", nonTerminal)
	}
}
