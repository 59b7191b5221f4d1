package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/atomicswap/resolver/pkg/swap"
)

// TestTimeoutSweepRefundsSourceAfterTargetNeverLocks exercises spec
// scenario 2: the target leg never locks, the source timelock passes, and
// the sweep must submit a Refund on source, eventually reaching Refunded
// once the resulting HtlcRefunded event is observed.
func TestTimeoutSweepRefundsSourceAfterTargetNeverLocks(t *testing.T) {
	ctx := context.Background()
	e, src, _ := newTestEngine(t)

	var secret [32]byte
	copy(secret[:], []byte("supersecretsupersecretsupersecr"))
	order := newTestOrder(secret)
	// Put both timelocks in the near past so the sweep sees them as due.
	order.Timelock = time.Now().Add(-time.Minute).Unix()
	order.TargetTimelock = time.Now().Add(-2 * time.Hour).Unix()

	src.CreateOrder(order)
	events, _ := src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle OrderCreated: %v", err)
	}

	sourceHTLCID := src.LockHTLC(order.Maker, order.Receiver, order.TokenIn, order.AmountIn, order.Hashlock, order.Timelock)
	events, _ = src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle source HtlcCreated: %v", err)
	}

	got, ok := e.GetOrder(order.OrderHash)
	if !ok || got.State != swap.StateSourceLocked {
		t.Fatalf("expected SourceLocked before sweep, got %+v ok=%v", got, ok)
	}

	e.TimeoutSweep(ctx)

	sourceView, err := src.GetHTLC(ctx, sourceHTLCID)
	if err != nil || sourceView.Phase != swap.HTLCRefunded {
		t.Fatalf("expected sweep to refund source htlc, got %+v err=%v", sourceView, err)
	}

	events, _ = src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle source HtlcRefunded: %v", err)
	}

	got, ok = e.GetOrder(order.OrderHash)
	if !ok || got.State != swap.StateRefunded {
		t.Fatalf("expected Refunded after sweep + event, got %+v ok=%v", got, ok)
	}
}

// TestTimeoutSweepFlagsStillWaitingForTargetLock exercises the early
// give-up branch: once inside OrderTimeoutBuffer of the source deadline
// with no target lock yet, the order is flagged NeedsAttention without a
// state transition (the deadline itself, not this flag, drives the
// refund).
func TestTimeoutSweepFlagsStillWaitingForTargetLock(t *testing.T) {
	ctx := context.Background()
	e, src, _ := newTestEngine(t)

	var secret [32]byte
	copy(secret[:], []byte("supersecretsupersecretsupersecr"))
	order := newTestOrder(secret)
	order.Timelock = time.Now().Add(30 * time.Minute).Unix() // within the 1h OrderTimeoutBuffer
	order.TargetTimelock = time.Now().Add(10 * time.Minute).Unix()

	src.CreateOrder(order)
	events, _ := src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle OrderCreated: %v", err)
	}
	src.LockHTLC(order.Maker, order.Receiver, order.TokenIn, order.AmountIn, order.Hashlock, order.Timelock)
	events, _ = src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle source HtlcCreated: %v", err)
	}

	e.TimeoutSweep(ctx)

	got, ok := e.GetOrder(order.OrderHash)
	if !ok {
		t.Fatal("order vanished")
	}
	if got.State != swap.StateSourceLocked {
		t.Fatalf("expected state to remain SourceLocked before the deadline, got %v", got.State)
	}
	if !got.NeedsAttention {
		t.Fatal("expected NeedsAttention once inside the give-up window with no target lock")
	}
}

// TestTimeoutSweepSkipsHaltedOrder mirrors TestReconcileHaltsOnSourceRefundedWhileTargetStillLive's
// halted-order guard (reconcile.go:26): a halted order must not be touched
// by the sweep either, even once its source timelock has passed.
func TestTimeoutSweepSkipsHaltedOrder(t *testing.T) {
	ctx := context.Background()
	e, src, _ := newTestEngine(t)

	var secret [32]byte
	copy(secret[:], []byte("supersecretsupersecretsupersecr"))
	order := newTestOrder(secret)
	order.Timelock = time.Now().Add(-time.Minute).Unix() // already past due
	order.TargetTimelock = time.Now().Add(-2 * time.Hour).Unix()

	src.CreateOrder(order)
	events, _ := src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle OrderCreated: %v", err)
	}

	sourceHTLCID := src.LockHTLC(order.Maker, order.Receiver, order.TokenIn, order.AmountIn, order.Hashlock, order.Timelock)
	events, _ = src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle source HtlcCreated: %v", err)
	}

	if err := e.ResolveHalt(order.OrderHash); err == nil {
		t.Fatal("expected ResolveHalt to fail on a non-halted order")
	}
	_ = e.store.WithOrder(order.OrderHash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		o.NeedsAttention = true
		o.FailureReason = haltPrefix + "test: simulated critical invariant breach"
		return nil
	})

	e.TimeoutSweep(ctx)

	sourceView, err := src.GetHTLC(ctx, sourceHTLCID)
	if err != nil || sourceView.Phase != swap.HTLCLocked {
		t.Fatalf("expected sweep to leave a halted order's source htlc untouched, got %+v err=%v", sourceView, err)
	}
}
