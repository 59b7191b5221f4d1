package resolver

import (
	"context"
	"testing"

	"github.com/atomicswap/resolver/pkg/swap"
)

// TestReconcileRevertsTargetLockedWhenTargetViewDiverges exercises spec
// scenario 6: the resolver's internal mirror still shows a live target
// lock, but the authoritative on-chain view no longer does (forked out, or
// — as driven here — refunded without the resolver having observed the
// event yet). Reconciliation must revert the order to SourceLocked rather
// than leave it stuck claiming a lock that no longer exists.
func TestReconcileRevertsTargetLockedWhenTargetViewDiverges(t *testing.T) {
	ctx := context.Background()
	e, src, tgt := newTestEngine(t)

	var secret [32]byte
	copy(secret[:], []byte("supersecretsupersecretsupersecr"))
	order := newTestOrder(secret)

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

	targetHTLCID := tgt.LockHTLC("resolver", order.Receiver, order.TokenOut, order.AmountOut, order.Hashlock, order.TargetTimelock)
	events, _ = tgt.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle target HtlcCreated: %v", err)
	}

	got, ok := e.GetOrder(order.OrderHash)
	if !ok || got.State != swap.StateTargetLocked {
		t.Fatalf("expected TargetLocked before divergence, got %+v ok=%v", got, ok)
	}

	// Diverge: the target htlc resolves on chain without the resolver
	// having consumed the resulting event yet.
	if err := tgt.Refund(targetHTLCID, order.TargetTimelock+1); err != nil {
		t.Fatalf("simulate target refund: %v", err)
	}

	e.Reconcile(ctx)

	got, ok = e.GetOrder(order.OrderHash)
	if !ok {
		t.Fatal("order vanished during reconciliation")
	}
	if got.State != swap.StateSourceLocked {
		t.Fatalf("expected revert to SourceLocked, got %v", got.State)
	}
	if got.TargetHtlcID != "" {
		t.Fatalf("expected TargetHtlcID cleared, got %q", got.TargetHtlcID)
	}

	_, target, _ := e.store.GetHTLCMirrors(order.OrderHash)
	if target != nil {
		t.Fatalf("expected target mirror cleared, got %+v", target)
	}
}

// TestReconcileHaltsOnSourceRefundedWhileTargetStillLive exercises row 4
// of the reconciliation table: a source refund observed on chain while the
// target htlc remains claimable is a critical invariant breach (the
// resolver should never have let both sides resolve in incompatible
// directions) and must halt the order for an operator rather than silently
// continue driving it.
func TestReconcileHaltsOnSourceRefundedWhileTargetStillLive(t *testing.T) {
	ctx := context.Background()
	e, src, tgt := newTestEngine(t)

	var secret [32]byte
	copy(secret[:], []byte("supersecretsupersecretsupersecr"))
	order := newTestOrder(secret)

	src.CreateOrder(order)
	events, _ := src.QueryEvents(ctx, 0, 0)
	_ = e.HandleEvent(ctx, latest(t, events))

	sourceHTLCID := src.LockHTLC(order.Maker, order.Receiver, order.TokenIn, order.AmountIn, order.Hashlock, order.Timelock)
	events, _ = src.QueryEvents(ctx, 0, 0)
	_ = e.HandleEvent(ctx, latest(t, events))

	tgt.LockHTLC("resolver", order.Receiver, order.TokenOut, order.AmountOut, order.Hashlock, order.TargetTimelock)
	events, _ = tgt.QueryEvents(ctx, 0, 0)
	_ = e.HandleEvent(ctx, latest(t, events))

	// The source side resolves (refund) on chain without the resolver
	// having observed the event yet, while the target htlc is still live.
	if err := src.Refund(sourceHTLCID, order.Timelock+1); err != nil {
		t.Fatalf("simulate source refund: %v", err)
	}

	e.Reconcile(ctx)

	got, ok := e.GetOrder(order.OrderHash)
	if !ok {
		t.Fatal("order vanished during reconciliation")
	}
	if !got.NeedsAttention {
		t.Fatal("expected order to be flagged NeedsAttention (halted) for operator action")
	}
	if !isHalted(got) {
		t.Fatalf("expected FailureReason to carry the halt prefix, got %q", got.FailureReason)
	}

	if err := e.ResolveHalt(order.OrderHash); err != nil {
		t.Fatalf("ResolveHalt: %v", err)
	}
	got, _ = e.GetOrder(order.OrderHash)
	if got.NeedsAttention || isHalted(got) {
		t.Fatalf("expected halt cleared after ResolveHalt, got %+v", got)
	}
}
