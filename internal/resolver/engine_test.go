package resolver

import (
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/internal/chain/fake"
	"github.com/atomicswap/resolver/internal/store"
	"github.com/atomicswap/resolver/pkg/swap"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine wires an Engine against two fake chains and returns the
// engine alongside the chains, so tests can drive them directly the way
// the real adapters' Run loops would observe chain activity.
func newTestEngine(t *testing.T) (*Engine, *fake.Chain, *fake.Chain) {
	t.Helper()

	src := fake.New(swap.ChainID("ethereum"), 0)
	tgt := fake.New(swap.ChainID("solana"), 0)

	adapters := map[swap.ChainID]chain.Adapter{
		src.Chain(): src,
		tgt.Chain(): tgt,
	}

	st := store.New()
	cfg := DefaultConfig()
	e := NewEngine(cfg, st, adapters, nil, nil, nil, testLogger())
	return e, src, tgt
}

// newTestOrder builds a CrossChainOrder whose timelocks satisfy I2's skew
// requirement against the engine's default RequiredSkew.
func newTestOrder(secret [32]byte) swap.CrossChainOrder {
	hashlock := sha256.Sum256(secret[:])
	now := time.Now()
	var hash [32]byte
	copy(hash[:], []byte("order-happy-path-000000000000000"))

	return swap.CrossChainOrder{
		OrderHash:      hash,
		SourceChain:    swap.ChainID("ethereum"),
		TargetChain:    swap.ChainID("solana"),
		TokenIn:        "ETH",
		TokenOut:       "SOL",
		AmountIn:       100,
		AmountOut:      200,
		Maker:          "maker-1",
		Receiver:       "receiver-1",
		Hashlock:       hashlock,
		Timelock:       now.Add(24 * time.Hour).Unix(),
		TargetTimelock: now.Add(12 * time.Hour).Unix(),
		CreatedAt:      now,
	}
}

func latest(t *testing.T, events []swap.Event) swap.Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	return events[len(events)-1]
}

// TestHappyPathNativeToNative exercises spec scenario 1: maker locks on the
// source chain, the resolver mirrors the lock on the target chain, the
// receiver claims on target revealing the secret, and the resolver
// propagates the claim back to source, reaching Fulfilled.
func TestHappyPathNativeToNative(t *testing.T) {
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

	got, ok := e.GetOrder(order.OrderHash)
	if !ok || got.State != swap.StateSourceLocked {
		t.Fatalf("expected SourceLocked after OrderCreated, got %+v ok=%v", got, ok)
	}

	sourceHTLCID := src.LockHTLC(order.Maker, order.Receiver, order.TokenIn, order.AmountIn, order.Hashlock, order.Timelock)
	events, _ = src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle source HtlcCreated: %v", err)
	}

	targetHTLCID := tgt.LockHTLC("resolver", order.Receiver, order.TokenOut, order.AmountOut, order.Hashlock, order.TargetTimelock)
	events, _ = tgt.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle target HtlcCreated: %v", err)
	}

	got, ok = e.GetOrder(order.OrderHash)
	if !ok || got.State != swap.StateTargetLocked {
		t.Fatalf("expected TargetLocked, got %+v ok=%v", got, ok)
	}

	if err := tgt.Claim(targetHTLCID, secret); err != nil {
		t.Fatalf("target claim: %v", err)
	}
	events, _ = tgt.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle target HtlcClaimed: %v", err)
	}

	// The engine should have submitted a counter-claim on source itself;
	// surface the resulting event the way a real adapter's Run loop would.
	events, _ = src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle source HtlcClaimed: %v", err)
	}

	got, ok = e.GetOrder(order.OrderHash)
	if !ok || got.State != swap.StateFulfilled {
		t.Fatalf("expected Fulfilled, got %+v ok=%v", got, ok)
	}

	if _, ok := e.store.Secret(order.OrderHash); ok {
		t.Fatal("expected secret to be cleared once order is Fulfilled")
	}

	sourceView, err := src.GetHTLC(ctx, sourceHTLCID)
	if err != nil || sourceView.Phase != swap.HTLCClaimed {
		t.Fatalf("expected source htlc claimed, got %+v err=%v", sourceView, err)
	}
}

// TestClaimWrongSecretIsRejected exercises spec scenario 3: a claim attempt
// with a secret that does not hash to the order's hashlock must fail on
// chain and never produce an HtlcClaimed event or state transition.
func TestClaimWrongSecretIsRejected(t *testing.T) {
	ctx := context.Background()
	e, src, tgt := newTestEngine(t)

	var secret, wrongSecret [32]byte
	copy(secret[:], []byte("supersecretsupersecretsupersecr"))
	copy(wrongSecret[:], []byte("totallydifferenttotallydifferen"))
	order := newTestOrder(secret)

	src.CreateOrder(order)
	events, _ := src.QueryEvents(ctx, 0, 0)
	_ = e.HandleEvent(ctx, latest(t, events))

	src.LockHTLC(order.Maker, order.Receiver, order.TokenIn, order.AmountIn, order.Hashlock, order.Timelock)
	events, _ = src.QueryEvents(ctx, 0, 0)
	_ = e.HandleEvent(ctx, latest(t, events))

	targetHTLCID := tgt.LockHTLC("resolver", order.Receiver, order.TokenOut, order.AmountOut, order.Hashlock, order.TargetTimelock)
	events, _ = tgt.QueryEvents(ctx, 0, 0)
	_ = e.HandleEvent(ctx, latest(t, events))

	before, _ := tgt.QueryEvents(ctx, 0, 0)

	err := tgt.Claim(targetHTLCID, wrongSecret)
	if err != swap.ErrSecretMismatch {
		t.Fatalf("expected ErrSecretMismatch, got %v", err)
	}

	after, _ := tgt.QueryEvents(ctx, 0, 0)
	if len(after) != len(before) {
		t.Fatalf("expected no new event on a rejected claim, before=%d after=%d", len(before), len(after))
	}

	got, ok := e.GetOrder(order.OrderHash)
	if !ok || got.State != swap.StateTargetLocked {
		t.Fatalf("expected order to remain TargetLocked, got %+v ok=%v", got, ok)
	}
}

// TestHandleEventIsIdempotentOnReplay exercises spec scenario 5: the same
// event delivered twice (as happens after an Ingestor crash/restart
// replaying from its last persisted cursor) must not be applied twice.
func TestHandleEventIsIdempotentOnReplay(t *testing.T) {
	ctx := context.Background()
	e, src, _ := newTestEngine(t)

	var secret [32]byte
	copy(secret[:], []byte("supersecretsupersecretsupersecr"))
	order := newTestOrder(secret)

	src.CreateOrder(order)
	events, _ := src.QueryEvents(ctx, 0, 0)
	createdEvent := latest(t, events)

	if err := e.HandleEvent(ctx, createdEvent); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	firstState, _ := e.GetOrder(order.OrderHash)

	// Replay the identical event a second time.
	if err := e.HandleEvent(ctx, createdEvent); err != nil {
		t.Fatalf("replayed handle: %v", err)
	}
	secondState, _ := e.GetOrder(order.OrderHash)

	if firstState != secondState {
		t.Fatalf("replay mutated order state: first=%+v second=%+v", firstState, secondState)
	}

	sourceHTLCID := src.LockHTLC(order.Maker, order.Receiver, order.TokenIn, order.AmountIn, order.Hashlock, order.Timelock)
	events, _ = src.QueryEvents(ctx, 0, 0)
	lockedEvent := latest(t, events)

	if err := e.HandleEvent(ctx, lockedEvent); err != nil {
		t.Fatalf("handle HtlcCreated: %v", err)
	}
	if err := e.HandleEvent(ctx, lockedEvent); err != nil {
		t.Fatalf("replayed handle HtlcCreated: %v", err)
	}

	got, ok := e.GetOrder(order.OrderHash)
	if !ok {
		t.Fatal("order vanished after replay")
	}
	if got.SourceHtlcID != sourceHTLCID {
		t.Fatalf("expected SourceHtlcID %q, got %q", sourceHTLCID, got.SourceHtlcID)
	}

	source, _, _ := e.store.GetHTLCMirrors(order.OrderHash)
	if source == nil || source.Phase != swap.HTLCLocked {
		t.Fatalf("expected source mirror Locked exactly once, got %+v", source)
	}
}

// TestOrderCreatedRejectsSkewViolation exercises I2: a target timelock that
// does not leave the required skew against the source timelock must drive
// the order straight to Failed rather than SourceLocked.
func TestOrderCreatedRejectsSkewViolation(t *testing.T) {
	ctx := context.Background()
	e, src, _ := newTestEngine(t)

	var secret [32]byte
	copy(secret[:], []byte("supersecretsupersecretsupersecr"))
	order := newTestOrder(secret)
	// Violate I2: target timelock sits within the required skew of source.
	order.TargetTimelock = order.Timelock - 1

	src.CreateOrder(order)
	events, _ := src.QueryEvents(ctx, 0, 0)
	if err := e.HandleEvent(ctx, latest(t, events)); err != nil {
		t.Fatalf("handle OrderCreated: %v", err)
	}

	got, ok := e.GetOrder(order.OrderHash)
	if !ok || got.State != swap.StateFailed {
		t.Fatalf("expected Failed on skew violation, got %+v ok=%v", got, ok)
	}
}

// TestOrderCreatedRelaysToTargetChain exercises spec §4.3.2's first row:
// handling OrderCreated must submit ProcessIncomingOrder on the target
// chain to mirror the order there, not merely note the order locally.
func TestOrderCreatedRelaysToTargetChain(t *testing.T) {
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

	if !tgt.WasRelayed(order.OrderHash) {
		t.Fatal("expected ProcessIncomingOrder to be submitted on the target chain")
	}
}
