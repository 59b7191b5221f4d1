// Package resolver implements the protocol engine: the order/HTLC state
// machine, secret propagation, timeout-driven refund, and reconciliation.
// It is the "hard core" component; everything else in this module exists
// to feed it events or carry out the chain actions it emits.
package resolver

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/internal/store"
	"github.com/atomicswap/resolver/pkg/swap"
)

// Engine is the Resolver / Protocol Engine of spec §4.3. It holds no
// global mutable state of its own — everything mutable lives in the
// Store — and reaches chains only through the chain.Adapter handles it
// was constructed with (Design Note: DAG-shaped wiring, no
// back-references).
type Engine struct {
	cfg         Config
	store       *store.Store
	adapters    map[swap.ChainID]chain.Adapter
	notifier    StateNotifier
	archiver    Archiver
	persistence PersistenceHook
	logger      *slog.Logger
}

// NewEngine constructs an Engine. adapters must contain an entry for every
// chain any order this engine will see can reference.
func NewEngine(cfg Config, st *store.Store, adapters map[swap.ChainID]chain.Adapter, notifier StateNotifier, archiver Archiver, persistence PersistenceHook, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if archiver == nil {
		archiver = NopArchiver{}
	}
	if persistence == nil {
		persistence = NopPersistenceHook{}
	}
	return &Engine{
		cfg:         cfg,
		store:       st,
		adapters:    adapters,
		notifier:    notifier,
		archiver:    archiver,
		persistence: persistence,
		logger:      logger.With("component", "resolver"),
	}
}

// hashSecret is H(·) fixed per deployment (glossary): SHA-256.
func hashSecret(secret [32]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func secretMatchesHashlock(secret, hashlock [32]byte) bool {
	return hashSecret(secret) == hashlock
}

func (e *Engine) adapterFor(chainID swap.ChainID) (chain.Adapter, error) {
	a, ok := e.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for chain %q", chainID)
	}
	return a, nil
}

func (e *Engine) setState(ctx context.Context, hash [32]byte, state swap.OrderState) {
	if err := e.notifier.NotifyState(ctx, hash, state); err != nil {
		e.logger.Warn("state notification failed", "order", fmt.Sprintf("%x", hash), "state", state, "error", err)
	}

	order, ok := e.store.GetOrder(hash)
	if !ok {
		return
	}
	source, target, _ := e.store.GetHTLCMirrors(hash)
	if err := e.persistence.Persist(ctx, order, source, target); err != nil {
		e.logger.Warn("state persistence failed", "order", fmt.Sprintf("%x", hash), "state", state, "error", err)
	}
}

// HandleEvent implements spec §4.3.2's onEvent(e): idempotent dispatch by
// event kind. It never returns an error to its caller except when the
// de-dup/dispatch bookkeeping itself fails — handler-level failures are
// converted into order-state annotations and log lines, per spec §7
// ("Resolver handlers never raise out of onEvent").
func (e *Engine) HandleEvent(ctx context.Context, ev swap.Event) error {
	if e.store.SeenEvent(ev.Key()) {
		return nil
	}

	switch ev.Kind {
	case swap.EventOrderCreated:
		e.handleOrderCreated(ctx, ev)
	case swap.EventHtlcCreated:
		e.handleHtlcCreated(ctx, ev)
	case swap.EventHtlcClaimed:
		e.handleHtlcClaimed(ctx, ev)
	case swap.EventHtlcRefunded:
		e.handleHtlcRefunded(ctx, ev)
	case swap.EventOrderFulfilled, swap.EventOrderRefunded:
		e.handleAdvisory(ctx, ev)
	default:
		e.logger.Warn("unknown event kind", "kind", ev.Kind)
	}

	return nil
}

// handleOrderCreated implements the first row of spec §4.3.2's table:
// insert Pending, transition to SourceLocked, and enqueue the relay
// action that mirrors the order on the target chain via
// ProcessIncomingOrder. The relay submission happens inline, right after
// the order record is established, via submitRelayToTarget.
func (e *Engine) handleOrderCreated(ctx context.Context, ev swap.Event) {
	hash := ev.Payload.OrderHash

	if existing, ok := e.store.GetOrder(hash); ok {
		_ = existing // I6: a second OrderCreated for a known order is a no-op
		return
	}

	adapter, err := e.adapterFor(ev.Chain)
	if err != nil {
		e.logger.Error("handleOrderCreated: no adapter for chain", "chain", ev.Chain, "error", err)
		return
	}

	order, err := adapter.GetOrder(ctx, hash)
	if err != nil {
		e.logger.Error("handleOrderCreated: GetOrder failed, order left unobserved", "order", fmt.Sprintf("%x", hash), "error", err)
		return
	}

	if order.TargetTimelock+int64(e.cfg.RequiredSkew.Seconds()) > order.Timelock {
		e.logger.Error("handleOrderCreated: I2 timelock skew violation", "order", fmt.Sprintf("%x", hash))
		order.State = swap.StateFailed
		order.FailureReason = swap.ErrInvalidTimelock.Error()
		if err := e.store.Insert(*order); err != nil {
			e.logger.Error("handleOrderCreated: insert failed order", "error", err)
		}
		return
	}

	order.State = swap.StateSourceLocked
	if err := e.store.Insert(*order); err != nil {
		e.logger.Error("handleOrderCreated: insert rejected", "order", fmt.Sprintf("%x", hash), "error", err)
		return
	}

	e.setState(ctx, hash, swap.StateSourceLocked)
	e.submitRelayToTarget(ctx, hash, *order)
}

// submitRelayToTarget implements spec §4.3.2's "enqueue relay action to
// create target-side order record on chain B (via ProcessIncomingOrder)".
// The target bridge contract records the mirrored order; the actual
// target-side HTLC lock is a separate on-chain action observed later as
// HtlcCreated(tgt). A SubmitExhausted failure here flags the order
// NeedsAttention rather than failing it outright — reconciliation still
// sees sourceView locked and can retry once an operator clears the flag.
func (e *Engine) submitRelayToTarget(ctx context.Context, hash [32]byte, order swap.CrossChainOrder) {
	adapter, err := e.adapterFor(order.TargetChain)
	if err != nil {
		e.logger.Error("submitRelayToTarget: no adapter", "chain", order.TargetChain, "error", err)
		return
	}

	_, err = adapter.Submit(ctx, chain.Action{
		Kind:      chain.ActionProcessIncomingOrder,
		OrderHash: hash,
		Hashlock:  order.Hashlock,
		Timelock:  order.TargetTimelock,
	})
	if err != nil {
		kind, _ := swap.KindOf(err)
		e.logger.Error("submitRelayToTarget: submit failed", "order", fmt.Sprintf("%x", hash), "kind", kind, "error", err)
		if kind == swap.KindSubmitExhausted {
			_ = e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
				o.NeedsAttention = true
				return nil
			})
		}
	}
}

// handleHtlcCreated implements the HtlcCreated(src)/HtlcCreated(tgt) rows
// of spec §4.3.2. Which leg the event belongs to is determined by
// comparing ev.Chain against the order's SourceChain/TargetChain.
func (e *Engine) handleHtlcCreated(ctx context.Context, ev swap.Event) {
	hash, ok := e.store.OrderByHashlock(ev.Payload.Hashlock)
	if !ok {
		e.logger.Debug("handleHtlcCreated: no order for hashlock, ignoring", "chain", ev.Chain)
		return
	}

	var becameFailed bool

	err := e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		mirror := &swap.HTLCMirror{
			HTLCID:   ev.Payload.HtlcID,
			Sender:   ev.Payload.Sender,
			Receiver: ev.Payload.Receiver,
			Token:    ev.Payload.Token,
			Amount:   ev.Payload.Amount,
			Hashlock: ev.Payload.Hashlock,
			Timelock: ev.Payload.Timelock,
			Phase:    swap.HTLCLocked,
		}

		switch ev.Chain {
		case o.SourceChain:
			if *source != nil {
				return nil // I6: live HTLC already recorded for this side
			}

			if ev.Payload.Amount != o.AmountIn || ev.Payload.Hashlock != o.Hashlock || ev.Payload.Timelock != o.Timelock {
				o.State = swap.StateFailed
				o.FailureReason = "source HtlcCreated mismatches order amount/hashlock/timelock"
				becameFailed = true
				return nil
			}

			*source = mirror
			o.SourceHtlcID = mirror.HTLCID

		case o.TargetChain:
			if *target != nil {
				return nil
			}

			if ev.Payload.Hashlock != o.Hashlock {
				o.State = swap.StateFailed
				o.FailureReason = "target HtlcCreated hashlock mismatch"
				becameFailed = true
				return nil
			}
			if ev.Payload.Timelock+int64(e.cfg.RequiredSkew.Seconds()) > o.Timelock {
				o.State = swap.StateFailed
				o.FailureReason = "target HtlcCreated violates timelock skew (I2)"
				becameFailed = true
				return nil
			}

			*target = mirror
			o.TargetHtlcID = mirror.HTLCID
			if o.State == swap.StateSourceLocked {
				o.State = swap.StateTargetLocked
			}

		default:
			e.logger.Warn("handleHtlcCreated: event chain matches neither leg", "chain", ev.Chain, "order", fmt.Sprintf("%x", hash))
		}

		return nil
	})
	if err != nil {
		e.logger.Error("handleHtlcCreated: store error", "error", err)
		return
	}

	e.store.RegisterHTLCID(ev.Payload.HtlcID, hash)

	if becameFailed {
		e.logger.Error("order moved to Failed on HtlcCreated invariant breach", "order", fmt.Sprintf("%x", hash))
		e.setState(ctx, hash, swap.StateFailed)
		return
	}

	if order, ok := e.store.GetOrder(hash); ok {
		e.setState(ctx, hash, order.State)
	}
}

// handleHtlcClaimed implements spec §4.3.2's HtlcClaimed(*) row and §4.3.5
// secret propagation steps 1-2. The Open Question on secret emission is
// resolved here: a secret is trusted only when it arrives on an
// HtlcClaimed event's own payload, verified against the order's hashlock.
func (e *Engine) handleHtlcClaimed(ctx context.Context, ev swap.Event) {
	hash, ok := e.store.OrderByHTLCID(ev.Payload.HtlcID)
	if !ok {
		e.logger.Debug("handleHtlcClaimed: no order for htlcId, ignoring", "htlc_id", ev.Payload.HtlcID)
		return
	}

	order, ok := e.store.GetOrder(hash)
	if !ok {
		return
	}

	if !secretMatchesHashlock(ev.Payload.Secret, order.Hashlock) {
		e.logger.Error("handleHtlcClaimed: secret does not match order hashlock, ignoring claim",
			"order", fmt.Sprintf("%x", hash))
		return
	}

	e.store.StoreSecret(hash, ev.Payload.Secret)

	var needsCounterClaim bool
	var counterChain swap.ChainID
	var counterHTLCID string

	err := e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		switch ev.Payload.HtlcID {
		case o.SourceHtlcID:
			if *source != nil {
				(*source).Phase = swap.HTLCClaimed
			}
			if *target != nil && (*target).Phase == swap.HTLCClaimed {
				o.State = swap.StateFulfilled
			}
		case o.TargetHtlcID:
			if *target != nil {
				(*target).Phase = swap.HTLCClaimed
			}
			if *source != nil && (*source).Phase != swap.HTLCClaimed {
				needsCounterClaim = true
				counterChain = o.SourceChain
				counterHTLCID = o.SourceHtlcID
			}
			if *source != nil && (*source).Phase == swap.HTLCClaimed {
				o.State = swap.StateFulfilled
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("handleHtlcClaimed: store error", "error", err)
		return
	}

	if needsCounterClaim && counterHTLCID != "" {
		e.submitCounterClaim(ctx, hash, counterChain, counterHTLCID, ev.Payload.Secret)
	}

	if order, ok := e.store.GetOrder(hash); ok {
		e.setState(ctx, hash, order.State)
		if order.State == swap.StateFulfilled {
			e.store.ClearSecret(hash)
		}
	}
}

// submitCounterClaim implements §4.3.5 step 2-3: submit Claim on the side
// the resolver still controls, retried via the adapter's own backoff
// policy (§4.1). A SubmitExhausted failure marks the order NeedsAttention
// rather than Failed — the timeout sweep keeps driving it.
func (e *Engine) submitCounterClaim(ctx context.Context, hash [32]byte, counterChain swap.ChainID, htlcID string, secret [32]byte) {
	adapter, err := e.adapterFor(counterChain)
	if err != nil {
		e.logger.Error("submitCounterClaim: no adapter", "chain", counterChain, "error", err)
		return
	}

	_, err = adapter.Submit(ctx, chain.Action{
		Kind:   chain.ActionClaim,
		HTLCID: htlcID,
		Secret: secret,
	})
	if err != nil {
		kind, _ := swap.KindOf(err)
		e.logger.Error("submitCounterClaim: submit failed", "order", fmt.Sprintf("%x", hash), "kind", kind, "error", err)
		if kind == swap.KindSubmitExhausted {
			_ = e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
				o.NeedsAttention = true
				return nil
			})
		}
	}
}

// handleHtlcRefunded implements spec §4.3.2's HtlcRefunded(*) row.
func (e *Engine) handleHtlcRefunded(ctx context.Context, ev swap.Event) {
	hash, ok := e.store.OrderByHTLCID(ev.Payload.HtlcID)
	if !ok {
		e.logger.Debug("handleHtlcRefunded: no order for htlcId, ignoring", "htlc_id", ev.Payload.HtlcID)
		return
	}

	err := e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		switch ev.Payload.HtlcID {
		case o.SourceHtlcID:
			if *source != nil {
				(*source).Phase = swap.HTLCRefunded
			}
			o.State = swap.StateRefunded
		case o.TargetHtlcID:
			if *target != nil {
				(*target).Phase = swap.HTLCRefunded
			}
			// Only the target refunded; continue until the source also
			// refunds (on timelock expiry) or is forced (spec §4.3.2).
		}
		return nil
	})
	if err != nil {
		e.logger.Error("handleHtlcRefunded: store error", "error", err)
		return
	}

	if order, ok := e.store.GetOrder(hash); ok {
		e.setState(ctx, hash, order.State)
		if order.State.IsTerminal() {
			e.store.ClearSecret(hash)
		}
	}
}

// handleAdvisory implements spec §4.3.2's OrderFulfilled(*)/OrderRefunded(*)
// row: these are advisory only, reconciled against internal state by the
// reconciliation pass (§4.3.4), not acted on directly here.
func (e *Engine) handleAdvisory(ctx context.Context, ev swap.Event) {
	hash := ev.Payload.OrderHash
	if _, ok := e.store.GetOrder(hash); !ok {
		return
	}
	e.logger.Debug("advisory event observed", "kind", ev.Kind, "order", fmt.Sprintf("%x", hash))
}

// SubmitFulfill implements spec §6.3's submit_fulfill(orderHash, secret):
// an operator-triggered manual claim, for the case where automatic
// propagation (§4.3.5) needs a nudge (e.g. after NeedsAttention).
func (e *Engine) SubmitFulfill(ctx context.Context, orderHash [32]byte, secret [32]byte) error {
	order, ok := e.store.GetOrder(orderHash)
	if !ok {
		return swap.ErrOrderNotFound
	}
	if !secretMatchesHashlock(secret, order.Hashlock) {
		return swap.ErrSecretMismatch
	}
	if order.State.IsTerminal() {
		return nil
	}

	var targetHTLCID string
	_, target, ok := e.store.GetHTLCMirrors(orderHash)
	if ok && target != nil && target.Phase != swap.HTLCClaimed {
		targetHTLCID = target.HTLCID
	}
	if targetHTLCID == "" {
		return fmt.Errorf("no live target-side htlc to claim for order %x", orderHash)
	}

	e.store.StoreSecret(orderHash, secret)
	e.submitCounterClaim(ctx, orderHash, order.TargetChain, targetHTLCID, secret)
	return nil
}

// GetOrder implements spec §6.3's get_order(orderHash).
func (e *Engine) GetOrder(orderHash [32]byte) (swap.CrossChainOrder, bool) {
	return e.store.GetOrder(orderHash)
}

// GetStats implements spec §6.3's get_stats().
func (e *Engine) GetStats() store.Stats {
	return e.store.Stats()
}

// Health implements spec §6.3's health(): every configured chain adapter
// must itself be healthy.
func (e *Engine) Health(ctx context.Context) error {
	for chainID, adapter := range e.adapters {
		if err := adapter.Health(ctx); err != nil {
			return fmt.Errorf("chain %q unhealthy: %w", chainID, err)
		}
	}
	return nil
}
