package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/pkg/swap"
)

// TimeoutSweep implements spec §4.3.3, run every 60s by the Supervisor.
func (e *Engine) TimeoutSweep(ctx context.Context) {
	now := time.Now()

	for _, hash := range e.store.AllNonTerminal() {
		order, ok := e.store.GetOrder(hash)
		if !ok {
			continue
		}
		e.sweepOne(ctx, hash, order, now)
	}
}

func (e *Engine) sweepOne(ctx context.Context, hash [32]byte, order swap.CrossChainOrder, now time.Time) {
	if order.State.IsTerminal() {
		return
	}
	if isHalted(order) {
		return // halted for operator action; leave it for ResolveHalt
	}

	sourceDeadline := time.Unix(order.Timelock, 0)

	// Step 1: past the source timelock and not yet fulfilled -> refund.
	if !now.Before(sourceDeadline) {
		e.submitSourceRefund(ctx, hash, order)
		return
	}

	// Step 2: early give-up window. Still SourceLocked (target never
	// locked) once we're within OrderTimeoutBuffer of the source
	// deadline -> stop waiting for a target lock; rely on (1) once the
	// deadline itself passes. No state transition here, only a flag so
	// operators can see the order gave up waiting.
	bufferStart := sourceDeadline.Add(-e.cfg.OrderTimeoutBuffer)
	if order.State == swap.StateSourceLocked && !now.Before(bufferStart) && order.TargetHtlcID == "" {
		_ = e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
			o.NeedsAttention = true
			return nil
		})
	}
}

func (e *Engine) submitSourceRefund(ctx context.Context, hash [32]byte, order swap.CrossChainOrder) {
	if order.SourceHtlcID == "" {
		return
	}

	adapter, err := e.adapterFor(order.SourceChain)
	if err != nil {
		e.logger.Error("submitSourceRefund: no adapter", "chain", order.SourceChain, "error", err)
		return
	}

	_, err = adapter.Submit(ctx, chain.Action{
		Kind:   chain.ActionRefund,
		HTLCID: order.SourceHtlcID,
	})
	if err != nil {
		kind, _ := swap.KindOf(err)
		e.logger.Error("submitSourceRefund: submit failed", "order", fmt.Sprintf("%x", hash), "kind", kind, "error", err)
		if kind == swap.KindSubmitExhausted {
			_ = e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
				o.NeedsAttention = true
				return nil
			})
		}
		return
	}

	// State actually transitions to Refunded once HtlcRefunded(source) is
	// observed by the Ingestor (handleHtlcRefunded); submission here only
	// initiates it, matching the spec's "transition to Refunded on
	// receipt" semantics realized through the normal event pipeline
	// rather than an optimistic local write.
}
