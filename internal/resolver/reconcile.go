package resolver

import (
	"context"
	"fmt"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/pkg/swap"
)

// haltPrefix tags a FailureReason that represents the "critical invariant
// breach, stop this order" branch of §4.3.4's reconciliation table —
// distinct from a plain Failed terminal state, because a halted order is
// not terminal: it waits for an operator to resolve it.
const haltPrefix = "HALT: "

// Reconcile implements spec §4.3.4, run every 5 minutes by the
// Supervisor. For each non-terminal order it re-reads authoritative state
// from both chains and resolves discrepancies per the spec's table.
func (e *Engine) Reconcile(ctx context.Context) {
	for _, hash := range e.store.AllNonTerminal() {
		order, ok := e.store.GetOrder(hash)
		if !ok {
			continue
		}
		if isHalted(order) {
			continue // already flagged for operator action; do not re-churn it
		}
		e.reconcileOne(ctx, hash, order)
	}
}

func isHalted(order swap.CrossChainOrder) bool {
	return len(order.FailureReason) >= len(haltPrefix) && order.FailureReason[:len(haltPrefix)] == haltPrefix
}

func (e *Engine) reconcileOne(ctx context.Context, hash [32]byte, order swap.CrossChainOrder) {
	sourceAdapter, err := e.adapterFor(order.SourceChain)
	if err != nil {
		e.logger.Error("reconcileOne: no source adapter", "order", fmt.Sprintf("%x", hash), "error", err)
		return
	}
	targetAdapter, err := e.adapterFor(order.TargetChain)
	if err != nil {
		e.logger.Error("reconcileOne: no target adapter", "order", fmt.Sprintf("%x", hash), "error", err)
		return
	}

	var sourceView, targetView *swap.HTLCMirror
	if order.SourceHtlcID != "" {
		sourceView, err = sourceAdapter.GetHTLC(ctx, order.SourceHtlcID)
		if err != nil {
			e.logger.Warn("reconcileOne: source view call failed", "order", fmt.Sprintf("%x", hash), "error", err)
			return
		}
	}
	if order.TargetHtlcID != "" {
		targetView, err = targetAdapter.GetHTLC(ctx, order.TargetHtlcID)
		if err != nil {
			e.logger.Warn("reconcileOne: target view call failed", "order", fmt.Sprintf("%x", hash), "error", err)
			return
		}
	}

	switch {
	// Row 1: SourceLocked internally, but source view shows no live lock
	// -> mark Failed; keep the order for audit.
	case order.State == swap.StateSourceLocked && (sourceView == nil || sourceView.Phase != swap.HTLCLocked):
		e.markFailed(ctx, hash, "reconciliation: SourceLocked but source chain shows no live lock")

	// Row 2: TargetLocked internally, source still locked, but target
	// view shows no lock -> the HtlcCreated(target) was spurious/forked
	// out; revert to SourceLocked and let future blocks re-establish it.
	case order.State == swap.StateTargetLocked &&
		sourceView != nil && sourceView.Phase == swap.HTLCLocked &&
		(targetView == nil || targetView.Phase != swap.HTLCLocked):
		e.revertToSourceLocked(ctx, hash)

	// Row 3: source view shows the secret is observable (claimed) while
	// target is still locked -> re-attempt Claim on target.
	case sourceView != nil && sourceView.Phase == swap.HTLCClaimed &&
		targetView != nil && targetView.Phase == swap.HTLCLocked:
		e.reattemptTargetClaim(ctx, hash, order)

	// Row 4: source refunded while target remains locked -> critical
	// invariant breach if we still control the claim role; halt for
	// operator action.
	case sourceView != nil && sourceView.Phase == swap.HTLCRefunded &&
		targetView != nil && targetView.Phase == swap.HTLCLocked:
		e.haltForOperator(ctx, hash, "reconciliation: source refunded while target htlc still live and claimable")
	}
}

func (e *Engine) markFailed(ctx context.Context, hash [32]byte, reason string) {
	_ = e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		o.State = swap.StateFailed
		o.FailureReason = reason
		return nil
	})
	e.logger.Error("reconciliation marked order Failed", "order", fmt.Sprintf("%x", hash), "reason", reason)
	e.setState(ctx, hash, swap.StateFailed)
}

func (e *Engine) revertToSourceLocked(ctx context.Context, hash [32]byte) {
	_ = e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		o.State = swap.StateSourceLocked
		o.TargetHtlcID = ""
		*target = nil
		return nil
	})
	e.logger.Warn("reconciliation reverted order to SourceLocked", "order", fmt.Sprintf("%x", hash))
	e.setState(ctx, hash, swap.StateSourceLocked)
}

func (e *Engine) reattemptTargetClaim(ctx context.Context, hash [32]byte, order swap.CrossChainOrder) {
	secret, ok := e.store.Secret(hash)
	if !ok {
		e.logger.Warn("reconciliation sees source claimed but holds no secret yet", "order", fmt.Sprintf("%x", hash))
		return
	}
	if order.TargetHtlcID == "" {
		return
	}

	adapter, err := e.adapterFor(order.TargetChain)
	if err != nil {
		e.logger.Error("reattemptTargetClaim: no adapter", "error", err)
		return
	}

	_, err = adapter.Submit(ctx, chain.Action{
		Kind:   chain.ActionClaim,
		HTLCID: order.TargetHtlcID,
		Secret: secret,
	})
	if err != nil {
		e.logger.Error("reattemptTargetClaim: submit failed", "order", fmt.Sprintf("%x", hash), "error", err)
	}
}

func (e *Engine) haltForOperator(ctx context.Context, hash [32]byte, reason string) {
	_ = e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		o.NeedsAttention = true
		o.FailureReason = haltPrefix + reason
		return nil
	})
	e.logger.Error("reconciliation halted order for operator action", "order", fmt.Sprintf("%x", hash), "reason", reason)
}

// ResolveHalt clears a halted order's operator flag, letting reconciliation
// and the timeout sweep resume acting on it. Grounded on the teacher's
// Reconciler.ResolveHalt operator-unblock pattern.
func (e *Engine) ResolveHalt(hash [32]byte) error {
	return e.store.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
		if !isHalted(*o) {
			return fmt.Errorf("order %x is not halted", hash)
		}
		o.NeedsAttention = false
		o.FailureReason = ""
		return nil
	})
}
