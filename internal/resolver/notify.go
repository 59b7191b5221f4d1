package resolver

import (
	"context"

	"github.com/atomicswap/resolver/pkg/swap"
)

// StateNotifier publishes order-state transitions for operator tooling
// (SPEC_FULL.md §4.3.9, the NATS JetStream order-state fanout). It is
// purely observational: no Engine correctness path depends on a
// notification being delivered.
type StateNotifier interface {
	NotifyState(ctx context.Context, orderHash [32]byte, state swap.OrderState) error
}

// NopNotifier discards every notification; used where no fanout is wired
// (tests, the in-memory fake-chain scenarios of §6.1.1).
type NopNotifier struct{}

func (NopNotifier) NotifyState(ctx context.Context, orderHash [32]byte, state swap.OrderState) error {
	return nil
}

// MultiNotifier fans one transition out to several StateNotifiers (the
// NATS JetStream fanout and the operator WebSocket hub), continuing past
// a failed one rather than aborting the rest — notification is advisory,
// per StateNotifier's own doc comment.
type MultiNotifier []StateNotifier

func (m MultiNotifier) NotifyState(ctx context.Context, orderHash [32]byte, state swap.OrderState) error {
	var firstErr error
	for _, n := range m {
		if err := n.NotifyState(ctx, orderHash, state); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Archiver persists the snapshot of a terminal order that ArchiveSweep has
// just evicted from the store (SPEC_FULL.md §4.3.8).
type Archiver interface {
	Archive(ctx context.Context, order swap.CrossChainOrder, source, target *swap.HTLCMirror) error
}

// PersistenceHook mirrors every order-state transition into relational
// storage (SPEC_FULL.md §2/§4.3.9: "Order and HTLC-mirror rows are
// persisted relationally; orders move through the transactional-outbox
// pattern"). Unlike StateNotifier it carries the full order and both HTLC
// mirrors, since the Postgres row and its outbox entry are written
// together in one transaction. Like StateNotifier, it is advisory: a
// failure here never blocks the in-memory Store, which remains the
// source of truth for a running process.
type PersistenceHook interface {
	Persist(ctx context.Context, order swap.CrossChainOrder, source, target *swap.HTLCMirror) error
}

// NopPersistenceHook discards every transition; used where no relational
// persistence is wired (tests, the in-memory fake-chain scenarios).
type NopPersistenceHook struct{}

func (NopPersistenceHook) Persist(ctx context.Context, order swap.CrossChainOrder, source, target *swap.HTLCMirror) error {
	return nil
}

// NopArchiver discards archive requests.
type NopArchiver struct{}

func (NopArchiver) Archive(ctx context.Context, order swap.CrossChainOrder, source, target *swap.HTLCMirror) error {
	return nil
}
