package storage

import (
	"context"

	"github.com/atomicswap/resolver/pkg/swap"
)

// OrderPersister implements resolver.PersistenceHook by writing the order
// row, its HTLC mirrors, and a pending order-state outbox row in one
// transaction (SaveOrderWithOutbox). internal/outbox.Runner later drains
// the outbox into the NATS fanout.
type OrderPersister struct {
	repo *OrderRepository
}

// NewOrderPersister wraps repo as a resolver.PersistenceHook.
func NewOrderPersister(repo *OrderRepository) *OrderPersister {
	return &OrderPersister{repo: repo}
}

func (p *OrderPersister) Persist(ctx context.Context, order swap.CrossChainOrder, source, target *swap.HTLCMirror) error {
	return p.repo.SaveOrderWithOutbox(ctx, order, source, target)
}
