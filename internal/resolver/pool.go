package resolver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atomicswap/resolver/pkg/swap"
)

// Pool is the bounded worker pool spec §5 calls for: a modest fixed-size
// set of goroutines (default 2xCPU) services incoming events in parallel
// across orders, while the Store's per-order mutex (held inside
// Engine.HandleEvent via Store.WithOrder) still serializes everything
// touching one order. Grounded on internal/processor/core.go's
// worker/Run shape, generalized from "N workers pull off one shared
// channel" to the same structure — correctness here comes from the
// per-order lock, not from routing an order's events to a fixed worker.
type Pool struct {
	engine *Engine
	logger *slog.Logger

	jobs chan swap.Event
	wg   sync.WaitGroup
}

// NewPool constructs an unstarted Pool whose job buffer is sized from
// cfg.WorkerCount; the number of workers is the count passed to Run.
func NewPool(engine *Engine, cfg Config, logger *slog.Logger) *Pool {
	return &Pool{
		engine: engine,
		logger: logger.With("component", "resolver-pool"),
		jobs:   make(chan swap.Event, cfg.WorkerCount*64),
	}
}

// Run starts the worker goroutines and blocks until ctx is canceled, then
// drains in-flight jobs before returning.
func (p *Pool) Run(ctx context.Context, workerCount int) {
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	<-ctx.Done()
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for ev := range p.jobs {
		if err := p.engine.HandleEvent(ctx, ev); err != nil {
			p.logger.Error("event handling failed", "worker_id", id, "error", err)
		}
	}
}

// Submit enqueues an event for dispatch. It blocks briefly if every
// worker is busy and the buffer is full; callers (the Ingestor) should
// treat this as backpressure, not an error.
func (p *Pool) Submit(ctx context.Context, ev swap.Event) error {
	select {
	case p.jobs <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
