// Package supervisor implements the Supervisor component of spec §4.4 and
// SPEC_FULL.md §4.4.1: lifecycle management for the Chain Adapters, Event
// Ingestors, and the Resolver's periodic tasks (fee refresh, timeout
// sweep, reconciliation, adapter health, archive sweep, outbox publish).
//
// Per Design Notes ("Cyclic references... flatten into a DAG"), the
// Supervisor is the only component holding handles to every other one;
// Adapters, Ingestors, and the Engine never hold back-references to each
// other or to the Supervisor itself. Per "Polling via timers": every
// periodic task spawned through spawnJittered runs on a jittered timer
// (±10%) rather than a bare fixed-period timer, to avoid synchronized
// bursts across chains. The outbox publisher is started with spawn and
// polls on its own fixed-period ticker.
package supervisor

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/internal/ingest"
	"github.com/atomicswap/resolver/internal/outbox"
	"github.com/atomicswap/resolver/internal/platform/feecache"
	"github.com/atomicswap/resolver/internal/resolver"
	"github.com/atomicswap/resolver/pkg/swap"
)

// Config holds the Supervisor's own scheduling tunables (SPEC_FULL.md
// §4.4.1's "concrete default periods" not already owned by
// resolver.Config or a component's own Config).
type Config struct {
	FeeRefreshInterval    time.Duration // default 5m
	AdapterHealthInterval time.Duration // default 30s
	ArchiveSweepInterval  time.Duration // default 10m

	// JitterFraction is the +/- fraction of each interval's period
	// applied per tick (Design Notes: "jitter +/-10%").
	JitterFraction float64

	// ShutdownTimeout bounds how long Stop waits for in-flight
	// submissions and background loops to finish (spec §4.4 "waits for
	// in-flight submissions to finalize or time out", default 30s).
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the SPEC_FULL.md §4.4.1 defaults.
func DefaultConfig() Config {
	return Config{
		FeeRefreshInterval:    5 * time.Minute,
		AdapterHealthInterval: 30 * time.Second,
		ArchiveSweepInterval:  10 * time.Minute,
		JitterFraction:        0.10,
		ShutdownTimeout:       30 * time.Second,
	}
}

// Supervisor starts and stops every long-running piece of the service:
// each chain's Adapter.Run and Ingestor.Run loops, the Resolver's worker
// pool, and the clock-driven Engine passes. It never mutates order state
// itself — it only schedules the calls that do.
type Supervisor struct {
	cfg          Config
	resolverCfg  resolver.Config
	adapters     map[swap.ChainID]chain.Adapter
	ingestors    []*ingest.Ingestor
	engine       *resolver.Engine
	pool         *resolver.Pool
	outboxRunner *outbox.Runner
	feeCache     *feecache.Cache
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Supervisor, unstarted. outboxRunner and feeCache may be
// nil if the deployment has no relational outbox or Redis fee cache wired
// (e.g. tests against the fake chain).
func New(
	cfg Config,
	resolverCfg resolver.Config,
	adapters map[swap.ChainID]chain.Adapter,
	ingestors []*ingest.Ingestor,
	engine *resolver.Engine,
	pool *resolver.Pool,
	outboxRunner *outbox.Runner,
	feeCache *feecache.Cache,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		cfg:          cfg,
		resolverCfg:  resolverCfg,
		adapters:     adapters,
		ingestors:    ingestors,
		engine:       engine,
		pool:         pool,
		outboxRunner: outboxRunner,
		feeCache:     feeCache,
		logger:       logger.With("component", "supervisor"),
	}
}

// Start launches every background loop and returns immediately; it does
// not block. Call Stop to shut everything down.
func (s *Supervisor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.ctx = ctx
	s.cancel = cancel

	s.spawn(func(ctx context.Context) {
		s.pool.Run(ctx, s.resolverCfg.WorkerCount)
	})

	for chainID, adapter := range s.adapters {
		chainID, adapter := chainID, adapter
		s.spawn(func(ctx context.Context) {
			if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("adapter run loop exited", "chain", chainID, "error", err)
			}
		})

		s.spawnJittered(s.cfg.FeeRefreshInterval, func(ctx context.Context) {
			if err := adapter.RefreshFeeQuote(ctx); err != nil {
				s.logger.Warn("fee refresh failed, retaining prior quote", "chain", chainID, "error", err)
				return
			}
			if s.feeCache == nil {
				return
			}
			if err := s.feeCache.PutFeeQuote(ctx, adapter.CurrentFeeQuote()); err != nil {
				s.logger.Warn("fee quote cache write failed", "chain", chainID, "error", err)
			}
		})

		s.spawnJittered(s.cfg.AdapterHealthInterval, func(ctx context.Context) {
			if err := adapter.Health(ctx); err != nil {
				s.logger.Error("adapter health check failed", "chain", chainID, "error", err)
			}
		})
	}

	for _, ing := range s.ingestors {
		ing := ing
		s.spawn(func(ctx context.Context) {
			if err := ing.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("ingestor run loop exited", "error", err)
			}
		})
	}

	s.spawnJittered(s.resolverCfg.TimeoutSweepInterval, func(ctx context.Context) {
		s.engine.TimeoutSweep(ctx)
	})

	s.spawnJittered(s.resolverCfg.ReconciliationInterval, func(ctx context.Context) {
		s.engine.Reconcile(ctx)
	})

	s.spawnJittered(s.cfg.ArchiveSweepInterval, func(ctx context.Context) {
		s.engine.ArchiveSweep(ctx)
	})

	if s.outboxRunner != nil {
		s.spawn(func(ctx context.Context) {
			if err := s.outboxRunner.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("outbox publisher exited", "error", err)
			}
		})
	}

	s.logger.Info("supervisor started",
		"chains", len(s.adapters),
		"ingestors", len(s.ingestors),
	)
}

// Stop cancels every background loop and waits up to cfg.ShutdownTimeout
// for them to finish, then closes every Adapter and Ingestor. Per spec
// §5 ("no partial order-state writes are externalized"), nothing here
// needs to roll back in-memory state: the Store already only externalizes
// the Cursor and the event-dedup set, and both are safe to leave as-is on
// an abrupt stop.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("supervisor stop timed out waiting for background loops")
	}

	for chainID, adapter := range s.adapters {
		if err := adapter.Stop(shutdownCtx); err != nil {
			s.logger.Error("adapter stop failed", "chain", chainID, "error", err)
		}
	}
	for _, ing := range s.ingestors {
		if err := ing.Stop(shutdownCtx); err != nil {
			s.logger.Error("ingestor stop failed", "error", err)
		}
	}

	s.logger.Info("supervisor stopped")
	return nil
}

// spawn runs fn once in its own goroutine, tracked by the shutdown
// WaitGroup, using the cancelable context Start derived from its parent.
func (s *Supervisor) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// spawnJittered runs fn on a recurring ticker whose period is jittered by
// +/- cfg.JitterFraction each tick (Design Notes: avoid synchronized
// timer bursts across chains/tasks).
func (s *Supervisor) spawnJittered(period time.Duration, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			wait := jitter(period, s.cfg.JitterFraction)
			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				fn(s.ctx)
			}
		}
	}()
}

func jitter(period time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return period
	}
	delta := float64(period) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(period) + offset)
}
