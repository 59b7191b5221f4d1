// Package outbox drains the order-state outbox table into the NATS
// JetStream fanout, grounded on the teacher's cmd/outbox-publisher, trimmed
// to the single NATS sink SPEC_FULL.md §4.3.9 calls for (no re-publish to
// Kafka — the Adapters already own that topic).
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atomicswap/resolver/internal/platform/storage"
	"github.com/atomicswap/resolver/pkg/swap"
)

// Publisher is the sink a drained outbox row is handed to.
// internal/platform/notify.Notifier and internal/resolver.StateNotifier
// both satisfy this shape.
type Publisher interface {
	NotifyState(ctx context.Context, orderHash [32]byte, state swap.OrderState) error
}

// Config controls the publisher's poll cadence and batch size.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultConfig returns the spec §4.4.1 default: poll every 2s.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second, BatchSize: 100}
}

// Runner polls the order-state outbox and publishes each pending row.
type Runner struct {
	cfg    Config
	repo   *storage.OrderRepository
	sink   Publisher
	logger *slog.Logger
}

// NewRunner constructs a Runner, unstarted.
func NewRunner(repo *storage.OrderRepository, sink Publisher, cfg Config, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, repo: repo, sink: sink, logger: logger.With("component", "outbox-publisher")}
}

// Run blocks polling until ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting outbox publisher", "poll_interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.pollAndPublish(ctx); err != nil {
				r.logger.Error("poll and publish failed", "error", err)
			}
		}
	}
}

func (r *Runner) pollAndPublish(ctx context.Context) error {
	messages, err := r.repo.FetchPendingOutbox(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending outbox: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	type result struct {
		id  int64
		err error
	}

	var wg sync.WaitGroup
	results := make(chan result, len(messages))

	for _, msg := range messages {
		wg.Add(1)
		go func(msg storage.OutboxMessage) {
			defer wg.Done()
			err := r.publish(ctx, msg)
			results <- result{id: msg.ID, err: err}
		}(msg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var published []int64
	for res := range results {
		if res.err != nil {
			r.logger.Error("publish failed", "outbox_id", res.id, "error", res.err)
			if err := r.repo.MarkOutboxFailed(ctx, res.id, res.err.Error()); err != nil {
				r.logger.Error("mark outbox failed errored", "outbox_id", res.id, "error", err)
			}
			continue
		}
		published = append(published, res.id)
	}

	if len(published) > 0 {
		if err := r.repo.MarkOutboxPublished(ctx, published); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
	}

	return nil
}

func (r *Runner) publish(ctx context.Context, msg storage.OutboxMessage) error {
	var hash [32]byte
	if _, err := fmt.Sscanf(msg.OrderHash, "%x", &hash); err != nil {
		return fmt.Errorf("decode order_hash %s: %w", msg.OrderHash, err)
	}

	if err := r.sink.NotifyState(ctx, hash, msg.State); err != nil {
		return fmt.Errorf("notify state: %w", err)
	}
	return nil
}
