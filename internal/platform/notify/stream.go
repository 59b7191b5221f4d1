package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig defines the configuration for the order-state JetStream
// stream, grounded on the teacher's StreamConfig/DefaultCanonicalEventsStreamConfig.
type StreamConfig struct {
	Name        string
	Subjects    []string
	Retention   jetstream.RetentionPolicy
	MaxAge      time.Duration
	MaxMsgs     int64
	MaxBytes    int64
	Replicas    int
	Description string
}

// DefaultOrderEventsStreamConfig returns the stream configuration for
// order-state fanout (SPEC_FULL.md §2, ORDER_EVENTS / orders.state.*.*).
func DefaultOrderEventsStreamConfig() StreamConfig {
	return StreamConfig{
		Name:        "ORDER_EVENTS",
		Subjects:    []string{"orders.state.>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		MaxBytes:    1 * 1024 * 1024 * 1024,
		Replicas:    1,
		Description: "Cross-chain swap order state transitions for operator tooling",
	}
}

// EnsureStream creates or updates a JetStream stream with the given
// configuration. Idempotent, safe to call on every process start.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:        cfg.Name,
		Subjects:    cfg.Subjects,
		Retention:   cfg.Retention,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		MaxBytes:    cfg.MaxBytes,
		Replicas:    cfg.Replicas,
		Description: cfg.Description,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// SubjectForState returns the NATS subject a given order-state transition
// publishes to: orders.state.<orderHash>.<state>.
func SubjectForState(orderHash string, state string) string {
	return fmt.Sprintf("orders.state.%s.%s", orderHash, state)
}

// SubjectForOrder returns the wildcard subject for every transition of one
// order: orders.state.<orderHash>.>.
func SubjectForOrder(orderHash string) string {
	return fmt.Sprintf("orders.state.%s.>", orderHash)
}
