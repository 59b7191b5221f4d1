// Package notify provides the NATS JetStream order-state fanout described
// in SPEC_FULL.md §2/§4.3.9: every committed order-state transition is
// published to a stream operator tooling can subscribe to, mirroring the
// teacher's canonical-event fanout but over orders instead of chain events.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config holds NATS connection configuration.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		URL:            "nats://localhost:4222",
		Name:           "resolver-service",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 10 * time.Second,
	}
}

// Client wraps a NATS connection with JetStream support and lifecycle
// management, grounded on the teacher's internal/platform/nats.Client.
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Connect establishes a connection to NATS with JetStream enabled.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	logger = logger.With("component", "notify")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	return &Client{nc: nc, js: js, cfg: cfg, logger: logger}, nil
}

// JetStream returns the JetStream context for stream operations.
func (c *Client) JetStream() jetstream.JetStream { return c.js }

// IsConnected reports whether the connection is currently usable.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.nc.IsConnected()
}

// Close gracefully shuts down the NATS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
