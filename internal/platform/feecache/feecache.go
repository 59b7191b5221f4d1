// Package feecache backs two pieces of per-chain adapter state in Redis so
// they survive adapter process restarts and are inspectable operationally
// (SPEC_FULL.md §2): the single-writer/multi-reader fee quote (spec §4.1,
// Design Note "gas-price refresh") and the bounded concurrent-submission
// counter (spec §5, default 16). Grounded on the teacher's
// internal/delivery/subscription.RedisManager for client setup and
// key-prefixing idioms, scaled down to the two concerns this module needs.
package feecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/pkg/swap"
)

const (
	keyFeeQuote  = "feequote:"
	keySubmitSem = "submitsem:"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Cache wraps a Redis client for fee-quote and submission-guard state.
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

// Connect dials Redis and verifies the connection with a ping.
func Connect(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Cache{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

func (c *Cache) key(parts ...string) string {
	result := c.keyPrefix
	for _, p := range parts {
		result += p
	}
	return result
}

// PutFeeQuote stores the latest fee quote for a chain, overwriting any
// prior value (last-write-wins, per Design Notes).
func (c *Cache) PutFeeQuote(ctx context.Context, quote chain.FeeQuote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("marshal fee quote: %w", err)
	}
	if err := c.client.Set(ctx, c.key(keyFeeQuote, string(quote.Chain)), data, 0).Err(); err != nil {
		return fmt.Errorf("set fee quote: %w", err)
	}
	return nil
}

// GetFeeQuote returns the last stored fee quote for a chain, or ok=false
// if none has ever been written (a fresh adapter should refresh before
// serving readers in that case).
func (c *Cache) GetFeeQuote(ctx context.Context, chainID swap.ChainID) (chain.FeeQuote, bool, error) {
	data, err := c.client.Get(ctx, c.key(keyFeeQuote, string(chainID))).Bytes()
	if err == redis.Nil {
		return chain.FeeQuote{}, false, nil
	}
	if err != nil {
		return chain.FeeQuote{}, false, fmt.Errorf("get fee quote: %w", err)
	}

	var quote chain.FeeQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return chain.FeeQuote{}, false, fmt.Errorf("unmarshal fee quote: %w", err)
	}
	return quote, true, nil
}

// AcquireSubmitSlot increments a chain's in-flight submission counter and
// reports whether the caller may proceed (count <= maxConcurrent). Callers
// that get false must not submit and should release nothing.
func (c *Cache) AcquireSubmitSlot(ctx context.Context, chainID swap.ChainID, maxConcurrent int64) (bool, error) {
	key := c.key(keySubmitSem, string(chainID))

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr submit slot: %w", err)
	}
	// Guard against a leaked counter outliving its adapter process.
	c.client.Expire(ctx, key, time.Minute)

	if count > maxConcurrent {
		c.client.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

// ReleaseSubmitSlot decrements the in-flight submission counter. Must be
// called exactly once for every AcquireSubmitSlot that returned true.
func (c *Cache) ReleaseSubmitSlot(ctx context.Context, chainID swap.ChainID) error {
	if err := c.client.Decr(ctx, c.key(keySubmitSem, string(chainID))).Err(); err != nil {
		return fmt.Errorf("decr submit slot: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
