package resolver

import (
	"runtime"
	"time"
)

// Config holds the Resolver's tunables (spec §6.2 rows not owned by an
// individual chain.Adapter).
type Config struct {
	// OrderTimeoutBuffer is the early give-up window of §4.3.3 step 2:
	// once now >= source.timelock - OrderTimeoutBuffer and the order is
	// still SourceLocked, the resolver stops waiting for a target lock
	// and only awaits the on-chain source refund.
	OrderTimeoutBuffer time.Duration

	// MinTimelock, MaxTimelock, DefaultTimelock bound order creation
	// (spec §6.2).
	MinTimelock     time.Duration
	MaxTimelock     time.Duration
	DefaultTimelock time.Duration

	// RequiredSkew is Δ (spec I2): timelock(target) + Δ <= timelock(source).
	RequiredSkew time.Duration

	// RetentionHorizon is how long a terminal order survives before the
	// archive sweep evicts and archives it (spec §3.3, default 24h).
	RetentionHorizon time.Duration

	// WorkerCount sizes the event-dispatch pool (spec §5, default 2xCPU).
	WorkerCount int

	TimeoutSweepInterval    time.Duration
	ReconciliationInterval  time.Duration
}

// DefaultConfig returns the spec §6.2 defaults.
func DefaultConfig() Config {
	return Config{
		OrderTimeoutBuffer:     1 * time.Hour,
		MinTimelock:            1 * time.Hour,
		MaxTimelock:            7 * 24 * time.Hour,
		DefaultTimelock:        24 * time.Hour,
		RequiredSkew:           10 * time.Minute,
		RetentionHorizon:       24 * time.Hour,
		WorkerCount:            2 * runtime.NumCPU(),
		TimeoutSweepInterval:   60 * time.Second,
		ReconciliationInterval: 5 * time.Minute,
	}
}
