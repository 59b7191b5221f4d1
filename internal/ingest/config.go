package ingest

import "time"

// Config configures one chain's Ingestor, grounded on the teacher's
// processor.Config.
type Config struct {
	BrokerEndpoint string
	InputTopic     string // the Adapter's per-chain topic, e.g. "swap-events.evm-sepolia"
	ConsumerGroup  string

	WorkerCount int
	BufferSize  int

	// ColdStartLookback is a block count carried in the config; the
	// Ingestor does not read it. With no persisted cursor, processBatch
	// treats the cursor as 0 and forwards every consumed event; the only
	// cold-start lookback is the Adapter's own, which begins publishing
	// MaxBlocksPerQuery blocks behind the height it reads on connect.
	ColdStartLookback uint64

	PollTimeout time.Duration
}

// DefaultConfig returns the spec §4.2/§6.2 defaults for one chain.
func DefaultConfig(topic, consumerGroup string) Config {
	return Config{
		InputTopic:        topic,
		ConsumerGroup:     consumerGroup,
		WorkerCount:       4,
		BufferSize:        256,
		ColdStartLookback: 100,
		PollTimeout:       5 * time.Second,
	}
}
