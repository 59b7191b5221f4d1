package kafka

import (
	"testing"

	"github.com/atomicswap/resolver/pkg/swap"
)

func TestEventTopicFor(t *testing.T) {
	if got, want := EventTopicFor(swap.ChainID("evm-sepolia")), "swap-events.evm-sepolia"; got != want {
		t.Fatalf("EventTopicFor() = %q, want %q", got, want)
	}
}

func TestTopicConfigsForSinglePartitionPerChain(t *testing.T) {
	chains := []swap.ChainID{"evm-sepolia", "solana-devnet"}
	configs := TopicConfigsFor(chains)

	if len(configs) != len(chains) {
		t.Fatalf("got %d configs, want %d", len(configs), len(chains))
	}

	seen := make(map[string]bool)
	for i, cfg := range configs {
		if cfg.Name != EventTopicFor(chains[i]) {
			t.Errorf("config %d name = %q, want %q", i, cfg.Name, EventTopicFor(chains[i]))
		}
		if cfg.Partitions != 1 {
			t.Errorf("config %d partitions = %d, want 1 (per-chain ordering requires a single partition)", i, cfg.Partitions)
		}
		seen[cfg.Name] = true
	}
	if len(seen) != len(chains) {
		t.Fatalf("expected %d distinct topic names, got %d", len(chains), len(seen))
	}
}
