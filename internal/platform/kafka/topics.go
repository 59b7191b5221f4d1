// Package kafka provisions the per-chain event topics
// (SPEC_FULL.md §2 "Event bus"): each Chain Adapter publishes normalized
// events onto its own swap-events.<chain> topic, which the Event Ingestor
// for that chain consumes as a single-partition-per-chain stream to
// preserve the (blockHeight, logIndex) ordering spec §4.2 requires.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/atomicswap/resolver/pkg/swap"
)

// TopicConfig defines the configuration for a Kafka topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	RetentionMs       int64
	CleanupPolicy     string
}

// EventTopicFor returns the topic name a chain's Adapter publishes to and
// its Ingestor consumes from.
func EventTopicFor(chain swap.ChainID) string {
	return fmt.Sprintf("swap-events.%s", chain)
}

// TopicConfigsFor returns the topic configuration for each given chain's
// event topic: single-partitioned, per the Design Note that per-chain
// ordering holds only if each chain's topic has exactly one partition.
func TopicConfigsFor(chains []swap.ChainID) []TopicConfig {
	configs := make([]TopicConfig, 0, len(chains))
	for _, c := range chains {
		configs = append(configs, TopicConfig{
			Name:              EventTopicFor(c),
			Partitions:        1,
			ReplicationFactor: 1,
			RetentionMs:       7 * 24 * 60 * 60 * 1000, // 7 days
			CleanupPolicy:     "delete",
		})
	}
	return configs
}

// TopicManager manages Kafka topics.
type TopicManager struct {
	admin *kadm.Client
}

// NewTopicManager creates a new TopicManager.
func NewTopicManager(brokers string) (*TopicManager, error) {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(brokerList...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &TopicManager{
		admin: kadm.NewClient(client),
	}, nil
}

// EnsureTopics creates topics if they don't exist.
func (m *TopicManager) EnsureTopics(ctx context.Context, configs []TopicConfig) error {
	// List existing topics
	existing, err := m.admin.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	existingSet := make(map[string]bool)
	for _, t := range existing {
		existingSet[t.Topic] = true
	}

	// Create missing topics
	for _, cfg := range configs {
		if existingSet[cfg.Name] {
			continue
		}

		if err := m.CreateTopic(ctx, cfg); err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
	}

	return nil
}

// CreateTopic creates a single topic with the given configuration.
func (m *TopicManager) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	resp, err := m.admin.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor,
		map[string]*string{
			"retention.ms":   stringPtr(fmt.Sprintf("%d", cfg.RetentionMs)),
			"cleanup.policy": stringPtr(cfg.CleanupPolicy),
		},
		cfg.Name,
	)
	if err != nil {
		return fmt.Errorf("create topic: %w", err)
	}

	for _, r := range resp {
		if r.Err != nil {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}

	return nil
}

// ListTopics returns all topics.
func (m *TopicManager) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := m.admin.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Topic)
	}

	return names, nil
}

// Close releases resources.
func (m *TopicManager) Close() {
	m.admin.Close()
}

// WaitForTopic waits for a topic to be available.
func (m *TopicManager) WaitForTopic(ctx context.Context, topic string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		topics, err := m.admin.ListTopics(ctx, topic)
		if err == nil && len(topics) > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("timeout waiting for topic %s", topic)
}

func stringPtr(s string) *string {
	return &s
}
