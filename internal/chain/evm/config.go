// Package evm implements the chain.Adapter capability interface for
// EVM-compatible ledgers using go-ethereum.
package evm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/internal/platform/kafka"
	"github.com/atomicswap/resolver/pkg/swap"
)

// Config holds the configuration for one EVM chain adapter instance.
type Config struct {
	chain.Config `yaml:",inline"`

	ChainName string `yaml:"chain_name"`
	ChainNumericID uint64 `yaml:"chain_numeric_id"`

	RPC RPCConfig `yaml:"rpc"`

	Contracts ContractConfig `yaml:"contracts"`

	Broker BrokerConfig `yaml:"broker"`

	SubmitterKeyHex string `yaml:"submitter_key"`

	BlockPollInterval time.Duration `yaml:"block_poll_interval"`
}

// RPCConfig holds RPC connection settings, grounded on the teacher's
// internal/adapter/evm RPCConfig.
type RPCConfig struct {
	URL          string        `yaml:"url"`
	WSURL        string        `yaml:"ws_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// ContractConfig holds the HTLC and Bridge contract addresses for this
// chain (spec §6.1, §6.2 "contract_addresses").
type ContractConfig struct {
	HTLCAddress   string `yaml:"htlc_address"`
	BridgeAddress string `yaml:"bridge_address"`
}

// BrokerConfig holds the Kafka settings the adapter's background loop
// publishes normalized events to.
type BrokerConfig struct {
	Addresses            []string `yaml:"addresses"`
	Topic                string   `yaml:"topic"`
	PartitionKeyStrategy string   `yaml:"partition_key_strategy"`
}

// LoadConfig loads configuration from file and/or CLI overrides, defaults
// first then override, in the teacher's LoadConfig idiom.
func LoadConfig(configPath, chainName, rpcURL string) (*Config, error) {
	cfg := &Config{
		Config:    chain.DefaultConfig(swap.ChainID(chainName)),
		ChainName: chainName,
		RPC: RPCConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Broker: BrokerConfig{
			Addresses:            []string{"localhost:9092"},
			PartitionKeyStrategy: "chain_block",
		},
		BlockPollInterval: 5 * time.Second,
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if rpcURL != "" {
		cfg.RPC.URL = rpcURL
	}
	if chainName != "" {
		cfg.ChainName = chainName
		cfg.Chain = swap.ChainID(chainName)
	}

	if cfg.RPC.URL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	if cfg.Broker.Topic == "" {
		cfg.Broker.Topic = kafka.EventTopicFor(cfg.Chain)
	}

	return cfg, nil
}
