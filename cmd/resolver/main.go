// Command resolver runs the full atomic-swap coordination service: both
// Chain Adapters' background publish loops, both chains' Event Ingestors,
// the Resolver/Protocol Engine and its worker pool, the relational outbox
// publisher, and the Supervisor that schedules everything else (fee
// refresh, timeout sweep, reconciliation, adapter health, archive sweep).
//
// This binary is meant for deployments that want one process per chain
// pair rather than splitting the Adapters out as cmd/chain-adapter-evm
// and cmd/chain-adapter-solana (see DESIGN.md); either topology is valid
// since the Adapter.Run loop and the rest of the service only communicate
// over Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/internal/chain/evm"
	"github.com/atomicswap/resolver/internal/chain/solana"
	"github.com/atomicswap/resolver/internal/ingest"
	"github.com/atomicswap/resolver/internal/outbox"
	"github.com/atomicswap/resolver/internal/platform/archive"
	"github.com/atomicswap/resolver/internal/platform/feecache"
	"github.com/atomicswap/resolver/internal/platform/kafka"
	"github.com/atomicswap/resolver/internal/platform/notify"
	"github.com/atomicswap/resolver/internal/platform/opsview"
	"github.com/atomicswap/resolver/internal/platform/storage"
	"github.com/atomicswap/resolver/internal/resolver"
	"github.com/atomicswap/resolver/internal/store"
	"github.com/atomicswap/resolver/internal/supervisor"
	"github.com/atomicswap/resolver/pkg/swap"
)

// serviceConfig is the top-level YAML document for this binary, grounded
// on the teacher's per-adapter LoadConfig idiom: coded defaults first,
// then a file overlay.
type serviceConfig struct {
	ChainA evm.Config    `yaml:"chain_a"`
	ChainB solana.Config `yaml:"chain_b"`

	Resolver struct {
		OrderTimeoutBuffer time.Duration `yaml:"order_timeout_buffer"`
		RequiredSkew       time.Duration `yaml:"required_skew"`
		RetentionHorizon   time.Duration `yaml:"retention_horizon"`
	} `yaml:"resolver"`

	Database storage.Config  `yaml:"database"`
	NATS     notify.Config   `yaml:"nats"`
	Redis    feecache.Config `yaml:"redis"`
	Archive  archive.Config  `yaml:"archive"`

	OpsHTTPAddr string `yaml:"ops_http_addr"`
}

func loadServiceConfig(path string) (*serviceConfig, error) {
	cfg := &serviceConfig{
		Database:    storage.DefaultConfig(),
		NATS:        notify.DefaultConfig(),
		OpsHTTPAddr: ":8090",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if cfg.ChainA.RPC.URL == "" || cfg.ChainB.RPC.URL == "" {
		return nil, fmt.Errorf("both chain_a.rpc.url and chain_b.rpc.url are required")
	}

	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to service configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	level := parseLogLevel(*logLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		// Fatal per spec §7: config errors abort before any adapter or
		// ingestor starts.
		logger.Error("fatal: failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("resolver service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *serviceConfig, logger *slog.Logger) error {
	evmAdapter, err := evm.NewAdapter(&cfg.ChainA, logger)
	if err != nil {
		return fmt.Errorf("create evm adapter: %w", err)
	}
	solanaAdapter, err := solana.NewAdapter(&cfg.ChainB, logger)
	if err != nil {
		return fmt.Errorf("create solana adapter: %w", err)
	}

	adapters := map[swap.ChainID]chain.Adapter{
		evmAdapter.Chain():    evmAdapter,
		solanaAdapter.Chain(): solanaAdapter,
	}

	if err := provisionEventTopics(ctx, cfg, []swap.ChainID{evmAdapter.Chain(), solanaAdapter.Chain()}, logger); err != nil {
		return fmt.Errorf("provision event topics: %w", err)
	}

	db, err := storage.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	repo := storage.NewOrderRepository(db)
	cursorRepo := storage.NewCursorRepository(db)
	persister := storage.NewOrderPersister(repo)

	natsClient, err := notify.Connect(ctx, cfg.NATS, logger)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer natsClient.Close()
	if _, err := notify.EnsureStream(ctx, natsClient.JetStream(), notify.DefaultOrderEventsStreamConfig()); err != nil {
		return fmt.Errorf("ensure order events stream: %w", err)
	}
	notifier := notify.NewNotifier(natsClient)

	hub := opsview.NewHub(logger)
	multiNotifier := resolver.MultiNotifier{notifier, hub}

	archiveStore, err := archive.NewStore(ctx, cfg.Archive, logger)
	if err != nil {
		return fmt.Errorf("connect archive store: %w", err)
	}

	feeCache, err := feecache.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect fee cache: %w", err)
	}
	defer feeCache.Close()

	resolverCfg := resolver.DefaultConfig()
	if cfg.Resolver.OrderTimeoutBuffer > 0 {
		resolverCfg.OrderTimeoutBuffer = cfg.Resolver.OrderTimeoutBuffer
	}
	if cfg.Resolver.RequiredSkew > 0 {
		resolverCfg.RequiredSkew = cfg.Resolver.RequiredSkew
	}
	if cfg.Resolver.RetentionHorizon > 0 {
		resolverCfg.RetentionHorizon = cfg.Resolver.RetentionHorizon
	}

	st := store.New()
	if err := hydrateStore(ctx, st, repo, logger); err != nil {
		return fmt.Errorf("hydrate store from database: %w", err)
	}
	engine := resolver.NewEngine(resolverCfg, st, adapters, multiNotifier, archiveStore, persister, logger)
	pool := resolver.NewPool(engine, resolverCfg, logger)

	ingestors := make([]*ingest.Ingestor, 0, len(adapters))
	for chainID := range adapters {
		topic := kafka.EventTopicFor(chainID)
		icfg := ingest.DefaultConfig(topic, "resolver")
		icfg.BrokerEndpoint = brokerEndpointFor(cfg, chainID)
		ing, err := ingest.NewIngestor(chainID, icfg, cursorRepo, pool, logger)
		if err != nil {
			return fmt.Errorf("create ingestor for %s: %w", chainID, err)
		}
		ingestors = append(ingestors, ing)
	}

	outboxRunner := outbox.NewRunner(repo, notifier, outbox.DefaultConfig(), logger)

	opsServer := opsview.NewServer(cfg.OpsHTTPAddr, engine, hub, logger)
	go func() {
		if err := opsServer.Run(); err != nil {
			logger.Error("ops http server exited", "error", err)
		}
	}()

	sup := supervisor.New(supervisor.DefaultConfig(), resolverCfg, adapters, ingestors, engine, pool, outboxRunner, feeCache, logger)
	sup.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := sup.Stop(stopCtx); err != nil {
		logger.Error("supervisor stop failed", "error", err)
	}
	if err := opsServer.Shutdown(stopCtx); err != nil {
		logger.Error("ops http server shutdown failed", "error", err)
	}

	return nil
}

// provisionEventTopics ensures each chain's swap-events.<chain> topic
// exists before any Adapter or Ingestor starts (SPEC_FULL.md §2: "kadm
// provisions the topics at startup").
func provisionEventTopics(ctx context.Context, cfg *serviceConfig, chains []swap.ChainID, logger *slog.Logger) error {
	seedBrokers := joinComma(cfg.ChainA.Broker.Addresses)
	if seedBrokers == "" {
		seedBrokers = joinComma(cfg.ChainB.Broker.Addresses)
	}
	if seedBrokers == "" {
		seedBrokers = "localhost:9092"
	}

	mgr, err := kafka.NewTopicManager(seedBrokers)
	if err != nil {
		return fmt.Errorf("create topic manager: %w", err)
	}
	defer mgr.Close()

	configs := kafka.TopicConfigsFor(chains)
	if err := mgr.EnsureTopics(ctx, configs); err != nil {
		return fmt.Errorf("ensure topics: %w", err)
	}

	for _, c := range configs {
		logger.Info("event topic provisioned", "topic", c.Name)
	}
	return nil
}

// hydrateStore repopulates the in-memory Store from Postgres on startup —
// without it, every non-terminal order would be silently dropped from the
// live Store on every restart, even though its Cursor has already
// advanced past the blocks that created it.
func hydrateStore(ctx context.Context, st *store.Store, repo *storage.OrderRepository, logger *slog.Logger) error {
	hashes, err := repo.ListActiveOrderHashes(ctx)
	if err != nil {
		return fmt.Errorf("list active orders: %w", err)
	}

	for _, hash := range hashes {
		orderRec, sourceRec, targetRec, err := repo.LoadOrder(ctx, hash)
		if err != nil {
			return fmt.Errorf("load order %x: %w", hash, err)
		}
		if orderRec == nil {
			continue // deleted between ListActiveOrderHashes and LoadOrder
		}

		order, err := orderRec.ToOrder()
		if err != nil {
			return fmt.Errorf("convert order %x: %w", hash, err)
		}
		if err := st.Insert(order); err != nil {
			return fmt.Errorf("insert order %x: %w", hash, err)
		}

		if sourceRec == nil && targetRec == nil {
			continue
		}
		err = st.WithOrder(hash, func(o *swap.CrossChainOrder, source, target **swap.HTLCMirror) error {
			if sourceRec != nil {
				m, err := sourceRec.ToMirror()
				if err != nil {
					return err
				}
				*source = &m
			}
			if targetRec != nil {
				m, err := targetRec.ToMirror()
				if err != nil {
					return err
				}
				*target = &m
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("hydrate mirrors for order %x: %w", hash, err)
		}
	}

	logger.Info("hydrated store from database", "orders", len(hashes))
	return nil
}

func brokerEndpointFor(cfg *serviceConfig, chainID swap.ChainID) string {
	if chainID == cfg.ChainA.Chain {
		if len(cfg.ChainA.Broker.Addresses) > 0 {
			return joinComma(cfg.ChainA.Broker.Addresses)
		}
	}
	if chainID == cfg.ChainB.Chain {
		if len(cfg.ChainB.Broker.Addresses) > 0 {
			return joinComma(cfg.ChainB.Broker.Addresses)
		}
	}
	return "localhost:9092"
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
