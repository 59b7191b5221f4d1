// Command chain-adapter-solana runs the Chain Adapter (spec §4.1) for the
// Solana ledger: it polls confirmed slots, decodes HTLC/Bridge events from
// transaction logs, and publishes them onto the chain's Kafka topic for
// the Event Ingestor to consume. An optional Geyser gRPC live-tail
// supplements the poll loop when configured.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/atomicswap/resolver/internal/chain/solana"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	chain := flag.String("chain", "solana-devnet", "chain identifier this adapter instance serves")
	rpcURL := flag.String("rpc", "", "RPC endpoint URL")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	level := parseLogLevel(*logLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("component", "chain-adapter-solana")
	slog.SetDefault(logger)

	logger.Info("starting Solana chain adapter", "chain", *chain, "config", *configPath)

	cfg, err := solana.LoadConfig(*configPath, *chain, *rpcURL)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	adapter, err := solana.NewAdapter(cfg, logger)
	if err != nil {
		logger.Error("failed to create adapter", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("adapter exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Solana chain adapter shutdown complete")
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
