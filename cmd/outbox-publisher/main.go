// Command outbox-publisher drains the order-state transactional outbox
// (SPEC_FULL.md §4.3.9) into the NATS JetStream order-events fanout,
// polling every 2s by default. It is split out from cmd/resolver so a
// deployment can run the publisher as its own process; cmd/resolver also
// runs one in-process for single-binary deployments.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atomicswap/resolver/internal/outbox"
	"github.com/atomicswap/resolver/internal/platform/notify"
	"github.com/atomicswap/resolver/internal/platform/storage"
)

func main() {
	var (
		dbHost     = flag.String("db-host", envOrDefault("DB_HOST", "localhost"), "Database host")
		dbPort     = flag.Int("db-port", envOrDefaultInt("DB_PORT", 5432), "Database port")
		dbUser     = flag.String("db-user", envOrDefault("DB_USER", "resolver"), "Database user")
		dbPassword = flag.String("db-password", envOrDefault("DB_PASSWORD", "resolver_dev"), "Database password")
		dbName     = flag.String("db-name", envOrDefault("DB_NAME", "atomicswap"), "Database name")

		natsURL      = flag.String("nats-url", envOrDefault("NATS_URL", "nats://localhost:4222"), "NATS server URL")
		pollInterval = flag.Duration("poll-interval", 2*time.Second, "Outbox polling interval")
		batchSize    = flag.Int("batch-size", 100, "Maximum outbox rows to fetch per poll")
		logLevel     = flag.String("log-level", envOrDefault("LOG_LEVEL", "info"), "Log level")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(*logLevel)})).With("component", "outbox-publisher")
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := storage.DefaultConfig()
	dbCfg.Host = *dbHost
	dbCfg.Port = *dbPort
	dbCfg.User = *dbUser
	dbCfg.Password = *dbPassword
	dbCfg.Database = *dbName

	db, err := storage.New(ctx, dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := storage.NewOrderRepository(db)

	natsCfg := notify.DefaultConfig()
	natsCfg.URL = *natsURL
	natsClient, err := notify.Connect(ctx, natsCfg, logger)
	if err != nil {
		logger.Error("failed to connect to nats", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	if _, err := notify.EnsureStream(ctx, natsClient.JetStream(), notify.DefaultOrderEventsStreamConfig()); err != nil {
		logger.Error("failed to ensure order events stream", "error", err)
		os.Exit(1)
	}
	notifier := notify.NewNotifier(natsClient)

	runnerCfg := outbox.Config{PollInterval: *pollInterval, BatchSize: *batchSize}
	runner := outbox.NewRunner(repo, notifier, runnerCfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("outbox publisher exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("outbox publisher shutdown complete")
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

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		for _, c := range val {
			if c >= '0' && c <= '9' {
				result = result*10 + int(c-'0')
			} else {
				return defaultVal
			}
		}
		return result
	}
	return defaultVal
}
