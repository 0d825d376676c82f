// pendulumd serves the pendulum orchestration engine over HTTP.
//
// Configuration comes from PENDULUM_* environment variables, loaded from
// a .env file when one is present:
//
//	PENDULUM_LISTEN            listen address (default :8787)
//	PENDULUM_LOG_LEVEL         debug | info | warn | error (default info)
//	PENDULUM_STORE             memory | redis (default memory)
//	PENDULUM_REDIS_ADDR        redis address (default localhost:6379)
//	PENDULUM_ITEM_DB           path to the agent's calendar cache (required)
//	PENDULUM_BRIDGE_CMD        mutation bridge executable
//	PENDULUM_AGENT_URL         sync agent trigger endpoint (empty: no-op)
//	PENDULUM_WEBHOOK_URL       lifecycle event receiver (empty: disabled)
//	PENDULUM_TRIGGER_RATE      sustained triggers/sec per account (default 1)
//	PENDULUM_TRIGGER_BURST     trigger burst per account (default 1)
//	PENDULUM_TZ                IANA zone for wall-clock parsing (default local)
//	PENDULUM_PROVIDER_DEADLINE PENDULUM_SETTLE_WAIT
//	PENDULUM_IDEMPOTENCY_TTL   PENDULUM_RETENTION PENDULUM_SWEEP_INTERVAL
//	PENDULUM_BULK_PARALLELISM  PENDULUM_QUERY_BATCH
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/api"
	"github.com/xraph/pendulum/engine"
	"github.com/xraph/pendulum/hook"
	"github.com/xraph/pendulum/itemstore/sqlite"
	"github.com/xraph/pendulum/provider/execbridge"
	"github.com/xraph/pendulum/store/memory"
	redisstore "github.com/xraph/pendulum/store/redis"
	"github.com/xraph/pendulum/syncagent"
)

func main() {
	if err := run(); err != nil {
		slog.Error("pendulumd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, relying on the environment")
	}

	logger := newLogger(getEnv("PENDULUM_LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Orchestration store.
	var (
		store       pendulum.Store
		redisClient *goredis.Client
	)
	switch kind := getEnv("PENDULUM_STORE", "memory"); kind {
	case "memory":
		store = memory.New()
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
			Addr: getEnv("PENDULUM_REDIS_ADDR", "localhost:6379"),
		})
		store = redisstore.New(redisClient, redisstore.WithLogger(logger))
	default:
		return fmt.Errorf("unknown PENDULUM_STORE %q", kind)
	}
	defer store.Close()
	if redisClient != nil {
		defer redisClient.Close()
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}

	// Calendar item store.
	itemDB := getEnv("PENDULUM_ITEM_DB", "")
	if itemDB == "" {
		return errors.New("PENDULUM_ITEM_DB is required")
	}
	items := sqlite.New(itemDB,
		sqlite.WithBatchSize(cfg.QueryBatchSize),
		sqlite.WithLogger(logger),
	)

	// Mutation provider.
	bridgeCmd := getEnv("PENDULUM_BRIDGE_CMD", "")
	if bridgeCmd == "" {
		logger.Warn("PENDULUM_BRIDGE_CMD is empty; mutations will fail the readiness check")
	}
	prov := execbridge.New(bridgeCmd, execbridge.WithLogger(logger))

	// Sync agent trigger.
	var trigger syncagent.Trigger = syncagent.Nop{}
	if agentURL := getEnv("PENDULUM_AGENT_URL", ""); agentURL != "" {
		trigger = syncagent.NewHTTP(agentURL, syncagent.WithLogger(logger))
		if rate := getEnvFloat("PENDULUM_TRIGGER_RATE", 1); rate > 0 {
			trigger = syncagent.NewLimited(trigger, rate, getEnvInt("PENDULUM_TRIGGER_BURST", 1))
		}
	} else {
		logger.Warn("PENDULUM_AGENT_URL is empty; sync triggers are no-ops")
	}

	hooks := hook.NewRegistry(logger)
	hooks.Register(hook.NewAudit(logger))
	if webhookURL := getEnv("PENDULUM_WEBHOOK_URL", ""); webhookURL != "" {
		wh := hook.NewWebhook(webhookURL, hook.WithWebhookLogger(logger))
		// Deferred close runs after eng.Stop below, so the queue drains
		// once nothing emits anymore.
		defer wh.Close()
		hooks.Register(wh)
	}

	eng, err := engine.New(
		engine.WithStore(store),
		engine.WithItemStore(items),
		engine.WithProvider(prov),
		engine.WithTrigger(trigger),
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithHooks(hooks),
	)
	if err != nil {
		return err
	}

	if err := eng.Start(context.Background()); err != nil {
		return err
	}

	listen := getEnv("PENDULUM_LISTEN", ":8787")
	server := &http.Server{
		Addr:         listen,
		Handler:      api.New(eng, api.WithLogger(logger)).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pendulumd listening",
			slog.String("addr", listen),
			slog.String("store", getEnv("PENDULUM_STORE", "memory")),
			slog.String("item_db", itemDB),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server drain incomplete", slog.String("error", err.Error()))
	}

	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine stop incomplete", slog.String("error", err.Error()))
	}

	logger.Info("pendulumd stopped")

	return nil
}

// loadConfig overlays PENDULUM_* timing knobs onto the defaults.
func loadConfig() (pendulum.Config, error) {
	cfg := pendulum.DefaultConfig()

	cfg.ProviderDeadline = getEnvDuration("PENDULUM_PROVIDER_DEADLINE", cfg.ProviderDeadline)
	cfg.SettleWait = getEnvDuration("PENDULUM_SETTLE_WAIT", cfg.SettleWait)
	cfg.IdempotencyTTL = getEnvDuration("PENDULUM_IDEMPOTENCY_TTL", cfg.IdempotencyTTL)
	cfg.Retention = getEnvDuration("PENDULUM_RETENTION", cfg.Retention)
	cfg.SweepInterval = getEnvDuration("PENDULUM_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.BulkParallelism = getEnvInt("PENDULUM_BULK_PARALLELISM", cfg.BulkParallelism)
	cfg.QueryBatchSize = getEnvInt("PENDULUM_QUERY_BATCH", cfg.QueryBatchSize)

	if tz := getEnv("PENDULUM_TZ", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return cfg, fmt.Errorf("PENDULUM_TZ: %w", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring malformed duration", slog.String("key", key), slog.String("value", v))
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed integer", slog.String("key", key), slog.String("value", v))
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring malformed number", slog.String("key", key), slog.String("value", v))
		return fallback
	}
	return f
}
