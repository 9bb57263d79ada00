// Package main implements the objectrelay entry point. One binary hosts any
// combination of the gateway, worker, and dead-letter roles, selected by
// configuration or the -roles flag, all sharing one broker connection.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/c360/objectrelay/blobstore"
	"github.com/c360/objectrelay/blobstore/memstore"
	"github.com/c360/objectrelay/blobstore/miniostore"
	"github.com/c360/objectrelay/blobstore/rediscache"
	"github.com/c360/objectrelay/broker"
	"github.com/c360/objectrelay/broker/amqpbroker"
	"github.com/c360/objectrelay/broker/membroker"
	"github.com/c360/objectrelay/broker/natsbroker"
	"github.com/c360/objectrelay/config"
	"github.com/c360/objectrelay/deadletter"
	"github.com/c360/objectrelay/gateway"
	"github.com/c360/objectrelay/health"
	"github.com/c360/objectrelay/metric"
	"github.com/c360/objectrelay/orchestrator"
	"github.com/c360/objectrelay/pkg/retry"
	"github.com/c360/objectrelay/tracker"
	"github.com/c360/objectrelay/worker"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "objectrelay"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.EnvFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(cfg, cliCfg); err != nil {
		return err
	}

	if cliCfg.Validate {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("starting objectrelay",
		"version", Version,
		"build_time", BuildTime,
		"roles", cfg.Roles(),
		"broker", cfg.BrokerKind,
		"store", cfg.StoreKind)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runRoles(signalCtx, cfg, logger)
}

// applyOverrides lets flags win over environment configuration. Any change
// is re-validated since roles and log enums interact with other fields.
func applyOverrides(cfg *config.Config, cliCfg *CLIConfig) error {
	changed := false

	if cliCfg.LogLevel != "" {
		cfg.LogLevel = cliCfg.LogLevel
		changed = true
	}
	if cliCfg.LogFormat != "" {
		cfg.LogFormat = cliCfg.LogFormat
		changed = true
	}
	if cliCfg.Roles != "" {
		cfg.EnableGateway = false
		cfg.EnableWorker = false
		cfg.EnableDeadLetter = false
		for _, role := range strings.Split(cliCfg.Roles, ",") {
			switch strings.TrimSpace(role) {
			case "gateway":
				cfg.EnableGateway = true
			case "worker":
				cfg.EnableWorker = true
			case "deadletter":
				cfg.EnableDeadLetter = true
			}
		}
		changed = true
	}

	if changed {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// runRoles wires the enabled roles onto one errgroup and blocks until a
// signal or the first role failure
func runRoles(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()
	monitor := health.NewMonitor()

	b, err := buildBroker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() { _ = b.Close() }()
	metrics.RecordBrokerStatus(true)
	monitor.UpdateHealthy("broker", cfg.BrokerKind+" connected")

	group, ctx := errgroup.WithContext(ctx)

	var letters *deadletter.Store
	if cfg.NeedsDatabase() {
		db, store, err := openLetterStore(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("open dead-letter store: %w", err)
		}
		defer func() { _ = db.Close() }()
		letters = store
	}

	if cfg.EnableWorker {
		store, closeStore, err := buildStore(ctx, cfg, logger, metrics)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		if closeStore != nil {
			defer closeStore()
		}

		w := worker.New(b, store,
			worker.WithLogger(logger),
			worker.WithMetrics(metrics),
			worker.WithHealth(monitor),
			worker.WithQueues(cfg.WriteQueue, cfg.ReadQueue),
			worker.WithDeadLetterQueue(cfg.DeadLetterQueue),
			worker.WithMaxAttempts(cfg.WorkerMaxAttempts),
			worker.WithStaleAfter(cfg.WorkerStaleAfter),
			worker.WithConcurrency(cfg.WorkerConcurrency),
		)
		group.Go(func() error { return w.Run(ctx) })
	}

	if cfg.EnableDeadLetter {
		handler := deadletter.NewHandler(b, letters,
			deadletter.WithLogger(logger),
			deadletter.WithMetrics(metrics),
			deadletter.WithHealth(monitor),
			deadletter.WithQueue(cfg.DeadLetterQueue),
		)
		group.Go(func() error { return handler.Run(ctx) })
	}

	if cfg.EnableGateway {
		trkOpts := []tracker.Option{
			tracker.WithLogger(logger),
			tracker.WithMetrics(metrics),
			tracker.WithSweepInterval(cfg.SweepInterval),
		}
		// The sweep only reclaims slots nobody awaited, so it must not
		// fire inside a live request window.
		if age := 2 * cfg.RequestTimeout; age > tracker.DefaultSweepAge {
			trkOpts = append(trkOpts, tracker.WithSweepAge(age))
		}
		trk := tracker.New(trkOpts...)

		hub := gateway.NewHub(logger, metrics)
		defer hub.Close()

		orchOpts := []orchestrator.Option{
			orchestrator.WithLogger(logger),
			orchestrator.WithMetrics(metrics),
			orchestrator.WithQueues(cfg.WriteQueue, cfg.ReadQueue),
			orchestrator.WithReplyQueuePrefix(cfg.ReplyQueuePrefix),
			orchestrator.WithTimeout(cfg.RequestTimeout),
			orchestrator.WithResultHook(hub.ResultHook()),
		}
		if cfg.InstanceID != "" {
			orchOpts = append(orchOpts, orchestrator.WithInstance(cfg.InstanceID))
		}
		orch := orchestrator.New(b, trk, orchOpts...)

		limiter := gateway.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

		gwOpts := []gateway.Option{
			gateway.WithLogger(logger),
			gateway.WithPort(cfg.HTTPPort),
			gateway.WithHealth(monitor),
			gateway.WithMetricsRegistry(registry),
			gateway.WithHub(hub),
			gateway.WithRateLimiter(limiter),
			gateway.WithMaxBodyBytes(cfg.MaxBodyBytes),
			gateway.WithTimeouts(cfg.HTTPReadTimeout, cfg.HTTPWriteTimeout),
			gateway.WithServiceName(cfg.ServiceName),
		}
		if letters != nil {
			gwOpts = append(gwOpts, gateway.WithLetterStore(letters))
		}
		gw := gateway.New(orch, gwOpts...)

		group.Go(func() error { return trk.Run(ctx) })
		group.Go(func() error { return orch.Run(ctx) })
		group.Go(func() error {
			limiter.Run(ctx)
			return nil
		})
		group.Go(gw.Start)
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return gw.Shutdown(shutdownCtx)
		})
	} else {
		// Non-gateway roles still expose /metrics and /health on the
		// standalone metrics server.
		ms := metric.NewServer(cfg.MetricsPort, "/metrics", registry)
		group.Go(ms.Start)
		group.Go(func() error {
			<-ctx.Done()
			return ms.Stop()
		})
	}

	slog.Info("objectrelay started", "roles", cfg.Roles())

	if err := group.Wait(); err != nil {
		return err
	}
	slog.Info("objectrelay shutdown complete")
	return nil
}

// buildBroker connects the configured broker, declaring the work queues
// where the broker needs declarations up front
func buildBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (broker.Client, error) {
	switch cfg.BrokerKind {
	case config.BrokerAMQP:
		client, err := amqpbroker.New(ctx, cfg.AMQPURL,
			amqpbroker.WithLogger(logger),
			amqpbroker.WithConnectRetry(retry.Persistent()))
		if err != nil {
			return nil, err
		}
		if err := client.DeclareQueues(cfg.WriteQueue, cfg.ReadQueue, cfg.DeadLetterQueue); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil

	case config.BrokerNATS:
		// Streams are ensured lazily on first publish or consume.
		return natsbroker.New(ctx, cfg.NATSURL,
			natsbroker.WithLogger(logger),
			natsbroker.WithName(cfg.ServiceName),
			natsbroker.WithReplyPrefix(cfg.ReplyQueuePrefix),
			natsbroker.WithConnectRetry(retry.Persistent()))

	default:
		return membroker.New(), nil
	}
}

// buildStore opens the configured blob store, wrapped in the read-through
// cache when Redis is configured. The returned func releases the cache
// connection and may be nil.
func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics) (blobstore.Store, func(), error) {
	var store blobstore.Store

	switch cfg.StoreKind {
	case config.StoreMinio:
		ms, err := miniostore.New(miniostore.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			return ms.EnsureBucket(ctx)
		}); err != nil {
			return nil, nil, err
		}
		store = ms

	default:
		store = memstore.New()
	}

	var closeFn func()
	if cfg.CacheEnabled() {
		client, err := rediscache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closeFn = func() { _ = client.Close() }
		store = rediscache.New(store, client,
			rediscache.WithTTL(cfg.CacheTTL),
			rediscache.WithLogger(logger),
			rediscache.WithCounters(metrics.CacheHits, metrics.CacheMisses),
		)
		logger.Info("object cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	return store, closeFn, nil
}

// openLetterStore connects Postgres, applies migrations, and returns the
// dead-letter store
func openLetterStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, *deadletter.Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if err := deadletter.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	logger.Info("dead-letter store ready", "host", cfg.DBHost, "database", cfg.DBName)
	return db, deadletter.NewStore(db), nil
}
