package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/execroute/execroute/internal/api"
	"github.com/execroute/execroute/internal/auth"
	"github.com/execroute/execroute/internal/cache"
	"github.com/execroute/execroute/internal/circuitbreaker"
	"github.com/execroute/execroute/internal/config"
	"github.com/execroute/execroute/internal/cost"
	"github.com/execroute/execroute/internal/crypto"
	"github.com/execroute/execroute/internal/events"
	"github.com/execroute/execroute/internal/executor"
	"github.com/execroute/execroute/internal/health"
	"github.com/execroute/execroute/internal/metrics"
	"github.com/execroute/execroute/internal/notifications"
	"github.com/execroute/execroute/internal/queue"
	"github.com/execroute/execroute/internal/quota"
	"github.com/execroute/execroute/internal/registry"
	"github.com/execroute/execroute/internal/repository"
	"github.com/execroute/execroute/internal/router"
	"github.com/execroute/execroute/internal/secrets"
	"github.com/execroute/execroute/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting execroute", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "execroute", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	providersFile, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		slog.Error("failed to load providers", "file", cfg.ProvidersFile, "error", err)
		os.Exit(1)
	}
	if len(providersFile.Providers) == 0 {
		slog.Error("no providers configured", "file", cfg.ProvidersFile)
		os.Exit(1)
	}

	var secretStore secrets.Store
	if cfg.AWSRegion != "" {
		secretStore, err = secrets.NewAWSStore(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to init secrets store", "error", err)
			os.Exit(1)
		}
		slog.Info("using aws secrets manager", "region", cfg.AWSRegion)
	} else {
		secretStore = envSecretStore{}
		slog.Info("using environment secrets")
	}

	// Event plumbing: hub for subscribers (alert bridge), log emitter for
	// operators.
	hub := events.NewHub(256)
	emitter := events.Multi{events.NewLog(nil), hub}

	var notifier notifications.Notifier
	if cfg.SNSTopicARN != "" && cfg.AWSRegion != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to init sns notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("publishing alerts to sns", "topic", cfg.SNSTopicARN)
	} else {
		notifier = notifications.NewLogNotifier(nil)
	}

	alertCh, cancelAlerts := hub.Subscribe()
	defer cancelAlerts()
	go notifications.NewBridge(notifier, nil).Run(ctx, alertCh)

	// Stores: shared backends when configured, in-process otherwise.
	var quotaStore quota.Store
	var costStore cost.Store
	var checkers []api.HealthChecker

	if cfg.DatabaseURL != "" {
		db, derr := repository.Open(cfg.DatabaseURL)
		if derr != nil {
			slog.Error("failed to connect to postgres", "error", derr)
			os.Exit(1)
		}
		defer db.Close()
		costStore = repository.NewPostgresCostStore(db)
		quotaStore = repository.NewPostgresQuotaStore(db)
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("using postgres stores")
	} else {
		costStore = cost.NewMemoryStore()
		quotaStore = quota.NewMemoryStore()
		slog.Info("using in-memory stores")
	}

	if cfg.RedisURL != "" && cfg.DatabaseURL == "" {
		rs, rerr := quota.NewRedisStore(cfg.RedisURL)
		if rerr != nil {
			slog.Error("failed to connect to redis", "error", rerr)
			os.Exit(1)
		}
		quotaStore = rs
		slog.Info("using redis quota store")
	}

	tracker := quota.NewTracker(quotaStore, providersFile.QuotaLimits(), quota.WithResetHour(cfg.QuotaResetHour))
	ledger := cost.NewLedger(costStore, providersFile.CostBudgets())
	calculator := cost.NewCalculator(providersFile.Pricing())

	breakers := circuitbreaker.NewManager(circuitbreaker.WithTransitionFunc(
		func(provider string, from, to circuitbreaker.State) {
			metrics.SetCircuitBreakerState(provider, int(to))
			emitter.Emit(events.New(events.TypeBreakerTransition, provider, map[string]any{
				"from": from.String(),
				"to":   to.String(),
			}))
		},
	))

	var sealer *crypto.Sealer
	if cfg.EncryptionKey != "" {
		sealer, err = crypto.NewSealer(cfg.EncryptionKey)
		if err != nil {
			slog.Error("failed to init credential sealer", "error", err)
			os.Exit(1)
		}
	}

	reg := registry.New()
	for _, pc := range providersFile.Providers {
		spec := pc.Spec()

		exec, eerr := buildExecutor(ctx, pc, cfg.AWSRegion, secretStore, sealer)
		if eerr != nil {
			slog.Error("failed to build executor", "provider", pc.Name, "error", eerr)
			os.Exit(1)
		}

		breakerCfg := circuitbreaker.Config{
			FailureThreshold: spec.Breaker.FailureThreshold,
			RecoveryTimeout:  spec.Breaker.RecoveryTimeout,
		}
		if breakerCfg.FailureThreshold == 0 {
			breakerCfg = circuitbreaker.DefaultConfig()
		}

		reg.Register(spec, exec, breakers.Register(pc.Name, breakerCfg))
		slog.Info("registered provider",
			"provider", pc.Name,
			"priority", spec.Priority,
			"executor", pc.Executor.Type,
		)
	}

	monitor := health.NewMonitor(reg, health.Config{
		Interval:     cfg.HealthInterval,
		ProbeTimeout: cfg.HealthProbeTimeout,
		Emitter:      emitter,
	})
	go monitor.Start(ctx)

	engine := router.New(router.Config{
		Registry:   reg,
		Quota:      tracker,
		Ledger:     ledger,
		Calculator: calculator,
		Emitter:    emitter,
	})

	var responseCache cache.Cache
	if cfg.RedisURL != "" {
		responseCache, err = cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
			responseCache = cache.NewInMemoryCache()
		} else {
			defer responseCache.(*cache.RedisCache).Close()
			if redisChecker, cerr := api.NewRedisHealthChecker(cfg.RedisURL); cerr == nil {
				checkers = append(checkers, redisChecker)
			}
		}
	} else {
		responseCache = cache.NewInMemoryCache()
	}

	var dispatchQueue queue.Queue
	if cfg.SQSDispatchQueueURL != "" && cfg.SQSResultQueueURL != "" && cfg.AWSRegion != "" {
		dispatchQueue, err = queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSDispatchQueueURL, cfg.SQSResultQueueURL)
		if err != nil {
			slog.Error("failed to init sqs queue", "error", err)
			os.Exit(1)
		}
		go queue.NewWorker(dispatchQueue, engine, nil).Run(ctx)
		slog.Info("async dispatch enabled", "queue", cfg.SQSDispatchQueueURL)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Router:   engine,
		Registry: reg,
		Admin:    auth.NewAdmin(cfg.AdminKeyHash),
		Cache:    responseCache,
		Queue:    dispatchQueue,
		Checkers: checkers,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	cancel()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}

// buildExecutor constructs the backend adapter for one provider entry.
// Credentials referenced by api_key_ref resolve through the secrets store;
// api_key_sealed values are opened with the configured encryption key.
func buildExecutor(ctx context.Context, pc config.ProviderConfig, awsRegion string, store secrets.Store, sealer *crypto.Sealer) (executor.Executor, error) {
	switch pc.Executor.Type {
	case "static":
		return executor.NewStatic(pc.Name, "ok"), nil

	case "http":
		apiKey := ""
		switch {
		case pc.Executor.APIKeyRef != "":
			key, err := store.Get(ctx, pc.Executor.APIKeyRef)
			if err != nil {
				return nil, err
			}
			apiKey = key
		case pc.Executor.APIKeySealed != "":
			if sealer == nil {
				return nil, &missingSecretError{name: "ENCRYPTION_KEY"}
			}
			key, err := sealer.Open(pc.Executor.APIKeySealed)
			if err != nil {
				return nil, err
			}
			apiKey = key
		}
		return executor.NewHTTP(pc.Name, pc.Executor.Endpoint, apiKey), nil

	case "subprocess":
		return executor.NewSubprocess(pc.Name, pc.Executor.Command, pc.Executor.Args...), nil

	case "bedrock":
		return executor.NewBedrock(ctx, pc.Name, awsRegion, pc.Executor.ModelID)

	default:
		return nil, &unknownExecutorError{kind: pc.Executor.Type}
	}
}

type unknownExecutorError struct {
	kind string
}

func (e *unknownExecutorError) Error() string {
	return "unknown executor type: " + e.kind
}

// envSecretStore resolves secret references directly from the environment.
// Local-run fallback when no AWS region is configured.
type envSecretStore struct{}

func (envSecretStore) Get(ctx context.Context, name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", &missingSecretError{name: name}
}

type missingSecretError struct {
	name string
}

func (e *missingSecretError) Error() string {
	return "secret not set in environment: " + e.name
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
