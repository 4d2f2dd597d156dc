package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltehedderich/rate-governor/internal/audit"
	"github.com/maltehedderich/rate-governor/internal/auth"
	"github.com/maltehedderich/rate-governor/internal/circuitbreaker"
	"github.com/maltehedderich/rate-governor/internal/config"
	"github.com/maltehedderich/rate-governor/internal/health"
	"github.com/maltehedderich/rate-governor/internal/logger"
	"github.com/maltehedderich/rate-governor/internal/metrics"
	"github.com/maltehedderich/rate-governor/internal/ratelimit"
	"github.com/maltehedderich/rate-governor/internal/router"
	"github.com/maltehedderich/rate-governor/internal/server"
	"github.com/maltehedderich/rate-governor/internal/tracing"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	version    = "1.0.0"
	buildTime  = "unknown"
	gitCommit  = "unknown"
)

func main() {
	flag.Parse()

	fmt.Printf("Rate Governor v%s (commit: %s, built: %s)\n", version, gitCommit, buildTime)

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg); err != nil {
		logger.Get().WithComponent("main").Error("governor stopped with error", logger.Fields{
			"error": err.Error(),
		})
		closeLog()
		os.Exit(1)
	}
}

func initLogger(cfg config.LoggingConfig) (func(), error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	output := os.Stdout
	closeFn := func() {}
	switch cfg.Output {
	case "stdout", "":
	case "stderr":
		output = os.Stderr
	default:
		output, err = os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closeFn = func() { _ = output.Close() }
	}

	logger.Init(level, cfg.Format, output)

	if len(cfg.SanitizePatterns) > 0 {
		if err := logger.Get().SetSanitizePatterns(cfg.SanitizePatterns); err != nil {
			closeFn()
			return nil, fmt.Errorf("invalid sanitize patterns: %w", err)
		}
	}

	for component, levelStr := range cfg.ComponentLevels {
		componentLevel, err := logger.ParseLevel(levelStr)
		if err != nil {
			logger.Get().WithComponent("main").Warn("invalid component log level", logger.Fields{
				"component": component,
				"level":     levelStr,
				"error":     err.Error(),
			})
			continue
		}
		logger.Get().SetComponentLevel(component, componentLevel)
	}

	return closeFn, nil
}

func run(cfg *config.Config) error {
	log := logger.Get().WithComponent("main")
	log.Info("starting rate governor", logger.Fields{
		"version":    version,
		"git_commit": gitCommit,
		"build_time": buildTime,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.MetricsEnabled {
		metrics.Init()
	}

	if err := tracing.Init(&tracing.Config{
		Enabled:        cfg.Observability.TracingEnabled,
		Endpoint:       cfg.Observability.TracingEndpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		SampleRate:     cfg.Observability.TracingSampleRate,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	store, breaker, err := newCounterStore(ctx, &cfg.RateLimit)
	if err != nil {
		return err
	}

	healthMgr := health.NewManager(2 * time.Second)
	healthMgr.Register("config", health.ConfigChecker(func() bool {
		return config.Get() != nil
	}))
	healthMgr.Register("counter_store", health.StoreChecker(store.Ping))
	if breaker != nil {
		healthMgr.Register("store_breaker", health.BreakerChecker(func() string {
			state := breaker.GetState().String()
			if d := breaker.RetryIn(); d > 0 {
				return fmt.Sprintf("%s, probing in %s", state, d.Round(time.Second))
			}
			return state
		}))
	}

	knownRoutes := ratelimit.ConfiguredRoutes(cfg.Routes, &cfg.RateLimit)
	opts := []ratelimit.Option{
		ratelimit.WithMetricsLabel(ratelimit.RouteLabels(knownRoutes...)),
	}
	var dispatcher *audit.Dispatcher
	if cfg.Audit.Enabled {
		sink, err := newAuditSink(ctx, &cfg.Audit)
		if err != nil {
			_ = store.Close()
			return err
		}
		dispatcher = audit.NewDispatcher(sink, audit.DispatcherConfig{
			QueueSize:    cfg.Audit.QueueSize,
			Workers:      cfg.Audit.Workers,
			WriteTimeout: cfg.Audit.WriteTimeout,
		})
		opts = append(opts, ratelimit.WithAuditor(dispatcher))
		healthMgr.Register("audit_queue", health.QueueChecker(dispatcher.Len, dispatcher.Cap, 0.9))
	}

	governor := ratelimit.New(store, opts...)

	routes := router.New()
	if err := routes.LoadRoutes(cfg.Routes); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to load routes: %w", err)
	}

	identity, err := auth.NewMiddleware(&cfg.Identity)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to initialize identity: %w", err)
	}

	srv, err := server.New(cfg, server.Dependencies{
		Governor: governor,
		Routes:   routes,
		Identity: identity,
		Health:   healthMgr,
	})
	if err != nil {
		_ = store.Close()
		return err
	}

	log.Info("configuration loaded successfully", logger.Fields{
		"http_port":     cfg.Server.HTTPPort,
		"backend":       cfg.RateLimit.Backend,
		"failure_mode":  cfg.RateLimit.FailureMode,
		"routes":        len(routes.GetRoutes()),
		"global_limits": len(cfg.RateLimit.GlobalLimits),
		"audit_sink":    cfg.Audit.Sink,
	})

	serveErr := srv.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			log.Warn("audit queue not fully drained", logger.Fields{"error": err.Error()})
		}
	}
	if err := store.Close(); err != nil {
		log.Warn("failed to close counter store", logger.Fields{"error": err.Error()})
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to flush traces", logger.Fields{"error": err.Error()})
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info("rate governor stopped")
	return nil
}

func newCounterStore(ctx context.Context, cfg *config.RateLimitConfig) (ratelimit.CounterStore, *circuitbreaker.CircuitBreaker, error) {
	var (
		store ratelimit.CounterStore
		err   error
	)

	switch cfg.Backend {
	case "memory":
		store = ratelimit.NewMemoryStore()
	case "redis":
		store, err = ratelimit.NewRedisStore(ctx, ratelimit.RedisConfig{
			Addr:           cfg.RedisAddr,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			Timeout:        cfg.RedisTimeout,
			ConnectTimeout: cfg.RedisConnectTimeout,
		})
	case "dynamodb":
		store, err = ratelimit.NewDynamoDBStore(ctx, cfg.DynamoDBTable, cfg.DynamoDBRegion)
	default:
		err = fmt.Errorf("unknown rate limit backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create counter store: %w", err)
	}

	if !cfg.Breaker.Enabled || cfg.Backend == "memory" {
		return store, nil, nil
	}

	breaker := circuitbreaker.New("counter_store", &circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
		MaxRequests:      cfg.Breaker.MaxRequests,
	})
	return ratelimit.NewBreakerStore(store, breaker), breaker, nil
}

func newAuditSink(ctx context.Context, cfg *config.AuditConfig) (audit.Sink, error) {
	switch cfg.Sink {
	case "log", "":
		return audit.NewLogSink(), nil
	case "dynamodb":
		sink, err := audit.NewDynamoDBSink(ctx, cfg.DynamoDBTable, cfg.DynamoDBRegion, cfg.Retention)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit sink: %w", err)
		}
		return sink, nil
	}
	return nil, fmt.Errorf("unknown audit sink: %s", cfg.Sink)
}
