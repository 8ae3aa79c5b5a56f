package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockd/internal/api"
	"stockd/internal/config"
	"stockd/internal/logger"
	"stockd/internal/models"
	"stockd/internal/observability"
	"stockd/internal/quotes"
	"stockd/internal/ratelimit"
	"stockd/internal/retention"
	"stockd/internal/storage"
	"stockd/internal/upstream"
	"stockd/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	saveExample = flag.String("save-example", "", "Write an example configuration file to the given path and exit")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	if *saveExample != "" {
		if err := config.SaveExample(*saveExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *saveExample)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	if err := seedBootstrapKey(context.Background(), activeStorage, cfg); err != nil {
		slog.Error("Failed to seed bootstrap key", "error", err)
		os.Exit(1)
	}

	// The outbound limiter is constructed once here and handed by
	// reference to everything that talks to the provider.
	adaptive := ratelimit.NewAdaptiveLimiter(limiterConfig(cfg.Limiter))

	var providerLimiter upstream.Limiter = adaptive
	var limiterAdmin api.LimiterAdmin = adaptive
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedLimiter(adaptive)
		if err != nil {
			slog.Error("Failed to create instrumented limiter", "error", err)
			os.Exit(1)
		}
		providerLimiter = instrumented
		limiterAdmin = instrumented
	}

	// Upstream client and quote service
	provider := upstream.NewClient(cfg.Upstream, providerLimiter)
	quoteService := quotes.NewService(activeStorage, provider, cfg.Cache)

	// Retention pruner sweeping expired cache entries
	pruneCtx, cancelPrune := context.WithCancel(context.Background())
	defer cancelPrune()
	pruner := retention.NewPruner(activeStorage, cfg.Cache)
	if cfg.Cache.Enabled {
		if err := pruner.Start(pruneCtx); err != nil {
			slog.Error("Failed to start retention pruner", "error", err)
			os.Exit(1)
		}
		defer pruner.Stop()
	}

	// Initialize HTTP handlers
	handlers := api.NewHandlers(quoteService,
		api.WithStorage(activeStorage),
		api.WithLimiter(limiterAdmin),
		api.WithVersion(ver),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Metrics.TracingEnabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware("stockd"))
	}

	// Inbound rate limiter if enabled
	if cfg.Security.RateLimit.Enabled {
		rlCfg := cfg.Security.RateLimit
		clientLimiter := ratelimit.NewClientLimiter(rlCfg.RequestsPerMinute, rlCfg.BurstSize, rlCfg.CleanupInterval)
		defer clientLimiter.Close()
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(clientLimiter)))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Watch the config file for hot-applicable changes
	if *configFile != "" {
		watcher, err := config.NewWatcher(*configFile)
		if err != nil {
			slog.Error("Failed to create config watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			err := watcher.Watch(context.Background(), func(next *models.Config) {
				applyHotConfig(next, adaptive, quoteService)
			})
			if err != nil {
				slog.Error("Config watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// limiterConfig maps the operator facing limiter settings onto the
// limiter's own config type. Strategy validity was checked during
// config.Load; an unknown value here falls back to the default.
func limiterConfig(lc models.LimiterConfig) ratelimit.Config {
	strategy, err := ratelimit.ParseStrategy(lc.Strategy)
	if err != nil {
		strategy = ratelimit.StrategyNormal
	}
	return ratelimit.Config{
		Strategy:      strategy,
		BackoffFactor: lc.BackoffFactor,
		MaxAttempts:   lc.MaxRetries,
		Cooldown:      lc.Cooldown,
	}
}

// applyHotConfig applies the subset of a reloaded config that can change
// at runtime: the limiter strategy and the cache TTLs. Everything else
// (ports, storage backend, auth) requires a restart.
func applyHotConfig(next *models.Config, limiter *ratelimit.AdaptiveLimiter, quoteService *quotes.Service) {
	if strategy, err := ratelimit.ParseStrategy(next.Limiter.Strategy); err == nil {
		if strategy != limiter.Strategy() {
			if err := limiter.SetStrategy(strategy); err != nil {
				slog.Error("Failed to apply reloaded strategy", "strategy", strategy, "error", err)
			} else {
				slog.Info("Limiter strategy updated from config reload", "strategy", strategy)
			}
		}
	}
	quoteService.SetCacheConfig(next.Cache)
}

// seedBootstrapKey inserts the configured bootstrap key into storage if it
// does not already exist. It is a no-op when BootstrapKey is empty.
func seedBootstrapKey(ctx context.Context, store storage.Storage, cfg *models.Config) error {
	raw := cfg.Security.BootstrapKey
	if raw == "" {
		return nil
	}
	hash := models.HashAPIKey(raw)
	if _, err := store.GetAPIKeyByHash(ctx, hash); err == nil {
		// Already seeded - idempotent.
		return nil
	}
	key := models.NewAPIKey(models.NewKeyID(), "bootstrap", raw, []string{"admin"})
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("seed bootstrap key: %w", err)
	}
	slog.Info("bootstrap API key seeded", "id", key.ID, "prefix", key.Prefix)
	return nil
}
