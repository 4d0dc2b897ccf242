package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jujuci/bundleverify/internal/cache"
	"github.com/jujuci/bundleverify/internal/config"
	"github.com/jujuci/bundleverify/internal/juju"
	"github.com/jujuci/bundleverify/internal/observability"
	"github.com/jujuci/bundleverify/internal/server"
	"github.com/jujuci/bundleverify/internal/validation"
	"github.com/jujuci/bundleverify/internal/verify"
	"github.com/jujuci/bundleverify/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve [services...]",
	Short: "Re-verify the bundle on an interval and expose the report over HTTP",
	Long: "Runs a verification loop and serves /report, /health and /metrics.\n" +
		"With no services, watches the Landscape bundle.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := observability.NewLogger("serve")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cfg)

	services := verify.LandscapeServices()
	opts := optionsFromConfig(cfg)
	if len(args) > 0 {
		services = services[:0]
		for _, arg := range args {
			name, err := validation.ValidateServiceName(arg)
			if err != nil {
				return fmt.Errorf("%q: %w", arg, err)
			}
			services = append(services, name)
		}
	} else if opts.Text == "" {
		// Watching the Landscape bundle implies its fingerprint unless the
		// config says otherwise.
		opts.Text = "Landscape"
	}

	var store cache.ReportCache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return fmt.Errorf("memcached cache: %w", err)
		}
		memcacheCloser = mc
		store = mc
		logger.Info("report cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryCache()
		logger.Info("report cache backend: in_memory")
	}

	client := juju.NewBreakerClient(
		juju.NewCLIClient(cfg.JujuPath, cfg.Model, cfg.StatusTimeout),
		juju.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Cooldown:         cfg.BreakerCooldown,
		},
	)

	verifier := verify.NewHTTPVerifier(logger)
	watcher := watch.New(verifier, client, services, opts, store, cfg.ReportTTL, cfg.WatchInterval, logger)

	healthConfig := &server.HealthConfig{
		WatchInterval: cfg.WatchInterval,
		StartTime:     time.Now(),
		BreakerState:  func() string { return client.State().String() },
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := server.NewHandler(store, cfg.Model, healthConfig, logger)
	router := server.NewRouter(handler, logger, limiter)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("watch loop starting",
			zap.Strings("services", services),
			zap.Duration("interval", cfg.WatchInterval))
		if err := watcher.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("watch loop stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return nil
}
