package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cacophony-project/cacophony-api/pkg/api"
	"github.com/cacophony-project/cacophony-api/pkg/audit"
	"github.com/cacophony-project/cacophony-api/pkg/auth"
	"github.com/cacophony-project/cacophony-api/pkg/config"
	"github.com/cacophony-project/cacophony-api/pkg/httputil"
	"github.com/cacophony-project/cacophony-api/pkg/middleware"
	"github.com/cacophony-project/cacophony-api/pkg/objectstore"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
	"github.com/cacophony-project/cacophony-api/pkg/permissions"
	"github.com/cacophony-project/cacophony-api/pkg/reconcile"
	"github.com/cacophony-project/cacophony-api/pkg/scheduler"
	"github.com/cacophony-project/cacophony-api/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting cacophony-api")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := observability.ShutdownOTel(shutdownCtx, otelProviders, logger); err != nil {
			logger.WithError(err).Warn("OpenTelemetry shutdown failed")
		}
	}()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	entityStore, err := store.NewStore(cfg.Database, metrics)
	if err != nil {
		return err
	}
	defer entityStore.Close()

	if err := store.RunMigrations(ctx, entityStore.DB(), logger); err != nil {
		return err
	}

	var redisClient *redis.Client
	var rateLimiter *middleware.RateLimiter
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:       cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		rateLimiter = middleware.NewRateLimiter(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Redis.RateLimitRequests,
			WindowDuration:    cfg.Redis.RateLimitWindow,
		}, "cacophony")
	}

	objects, err := objectstore.NewS3Store(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.UserTokenTTL, cfg.Auth.DeviceTokenTTL)
	if err != nil {
		return err
	}

	auditor := audit.NewRecorder(entityStore.DB(), logger)

	server := api.NewServer(api.Deps{
		Store:       entityStore,
		Resolver:    permissions.NewResolver(entityStore.DB()),
		Tokens:      tokens,
		Passwords:   auth.NewPasswordPolicy(cfg.Auth.MinPasswordLength),
		Objects:     objects,
		Auditor:     auditor,
		Importer:    reconcile.NewApplier(entityStore.DB(), logger),
		Authn:       middleware.NewAuthenticator(tokens, entityStore, false),
		RateLimiter: rateLimiter,
	})

	jobs, err := scheduler.New(entityStore.DB(), auditor, metrics, logger)
	if err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	var handler http.Handler = server
	wrap := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(cfg.Server.MaxUploadBytes),
	)
	handler = wrap(handler)
	if metrics != nil {
		handler = metrics.HTTPMiddleware(handler)
	}
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "cacophony-api")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(entityStore.DB(), redisClient)
	health.RegisterDependency("s3", objects.HealthCheck)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	healthMux.Handle("/metrics", observability.Handler(registry))

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown failed")
		}
		return nil
	})

	return group.Wait()
}
