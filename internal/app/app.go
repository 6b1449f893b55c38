/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package app wires the service together: configuration, logging, backends,
// the submission pipeline, and the HTTP server units.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	appkitconfig "github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/lrucache"
	"github.com/acronis/go-appkit/profserver"
	"github.com/acronis/go-appkit/retry"
	"github.com/acronis/go-appkit/service"

	"github.com/acronis/txsubmit/internal/cache"
	"github.com/acronis/txsubmit/internal/config"
	"github.com/acronis/txsubmit/internal/httpapi"
	"github.com/acronis/txsubmit/internal/queue"
	"github.com/acronis/txsubmit/internal/ratelimit"
	"github.com/acronis/txsubmit/internal/store"
	"github.com/acronis/txsubmit/internal/submit"
)

// ErrorDomain distinguishes this service's errors in response bodies.
const ErrorDomain = "TxSubmit"

// metricsNamespace prefixes all Prometheus metrics of the service.
const metricsNamespace = "txsubmit"

// connectMaxElapsedTime bounds startup retries against the backends.
const connectMaxElapsedTime = 30 * time.Second

// Run loads the configuration and runs the service until a shutdown signal
// or a fatal error.
func Run(configPath string) error {
	cfg, err := loadAppConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	ctx := context.Background()

	pg, err := connectPostgres(ctx, cfg.Postgres.URL, logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pg.Close()

	redisClient, err := connectRedis(ctx, cfg.Redis.URL, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	if err = cache.LoadScripts(ctx, redisClient); err != nil {
		// Not fatal: go-redis re-sends the script body on NOSCRIPT.
		logger.Warn("preloading cache scripts failed", log.Error(err))
	}

	policyCacheMetrics := lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
		Namespace: metricsNamespace + "_rate_limit_policy",
	})
	policyCacheMetrics.MustRegister()
	defer policyCacheMetrics.Unregister()

	resolver, err := ratelimit.NewPolicyResolver(pg, logger, ratelimit.PolicyResolverOpts{
		MaxKeys:          cfg.RateLimit.PolicyCache.MaxKeys,
		TTL:              time.Duration(cfg.RateLimit.PolicyCache.TTL),
		MetricsCollector: policyCacheMetrics,
	})
	if err != nil {
		return fmt.Errorf("new policy resolver: %w", err)
	}
	limiter := ratelimit.NewLimiter(resolver, cache.NewRedisWindowAdmitter(redisClient))
	coordinator := queue.NewCoordinator(pg, cache.NewRedisPriorityIndex(redisClient), cfg.Queue.DrainRatePerSec, logger)

	// Rebuild the position index from the durable pending set: the cache may
	// be cold or stale relative to rows admitted by other replicas.
	if err = coordinator.ReconcileIndex(ctx); err != nil {
		// Not fatal: admissions keep using the index as it is. An index update
		// failure falls back to a store count and triggers another pass.
		logger.Warn("priority index reconciliation on startup failed", log.Error(err))
	}

	var breaker *submit.CircuitBreaker
	if cfg.Submit.CircuitBreaker.Enabled {
		breaker = submit.NewCircuitBreaker(submit.CircuitBreakerOpts{
			FailureThreshold: int64(cfg.Submit.CircuitBreaker.FailureThreshold),
			Window:           time.Duration(cfg.Submit.CircuitBreaker.Window),
			Cooldown:         time.Duration(cfg.Submit.CircuitBreaker.Cooldown),
		})
	}

	submitMetrics := submit.NewPrometheusMetrics(metricsNamespace)
	submitMetrics.MustRegister()
	defer submitMetrics.Unregister()

	orchestrator := submit.NewOrchestrator(limiter, coordinator, logger, submit.Opts{
		Timeout: time.Duration(cfg.Submit.Timeout),
		Breaker: breaker,
		Metrics: submitMetrics,
	})
	handler := httpapi.NewHandler(orchestrator, ErrorDomain)

	httpServer, err := makeHTTPServer(cfg, handler, pg, redisClient, logger)
	if err != nil {
		return fmt.Errorf("make HTTP server: %w", err)
	}

	serviceUnits := []service.Unit{httpServer}
	if cfg.ProfServer.Enabled {
		serviceUnits = append(serviceUnits, profserver.New(cfg.ProfServer, logger))
	}

	return service.New(logger, service.NewCompositeUnit(serviceUnits...)).Start()
}

func loadAppConfig(configPath string) (*config.AppConfig, error) {
	cfgLoader := appkitconfig.NewDefaultLoader(config.ServiceName)
	cfg := config.NewAppConfig()
	if configPath != "" {
		if err := cfgLoader.LoadFromFile(configPath, appkitconfig.DataTypeYAML, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := cfgLoader.LoadFromReader(strings.NewReader(""), appkitconfig.DataTypeYAML, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func connectPostgres(ctx context.Context, url string, logger log.FieldLogger) (pg *store.Postgres, err error) {
	err = retry.DoWithRetry(ctx, connectBackoffPolicy(), nil, connectRetryNotify(logger, "postgres"),
		func(ctx context.Context) error {
			pg, err = store.NewPostgres(ctx, url, logger)
			return err
		})
	return pg, err
}

func connectRedis(ctx context.Context, url string, logger log.FieldLogger) (client *redis.Client, err error) {
	err = retry.DoWithRetry(ctx, connectBackoffPolicy(), nil, connectRetryNotify(logger, "redis"),
		func(ctx context.Context) error {
			client, err = cache.NewRedisClient(ctx, url)
			return err
		})
	return client, err
}

func connectBackoffPolicy() retry.Policy {
	return retry.PolicyFunc(func() backoff.BackOff {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = connectMaxElapsedTime
		return eb
	})
}

func connectRetryNotify(logger log.FieldLogger, backend string) backoff.Notify {
	return func(err error, delay time.Duration) {
		logger.Warn("backend connection failed, retrying",
			log.String("backend", backend), log.Duration("delay", delay), log.Error(err))
	}
}

func makeHTTPServer(
	cfg *config.AppConfig, handler *httpapi.Handler, pg *store.Postgres, redisClient *redis.Client, logger log.FieldLogger,
) (*httpserver.HTTPServer, error) {
	opts := httpserver.Opts{
		ServiceNameInURL: config.ServiceName,
		ErrorDomain:      ErrorDomain,
		APIRoutes: map[httpserver.APIVersion]httpserver.APIRoute{
			1: handler.RegisterRoutes,
		},
		HealthCheckContext: func(ctx context.Context) (httpserver.HealthCheckResult, error) {
			result := httpserver.HealthCheckResult{
				"postgres": httpserver.HealthCheckStatusOK,
				"redis":    httpserver.HealthCheckStatusOK,
			}
			if err := pg.Ping(ctx); err != nil {
				result["postgres"] = httpserver.HealthCheckStatusFail
			}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				result["redis"] = httpserver.HealthCheckStatusFail
			}
			return result, nil
		},
	}
	httpServer, err := httpserver.New(cfg.Server, logger, opts)
	if err != nil {
		return nil, err
	}

	// The wire contract exposes the endpoint at the root as well as under the
	// versioned API prefix.
	httpServer.HTTPRouter.Route("/v1", func(router chi.Router) {
		handler.RegisterRoutes(router)
	})

	return httpServer, nil
}
