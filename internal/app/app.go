// Package app wires the association engine's dependencies into a runnable HTTP service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/config"
	assocrepo "github.com/Ramsey-B/fern/internal/repositories/association"
	"github.com/Ramsey-B/fern/pkg/aicontext"
	"github.com/Ramsey-B/fern/pkg/associations"
	"github.com/Ramsey-B/fern/pkg/cache"
	"github.com/Ramsey-B/fern/pkg/container"
	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/association"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/startup"
)

const Version = "1.0.0"

type App struct {
	cfg     config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	checker *health.Checker
	echo    *echo.Echo
	server  *http.Server

	tracerProvider *sdktrace.TracerProvider
	store          docstore.Store
	closeStore     func() error
	queryCache     cache.Cache[*models.AssociationResult]
	redis          *redis.Client
	graph          *graph.Client
	producer       *kafka.Producer
}

// New registers every dependency the service needs. Nothing connects until Start.
func New(cfg config.Config, logger ectologger.Logger) *App {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		checker: health.NewChecker(Version),
	}

	a.startup.AddDependency(startup.Func{Name: "tracing", StartFn: a.startTracing, StopFn: a.stopTracing})
	a.startup.AddDependency(startup.Func{Name: "docstore", StartFn: a.startDocstore, StopFn: a.stopDocstore})
	a.startup.AddDependency(startup.Func{Name: "cache", StartFn: a.startCache, StopFn: a.stopCache})
	a.startup.AddDependency(startup.Func{Name: "graph", StartFn: a.startGraph, StopFn: a.stopGraph})
	a.startup.AddDependency(startup.Func{Name: "kafka", StartFn: a.startKafka, StopFn: a.stopKafka})
	a.startup.AddDependency(startup.Func{
		Name:     "router",
		Requires: []string{"tracing", "docstore", "cache", "graph", "kafka"},
		StartFn:  a.startRouter,
	})
	return a
}

// Start brings up every dependency and builds the router. The service is marked ready once it
// returns without error.
func (a *App) Start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	a.checker.SetReady(true)
	return nil
}

// Handler is the service's HTTP handler. It is nil until Start succeeds.
func (a *App) Handler() http.Handler {
	if a.echo == nil {
		return nil
	}
	return a.echo
}

// Run starts the service and serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	a.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Port)),
		Handler:           a.echo,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Infof("Starting %s on port %d", a.cfg.AppName, a.cfg.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops the HTTP server and then every started dependency.
func (a *App) Shutdown(ctx context.Context) error {
	a.checker.SetReady(false)
	var serverErr error
	if a.server != nil {
		serverErr = a.server.Shutdown(ctx)
	}
	return errors.Join(serverErr, a.startup.Stop(ctx))
}

func (a *App) startTracing(ctx context.Context) error {
	if !a.cfg.TracingEnabled {
		return nil
	}
	provider, err := newTracerProvider(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to create tracer provider: %w", err)
	}
	a.tracerProvider = provider
	return nil
}

func (a *App) stopTracing(ctx context.Context) error {
	if a.tracerProvider == nil {
		return nil
	}
	return a.tracerProvider.Shutdown(ctx)
}

func (a *App) startDocstore(ctx context.Context) error {
	store, closeStore, err := OpenDocstore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	a.closeStore = closeStore
	a.checker.AddCheck("docstore", store)
	return nil
}

func (a *App) stopDocstore(context.Context) error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}

func (a *App) startCache(ctx context.Context) error {
	switch a.cfg.CacheDriver {
	case "none":
	case "memory":
		a.queryCache = cache.NewMemoryCache[*models.AssociationResult](a.cfg.CacheTTL, a.cfg.CacheMaxEntries)
	case "redis":
		rdb, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Host:     a.cfg.RedisHost,
			Port:     a.cfg.RedisPort,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		}, a.logger)
		if err != nil {
			return err
		}
		a.redis = rdb
		a.queryCache = cache.NewRedisCache[*models.AssociationResult](rdb, a.cfg.RedisKeyPrefix, a.cfg.CacheTTL)
		a.checker.AddCheck("redis", health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	default:
		return fmt.Errorf("unsupported cache driver: %s (use 'memory', 'redis' or 'none')", a.cfg.CacheDriver)
	}
	return nil
}

func (a *App) stopCache(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *App) startGraph(ctx context.Context) error {
	if !a.cfg.GraphEnabled {
		return nil
	}
	client, err := graph.NewClient(graph.Config{
		Host:     a.cfg.GraphDBHost,
		Port:     a.cfg.GraphDBPort,
		Username: a.cfg.GraphDBUser,
		Password: a.cfg.GraphDBPassword,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return fmt.Errorf("graph database unreachable: %w", err)
	}
	a.graph = client
	a.checker.AddCheck("graph", health.PingFunc(client.VerifyConnectivity))
	return nil
}

func (a *App) stopGraph(ctx context.Context) error {
	if a.graph == nil {
		return nil
	}
	return a.graph.Close(ctx)
}

func (a *App) startKafka(context.Context) error {
	if !a.cfg.KafkaEnabled {
		return nil
	}
	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaOutputTopic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
		Compression:  a.cfg.KafkaCompression,
	}, a.logger)
	return nil
}

func (a *App) stopKafka(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *App) startRouter(ctx context.Context) error {
	keys := models.DefaultForeignKeys()
	if a.cfg.ExtraForeignKeys != "" {
		extra, err := models.ParseForeignKeys(a.cfg.ExtraForeignKeys)
		if err != nil {
			return fmt.Errorf("invalid EXTRA_FOREIGN_KEYS: %w", err)
		}
		for _, fk := range extra {
			if err := keys.Add(fk); err != nil {
				return fmt.Errorf("invalid EXTRA_FOREIGN_KEYS: %w", err)
			}
		}
	}

	records := assocrepo.NewRepository(a.store, a.logger)
	deriver := associations.NewDeriver(a.store, keys, a.logger)
	counters := associations.NewCounterMaintainer(a.store, a.logger)

	var querier associations.Querier = associations.NewQueryEngine(records, deriver, a.store, a.logger, associations.QueryConfig{
		ReverseImplicitScan: a.cfg.ReverseImplicitScan,
	})

	var opts []associations.ServiceOption
	if a.queryCache != nil {
		cached := cache.NewCachedQuerier(querier, a.queryCache, a.cfg.CacheDriver, a.logger)
		querier = cached
		opts = append(opts, associations.WithInvalidator(cached))
	}
	if a.producer != nil {
		opts = append(opts, associations.WithObservers(events.NewEmitter(a.producer, a.logger)))
	}
	if a.graph != nil {
		opts = append(opts, associations.WithObservers(graph.NewProjector(a.graph, a.logger)))
	}

	service := associations.NewService(records, a.store, keys, counters, a.logger, opts...)
	contexts := aicontext.NewService(querier, a.logger, aicontext.Config{
		Concurrency: a.cfg.ContextExpansionConcurrency,
	})

	deps, err := container.New(a.logger)
	if err != nil {
		return fmt.Errorf("failed to create dependency container: %w", err)
	}
	if err := errors.Join(
		ectoinject.RegisterInstance[*associations.Service](deps, service),
		ectoinject.RegisterInstance[associations.Querier](deps, querier),
		ectoinject.RegisterInstance[*aicontext.Service](deps, contexts),
		ectoinject.RegisterInstance[ectologger.Logger](deps, a.logger),
	); err != nil {
		return fmt.Errorf("failed to register dependencies: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	if a.cfg.TracingEnabled {
		e.Use(otelecho.Middleware(a.cfg.AppName))
	}
	e.Use(middleware.Container(deps.GetContainerID()))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	a.checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if a.cfg.AuthEnabled {
		verifier, err := middleware.NewOIDCVerifier(ctx, a.cfg.AuthIssuerURL, a.cfg.AuthClientID)
		if err != nil {
			return fmt.Errorf("failed to create token verifier: %w", err)
		}
		api.Use(middleware.Authentication(a.logger, verifier))
	}
	association.Register(api)

	a.echo = e
	return nil
}
