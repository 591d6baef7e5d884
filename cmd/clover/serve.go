package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/matcher"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/protocol"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/retraining"
	"github.com/Ramsey-B/clover/pkg/routes/dataset"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	matcherroute "github.com/Ramsey-B/clover/pkg/routes/matcher"
	"github.com/Ramsey-B/clover/pkg/routes/project"
	protocolroute "github.com/Ramsey-B/clover/pkg/routes/protocol"
	"github.com/Ramsey-B/clover/pkg/selection"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/statemachine"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/store/memory"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the linkage unit API",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, sync, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// infra holds the connections opened during startup.
type infra struct {
	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer
	tracer   *tracing.Provider
}

func dependencies(cfg *config.Config, logger ectologger.Logger, in *infra) *startup.Startup {
	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	if cfg.StoreDriver == config.StoreDriverPostgres {
		s.AddDependency(startup.Dependency{
			Name: "postgres",
			OnStart: func(ctx context.Context) error {
				db, err := database.Open(ctx, cfg.Database(), logger)
				if err != nil {
					return err
				}
				in.db = db
				return nil
			},
			OnStop: func(context.Context) error { return in.db.Close() },
		})
		s.AddDependency(startup.Dependency{
			Name:  "migrations",
			Needs: []string{"postgres"},
			OnStart: func(context.Context) error {
				return database.NewMigrationService(logger, cfg.Migration()).Migrate(in.db)
			},
		})
	}

	if cfg.RedisEnabled {
		s.AddDependency(startup.Dependency{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, cfg.Redis(), logger)
				if err != nil {
					return err
				}
				in.redis = client
				return nil
			},
			OnStop: func(context.Context) error { return in.redis.Close() },
		})
	}

	if cfg.KafkaEnabled {
		s.AddDependency(startup.Dependency{
			Name: "kafka",
			OnStart: func(context.Context) error {
				in.producer = kafka.NewProducer(cfg.Kafka(), logger)
				return nil
			},
			OnStop: func(context.Context) error { return in.producer.Close() },
		})
	}

	if cfg.TracingEnabled {
		s.AddDependency(startup.Dependency{
			Name: "tracing",
			OnStart: func(ctx context.Context) error {
				provider, err := tracing.NewProvider(ctx, cfg.AppName, cfg.Tracing())
				if err != nil {
					return err
				}
				in.tracer = provider
				return nil
			},
			OnStop: func(ctx context.Context) error { return in.tracer.Shutdown(ctx) },
		})
	}

	return s
}

func serve(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	in := &infra{}
	deps := dependencies(cfg, logger, in)
	if err := deps.Start(ctx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := deps.Stop(stopCtx); err != nil {
			logger.WithError(err).Error("Failed to stop dependencies")
		}
	}()

	var stores store.Stores
	if in.db != nil {
		stores = repositories.NewStores(in.db, logger)
	} else {
		logger.Warn("Using the in-memory store, data is lost on restart")
		stores = memory.New().Stores()
	}

	var sink events.EventSink = events.Noop{}
	if in.producer != nil {
		sink = events.NewEmitter(in.producer, logger)
	}

	var locker statemachine.Locker
	if in.redis != nil {
		locker = redis.NewProjectLocker(in.redis, cfg.ProjectLock())
	}

	registry := matcher.NewRegistry(stores.Matchings, logger)
	if cfg.MatcherDefinitionsPath != "" {
		n, err := registry.LoadDefinitions(ctx, cfg.MatcherDefinitionsPath)
		if err != nil {
			return err
		}
		logger.Infof("Loaded %d matcher definitions", n)
	}

	manager := lifecycle.NewManager(stores.Pairs, logger, cfg.Lifecycle())
	selector := selection.NewSelector(stores.Pairs, manager, logger, cfg.Selection())
	wishes := protocol.NewWishService(stores.Wishes, logger, cfg.Protocol())
	sm := statemachine.NewService(logger, stores, manager, selector, registry, wishes, locker, sink)

	var parent protocol.Parent
	if cfg.ParentEndpoint != "" {
		parent = protocol.NewHTTPParent(httpclient.NewClient(cfg.ParentClient(), logger), cfg.ParentEndpoint)
	}
	linkage := protocol.NewService(logger, sm, stores, manager, selector, wishes, parent, sink, cfg.Protocol())
	retrainer := retraining.NewService(logger, sm, stores, manager, registry, sink, retraining.DefaultConfig())

	checker := health.NewChecker(version)
	if in.db != nil {
		checker.AddCheck("database", in.db.PingContext)
	}
	if in.redis != nil {
		checker.AddCheck("redis", in.redis.Ping)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	if cfg.TracingEnabled {
		e.Use(otelecho.Middleware(cfg.AppName))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	checker.Register(api.Group("/health"))
	project.NewHandler(sm, stores.Pairs, linkage).Register(api.Group("/project"))
	protocolroute.NewHandler(linkage, retrainer).Register(api.Group("/protocol"))
	dataset.NewHandler(stores.Records, stores.GroundTruth).Register(api.Group("/dataset"))
	matcherroute.NewHandler(registry).Register(api.Group("/matcher"))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting %s on port %d", cfg.AppName, cfg.Port)
		if err := e.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	checker.SetReady(true)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
