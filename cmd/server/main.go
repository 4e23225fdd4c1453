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

	"github.com/gin-gonic/gin"
	"github.com/storefront/backend/internal/application/reconcile"
	"github.com/storefront/backend/internal/domain/notification"
	"github.com/storefront/backend/internal/infrastructure/cache"
	"github.com/storefront/backend/internal/infrastructure/config"
	"github.com/storefront/backend/internal/infrastructure/document"
	"github.com/storefront/backend/internal/infrastructure/feed"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/persistence"
	"github.com/storefront/backend/internal/infrastructure/scheduler"
	"github.com/storefront/backend/internal/infrastructure/telemetry"
	"github.com/storefront/backend/internal/interfaces/http/handler"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
	"github.com/storefront/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	if err := run(cfg, log); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.NewProviders(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	log = providers.WrapLogger(log)

	log.Info("Starting storefront backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("stock_backend", cfg.Reconcile.StockBackend),
	)

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log); err != nil {
		return fmt.Errorf("database tracing: %w", err)
	}
	log.Info("Database connected successfully")

	stockStore, closeStock, err := newStockStore(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer closeStock()

	engine := reconcile.NewEngine(
		feed.NewSheetClient(cfg.Feed, logger.Component(log, "feed")),
		persistence.NewGormSubmissionStore(db.DB),
		stockStore,
		reconcile.Config{
			SourceTimeout:    cfg.Reconcile.SourceTimeout,
			FailureThreshold: cfg.Reconcile.FailureThreshold,
			AckKey:           cfg.Reconcile.AckKey,
		},
		logger.Component(log, "reconcile"),
	)
	engine.SetTracer(providers.Tracer("storefront.reconcile"))

	metrics, err := telemetry.NewReconcileMetrics(providers.Meter("storefront.reconcile"))
	if err != nil {
		return fmt.Errorf("reconcile metrics: %w", err)
	}
	engine.SetMetrics(metrics)

	if cfg.Fallback.Enabled {
		snapshots, err := cache.NewPebbleSnapshotStore(cfg.Fallback.Dir)
		if err != nil {
			return err
		}
		defer func() {
			if err := snapshots.Close(); err != nil {
				log.Warn("Error closing fallback cache", zap.Error(err))
			}
		}()
		engine.SetFallback(snapshots)
		cached, err := snapshots.Sources()
		if err != nil {
			log.Warn("Failed to list fallback snapshots", zap.Error(err))
		}
		log.Info("Local fallback cache enabled",
			zap.String("dir", cfg.Fallback.Dir),
			zap.Strings("cached_sources", cached),
		)
	}

	stores, err := newSharedStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.close()
	engine.SetAckStore(stores.acks)

	trigger, err := scheduler.NewRefreshTrigger(cfg.Reconcile.Interval, engine, logger.Component(log, "scheduler"))
	if err != nil {
		return err
	}
	engine.SetTicker(trigger)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start reconciliation: %w", err)
	}
	defer engine.Stop()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        newHTTPEngine(cfg, log, providers, engine, stores.dedup),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited gracefully")
	return nil
}

// newStockStore selects the relational or document stock backend
func newStockStore(ctx context.Context, cfg *config.Config, db *persistence.Database, log *zap.Logger) (reconcile.StockStore, func(), error) {
	if cfg.Reconcile.StockBackend != config.StockBackendDocument {
		return persistence.NewGormStockStore(db.DB, logger.Component(log, "stock")), func() {}, nil
	}

	client, err := document.Connect(ctx, cfg.Mongo)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Document store connected", zap.String("database", cfg.Mongo.Database))

	coll := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
	closeFn := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			log.Warn("Error disconnecting document store", zap.Error(err))
		}
	}
	return document.NewMongoStockStore(coll, logger.Component(log, "stock")), closeFn, nil
}

// sharedStores hold state that must agree across instances behind a load balancer
type sharedStores struct {
	acks  notification.AckStore
	dedup handler.DuplicateGuard
	close func()
}

// newSharedStores uses Redis when enabled, else keeps the state in process
func newSharedStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sharedStores, error) {
	if !cfg.Redis.Enabled {
		dedup := cache.NewMemoryDedupStore()
		return &sharedStores{
			acks:  notification.NewMemoryAckStore(),
			dedup: dedup,
			close: func() { _ = dedup.Close() },
		}, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	return &sharedStores{
		acks:  cache.NewRedisAckStore(client, ""),
		dedup: cache.NewRedisDedupStore(client, ""),
		close: func() {
			if err := client.Close(); err != nil {
				log.Warn("Error closing redis", zap.Error(err))
			}
		},
	}, nil
}

func newHTTPEngine(cfg *config.Config, log *zap.Logger, providers *telemetry.Providers, engine *reconcile.Engine, dedup handler.DuplicateGuard) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		middleware.SpanErrorMarker(),
		logger.GinMiddleware(log),
		middleware.HTTPMetrics(providers.Meter("http.server")),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	intake := handler.NewIntakeHandler(engine)
	intake.SetDuplicateGuard(dedup, cfg.HTTP.IntakeDedupTTL)
	intakeLimiter := middleware.NewRateLimiter(cfg.HTTP.IntakeRateLimit, cfg.HTTP.IntakeBurst, 10*time.Minute)

	router.NewRouter(r).
		Register(handler.NewAdminHandler(engine).Routes()).
		Register(intake.Routes(middleware.RateLimit(intakeLimiter))).
		Register(handler.NewHealthHandler(engine).Routes()).
		Setup()

	return r
}
