package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "github.com/apiflow/backend/docs"
	apppipeline "github.com/apiflow/backend/internal/application/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/apiclient"
	"github.com/apiflow/backend/internal/infrastructure/cache"
	"github.com/apiflow/backend/internal/infrastructure/config"
	"github.com/apiflow/backend/internal/infrastructure/logger"
	"github.com/apiflow/backend/internal/infrastructure/migration"
	"github.com/apiflow/backend/internal/infrastructure/persistence"
	"github.com/apiflow/backend/internal/infrastructure/scheduler"
	"github.com/apiflow/backend/internal/infrastructure/storage"
	"github.com/apiflow/backend/internal/infrastructure/telemetry"
	"github.com/apiflow/backend/internal/interfaces/http/handler"
	"github.com/apiflow/backend/internal/interfaces/http/middleware"
	"github.com/apiflow/backend/internal/interfaces/http/router"
)

const (
	shutdownTimeout = 30 * time.Second
	maxRequestBody  = 10 << 20
)

//	@title			API Ingestion Service
//	@version		1.0
//	@description	Scheduled ingestion of third-party REST APIs into relational tables

//	@contact.name	API Support

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry providers are no-ops when disabled.
	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log exporter", zap.Error(err))
	}
	if cfg.Telemetry.Enabled {
		level, lerr := zapcore.ParseLevel(cfg.Log.Level)
		if lerr != nil {
			level = zapcore.InfoLevel
		}
		log = log.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, logsProvider.ZapCore(level))
		}))
	}

	log.Info("Starting API ingestion service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter", zap.Error(err))
	}
	meter := meterProvider.Meter(cfg.Telemetry.ServiceName)
	metrics, err := telemetry.NewPipelineMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create pipeline metrics", zap.Error(err))
	}

	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database connection", zap.Error(err))
		}
	}()
	log.Info("Database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.DBName),
	)

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		SlowQueryThresh: cfg.Database.SlowThreshold,
		DBSystem:        "postgresql",
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		sqlDB, err := db.DB.DB()
		if err != nil {
			log.Fatal("Failed to get sql.DB for migrations", zap.Error(err))
		}
		migrator, err := migration.New(sqlDB, "", log)
		if err != nil {
			log.Fatal("Failed to create migrator", zap.Error(err))
		}
		if err := migrator.Up(); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	clock := clockwork.NewRealClock()
	store := persistence.NewGormDefinitionStore(db.DB)

	tokenCache, err := cache.NewTokenCache(ctx, cfg.Auth, cfg.Redis, clock, log)
	if err != nil {
		log.Fatal("Failed to initialize token cache", zap.Error(err))
	}
	defer func() {
		if err := tokenCache.Close(); err != nil {
			log.Error("Failed to close token cache", zap.Error(err))
		}
	}()

	sender := apiclient.NewRestySender(cfg.HTTPClient, log)
	broker := newTokenBroker(cfg, sender, tokenCache, clock, store, metrics, log)
	builder := apiclient.NewRequestBuilder(broker, store, cfg.Auth.TokenFailurePolicy, cfg.HTTPClient.Timeout, log)

	extractor, err := newExtractor(cfg.Extraction, clock, log)
	if err != nil {
		log.Fatal("Failed to create extractor", zap.Error(err))
	}

	planner, err := scheduler.NewCronPlanner(cfg.Scheduler.DefaultTimezone, log)
	if err != nil {
		log.Fatal("Failed to create cron planner", zap.Error(err))
	}

	opts := []apppipeline.Option{
		apppipeline.WithClock(clock),
		apppipeline.WithMetrics(metrics),
		apppipeline.WithLogger(log),
	}
	if cfg.Destination.AutoCreateTables {
		opts = append(opts, apppipeline.WithSchemaEnsurer(persistence.NewSchemaBuilder(db.DB, cfg.Destination, log)))
	}
	if cfg.Storage.ArchiveResponses {
		archiver, err := storage.NewS3ResponseArchiver(ctx, &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize response archive", zap.Error(err))
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Warn("Response archive bucket is not ready", zap.String("bucket", archiver.Bucket()), zap.Error(err))
		}
		opts = append(opts, apppipeline.WithArchiver(archiver))
	}

	executor := apppipeline.NewExecutionService(
		store,
		builder,
		sender,
		extractor,
		persistence.NewTableWriter(db.DB, cfg.Destination, clock, log),
		planner,
		opts...,
	)

	runner := scheduler.NewDueScheduleRunner(cfg.Scheduler, store, executor, clock, log)
	if cfg.Scheduler.Enabled {
		if err := runner.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
	}

	ginMode := gin.DebugMode
	if cfg.App.Env == "production" {
		ginMode = gin.ReleaseMode
	}
	engine := router.NewEngine(router.EngineConfig{
		Mode:         ginMode,
		ServiceName:  cfg.Telemetry.ServiceName,
		Tracing:      cfg.Telemetry.Enabled,
		Meter:        meter,
		MaxBodyBytes: maxRequestBody,
	}, log)

	checks := map[string]handler.Pinger{"database": db}
	if pinger, ok := tokenCache.(handler.Pinger); ok {
		checks["token_cache"] = pinger
	}
	health := handler.NewHealthHandler(checks, runner)
	engine.GET("/health", health.Health)
	router.MountSwagger(engine, middleware.SwaggerConfig{
		Enabled:    cfg.Swagger.Enabled,
		AllowedIPs: cfg.Swagger.AllowedIPs,
	})

	router.NewRouter(engine).
		Register(health).
		Register(handler.NewPipelineHandler(executor, runner, planner, extractor)).
		Setup()

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		// Manual executions hold the connection for the whole pipeline run.
		WriteTimeout: 2*cfg.HTTPClient.Timeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if runner.IsRunning() {
		if err := runner.Stop(shutdownCtx); err != nil {
			log.Error("Scheduler did not stop cleanly", zap.Error(err))
		}
	}
	for name, shutdown := range map[string]func(context.Context) error{
		"tracer": tracerProvider.Shutdown,
		"meter":  meterProvider.Shutdown,
		"logs":   logsProvider.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.String("provider", name), zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}
