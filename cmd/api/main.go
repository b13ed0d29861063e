package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/cors"

	"github.com/inaiurai/imagegen/internal/auth"
	"github.com/inaiurai/imagegen/internal/config"
	"github.com/inaiurai/imagegen/internal/dashboard"
	"github.com/inaiurai/imagegen/internal/database"
	"github.com/inaiurai/imagegen/internal/execution"
	"github.com/inaiurai/imagegen/internal/generation"
	"github.com/inaiurai/imagegen/internal/handlers"
	"github.com/inaiurai/imagegen/internal/imagemodel"
	"github.com/inaiurai/imagegen/internal/ledger"
	"github.com/inaiurai/imagegen/internal/middleware"
	"github.com/inaiurai/imagegen/internal/report"
	"github.com/inaiurai/imagegen/internal/repository"
	"github.com/inaiurai/imagegen/internal/router"
	"github.com/inaiurai/imagegen/internal/services"
	"github.com/inaiurai/imagegen/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DATABASE_URL is correct", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	userRepo := repository.NewUserRepo(pool)
	creditRepo := repository.NewCreditRepo(pool)
	generationRepo := repository.NewGenerationRepo(pool)
	reportRepo := repository.NewReportRepo(pool)

	cat := &cfg.App.Catalog
	ledgerSvc := ledger.NewService(pool, userRepo, creditRepo)

	// Insert func is set after the River client is created (breaks init cycle).
	var insertMu sync.Mutex
	var insertFn execution.InsertFunc
	insert := func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return nil, errors.New("river insert not wired")
		}
		return fn(ctx, args, opts)
	}

	generationSvc := generation.NewService(pool, ledgerSvc, generationRepo, cat, execution.NewDispatcher(insert))
	simulator := imagemodel.NewSimulator(cat, cfg.App.ImageModel.FailureRate, cfg.App.ImageModel.Latency)
	processor := generation.NewProcessor(pool, ledgerSvc, generationRepo, simulator)

	var archive report.Archiver
	if cfg.S3Bucket != "" {
		a, err := storage.NewReportArchive(storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
			Prefix:       cfg.S3Prefix,
		})
		if err != nil {
			slog.Error("Report archive init failed", "error", err)
			os.Exit(1)
		}
		archive = a
	} else {
		slog.Info("S3_BUCKET not set, weekly reports are not archived")
	}
	reportGen := report.NewGenerator(generationRepo, creditRepo, userRepo, reportRepo, cfg.App.Anomaly, archive)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGenerateImageWorker(processor))
	river.AddWorker(workers, execution.NewWeeklyReportWorker(reportGen))
	river.AddWorker(workers, execution.NewReconcileWorker(generationSvc, cfg.StaleAfter))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: execution.PeriodicJobs(cfg.ReconcileInterval),
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
		return riverClient.Insert(ctx, args, opts)
	}
	insertMu.Unlock()

	authSvc := auth.NewService(userRepo, []byte(cfg.JWTSecret), cfg.SignupCredits)

	validator, err := services.NewValidator(ctx, cfg.SchemaDir)
	if err != nil {
		slog.Error("Schema validator init failed", "schema_dir", cfg.SchemaDir, "error", err)
		os.Exit(1)
	}

	api := router.New(router.Handlers{
		Auth:        auth.NewHandler(authSvc, logger),
		Generations: &handlers.GenerationHandler{Service: generationSvc, Logger: logger},
		Dashboard:   dashboard.NewHandler(userRepo, ledgerSvc, logger),
		Catalog:     handlers.CatalogHandler(cat),
		Reports:     handlers.LatestReportHandler(reportRepo, logger),
	}, authSvc, validator)

	var handler http.Handler = api
	handler = middleware.RequestLog(logger)(handler)
	handler = chimw.Recoverer(handler)
	handler = chimw.RealIP(handler)
	handler = chimw.RequestID(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}).Handler(handler)

	// Start River client (processes jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River stop failed", "error", err)
	}
}
