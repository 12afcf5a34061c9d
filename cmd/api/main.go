package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/haulhub/backend/internal/auth"
	"github.com/haulhub/backend/internal/booking"
	"github.com/haulhub/backend/internal/config"
	"github.com/haulhub/backend/internal/jobs"
	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/media"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/policy"
	"github.com/haulhub/backend/internal/router"
	"github.com/haulhub/backend/internal/strikes"
	"github.com/haulhub/backend/internal/sweeper"
	"github.com/haulhub/backend/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger engine
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, ledgerRepo, ledgerRepo, cfg)

	// Strikes
	strikesRepo := strikes.NewRepository(pool)
	strikesSvc := strikes.NewService(strikesRepo, cfg, logger)

	// Booking FSM
	bookingRepo := booking.NewRepository(pool)
	bookingSvc := booking.NewService(bookingRepo, ledgerSvc, strikesSvc, policy.HaversineGeofence{}, cfg, logger)

	// Jobs board
	jobsRepo := jobs.NewRepository(pool)
	jobsSvc := jobs.NewService(jobsRepo, bookingRepo, ledgerSvc, policy.PermissiveFilter{}, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)

	// Sweepers run as periodic River jobs.
	workers := river.NewWorkers()
	river.AddWorker(workers, sweeper.NewAutoReleaseSweeper(bookingSvc, logger))
	river.AddWorker(workers, sweeper.NewNoShowSweeper(bookingSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return sweeper.AutoReleaseSweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return sweeper.NoShowSweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// HTTP surface
	mediaStore := media.NewDiskStore(cfg.MediaDir)
	authHandler := auth.NewHandler(authSvc, logger)
	jobsHandler := jobs.NewHandler(jobsSvc, logger)
	bookingHandler := booking.NewHandler(bookingSvc, mediaStore, logger)
	walletHandler := wallet.NewHandler(ledgerSvc, ledgerRepo, cfg, logger)
	profileHandler := strikes.NewHandler(strikesRepo, logger)

	apiRouter := router.New(
		authHandler, jobsHandler, bookingHandler, walletHandler, profileHandler,
		middleware.JWTAuth(authSvc),
		middleware.SuspensionCheck(pool),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "https://app.haulhub.io"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (runs the sweepers)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
