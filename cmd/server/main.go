package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/readgate/readgate/internal/api"
	"github.com/readgate/readgate/internal/config"
	"github.com/readgate/readgate/internal/db"
	"github.com/readgate/readgate/internal/gate"
	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/oracle"
	"github.com/readgate/readgate/internal/reader"
	"github.com/readgate/readgate/internal/repository/sqlite"
	"github.com/readgate/readgate/internal/services"
	"github.com/readgate/readgate/internal/session"
	"github.com/readgate/readgate/internal/telemetry"
	"github.com/readgate/readgate/internal/worker"
)

func main() {
	cfg := config.Load()

	log := logger.New(
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithColors(true),
	)
	logger.SetDefault(log)

	log.Info("===========================================")
	log.Info("Readgate Server Starting")
	log.Info("===========================================")
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration: %v", err)
		os.Exit(1)
	}
	log.Info("configuration loaded")
	log.Debug("addr=%s", cfg.Addr)
	log.Debug("db_path=%s", cfg.DBPath)
	log.Debug("log_level=%s", cfg.LogLevel)
	log.Debug("oracle_base_url=%s", cfg.OracleBaseURL)
	log.Debug("quiz_error_budget=%d", cfg.QuizErrorBudget)
	log.Debug("audit_worker_count=%d", cfg.AuditWorkerCount)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database: %v", err)
		os.Exit(1)
	}
	defer func() {
		log.Debug("closing database connection")
		database.Close()
	}()

	// Oracle client and the session guard that keeps its credential fresh.
	oracleClient := oracle.New(cfg.OracleBaseURL,
		oracle.WithTimeout(cfg.OracleTimeout),
		oracle.WithGenerateRate(cfg.GenerateRatePerSec, cfg.GenerateBurst),
	)
	guard := session.NewGuard(oracleClient.RefreshCredential, session.Config{
		FailSafe: cfg.RefreshFailSafe,
		Cooldown: cfg.RefreshCooldown,
	})

	auditPool := worker.NewPool(cfg.AuditWorkerCount, cfg.AuditQueueSize)

	// Telemetry: gate events buffer on a channel and flush off-path.
	eventSink := telemetry.NewChanSink(cfg.TelemetryQueueSize)

	profileRepo := sqlite.NewProfileRepository(database.DB)
	postRepo := sqlite.NewPostRepository(database.DB)
	attemptRepo := sqlite.NewAttemptRepository(database.DB)

	feedService := services.NewFeedService(profileRepo, postRepo)

	orchestrator := gate.New(
		oracleClient,
		guard,
		services.NewAttemptRecorder(auditPool, attemptRepo),
		eventSink,
		gate.Config{
			DefaultQuestionCount:    cfg.DefaultQuestionCount,
			ReshareWordsPerQuestion: cfg.ReshareWordsPerQuestion,
			MinQuestions:            cfg.MinQuestions,
			MaxQuestions:            cfg.MaxQuestions,
			ErrorBudget:             cfg.QuizErrorBudget,
			Reader: reader.Config{
				MinDwellBaseMs:            cfg.MinDwellBaseMs,
				DwellPer100wMs:            cfg.DwellPer100wMs,
				MaxDwellMs:                cfg.MaxDwellMs,
				CoverageThreshold:         cfg.CoverageThreshold,
				UnlockThreshold:           cfg.UnlockThreshold,
				GraceRatio:                cfg.GraceRatio,
				MaxScrollVelocityPxPerSec: cfg.MaxScrollVelocityPxPerSec,
				VisibleAheadBlocks:        cfg.VisibleAheadBlocks,
			},
		},
	)

	gateService := services.NewGateService(orchestrator, feedService, attemptRepo)

	srv := &api.Server{
		FeedService: feedService,
		GateService: gateService,
		Guard:       guard,
	}

	ctx, cancel := context.WithCancel(context.Background())
	auditPool.Start(ctx)

	// Periodically drain buffered telemetry through the pool.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		deliver := telemetry.NewLogSink()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				auditPool.TrySubmit(&worker.TelemetryFlushJob{Source: eventSink, Deliver: deliver})
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error: %v", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop

	log.Info("received signal %v, initiating graceful shutdown", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Debug("shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error: %v", err)
	}

	log.Debug("closing gate sessions")
	gateService.Shutdown()

	log.Debug("stopping worker pool")
	cancel()
	auditPool.Stop()

	log.Info("===========================================")
	log.Info("Readgate Server Stopped")
	log.Info("===========================================")
}
