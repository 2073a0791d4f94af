package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/config"
	"github.com/examify/examify-backend/internal/database"
	"github.com/examify/examify-backend/internal/handler"
	"github.com/examify/examify-backend/internal/livefeed"
	"github.com/examify/examify-backend/internal/logger"
	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/proctor"
	"github.com/examify/examify-backend/internal/repository"
	"github.com/examify/examify-backend/internal/router"
	"github.com/examify/examify-backend/internal/scoring"
	"github.com/examify/examify-backend/internal/service"
	"github.com/examify/examify-backend/internal/session"
	"github.com/examify/examify-backend/internal/validator"
	"github.com/examify/examify-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Examify Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	sheetRepo := repository.NewAnswerSheetRepository(pool)

	// ─── Live Feed ─────────────────────────────────────────────────────
	feedCtx, feedCancel := context.WithCancel(context.Background())
	publisher := livefeed.NewPublisher(rdb, log)
	feeds := livefeed.NewFeedManager(feedCtx, rdb, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	examService := service.NewExamService(examRepo, log)
	sheetService := service.NewSheetService(sheetRepo, examService, authService, publisher.Publish, log)

	// ─── Scoring ───────────────────────────────────────────────────────
	gemini := scoring.NewGeminiClient(cfg, log)
	coordinator := scoring.NewCoordinator(gemini, sheetRepo, publisher.Publish, cfg.AITimeout, log)

	// ─── Session Runtimes ──────────────────────────────────────────────
	reporter := proctor.NewQueueReporter(rdb)
	runtimeCtx, runtimeCancel := context.WithCancel(context.Background())
	registry := session.NewRegistry(runtimeCtx, func(sheet model.AnswerSheet) *session.Runtime {
		store := session.NewStore(sheet)
		monitor := proctor.NewMonitor(
			sheet.ID, sheet.StudentID, sheet.ExamID,
			store, sheet.CheatFlagActive, reporter, log,
		)
		examID := sheet.ExamID.String()
		submit := func(ctx context.Context) (*float64, error) {
			return coordinator.Submit(ctx, examID, store)
		}
		return session.NewRuntime(store, monitor, examID, submit, publisher.Publish, feeds, log)
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:  handler.NewAuthHandler(authService, userRepo),
		Exam:  handler.NewExamHandler(examService),
		Sheet: handler.NewSheetHandler(sheetService, registry),
		AI:    handler.NewAIHandler(gemini, log),
		WS:    handler.NewWSHandler(rdb, sheetService, authService, registry, log, cfg.AllowedOrigins),
		Watch: handler.NewWatchHandler(sheetService, examService, feeds, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	flagWorker := worker.NewFlagWorker(pool, rdb, log)
	answerWorker := worker.NewAnswerWorker(pool, rdb, log)

	go flagWorker.Start(workerCtx)
	go answerWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop live runtimes; countdowns and feed watchers exit.
	registry.Shutdown()
	runtimeCancel()
	feeds.Close()
	feedCancel()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
