package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devbattle/internal/ai"
	"github.com/devbattle/internal/battle"
	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/email"
	"github.com/devbattle/internal/github"
	"github.com/devbattle/internal/handler"
	"github.com/devbattle/internal/kafka"
	"github.com/devbattle/internal/notify"
	"github.com/devbattle/internal/postgres"
	"github.com/devbattle/internal/profile"
	"github.com/devbattle/internal/redis"
	"github.com/devbattle/internal/websocket"
	"github.com/devbattle/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using environment", "error", err)
		cfg = config.FromEnv()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL is the source of truth
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	board, err := redis.NewBoard(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer board.Close()

	wsHub := websocket.NewHub(repo, logger)
	go wsHub.Run()

	githubClient := github.NewClient(&cfg.GitHub, logger)
	aiClient := ai.NewClient(&cfg.AI, logger)
	if !aiClient.IsAvailable() {
		logger.Warn("AI endpoint not configured, battles will fail at profile generation")
	}

	dispatcher := notify.NewDispatcher(repo, email.NewResendSender(&cfg.Email, logger), logger)

	// Result notifications go through Kafka when enabled, otherwise through
	// the in-process queue
	var (
		notifier      battle.Notifier
		queue         *notify.Queue
		producer      *kafka.Producer
		kafkaConsumer *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, using in-process queue", "error", err)
		} else {
			notifier = producer
		}
	}
	if producer != nil && cfg.Kafka.ConsumeInServer {
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, dispatcher, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer", "error", err)
			kafkaConsumer = nil
		}
	}
	if producer == nil {
		queue = notify.NewQueue(&cfg.Notify, dispatcher, logger)
		queue.Start()
		notifier = queue
	}

	profiles := profile.NewManager(&cfg.Profile, repo, board, githubClient, aiClient, repo, logger)

	orchestrator := battle.NewOrchestrator(&cfg.Battle, battle.Dependencies{
		Store:     repo,
		Profiles:  profiles,
		Evaluator: aiClient,
		Usage:     repo,
		Notifier:  notifier,
		Board:     board,
		Publisher: wsHub,
	}, logger)

	boardSync := worker.NewBoardSync(repo, board, &cfg.Sync, logger)
	if cfg.Sync.Enabled {
		if err := boardSync.Start(ctx); err != nil {
			logger.Error("failed to start board sync", "error", err)
			os.Exit(1)
		}
	} else if err := boardSync.SyncFromDatabase(ctx); err != nil {
		logger.Warn("failed to sync ranking board on startup", "error", err)
	}

	var reaper *worker.StaleBattleReaper
	if cfg.Reaper.Enabled {
		reaper = worker.NewStaleBattleReaper(repo, &cfg.Reaper, cfg.Battle.Timeout, logger)
		reaper.Start(ctx)
	}

	checks := map[string]handler.ReadinessCheck{
		"postgres": repo.Ping,
		"redis":    board.Ping,
	}
	httpHandler := handler.NewHandler(handler.Dependencies{
		Battles:  repo,
		Runner:   orchestrator,
		Rankings: repo,
		Board:    board,
		Profiles: profiles,
		Hub:      wsHub,
		Checks:   checks,
	}, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	// Running battles settle before their notifier and hub go away
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error("battles still running at shutdown", "error", err)
	}

	wsHub.Stop()

	if reaper != nil {
		reaper.Stop()
	}
	if err := boardSync.Stop(); err != nil {
		logger.Error("failed to stop board sync", "error", err)
	}

	// Pending notifications drain before their transport goes away
	if queue != nil {
		queue.Stop()
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	logger.Info("server stopped")
}
