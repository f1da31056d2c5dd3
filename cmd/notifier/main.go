// Command notifier consumes battle result notifications from Kafka and
// emails both participants. Run it when the server's consume_in_server is off.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/email"
	"github.com/devbattle/internal/kafka"
	"github.com/devbattle/internal/notify"
	"github.com/devbattle/internal/postgres"
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

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	dispatcher := notify.NewDispatcher(repo, email.NewResendSender(&cfg.Email, logger), logger)

	consumer, err := kafka.NewConsumer(&cfg.Kafka, dispatcher, logger)
	if err != nil {
		logger.Error("failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	if err := consumer.Start(); err != nil {
		logger.Error("failed to start Kafka consumer", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down notifier...")
	if err := consumer.Stop(); err != nil {
		logger.Error("failed to stop Kafka consumer", "error", err)
	}
	logger.Info("notifier stopped")
}
