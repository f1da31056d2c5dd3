package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
)

// RatingSource lists every persisted ranking
type RatingSource interface {
	ListRankings(ctx context.Context) ([]domain.RankingEntry, error)
}

// RatingSink receives rankings in batches
type RatingSink interface {
	BatchSetRatings(ctx context.Context, entries []domain.RankingEntry, batchSize int) error
}

// BoardSync rebuilds the ranking board from PostgreSQL, which stays the
// source of truth. It runs once at startup and then on an interval.
type BoardSync struct {
	source  RatingSource
	sink    RatingSink
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewBoardSync creates a new board sync worker
func NewBoardSync(source RatingSource, sink RatingSink, cfg *config.SyncConfig, logger *slog.Logger) *BoardSync {
	return &BoardSync{
		source: source,
		sink:   sink,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start performs an initial sync and begins the background loop
func (w *BoardSync) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.SyncFromDatabase(ctx); err != nil {
		w.logger.Warn("initial board sync failed", "error", err)
	}

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background loop and waits for it to exit
func (w *BoardSync) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *BoardSync) run(ctx context.Context) {
	defer close(w.doneCh)

	interval := w.config.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.SyncFromDatabase(ctx); err != nil {
				w.logger.Error("board sync failed", "error", err)
			}
		}
	}
}

// SyncFromDatabase copies every persisted rating onto the board
func (w *BoardSync) SyncFromDatabase(ctx context.Context) error {
	start := time.Now()

	entries, err := w.source.ListRankings(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		w.logger.Debug("no ratings to sync")
		return nil
	}

	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	if err := w.sink.BatchSetRatings(ctx, entries, batchSize); err != nil {
		return err
	}

	w.logger.Info("synced ranking board",
		"users", len(entries),
		"duration", time.Since(start),
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *BoardSync) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
