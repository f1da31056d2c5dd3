package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/devbattle/internal/config"
)

// StaleBattleStore fails battles stuck in progress
type StaleBattleStore interface {
	FailStaleBattles(ctx context.Context, startedBefore, at time.Time) ([]string, error)
}

// StaleBattleReaper marks battles failed when they stayed in progress past the run
// timeout plus a grace period, e.g. after a restart killed their pipeline.
type StaleBattleReaper struct {
	store    StaleBattleStore
	interval time.Duration
	cutoff   time.Duration
	logger   *slog.Logger
	now      func() time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewStaleBattleReaper creates a reaper; battleTimeout is the orchestrator's run timeout
func NewStaleBattleReaper(store StaleBattleStore, cfg *config.ReaperConfig, battleTimeout time.Duration, logger *slog.Logger) *StaleBattleReaper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &StaleBattleReaper{
		store:    store,
		interval: interval,
		cutoff:   battleTimeout + cfg.Grace,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup loop in a background goroutine
func (r *StaleBattleReaper) Start(ctx context.Context) {
	go r.loop(ctx)
	r.logger.Info("stale battle reaper started", "interval", r.interval, "cutoff", r.cutoff)
}

// Stop signals the loop to exit and waits for it
func (r *StaleBattleReaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
	r.logger.Info("stale battle reaper stopped")
}

func (r *StaleBattleReaper) loop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("stale battle pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single pass and returns the ids it failed
func (r *StaleBattleReaper) RunOnce(ctx context.Context) ([]string, error) {
	now := r.now()
	ids, err := r.store.FailStaleBattles(ctx, now.Add(-r.cutoff), now)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r.logger.Warn("failed stale battle", "battle_id", id)
	}
	return ids, nil
}
