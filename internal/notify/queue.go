package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
)

// Queue delivers notifications on a fixed pool of workers. Enqueue never
// blocks; a full queue rejects the notification.
type Queue struct {
	deliver     Deliverer
	ch          chan domain.BattleNotification
	workers     int
	sendTimeout time.Duration
	logger      *slog.Logger

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// NewQueue creates a notification queue
func NewQueue(cfg *config.NotifyConfig, deliver Deliverer, logger *slog.Logger) *Queue {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	return &Queue{
		deliver:     deliver,
		ch:          make(chan domain.BattleNotification, size),
		workers:     workers,
		sendTimeout: cfg.SendTimeout,
		logger:      logger,
	}
}

// Start launches the workers
func (q *Queue) Start() {
	q.logger.Info("notification queue started", "workers", q.workers, "capacity", cap(q.ch))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Enqueue schedules n for delivery
func (q *Queue) Enqueue(_ context.Context, n domain.BattleNotification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return domain.ErrQueueFull
	}

	select {
	case q.ch <- n:
		return nil
	default:
		q.logger.Warn("notification queue full, dropping", "battle_id", n.BattleID, "user_id", n.UserID)
		return domain.ErrQueueFull
	}
}

// Stop closes the queue and waits for queued notifications to drain
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.ch)
		q.mu.Unlock()
	})
	q.wg.Wait()
	q.logger.Info("notification queue stopped")
}

// Len returns the number of queued notifications
func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for n := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.sendTimeout)
		if err := q.deliver.Deliver(ctx, n); err != nil {
			q.logger.Error("notification delivery failed",
				"worker", id,
				"battle_id", n.BattleID,
				"user_id", n.UserID,
				"error", err,
			)
		}
		cancel()
	}
}
