package battle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/devbattle/internal/domain"
)

// ProgressPublisher fans progress events out to push subscribers
type ProgressPublisher interface {
	PublishProgress(event domain.ProgressEvent)
}

// stream is the producer side of one battle's progress channel. Intermediate
// events are dropped when the buffer is full; the terminal event is always
// delivered, evicting the oldest buffered event if needed, and closes the channel.
type stream struct {
	battleID  string
	ch        chan domain.ProgressEvent
	publisher ProgressPublisher
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	progress int
	closed   bool
	dropped  int
}

func newStream(battleID string, buffer int, publisher ProgressPublisher, logger *slog.Logger, now func() time.Time) *stream {
	if buffer < 1 {
		buffer = 1
	}
	return &stream{
		battleID:  battleID,
		ch:        make(chan domain.ProgressEvent, buffer),
		publisher: publisher,
		logger:    logger,
		now:       now,
	}
}

func (s *stream) events() <-chan domain.ProgressEvent {
	return s.ch
}

// emit sends an intermediate event. Progress never moves backwards.
func (s *stream) emit(status domain.ProgressStatus, progress int, message string, metadata map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if progress < s.progress {
		progress = s.progress
	}
	s.progress = progress

	event := domain.ProgressEvent{
		BattleID:  s.battleID,
		Status:    status,
		Progress:  progress,
		Message:   message,
		Metadata:  metadata,
		Timestamp: s.now(),
	}
	s.publish(event)

	select {
	case s.ch <- event:
	default:
		s.dropped++
	}
}

func (s *stream) complete(outcome *domain.BattleOutcome) {
	s.finish(domain.ProgressEvent{
		Status:  domain.ProgressComplete,
		Message: "Battle complete",
		Result:  outcome,
	})
}

func (s *stream) fail(message, code string) {
	s.finish(domain.ProgressEvent{
		Status:  domain.ProgressError,
		Message: message,
		Error:   message,
		Code:    code,
	})
}

func (s *stream) finish(event domain.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	event.BattleID = s.battleID
	event.Progress = domain.ProgressPctDone
	event.Timestamp = s.now()
	s.publish(event)

	for {
		select {
		case s.ch <- event:
			close(s.ch)
			if s.dropped > 0 {
				s.logger.Debug("progress events dropped", "battle_id", s.battleID, "dropped", s.dropped)
			}
			return
		default:
		}
		// Buffer full; make room by discarding the oldest event
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

func (s *stream) publish(event domain.ProgressEvent) {
	if s.publisher != nil {
		s.publisher.PublishProgress(event)
	}
}
