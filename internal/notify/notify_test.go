package notify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type mockContacts struct {
	mock.Mock
}

func (m *mockContacts) GetUserEmail(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendBattleResult(ctx context.Context, to string, n domain.BattleNotification) error {
	args := m.Called(ctx, to, n)
	return args.Error(0)
}

func TestDispatcher_Deliver(t *testing.T) {
	contacts := &mockContacts{}
	sender := &mockSender{}
	n := domain.BattleNotification{BattleID: "b1", UserID: "u1", Won: true}

	contacts.On("GetUserEmail", mock.Anything, "u1").Return("dev@example.com", nil)
	sender.On("SendBattleResult", mock.Anything, "dev@example.com", n).Return(nil)

	d := NewDispatcher(contacts, sender, testLogger())
	require.NoError(t, d.Deliver(context.Background(), n))
	contacts.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestDispatcher_SkipsUsersWithoutContact(t *testing.T) {
	contacts := &mockContacts{}
	sender := &mockSender{}
	contacts.On("GetUserEmail", mock.Anything, "u2").Return("", domain.ErrContactNotFound)

	d := NewDispatcher(contacts, sender, testLogger())
	require.NoError(t, d.Deliver(context.Background(), domain.BattleNotification{UserID: "u2"}))
	sender.AssertNotCalled(t, "SendBattleResult", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_SendError(t *testing.T) {
	contacts := &mockContacts{}
	sender := &mockSender{}
	contacts.On("GetUserEmail", mock.Anything, "u1").Return("dev@example.com", nil)
	sender.On("SendBattleResult", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("status 500"))

	d := NewDispatcher(contacts, sender, testLogger())
	assert.ErrorContains(t, d.Deliver(context.Background(), domain.BattleNotification{UserID: "u1"}), "status 500")
}

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []domain.BattleNotification
	block     chan struct{}
	err       error
}

func (r *recordingDeliverer) Deliver(_ context.Context, n domain.BattleNotification) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, n)
	return r.err
}

func (r *recordingDeliverer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

func TestQueue_DeliversAndDrainsOnStop(t *testing.T) {
	deliverer := &recordingDeliverer{err: errors.New("ignored")}
	q := NewQueue(&config.NotifyConfig{QueueSize: 16, Workers: 3, SendTimeout: time.Second}, deliverer, testLogger())
	q.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), domain.BattleNotification{BattleID: "b1"}))
	}
	q.Stop()

	assert.Equal(t, 10, deliverer.count())
	assert.ErrorIs(t, q.Enqueue(context.Background(), domain.BattleNotification{}), domain.ErrQueueFull)
}

func TestQueue_FullQueueRejects(t *testing.T) {
	deliverer := &recordingDeliverer{block: make(chan struct{})}
	q := NewQueue(&config.NotifyConfig{QueueSize: 2, Workers: 1, SendTimeout: time.Second}, deliverer, testLogger())
	q.Start()

	// The worker holds one notification; two more fill the buffer
	require.NoError(t, q.Enqueue(context.Background(), domain.BattleNotification{BattleID: "1"}))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), domain.BattleNotification{BattleID: "2"}))
	require.NoError(t, q.Enqueue(context.Background(), domain.BattleNotification{BattleID: "3"}))

	err := q.Enqueue(context.Background(), domain.BattleNotification{BattleID: "4"})
	assert.ErrorIs(t, err, domain.ErrQueueFull)

	close(deliverer.block)
	q.Stop()
	assert.Equal(t, 3, deliverer.count())
}
