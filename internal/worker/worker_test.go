package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	entries []domain.RankingEntry
	err     error
}

func (f *fakeSource) ListRankings(ctx context.Context) ([]domain.RankingEntry, error) {
	return f.entries, f.err
}

type fakeSink struct {
	mu        sync.Mutex
	calls     int
	batchSize int
	got       []domain.RankingEntry
}

func (f *fakeSink) BatchSetRatings(ctx context.Context, entries []domain.RankingEntry, batchSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batchSize = batchSize
	f.got = entries
	return nil
}

func TestSyncFromDatabase(t *testing.T) {
	source := &fakeSource{entries: []domain.RankingEntry{
		{UserID: "u1", Username: "ada", EloRating: 1216, Tier: domain.TierGold, TotalBattles: 1},
		{UserID: "u2", Username: "bob", EloRating: 1184, Tier: domain.TierSilver, TotalBattles: 1},
	}}
	sink := &fakeSink{}
	w := NewBoardSync(source, sink, &config.SyncConfig{}, testLogger())

	require.NoError(t, w.SyncFromDatabase(context.Background()))
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, 1000, sink.batchSize)
	assert.Equal(t, source.entries, sink.got)
}

func TestSyncFromDatabase_EmptySkipsBoard(t *testing.T) {
	sink := &fakeSink{}
	w := NewBoardSync(&fakeSource{}, sink, &config.SyncConfig{BatchSize: 10}, testLogger())

	require.NoError(t, w.SyncFromDatabase(context.Background()))
	assert.Zero(t, sink.calls)
}

func TestSyncFromDatabase_SourceError(t *testing.T) {
	w := NewBoardSync(&fakeSource{err: errors.New("down")}, &fakeSink{}, &config.SyncConfig{}, testLogger())
	assert.Error(t, w.SyncFromDatabase(context.Background()))
}

func TestBoardSync_StartStop(t *testing.T) {
	sink := &fakeSink{}
	w := NewBoardSync(&fakeSource{entries: []domain.RankingEntry{{UserID: "u1", EloRating: 1200}}}, sink, &config.SyncConfig{Interval: time.Hour}, testLogger())

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Equal(t, 1, sink.calls)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

type fakeStaleStore struct {
	startedBefore time.Time
	at            time.Time
	ids           []string
}

func (f *fakeStaleStore) FailStaleBattles(ctx context.Context, startedBefore, at time.Time) ([]string, error) {
	f.startedBefore = startedBefore
	f.at = at
	return f.ids, nil
}

func TestStaleBattleReaper_RunOnceUsesTimeoutPlusGrace(t *testing.T) {
	store := &fakeStaleStore{ids: []string{"b1"}}
	r := NewStaleBattleReaper(store, &config.ReaperConfig{Grace: time.Minute}, 2*time.Minute, testLogger())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	ids, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, ids)
	assert.Equal(t, now, store.at)
	assert.Equal(t, now.Add(-3*time.Minute), store.startedBefore)
}

func TestStaleBattleReaper_StartStop(t *testing.T) {
	r := NewStaleBattleReaper(&fakeStaleStore{}, &config.ReaperConfig{Interval: time.Hour}, time.Minute, testLogger())
	r.Start(context.Background())
	r.Stop()
}
