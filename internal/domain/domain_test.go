package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCriteria(t *testing.T) {
	t.Run("empty selects all", func(t *testing.T) {
		got, err := ParseCriteria(nil)
		require.NoError(t, err)
		assert.Equal(t, AllCriteria(), got)
	})

	t.Run("normalizes and dedupes", func(t *testing.T) {
		got, err := ParseCriteria([]string{" Code_Quality", "activity", "code_quality"})
		require.NoError(t, err)
		assert.Equal(t, []Criterion{CriterionCodeQuality, CriterionActivity}, got)
	})

	t.Run("rejects unknown", func(t *testing.T) {
		_, err := ParseCriteria([]string{"activity", "vibes"})
		require.Error(t, err)
		assert.Equal(t, CodeValidation, CodeOf(err))
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestNormalizedWeights(t *testing.T) {
	all := NormalizedWeights(AllCriteria())
	var sum float64
	for _, w := range all {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	two := NormalizedWeights([]Criterion{CriterionCodeQuality, CriterionDocumentation})
	assert.InDelta(t, 0.25/0.35, two[CriterionCodeQuality], 1e-9)
	assert.InDelta(t, 0.10/0.35, two[CriterionDocumentation], 1e-9)
}

func TestRanking_ApplyResult(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r := Ranking{UserID: "u1", EloRating: 1500, Tier: TierGold, WinStreak: 2, BestWinStreak: 2, Wins: 2, TotalBattles: 2}
	r.ApplyResult(true, 1516, TierGold, now)

	assert.Equal(t, 3, r.Wins)
	assert.Equal(t, 3, r.TotalBattles)
	assert.Equal(t, 3, r.WinStreak)
	assert.Equal(t, 3, r.BestWinStreak)
	assert.Equal(t, 1516, r.EloRating)
	require.NotNil(t, r.LastBattleAt)
	assert.Equal(t, now, *r.LastBattleAt)

	r.ApplyResult(false, 1500, TierGold, now.Add(time.Hour))

	assert.Equal(t, 1, r.Losses)
	assert.Equal(t, 0, r.WinStreak)
	assert.Equal(t, 3, r.BestWinStreak)
	assert.Equal(t, r.Wins+r.Losses, r.TotalBattles)
}

func TestCreateBattleRequest_ToBattle(t *testing.T) {
	now := time.Now()

	t.Run("valid", func(t *testing.T) {
		req := CreateBattleRequest{
			ChallengerID: "u1", ChallengerUsername: " Alice ",
			OpponentID: "u2", OpponentUsername: "BOB",
			Criteria: []string{"innovation"},
		}
		b, err := req.ToBattle("b1", now)
		require.NoError(t, err)
		assert.Equal(t, BattleStatusPending, b.Status)
		assert.Equal(t, "alice", b.ChallengerUsername)
		assert.Equal(t, "bob", b.OpponentUsername)
		assert.Equal(t, []Criterion{CriterionInnovation}, b.Criteria)
	})

	t.Run("self battle", func(t *testing.T) {
		req := CreateBattleRequest{ChallengerID: "u1", ChallengerUsername: "a", OpponentID: "u1", OpponentUsername: "b"}
		_, err := req.ToBattle("b1", now)
		assert.Equal(t, CodeValidation, CodeOf(err))
	})

	t.Run("missing username", func(t *testing.T) {
		req := CreateBattleRequest{ChallengerID: "u1", OpponentID: "u2", OpponentUsername: "b"}
		_, err := req.ToBattle("b1", now)
		assert.Equal(t, CodeValidation, CodeOf(err))
	})
}

func TestProfileCacheEntry_Stale(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := ProfileCacheEntry{Username: "alice", Version: 1, UpdatedAt: t0}

	assert.False(t, e.Stale(t0.Add(23*time.Hour), 24*time.Hour))
	assert.False(t, e.Stale(t0.Add(24*time.Hour), 24*time.Hour))
	assert.True(t, e.Stale(t0.Add(25*time.Hour), 24*time.Hour))
}

func TestError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("settling battle: %w", Persistence("settle", cause))

	assert.Equal(t, CodePersistence, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "PERSISTENCE_FAILED: storage error during settle: connection reset", errors.Unwrap(err).Error())

	assert.Equal(t, CodeNotFound, CodeOf(fmt.Errorf("loading: %w", ErrBattleNotFound)))
	assert.Equal(t, CodeNotFound, CodeOf(NotFound("battle", nil)))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.False(t, BattleStatusInProgress.Terminal())
	assert.True(t, BattleStatusFailed.Terminal())
}

func TestBattleOutcome(t *testing.T) {
	b := &Battle{ID: "b1", ChallengerID: "u1", OpponentID: "u2", Status: BattleStatusInProgress}
	assert.Nil(t, b.Outcome())

	winner := "u2"
	challengerScore, opponentScore := 58.0, 77.5
	b.Status = BattleStatusCompleted
	b.WinnerID = &winner
	b.ChallengerScore = &challengerScore
	b.OpponentScore = &opponentScore
	b.EloChange = &EloChange{Opponent: RatingChange{Before: 1500, After: 1516, Change: 16}}
	b.Analysis = &BattleAnalysis{Reason: "more shipped projects", Highlights: []string{"steady commits"}}

	out := b.Outcome()
	require.NotNil(t, out)
	assert.Equal(t, WinnerOpponent, out.Winner)
	assert.Equal(t, "u2", out.WinnerID)
	assert.Equal(t, 77.5, out.OpponentScore)
	assert.Equal(t, 16, out.EloChange.Opponent.Change)
	assert.Equal(t, "more shipped projects", out.Reason)
	assert.Equal(t, []string{"steady commits"}, out.Highlights)
}
