package domain

import (
	"strings"
	"time"
)

// BattleStatus is the lifecycle state of a battle
type BattleStatus string

const (
	BattleStatusPending    BattleStatus = "pending"
	BattleStatusInProgress BattleStatus = "in_progress"
	BattleStatusCompleted  BattleStatus = "completed"
	BattleStatusFailed     BattleStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s BattleStatus) Terminal() bool {
	return s == BattleStatusCompleted || s == BattleStatusFailed
}

// Winner identifies which side of a battle won
type Winner string

const (
	WinnerChallenger Winner = "challenger"
	WinnerOpponent   Winner = "opponent"
)

// Battle is one pairwise comparison job
type Battle struct {
	ID                 string          `json:"id"`
	ChallengerID       string          `json:"challenger_id"`
	ChallengerUsername string          `json:"challenger_username"`
	OpponentID         string          `json:"opponent_id"`
	OpponentUsername   string          `json:"opponent_username"`
	Criteria           []Criterion     `json:"criteria"`
	Status             BattleStatus    `json:"status"`
	ChallengerScore    *float64        `json:"challenger_score,omitempty"`
	OpponentScore      *float64        `json:"opponent_score,omitempty"`
	Analysis           *BattleAnalysis `json:"ai_analysis,omitempty"`
	EloChange          *EloChange      `json:"elo_change,omitempty"`
	WinnerID           *string         `json:"winner_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// BattleAnalysis is the evaluator's narrative output stored with the battle
type BattleAnalysis struct {
	Reason          string   `json:"reason"`
	Highlights      []string `json:"highlights"`
	Recommendations []string `json:"recommendations"`
}

// RatingChange describes one participant's rating movement
type RatingChange struct {
	Before int `json:"before"`
	After  int `json:"after"`
	Change int `json:"change"`
}

// EloChange holds both participants' rating movements
type EloChange struct {
	Challenger RatingChange `json:"challenger"`
	Opponent   RatingChange `json:"opponent"`
}

// Evaluation is the comparative evaluator's verdict
type Evaluation struct {
	Winner          Winner   `json:"winner"`
	ChallengerScore float64  `json:"challenger_score"`
	OpponentScore   float64  `json:"opponent_score"`
	Reason          string   `json:"reason"`
	Highlights      []string `json:"highlights"`
	Recommendations []string `json:"recommendations"`
}

// BattleResult is what settlement writes onto the battle row
type BattleResult struct {
	Evaluation  Evaluation
	EloChange   EloChange
	WinnerID    string
	CompletedAt time.Time
}

// BattleOutcome is the terminal completion payload
type BattleOutcome struct {
	BattleID        string    `json:"battle_id"`
	Winner          Winner    `json:"winner"`
	WinnerID        string    `json:"winner_id"`
	ChallengerScore float64   `json:"challenger_score"`
	OpponentScore   float64   `json:"opponent_score"`
	EloChange       EloChange `json:"elo_change"`
	Reason          string    `json:"reason"`
	Highlights      []string  `json:"highlights"`
	Recommendations []string  `json:"recommendations"`
}

// Outcome rebuilds the completion payload from a settled battle row.
// It returns nil until the battle has completed.
func (b *Battle) Outcome() *BattleOutcome {
	if b.Status != BattleStatusCompleted || b.WinnerID == nil {
		return nil
	}
	out := &BattleOutcome{
		BattleID: b.ID,
		Winner:   WinnerOpponent,
		WinnerID: *b.WinnerID,
	}
	if *b.WinnerID == b.ChallengerID {
		out.Winner = WinnerChallenger
	}
	if b.ChallengerScore != nil {
		out.ChallengerScore = *b.ChallengerScore
	}
	if b.OpponentScore != nil {
		out.OpponentScore = *b.OpponentScore
	}
	if b.EloChange != nil {
		out.EloChange = *b.EloChange
	}
	if b.Analysis != nil {
		out.Reason = b.Analysis.Reason
		out.Highlights = b.Analysis.Highlights
		out.Recommendations = b.Analysis.Recommendations
	}
	return out
}

// CreateBattleRequest represents a request to open a new pending battle
type CreateBattleRequest struct {
	ChallengerID       string   `json:"challenger_id"`
	ChallengerUsername string   `json:"challenger_username"`
	OpponentID         string   `json:"opponent_id"`
	OpponentUsername   string   `json:"opponent_username"`
	Criteria           []string `json:"criteria,omitempty"`
}

// ToBattle validates the request and converts it into a pending battle
func (r *CreateBattleRequest) ToBattle(id string, now time.Time) (*Battle, error) {
	if strings.TrimSpace(r.ChallengerID) == "" || strings.TrimSpace(r.OpponentID) == "" {
		return nil, Validation("participants", "challenger_id and opponent_id are required")
	}
	if r.ChallengerID == r.OpponentID {
		return nil, Validation("participants", "a developer cannot battle themselves")
	}
	if NormalizeUsername(r.ChallengerUsername) == "" || NormalizeUsername(r.OpponentUsername) == "" {
		return nil, Validation("participants", "usernames are required")
	}

	criteria, err := ParseCriteria(r.Criteria)
	if err != nil {
		return nil, err
	}

	return &Battle{
		ID:                 id,
		ChallengerID:       r.ChallengerID,
		ChallengerUsername: NormalizeUsername(r.ChallengerUsername),
		OpponentID:         r.OpponentID,
		OpponentUsername:   NormalizeUsername(r.OpponentUsername),
		Criteria:           criteria,
		Status:             BattleStatusPending,
		CreatedAt:          now,
	}, nil
}

// BattleNotification is one participant's result message
type BattleNotification struct {
	BattleID      string       `json:"battle_id"`
	UserID        string       `json:"user_id"`
	Username      string       `json:"username"`
	OpponentName  string       `json:"opponent_username"`
	Won           bool         `json:"won"`
	Score         float64      `json:"score"`
	OpponentScore float64      `json:"opponent_score"`
	RatingChange  RatingChange `json:"rating_change"`
	Tier          Tier         `json:"tier"`
	Reason        string       `json:"reason"`
	CompletedAt   time.Time    `json:"completed_at"`
}

// SettleFunc computes a battle's result from the locked ranking rows and
// applies the rating changes to them in place.
type SettleFunc func(challenger, opponent *Ranking) (*BattleResult, error)
