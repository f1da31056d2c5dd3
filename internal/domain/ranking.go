package domain

import "time"

// Tier is the discrete rank label derived from a rating
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
)

// Ranking is a user's ELO standing and battle record
type Ranking struct {
	UserID        string     `json:"user_id"`
	Username      string     `json:"username"`
	EloRating     int        `json:"elo_rating"`
	Tier          Tier       `json:"tier"`
	Wins          int        `json:"wins"`
	Losses        int        `json:"losses"`
	TotalBattles  int        `json:"total_battles"`
	WinStreak     int        `json:"win_streak"`
	BestWinStreak int        `json:"best_win_streak"`
	LastBattleAt  *time.Time `json:"last_battle_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ApplyResult records one finished battle on the ranking.
func (r *Ranking) ApplyResult(won bool, newRating int, tier Tier, at time.Time) {
	if won {
		r.Wins++
		r.WinStreak++
	} else {
		r.Losses++
		r.WinStreak = 0
	}
	r.TotalBattles++
	if r.WinStreak > r.BestWinStreak {
		r.BestWinStreak = r.WinStreak
	}
	r.EloRating = newRating
	r.Tier = tier
	stamp := at
	r.LastBattleAt = &stamp
	r.UpdatedAt = at
}

// RankingEntry is a ranked row on the public board
type RankingEntry struct {
	Rank         int64  `json:"rank"`
	UserID       string `json:"user_id"`
	Username     string `json:"username,omitempty"`
	EloRating    int    `json:"elo_rating"`
	Tier         Tier   `json:"tier,omitempty"`
	TotalBattles int    `json:"total_battles"`
}

// Entry projects the ranking onto a board row without a rank.
func (r *Ranking) Entry() RankingEntry {
	return RankingEntry{
		UserID:       r.UserID,
		Username:     r.Username,
		EloRating:    r.EloRating,
		Tier:         r.Tier,
		TotalBattles: r.TotalBattles,
	}
}
