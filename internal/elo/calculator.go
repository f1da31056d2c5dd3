package elo

import (
	"math"

	"github.com/devbattle/internal/domain"
)

const (
	// DefaultKFactor is the fixed K used for every battle
	DefaultKFactor = 32

	// DefaultInitialRating seeds a newly created ranking
	DefaultInitialRating = 1500

	// MinRating is the rating floor
	MinRating = 0
)

// Tier thresholds, highest first. A rating equal to a threshold belongs to that tier.
var tierThresholds = []struct {
	min  int
	tier domain.Tier
}{
	{1800, domain.TierDiamond},
	{1600, domain.TierPlatinum},
	{1400, domain.TierGold},
	{1200, domain.TierSilver},
	{math.MinInt, domain.TierBronze},
}

// Result is the outcome of a battle for one participant
type Result int

const (
	Loss Result = 0
	Win  Result = 1
)

// Delta describes the rating change for both sides of a battle
type Delta struct {
	ChallengerBefore int
	ChallengerAfter  int
	OpponentBefore   int
	OpponentAfter    int
	Change           int
}

// Calculator computes ELO deltas with a fixed K-factor
type Calculator struct {
	kFactor int
}

// NewCalculator returns a calculator using kFactor, or DefaultKFactor when kFactor <= 0.
func NewCalculator(kFactor int) *Calculator {
	if kFactor <= 0 {
		kFactor = DefaultKFactor
	}
	return &Calculator{kFactor: kFactor}
}

// ExpectedScore returns E_A = 1 / (1 + 10^((R_B - R_A) / 400))
func ExpectedScore(playerRating, opponentRating int) float64 {
	exponent := float64(opponentRating-playerRating) / 400.0
	return 1.0 / (1.0 + math.Pow(10, exponent))
}

// RatingChange returns the rounded delta for the player. The opponent's delta is its negation.
func (c *Calculator) RatingChange(playerRating, opponentRating int, result Result) int {
	actual := 0.0
	if result == Win {
		actual = 1.0
	}
	return int(math.Round(float64(c.kFactor) * (actual - ExpectedScore(playerRating, opponentRating))))
}

// Compute returns the new ratings for a battle between challenger and opponent.
func (c *Calculator) Compute(challengerRating, opponentRating int, challengerWon bool) Delta {
	result := Loss
	if challengerWon {
		result = Win
	}
	change := c.RatingChange(challengerRating, opponentRating, result)

	return Delta{
		ChallengerBefore: challengerRating,
		ChallengerAfter:  clamp(challengerRating + change),
		OpponentBefore:   opponentRating,
		OpponentAfter:    clamp(opponentRating - change),
		Change:           change,
	}
}

// EloChange converts the delta into the persisted shape.
func (d Delta) EloChange() domain.EloChange {
	return domain.EloChange{
		Challenger: domain.RatingChange{
			Before: d.ChallengerBefore,
			After:  d.ChallengerAfter,
			Change: d.ChallengerAfter - d.ChallengerBefore,
		},
		Opponent: domain.RatingChange{
			Before: d.OpponentBefore,
			After:  d.OpponentAfter,
			Change: d.OpponentAfter - d.OpponentBefore,
		},
	}
}

// DetermineTier maps a rating onto its tier.
func DetermineTier(rating int) domain.Tier {
	for _, t := range tierThresholds {
		if rating >= t.min {
			return t.tier
		}
	}
	return domain.TierBronze
}

func clamp(rating int) int {
	if rating < MinRating {
		return MinRating
	}
	return rating
}
