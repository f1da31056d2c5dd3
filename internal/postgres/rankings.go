package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devbattle/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const rankingColumns = `user_id, username, elo_rating, tier, wins, losses, total_battles,
	win_streak, best_win_streak, last_battle_at, created_at, updated_at`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// GetOrCreateRanking returns the user's ranking, inserting a seeded row on first use.
// Concurrent callers race on the primary key; the loser re-reads the winner's row.
func (r *Repository) GetOrCreateRanking(ctx context.Context, userID, username string, initialRating int, tier domain.Tier) (*domain.Ranking, error) {
	query := `
		INSERT INTO rankings (user_id, username, elo_rating, tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, userID, username, initialRating, string(tier), time.Now())
	if err != nil {
		return nil, fmt.Errorf("creating ranking: %w", err)
	}
	if result.RowsAffected() == 1 {
		r.logger.Debug("ranking created", "user_id", userID, "elo_rating", initialRating)
	}

	return r.GetRanking(ctx, userID)
}

// GetRanking retrieves a ranking by user ID
func (r *Repository) GetRanking(ctx context.Context, userID string) (*domain.Ranking, error) {
	query := `SELECT ` + rankingColumns + ` FROM rankings WHERE user_id = $1`
	ranking, err := scanRanking(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRankingNotFound
		}
		return nil, fmt.Errorf("getting ranking: %w", err)
	}
	return ranking, nil
}

// TopRankings retrieves rankings ordered by rating with pagination. Equal
// ratings are ordered by user id descending in byte order, the order the
// Redis board uses for equal scores.
func (r *Repository) TopRankings(ctx context.Context, limit, offset int) ([]domain.RankingEntry, error) {
	query := `
		SELECT user_id, username, elo_rating, tier, total_battles,
			   ROW_NUMBER() OVER (ORDER BY elo_rating DESC, user_id COLLATE "C" DESC) as rank
		FROM rankings
		ORDER BY elo_rating DESC, user_id COLLATE "C" DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("getting top rankings: %w", err)
	}
	defer rows.Close()

	var entries []domain.RankingEntry
	for rows.Next() {
		var entry domain.RankingEntry
		var tier string
		if err := rows.Scan(&entry.UserID, &entry.Username, &entry.EloRating, &tier, &entry.TotalBattles, &entry.Rank); err != nil {
			return nil, fmt.Errorf("scanning ranking entry: %w", err)
		}
		entry.Tier = domain.Tier(tier)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListRankings retrieves every user's board row (for board sync)
func (r *Repository) ListRankings(ctx context.Context) ([]domain.RankingEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, username, elo_rating, tier, total_battles FROM rankings`)
	if err != nil {
		return nil, fmt.Errorf("listing rankings: %w", err)
	}
	defer rows.Close()

	var entries []domain.RankingEntry
	for rows.Next() {
		var entry domain.RankingEntry
		var tier string
		if err := rows.Scan(&entry.UserID, &entry.Username, &entry.EloRating, &tier, &entry.TotalBattles); err != nil {
			return nil, fmt.Errorf("scanning rating: %w", err)
		}
		entry.Tier = domain.Tier(tier)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func updateRanking(ctx context.Context, db execer, ranking *domain.Ranking) error {
	query := `
		UPDATE rankings SET
			username = $2,
			elo_rating = $3,
			tier = $4,
			wins = $5,
			losses = $6,
			total_battles = $7,
			win_streak = $8,
			best_win_streak = $9,
			last_battle_at = $10,
			updated_at = $11
		WHERE user_id = $1
	`
	result, err := db.Exec(ctx, query,
		ranking.UserID,
		ranking.Username,
		ranking.EloRating,
		string(ranking.Tier),
		ranking.Wins,
		ranking.Losses,
		ranking.TotalBattles,
		ranking.WinStreak,
		ranking.BestWinStreak,
		ranking.LastBattleAt,
		ranking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating ranking %s: %w", ranking.UserID, err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRankingNotFound
	}
	return nil
}

func scanRanking(row pgx.Row) (*domain.Ranking, error) {
	var r domain.Ranking
	var tier string
	err := row.Scan(
		&r.UserID,
		&r.Username,
		&r.EloRating,
		&tier,
		&r.Wins,
		&r.Losses,
		&r.TotalBattles,
		&r.WinStreak,
		&r.BestWinStreak,
		&r.LastBattleAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Tier = domain.Tier(tier)
	return &r, nil
}
