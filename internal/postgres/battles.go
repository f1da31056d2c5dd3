package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devbattle/internal/domain"
	"github.com/jackc/pgx/v5"
)

const battleColumns = `id, challenger_id, challenger_username, opponent_id, opponent_username, criteria,
	status, challenger_score, opponent_score, ai_analysis, elo_change, winner_id,
	created_at, started_at, completed_at`

// CreateBattle inserts a new pending battle
func (r *Repository) CreateBattle(ctx context.Context, battle *domain.Battle) error {
	criteria := make([]string, len(battle.Criteria))
	for i, c := range battle.Criteria {
		criteria[i] = string(c)
	}

	query := `
		INSERT INTO battles (id, challenger_id, challenger_username, opponent_id, opponent_username, criteria, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		battle.ID,
		battle.ChallengerID,
		battle.ChallengerUsername,
		battle.OpponentID,
		battle.OpponentUsername,
		criteria,
		string(domain.BattleStatusPending),
		battle.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating battle: %w", err)
	}
	return nil
}

// GetBattle retrieves a battle by ID
func (r *Repository) GetBattle(ctx context.Context, battleID string) (*domain.Battle, error) {
	query := `SELECT ` + battleColumns + ` FROM battles WHERE id = $1`

	battle, err := scanBattle(r.pool.QueryRow(ctx, query, battleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBattleNotFound
		}
		return nil, fmt.Errorf("getting battle: %w", err)
	}
	return battle, nil
}

// MarkInProgress moves a battle from pending to in_progress. It reports false
// when the battle was not pending, which means another execution owns it.
func (r *Repository) MarkInProgress(ctx context.Context, battleID string, at time.Time) (bool, error) {
	query := `
		UPDATE battles SET status = 'in_progress', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.pool.Exec(ctx, query, battleID, at)
	if err != nil {
		return false, fmt.Errorf("marking battle in progress: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkFailed moves an in_progress battle to failed
func (r *Repository) MarkFailed(ctx context.Context, battleID string, at time.Time) (bool, error) {
	query := `
		UPDATE battles SET status = 'failed', completed_at = $2
		WHERE id = $1 AND status = 'in_progress'
	`
	result, err := r.pool.Exec(ctx, query, battleID, at)
	if err != nil {
		return false, fmt.Errorf("marking battle failed: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// FailStaleBattles fails every battle stuck in_progress since before startedBefore
func (r *Repository) FailStaleBattles(ctx context.Context, startedBefore, at time.Time) ([]string, error) {
	query := `
		UPDATE battles SET status = 'failed', completed_at = $2
		WHERE status = 'in_progress' AND started_at < $1
		RETURNING id
	`
	rows, err := r.pool.Query(ctx, query, startedBefore, at)
	if err != nil {
		return nil, fmt.Errorf("failing stale battles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stale battle: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CompleteBattle settles a battle in a single transaction. Both ranking rows
// are locked, settle computes the result against the locked ratings, and the
// rankings and battle are written together. The battle must still be in_progress.
func (r *Repository) CompleteBattle(ctx context.Context, battle *domain.Battle, settle domain.SettleFunc) (*domain.BattleResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock in user_id order so concurrent settlements cannot deadlock
	query := `SELECT ` + rankingColumns + ` FROM rankings WHERE user_id = ANY($1) ORDER BY user_id FOR UPDATE`
	rows, err := tx.Query(ctx, query, []string{battle.ChallengerID, battle.OpponentID})
	if err != nil {
		return nil, fmt.Errorf("locking rankings: %w", err)
	}
	locked := make(map[string]*domain.Ranking, 2)
	for rows.Next() {
		ranking, err := scanRanking(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning locked ranking: %w", err)
		}
		locked[ranking.UserID] = ranking
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("locking rankings: %w", err)
	}

	challenger, opponent := locked[battle.ChallengerID], locked[battle.OpponentID]
	if challenger == nil || opponent == nil {
		return nil, domain.ErrRankingNotFound
	}

	result, err := settle(challenger, opponent)
	if err != nil {
		return nil, err
	}

	for _, ranking := range []*domain.Ranking{challenger, opponent} {
		if err := updateRanking(ctx, tx, ranking); err != nil {
			return nil, err
		}
	}

	analysis, err := json.Marshal(domain.BattleAnalysis{
		Reason:          result.Evaluation.Reason,
		Highlights:      result.Evaluation.Highlights,
		Recommendations: result.Evaluation.Recommendations,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling analysis: %w", err)
	}
	eloChange, err := json.Marshal(result.EloChange)
	if err != nil {
		return nil, fmt.Errorf("marshaling elo change: %w", err)
	}

	update := `
		UPDATE battles SET
			status = 'completed',
			challenger_score = $2,
			opponent_score = $3,
			ai_analysis = $4,
			elo_change = $5,
			winner_id = $6,
			completed_at = $7
		WHERE id = $1 AND status = 'in_progress'
	`
	tag, err := tx.Exec(ctx, update,
		battle.ID,
		result.Evaluation.ChallengerScore,
		result.Evaluation.OpponentScore,
		analysis,
		eloChange,
		result.WinnerID,
		result.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("completing battle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrStaleTransition
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing settlement: %w", err)
	}
	return result, nil
}

func scanBattle(row pgx.Row) (*domain.Battle, error) {
	var (
		b         domain.Battle
		criteria  []string
		status    string
		analysis  []byte
		eloChange []byte
	)
	err := row.Scan(
		&b.ID,
		&b.ChallengerID,
		&b.ChallengerUsername,
		&b.OpponentID,
		&b.OpponentUsername,
		&criteria,
		&status,
		&b.ChallengerScore,
		&b.OpponentScore,
		&analysis,
		&eloChange,
		&b.WinnerID,
		&b.CreatedAt,
		&b.StartedAt,
		&b.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = domain.BattleStatus(status)
	b.Criteria = make([]domain.Criterion, len(criteria))
	for i, c := range criteria {
		b.Criteria[i] = domain.Criterion(c)
	}
	if len(analysis) > 0 {
		b.Analysis = &domain.BattleAnalysis{}
		if err := json.Unmarshal(analysis, b.Analysis); err != nil {
			return nil, fmt.Errorf("decoding analysis: %w", err)
		}
	}
	if len(eloChange) > 0 {
		b.EloChange = &domain.EloChange{}
		if err := json.Unmarshal(eloChange, b.EloChange); err != nil {
			return nil, fmt.Errorf("decoding elo change: %w", err)
		}
	}
	return &b, nil
}
