package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/devbattle/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RecordUsage appends a token usage row
func (r *Repository) RecordUsage(ctx context.Context, record domain.TokenUsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	query := `
		INSERT INTO token_usage (id, user_id, feature, prompt_tokens, completion_tokens, total_tokens, cached, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.UserID,
		string(record.Feature),
		record.Usage.PromptTokens,
		record.Usage.CompletionTokens,
		record.Usage.TotalTokens,
		record.Usage.Cached,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}

// GetUserEmail looks up the address result emails are sent to
func (r *Repository) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, `SELECT email FROM user_contacts WHERE user_id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrContactNotFound
		}
		return "", fmt.Errorf("getting user email: %w", err)
	}
	return email, nil
}
