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

// maxVersionAttempts bounds retries when concurrent writers pick the same version
const maxVersionAttempts = 3

// LatestProfile retrieves the highest version cached for username
func (r *Repository) LatestProfile(ctx context.Context, username string) (*domain.ProfileCacheEntry, error) {
	query := `
		SELECT username, version, profile_data, updated_at
		FROM profile_cache
		WHERE username = $1
		ORDER BY version DESC
		LIMIT 1
	`
	var entry domain.ProfileCacheEntry
	var data []byte
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&entry.Username,
		&entry.Version,
		&data,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting latest profile: %w", err)
	}
	entry.Profile = json.RawMessage(data)
	return &entry, nil
}

// AppendProfileVersion stores profile as version max+1. Earlier versions are kept.
func (r *Repository) AppendProfileVersion(ctx context.Context, username string, profile json.RawMessage, at time.Time) (*domain.ProfileCacheEntry, error) {
	query := `
		INSERT INTO profile_cache (username, version, profile_data, updated_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3
		FROM profile_cache
		WHERE username = $1
		RETURNING version
	`

	var lastErr error
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		var version int
		err := r.pool.QueryRow(ctx, query, username, []byte(profile), at).Scan(&version)
		if err == nil {
			return &domain.ProfileCacheEntry{
				Username:  username,
				Version:   version,
				Profile:   profile,
				UpdatedAt: at,
			}, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("appending profile version: %w", err)
		}
		r.logger.Debug("profile version race, retrying", "username", username, "attempt", attempt+1)
		lastErr = err
	}
	return nil, fmt.Errorf("appending profile version: %w", lastErr)
}
