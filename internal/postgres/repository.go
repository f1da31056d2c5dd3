package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devbattle/internal/config"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE for unique_violation
const uniqueViolation = "23505"

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS battles (
			id VARCHAR(64) PRIMARY KEY,
			challenger_id VARCHAR(64) NOT NULL,
			challenger_username VARCHAR(100) NOT NULL,
			opponent_id VARCHAR(64) NOT NULL,
			opponent_username VARCHAR(100) NOT NULL,
			criteria TEXT[] NOT NULL DEFAULT '{}',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			challenger_score DOUBLE PRECISION,
			opponent_score DOUBLE PRECISION,
			ai_analysis JSONB,
			elo_change JSONB,
			winner_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			CONSTRAINT check_battle_status CHECK (status IN ('pending', 'in_progress', 'completed', 'failed')),
			CONSTRAINT check_terminal_completed_at CHECK (status IN ('pending', 'in_progress') OR completed_at IS NOT NULL)
		)`,
		`CREATE TABLE IF NOT EXISTS rankings (
			user_id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(100) NOT NULL,
			elo_rating INT NOT NULL,
			tier VARCHAR(20) NOT NULL,
			wins INT NOT NULL DEFAULT 0,
			losses INT NOT NULL DEFAULT 0,
			total_battles INT NOT NULL DEFAULT 0,
			win_streak INT NOT NULL DEFAULT 0,
			best_win_streak INT NOT NULL DEFAULT 0,
			last_battle_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT check_rating_floor CHECK (elo_rating >= 0),
			CONSTRAINT check_battle_totals CHECK (wins + losses = total_battles)
		)`,
		`CREATE TABLE IF NOT EXISTS profile_cache (
			username VARCHAR(100) NOT NULL,
			version INT NOT NULL,
			profile_data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (username, version)
		)`,
		`CREATE TABLE IF NOT EXISTS token_usage (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			feature VARCHAR(40) NOT NULL,
			prompt_tokens INT NOT NULL DEFAULT 0,
			completion_tokens INT NOT NULL DEFAULT 0,
			total_tokens INT NOT NULL DEFAULT 0,
			cached BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS user_contacts (
			user_id VARCHAR(64) PRIMARY KEY,
			email VARCHAR(255) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_battles_status_started ON battles(status, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_rankings_elo ON rankings(elo_rating DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_token_usage_user ON token_usage(user_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
