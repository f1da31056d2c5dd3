package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
	"github.com/devbattle/internal/elo"
	"github.com/redis/go-redis/v9"
)

const (
	rankingsKey  = "rankings:elo"
	usernamesKey = "rankings:usernames"
	battlesKey   = "rankings:battles"
)

// Board provides the Redis-backed ranking board and profile hot cache
type Board struct {
	client *redis.Client
	logger *slog.Logger
}

// NewBoard creates a new Redis board
func NewBoard(cfg *config.RedisConfig, logger *slog.Logger) (*Board, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewBoardWithClient(client, logger), nil
}

// NewBoardWithClient wraps an existing client
func NewBoardWithClient(client *redis.Client, logger *slog.Logger) *Board {
	return &Board{client: client, logger: logger}
}

// Close closes the Redis connection
func (b *Board) Close() error {
	return b.client.Close()
}

// Ping checks Redis connectivity
func (b *Board) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// setRatingsScript writes each user's rating, username and battle count
// unless the board already holds a later settlement for that user. ARGV is
// a flat list of (user_id, rating, username, total_battles) quads.
var setRatingsScript = redis.NewScript(`
local written = 0
for i = 1, #ARGV, 4 do
	local user = ARGV[i]
	local battles = tonumber(ARGV[i + 3])
	local current = tonumber(redis.call('HGET', KEYS[3], user) or '-1')
	if battles >= current then
		redis.call('ZADD', KEYS[1], ARGV[i + 1], user)
		redis.call('HSET', KEYS[2], user, ARGV[i + 2])
		redis.call('HSET', KEYS[3], user, ARGV[i + 3])
		written = written + 1
	end
end
return written
`)

// SetRatings mirrors settled rankings onto the board in one round trip.
// An entry with fewer battles than the stored one is older and is skipped.
func (b *Board) SetRatings(ctx context.Context, entries []domain.RankingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(entries)*4)
	for _, e := range entries {
		args = append(args, e.UserID, e.EloRating, e.Username, e.TotalBattles)
	}

	written, err := setRatingsScript.Run(ctx, b.client,
		[]string{rankingsKey, usernamesKey, battlesKey}, args...).Int()
	if err != nil {
		return fmt.Errorf("setting ratings: %w", err)
	}
	if written < len(entries) {
		b.logger.Debug("skipped outdated board ratings", "skipped", len(entries)-written)
	}
	return nil
}

// BatchSetRatings writes entries in chunks of batchSize
func (b *Board) BatchSetRatings(ctx context.Context, entries []domain.RankingEntry, batchSize int) error {
	if batchSize <= 0 {
		batchSize = len(entries)
	}
	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		if err := b.SetRatings(ctx, entries[start:end]); err != nil {
			return fmt.Errorf("batch setting ratings: %w", err)
		}
	}
	return nil
}

// GetTopN returns the n highest rated users. Equal ratings are ordered by
// user id descending.
func (b *Board) GetTopN(ctx context.Context, n int) ([]domain.RankingEntry, error) {
	results, err := b.client.ZRevRangeWithScores(ctx, rankingsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	userIDs := make([]string, len(results))
	for i, result := range results {
		userIDs[i] = result.Member.(string)
	}
	details, err := b.details(ctx, userIDs...)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.RankingEntry, len(results))
	for i, result := range results {
		entries[i] = b.entry(userIDs[i], int64(i+1), result.Score, details[i])
	}
	return entries, nil
}

// GetUserRank returns a user's 1-indexed position and rating
func (b *Board) GetUserRank(ctx context.Context, userID string) (*domain.RankingEntry, error) {
	pipe := b.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, rankingsKey, userID)
	scoreCmd := pipe.ZScore(ctx, rankingsKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrRankingNotFound
		}
		return nil, fmt.Errorf("getting user rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}
	details, err := b.details(ctx, userID)
	if err != nil {
		return nil, err
	}

	entry := b.entry(userID, rank+1, score, details[0])
	return &entry, nil
}

// Count returns the number of users on the board
func (b *Board) Count(ctx context.Context) (int64, error) {
	count, err := b.client.ZCard(ctx, rankingsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

type userDetails struct {
	username string
	battles  int
}

// details reads usernames and battle counts for userIDs in order
func (b *Board) details(ctx context.Context, userIDs ...string) ([]userDetails, error) {
	pipe := b.client.Pipeline()
	namesCmd := pipe.HMGet(ctx, usernamesKey, userIDs...)
	battlesCmd := pipe.HMGet(ctx, battlesKey, userIDs...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("getting board details: %w", err)
	}

	names := namesCmd.Val()
	battles := battlesCmd.Val()
	out := make([]userDetails, len(userIDs))
	for i := range userIDs {
		if name, ok := names[i].(string); ok {
			out[i].username = name
		}
		if count, ok := battles[i].(string); ok {
			out[i].battles, _ = strconv.Atoi(count)
		}
	}
	return out, nil
}

func (b *Board) entry(userID string, rank int64, score float64, d userDetails) domain.RankingEntry {
	rating := int(score)
	return domain.RankingEntry{
		Rank:         rank,
		UserID:       userID,
		Username:     d.username,
		EloRating:    rating,
		Tier:         elo.DetermineTier(rating),
		TotalBattles: d.battles,
	}
}
