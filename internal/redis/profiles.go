package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devbattle/internal/domain"
	"github.com/redis/go-redis/v9"
)

func profileKey(username string) string {
	return fmt.Sprintf("profile:%s:latest", username)
}

// GetProfile returns the hot copy of a user's latest profile version
func (b *Board) GetProfile(ctx context.Context, username string) (*domain.ProfileCacheEntry, error) {
	data, err := b.client.Get(ctx, profileKey(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting cached profile: %w", err)
	}

	var entry domain.ProfileCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding cached profile: %w", err)
	}
	return &entry, nil
}

// setProfileScript replaces the hot copy unless it already holds a later
// version. ARGV: encoded entry, version, ttl in milliseconds.
var setProfileScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local ok, decoded = pcall(cjson.decode, current)
	if ok and type(decoded) == 'table' then
		local stored = tonumber(decoded['version'])
		if stored and stored > tonumber(ARGV[2]) then
			return 0
		end
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// SetProfile stores entry as the hot copy, expiring after ttl. A stored
// entry with a higher version is kept, so overlapping regenerations never
// move the hot copy backwards.
func (b *Board) SetProfile(ctx context.Context, entry *domain.ProfileCacheEntry, ttl time.Duration) error {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}

	written, err := setProfileScript.Run(ctx, b.client, []string{profileKey(entry.Username)},
		data, entry.Version, ms).Int()
	if err != nil {
		return fmt.Errorf("caching profile: %w", err)
	}
	if written == 0 {
		b.logger.Debug("kept newer cached profile", "username", entry.Username, "version", entry.Version)
	}
	return nil
}

// DeleteProfile drops the hot copy for username
func (b *Board) DeleteProfile(ctx context.Context, username string) error {
	if err := b.client.Del(ctx, profileKey(username)).Err(); err != nil {
		return fmt.Errorf("deleting cached profile: %w", err)
	}
	return nil
}
