package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// NormalizeUsername makes developer handles case-insensitive
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Repository is one source repository as reported by the code host
type Repository struct {
	Name        string    `json:"name"`
	Owner       string    `json:"owner"`
	Description string    `json:"description,omitempty"`
	Language    string    `json:"language,omitempty"`
	Fork        bool      `json:"fork"`
	Stars       int       `json:"stars"`
	Forks       int       `json:"forks"`
	PushedAt    time.Time `json:"pushed_at"`
}

// Profile is a scored summary of a developer's repository activity
type Profile struct {
	Username     string             `json:"username"`
	OverallScore float64            `json:"overall_score"`
	Summary      string             `json:"summary"`
	Skills       []string           `json:"skills"`
	Strengths    []string           `json:"strengths"`
	Weaknesses   []string           `json:"weaknesses"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	TopRepos     []Repository       `json:"top_repos"`
}

// ProfileCacheEntry is one stored version of a developer profile
type ProfileCacheEntry struct {
	Username  string          `json:"username"`
	Version   int             `json:"version"`
	Profile   json.RawMessage `json:"profile_data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Stale reports whether the entry is older than maxAge at now.
func (e *ProfileCacheEntry) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.UpdatedAt) > maxAge
}

// Decode unmarshals the stored profile payload.
func (e *ProfileCacheEntry) Decode() (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(e.Profile, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
