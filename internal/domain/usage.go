package domain

import "time"

// Feature names the AI-backed feature a usage row is billed to
type Feature string

const (
	FeatureProfileGeneration Feature = "profile_generation"
	FeatureBattleEvaluation  Feature = "battle_evaluation"
)

// Usage is token accounting returned by an AI call
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Cached           bool `json:"cached"`
}

// TokenUsageRecord is an append-only ledger row
type TokenUsageRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Feature   Feature   `json:"feature"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}
