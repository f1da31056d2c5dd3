package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devbattle/internal/domain"
)

const generatorService = "profile generator"

const profileSystemPrompt = `You analyze a developer's public repositories and produce a scored profile.
Respond with ONLY a JSON object of this shape:
{
  "overall_score": 0-100,
  "summary": "two or three sentences",
  "skills": ["..."],
  "strengths": ["..."],
  "weaknesses": ["..."],
  "scores": {"code_quality": 0-100, "project_complexity": 0-100, "activity": 0-100,
             "documentation": 0-100, "innovation": 0-100, "community": 0-100}
}`

type profilePayload struct {
	OverallScore float64            `json:"overall_score"`
	Summary      string             `json:"summary"`
	Skills       []string           `json:"skills"`
	Strengths    []string           `json:"strengths"`
	Weaknesses   []string           `json:"weaknesses"`
	Scores       map[string]float64 `json:"scores"`
}

// GenerateProfile scores username from the selected repositories
func (c *Client) GenerateProfile(ctx context.Context, username string, repos []domain.Repository) (*domain.Profile, domain.Usage, error) {
	content, usage, err := c.complete(ctx, generatorService, profileSystemPrompt, profilePrompt(username, repos), c.generateTimeout)
	if err != nil {
		return nil, usage, err
	}

	profile, err := parseProfile(content)
	if err != nil {
		return nil, usage, domain.Upstream(generatorService, err)
	}
	profile.Username = username
	profile.TopRepos = repos
	return profile, usage, nil
}

func profilePrompt(username string, repos []domain.Repository) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Developer: %s\nRepositories (%d):\n", username, len(repos))
	for _, r := range repos {
		fmt.Fprintf(&b, "- %s/%s [%s] stars=%d forks=%d fork=%t pushed=%s: %s\n",
			r.Owner, r.Name, r.Language, r.Stars, r.Forks, r.Fork, r.PushedAt.Format("2006-01-02"), r.Description)
	}
	return b.String()
}

func parseProfile(content string) (*domain.Profile, error) {
	var payload profilePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("AI returned invalid JSON: %w", err)
	}
	if payload.OverallScore < 0 || payload.OverallScore > 100 {
		return nil, fmt.Errorf("overall_score %.1f out of range", payload.OverallScore)
	}
	return &domain.Profile{
		OverallScore: payload.OverallScore,
		Summary:      payload.Summary,
		Skills:       payload.Skills,
		Strengths:    payload.Strengths,
		Weaknesses:   payload.Weaknesses,
		Scores:       payload.Scores,
	}, nil
}
