package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devbattle/internal/domain"
)

const evaluatorService = "battle evaluator"

const evaluationSystemPrompt = `You judge a head-to-head comparison between two developers.
Score each developer from 0 to 100 on the weighted criteria provided and pick a winner.
There are no draws. Respond with ONLY a JSON object of this shape:
{
  "winner": "challenger" | "opponent",
  "challenger_score": 0-100,
  "opponent_score": 0-100,
  "reason": "one paragraph",
  "highlights": ["..."],
  "recommendations": ["..."]
}`

// EvaluationRequest is everything the evaluator compares
type EvaluationRequest struct {
	ChallengerUsername string
	OpponentUsername   string
	Challenger         *domain.Profile
	Opponent           *domain.Profile
	Criteria           []domain.Criterion
}

// Evaluate compares both profiles on the request's criteria
func (c *Client) Evaluate(ctx context.Context, req EvaluationRequest) (*domain.Evaluation, domain.Usage, error) {
	prompt, err := evaluationPrompt(req)
	if err != nil {
		return nil, domain.Usage{}, err
	}

	content, usage, err := c.complete(ctx, evaluatorService, evaluationSystemPrompt, prompt, c.evaluateTimeout)
	if err != nil {
		return nil, usage, err
	}

	evaluation, err := parseEvaluation(content)
	if err != nil {
		return nil, usage, domain.Upstream(evaluatorService, err)
	}
	return evaluation, usage, nil
}

func evaluationPrompt(req EvaluationRequest) (string, error) {
	challenger, err := json.Marshal(req.Challenger)
	if err != nil {
		return "", fmt.Errorf("marshaling challenger profile: %w", err)
	}
	opponent, err := json.Marshal(req.Opponent)
	if err != nil {
		return "", fmt.Errorf("marshaling opponent profile: %w", err)
	}

	var b strings.Builder
	b.WriteString("Criteria and weights:\n")
	weights := domain.NormalizedWeights(req.Criteria)
	for _, criterion := range req.Criteria {
		fmt.Fprintf(&b, "- %s: %.2f\n", criterion, weights[criterion])
	}
	fmt.Fprintf(&b, "\nChallenger (%s):\n%s\n", req.ChallengerUsername, challenger)
	fmt.Fprintf(&b, "\nOpponent (%s):\n%s\n", req.OpponentUsername, opponent)
	return b.String(), nil
}

func parseEvaluation(content string) (*domain.Evaluation, error) {
	var e domain.Evaluation
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return nil, fmt.Errorf("AI returned invalid JSON: %w", err)
	}

	for _, score := range []float64{e.ChallengerScore, e.OpponentScore} {
		if score < 0 || score > 100 {
			return nil, fmt.Errorf("score %.1f out of range", score)
		}
	}

	e.Winner = domain.Winner(strings.ToLower(strings.TrimSpace(string(e.Winner))))
	switch e.Winner {
	case domain.WinnerChallenger, domain.WinnerOpponent:
	default:
		// Fall back to the scores when the label is unusable
		switch {
		case e.ChallengerScore > e.OpponentScore:
			e.Winner = domain.WinnerChallenger
		case e.OpponentScore > e.ChallengerScore:
			e.Winner = domain.WinnerOpponent
		default:
			return nil, fmt.Errorf("no winner in evaluation")
		}
	}
	return &e, nil
}
