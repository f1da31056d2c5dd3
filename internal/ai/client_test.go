package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: handler}
	go server.Serve(ln)
	t.Cleanup(func() { ln.Close() })

	client := NewClient(&config.AIConfig{
		BaseURL:         "http://ai.test/v1",
		APIKey:          "key",
		Model:           "test-model",
		GenerateTimeout: 2 * time.Second,
		EvaluateTimeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	client.client.Dial = func(addr string) (net.Conn, error) {
		return ln.Dial()
	}
	return client
}

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		"usage":   map[string]any{"prompt_tokens": 900, "completion_tokens": 100, "total_tokens": 1000},
	})
	return string(body)
}

func TestEvaluate(t *testing.T) {
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/v1/chat/completions", string(ctx.Path()))
		assert.Equal(t, "Bearer key", string(ctx.Request.Header.Peek("Authorization")))

		var req chatRequest
		assert.NoError(t, json.Unmarshal(ctx.PostBody(), &req))
		assert.Equal(t, "test-model", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Contains(t, req.Messages[1].Content, "code_quality")
		}

		ctx.SetBodyString(completion("```json\n" + `{"winner":"challenger","challenger_score":81,"opponent_score":64,"reason":"broader impact","highlights":["a"],"recommendations":["b"]}` + "\n```"))
	})

	evaluation, usage, err := client.Evaluate(context.Background(), EvaluationRequest{
		ChallengerUsername: "alice",
		OpponentUsername:   "bob",
		Challenger:         &domain.Profile{Username: "alice"},
		Opponent:           &domain.Profile{Username: "bob"},
		Criteria:           []domain.Criterion{domain.CriterionCodeQuality},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WinnerChallenger, evaluation.Winner)
	assert.Equal(t, 81.0, evaluation.ChallengerScore)
	assert.Equal(t, "broader impact", evaluation.Reason)
	assert.Equal(t, 1000, usage.TotalTokens)
}

func TestGenerateProfile(t *testing.T) {
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(completion(`{"overall_score":77,"summary":"systems dev","skills":["go"],"strengths":["tests"],"weaknesses":["docs"],"scores":{"code_quality":80}}`))
	})

	repos := []domain.Repository{{Name: "engine", Owner: "alice", Stars: 42}}
	profile, usage, err := client.GenerateProfile(context.Background(), "alice", repos)
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, 77.0, profile.OverallScore)
	assert.Equal(t, repos, profile.TopRepos)
	assert.Equal(t, 80.0, profile.Scores["code_quality"])
	assert.Equal(t, 900, usage.PromptTokens)
}

func TestUpstreamFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"rate limited", fasthttp.StatusTooManyRequests, "", domain.CodeRateLimited},
		{"server error", fasthttp.StatusInternalServerError, "boom", domain.CodeUpstream},
		{"invalid content", fasthttp.StatusOK, completion("not json"), domain.CodeUpstream},
		{"no choices", fasthttp.StatusOK, `{"choices":[]}`, domain.CodeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
				ctx.SetStatusCode(tt.status)
				ctx.SetBodyString(tt.body)
			})

			_, _, err := client.GenerateProfile(context.Background(), "alice", nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.CodeOf(err))
		})
	}
}

func TestNotConfigured(t *testing.T) {
	client := NewClient(&config.AIConfig{BaseURL: "http://ai.test"}, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	assert.False(t, client.IsAvailable())

	_, _, err := client.Evaluate(context.Background(), EvaluationRequest{})
	assert.Equal(t, domain.CodeUpstream, domain.CodeOf(err))
}

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantWinner domain.Winner
		wantErr    bool
	}{
		{"explicit opponent", `{"winner":"Opponent","challenger_score":40,"opponent_score":60}`, domain.WinnerOpponent, false},
		{"missing label uses scores", `{"challenger_score":70,"opponent_score":60}`, domain.WinnerChallenger, false},
		{"equal scores without label", `{"winner":"draw","challenger_score":50,"opponent_score":50}`, "", true},
		{"score out of range", `{"winner":"challenger","challenger_score":140,"opponent_score":60}`, "", true},
		{"invalid json", `{`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := parseEvaluation(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWinner, e.Winner)
		})
	}
}

func TestCleanJSONContent(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSONContent("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSONContent("  {\"a\":1} "))
}
