package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
	"github.com/valyala/fasthttp"
)

// Client talks to an OpenAI-compatible chat-completions endpoint
type Client struct {
	apiKey          string
	apiURL          string
	model           string
	generateTimeout time.Duration
	evaluateTimeout time.Duration
	client          *fasthttp.Client
	logger          *slog.Logger
}

// NewClient creates a chat-completions client
func NewClient(cfg *config.AIConfig, logger *slog.Logger) *Client {
	return &Client{
		apiKey:          cfg.APIKey,
		apiURL:          strings.TrimRight(cfg.BaseURL, "/"),
		model:           cfg.Model,
		generateTimeout: cfg.GenerateTimeout,
		evaluateTimeout: cfg.EvaluateTimeout,
		client: &fasthttp.Client{
			MaxConnsPerHost:     32,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

// IsAvailable reports whether an API key is configured
func (c *Client) IsAvailable() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// complete sends one system+user exchange and returns the cleaned JSON content
func (c *Client) complete(ctx context.Context, service, system, user string, timeout time.Duration) (string, domain.Usage, error) {
	if !c.IsAvailable() {
		return "", domain.Usage{}, domain.Upstream(service, fmt.Errorf("AI endpoint is not configured"))
	}
	if err := ctx.Err(); err != nil {
		return "", domain.Usage{}, domain.Upstream(service, err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.2,
	})
	if err != nil {
		return "", domain.Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.apiURL + "/chat/completions")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.SetBody(body)

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return "", domain.Usage{}, domain.Upstream(service, err)
	}

	status := resp.StatusCode()
	if status == fasthttp.StatusTooManyRequests {
		return "", domain.Usage{}, domain.RateLimited(service, fmt.Errorf("API returned status %d", status))
	}
	if status != fasthttp.StatusOK {
		return "", domain.Usage{}, domain.Upstream(service, fmt.Errorf("API returned status %d: %s", status, truncate(resp.Body(), 200)))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(resp.Body(), &chatResp); err != nil {
		return "", domain.Usage{}, domain.Upstream(service, fmt.Errorf("parsing API response: %w", err))
	}
	if chatResp.Error != nil {
		return "", domain.Usage{}, domain.Upstream(service, fmt.Errorf("API error: %s", chatResp.Error.Message))
	}
	if len(chatResp.Choices) == 0 {
		return "", domain.Usage{}, domain.Upstream(service, fmt.Errorf("empty response from AI"))
	}

	usage := domain.Usage{
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
		Cached:           chatResp.Usage.PromptTokensDetails.CachedTokens > 0,
	}
	c.logger.Debug("chat completion finished", "service", service, "total_tokens", usage.TotalTokens)

	return cleanJSONContent(chatResp.Choices[0].Message.Content), usage, nil
}

func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
