package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
	"github.com/valyala/fasthttp"
)

const serviceName = "github"

const (
	// maxPageSize is the largest per_page the API accepts
	maxPageSize     = 100
	defaultMaxRepos = 300
)

// Client reads public repository data from the GitHub REST API
type Client struct {
	baseURL  string
	token    string
	maxRepos int
	timeout  time.Duration
	client   *fasthttp.Client
	logger   *slog.Logger

	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

// RateLimitInfo is the last rate limit state reported by the API
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewClient creates a GitHub client
func NewClient(cfg *config.GitHubConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		token:    cfg.Token,
		maxRepos: cfg.MaxRepos,
		timeout:  cfg.Timeout,
		client: &fasthttp.Client{
			MaxConnsPerHost:     50,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

// GetRateLimitInfo returns the most recent rate limit headers
func (c *Client) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *Client) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-RateLimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-RateLimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if reset := string(resp.Header.Peek("X-RateLimit-Reset")); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil {
			c.rateLimit.Reset = time.Unix(val, 0)
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

type repoResponse struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Fork        bool      `json:"fork"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	PushedAt    time.Time `json:"pushed_at"`
}

type commitResponse struct {
	SHA string `json:"sha"`
}

// ListRepositories returns the repositories owned by username, most recently
// pushed first. Pages are followed until a short page or maxRepos repositories.
func (c *Client) ListRepositories(ctx context.Context, username string) ([]domain.Repository, error) {
	limit := c.maxRepos
	if limit <= 0 {
		limit = defaultMaxRepos
	}
	perPage := min(maxPageSize, limit)

	var out []domain.Repository
	for page := 1; len(out) < limit; page++ {
		endpoint := fmt.Sprintf("%s/users/%s/repos?type=owner&sort=pushed&per_page=%d&page=%d",
			c.baseURL, url.PathEscape(username), perPage, page)

		repos, status, err := doRequest[[]repoResponse](ctx, c, endpoint)
		if err != nil {
			if status == fasthttp.StatusNotFound {
				return nil, domain.NotFound("github user "+username, err)
			}
			return nil, err
		}

		for _, r := range *repos {
			out = append(out, domain.Repository{
				Name:        r.Name,
				Owner:       r.Owner.Login,
				Description: r.Description,
				Language:    r.Language,
				Fork:        r.Fork,
				Stars:       r.Stars,
				Forks:       r.Forks,
				PushedAt:    r.PushedAt,
			})
		}
		if len(*repos) < perPage {
			break
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	c.logger.Debug("listed repositories", "username", username, "count", len(out))
	return out, nil
}

// HasAuthoredCommits reports whether username authored at least one commit in repo
func (c *Client) HasAuthoredCommits(ctx context.Context, repo domain.Repository, username string) (bool, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?author=%s&per_page=1",
		c.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.QueryEscape(username))

	commits, status, err := doRequest[[]commitResponse](ctx, c, endpoint)
	if err != nil {
		// Empty repositories answer 409
		if status == fasthttp.StatusConflict || status == fasthttp.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return len(*commits) > 0, nil
}

func doRequest[T any](ctx context.Context, client *Client, endpoint string) (*T, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if client.token != "" {
		req.Header.Set("Authorization", "Bearer "+client.token)
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, domain.Upstream(serviceName, err)
	}
	deadline, ok := ctx.Deadline()
	if !ok && client.timeout > 0 {
		deadline, ok = time.Now().Add(client.timeout), true
	}
	var err error
	if ok {
		err = client.client.DoDeadline(req, resp, deadline)
	} else {
		err = client.client.Do(req, resp)
	}
	if err != nil {
		return nil, 0, domain.Upstream(serviceName, err)
	}

	client.updateRateLimit(resp)

	status := resp.StatusCode()
	if status != fasthttp.StatusOK {
		apiErr := fmt.Errorf("API error: %d", status)
		if status == fasthttp.StatusTooManyRequests ||
			(status == fasthttp.StatusForbidden && string(resp.Header.Peek("X-RateLimit-Remaining")) == "0") {
			client.logger.Warn("github rate limit exceeded", "reset", client.GetRateLimitInfo().Reset)
			return nil, status, domain.RateLimited(serviceName, apiErr)
		}
		return nil, status, domain.Upstream(serviceName, apiErr)
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, status, domain.Upstream(serviceName, fmt.Errorf("decoding response: %w", err))
	}
	return &result, status, nil
}
