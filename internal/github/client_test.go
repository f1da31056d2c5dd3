package github

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
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

	client := NewClient(&config.GitHubConfig{
		BaseURL:  "http://github.test",
		Token:    "secret",
		Timeout:  2 * time.Second,
		MaxRepos: 100,
	}, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	client.client.Dial = func(addr string) (net.Conn, error) {
		return ln.Dial()
	}
	return client
}

func TestListRepositories(t *testing.T) {
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/users/alice/repos", string(ctx.Path()))
		assert.Equal(t, "Bearer secret", string(ctx.Request.Header.Peek("Authorization")))
		ctx.Response.Header.Set("X-RateLimit-Remaining", "4999")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`[
			{"name":"engine","owner":{"login":"alice"},"language":"Go","fork":false,"stargazers_count":42,"forks_count":3,"pushed_at":"2026-01-02T03:04:05Z"},
			{"name":"linux","owner":{"login":"alice"},"fork":true,"stargazers_count":1}
		]`)
	})

	repos, err := client.ListRepositories(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "engine", repos[0].Name)
	assert.Equal(t, "alice", repos[0].Owner)
	assert.Equal(t, 42, repos[0].Stars)
	assert.False(t, repos[0].Fork)
	assert.True(t, repos[1].Fork)
	assert.Equal(t, 4999, client.GetRateLimitInfo().Remaining)
}

func TestListRepositories_UserNotFound(t *testing.T) {
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})

	_, err := client.ListRepositories(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestListRepositories_FollowsPages(t *testing.T) {
	var pages []string
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		page := string(ctx.QueryArgs().Peek("page"))
		pages = append(pages, page)
		assert.Equal(t, "100", string(ctx.QueryArgs().Peek("per_page")))

		ctx.SetStatusCode(fasthttp.StatusOK)
		switch page {
		case "1":
			items := make([]string, 100)
			for i := range items {
				items[i] = fmt.Sprintf(`{"name":"recent-%d","owner":{"login":"alice"},"stargazers_count":1}`, i)
			}
			ctx.SetBodyString("[" + strings.Join(items, ",") + "]")
		case "2":
			ctx.SetBodyString(`[{"name":"classic","owner":{"login":"alice"},"stargazers_count":9000}]`)
		default:
			ctx.SetBodyString(`[]`)
		}
	})
	client.maxRepos = 250

	repos, err := client.ListRepositories(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, repos, 101)
	assert.Equal(t, "classic", repos[100].Name)
	assert.Equal(t, 9000, repos[100].Stars)
	assert.Equal(t, []string{"1", "2"}, pages)
}

func TestListRepositories_StopsAtCap(t *testing.T) {
	requests := 0
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		requests++
		items := make([]string, 100)
		for i := range items {
			items[i] = fmt.Sprintf(`{"name":"repo-%d","owner":{"login":"alice"}}`, i)
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("[" + strings.Join(items, ",") + "]")
	})
	client.maxRepos = 150

	repos, err := client.ListRepositories(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, repos, 150)
	assert.Equal(t, 2, requests)
}

func TestRateLimitMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		remaining string
		wantCode  string
	}{
		{"too many requests", fasthttp.StatusTooManyRequests, "", domain.CodeRateLimited},
		{"forbidden with exhausted quota", fasthttp.StatusForbidden, "0", domain.CodeRateLimited},
		{"forbidden otherwise", fasthttp.StatusForbidden, "12", domain.CodeUpstream},
		{"server error", fasthttp.StatusBadGateway, "", domain.CodeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
				if tt.remaining != "" {
					ctx.Response.Header.Set("X-RateLimit-Remaining", tt.remaining)
				}
				ctx.SetStatusCode(tt.status)
			})

			_, err := client.ListRepositories(context.Background(), "alice")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.CodeOf(err))
		})
	}
}

func TestHasAuthoredCommits(t *testing.T) {
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		switch {
		case strings.HasSuffix(path, "/contributed/commits"):
			assert.Equal(t, "alice", string(ctx.QueryArgs().Peek("author")))
			ctx.SetBodyString(`[{"sha":"abc123"}]`)
		case strings.HasSuffix(path, "/untouched/commits"):
			ctx.SetBodyString(`[]`)
		case strings.HasSuffix(path, "/empty/commits"):
			ctx.SetStatusCode(fasthttp.StatusConflict)
		}
	})

	ctx := context.Background()
	ok, err := client.HasAuthoredCommits(ctx, domain.Repository{Owner: "alice", Name: "contributed"}, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.HasAuthoredCommits(ctx, domain.Repository{Owner: "alice", Name: "untouched"}, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = client.HasAuthoredCommits(ctx, domain.Repository{Owner: "alice", Name: "empty"}, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelledContext(t *testing.T) {
	client := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`[]`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ListRepositories(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, domain.CodeUpstream, domain.CodeOf(err))
}
