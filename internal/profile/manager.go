package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store is the durable, versioned profile cache
type Store interface {
	LatestProfile(ctx context.Context, username string) (*domain.ProfileCacheEntry, error)
	AppendProfileVersion(ctx context.Context, username string, profile json.RawMessage, at time.Time) (*domain.ProfileCacheEntry, error)
}

// HotCache holds the latest version of each profile with a TTL
type HotCache interface {
	GetProfile(ctx context.Context, username string) (*domain.ProfileCacheEntry, error)
	SetProfile(ctx context.Context, entry *domain.ProfileCacheEntry, ttl time.Duration) error
	DeleteProfile(ctx context.Context, username string) error
}

// RepoSource lists a developer's repositories
type RepoSource interface {
	ListRepositories(ctx context.Context, username string) ([]domain.Repository, error)
	HasAuthoredCommits(ctx context.Context, repo domain.Repository, username string) (bool, error)
}

// Generator turns selected repositories into a scored profile
type Generator interface {
	GenerateProfile(ctx context.Context, username string, repos []domain.Repository) (*domain.Profile, domain.Usage, error)
}

// UsageRecorder appends to the token usage ledger
type UsageRecorder interface {
	RecordUsage(ctx context.Context, record domain.TokenUsageRecord) error
}

// ProgressFunc receives repository-check progress during regeneration
type ProgressFunc func(done, total int)

// Manager resolves scored developer profiles, regenerating stale ones
type Manager struct {
	store     Store
	hot       HotCache
	repos     RepoSource
	generator Generator
	usage     UsageRecorder
	logger    *slog.Logger

	maxAge      time.Duration
	topRepos    int
	forkWorkers int
	now         func() time.Time
}

// NewManager creates a profile manager. hot may be nil.
func NewManager(
	cfg *config.ProfileConfig,
	store Store,
	hot HotCache,
	repos RepoSource,
	generator Generator,
	usage UsageRecorder,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:       store,
		hot:         hot,
		repos:       repos,
		generator:   generator,
		usage:       usage,
		logger:      logger,
		maxAge:      cfg.MaxAge,
		topRepos:    cfg.TopRepos,
		forkWorkers: cfg.ForkCheckWorkers,
		now:         time.Now,
	}
}

// GetProfile returns the latest cached profile entry without regenerating it
func (m *Manager) GetProfile(ctx context.Context, username string) (*domain.ProfileCacheEntry, error) {
	username = domain.NormalizeUsername(username)
	if username == "" {
		return nil, domain.Validation("username", "must not be empty")
	}

	if m.hot != nil {
		if entry, err := m.hot.GetProfile(ctx, username); err == nil {
			return entry, nil
		}
	}

	entry, err := m.store.LatestProfile(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return nil, domain.NotFound("profile for "+username, err)
		}
		return nil, domain.Persistence("profile lookup", err)
	}
	return entry, nil
}

// GetOrGenerateProfile returns a fresh profile for username, regenerating it
// when no version exists or the latest is older than the staleness window.
// Generation tokens are billed to userID.
func (m *Manager) GetOrGenerateProfile(ctx context.Context, userID, username string, progress ProgressFunc) (*domain.Profile, error) {
	username = domain.NormalizeUsername(username)
	if username == "" {
		return nil, domain.Validation("username", "must not be empty")
	}

	if entry := m.freshEntry(ctx, username); entry != nil {
		profile, err := entry.Decode()
		if err == nil {
			m.logger.Debug("profile cache hit", "username", username, "version", entry.Version)
			return profile, nil
		}
		m.logger.Warn("cached profile undecodable, regenerating", "username", username, "version", entry.Version, "error", err)
		m.dropHot(ctx, username)
	}

	return m.regenerate(ctx, userID, username, progress)
}

// freshEntry returns the newest non-stale entry from the hot cache or the store
func (m *Manager) freshEntry(ctx context.Context, username string) *domain.ProfileCacheEntry {
	now := m.now()

	if m.hot != nil {
		entry, err := m.hot.GetProfile(ctx, username)
		if err == nil && !entry.Stale(now, m.maxAge) {
			return entry
		}
		if err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
			m.logger.Warn("profile hot cache read failed", "username", username, "error", err)
		}
	}

	entry, err := m.store.LatestProfile(ctx, username)
	if err != nil {
		if !errors.Is(err, domain.ErrProfileNotFound) {
			m.logger.Warn("profile store read failed, regenerating", "username", username, "error", err)
		}
		return nil
	}
	if entry.Stale(now, m.maxAge) {
		return nil
	}
	m.refreshHot(ctx, entry)
	return entry
}

func (m *Manager) regenerate(ctx context.Context, userID, username string, progress ProgressFunc) (*domain.Profile, error) {
	m.logger.Info("generating profile", "username", username)

	repos, err := m.repos.ListRepositories(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, domain.NotFound("repositories for "+username, nil)
	}

	selected, err := m.selectRepositories(ctx, username, repos, progress)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, domain.NotFound("repositories with contributions by "+username, nil)
	}

	profile, usage, err := m.generator.GenerateProfile(ctx, username, selected)
	if err != nil {
		return nil, err
	}
	profile.Username = username

	data, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("marshaling profile: %w", err)
	}

	now := m.now()
	entry, err := m.store.AppendProfileVersion(ctx, username, data, now)
	if err != nil {
		return nil, domain.Persistence("profile write", err)
	}
	m.logger.Info("profile generated", "username", username, "version", entry.Version, "repos", len(selected))

	if m.usage != nil {
		err := m.usage.RecordUsage(ctx, domain.TokenUsageRecord{
			ID:        uuid.New().String(),
			UserID:    userID,
			Feature:   domain.FeatureProfileGeneration,
			Usage:     usage,
			CreatedAt: now,
		})
		if err != nil {
			m.logger.Error("failed to record profile usage", "username", username, "error", err)
		}
	}
	m.refreshHot(ctx, entry)

	return profile, nil
}

// selectRepositories keeps non-forks and forks the user has committed to,
// then returns the most starred topRepos of them.
func (m *Manager) selectRepositories(ctx context.Context, username string, repos []domain.Repository, progress ProgressFunc) ([]domain.Repository, error) {
	var (
		mu       sync.Mutex
		selected = make([]domain.Repository, 0, len(repos))
		done     int
	)
	total := len(repos)
	report := func() {
		done++
		if progress != nil {
			progress(done, total)
		}
	}

	var forks []domain.Repository
	for _, repo := range repos {
		if repo.Fork {
			forks = append(forks, repo)
			continue
		}
		selected = append(selected, repo)
		report()
	}

	g, gctx := errgroup.WithContext(ctx)
	if m.forkWorkers > 0 {
		g.SetLimit(m.forkWorkers)
	}
	for _, fork := range forks {
		fork := fork
		g.Go(func() error {
			contributed, err := m.repos.HasAuthoredCommits(gctx, fork, username)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if contributed {
				selected = append(selected, fork)
			}
			report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Stars != selected[j].Stars {
			return selected[i].Stars > selected[j].Stars
		}
		return selected[i].Name < selected[j].Name
	})
	if m.topRepos > 0 && len(selected) > m.topRepos {
		selected = selected[:m.topRepos]
	}
	return selected, nil
}

func (m *Manager) refreshHot(ctx context.Context, entry *domain.ProfileCacheEntry) {
	if m.hot == nil {
		return
	}
	ttl := m.maxAge - m.now().Sub(entry.UpdatedAt)
	if ttl <= 0 {
		return
	}
	if err := m.hot.SetProfile(ctx, entry, ttl); err != nil {
		m.logger.Warn("failed to refresh profile hot cache", "username", entry.Username, "error", err)
	}
}

func (m *Manager) dropHot(ctx context.Context, username string) {
	if m.hot == nil {
		return
	}
	if err := m.hot.DeleteProfile(ctx, username); err != nil {
		m.logger.Warn("failed to drop profile hot copy", "username", username, "error", err)
	}
}
