package battle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devbattle/internal/ai"
	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
	"github.com/devbattle/internal/elo"
	"github.com/devbattle/internal/profile"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// failWriteTimeout bounds the failure write, which runs on a fresh context
const failWriteTimeout = 10 * time.Second

// Store is the battle and ranking persistence the pipeline needs
type Store interface {
	GetBattle(ctx context.Context, battleID string) (*domain.Battle, error)
	MarkInProgress(ctx context.Context, battleID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, battleID string, at time.Time) (bool, error)
	GetOrCreateRanking(ctx context.Context, userID, username string, initialRating int, tier domain.Tier) (*domain.Ranking, error)
	CompleteBattle(ctx context.Context, battle *domain.Battle, settle domain.SettleFunc) (*domain.BattleResult, error)
}

// ProfileProvider resolves a scored profile for a participant
type ProfileProvider interface {
	GetOrGenerateProfile(ctx context.Context, userID, username string, progress profile.ProgressFunc) (*domain.Profile, error)
}

// Evaluator compares two profiles
type Evaluator interface {
	Evaluate(ctx context.Context, req ai.EvaluationRequest) (*domain.Evaluation, domain.Usage, error)
}

// UsageRecorder appends to the token usage ledger
type UsageRecorder interface {
	RecordUsage(ctx context.Context, record domain.TokenUsageRecord) error
}

// Notifier accepts result notifications for asynchronous delivery
type Notifier interface {
	Enqueue(ctx context.Context, notification domain.BattleNotification) error
}

// RankingBoard mirrors ratings for fast leaderboard reads
type RankingBoard interface {
	SetRatings(ctx context.Context, entries []domain.RankingEntry) error
}

// Dependencies groups the orchestrator's collaborators. Usage, Notifier,
// Board and Publisher are optional.
type Dependencies struct {
	Store     Store
	Profiles  ProfileProvider
	Evaluator Evaluator
	Usage     UsageRecorder
	Notifier  Notifier
	Board     RankingBoard
	Publisher ProgressPublisher
}

// Orchestrator drives battles from pending to a terminal state
type Orchestrator struct {
	deps   Dependencies
	calc   *elo.Calculator
	slots  *semaphore.Weighted
	logger *slog.Logger
	closed atomic.Bool

	maxConcurrent int
	initialRating int
	timeout       time.Duration
	streamBuffer  int
	now           func() time.Time
}

// NewOrchestrator creates a battle orchestrator
func NewOrchestrator(cfg *config.BattleConfig, deps Dependencies, logger *slog.Logger) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	initialRating := cfg.InitialRating
	if initialRating <= 0 {
		initialRating = elo.DefaultInitialRating
	}
	return &Orchestrator{
		deps:          deps,
		calc:          elo.NewCalculator(cfg.KFactor),
		slots:         semaphore.NewWeighted(int64(maxConcurrent)),
		logger:        logger,
		maxConcurrent: maxConcurrent,
		initialRating: initialRating,
		timeout:       cfg.Timeout,
		streamBuffer:  cfg.StreamBuffer,
		now:           time.Now,
	}
}

// Start validates and claims a pending battle, then runs it in the background.
// Authorization, state and capacity failures are returned before any mutation.
// The returned channel ends with exactly one complete or error event. The run
// is detached from ctx: a caller that stops reading does not stop the battle.
func (o *Orchestrator) Start(ctx context.Context, battleID, callerID string) (<-chan domain.ProgressEvent, error) {
	battle, err := o.deps.Store.GetBattle(ctx, battleID)
	if err != nil {
		if errors.Is(err, domain.ErrBattleNotFound) {
			return nil, domain.NotFound("battle "+battleID, err)
		}
		return nil, domain.Persistence("battle lookup", err)
	}
	if battle.ChallengerID != callerID {
		return nil, domain.Unauthorized(callerID, battleID)
	}
	if battle.Status != domain.BattleStatusPending {
		return nil, domain.Conflict(battleID, battle.Status)
	}

	if o.closed.Load() {
		return nil, domain.NewError(domain.CodeCapacity, "battle engine is shutting down", nil)
	}
	if !o.slots.TryAcquire(1) {
		o.logger.Warn("battle rejected, capacity reached", "battle_id", battleID, "limit", o.maxConcurrent)
		return nil, domain.Capacity(o.maxConcurrent)
	}

	startedAt := o.now()
	claimed, err := o.deps.Store.MarkInProgress(ctx, battleID, startedAt)
	if err != nil {
		o.slots.Release(1)
		return nil, domain.Persistence("battle start", err)
	}
	if !claimed {
		o.slots.Release(1)
		return nil, domain.Conflict(battleID, domain.BattleStatusInProgress)
	}
	battle.Status = domain.BattleStatusInProgress
	battle.StartedAt = &startedAt

	s := newStream(battleID, o.streamBuffer, o.deps.Publisher, o.logger, o.now)
	s.emit(domain.ProgressInit, domain.ProgressPctInit, "Battle started", nil)

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.slots.Release(1)
		o.run(runCtx, battle, s)
	}()

	return s.events(), nil
}

// Shutdown stops admitting battles and waits for running ones to settle.
// It returns the context error if battles are still running when ctx ends.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closed.Store(true)
	if err := o.slots.Acquire(ctx, int64(o.maxConcurrent)); err != nil {
		return fmt.Errorf("waiting for running battles: %w", err)
	}
	o.logger.Info("battle orchestrator drained")
	return nil
}

// Execute starts the battle and waits for its terminal event
func (o *Orchestrator) Execute(ctx context.Context, battleID, callerID string) (*domain.BattleOutcome, error) {
	events, err := o.Start(ctx, battleID, callerID)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil, domain.NewError(domain.CodeInternal, "progress stream closed without a result", nil)
			}
			switch event.Status {
			case domain.ProgressComplete:
				return event.Result, nil
			case domain.ProgressError:
				return nil, domain.NewError(event.Code, event.Error, nil)
			}
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, battle *domain.Battle, s *stream) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	logger := o.logger.With("battle_id", battle.ID)
	start := o.now()

	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, battle, s, domain.NewError(domain.CodeInternal, "unexpected failure", fmt.Errorf("panic: %v", r)))
		}
	}()

	outcome, err := o.pipeline(ctx, battle, s, logger)
	if err != nil {
		o.fail(ctx, battle, s, err)
		return
	}

	logger.Info("battle completed",
		"winner_id", outcome.WinnerID,
		"challenger_change", outcome.EloChange.Challenger.Change,
		"duration", o.now().Sub(start),
	)
	s.complete(outcome)
}

func (o *Orchestrator) pipeline(ctx context.Context, battle *domain.Battle, s *stream, logger *slog.Logger) (*domain.BattleOutcome, error) {
	challengerProfile, opponentProfile, err := o.resolveProfiles(ctx, battle, s)
	if err != nil {
		return nil, err
	}
	s.emit(domain.ProgressProfiles, domain.ProgressPctProfilesEnd, "Profiles ready", nil)

	s.emit(domain.ProgressEvaluating, domain.ProgressPctEvaluating, "Comparing developers", map[string]interface{}{
		"criteria": battle.Criteria,
	})
	evaluation, usage, err := o.deps.Evaluator.Evaluate(ctx, ai.EvaluationRequest{
		ChallengerUsername: battle.ChallengerUsername,
		OpponentUsername:   battle.OpponentUsername,
		Challenger:         challengerProfile,
		Opponent:           opponentProfile,
		Criteria:           battle.Criteria,
	})
	if err != nil {
		return nil, err
	}
	o.recordUsage(ctx, battle.ChallengerID, usage, logger)
	s.emit(domain.ProgressEvaluating, domain.ProgressPctEvaluated, "Evaluation complete", map[string]interface{}{
		"winner": evaluation.Winner,
	})

	s.emit(domain.ProgressRating, domain.ProgressPctRating, "Calculating ratings", nil)
	initialTier := elo.DetermineTier(o.initialRating)
	challengerRanking, err := o.deps.Store.GetOrCreateRanking(ctx, battle.ChallengerID, battle.ChallengerUsername, o.initialRating, initialTier)
	if err != nil {
		return nil, domain.Persistence("ranking lookup", err)
	}
	opponentRanking, err := o.deps.Store.GetOrCreateRanking(ctx, battle.OpponentID, battle.OpponentUsername, o.initialRating, initialTier)
	if err != nil {
		return nil, domain.Persistence("ranking lookup", err)
	}
	challengerWon := evaluation.Winner == domain.WinnerChallenger
	preview := o.calc.Compute(challengerRanking.EloRating, opponentRanking.EloRating, challengerWon)
	s.emit(domain.ProgressRating, domain.ProgressPctRated, "Ratings calculated", map[string]interface{}{
		"challenger_change": preview.Change,
		"opponent_change":   -preview.Change,
	})

	// Settlement recomputes against the locked rows, so concurrent battles
	// involving the same developer serialize on their ranking.
	var settled [2]domain.Ranking
	result, err := o.deps.Store.CompleteBattle(ctx, battle, func(challenger, opponent *domain.Ranking) (*domain.BattleResult, error) {
		delta := o.calc.Compute(challenger.EloRating, opponent.EloRating, challengerWon)
		completedAt := o.now()
		challenger.Username = battle.ChallengerUsername
		opponent.Username = battle.OpponentUsername
		challenger.ApplyResult(challengerWon, delta.ChallengerAfter, elo.DetermineTier(delta.ChallengerAfter), completedAt)
		opponent.ApplyResult(!challengerWon, delta.OpponentAfter, elo.DetermineTier(delta.OpponentAfter), completedAt)
		settled = [2]domain.Ranking{*challenger, *opponent}

		winnerID := opponent.UserID
		if challengerWon {
			winnerID = challenger.UserID
		}
		return &domain.BattleResult{
			Evaluation:  *evaluation,
			EloChange:   delta.EloChange(),
			WinnerID:    winnerID,
			CompletedAt: completedAt,
		}, nil
	})
	if err != nil {
		return nil, domain.Persistence("battle settlement", err)
	}
	s.emit(domain.ProgressPersisting, domain.ProgressPctPersisted, "Results saved", nil)

	o.mirrorRatings(ctx, settled, logger)

	s.emit(domain.ProgressNotifying, domain.ProgressPctPersisted, "Sending notifications", nil)
	o.notify(ctx, battle, result, settled, logger)

	return &domain.BattleOutcome{
		BattleID:        battle.ID,
		Winner:          evaluation.Winner,
		WinnerID:        result.WinnerID,
		ChallengerScore: evaluation.ChallengerScore,
		OpponentScore:   evaluation.OpponentScore,
		EloChange:       result.EloChange,
		Reason:          evaluation.Reason,
		Highlights:      evaluation.Highlights,
		Recommendations: evaluation.Recommendations,
	}, nil
}

// resolveProfiles fetches both profiles concurrently, reporting combined
// repository progress across the profile milestone range.
func (o *Orchestrator) resolveProfiles(ctx context.Context, battle *domain.Battle, s *stream) (*domain.Profile, *domain.Profile, error) {
	s.emit(domain.ProgressProfiles, domain.ProgressPctProfilesStart, "Analyzing developer profiles", nil)

	var (
		mu        sync.Mutex
		fractions [2]float64
	)
	tracker := func(side int) profile.ProgressFunc {
		return func(done, total int) {
			if total <= 0 {
				return
			}
			mu.Lock()
			fractions[side] = float64(done) / float64(total)
			overall := (fractions[0] + fractions[1]) / 2
			mu.Unlock()

			span := domain.ProgressPctProfilesEnd - domain.ProgressPctProfilesStart
			s.emit(domain.ProgressProfiles, domain.ProgressPctProfilesStart+int(overall*float64(span)),
				"Analyzing repositories", map[string]interface{}{"done": done, "total": total})
		}
	}

	var challenger, opponent *domain.Profile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.deps.Profiles.GetOrGenerateProfile(gctx, battle.ChallengerID, battle.ChallengerUsername, tracker(0))
		if err != nil {
			return err
		}
		challenger = p
		return nil
	})
	g.Go(func() error {
		p, err := o.deps.Profiles.GetOrGenerateProfile(gctx, battle.OpponentID, battle.OpponentUsername, tracker(1))
		if err != nil {
			return err
		}
		opponent = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return challenger, opponent, nil
}

func (o *Orchestrator) recordUsage(ctx context.Context, userID string, usage domain.Usage, logger *slog.Logger) {
	if o.deps.Usage == nil {
		return
	}
	err := o.deps.Usage.RecordUsage(ctx, domain.TokenUsageRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Feature:   domain.FeatureBattleEvaluation,
		Usage:     usage,
		CreatedAt: o.now(),
	})
	if err != nil {
		logger.Error("failed to record evaluation usage", "error", err)
	}
}

func (o *Orchestrator) mirrorRatings(ctx context.Context, settled [2]domain.Ranking, logger *slog.Logger) {
	if o.deps.Board == nil {
		return
	}
	entries := []domain.RankingEntry{settled[0].Entry(), settled[1].Entry()}
	if err := o.deps.Board.SetRatings(ctx, entries); err != nil {
		logger.Warn("failed to mirror ratings to board", "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, battle *domain.Battle, result *domain.BattleResult, settled [2]domain.Ranking, logger *slog.Logger) {
	if o.deps.Notifier == nil {
		return
	}

	ev := result.Evaluation
	notifications := []domain.BattleNotification{
		{
			BattleID:      battle.ID,
			UserID:        battle.ChallengerID,
			Username:      battle.ChallengerUsername,
			OpponentName:  battle.OpponentUsername,
			Won:           result.WinnerID == battle.ChallengerID,
			Score:         ev.ChallengerScore,
			OpponentScore: ev.OpponentScore,
			RatingChange:  result.EloChange.Challenger,
			Tier:          settled[0].Tier,
			Reason:        ev.Reason,
			CompletedAt:   result.CompletedAt,
		},
		{
			BattleID:      battle.ID,
			UserID:        battle.OpponentID,
			Username:      battle.OpponentUsername,
			OpponentName:  battle.ChallengerUsername,
			Won:           result.WinnerID == battle.OpponentID,
			Score:         ev.OpponentScore,
			OpponentScore: ev.ChallengerScore,
			RatingChange:  result.EloChange.Opponent,
			Tier:          settled[1].Tier,
			Reason:        ev.Reason,
			CompletedAt:   result.CompletedAt,
		},
	}
	for _, n := range notifications {
		if err := o.deps.Notifier.Enqueue(ctx, n); err != nil {
			logger.Warn("failed to enqueue notification", "user_id", n.UserID, "error", err)
		}
	}
}

// fail marks the battle failed and emits the terminal error event
func (o *Orchestrator) fail(runCtx context.Context, battle *domain.Battle, s *stream, err error) {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = domain.NewError(domain.CodeTimeout, fmt.Sprintf("battle exceeded its %s budget", o.timeout), err)
	}
	code := domain.CodeOf(err)

	ctx, cancel := context.WithTimeout(context.Background(), failWriteTimeout)
	defer cancel()
	marked, markErr := o.deps.Store.MarkFailed(ctx, battle.ID, o.now())
	switch {
	case markErr != nil:
		o.logger.Error("failed to mark battle failed", "battle_id", battle.ID, "error", markErr)
	case !marked:
		o.logger.Warn("battle already left in_progress", "battle_id", battle.ID)
	}

	o.logger.Error("battle failed", "battle_id", battle.ID, "code", code, "error", err)
	s.fail(userMessage(err), code)
}

func userMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "battle failed"
}
