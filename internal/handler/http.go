package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/devbattle/internal/domain"
	"github.com/devbattle/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// BattleStore creates and reads battle records
type BattleStore interface {
	CreateBattle(ctx context.Context, battle *domain.Battle) error
	GetBattle(ctx context.Context, battleID string) (*domain.Battle, error)
}

// BattleRunner starts a pending battle and streams its progress
type BattleRunner interface {
	Start(ctx context.Context, battleID, callerID string) (<-chan domain.ProgressEvent, error)
}

// RankingStore reads persisted rankings
type RankingStore interface {
	GetRanking(ctx context.Context, userID string) (*domain.Ranking, error)
	TopRankings(ctx context.Context, limit, offset int) ([]domain.RankingEntry, error)
}

// RankingBoard reads the cached ranking board
type RankingBoard interface {
	GetTopN(ctx context.Context, n int) ([]domain.RankingEntry, error)
	GetUserRank(ctx context.Context, userID string) (*domain.RankingEntry, error)
	Count(ctx context.Context) (int64, error)
}

// ProfileReader returns the current cached profile without regenerating it
type ProfileReader interface {
	GetProfile(ctx context.Context, username string) (*domain.ProfileCacheEntry, error)
}

// ReadinessCheck reports whether a backing service is reachable
type ReadinessCheck func(ctx context.Context) error

// Dependencies groups the collaborators behind the HTTP surface
type Dependencies struct {
	Battles  BattleStore
	Runner   BattleRunner
	Rankings RankingStore
	Board    RankingBoard
	Profiles ProfileReader
	Hub      *websocket.Hub
	Checks   map[string]ReadinessCheck
}

// Handler provides HTTP handlers for the battle API
type Handler struct {
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies, logger *slog.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/battles", func(r chi.Router) {
			r.Post("/", h.CreateBattle)
			r.Get("/{battleID}", h.GetBattle)
			r.Post("/{battleID}/execute", h.ExecuteBattle)
		})

		r.Route("/rankings", func(r chi.Router) {
			r.With(middleware.Compress(5)).Get("/", h.GetTopRankings)
			r.Get("/{userID}", h.GetUserRanking)
		})

		r.Get("/profiles/{username}", h.GetProfile)

		r.Get("/stats", h.GetStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a classified error onto a status code. Internal failures
// are logged and masked.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)

	message := err.Error()
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		message = domain.ErrInternalError.Error()
	}

	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

func statusFor(code string) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeCapacity, domain.CodeRateLimited:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.deps.Hub, h.logger, w, r)
}

// GetStats returns live connection and board statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	if h.deps.Hub != nil {
		stats["total_connections"] = h.deps.Hub.GetTotalConnections()
	}
	if h.deps.Board != nil {
		count, err := h.deps.Board.Count(r.Context())
		if err != nil {
			h.logger.Warn("failed to count ranking board", "error", err)
		} else {
			stats["ranked_users"] = count
		}
	}
	h.writeSuccess(w, http.StatusOK, stats)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck pings every backing service
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.deps.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    failed,
			Error:   "not ready",
		})
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}
