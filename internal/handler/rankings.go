package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/devbattle/internal/domain"
	"github.com/go-chi/chi/v5"
)

const (
	defaultRankingLimit = 50
	maxRankingLimit     = 100
)

// UserRanking is a user's standing plus their board position when known
type UserRanking struct {
	*domain.Ranking
	Rank int64 `json:"rank,omitempty"`
}

// GetTopRankings returns the top of the board. The Redis board answers
// first; PostgreSQL is used when it is empty or unreachable.
func (h *Handler) GetTopRankings(w http.ResponseWriter, r *http.Request) {
	limit := defaultRankingLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, maxRankingLimit)
		}
	}

	if h.deps.Board != nil {
		entries, err := h.deps.Board.GetTopN(r.Context(), limit)
		if err == nil && len(entries) > 0 {
			h.writeSuccess(w, http.StatusOK, entries)
			return
		}
		if err != nil {
			h.logger.Warn("ranking board unavailable, reading database", "error", err)
		}
	}

	entries, err := h.deps.Rankings.TopRankings(r.Context(), limit, 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.RankingEntry{}
	}

	h.writeSuccess(w, http.StatusOK, entries)
}

// GetUserRanking returns one user's ranking
func (h *Handler) GetUserRanking(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	ranking, err := h.deps.Rankings.GetRanking(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := UserRanking{Ranking: ranking}
	if h.deps.Board != nil {
		entry, err := h.deps.Board.GetUserRank(r.Context(), userID)
		switch {
		case err == nil:
			resp.Rank = entry.Rank
		case !errors.Is(err, domain.ErrRankingNotFound):
			h.logger.Warn("failed to read board rank", "user_id", userID, "error", err)
		}
	}

	h.writeSuccess(w, http.StatusOK, resp)
}

// GetProfile returns the current cached profile of a developer
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	entry, err := h.deps.Profiles.GetProfile(r.Context(), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, entry)
}
