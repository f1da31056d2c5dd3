package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/devbattle/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// callerHeader carries the authenticated user id set by the upstream gateway
const callerHeader = "X-User-ID"

// CreateBattle opens a pending battle
func (h *Handler) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Validation("body", "malformed JSON"))
		return
	}

	battle, err := req.ToBattle(uuid.New().String(), h.now().UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.deps.Battles.CreateBattle(r.Context(), battle); err != nil {
		h.writeError(w, r, domain.Persistence("battle create", err))
		return
	}

	h.logger.Info("battle created",
		"battle_id", battle.ID,
		"challenger", battle.ChallengerUsername,
		"opponent", battle.OpponentUsername,
	)
	h.writeSuccess(w, http.StatusCreated, battle)
}

// GetBattle returns a battle with its outcome when finished
func (h *Handler) GetBattle(w http.ResponseWriter, r *http.Request) {
	battleID := chi.URLParam(r, "battleID")

	battle, err := h.deps.Battles.GetBattle(r.Context(), battleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, battle)
}

// ExecuteBattle runs a pending battle and streams its progress as
// server-sent events. A client that disconnects stops receiving events but
// the battle keeps running.
func (h *Handler) ExecuteBattle(w http.ResponseWriter, r *http.Request) {
	battleID := chi.URLParam(r, "battleID")
	callerID := strings.TrimSpace(r.Header.Get(callerHeader))
	if callerID == "" {
		h.writeError(w, r, domain.Validation(callerHeader, "header is required"))
		return
	}

	events, err := h.deps.Runner.Start(r.Context(), battleID, callerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// Battles can outlive the server's write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("write deadline not adjustable", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("progress client disconnected", "battle_id", battleID)
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				h.logger.Info("progress write failed", "battle_id", battleID, "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				h.logger.Debug("flush failed", "battle_id", battleID, "error", err)
			}
			if event.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event domain.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName(event), data)
	return err
}

func eventName(event domain.ProgressEvent) string {
	switch event.Status {
	case domain.ProgressComplete:
		return "complete"
	case domain.ProgressError:
		return "error"
	default:
		return "progress"
	}
}
