package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abrezinsky/eventxp/internal/actions"
	"github.com/abrezinsky/eventxp/internal/models"
)

const defaultLeaderboardLimit = 20

// maxReplayBatch bounds how many queued actions one request may carry
const maxReplayBatch = 100

func (h *Handlers) handleAwardXP(w http.ResponseWriter, r *http.Request) {
	result, err := h.Rewards.AwardXP(r.Context(), actor(r), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, result)
}

func (h *Handlers) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.Rewards.Ledger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, ledger)
}

func (h *Handlers) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntQuery(r, "limit", defaultLeaderboardLimit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	ledgers, err := h.Rewards.Leaderboard(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if ledgers == nil {
		ledgers = []models.Ledger{}
	}
	respondOK(w, LeaderboardResponse{Ledgers: ledgers})
}

// ==================== Offline Replay ====================

func (h *Handlers) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if len(req.Actions) == 0 {
		h.respondError(w, r, BadRequest("actions must not be empty"))
		return
	}
	if len(req.Actions) > maxReplayBatch {
		h.respondError(w, r, BadRequest("too many actions in one replay"))
		return
	}

	results := h.Replayer.Replay(r.Context(), actor(r), req.Actions)
	resp := ReplayResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []actions.Result{}
	}
	for _, res := range results {
		if res.OK {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	respondOK(w, resp)
}
