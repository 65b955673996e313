package handlers

import (
	"net/http"
)

func (h *Handlers) handleJoinTeam(w http.ResponseWriter, r *http.Request) {
	var req TeamNameRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Teams.Join(r.Context(), actor(r), eventID(r), req.TeamName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleLeaveTeam(w http.ResponseWriter, r *http.Request) {
	out, err := h.Teams.Leave(r.Context(), actor(r), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleAddTeam(w http.ResponseWriter, r *http.Request) {
	var req TeamNameRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Teams.AddTeam(r.Context(), actor(r), eventID(r), req.TeamName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondCreated(w, out)
}

func (h *Handlers) handleReplaceTeams(w http.ResponseWriter, r *http.Request) {
	var req ReplaceTeamsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Teams.ReplaceTeams(r.Context(), actor(r), eventID(r), req.Teams)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleAutoGenerateTeams(w http.ResponseWriter, r *http.Request) {
	var req AutoGenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Teams.AutoGenerate(r.Context(), actor(r), eventID(r), req.Roster)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}
