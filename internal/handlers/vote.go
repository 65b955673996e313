package handlers

import (
	"net/http"
)

// ==================== Participation ====================

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	out, err := h.Voting.RegisterParticipant(r.Context(), actor(r), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleUnregister(w http.ResponseWriter, r *http.Request) {
	out, err := h.Voting.UnregisterParticipant(r.Context(), actor(r), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleRecordSubmission(w http.ResponseWriter, r *http.Request) {
	var req SubmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Voting.RecordSubmission(r.Context(), actor(r), eventID(r), req.Link)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

// ==================== Voting ====================

func (h *Handlers) handleSetVotingOpen(w http.ResponseWriter, r *http.Request) {
	var req VotingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Voting.SetVotingOpen(r.Context(), actor(r), eventID(r), req.Open)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleTeamBallot(w http.ResponseWriter, r *http.Request) {
	var req TeamBallotRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Voting.SubmitTeamBallot(r.Context(), actor(r), eventID(r), req.Votes, req.BestPerformer)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleIndividualBallot(w http.ResponseWriter, r *http.Request) {
	var req IndividualBallotRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Voting.SubmitIndividualBallot(r.Context(), actor(r), eventID(r), req.Votes)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleRateOrganizer(w http.ResponseWriter, r *http.Request) {
	var req RatingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Voting.RateOrganizer(r.Context(), actor(r), eventID(r), req.Score, req.Comment)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

// ==================== Results & Winners ====================

func (h *Handlers) handleGetResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Results.Results(r.Context(), actor(r), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, results)
}

func (h *Handlers) handleOverrideWinners(w http.ResponseWriter, r *http.Request) {
	var req WinnersRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Voting.OverrideWinners(r.Context(), actor(r), eventID(r), req.Winners)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleFinalizeWinners(w http.ResponseWriter, r *http.Request) {
	out, err := h.Voting.FinalizeWinners(r.Context(), actor(r), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}
