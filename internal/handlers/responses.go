package handlers

import (
	"github.com/abrezinsky/eventxp/internal/actions"
	"github.com/abrezinsky/eventxp/internal/models"
)

// HealthResponse is the response for the health probe
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// EventsResponse is the response for event listings
type EventsResponse struct {
	Events []models.Event `json:"events"`
	Count  int            `json:"count"`
}

// LeaderboardResponse is the response for the XP leaderboard
type LeaderboardResponse struct {
	Ledgers []models.Ledger `json:"ledgers"`
}

// ReplayResponse reports the outcome of each replayed action in order
type ReplayResponse struct {
	Results   []actions.Result `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}
