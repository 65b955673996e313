package handlers

import (
	"github.com/abrezinsky/eventxp/internal/actions"
	"github.com/abrezinsky/eventxp/internal/models"
)

// StatusRequest represents a request to move an event to another status
type StatusRequest struct {
	Status models.EventStatus `json:"status"`
	Reason string             `json:"reason,omitempty"`

	// Correct overwrites an existing lifecycle timestamp
	Correct bool `json:"correct,omitempty"`
}

// TeamNameRequest names a single team
type TeamNameRequest struct {
	TeamName string `json:"teamName"`
}

// ReplaceTeamsRequest replaces every team of an event
type ReplaceTeamsRequest struct {
	Teams []models.Team `json:"teams"`
}

// AutoGenerateRequest lists the users to deal into teams
type AutoGenerateRequest struct {
	Roster []string `json:"roster"`
}

// VotingRequest opens or closes voting
type VotingRequest struct {
	Open bool `json:"open"`
}

// TeamBallotRequest maps criterion title to team name
type TeamBallotRequest struct {
	Votes         map[string]string `json:"votes"`
	BestPerformer string            `json:"bestPerformer,omitempty"`
}

// IndividualBallotRequest maps criterion title to participant id
type IndividualBallotRequest struct {
	Votes map[string]string `json:"votes"`
}

// WinnersRequest sets winners by criterion key
type WinnersRequest struct {
	Winners models.WinnerMap `json:"winners"`
}

// RatingRequest rates the organizers of an event
type RatingRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// SubmissionRequest records a participant's entry link
type SubmissionRequest struct {
	Link string `json:"link"`
}

// ReplayRequest carries actions queued while offline
type ReplayRequest struct {
	Actions []actions.Envelope `json:"actions"`
}
