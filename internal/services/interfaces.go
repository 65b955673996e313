package services

import (
	"context"

	"github.com/abrezinsky/eventxp/internal/models"
)

// LifecycleServicer defines the interface for event lifecycle operations
type LifecycleServicer interface {
	Get(ctx context.Context, id string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	Create(ctx context.Context, actor models.Actor, in EventInput) (*Outcome, error)
	Update(ctx context.Context, actor models.Actor, id string, in EventInput) (*Outcome, error)
	TransitionStatus(ctx context.Context, actor models.Actor, id string, target models.EventStatus, reason string, correct bool) (*Outcome, error)
	Delete(ctx context.Context, actor models.Actor, id string) (*Outcome, error)
	Close(ctx context.Context, actor models.Actor, id string) (*Outcome, error)
}

// TeamServicer defines the interface for team formation operations
type TeamServicer interface {
	Join(ctx context.Context, actor models.Actor, eventID, teamName string) (*Outcome, error)
	Leave(ctx context.Context, actor models.Actor, eventID string) (*Outcome, error)
	AddTeam(ctx context.Context, actor models.Actor, eventID, name string) (*Outcome, error)
	ReplaceTeams(ctx context.Context, actor models.Actor, eventID string, teams []models.Team) (*Outcome, error)
	AutoGenerate(ctx context.Context, actor models.Actor, eventID string, roster []string) (*AutoGenerateResult, error)
}

// VotingServicer defines the interface for ballot and winner operations
type VotingServicer interface {
	SetVotingOpen(ctx context.Context, actor models.Actor, eventID string, open bool) (*Outcome, error)
	SubmitTeamBallot(ctx context.Context, actor models.Actor, eventID string, votes map[string]string, bestPerformer string) (*Outcome, error)
	SubmitIndividualBallot(ctx context.Context, actor models.Actor, eventID string, votes map[string]string) (*Outcome, error)
	OverrideWinners(ctx context.Context, actor models.Actor, eventID string, winners models.WinnerMap) (*Outcome, error)
	FinalizeWinners(ctx context.Context, actor models.Actor, eventID string) (*Outcome, error)
	RateOrganizer(ctx context.Context, actor models.Actor, eventID string, score int, comment string) (*Outcome, error)
	RecordSubmission(ctx context.Context, actor models.Actor, eventID, link string) (*Outcome, error)
	RegisterParticipant(ctx context.Context, actor models.Actor, eventID string) (*Outcome, error)
	UnregisterParticipant(ctx context.Context, actor models.Actor, eventID string) (*Outcome, error)
}

// ResultsServicer defines the interface for reading vote counts
type ResultsServicer interface {
	Results(ctx context.Context, actor models.Actor, eventID string) (*EventResults, error)
}

// RewardServicer defines the interface for XP operations
type RewardServicer interface {
	AwardXP(ctx context.Context, actor models.Actor, eventID string) (*AwardResult, error)
	Ledger(ctx context.Context, userID string) (*models.Ledger, error)
	Leaderboard(ctx context.Context, limit int) ([]models.Ledger, error)
}

// Ensure services implement their interfaces
var (
	_ LifecycleServicer = (*LifecycleService)(nil)
	_ TeamServicer      = (*TeamService)(nil)
	_ VotingServicer    = (*VotingService)(nil)
	_ ResultsServicer   = (*ResultsService)(nil)
	_ RewardServicer    = (*RewardService)(nil)
)
