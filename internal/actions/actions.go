// Package actions decodes and replays participant actions that were queued
// while a client was offline.
package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abrezinsky/eventxp/internal/errors"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/services"
)

// Kind names an action type on the wire
type Kind string

const (
	KindJoinTeam               Kind = "join_team"
	KindLeaveTeam              Kind = "leave_team"
	KindSubmitTeamBallot       Kind = "submit_team_ballot"
	KindSubmitIndividualBallot Kind = "submit_individual_ballot"
	KindRateOrganizer          Kind = "rate_organizer"
	KindRecordSubmission       Kind = "record_submission"
	KindRegisterParticipant    Kind = "register_participant"
)

// offline lists the kinds a client may queue and replay later.
// Registration is left out: whether it succeeds depends on the event's
// status at the moment the user asked, which a late replay cannot honor.
var offline = map[Kind]bool{
	KindJoinTeam:               true,
	KindLeaveTeam:              true,
	KindSubmitTeamBallot:       true,
	KindSubmitIndividualBallot: true,
	KindRateOrganizer:          true,
	KindRecordSubmission:       true,
}

// SupportsOffline reports whether kind may be queued for replay
func SupportsOffline(kind Kind) bool {
	return offline[kind]
}

// Action is one decoded participant action
type Action interface {
	Kind() Kind
	Event() string
	action()
}

// JoinTeam joins the named team
type JoinTeam struct {
	EventID  string `json:"eventId"`
	TeamName string `json:"teamName"`
}

// LeaveTeam leaves the caller's team
type LeaveTeam struct {
	EventID string `json:"eventId"`
}

// SubmitTeamBallot votes for teams
type SubmitTeamBallot struct {
	EventID       string            `json:"eventId"`
	Votes         map[string]string `json:"votes"`
	BestPerformer string            `json:"bestPerformer,omitempty"`
}

// SubmitIndividualBallot votes for participants
type SubmitIndividualBallot struct {
	EventID string            `json:"eventId"`
	Votes   map[string]string `json:"votes"`
}

// RateOrganizer rates how the event was run
type RateOrganizer struct {
	EventID string `json:"eventId"`
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// RecordSubmission stores an entry link
type RecordSubmission struct {
	EventID string `json:"eventId"`
	Link    string `json:"link"`
}

// RegisterParticipant joins a non-team event
type RegisterParticipant struct {
	EventID string `json:"eventId"`
}

func (JoinTeam) Kind() Kind               { return KindJoinTeam }
func (LeaveTeam) Kind() Kind              { return KindLeaveTeam }
func (SubmitTeamBallot) Kind() Kind       { return KindSubmitTeamBallot }
func (SubmitIndividualBallot) Kind() Kind { return KindSubmitIndividualBallot }
func (RateOrganizer) Kind() Kind          { return KindRateOrganizer }
func (RecordSubmission) Kind() Kind       { return KindRecordSubmission }
func (RegisterParticipant) Kind() Kind    { return KindRegisterParticipant }

func (a JoinTeam) Event() string               { return a.EventID }
func (a LeaveTeam) Event() string              { return a.EventID }
func (a SubmitTeamBallot) Event() string       { return a.EventID }
func (a SubmitIndividualBallot) Event() string { return a.EventID }
func (a RateOrganizer) Event() string          { return a.EventID }
func (a RecordSubmission) Event() string       { return a.EventID }
func (a RegisterParticipant) Event() string    { return a.EventID }

func (JoinTeam) action()               {}
func (LeaveTeam) action()              {}
func (SubmitTeamBallot) action()       {}
func (SubmitIndividualBallot) action() {}
func (RateOrganizer) action()          {}
func (RecordSubmission) action()       {}
func (RegisterParticipant) action()    {}

// Envelope is an action as queued by a client
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Decode turns an envelope into its typed action
func Decode(env Envelope) (Action, error) {
	var (
		act Action
		err error
	)
	switch env.Kind {
	case KindJoinTeam:
		act, err = decodeAs[JoinTeam](env.Payload)
	case KindLeaveTeam:
		act, err = decodeAs[LeaveTeam](env.Payload)
	case KindSubmitTeamBallot:
		act, err = decodeAs[SubmitTeamBallot](env.Payload)
	case KindSubmitIndividualBallot:
		act, err = decodeAs[SubmitIndividualBallot](env.Payload)
	case KindRateOrganizer:
		act, err = decodeAs[RateOrganizer](env.Payload)
	case KindRecordSubmission:
		act, err = decodeAs[RecordSubmission](env.Payload)
	case KindRegisterParticipant:
		act, err = decodeAs[RegisterParticipant](env.Payload)
	default:
		return nil, errors.InvalidInputf("unsupported action kind %q", env.Kind)
	}
	if err != nil {
		return nil, err
	}
	if act.Event() == "" {
		return nil, errors.InvalidInputf("%s action has no eventId", env.Kind)
	}
	return act, nil
}

func decodeAs[T Action](raw json.RawMessage) (Action, error) {
	var v T
	if len(raw) == 0 {
		return nil, errors.InvalidInput("action payload is required")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.InvalidInputf("invalid action payload: %v", err)
	}
	return v, nil
}

// Services is what replay needs from the service layer
type Services struct {
	Teams  services.TeamServicer
	Voting services.VotingServicer
}

// Result reports how one queued action fared
type Result struct {
	ID       string   `json:"id,omitempty"`
	Kind     Kind     `json:"kind"`
	EventID  string   `json:"eventId,omitempty"`
	OK       bool     `json:"ok"`
	Code     string   `json:"code,omitempty"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Replayer applies queued actions in order
type Replayer struct {
	log logger.Logger
	svc Services
}

// NewReplayer creates a new Replayer
func NewReplayer(log logger.Logger, svc Services) *Replayer {
	return &Replayer{log: log, svc: svc}
}

// Replay runs every envelope in order as actor. A failing action does not
// stop the ones after it.
func (r *Replayer) Replay(ctx context.Context, actor models.Actor, envelopes []Envelope) []Result {
	results := make([]Result, 0, len(envelopes))
	for _, env := range envelopes {
		res := Result{ID: env.ID, Kind: env.Kind}

		act, err := Decode(env)
		if err == nil && !SupportsOffline(act.Kind()) {
			err = errors.InvalidInputf("%s actions cannot be replayed", act.Kind())
		}
		if err == nil {
			res.EventID = act.Event()
			var out *services.Outcome
			out, err = r.apply(ctx, actor, act)
			if out != nil {
				res.Warnings = out.Warnings
			}
		}
		if err != nil {
			res.Code = errors.KindOf(err).String()
			res.Error = err.Error()
			r.log.Warn("Replayed action failed", "kind", env.Kind, "id", env.ID, "user_id", actor.UserID, "error", err)
		} else {
			res.OK = true
		}
		results = append(results, res)
	}
	return results
}

func (r *Replayer) apply(ctx context.Context, actor models.Actor, act Action) (*services.Outcome, error) {
	switch a := act.(type) {
	case JoinTeam:
		return r.svc.Teams.Join(ctx, actor, a.EventID, a.TeamName)
	case LeaveTeam:
		return r.svc.Teams.Leave(ctx, actor, a.EventID)
	case SubmitTeamBallot:
		return r.svc.Voting.SubmitTeamBallot(ctx, actor, a.EventID, a.Votes, a.BestPerformer)
	case SubmitIndividualBallot:
		return r.svc.Voting.SubmitIndividualBallot(ctx, actor, a.EventID, a.Votes)
	case RateOrganizer:
		return r.svc.Voting.RateOrganizer(ctx, actor, a.EventID, a.Score, a.Comment)
	case RecordSubmission:
		return r.svc.Voting.RecordSubmission(ctx, actor, a.EventID, a.Link)
	case RegisterParticipant:
		return r.svc.Voting.RegisterParticipant(ctx, actor, a.EventID)
	default:
		return nil, fmt.Errorf("unhandled action %T", act)
	}
}
