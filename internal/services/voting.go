package services

import (
	"context"
	"net/url"
	"strings"

	"github.com/abrezinsky/eventxp/internal/errors"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/repository"
)

// Ballot kinds reported to the metrics recorder
const (
	BallotTeam       = "team"
	BallotIndividual = "individual"
)

// VotingService handles ballots, winners, ratings and participation
type VotingService struct {
	base
	repo repository.EventRepository
}

// NewVotingService creates a new VotingService
func NewVotingService(log logger.Logger, repo repository.EventRepository, opts ...Option) *VotingService {
	return &VotingService{
		base: newBase(log, opts),
		repo: repo,
	}
}

// SetVotingOpen opens or closes voting on a completed event
func (s *VotingService) SetVotingOpen(ctx context.Context, actor models.Actor, eventID string, open bool) (*Outcome, error) {
	updated, changed, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if err := requireOrganizer(actor, ev); err != nil {
			return err
		}
		if ev.Status != models.StatusCompleted {
			return errors.Conflictf("voting can only change on a completed event, this one is %s", ev.Status)
		}
		if ev.XPAwardingStatus == models.XPInProgress || ev.XPAwardingStatus == models.XPCompleted {
			return errors.Conflict("voting cannot change once rewards are being awarded")
		}
		if ev.VotingOpen == open {
			return errUnchanged
		}
		ev.VotingOpen = open
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return outcome(updated), nil
	}

	s.log.Info("Voting toggled", "event_id", eventID, "open", open, "by", actor.UserID)
	return outcome(updated, s.notify(ctx, NotifyVotingChanged, updated, map[string]bool{"votingOpen": open})), nil
}

// ballotGate checks the event accepts ballots from actor
func ballotGate(actor models.Actor, ev *models.Event) error {
	if ev.Status != models.StatusCompleted || !ev.VotingOpen {
		return ErrVotingClosed
	}
	if !ev.IsParticipant(actor.UserID) {
		return ErrParticipantsOnly
	}
	if ev.IsOrganizer(actor.UserID) {
		return errors.Permission("organizers cannot vote in their own event")
	}
	return nil
}

// SubmitTeamBallot records the caller's team picks. Keys are criterion
// indexes and values are team names. Picks merge into any earlier ballot.
func (s *VotingService) SubmitTeamBallot(ctx context.Context, actor models.Actor, eventID string, votes map[string]string, bestPerformer string) (*Outcome, error) {
	bestPerformer = strings.TrimSpace(bestPerformer)
	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if !ev.IsTeamFormat() {
			return ErrTeamFormatOnly
		}
		if err := ballotGate(actor, ev); err != nil {
			return err
		}

		picks := make(map[string]string)
		for key, choice := range votes {
			if _, ok := ev.CriterionByKey(key); !ok {
				continue
			}
			choice = strings.TrimSpace(choice)
			if choice == "" {
				continue
			}
			idx, ok := ev.FindTeam(choice)
			if !ok {
				return errors.Validationf("no team named %q", choice)
			}
			picks[key] = ev.Teams[idx].TeamName
		}
		if bestPerformer != "" && !contains(ev.TeamMemberFlatList, bestPerformer) {
			return errors.Validationf("best performer %s is not on any team", bestPerformer)
		}

		mergeBallot(ev, actor.UserID, picks)
		if bestPerformer != "" {
			ev.BestPerformerSelections[actor.UserID] = bestPerformer
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.BallotRecorded(BallotTeam)
	s.log.Info("Team ballot recorded", "event_id", eventID, "voter", actor.UserID)
	return outcome(updated), nil
}

// SubmitIndividualBallot records the caller's participant picks. Keys are
// criterion indexes and values are user ids.
func (s *VotingService) SubmitIndividualBallot(ctx context.Context, actor models.Actor, eventID string, votes map[string]string) (*Outcome, error) {
	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if ev.IsTeamFormat() {
			return ErrNotTeamFormat
		}
		if err := ballotGate(actor, ev); err != nil {
			return err
		}

		picks := make(map[string]string)
		for key, choice := range votes {
			choice = strings.TrimSpace(choice)
			if choice == "" {
				continue
			}
			if choice == actor.UserID {
				return errors.Validation("you cannot vote for yourself")
			}
			if !contains(ev.Participants, choice) {
				return errors.Validationf("%s is not a participant", choice)
			}
			if _, ok := ev.CriterionByKey(key); !ok {
				continue
			}
			picks[key] = choice
		}

		mergeBallot(ev, actor.UserID, picks)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.BallotRecorded(BallotIndividual)
	s.log.Info("Individual ballot recorded", "event_id", eventID, "voter", actor.UserID)
	return outcome(updated), nil
}

func mergeBallot(ev *models.Event, voter string, picks map[string]string) {
	ballot := ev.CriteriaVotes[voter]
	if ballot == nil {
		ballot = make(map[string]string, len(picks))
	}
	for key, choice := range picks {
		ballot[key] = choice
	}
	if len(ballot) > 0 {
		ev.CriteriaVotes[voter] = ballot
	}
}

// OverrideWinners replaces the winners map with a manual decision
func (s *VotingService) OverrideWinners(ctx context.Context, actor models.Actor, eventID string, winners models.WinnerMap) (*Outcome, error) {
	cleaned := cleanWinners(winners)
	if len(cleaned) == 0 {
		return nil, errors.Validation("at least one winner is required")
	}

	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if err := requireOrganizer(actor, ev); err != nil {
			return err
		}
		if ev.Status != models.StatusCompleted {
			return errors.Conflictf("winners can only be set on a completed event, this one is %s", ev.Status)
		}
		if ev.XPAwardingStatus == models.XPInProgress || ev.XPAwardingStatus == models.XPCompleted {
			return errors.Conflict("winners cannot change once rewards are being awarded")
		}
		ev.Winners = cleaned
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Winners overridden", "event_id", eventID, "keys", len(cleaned), "by", actor.UserID)
	return outcome(updated, s.notify(ctx, NotifyWinnersFinalized, updated, cleaned)), nil
}

// cleanWinners drops blank keys, blank ids and entries left empty
func cleanWinners(winners models.WinnerMap) models.WinnerMap {
	out := make(models.WinnerMap)
	for key, entry := range winners {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		ids := dedupeIDs(entry)
		if len(ids) == 0 {
			continue
		}
		out[key] = models.WinnerEntry(ids)
	}
	return out
}

// FinalizeWinners computes winners from the ballots once voting has closed.
// Winners already on the event are kept.
func (s *VotingService) FinalizeWinners(ctx context.Context, actor models.Actor, eventID string) (*Outcome, error) {
	updated, changed, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if err := requireOrganizer(actor, ev); err != nil {
			return err
		}
		if ev.Status != models.StatusCompleted {
			return errors.Conflictf("winners can only be finalized on a completed event, this one is %s", ev.Status)
		}
		if ev.VotingOpen {
			return errors.Conflict("close voting before finalizing winners")
		}
		if ev.Winners.HasAnyWinner() {
			return errUnchanged
		}
		computed := Tally(ev)
		if !computed.HasAnyWinner() {
			return ErrNoWinners
		}
		ev.Winners = computed
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return outcome(updated), nil
	}

	s.log.Info("Winners finalized", "event_id", eventID, "keys", len(updated.Winners))
	return outcome(updated, s.notify(ctx, NotifyWinnersFinalized, updated, updated.Winners)), nil
}

// RateOrganizer stores the caller's rating of how the event was run
func (s *VotingService) RateOrganizer(ctx context.Context, actor models.Actor, eventID string, score int, comment string) (*Outcome, error) {
	if score < 1 || score > 5 {
		return nil, errors.Validation("score must be between 1 and 5")
	}
	now := s.now()
	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if !ev.IsParticipant(actor.UserID) {
			return ErrParticipantsOnly
		}
		if ev.Status != models.StatusCompleted && ev.Status != models.StatusClosed {
			return errors.Conflictf("ratings open once the event is completed, this one is %s", ev.Status)
		}
		ev.OrganizerRatings[actor.UserID] = models.OrganizerRating{
			Score:   score,
			Comment: strings.TrimSpace(comment),
			RatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Organizer rated", "event_id", eventID, "user_id", actor.UserID, "score", score)
	return outcome(updated), nil
}

// RecordSubmission stores the caller's entry link
func (s *VotingService) RecordSubmission(ctx context.Context, actor models.Actor, eventID, link string) (*Outcome, error) {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if link == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Validation("submission link must be an http or https URL")
	}

	now := s.now()
	updated, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if !ev.Details.AllowSubmissions {
			return errors.Conflict("this event does not accept submissions")
		}
		if ev.Status != models.StatusInProgress && ev.Status != models.StatusCompleted {
			return errors.Conflictf("submissions are not accepted while the event is %s", ev.Status)
		}
		if !ev.IsParticipant(actor.UserID) {
			return ErrParticipantsOnly
		}
		ev.Submissions[actor.UserID] = models.Submission{Link: link, SubmittedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Submission recorded", "event_id", eventID, "user_id", actor.UserID)
	return outcome(updated), nil
}

// RegisterParticipant adds the caller to a non-team event
func (s *VotingService) RegisterParticipant(ctx context.Context, actor models.Actor, eventID string) (*Outcome, error) {
	return s.setParticipant(ctx, actor, eventID, true)
}

// UnregisterParticipant removes the caller from a non-team event
func (s *VotingService) UnregisterParticipant(ctx context.Context, actor models.Actor, eventID string) (*Outcome, error) {
	return s.setParticipant(ctx, actor, eventID, false)
}

func (s *VotingService) setParticipant(ctx context.Context, actor models.Actor, eventID string, join bool) (*Outcome, error) {
	if actor.UserID == "" {
		return nil, errors.Permission("caller identity is required")
	}
	updated, changed, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if ev.IsTeamFormat() {
			return ErrNotTeamFormat
		}
		if ev.Status != models.StatusApproved && ev.Status != models.StatusInProgress {
			return errors.Conflictf("registration is closed while the event is %s", ev.Status)
		}
		present := contains(ev.Participants, actor.UserID)
		if present == join {
			return errUnchanged
		}
		if join {
			ev.Participants = append(ev.Participants, actor.UserID)
		} else {
			ev.Participants = removeID(ev.Participants, actor.UserID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return outcome(updated), nil
	}

	s.log.Info("Participation changed", "event_id", eventID, "user_id", actor.UserID, "joined", join)
	return outcome(updated, s.notify(ctx, NotifyEventUpdated, updated, nil)), nil
}
