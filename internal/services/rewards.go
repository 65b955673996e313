package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/abrezinsky/eventxp/internal/errors"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/repository"
)

// Award pass outcomes reported to the metrics recorder
const (
	AwardOutcomeCompleted = "completed"
	AwardOutcomeEmpty     = "empty"
	AwardOutcomeNoop      = "already_awarded"
	AwardOutcomeFailed    = "failed"
)

const (
	// awardPassTimeout bounds the ledger writes of one pass
	awardPassTimeout = 2 * time.Minute

	// awardFinishTimeout bounds the write that records how a pass ended
	awardFinishTimeout = 10 * time.Second
)

// RewardPolicy holds the XP constants applied by an award pass
type RewardPolicy struct {
	OrganizerXP          int64
	ParticipationXP      int64
	SubmissionMultiplier int64
	WinnerBonusXP        int64
	BestPerformerXP      int64
	Concurrency          int
}

// DefaultRewardPolicy is used when no policy is configured
var DefaultRewardPolicy = RewardPolicy{
	OrganizerXP:          50,
	ParticipationXP:      10,
	SubmissionMultiplier: 2,
	WinnerBonusXP:        25,
	BestPerformerXP:      30,
	Concurrency:          4,
}

// ComputeAwards turns an event's roles and winners into award records.
// It also returns the winners it could not pay: keys that match no criterion,
// and in team events team names that match no team, as "key: team".
func ComputeAwards(ev *models.Event, policy RewardPolicy) ([]models.AwardRecord, []string) {
	var records []models.AwardRecord
	grant := func(userID string, role models.RewardRole, points int64, winner bool) {
		if userID == "" || points <= 0 {
			return
		}
		records = append(records, models.AwardRecord{
			UserID:   userID,
			EventID:  ev.ID,
			Role:     role,
			Points:   points,
			IsWinner: winner,
		})
	}

	for _, organizer := range ev.AllOrganizers() {
		grant(organizer, models.RoleOrganizer, policy.OrganizerXP, false)
	}

	for _, user := range participants(ev) {
		points := policy.ParticipationXP
		if _, submitted := ev.Submissions[user]; submitted && policy.SubmissionMultiplier > 0 {
			points *= policy.SubmissionMultiplier
		}
		grant(user, models.RoleParticipation, points, false)
	}

	var skipped []string
	for _, key := range ev.Winners.Keys() {
		entry := ev.Winners[key]
		if key == models.BestPerformerKey && ev.IsTeamFormat() {
			for _, user := range entry {
				grant(user, models.RoleBestPerformer, policy.BestPerformerXP, true)
			}
			continue
		}
		criterion, ok := ev.CriterionByTitle(key)
		if !ok {
			skipped = append(skipped, key)
			continue
		}
		users, unknown := winningUsers(ev, entry)
		for _, team := range unknown {
			skipped = append(skipped, key+": "+team)
		}
		for _, user := range users {
			grant(user, criterion.Role, int64(criterion.Points), true)
			if !ev.IsTeamFormat() {
				grant(user, criterion.Role, policy.WinnerBonusXP, true)
			}
		}
	}
	return records, skipped
}

// participants returns every direct participant and team member once
func participants(ev *models.Event) []string {
	return dedupeIDs(append(append([]string{}, ev.Participants...), ev.TeamMemberFlatList...))
}

// winningUsers expands team names to their members. In other formats the
// ids are users. Team names that no longer exist come back as unknown.
func winningUsers(ev *models.Event, entry models.WinnerEntry) (users, unknown []string) {
	for _, id := range entry {
		if !ev.IsTeamFormat() {
			users = append(users, id)
			continue
		}
		idx, ok := ev.FindTeam(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		users = append(users, ev.Teams[idx].Members...)
	}
	return dedupeIDs(users), unknown
}

// Aggregate folds award records into per-user ledger deltas.
// Every user who won anything gets one count_wins increment.
func Aggregate(records []models.AwardRecord) map[string]map[string]int64 {
	deltas := make(map[string]map[string]int64)
	for _, r := range records {
		fields := deltas[r.UserID]
		if fields == nil {
			fields = make(map[string]int64)
			deltas[r.UserID] = fields
		}
		fields[r.Role.LedgerField()] += r.Points
		if r.IsWinner {
			fields[models.WinsField] = 1
		}
	}
	return deltas
}

// RewardRepository is what the reward engine needs from the store
type RewardRepository interface {
	repository.EventRepository
	repository.LedgerRepository
}

// AwardResult reports what an award pass did
type AwardResult struct {
	Outcome
	AlreadyAwarded bool  `json:"alreadyAwarded"`
	Users          int   `json:"users"`
	Applied        int   `json:"applied"`
	Replayed       int   `json:"replayed"`
	Points         int64 `json:"points"`
}

// RewardService pays XP into user ledgers once per event
type RewardService struct {
	base
	repo   RewardRepository
	policy RewardPolicy
}

// NewRewardService creates a new RewardService
func NewRewardService(log logger.Logger, repo RewardRepository, policy RewardPolicy, opts ...Option) *RewardService {
	if policy.Concurrency < 1 {
		policy.Concurrency = 1
	}
	return &RewardService{
		base:   newBase(log, opts),
		repo:   repo,
		policy: policy,
	}
}

// AwardXP runs the award pass for a completed event. A pass that already
// completed is a no-op. A pass that failed part way may be run again; users
// already paid are skipped by the ledger.
func (s *RewardService) AwardXP(ctx context.Context, actor models.Actor, eventID string) (result *AwardResult, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "rewards.AwardXP", trace.WithAttributes(attribute.String("event.id", eventID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ev, changed, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if err := requireOrganizer(actor, ev); err != nil {
			return err
		}
		if ev.XPAwardingStatus == models.XPCompleted {
			return errUnchanged
		}
		if ev.Status != models.StatusCompleted {
			return errors.Conflictf("XP can only be awarded for a completed event, this one is %s", ev.Status)
		}
		if ev.VotingOpen {
			return errors.Conflict("close voting before awarding XP")
		}
		if !ev.Winners.HasAnyWinner() {
			return errors.Conflict("winners must be finalized before awarding XP")
		}
		if ev.XPAwardingStatus == models.XPInProgress {
			return errors.Conflict("XP awarding is already in progress")
		}
		ev.XPAwardingStatus = models.XPInProgress
		ev.XPAwardError = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		s.metrics.AwardPassFinished(AwardOutcomeNoop, 0, time.Since(started))
		return &AwardResult{Outcome: *outcome(ev), AlreadyAwarded: true}, nil
	}

	records, skipped := ComputeAwards(ev, s.policy)
	for _, key := range skipped {
		s.log.Warn("Winner matches no criterion or team, skipping", "event_id", eventID, "winner", key)
	}
	deltas := Aggregate(records)
	result = &AwardResult{Users: len(deltas)}
	for _, r := range records {
		result.Points += r.Points
	}
	span.SetAttributes(attribute.Int("award.users", result.Users), attribute.Int64("award.points", result.Points))

	// The pass is claimed and must end in completed or failed even if the caller hangs up
	passCtx, cancelPass := context.WithTimeout(context.WithoutCancel(ctx), awardPassTimeout)
	defer cancelPass()

	applyErr := s.apply(passCtx, eventID, deltas, result)
	if applyErr != nil {
		s.log.Error("XP award pass failed", "event_id", eventID, "error", applyErr, "applied", result.Applied, "users", result.Users)
		s.markFailed(ctx, eventID, applyErr)
		s.metrics.AwardPassFinished(AwardOutcomeFailed, result.Points, time.Since(started))
		return nil, errors.PartialFailure(applyErr, fmt.Sprintf("XP was applied to %d of %d users", result.Applied+result.Replayed, result.Users))
	}

	summary := &models.AwardSummary{Users: result.Users, Points: result.Points, CompletedAt: s.now()}
	final, err := s.finish(ctx, eventID, nil, summary)
	if err != nil {
		// Every ledger is paid; a failed mark lets a retry replay them and complete.
		s.log.Error("Failed to record XP award completion", "event_id", eventID, "error", err)
		s.markFailed(ctx, eventID, err)
		s.metrics.AwardPassFinished(AwardOutcomeFailed, result.Points, time.Since(started))
		return nil, err
	}

	label := AwardOutcomeCompleted
	if result.Users == 0 {
		label = AwardOutcomeEmpty
	}
	s.metrics.AwardPassFinished(label, result.Points, time.Since(started))
	s.log.Info("XP awarded", "event_id", eventID, "users", result.Users, "points", result.Points, "replayed", result.Replayed)
	result.Outcome = *outcome(final, s.notify(ctx, NotifyXPAwarded, final, summary))
	return result, nil
}

// apply writes every user's deltas with bounded concurrency. Every user is
// attempted even after a failure.
func (s *RewardService) apply(ctx context.Context, eventID string, deltas map[string]map[string]int64, result *AwardResult) error {
	users := make([]string, 0, len(deltas))
	for user := range deltas {
		users = append(users, user)
	}
	sort.Strings(users)

	var (
		mu       sync.Mutex
		failures []error
	)
	var g errgroup.Group
	g.SetLimit(s.policy.Concurrency)
	for _, user := range users {
		g.Go(func() error {
			applied, err := s.repo.ApplyAward(ctx, user, eventID, deltas[user])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Errorf("user %s: %w", user, err))
				return nil
			}
			s.metrics.LedgerApplied(applied)
			if applied {
				result.Applied++
			} else {
				result.Replayed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return nil
	}
	return stderrors.Join(failures...)
}

// markFailed records failure on the event. If even that write fails the
// event is left in progress, which only an operator can clear.
func (s *RewardService) markFailed(ctx context.Context, eventID string, failure error) {
	if _, err := s.finish(ctx, eventID, failure, nil); err != nil {
		s.log.Error("Failed to record XP award failure, pass left in progress", "event_id", eventID, "error", err)
	}
}

// finish records the end of a pass on the event. It runs detached from the
// caller's cancellation.
func (s *RewardService) finish(ctx context.Context, eventID string, failure error, summary *models.AwardSummary) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), awardFinishTimeout)
	defer cancel()

	ev, _, err := update(ctx, s.repo, eventID, func(ev *models.Event) error {
		if failure != nil {
			msg := failure.Error()
			ev.XPAwardingStatus = models.XPFailed
			ev.XPAwardError = &msg
			return nil
		}
		ev.XPAwardingStatus = models.XPCompleted
		ev.XPAwardError = nil
		ev.XPAwardSummary = summary
		return nil
	})
	return ev, err
}

// Ledger returns a user's accumulated XP
func (s *RewardService) Ledger(ctx context.Context, userID string) (*models.Ledger, error) {
	if userID == "" {
		return nil, errors.Validation("user id is required")
	}
	ledger, err := s.repo.GetLedger(ctx, userID)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return ledger, nil
}

// Leaderboard returns the users with the most XP
func (s *RewardService) Leaderboard(ctx context.Context, limit int) ([]models.Ledger, error) {
	if limit < 0 || limit > 100 {
		return nil, errors.Validation("limit must be between 0 and 100")
	}
	board, err := s.repo.Leaderboard(ctx, limit)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return board, nil
}
