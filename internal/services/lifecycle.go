package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/abrezinsky/eventxp/internal/errors"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/repository"
)

const maxOrganizers = 5

// transitions lists the statuses reachable from each status through
// TransitionStatus. rejected→pending happens only through Update.
var transitions = map[models.EventStatus][]models.EventStatus{
	models.StatusPending:    {models.StatusApproved, models.StatusRejected},
	models.StatusApproved:   {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:  {models.StatusClosed},
}

// AllowedTransitions returns the statuses ev may move to next
func AllowedTransitions(from models.EventStatus) []models.EventStatus {
	return append([]models.EventStatus(nil), transitions[from]...)
}

// CanTransition reports whether from→to is a legal status change
func CanTransition(from, to models.EventStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventInput is the requester-editable part of an event
type EventInput struct {
	Details       models.EventDetails `json:"details"`
	Criteria      []models.Criterion  `json:"criteria"`
	Participants  []string            `json:"participants"`
	Teams         []models.Team       `json:"teams"`
	ParentEventID string              `json:"parentEventId,omitempty"`

	// Direct lets an admin create the event already approved
	Direct bool `json:"direct,omitempty"`
}

// LifecycleService owns event creation and status transitions
type LifecycleService struct {
	base
	repo  repository.EventRepository
	loc   *time.Location
	newID func() string
}

// NewLifecycleService creates a new LifecycleService. loc decides what
// "today" means when checking start dates.
func NewLifecycleService(log logger.Logger, repo repository.EventRepository, loc *time.Location, opts ...Option) *LifecycleService {
	if loc == nil {
		loc = time.UTC
	}
	return &LifecycleService{
		base:  newBase(log, opts),
		repo:  repo,
		loc:   loc,
		newID: uuid.NewString,
	}
}

// Get returns one event
func (s *LifecycleService) Get(ctx context.Context, id string) (*models.Event, error) {
	ev, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return ev, nil
}

// List returns events matching filter
func (s *LifecycleService) List(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errors.Validationf("unknown status %q", filter.Status)
	}
	events, err := s.repo.QueryEvents(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}
	return events, nil
}

// Create stores a new event. A child event is linked to its parent in the
// same transaction and inherits the parent's name, dates and organizers.
func (s *LifecycleService) Create(ctx context.Context, actor models.Actor, in EventInput) (*Outcome, error) {
	if actor.UserID == "" {
		return nil, errors.Permission("caller identity is required")
	}
	if in.Direct && !actor.Admin {
		return nil, ErrAdminOnly
	}
	if err := validateCriteria(in.Criteria); err != nil {
		return nil, err
	}
	shells, err := teamShells(in.Teams)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ev := &models.Event{
		ID:               s.newID(),
		Status:           models.StatusPending,
		RequestedBy:      actor.UserID,
		Details:          in.Details,
		Participants:     dedupeIDs(in.Participants),
		Teams:            shells,
		Criteria:         in.Criteria,
		XPAwardingStatus: models.XPNone,
		ChildEventIDs:    []string{},
	}
	ev.EnsureMaps()
	ev.Stamp(models.LifecycleCreated, now, false)
	if ev.Details.Format == "" {
		ev.Details.Format = models.FormatIndividual
	}
	if !ev.Details.Format.Valid() {
		return nil, errors.Validationf("unknown format %q", ev.Details.Format)
	}
	ev.RecomputeMemberList()

	if in.ParentEventID != "" {
		return s.createChild(ctx, actor, in.ParentEventID, ev)
	}

	if err := s.validateDetails(ev.Details, now); err != nil {
		return nil, err
	}
	organizers, err := normalizeOrganizers(actor.UserID, ev.Details.Organizers)
	if err != nil {
		return nil, err
	}
	ev.Details.Organizers = organizers

	if in.Direct {
		ev.Status = models.StatusApproved
		ev.Stamp(models.LifecycleApproved, now, false)
	}

	if err := s.repo.CreateEvent(ctx, ev); err != nil {
		return nil, storeError(err)
	}

	s.log.Info("Event created", "event_id", ev.ID, "requested_by", actor.UserID, "status", ev.Status)
	s.notifier.Remember(ev)
	return outcome(ev, s.notify(ctx, NotifyEventCreated, ev, nil)), nil
}

func (s *LifecycleService) createChild(ctx context.Context, actor models.Actor, parentID string, child *models.Event) (*Outcome, error) {
	child.ParentEventID = parentID

	_, err := s.repo.CreateChildEvent(ctx, parentID, child, func(parent *models.Event) error {
		switch parent.Status {
		case models.StatusClosed, models.StatusCancelled, models.StatusRejected:
			return errors.Conflictf("cannot add a child to a %s event", parent.Status)
		}
		if err := requireOrganizer(actor, parent); err != nil {
			return err
		}
		inheritFromParent(child, parent)
		parent.ChildEventIDs = append(parent.ChildEventIDs, child.ID)
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.log.Info("Child event created", "event_id", child.ID, "parent_id", parentID, "requested_by", actor.UserID)
	s.notifier.Remember(child)
	payload := map[string]string{
		"parentEventId":   parentID,
		"parentEventName": s.notifier.Name(ctx, parentID),
	}
	return outcome(child, s.notify(ctx, NotifyEventCreated, child, payload)), nil
}

// Update rewrites the editable fields of a pending or rejected event.
// A rejected event goes back to pending.
func (s *LifecycleService) Update(ctx context.Context, actor models.Actor, id string, in EventInput) (*Outcome, error) {
	if err := validateCriteria(in.Criteria); err != nil {
		return nil, err
	}
	shells, err := teamShells(in.Teams)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	var parent *models.Event
	if current.ParentEventID != "" {
		parent, err = s.repo.GetEvent(ctx, current.ParentEventID)
		if err != nil && err != repository.ErrNotFound {
			return nil, storeError(err)
		}
	}

	now := s.now()
	updated, _, err := update(ctx, s.repo, id, func(ev *models.Event) error {
		if ev.RequestedBy != actor.UserID {
			return ErrRequesterOnly
		}
		if ev.Status != models.StatusPending && ev.Status != models.StatusRejected {
			return errors.Conflictf("a %s event can no longer be edited", ev.Status)
		}

		details := in.Details
		if details.Format == "" {
			details.Format = models.FormatIndividual
		}
		if !details.Format.Valid() {
			return errors.Validationf("unknown format %q", details.Format)
		}

		next := ev.Clone()
		next.Details = details
		if next.ParentEventID == "" {
			if err := s.validateDetails(details, now); err != nil {
				return err
			}
			organizers, err := normalizeOrganizers(next.RequestedBy, details.Organizers)
			if err != nil {
				return err
			}
			next.Details.Organizers = organizers
		} else if parent != nil {
			inheritFromParent(next, parent)
		} else {
			next.Details.EventName = ev.Details.EventName
			next.Details.Date = ev.Details.Date
			next.Details.Organizers = ev.Details.Organizers
		}

		ev.Details = next.Details
		ev.Criteria = in.Criteria
		ev.Participants = dedupeIDs(in.Participants)
		ev.Teams = shells
		ev.RecomputeMemberList()
		if ev.Status == models.StatusRejected {
			ev.Status = models.StatusPending
			ev.RejectionReason = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if current.Status != updated.Status {
		s.metrics.TransitionRecorded(current.Status, updated.Status)
	}
	s.log.Info("Event updated", "event_id", id, "status", updated.Status)
	s.notifier.Remember(updated)
	return outcome(updated, s.notify(ctx, NotifyEventUpdated, updated, nil)), nil
}

// TransitionStatus moves an event to target. Approve and reject are for
// admins; the other moves are for organizers. Closing is delegated to Close.
func (s *LifecycleService) TransitionStatus(ctx context.Context, actor models.Actor, id string, target models.EventStatus, reason string, correct bool) (*Outcome, error) {
	if !target.Valid() {
		return nil, errors.Validationf("unknown status %q", target)
	}
	if target == models.StatusClosed {
		return s.Close(ctx, actor, id)
	}
	reason = strings.TrimSpace(reason)
	if target == models.StatusRejected && reason == "" {
		return nil, errors.Validation("a reason is required to reject an event")
	}

	ctx, span := tracer.Start(ctx, "lifecycle.TransitionStatus", trace.WithAttributes(
		attribute.String("event.id", id),
		attribute.String("event.target", string(target)),
	))
	defer span.End()

	now := s.now()
	var from models.EventStatus
	updated, _, err := update(ctx, s.repo, id, func(ev *models.Event) error {
		from = ev.Status
		switch target {
		case models.StatusApproved, models.StatusRejected:
			if !actor.Admin {
				return ErrAdminOnly
			}
		default:
			if err := requireOrganizer(actor, ev); err != nil {
				return err
			}
		}
		if !CanTransition(ev.Status, target) {
			return errors.Conflictf("cannot move event from %s to %s", ev.Status, target)
		}

		ev.Status = target
		switch target {
		case models.StatusApproved:
			ev.Stamp(models.LifecycleApproved, now, correct)
		case models.StatusRejected:
			ev.RejectionReason = &reason
			ev.Stamp(models.LifecycleRejected, now, correct)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TransitionRecorded(from, target)
	s.log.Info("Event status changed", "event_id", id, "from", from, "to", target, "by", actor.UserID)
	return outcome(updated, s.notify(ctx, NotifyStatusChanged, updated, map[string]string{"from": string(from)})), nil
}

// Delete removes a pending or rejected event. Only its requester may do so.
func (s *LifecycleService) Delete(ctx context.Context, actor models.Actor, id string) (*Outcome, error) {
	var snapshot *models.Event
	err := s.repo.DeleteEvent(ctx, id, func(ev *models.Event) error {
		if ev.RequestedBy != actor.UserID {
			return ErrRequesterOnly
		}
		if ev.Status != models.StatusPending && ev.Status != models.StatusRejected {
			return errors.Conflictf("a %s event cannot be deleted", ev.Status)
		}
		snapshot = ev
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.log.Info("Event deleted", "event_id", id, "by", actor.UserID)
	warning := s.notify(ctx, NotifyEventDeleted, snapshot, nil)
	s.notifier.Forget(id)
	return outcome(snapshot, warning), nil
}

// Close finalises an event after XP has been awarded. Closing an event that
// is already closed is a no-op.
func (s *LifecycleService) Close(ctx context.Context, actor models.Actor, id string) (*Outcome, error) {
	now := s.now()
	updated, changed, err := update(ctx, s.repo, id, func(ev *models.Event) error {
		if err := requireOrganizer(actor, ev); err != nil {
			return err
		}
		if ev.Status == models.StatusClosed {
			if _, stamped := ev.LifecycleTimestamps[models.LifecycleClosed]; stamped {
				return errUnchanged
			}
		}
		if ev.XPAwardingStatus != models.XPCompleted {
			return errors.Conflictf("event cannot be closed while XP awarding is %s", ev.XPAwardingStatus)
		}
		if ev.Status != models.StatusCompleted && ev.Status != models.StatusClosed {
			return errors.Conflictf("cannot close a %s event", ev.Status)
		}

		ev.Status = models.StatusClosed
		ev.ClosedBy = actor.UserID
		ev.Stamp(models.LifecycleClosed, now, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return outcome(updated), nil
	}

	s.metrics.TransitionRecorded(models.StatusCompleted, models.StatusClosed)
	s.log.Info("Event closed", "event_id", id, "by", actor.UserID)
	return outcome(updated, s.notify(ctx, NotifyEventClosed, updated, nil)), nil
}

// validateDetails checks a parent-less event's details against today in the
// civil timezone
func (s *LifecycleService) validateDetails(d models.EventDetails, now time.Time) error {
	if strings.TrimSpace(d.EventName) == "" {
		return errors.Validation("event name is required")
	}
	if strings.TrimSpace(d.Type) == "" {
		return errors.Validation("event type is required")
	}
	if d.Date.Start.IsZero() || d.Date.End.IsZero() {
		return errors.Validation("event start and end dates are required")
	}
	if d.Date.End.Before(d.Date.Start) {
		return errors.Validation("event cannot end before it starts")
	}
	if civilDay(d.Date.Start, s.loc).Before(civilDay(now, s.loc)) {
		return errors.Validation("event cannot start in the past")
	}
	if d.MaxTeamMembers < 0 {
		return errors.Validation("maxTeamMembers cannot be negative")
	}
	return nil
}

// civilDay truncates t to midnight in loc
func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// normalizeOrganizers puts the requester first and removes blanks and duplicates
func normalizeOrganizers(requester string, organizers []string) ([]string, error) {
	out := dedupeIDs(append([]string{requester}, organizers...))
	if len(out) < 1 || len(out) > maxOrganizers {
		return nil, errors.Validationf("an event needs between 1 and %d organizers", maxOrganizers)
	}
	return out, nil
}

// inheritFromParent copies the fields a child event always shares with its parent
func inheritFromParent(child, parent *models.Event) {
	child.Details.EventName = parent.Details.EventName
	child.Details.Date = parent.Details.Date
	child.Details.Organizers = parent.AllOrganizers()
	if strings.TrimSpace(child.Details.Type) == "" {
		child.Details.Type = parent.Details.Type
	}
}

// validateCriteria checks indexes and titles are unique and roles are judgeable
func validateCriteria(criteria []models.Criterion) error {
	indexes := make(map[int]bool)
	titles := make(map[string]bool)
	for _, c := range criteria {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			return errors.Validation("criterion title is required")
		}
		if title == models.BestPerformerKey {
			return errors.Validationf("%q is a reserved criterion title", models.BestPerformerKey)
		}
		if c.ConstraintIndex < 0 {
			return errors.Validation("criterion index cannot be negative")
		}
		if indexes[c.ConstraintIndex] {
			return errors.Validationf("duplicate criterion index %d", c.ConstraintIndex)
		}
		if titles[title] {
			return errors.Validationf("duplicate criterion title %q", title)
		}
		if c.Points <= 0 {
			return errors.Validationf("criterion %q must have positive points", title)
		}
		switch c.Role {
		case models.RoleDeveloper, models.RolePresenter, models.RoleDesigner, models.RoleProblemSolver, models.RoleBestPerformer:
		default:
			return errors.Validationf("criterion %q has unsupported role %q", title, c.Role)
		}
		indexes[c.ConstraintIndex] = true
		titles[title] = true
	}
	return nil
}

// teamShells turns requested teams into empty named shells with ids
func teamShells(teams []models.Team) ([]models.Team, error) {
	shells := make([]models.Team, 0, len(teams))
	seen := make(map[string]bool)
	for _, t := range teams {
		name := strings.TrimSpace(t.TeamName)
		if name == "" {
			return nil, errors.Validation("team name is required")
		}
		key := models.FoldTeamName(name)
		if seen[key] {
			return nil, errors.Validationf("duplicate team name %q", name)
		}
		seen[key] = true

		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		shells = append(shells, models.Team{ID: id, TeamName: name, Members: []string{}})
	}
	return shells, nil
}

// dedupeIDs trims ids and drops blanks and repeats, keeping first-seen order
func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
