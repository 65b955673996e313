package services

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/repository"
)

var tracer = otel.Tracer("github.com/abrezinsky/eventxp/internal/services")

// Recorder receives domain counters. metrics.Manager implements it.
type Recorder interface {
	TransitionRecorded(from, to models.EventStatus)
	BallotRecorded(kind string)
	AwardPassFinished(outcome string, points int64, elapsed time.Duration)
	LedgerApplied(applied bool)
}

type nopRecorder struct{}

func (nopRecorder) TransitionRecorded(from, to models.EventStatus)                  {}
func (nopRecorder) BallotRecorded(kind string)                                      {}
func (nopRecorder) AwardPassFinished(outcome string, points int64, d time.Duration) {}
func (nopRecorder) LedgerApplied(applied bool)                                      {}

// Outcome is the result of a mutating operation. Warnings carry best-effort
// side effects that failed after the change was committed.
type Outcome struct {
	Event    *models.Event `json:"event"`
	Warnings []string      `json:"warnings,omitempty"`
}

// base carries collaborators shared by every event service
type base struct {
	log      logger.Logger
	now      func() time.Time
	notifier *Dispatcher
	metrics  Recorder
}

// Option configures optional service collaborators
type Option func(*base)

// WithClock overrides the service clock
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

// WithDispatcher sends notifications after committed changes
func WithDispatcher(d *Dispatcher) Option {
	return func(b *base) {
		b.notifier = d
	}
}

// WithRecorder reports domain counters to r
func WithRecorder(r Recorder) Option {
	return func(b *base) {
		if r != nil {
			b.metrics = r
		}
	}
}

func newBase(log logger.Logger, opts []Option) base {
	b := base{
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// outcome wraps ev with the warning from its notification, if any
func outcome(ev *models.Event, warnings ...string) *Outcome {
	o := &Outcome{Event: ev}
	for _, w := range warnings {
		if w != "" {
			o.Warnings = append(o.Warnings, w)
		}
	}
	return o
}

// requireOrganizer checks the caller organizes ev or is an admin
func requireOrganizer(actor models.Actor, ev *models.Event) error {
	if actor.Admin || ev.IsOrganizer(actor.UserID) {
		return nil
	}
	return ErrOrganizerOnly
}

// errUnchanged aborts an update whose desired state is already in place
var errUnchanged = stderrors.New("unchanged")

// update runs fn in a store transaction. When fn returns errUnchanged nothing
// is written and the event as fn saw it is returned with changed=false.
func update(ctx context.Context, repo repository.EventRepository, id string, fn repository.UpdateFunc) (ev *models.Event, changed bool, err error) {
	var snapshot *models.Event
	updated, err := repo.UpdateEvent(ctx, id, func(ev *models.Event) error {
		err := fn(ev)
		if err == errUnchanged {
			snapshot = ev.Clone()
		}
		return err
	})
	if err == errUnchanged {
		return snapshot, false, nil
	}
	if err != nil {
		return nil, false, storeError(err)
	}
	return updated, true, nil
}
