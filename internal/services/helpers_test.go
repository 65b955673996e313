package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/abrezinsky/eventxp/internal/errors"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/services"
)

var (
	admin = models.Actor{UserID: "root", Admin: true}
	alice = models.Actor{UserID: "alice"}
	bob   = models.Actor{UserID: "bob"}
	carol = models.Actor{UserID: "carol"}
	dave  = models.Actor{UserID: "dave"}
)

// nextWeek is a date range that starts after testutil.FixedClock
func nextWeek() models.DateRange {
	return models.DateRange{
		Start: time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 21, 17, 0, 0, 0, time.UTC),
	}
}

// recorder collects dispatched notifications
type recorder struct {
	mu   sync.Mutex
	sent []services.Notification
	err  error
}

func (r *recorder) Notify(ctx context.Context, n services.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		out = append(out, n.Type)
	}
	return out
}

func (r *recorder) last() services.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return services.Notification{}
	}
	return r.sent[len(r.sent)-1]
}

func newDispatcher(n services.Notifier) *services.Dispatcher {
	return services.NewDispatcher(logger.Discard(), n, nil, nil, time.Second)
}

// completedEvent is an individual-format event ready for voting
func completedEvent(id string) *models.Event {
	return &models.Event{
		ID:          id,
		Status:      models.StatusCompleted,
		RequestedBy: alice.UserID,
		Details: models.EventDetails{
			EventName: "Hack Night",
			Type:      "hackathon",
			Format:    models.FormatIndividual,
			Date:      nextWeek(),
		},
		Participants: []string{"bob", "carol", "dave"},
		Criteria: []models.Criterion{
			{ConstraintIndex: 0, Title: "Best Code", Points: 40, Role: models.RoleDeveloper},
			{ConstraintIndex: 1, Title: "Best Demo", Points: 20, Role: models.RolePresenter},
		},
		ChildEventIDs: []string{},
	}
}

// teamEvent is an approved team-format event with two teams
func teamEvent(id string) *models.Event {
	return &models.Event{
		ID:          id,
		Status:      models.StatusApproved,
		RequestedBy: alice.UserID,
		Details: models.EventDetails{
			EventName:      "Team Jam",
			Type:           "jam",
			Format:         models.FormatTeam,
			Date:           nextWeek(),
			MaxTeamMembers: 2,
		},
		Participants: []string{},
		Teams: []models.Team{
			{ID: "t1", TeamName: "Red", Members: []string{"bob"}, TeamLead: "bob"},
			{ID: "t2", TeamName: "Blue", Members: []string{}},
		},
		Criteria: []models.Criterion{
			{ConstraintIndex: 0, Title: "Best Build", Points: 30, Role: models.RoleDeveloper},
		},
		ChildEventIDs: []string{},
	}
}

func expectKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := errors.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}
