package mock

import (
	"context"
	"sync"

	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/repository"
)

// Repository wraps a real repository and allows injecting errors for testing.
// This provides a flexible way to test error paths without complex database manipulation.
//
// Usage:
//
//	realRepo := testutil.NewTestRepository(t)
//	mockRepo := mock.NewRepository(realRepo)
//	mockRepo.ApplyAwardErrors = map[string]error{"bob": errors.New("throttled")}
//	svc := services.NewRewardService(log, mockRepo, policy)
//	_, err := svc.AwardXP(ctx, admin, eventID)
//	// err will now be a partial failure naming bob
type Repository struct {
	repository.FullRepository

	// ===== Event Errors =====
	GetEventError         error
	CreateEventError      error
	CreateChildEventError error
	UpdateEventError      error
	DeleteEventError      error
	QueryEventsError      error

	// UpdateEventFailAfter lets that many UpdateEvent calls through before
	// UpdateEventError starts being returned. Zero fails immediately.
	UpdateEventFailAfter int

	// UpdateEventFailTimes stops failing after that many failures. Zero keeps failing.
	UpdateEventFailTimes int

	// ===== Ledger Errors =====
	ApplyAwardError   error
	GetLedgerError    error
	LeaderboardError  error
	ApplyAwardErrors  map[string]error // per user id

	// ===== Health Errors =====
	PingError error

	mu          sync.Mutex
	updateCalls int
	applied     []string
}

// NewRepository creates a mock repository wrapping a real one
func NewRepository(store repository.FullRepository) *Repository {
	return &Repository{
		FullRepository: store,
	}
}

// ===== Event Methods =====

func (m *Repository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	if m.GetEventError != nil {
		return nil, m.GetEventError
	}
	return m.FullRepository.GetEvent(ctx, id)
}

func (m *Repository) CreateEvent(ctx context.Context, ev *models.Event) error {
	if m.CreateEventError != nil {
		return m.CreateEventError
	}
	return m.FullRepository.CreateEvent(ctx, ev)
}

func (m *Repository) CreateChildEvent(ctx context.Context, parentID string, child *models.Event, fn repository.UpdateFunc) (*models.Event, error) {
	if m.CreateChildEventError != nil {
		return nil, m.CreateChildEventError
	}
	return m.FullRepository.CreateChildEvent(ctx, parentID, child, fn)
}

func (m *Repository) UpdateEvent(ctx context.Context, id string, fn repository.UpdateFunc) (*models.Event, error) {
	if m.UpdateEventError != nil {
		m.mu.Lock()
		m.updateCalls++
		fail := m.updateCalls > m.UpdateEventFailAfter
		if m.UpdateEventFailTimes > 0 && m.updateCalls > m.UpdateEventFailAfter+m.UpdateEventFailTimes {
			fail = false
		}
		m.mu.Unlock()
		if fail {
			return nil, m.UpdateEventError
		}
	}
	return m.FullRepository.UpdateEvent(ctx, id, fn)
}

func (m *Repository) DeleteEvent(ctx context.Context, id string, guard repository.UpdateFunc) error {
	if m.DeleteEventError != nil {
		return m.DeleteEventError
	}
	return m.FullRepository.DeleteEvent(ctx, id, guard)
}

func (m *Repository) QueryEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	if m.QueryEventsError != nil {
		return nil, m.QueryEventsError
	}
	return m.FullRepository.QueryEvents(ctx, filter)
}

// ===== Ledger Methods =====

func (m *Repository) ApplyAward(ctx context.Context, userID, eventID string, deltas map[string]int64) (bool, error) {
	if m.ApplyAwardError != nil {
		return false, m.ApplyAwardError
	}
	if err, ok := m.ApplyAwardErrors[userID]; ok && err != nil {
		return false, err
	}
	applied, err := m.FullRepository.ApplyAward(ctx, userID, eventID, deltas)
	if err == nil && applied {
		m.mu.Lock()
		m.applied = append(m.applied, userID)
		m.mu.Unlock()
	}
	return applied, err
}

// Applied returns the users whose award actually changed their ledger
func (m *Repository) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...)
}

func (m *Repository) GetLedger(ctx context.Context, userID string) (*models.Ledger, error) {
	if m.GetLedgerError != nil {
		return nil, m.GetLedgerError
	}
	return m.FullRepository.GetLedger(ctx, userID)
}

func (m *Repository) Leaderboard(ctx context.Context, limit int) ([]models.Ledger, error) {
	if m.LeaderboardError != nil {
		return nil, m.LeaderboardError
	}
	return m.FullRepository.Leaderboard(ctx, limit)
}

// ===== Health Methods =====

func (m *Repository) Ping(ctx context.Context) error {
	if m.PingError != nil {
		return m.PingError
	}
	return m.FullRepository.Ping(ctx)
}
