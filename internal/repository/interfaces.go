package repository

import (
	"context"

	"github.com/abrezinsky/eventxp/internal/models"
)

// UpdateFunc mutates a freshly read copy of an event inside a transaction.
// Returning an error aborts the transaction without writing anything.
type UpdateFunc func(ev *models.Event) error

// EventRepository defines event document operations.
// Every mutation is a single-document transaction except CreateChildEvent and
// DeleteEvent on a child, which also touch the parent inside the same transaction.
type EventRepository interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	CreateEvent(ctx context.Context, ev *models.Event) error
	CreateChildEvent(ctx context.Context, parentID string, child *models.Event, fn UpdateFunc) (*models.Event, error)
	UpdateEvent(ctx context.Context, id string, fn UpdateFunc) (*models.Event, error)
	DeleteEvent(ctx context.Context, id string, guard UpdateFunc) error
	QueryEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
}

// LedgerRepository defines reward ledger operations.
// Ledgers only ever change by relative increments.
type LedgerRepository interface {
	// ApplyAward adds deltas to the user's ledger fields and marks eventID as
	// applied, atomically. It returns false without changing anything when
	// eventID was already applied for this user.
	ApplyAward(ctx context.Context, userID, eventID string, deltas map[string]int64) (bool, error)
	GetLedger(ctx context.Context, userID string) (*models.Ledger, error)
	Leaderboard(ctx context.Context, limit int) ([]models.Ledger, error)
}

// FullRepository combines all repository interfaces
// Use this when a service needs access to multiple domains
type FullRepository interface {
	EventRepository
	LedgerRepository
	Ping(ctx context.Context) error
	Close() error
}

// Ensure both stores implement all interfaces
var (
	_ FullRepository = (*Repository)(nil)
	_ FullRepository = (*DynamoRepository)(nil)
)
