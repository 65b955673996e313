package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/repository"
)

// NewTestRepository creates a new in-memory repository for testing.
// Each call creates a fresh database with all migrations applied.
func NewTestRepository(t *testing.T, opts ...repository.Option) *repository.Repository {
	t.Helper()

	repo, err := repository.New(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}

	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}

// FixedClock returns a clock frozen at a known instant
func FixedClock() func() time.Time {
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	return func() time.Time { return at }
}

// SeedEvent stores ev directly, bypassing lifecycle checks, and returns the stored copy
func SeedEvent(t *testing.T, repo repository.EventRepository, ev *models.Event) *models.Event {
	t.Helper()

	ev.EnsureMaps()
	if ev.Status == "" {
		ev.Status = models.StatusApproved
	}
	if ev.Details.Format == "" {
		ev.Details.Format = models.FormatIndividual
	}
	if ev.Participants == nil {
		ev.Participants = []string{}
	}
	if ev.TeamMemberFlatList == nil {
		ev.RecomputeMemberList()
	}

	ctx := context.Background()
	if err := repo.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("failed to seed event %s: %v", ev.ID, err)
	}
	stored, err := repo.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("failed to reload event %s: %v", ev.ID, err)
	}
	return stored
}
