package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abrezinsky/eventxp/internal/models"
)

const defaultMaxRetries = 5

var tracer = otel.Tracer("github.com/abrezinsky/eventxp/internal/repository")

// Repository provides data access methods on SQLite
type Repository struct {
	db         *sql.DB
	maxRetries int
	now        func() time.Time

	// beforeWrite runs between the read and the write of every optimistic
	// transaction. Tests use it to simulate a concurrent writer.
	beforeWrite func()
}

// Option configures a store
type Option func(*storeOptions)

type storeOptions struct {
	maxRetries int
	now        func() time.Time
}

// WithMaxRetries bounds how many times a transaction is retried on version conflict
func WithMaxRetries(n int) Option {
	return func(o *storeOptions) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithClock overrides the clock used for created/updated stamps
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{
		maxRetries: defaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates a new Repository
func New(dbPath string, opts ...Option) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	o := buildOptions(opts)
	repo := &Repository{db: db, maxRetries: o.maxRetries, now: o.now}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, err
	}

	return repo, nil
}

// DB returns the underlying database connection (for transactions)
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			requested_by TEXT NOT NULL,
			parent_event_id TEXT,
			body TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_members (
			event_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			relation TEXT NOT NULL,
			PRIMARY KEY (event_id, user_id, relation),
			FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_fields (
			user_id TEXT NOT NULL,
			field TEXT NOT NULL,
			value INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, field)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_awards (
			user_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			applied_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON events(status)`,
		`CREATE INDEX IF NOT EXISTS idx_events_requested_by ON events(requested_by)`,
		`CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_members_user ON event_members(user_id, relation)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

// ==================== Event Methods ====================

// rowQueryer is satisfied by both *sql.DB and *sql.Tx
type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetEvent retrieves an event document by id
func (r *Repository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return r.getEvent(ctx, r.db, id)
}

func (r *Repository) getEvent(ctx context.Context, q rowQueryer, id string) (*models.Event, error) {
	var body string
	var version int64
	err := q.QueryRowContext(ctx, `SELECT body, version FROM events WHERE id = ?`, id).Scan(&body, &version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeEvent(body, version)
}

func decodeEvent(body string, version int64) (*models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	ev.Version = version
	ev.EnsureMaps()
	return &ev, nil
}

// CreateEvent inserts a new event document at version 1
func (r *Repository) CreateEvent(ctx context.Context, ev *models.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) insertEvent(ctx context.Context, tx *sql.Tx, ev *models.Event) error {
	now := r.now()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	ev.Version = 1

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, status, requested_by, parent_event_id, body, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, string(ev.Status), ev.RequestedBy, nullString(ev.ParentEventID), string(body), ev.Version, ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		if isConstraintError(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return syncMembers(ctx, tx, ev)
}

// updateRow writes ev only if the stored version still equals expected
func (r *Repository) updateRow(ctx context.Context, tx *sql.Tx, ev *models.Event, expected int64) (bool, error) {
	ev.Version = expected + 1
	ev.UpdatedAt = r.now()

	body, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("encode event: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET status = ?, requested_by = ?, parent_event_id = ?, body = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, string(ev.Status), ev.RequestedBy, nullString(ev.ParentEventID), string(body), ev.Version, ev.UpdatedAt, ev.ID, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return true, syncMembers(ctx, tx, ev)
}

// UpdateEvent runs fn against a fresh copy of the event and writes the result
// if nobody else wrote the document in between. fn may run more than once.
func (r *Repository) UpdateEvent(ctx context.Context, id string, fn UpdateFunc) (*models.Event, error) {
	ctx, span := tracer.Start(ctx, "repository.UpdateEvent", trace.WithAttributes(attribute.String("event.id", id)))
	defer span.End()

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		current, err := r.getEvent(ctx, r.db, id)
		if err != nil {
			return nil, endSpan(span, err)
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}

		ok, err := r.commit(ctx, func(tx *sql.Tx) (bool, error) {
			return r.updateRow(ctx, tx, next, current.Version)
		})
		if err != nil {
			return nil, endSpan(span, err)
		}
		if ok {
			return next, nil
		}
		span.AddEvent("version conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
	}
	return nil, endSpan(span, ErrVersionConflict)
}

// CreateChildEvent updates the parent through fn and inserts child in one transaction
func (r *Repository) CreateChildEvent(ctx context.Context, parentID string, child *models.Event, fn UpdateFunc) (*models.Event, error) {
	ctx, span := tracer.Start(ctx, "repository.CreateChildEvent", trace.WithAttributes(attribute.String("event.parent_id", parentID)))
	defer span.End()

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		parent, err := r.getEvent(ctx, r.db, parentID)
		if err != nil {
			return nil, endSpan(span, err)
		}

		next := parent.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}

		ok, err := r.commit(ctx, func(tx *sql.Tx) (bool, error) {
			ok, err := r.updateRow(ctx, tx, next, parent.Version)
			if err != nil || !ok {
				return false, err
			}
			return true, r.insertEvent(ctx, tx, child)
		})
		if err != nil {
			return nil, endSpan(span, err)
		}
		if ok {
			return next, nil
		}
	}
	return nil, endSpan(span, ErrVersionConflict)
}

// DeleteEvent removes the event if guard accepts it. A child is also removed
// from its parent's child list in the same transaction.
func (r *Repository) DeleteEvent(ctx context.Context, id string, guard UpdateFunc) error {
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		current, err := r.getEvent(ctx, r.db, id)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(current.Clone()); err != nil {
				return err
			}
		}

		ok, err := r.commit(ctx, func(tx *sql.Tx) (bool, error) {
			res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ? AND version = ?`, id, current.Version)
			if err != nil {
				return false, err
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				return false, err
			}
			if current.ParentEventID == "" {
				return true, nil
			}

			parent, err := r.getEvent(ctx, tx, current.ParentEventID)
			if err == ErrNotFound {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			parent.ChildEventIDs = removeString(parent.ChildEventIDs, id)
			return r.updateRow(ctx, tx, parent, parent.Version)
		})
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrVersionConflict
}

// commit runs write inside a transaction and commits only when it reports success
func (r *Repository) commit(ctx context.Context, write func(tx *sql.Tx) (bool, error)) (bool, error) {
	if r.beforeWrite != nil {
		r.beforeWrite()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ok, err := write(tx)
	if err != nil || !ok {
		return false, err
	}
	return true, tx.Commit()
}

// QueryEvents lists events matching filter, ordered by creation time
func (r *Repository) QueryEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	query := `SELECT e.body, e.version FROM events e WHERE 1 = 1`
	var args []any

	if filter.Status != "" {
		query += ` AND e.status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RequestedBy != "" {
		query += ` AND e.requested_by = ?`
		args = append(args, filter.RequestedBy)
	}
	if filter.ParentEventID != "" {
		query += ` AND e.parent_event_id = ?`
		args = append(args, filter.ParentEventID)
	}
	if filter.Organizer != "" {
		query += ` AND EXISTS (SELECT 1 FROM event_members m WHERE m.event_id = e.id AND m.user_id = ? AND m.relation = 'organizer')`
		args = append(args, filter.Organizer)
	}
	if filter.Member != "" {
		query += ` AND EXISTS (SELECT 1 FROM event_members m WHERE m.event_id = e.id AND m.user_id = ? AND m.relation = 'member')`
		args = append(args, filter.Member)
	}

	if filter.NewestFirst {
		query += ` ORDER BY e.created_at DESC, e.id DESC`
	} else {
		query += ` ORDER BY e.created_at ASC, e.id ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var body string
		var version int64
		if err := rows.Scan(&body, &version); err != nil {
			return nil, err
		}
		ev, err := decodeEvent(body, version)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// syncMembers rebuilds the membership index rows for ev
func syncMembers(ctx context.Context, tx *sql.Tx, ev *models.Event) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_members WHERE event_id = ?`, ev.ID); err != nil {
		return err
	}
	for _, userID := range ev.AllOrganizers() {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO event_members (event_id, user_id, relation) VALUES (?, ?, 'organizer')`, ev.ID, userID); err != nil {
			return err
		}
	}
	for _, userID := range append(append([]string(nil), ev.Participants...), ev.TeamMemberFlatList...) {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO event_members (event_id, user_id, relation) VALUES (?, ?, 'member')`, ev.ID, userID); err != nil {
			return err
		}
	}
	return nil
}

// ==================== Ledger Methods ====================

// ApplyAward increments ledger fields once per (user, event)
func (r *Repository) ApplyAward(ctx context.Context, userID, eventID string, deltas map[string]int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO ledger_awards (user_id, event_id, applied_at) VALUES (?, ?, ?)`, userID, eventID, r.now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	fields := make([]string, 0, len(deltas))
	for field := range deltas {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_fields (user_id, field, value) VALUES (?, ?, ?)
			ON CONFLICT(user_id, field) DO UPDATE SET value = value + excluded.value
		`, userID, field, deltas[field])
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetLedger returns a user's ledger. A user who never earned anything has an empty ledger.
func (r *Repository) GetLedger(ctx context.Context, userID string) (*models.Ledger, error) {
	ledger := &models.Ledger{UserID: userID, Fields: map[string]int64{}}

	rows, err := r.db.QueryContext(ctx, `SELECT field, value FROM ledger_fields WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var field string
		var value int64
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		ledger.Fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	awardRows, err := r.db.QueryContext(ctx, `SELECT event_id FROM ledger_awards WHERE user_id = ? ORDER BY event_id`, userID)
	if err != nil {
		return nil, err
	}
	defer awardRows.Close()
	for awardRows.Next() {
		var eventID string
		if err := awardRows.Scan(&eventID); err != nil {
			return nil, err
		}
		ledger.AwardedEvents = append(ledger.AwardedEvents, eventID)
	}
	return ledger, awardRows.Err()
}

// Leaderboard returns the ledgers with the highest total XP
func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]models.Ledger, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, SUM(value) AS total
		FROM ledger_fields
		WHERE field LIKE 'xp\_%' ESCAPE '\'
		GROUP BY user_id
		ORDER BY total DESC, user_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	var userIDs []string
	for rows.Next() {
		var userID string
		var total int64
		if err := rows.Scan(&userID, &total); err != nil {
			rows.Close()
			return nil, err
		}
		userIDs = append(userIDs, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	board := make([]models.Ledger, 0, len(userIDs))
	for _, userID := range userIDs {
		ledger, err := r.GetLedger(ctx, userID)
		if err != nil {
			return nil, err
		}
		board = append(board, *ledger)
	}
	return board, nil
}

// ==================== Helpers ====================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return stderrors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func removeString(list []string, v string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
