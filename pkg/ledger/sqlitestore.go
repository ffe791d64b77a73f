package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// SQLiteStore is a Store over database/sql for single-node deployments,
// typically backed by the modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
	// SQLite allows one writer; the mutex keeps appends from racing for it
	// and from reading the same latest event.
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteStore wraps an open database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// EnsureTable creates the ledger_events table if it doesn't exist.
func (s *SQLiteStore) EnsureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_events (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT NOT NULL UNIQUE,
			owner_scope_id TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			title          TEXT NOT NULL,
			summary        TEXT NOT NULL DEFAULT '',
			amount         TEXT,
			currency       TEXT,
			occurred_at    INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			actor_type     TEXT NOT NULL DEFAULT '',
			actor_user_id  TEXT NOT NULL DEFAULT '',
			actor_email    TEXT NOT NULL DEFAULT '',
			property_id    TEXT NOT NULL DEFAULT '',
			unit_id        TEXT NOT NULL DEFAULT '',
			tenant_id      TEXT NOT NULL DEFAULT '',
			lease_id       TEXT NOT NULL DEFAULT '',
			payment_id     TEXT NOT NULL DEFAULT '',
			tags           TEXT NOT NULL DEFAULT '[]',
			metadata       TEXT NOT NULL DEFAULT '{}',
			prev_hash      TEXT,
			hash           TEXT,
			hash_version   INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_chain ON ledger_events(owner_scope_id, occurred_at, created_at, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_property ON ledger_events(owner_scope_id, property_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_tenant ON ledger_events(owner_scope_id, tenant_id, occurred_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

// Append links and inserts a new event in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, scope string, d Draft) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeError("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	latest, err := scanEvent(tx.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE owner_scope_id = ? `+chainOrderDesc+` LIMIT 1`, scope))
	if errors.Is(err, sql.ErrNoRows) {
		latest, err = nil, nil
	}
	if err != nil {
		return nil, storeError("read latest event", err)
	}

	e, err := seal(scope, d, latest, s.now())
	if err != nil {
		return nil, err
	}

	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_events (id, owner_scope_id, event_type, title, summary, amount, currency,
			occurred_at, created_at, actor_type, actor_user_id, actor_email,
			property_id, unit_id, tenant_id, lease_id, payment_id,
			tags, metadata, prev_hash, hash, hash_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerScopeID, string(e.EventType), e.Title, e.Summary, decimalText(e.Amount), nilIfEmpty(e.Currency),
		e.OccurredAt, e.CreatedAt, string(e.Actor.Type), e.Actor.UserID, e.Actor.Email,
		e.PropertyID, e.UnitID, e.TenantID, e.LeaseID, e.PaymentID,
		string(tagsJSON), string(metaJSON), e.PrevHash, e.Hash, e.HashVersion)
	if err != nil {
		return nil, storeError("insert event", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return nil, storeError("insert event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError("commit event", err)
	}
	return e, nil
}

// Get retrieves a single event by ID within scope.
func (s *SQLiteStore) Get(ctx context.Context, id, scope string) (*Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE id = ? AND owner_scope_id = ?`, id, scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeError("get event "+id, err)
	}
	return e, nil
}

// List returns the scope's events newest first, optionally filtered.
func (s *SQLiteStore) List(ctx context.Context, scope string, q Query) (Page, error) {
	limit := ClampLimit(q.Limit)

	cond := "WHERE owner_scope_id = ?"
	args := []any{scope}
	if q.Cursor != nil {
		cond += " AND occurred_at < ?"
		args = append(args, *q.Cursor)
	}
	if q.PropertyID != "" {
		cond += " AND property_id = ?"
		args = append(args, q.PropertyID)
	}
	if q.TenantID != "" {
		cond += " AND tenant_id = ?"
		args = append(args, q.TenantID)
	}
	if q.EventType != "" {
		cond += " AND event_type = ?"
		args = append(args, string(q.EventType))
	}
	args = append(args, limit)

	items, err := s.scanMany(ctx, `SELECT `+eventColumns+` FROM ledger_events `+cond+` `+chainOrderDesc+` LIMIT ?`, args...)
	if err != nil {
		return Page{}, storeError("list events", err)
	}
	return newPage(items, limit), nil
}

// Tail returns the scope's n most recent events in chain order.
func (s *SQLiteStore) Tail(ctx context.Context, scope string, n int) ([]Event, error) {
	events, err := s.scanMany(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE owner_scope_id = ? `+chainOrderDesc+` LIMIT ?`, scope, n)
	if err != nil {
		return nil, storeError("tail events", err)
	}
	slices.Reverse(events)
	return events, nil
}

// Chronological returns up to n events in chain order after the position.
func (s *SQLiteStore) Chronological(ctx context.Context, scope string, after *Position, n int) ([]Event, error) {
	var events []Event
	var err error
	if after == nil {
		events, err = s.scanMany(ctx, `
			SELECT `+eventColumns+` FROM ledger_events WHERE owner_scope_id = ?
			ORDER BY occurred_at ASC, created_at ASC, seq ASC LIMIT ?`, scope, n)
	} else {
		events, err = s.scanMany(ctx, `
			SELECT `+eventColumns+` FROM ledger_events
			WHERE owner_scope_id = ? AND (occurred_at, created_at, seq) > (?, ?, ?)
			ORDER BY occurred_at ASC, created_at ASC, seq ASC LIMIT ?`,
			scope, after.OccurredAt, after.CreatedAt, after.Seq, n)
	}
	if err != nil {
		return nil, storeError("chronological events", err)
	}
	return events, nil
}

func (s *SQLiteStore) scanMany(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}
