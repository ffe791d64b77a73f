package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgStore is a PostgreSQL-backed Store with hash-chained integrity.
type PgStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, now: time.Now}
}

const eventColumns = `seq, id, owner_scope_id, event_type, title, summary, CAST(amount AS TEXT), currency,
	occurred_at, created_at, actor_type, actor_user_id, actor_email,
	property_id, unit_id, tenant_id, lease_id, payment_id,
	tags, metadata, prev_hash, hash, hash_version`

const chainOrderDesc = `ORDER BY occurred_at DESC, created_at DESC, seq DESC`

// EnsureTable creates the ledger_events table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_events (
			seq            BIGSERIAL,
			id             TEXT PRIMARY KEY,
			owner_scope_id TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			title          TEXT NOT NULL,
			summary        TEXT NOT NULL DEFAULT '',
			amount         NUMERIC,
			currency       TEXT,
			occurred_at    BIGINT NOT NULL,
			created_at     BIGINT NOT NULL,
			actor_type     TEXT NOT NULL DEFAULT '',
			actor_user_id  TEXT NOT NULL DEFAULT '',
			actor_email    TEXT NOT NULL DEFAULT '',
			property_id    TEXT NOT NULL DEFAULT '',
			unit_id        TEXT NOT NULL DEFAULT '',
			tenant_id      TEXT NOT NULL DEFAULT '',
			lease_id       TEXT NOT NULL DEFAULT '',
			payment_id     TEXT NOT NULL DEFAULT '',
			tags           TEXT[] NOT NULL DEFAULT '{}',
			metadata       JSONB NOT NULL DEFAULT '{}',
			prev_hash      TEXT,
			hash           TEXT,
			hash_version   INTEGER NOT NULL DEFAULT 1
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_ledger_events_chain ON ledger_events(owner_scope_id, occurred_at DESC, created_at DESC, seq DESC)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_ledger_events_property ON ledger_events(owner_scope_id, property_id, occurred_at DESC) WHERE property_id != ''`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_ledger_events_tenant ON ledger_events(owner_scope_id, tenant_id, occurred_at DESC) WHERE tenant_id != ''`)
	return err
}

// Append links and inserts a new event in one transaction. A transaction
// scoped advisory lock on the owner serializes concurrent appends, so two
// writers never read the same latest hash.
func (s *PgStore) Append(ctx context.Context, scope string, d Draft) (*Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, scope); err != nil {
		return nil, storeError("lock scope", err)
	}

	latest, err := scanEvent(tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE owner_scope_id = $1 `+chainOrderDesc+` LIMIT 1`, scope))
	if errors.Is(err, pgx.ErrNoRows) {
		latest, err = nil, nil
	}
	if err != nil {
		return nil, storeError("read latest event", err)
	}

	e, err := seal(scope, d, latest, s.now())
	if err != nil {
		return nil, err
	}

	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_events (id, owner_scope_id, event_type, title, summary, amount, currency,
			occurred_at, created_at, actor_type, actor_user_id, actor_email,
			property_id, unit_id, tenant_id, lease_id, payment_id,
			tags, metadata, prev_hash, hash, hash_version)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19::jsonb, $20, $21, $22)
		RETURNING seq`,
		e.ID, e.OwnerScopeID, string(e.EventType), e.Title, e.Summary, decimalText(e.Amount), nilIfEmpty(e.Currency),
		e.OccurredAt, e.CreatedAt, string(e.Actor.Type), e.Actor.UserID, e.Actor.Email,
		e.PropertyID, e.UnitID, e.TenantID, e.LeaseID, e.PaymentID,
		e.Tags, string(metaJSON), e.PrevHash, e.Hash, e.HashVersion).Scan(&e.Seq)
	if err != nil {
		return nil, storeError("insert event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit event", err)
	}
	return e, nil
}

// Get retrieves a single event by ID within scope.
func (s *PgStore) Get(ctx context.Context, id, scope string) (*Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE id = $1 AND owner_scope_id = $2`, id, scope))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeError("get event "+id, err)
	}
	return e, nil
}

// List returns the scope's events newest first, optionally filtered.
func (s *PgStore) List(ctx context.Context, scope string, q Query) (Page, error) {
	limit := ClampLimit(q.Limit)

	cond := "WHERE owner_scope_id = $1"
	args := []any{scope}
	idx := 2
	if q.Cursor != nil {
		cond += fmt.Sprintf(" AND occurred_at < $%d", idx)
		args = append(args, *q.Cursor)
		idx++
	}
	if q.PropertyID != "" {
		cond += fmt.Sprintf(" AND property_id = $%d", idx)
		args = append(args, q.PropertyID)
		idx++
	}
	if q.TenantID != "" {
		cond += fmt.Sprintf(" AND tenant_id = $%d", idx)
		args = append(args, q.TenantID)
		idx++
	}
	if q.EventType != "" {
		cond += fmt.Sprintf(" AND event_type = $%d", idx)
		args = append(args, string(q.EventType))
		idx++
	}
	args = append(args, limit)

	items, err := s.scanMany(ctx, fmt.Sprintf(`SELECT %s FROM ledger_events %s %s LIMIT $%d`,
		eventColumns, cond, chainOrderDesc, idx), args...)
	if err != nil {
		return Page{}, storeError("list events", err)
	}
	return newPage(items, limit), nil
}

// Tail returns the scope's n most recent events in chain order.
func (s *PgStore) Tail(ctx context.Context, scope string, n int) ([]Event, error) {
	events, err := s.scanMany(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE owner_scope_id = $1 `+chainOrderDesc+` LIMIT $2`, scope, n)
	if err != nil {
		return nil, storeError("tail events", err)
	}
	slices.Reverse(events)
	return events, nil
}

// Chronological returns up to n events in chain order after the position.
func (s *PgStore) Chronological(ctx context.Context, scope string, after *Position, n int) ([]Event, error) {
	var events []Event
	var err error
	if after == nil {
		events, err = s.scanMany(ctx, `
			SELECT `+eventColumns+` FROM ledger_events WHERE owner_scope_id = $1
			ORDER BY occurred_at ASC, created_at ASC, seq ASC LIMIT $2`, scope, n)
	} else {
		events, err = s.scanMany(ctx, `
			SELECT `+eventColumns+` FROM ledger_events
			WHERE owner_scope_id = $1 AND (occurred_at, created_at, seq) > ($2, $3, $4)
			ORDER BY occurred_at ASC, created_at ASC, seq ASC LIMIT $5`,
			scope, after.OccurredAt, after.CreatedAt, after.Seq, n)
	}
	if err != nil {
		return nil, storeError("chronological events", err)
	}
	return events, nil
}

func (s *PgStore) scanMany(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Event, error) {
	events := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return events, nil
}

// scanEvent reads one row selected with eventColumns. Both the pgx and
// database/sql stores scan through here.
func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var eventType, actorType string
	var amount, currency, prevHash, hash *string
	var tags any
	var metaJSON []byte
	err := row.Scan(&e.Seq, &e.ID, &e.OwnerScopeID, &eventType, &e.Title, &e.Summary, &amount, &currency,
		&e.OccurredAt, &e.CreatedAt, &actorType, &e.Actor.UserID, &e.Actor.Email,
		&e.PropertyID, &e.UnitID, &e.TenantID, &e.LeaseID, &e.PaymentID,
		&tags, &metaJSON, &prevHash, &hash, &e.HashVersion)
	if err != nil {
		return nil, err
	}
	e.EventType = EventType(eventType)
	e.Actor.Type = ActorType(actorType)
	e.PrevHash = prevHash
	if hash != nil {
		e.Hash = *hash
	}
	if currency != nil {
		e.Currency = *currency
	}
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", *amount, err)
		}
		e.Amount = &d
	}
	if e.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if e.Metadata, err = decodeMetadata(metaJSON); err != nil {
		return nil, err
	}
	return &e, nil
}

// decodeTags accepts a native text array (Postgres) or a JSON array (SQLite).
func decodeTags(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected tag %T", x)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return decodeTags([]byte(t))
	case []byte:
		out := []string{}
		if len(t) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(t, &out); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected tags column type %T", v)
}

// decodeMetadata keeps numbers as json.Number so large integers hash the
// same after a round trip.
func decodeMetadata(b []byte) (Metadata, error) {
	m := Metadata{}
	if len(b) == 0 {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if m == nil {
		m = Metadata{}
	}
	return m, nil
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
