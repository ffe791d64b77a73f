package ledger

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process Store for tests, the CLI and single-node
// development. Events are kept per scope in chain order.
type MemStore struct {
	mu     sync.RWMutex
	scopes map[string][]*Event
	byID   map[string]*Event
	seq    int64
	now    func() time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		scopes: make(map[string][]*Event),
		byID:   make(map[string]*Event),
		now:    time.Now,
	}
}

// EnsureTable is a no-op; MemStore has no schema.
func (s *MemStore) EnsureTable(ctx context.Context) error { return nil }

// Append links and stores a new event. The whole read-link-write runs under
// the store lock, so appends to one scope never fork.
func (s *MemStore) Append(ctx context.Context, scope string, d Draft) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("append event", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Event
	if chain := s.scopes[scope]; len(chain) > 0 {
		latest = chain[len(chain)-1]
	}
	e, err := seal(scope, d, latest, s.now())
	if err != nil {
		return nil, err
	}
	s.seq++
	e.Seq = s.seq

	s.scopes[scope] = append(s.scopes[scope], e)
	s.byID[e.ID] = e
	return copyEvent(e), nil
}

// Get returns the event with id when it belongs to scope.
func (s *MemStore) Get(ctx context.Context, id, scope string) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("get event", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok || e.OwnerScopeID != scope {
		return nil, ErrNotFound
	}
	return copyEvent(e), nil
}

// List returns the scope's events newest first.
func (s *MemStore) List(ctx context.Context, scope string, q Query) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, storeError("list events", err)
	}
	limit := ClampLimit(q.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.scopes[scope]
	items := []Event{}
	for i := len(chain) - 1; i >= 0 && len(items) < limit; i-- {
		e := chain[i]
		if q.Cursor != nil && e.OccurredAt >= *q.Cursor {
			continue
		}
		if !matches(e, q.Filter) {
			continue
		}
		items = append(items, *copyEvent(e))
	}
	return newPage(items, limit), nil
}

// Tail returns the last n events of the scope in chain order.
func (s *MemStore) Tail(ctx context.Context, scope string, n int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("tail events", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.scopes[scope]
	start := max(len(chain)-n, 0)
	out := make([]Event, 0, len(chain)-start)
	for _, e := range chain[start:] {
		out = append(out, *copyEvent(e))
	}
	return out, nil
}

// Chronological returns up to n events after the given position.
func (s *MemStore) Chronological(ctx context.Context, scope string, after *Position, n int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("chronological events", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.scopes[scope] {
		if len(out) >= n {
			break
		}
		if after != nil && !after.Before(e.Position()) {
			continue
		}
		out = append(out, *copyEvent(e))
	}
	return out, nil
}

func matches(e *Event, f Filter) bool {
	if f.PropertyID != "" && e.PropertyID != f.PropertyID {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	return true
}

// newPage sets NextCursor only when a full page came back.
func newPage(items []Event, limit int) Page {
	p := Page{Items: items}
	if len(items) == limit && limit > 0 {
		c := items[len(items)-1].OccurredAt
		p.NextCursor = &c
	}
	return p
}

// copyEvent returns a copy that shares no mutable state with the stored event.
func copyEvent(e *Event) *Event {
	cp := *e
	if e.PrevHash != nil {
		h := *e.PrevHash
		cp.PrevHash = &h
	}
	if e.Amount != nil {
		a := *e.Amount
		cp.Amount = &a
	}
	cp.Tags = append([]string{}, e.Tags...)
	cp.Metadata = make(Metadata, len(e.Metadata))
	for k, v := range e.Metadata {
		cp.Metadata[k] = copyValue(v)
	}
	return &cp
}
