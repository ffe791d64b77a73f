package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the contract for ledger persistence. Append is the only mutator.
type Store interface {
	// Append links d to the scope's latest event, hashes it and persists it.
	Append(ctx context.Context, scope string, d Draft) (*Event, error)

	// Get returns the event with id if it belongs to scope, else ErrNotFound.
	Get(ctx context.Context, id, scope string) (*Event, error)

	// List returns a page of the scope's events, newest first.
	List(ctx context.Context, scope string, q Query) (Page, error)

	// Tail returns up to n of the scope's most recent events in chain order.
	Tail(ctx context.Context, scope string, n int) ([]Event, error)

	// Chronological returns up to n events in chain order strictly after
	// the given position; a nil position starts at the genesis event.
	Chronological(ctx context.Context, scope string, after *Position, n int) ([]Event, error)

	// EnsureTable creates the backing schema if it doesn't exist.
	EnsureTable(ctx context.Context) error
}

// seal builds the event for d, links it after latest (nil for a new chain)
// and computes its hash. Every Store implementation appends through here.
func seal(scope string, d Draft, latest *Event, now time.Time) (*Event, error) {
	createdAt := now.UnixMilli()
	occurredAt := createdAt
	if d.OccurredAt != nil {
		occurredAt = *d.OccurredAt
	}

	var prevHash *string
	if latest != nil {
		// An omitted occurredAt never lands before a future-dated predecessor.
		if d.OccurredAt == nil && occurredAt < latest.OccurredAt {
			occurredAt = latest.OccurredAt
		}
		if occurredAt < latest.OccurredAt {
			return nil, ErrBackdated
		}
		// Keep createdAt monotonic so equal occurredAt values stay ordered.
		if createdAt < latest.CreatedAt {
			createdAt = latest.CreatedAt
		}
		h := latest.Hash
		prevHash = &h
	}

	e, err := buildEvent(scope, d, occurredAt, createdAt)
	if err != nil {
		return nil, fmt.Errorf("seal event: %w", err)
	}
	e.ID = uuid.Must(uuid.NewV7()).String()
	e.PrevHash = prevHash

	hash, err := ComputeEventHash(&e, prevHash)
	if err != nil {
		// A partially hashed event would break every later link.
		return nil, fmt.Errorf("seal event: %w", err)
	}
	e.Hash = hash
	return &e, nil
}
