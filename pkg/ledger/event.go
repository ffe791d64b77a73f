package ledger

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// EventType is the closed set of ledger event kinds.
type EventType string

const (
	PropertyCreated EventType = "PROPERTY_CREATED"
	UnitCreated     EventType = "UNIT_CREATED"
	TenantCreated   EventType = "TENANT_CREATED"
	LeaseCreated    EventType = "LEASE_CREATED"
	PaymentRecorded EventType = "PAYMENT_RECORDED"
	PaymentUpdated  EventType = "PAYMENT_UPDATED"
	NoteAdded       EventType = "NOTE_ADDED"
	StatusChanged   EventType = "STATUS_CHANGED"
)

// EventTypes lists every accepted EventType.
var EventTypes = []EventType{
	PropertyCreated, UnitCreated, TenantCreated, LeaseCreated,
	PaymentRecorded, PaymentUpdated, NoteAdded, StatusChanged,
}

// Valid reports whether t is one of EventTypes.
func (t EventType) Valid() bool { return slices.Contains(EventTypes, t) }

// ActorType identifies who caused an event.
type ActorType string

const (
	ActorLandlord ActorType = "LANDLORD"
	ActorSystem   ActorType = "SYSTEM"
)

// Actor is the principal behind an event.
type Actor struct {
	Type   ActorType `json:"type"`
	UserID string    `json:"userId,omitempty"`
	Email  string    `json:"email,omitempty"`
}

// Currencies accepted alongside an amount. DefaultCurrency applies when an
// amount arrives without one.
const (
	CAD             = "CAD"
	USD             = "USD"
	DefaultCurrency = CAD
)

// Metadata is an opaque key/value bag carried by an event. It is hashed like
// any other nested value.
type Metadata map[string]any

// Event is one immutable record in an owner's hash chain.
type Event struct {
	ID           string           `json:"id"`
	OwnerScopeID string           `json:"ownerScopeId"`
	EventType    EventType        `json:"eventType"`
	Title        string           `json:"title"`
	Summary      string           `json:"summary,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	OccurredAt   int64            `json:"occurredAt"` // epoch millis, chain ordering key
	CreatedAt    int64            `json:"createdAt"`  // epoch millis, store assigned
	Actor        Actor            `json:"actor"`
	PropertyID   string           `json:"propertyId,omitempty"`
	UnitID       string           `json:"unitId,omitempty"`
	TenantID     string           `json:"tenantId,omitempty"`
	LeaseID      string           `json:"leaseId,omitempty"`
	PaymentID    string           `json:"paymentId,omitempty"`
	Tags         []string         `json:"tags"`
	Metadata     Metadata         `json:"metadata"`
	PrevHash     *string          `json:"prevHash"`
	Hash         string           `json:"hash"`
	HashVersion  int              `json:"hashVersion"`
	Seq          int64            `json:"seq"` // store insertion order, not hashed
}

// Position locates an event in chain order.
type Position struct {
	OccurredAt int64
	CreatedAt  int64
	Seq        int64
}

// Position returns the chain-order position of e.
func (e *Event) Position() Position {
	return Position{OccurredAt: e.OccurredAt, CreatedAt: e.CreatedAt, Seq: e.Seq}
}

// Before reports whether p sorts strictly before q in chain order.
func (p Position) Before(q Position) bool {
	if p.OccurredAt != q.OccurredAt {
		return p.OccurredAt < q.OccurredAt
	}
	if p.CreatedAt != q.CreatedAt {
		return p.CreatedAt < q.CreatedAt
	}
	return p.Seq < q.Seq
}

// Draft carries the caller-controlled fields of a new event. Hash, PrevHash,
// CreatedAt and ID are always assigned by the store.
type Draft struct {
	EventType  EventType        `json:"eventType"`
	Title      string           `json:"title"`
	Summary    string           `json:"summary,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	OccurredAt *int64           `json:"occurredAt,omitempty"` // nil: now, or the latest event's time if later
	Actor      Actor            `json:"actor"`
	PropertyID string           `json:"propertyId,omitempty"`
	UnitID     string           `json:"unitId,omitempty"`
	TenantID   string           `json:"tenantId,omitempty"`
	LeaseID    string           `json:"leaseId,omitempty"`
	PaymentID  string           `json:"paymentId,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
	Metadata   Metadata         `json:"metadata,omitempty"`

	// Rejected when set; present so decoded requests can be checked.
	Hash     string  `json:"hash,omitempty"`
	PrevHash *string `json:"prevHash,omitempty"`
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	PropertyID string
	TenantID   string
	EventType  EventType
}

// Query is a page request for List.
type Query struct {
	Filter
	Limit  int
	Cursor *int64 // exclusive upper bound on OccurredAt
}

// Page is one page of a listing, newest first.
type Page struct {
	Items      []Event `json:"items"`
	NextCursor *int64  `json:"nextCursor,omitempty"`
}

// Listing bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ClampLimit bounds a requested page size to 1..MaxListLimit.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}

// buildEvent turns a normalized draft into an unhashed event. The event
// takes its own copy of the draft's tags and metadata.
func buildEvent(scope string, d Draft, occurredAt, createdAt int64) (Event, error) {
	tags := append([]string{}, d.Tags...)
	meta, err := cloneMetadata(d.Metadata)
	if err != nil {
		return Event{}, err
	}
	return Event{
		OwnerScopeID: scope,
		EventType:    d.EventType,
		Title:        d.Title,
		Summary:      d.Summary,
		Amount:       d.Amount,
		Currency:     d.Currency,
		OccurredAt:   occurredAt,
		CreatedAt:    createdAt,
		Actor:        d.Actor,
		PropertyID:   d.PropertyID,
		UnitID:       d.UnitID,
		TenantID:     d.TenantID,
		LeaseID:      d.LeaseID,
		PaymentID:    d.PaymentID,
		Tags:         tags,
		Metadata:     meta,
		HashVersion:  HashVersion,
	}, nil
}

// cloneMetadata deep-copies m through its JSON form, so nested values are
// never shared with the caller.
func cloneMetadata(m Metadata) (Metadata, error) {
	if len(m) == 0 {
		return Metadata{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("copy metadata: %w", err)
	}
	return decodeMetadata(b)
}

// copyValue deep-copies a decoded JSON value.
func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = copyValue(x)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = copyValue(x)
		}
		return out
	}
	return v
}
