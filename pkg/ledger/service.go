package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentchain-ledger/pkg/canonical"
	"rentchain-ledger/pkg/scopelock"
)

// Input limits.
const (
	MaxTitleLen   = 200
	MaxSummaryLen = 4000
	MaxTags       = 50
	MaxTagLen     = 64
)

const (
	defaultStoreTimeout  = 5 * time.Second
	defaultVerifyTimeout = 30 * time.Second
)

// Service is the ledger API used by the rest of the application. Every call
// is bound to the caller's owner scope.
type Service struct {
	store         Store
	locker        scopelock.Locker
	storeTimeout  time.Duration
	verifyTimeout time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the in-process per-scope lock, e.g. with a Redis lock
// shared by several server processes.
func WithLocker(l scopelock.Locker) Option { return func(s *Service) { s.locker = l } }

// WithStoreTimeout bounds each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithVerifyTimeout bounds a full-chain verification.
func WithVerifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.verifyTimeout = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithTracer sets the tracer used for service spans.
func WithTracer(t trace.Tracer) Option { return func(s *Service) { s.tracer = t } }

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		locker:        scopelock.NewKeyedMutex(),
		storeTimeout:  defaultStoreTimeout,
		verifyTimeout: defaultVerifyTimeout,
		logger:        slog.Default(),
		tracer:        otel.Tracer("rentchain-ledger/ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NoteInput is a human-authored note.
type NoteInput struct {
	Title      string `json:"title"`
	Summary    string `json:"summary,omitempty"`
	PropertyID string `json:"propertyId,omitempty"`
	TenantID   string `json:"tenantId,omitempty"`
	OccurredAt *int64 `json:"occurredAt,omitempty"`
	Actor      Actor  `json:"-"`
}

// AppendEvent validates d and appends it to the scope's chain.
func (s *Service) AppendEvent(ctx context.Context, scope string, d Draft) (_ *Event, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.AppendEvent", trace.WithAttributes(
		attribute.String("ledger.scope", scope),
		attribute.String("ledger.event_type", string(d.EventType)),
	))
	defer func() { endSpan(span, err) }()

	if scope == "" {
		return nil, ErrUnauthenticated
	}
	d, err = normalizeDraft(d)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, scope)
	if err != nil {
		return nil, storeError("lock scope", err)
	}
	defer unlock()

	e, err := s.store.Append(ctx, scope, d)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("ledger.event_id", e.ID))
	s.logger.Debug("ledger event appended", "scope", scope, "id", e.ID, "type", e.EventType)
	return e, nil
}

// AppendNote appends a NOTE_ADDED event authored by n.Actor.
func (s *Service) AppendNote(ctx context.Context, scope string, n NoteInput) (*Event, error) {
	actor := n.Actor
	if actor.Type == "" {
		actor.Type = ActorLandlord
	}
	return s.AppendEvent(ctx, scope, Draft{
		EventType:  NoteAdded,
		Title:      n.Title,
		Summary:    n.Summary,
		PropertyID: n.PropertyID,
		TenantID:   n.TenantID,
		OccurredAt: n.OccurredAt,
		Actor:      actor,
	})
}

// GetEvent returns the event with id if it belongs to scope.
func (s *Service) GetEvent(ctx context.Context, scope, id string) (*Event, error) {
	if scope == "" {
		return nil, ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	e, err := s.store.Get(ctx, id, scope)
	return e, storeError("get event", err)
}

// ListEvents returns one page of the scope's events, newest first.
func (s *Service) ListEvents(ctx context.Context, scope string, q Query) (Page, error) {
	if scope == "" {
		return Page{}, ErrUnauthenticated
	}
	if q.EventType != "" && !q.EventType.Valid() {
		return Page{}, &ValidationError{Fields: []FieldError{{Field: "eventType", Message: "unknown event type"}}}
	}
	q.Limit = ClampLimit(q.Limit)

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	p, err := s.store.List(ctx, scope, q)
	return p, storeError("list events", err)
}

// VerifyChain checks the scope's most recent limit events.
func (s *Service) VerifyChain(ctx context.Context, scope string, limit int) (_ VerifyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.VerifyChain", trace.WithAttributes(
		attribute.String("ledger.scope", scope),
		attribute.Int("ledger.limit", limit),
	))
	defer func() { endSpan(span, err) }()

	if scope == "" {
		return VerifyResult{}, ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	res, err := VerifyChain(ctx, s.store, scope, limit)
	if err != nil {
		return VerifyResult{}, storeError("verify chain", err)
	}
	s.report(span, scope, res)
	return res, nil
}

// VerifyFullChain checks the scope's whole chain from its first event.
func (s *Service) VerifyFullChain(ctx context.Context, scope string) (_ VerifyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.VerifyFullChain", trace.WithAttributes(
		attribute.String("ledger.scope", scope),
	))
	defer func() { endSpan(span, err) }()

	if scope == "" {
		return VerifyResult{}, ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	res, err := VerifyFullChain(ctx, s.store, scope)
	if err != nil {
		return VerifyResult{}, storeError("verify full chain", err)
	}
	s.report(span, scope, res)
	return res, nil
}

func (s *Service) report(span trace.Span, scope string, res VerifyResult) {
	span.SetAttributes(
		attribute.Bool("ledger.ok", res.OK),
		attribute.Int("ledger.checked", res.Checked),
	)
	if !res.OK {
		s.logger.Warn("ledger chain broken",
			"scope", scope,
			"checked", res.Checked,
			"first_bad_id", res.FirstBadID,
			"reason", res.Reason,
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// normalizeDraft trims and checks d, collecting every field problem.
func normalizeDraft(d Draft) (Draft, error) {
	var fields []FieldError
	bad := func(field, msg string) { fields = append(fields, FieldError{Field: field, Message: msg}) }

	if d.Hash != "" {
		bad("hash", "is computed by the ledger and cannot be supplied")
	}
	if d.PrevHash != nil {
		bad("prevHash", "is computed by the ledger and cannot be supplied")
	}
	d.Hash, d.PrevHash = "", nil

	d.Title = strings.TrimSpace(d.Title)
	switch {
	case d.Title == "":
		bad("title", "is required")
	case utf8.RuneCountInString(d.Title) > MaxTitleLen:
		bad("title", "is too long")
	}
	d.Summary = strings.TrimSpace(d.Summary)
	if utf8.RuneCountInString(d.Summary) > MaxSummaryLen {
		bad("summary", "is too long")
	}

	if !d.EventType.Valid() {
		bad("eventType", "unknown event type")
	}
	switch d.Actor.Type {
	case "":
		d.Actor.Type = ActorSystem
	case ActorLandlord, ActorSystem:
	default:
		bad("actor.type", "unknown actor type")
	}

	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	switch {
	case d.Amount == nil:
		d.Currency = ""
	case d.Currency == "":
		d.Currency = DefaultCurrency
	case d.Currency != CAD && d.Currency != USD:
		bad("currency", "must be CAD or USD")
	}
	if d.Amount != nil {
		// Amounts are hashed as JSON numbers and must survive that encoding.
		if _, err := canonical.Bytes(json.Number(d.Amount.String())); err != nil {
			bad("amount", "is out of range")
		}
	}

	if d.OccurredAt != nil && *d.OccurredAt < 0 {
		bad("occurredAt", "must be epoch milliseconds")
	}

	d.PropertyID = strings.TrimSpace(d.PropertyID)
	d.UnitID = strings.TrimSpace(d.UnitID)
	d.TenantID = strings.TrimSpace(d.TenantID)
	d.LeaseID = strings.TrimSpace(d.LeaseID)
	d.PaymentID = strings.TrimSpace(d.PaymentID)

	if len(d.Tags) > MaxTags {
		bad("tags", "too many tags")
	}
	tags := make([]string, 0, len(d.Tags))
	for _, tag := range d.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || len(tag) > MaxTagLen {
			bad("tags", "each tag must be 1 to 64 bytes")
			continue
		}
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	d.Tags = slices.Compact(tags)

	if d.Metadata != nil {
		if _, err := canonical.Bytes(d.Metadata); err != nil {
			bad("metadata", "must be JSON encodable")
		}
	}

	if len(fields) > 0 {
		return d, &ValidationError{Fields: fields}
	}
	return d, nil
}
