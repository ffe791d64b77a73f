package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemStoreAppendLinks(t *testing.T) {
	s := NewMemStore()
	events := appendN(t, s, "L1", 5)

	for i, e := range events {
		if e.Seq == 0 || e.ID == "" || e.Hash == "" {
			t.Fatalf("event %d missing store fields: %+v", i, e)
		}
		if i == 0 {
			if e.PrevHash != nil {
				t.Fatal("genesis event should have nil prevHash")
			}
			continue
		}
		if e.PrevHash == nil || *e.PrevHash != events[i-1].Hash {
			t.Fatalf("event %d not linked to %d", i, i-1)
		}
	}
}

func TestMemStoreRejectsBackdated(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if _, err := s.Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "a", OccurredAt: at(2000)}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "b", OccurredAt: at(1000)})
	if !errors.Is(err, ErrBackdated) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrBackdated, got %v", err)
	}

	// Other scopes have their own chain.
	if _, err := s.Append(ctx, "L2", Draft{EventType: NoteAdded, Title: "c", OccurredAt: at(1000)}); err != nil {
		t.Fatal(err)
	}
}

func TestMemStoreCreatedAtMonotonic(t *testing.T) {
	s := NewMemStore()
	clock := time.UnixMilli(5000)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	a, _ := s.Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "a", OccurredAt: at(100)})
	clock = time.UnixMilli(4000) // wall clock stepped back
	b, _ := s.Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "b", OccurredAt: at(100)})

	if b.CreatedAt < a.CreatedAt {
		t.Fatalf("createdAt went backwards: %d < %d", b.CreatedAt, a.CreatedAt)
	}
	if !a.Position().Before(b.Position()) {
		t.Fatal("later append should sort after earlier one")
	}
}

func TestMemStoreDefaultsOccurredAt(t *testing.T) {
	s := NewMemStore()
	s.now = func() time.Time { return time.UnixMilli(7777) }
	e, err := s.Append(context.Background(), "L1", Draft{EventType: NoteAdded, Title: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if e.OccurredAt != 7777 || e.CreatedAt != 7777 {
		t.Fatalf("expected occurredAt and createdAt 7777, got %d %d", e.OccurredAt, e.CreatedAt)
	}
}

func TestMemStoreGetScoped(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	e := appendN(t, s, "L1", 1)[0]

	got, err := s.Get(ctx, e.ID, "L1")
	if err != nil || got.ID != e.ID {
		t.Fatalf("expected %s, got %v %v", e.ID, got, err)
	}
	if _, err := s.Get(ctx, e.ID, "L2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-scope get should be not found, got %v", err)
	}
	if _, err := s.Get(ctx, "missing", "L1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemStoreListPaging(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	appendN(t, s, "L1", 5) // occurredAt 1000..1004

	page, err := s.List(ctx, "L1", Query{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.Items[0].OccurredAt != 1004 || page.Items[1].OccurredAt != 1003 {
		t.Fatalf("unexpected first page: %+v", page.Items)
	}
	if page.NextCursor == nil || *page.NextCursor != 1003 {
		t.Fatalf("expected cursor 1003, got %v", page.NextCursor)
	}

	page, _ = s.List(ctx, "L1", Query{Limit: 2, Cursor: page.NextCursor})
	if len(page.Items) != 2 || page.Items[0].OccurredAt != 1002 {
		t.Fatalf("unexpected second page: %+v", page.Items)
	}

	page, _ = s.List(ctx, "L1", Query{Limit: 2, Cursor: page.NextCursor})
	if len(page.Items) != 1 || page.NextCursor != nil {
		t.Fatalf("expected short last page without cursor, got %+v", page)
	}
}

func TestMemStoreListFilters(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	drafts := []Draft{
		{EventType: PropertyCreated, Title: "p", PropertyID: "p1", OccurredAt: at(1)},
		{EventType: NoteAdded, Title: "n1", PropertyID: "p1", TenantID: "t1", OccurredAt: at(2)},
		{EventType: NoteAdded, Title: "n2", PropertyID: "p2", TenantID: "t1", OccurredAt: at(3)},
	}
	for _, d := range drafts {
		if _, err := s.Append(ctx, "L1", d); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		f    Filter
		want int
	}{
		{Filter{}, 3},
		{Filter{PropertyID: "p1"}, 2},
		{Filter{TenantID: "t1"}, 2},
		{Filter{EventType: NoteAdded}, 2},
		{Filter{PropertyID: "p1", EventType: NoteAdded}, 1},
		{Filter{PropertyID: "nope"}, 0},
	}
	for _, tc := range cases {
		page, err := s.List(ctx, "L1", Query{Filter: tc.f})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Items) != tc.want {
			t.Errorf("filter %+v: expected %d, got %d", tc.f, tc.want, len(page.Items))
		}
	}
}

func TestMemStoreReturnsCopies(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	e := appendN(t, s, "L1", 1)[0]
	e.Title = "changed by caller"

	res, _ := VerifyChain(ctx, s, "L1", 0)
	if !res.OK {
		t.Fatal("mutating a returned event should not affect the store")
	}
}

func TestMemStoreContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemStore().Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "a"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-1: DefaultListLimit, 0: DefaultListLimit, 1: 1, 200: 200, 201: MaxListLimit, 10000: MaxListLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestMemStoreOmittedOccurredAtFollowsFutureEvent(t *testing.T) {
	s := NewMemStore()
	s.now = func() time.Time { return time.UnixMilli(10_000) }
	ctx := context.Background()

	future, err := s.Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "inspection booked", OccurredAt: at(10_000 + 24*3600*1000)})
	if err != nil {
		t.Fatal(err)
	}
	e, err := s.Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "keys returned"})
	if err != nil {
		t.Fatalf("append without occurredAt after a future event: %v", err)
	}
	if e.OccurredAt != future.OccurredAt || !future.Position().Before(e.Position()) {
		t.Fatalf("expected occurredAt %d after the future event, got %d", future.OccurredAt, e.OccurredAt)
	}
	if _, err := s.Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "late", OccurredAt: at(10_000)}); !errors.Is(err, ErrBackdated) {
		t.Fatalf("explicit older occurredAt should still be backdated, got %v", err)
	}
}

func TestMemStoreExplicitEpochZero(t *testing.T) {
	s := NewMemStore()
	s.now = func() time.Time { return time.UnixMilli(5000) }
	e, err := s.Append(context.Background(), "L1", Draft{EventType: NoteAdded, Title: "epoch", OccurredAt: at(0)})
	if err != nil {
		t.Fatal(err)
	}
	if e.OccurredAt != 0 || e.CreatedAt != 5000 {
		t.Fatalf("expected occurredAt 0 and createdAt 5000, got %d %d", e.OccurredAt, e.CreatedAt)
	}
}

func TestMemStoreMetadataIsolated(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	meta := Metadata{"k": "v", "n": map[string]any{"a": 1}}
	tags := []string{"rent"}

	e, err := s.Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "t", Tags: tags, Metadata: meta})
	if err != nil {
		t.Fatal(err)
	}
	meta["k"] = "changed"
	meta["n"].(map[string]any)["a"] = 2
	tags[0] = "changed"
	e.Metadata["k"] = "changed"

	got, err := s.Get(ctx, e.ID, "L1")
	if err != nil {
		t.Fatal(err)
	}
	got.Metadata["n"].(map[string]any)["a"] = 3

	res, err := VerifyChain(ctx, s, "L1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("caller mutations reached the stored event: %+v", res)
	}
	again, _ := s.Get(ctx, e.ID, "L1")
	if again.Metadata["k"] != "v" || again.Tags[0] != "rent" {
		t.Fatalf("stored event changed: %+v %v", again.Metadata, again.Tags)
	}
}
