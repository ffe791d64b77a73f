package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

// tamper rewrites a stored event in place without rehashing it.
func tamper(s *MemStore, scope string, index int, fn func(e *Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.scopes[scope][index])
}

func at(ms int64) *int64 { return &ms }

func appendN(t *testing.T, s Store, scope string, n int) []*Event {
	t.Helper()
	var out []*Event
	for i := range n {
		e, err := s.Append(context.Background(), scope, Draft{
			EventType:  NoteAdded,
			Title:      fmt.Sprintf("note %d", i),
			OccurredAt: at(int64(1000 + i)),
			Actor:      Actor{Type: ActorSystem},
		})
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, e)
	}
	return out
}

func TestVerifyWorkedExample(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	amount := decimal.NewFromInt(1200)

	a, err := s.Append(ctx, "L1", Draft{
		EventType: PaymentRecorded, Title: "Rent paid", Amount: &amount, Currency: CAD, OccurredAt: at(1000),
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Append(ctx, "L1", Draft{EventType: NoteAdded, Title: "Late notice", OccurredAt: at(2000)})
	if err != nil {
		t.Fatal(err)
	}

	if a.PrevHash != nil {
		t.Fatalf("genesis prevHash should be nil, got %q", *a.PrevHash)
	}
	if b.PrevHash == nil || *b.PrevHash != a.Hash {
		t.Fatalf("B.prevHash should be A.hash")
	}

	res, err := VerifyChain(ctx, s, "L1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Checked != 2 {
		t.Fatalf("expected ok with 2 checked, got %+v", res)
	}

	tamper(s, "L1", 0, func(e *Event) { e.Title = "Rent paid (edited)" })

	res, err = VerifyChain(ctx, s, "L1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Checked != 1 || res.FirstBadIndex == nil || *res.FirstBadIndex != 0 || res.FirstBadID != a.ID {
		t.Fatalf("expected break at A, got %+v", res)
	}
	if res.Reason != ReasonHashMismatch {
		t.Fatalf("expected %s, got %s", ReasonHashMismatch, res.Reason)
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	res, err := VerifyChain(context.Background(), NewMemStore(), "nobody", 10)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Checked != 0 || res.FirstBadIndex != nil {
		t.Fatalf("empty chain should verify, got %+v", res)
	}
}

func TestVerifyReasons(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(e *Event)
		reason string
	}{
		{"relinked", func(e *Event) { h := "deadbeef"; e.PrevHash = &h }, ReasonPrevHashMismatch},
		{"unlinked", func(e *Event) { e.PrevHash = nil }, ReasonPrevHashMismatch},
		{"hash cleared", func(e *Event) { e.Hash = "" }, ReasonHashMissing},
		{"summary edited", func(e *Event) { e.Summary = "changed" }, ReasonHashMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewMemStore()
			events := appendN(t, s, "L1", 4)
			tamper(s, "L1", 2, tc.mutate)

			res, err := VerifyChain(context.Background(), s, "L1", 0)
			if err != nil {
				t.Fatal(err)
			}
			if res.OK || *res.FirstBadIndex != 2 || res.FirstBadID != events[2].ID || res.Checked != 3 {
				t.Fatalf("expected break at index 2, got %+v", res)
			}
			if res.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, res.Reason)
			}
		})
	}
}

func TestVerifyWindowIsAnchored(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	events := appendN(t, s, "L1", 10)

	res, err := VerifyChain(ctx, s, "L1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Checked != 3 {
		t.Fatalf("window over a long chain should verify, got %+v", res)
	}

	// Rewriting the anchor's hash breaks the window's first link.
	tamper(s, "L1", 7, func(e *Event) { e.Hash = "rewritten" })
	res, _ = VerifyChain(ctx, s, "L1", 2)
	if res.OK || *res.FirstBadIndex != 0 || res.FirstBadID != events[8].ID || res.Reason != ReasonPrevHashMismatch {
		t.Fatalf("expected window break at first event, got %+v", res)
	}
}

func TestVerifyFullChainPages(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	events := appendN(t, s, "L1", verifyPageSize*2+5)

	res, err := VerifyFullChain(ctx, s, "L1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Checked != len(events) {
		t.Fatalf("expected %d checked ok, got %+v", len(events), res)
	}

	bad := verifyPageSize + 7
	tamper(s, "L1", bad, func(e *Event) { e.Title = "edited" })
	res, err = VerifyFullChain(ctx, s, "L1")
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || *res.FirstBadIndex != bad || res.FirstBadID != events[bad].ID {
		t.Fatalf("expected break at %d, got %+v", bad, res)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	appendN(t, s, "L1", 5)
	tamper(s, "L1", 3, func(e *Event) { e.Title = "edited" })

	first, _ := VerifyChain(ctx, s, "L1", 0)
	second, _ := VerifyChain(ctx, s, "L1", 0)
	if first.OK != second.OK || first.Checked != second.Checked ||
		*first.FirstBadIndex != *second.FirstBadIndex || first.FirstBadID != second.FirstBadID {
		t.Fatalf("verify is not idempotent: %+v vs %+v", first, second)
	}
}

func TestVerifyEventsDoesNotMutate(t *testing.T) {
	s := NewMemStore()
	appendN(t, s, "L1", 3)
	events, _ := s.Tail(context.Background(), "L1", 3)
	before := fmt.Sprintf("%+v", events)

	VerifyEvents(events, nil)
	if after := fmt.Sprintf("%+v", events); after != before {
		t.Fatal("VerifyEvents modified its input")
	}
}
