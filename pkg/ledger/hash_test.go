package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func sampleEvent() Event {
	amount := decimal.RequireFromString("1200")
	return Event{
		ID:           "id1",
		OwnerScopeID: "landlord-1",
		EventType:    PaymentRecorded,
		Title:        "Rent paid",
		Amount:       &amount,
		Currency:     CAD,
		OccurredAt:   1000,
		CreatedAt:    1500,
		Actor:        Actor{Type: ActorLandlord, UserID: "u1", Email: "a@example.com"},
		PropertyID:   "p1",
		TenantID:     "t1",
		Tags:         []string{"rent", "march"},
		Metadata:     Metadata{"method": "etransfer", "ref": map[string]any{"a": 1, "b": 2}},
		HashVersion:  HashVersion,
	}
}

func TestComputeEventHash(t *testing.T) {
	e := sampleEvent()

	h1, err := ComputeEventHash(&e, nil)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := ComputeEventHash(&e, nil)
	if h1 != h2 {
		t.Fatalf("same inputs should produce same hash: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}

	prev := "prevhash"
	h3, _ := ComputeEventHash(&e, &prev)
	if h1 == h3 {
		t.Fatal("different prevHash should produce different hash")
	}
}

func TestComputeEventHashDeterministic(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	b.Tags = []string{"march", "rent"}
	b.Metadata = Metadata{"ref": map[string]any{"b": 2, "a": 1}, "method": "etransfer"}

	ha, _ := ComputeEventHash(&a, nil)
	hb, _ := ComputeEventHash(&b, nil)
	if ha != hb {
		t.Fatalf("tag and key order should not matter: %s != %s", ha, hb)
	}
}

func TestComputeEventHashIgnoresBookkeeping(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	b.ID = "other"
	b.Seq = 42
	b.Hash = "stale"

	ha, _ := ComputeEventHash(&a, nil)
	hb, _ := ComputeEventHash(&b, nil)
	if ha != hb {
		t.Fatal("id, seq and hash are not part of the hashed payload")
	}
}

func TestComputeEventHashAmountScale(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	scaled := decimal.RequireFromString("1200.00")
	b.Amount = &scaled

	ha, _ := ComputeEventHash(&a, nil)
	hb, _ := ComputeEventHash(&b, nil)
	if ha != hb {
		t.Fatal("1200 and 1200.00 should hash equally")
	}
}

func TestComputeEventHashCoversFields(t *testing.T) {
	base := sampleEvent()
	want, _ := ComputeEventHash(&base, nil)

	mutations := map[string]func(e *Event){
		"ownerScopeId": func(e *Event) { e.OwnerScopeID = "landlord-2" },
		"eventType":    func(e *Event) { e.EventType = PaymentUpdated },
		"title":        func(e *Event) { e.Title = "Rent paid (edited)" },
		"summary":      func(e *Event) { e.Summary = "late" },
		"amount":       func(e *Event) { d := decimal.RequireFromString("1200.01"); e.Amount = &d },
		"currency":     func(e *Event) { e.Currency = USD },
		"occurredAt":   func(e *Event) { e.OccurredAt++ },
		"createdAt":    func(e *Event) { e.CreatedAt++ },
		"actor":        func(e *Event) { e.Actor.Email = "b@example.com" },
		"propertyId":   func(e *Event) { e.PropertyID = "p2" },
		"unitId":       func(e *Event) { e.UnitID = "u9" },
		"tenantId":     func(e *Event) { e.TenantID = "" },
		"leaseId":      func(e *Event) { e.LeaseID = "l1" },
		"paymentId":    func(e *Event) { e.PaymentID = "pay1" },
		"tags":         func(e *Event) { e.Tags = append(e.Tags, "x") },
		"metadata":     func(e *Event) { e.Metadata = Metadata{"method": "cash"} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := sampleEvent()
			mutate(&e)
			got, err := ComputeEventHash(&e, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got == want {
				t.Fatalf("changing %s should change the hash", name)
			}
		})
	}
}

func TestComputeEventHashUnsupportedVersion(t *testing.T) {
	e := sampleEvent()
	e.HashVersion = 2
	if _, err := ComputeEventHash(&e, nil); !errors.Is(err, ErrUnsupportedHashVersion) {
		t.Fatalf("expected ErrUnsupportedHashVersion, got %v", err)
	}
}
