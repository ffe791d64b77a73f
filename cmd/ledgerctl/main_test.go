package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"rentchain-ledger/internal/db"
	"rentchain-ledger/pkg/ledger"
)

func TestParseFlags(t *testing.T) {
	flags := parseFlags([]string{"get", "--scope=L1", "--full", "--metadata={\"a\":\"b=c\"}", "stray"})
	if flags["scope"] != "L1" {
		t.Fatalf("expected scope L1, got %q", flags["scope"])
	}
	if v, ok := flags["full"]; !ok || v != "" {
		t.Fatalf("expected bare --full flag, got %q %v", v, ok)
	}
	if flags["metadata"] != `{"a":"b=c"}` {
		t.Fatalf("value should keep later '=' signs, got %q", flags["metadata"])
	}
	if len(flags) != 3 {
		t.Fatalf("expected 3 flags, got %v", flags)
	}
}

func TestDraftFromFlags(t *testing.T) {
	d, err := draftFromFlags(parseFlags([]string{
		"--type=payment_recorded",
		"--title=Rent paid",
		"--amount=1200.50",
		"--currency=usd",
		"--occurred-at=1000",
		"--tags=rent,march",
		`--metadata={"ref":42}`,
		"--property=p1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if d.EventType != ledger.PaymentRecorded || d.Title != "Rent paid" || d.OccurredAt == nil || *d.OccurredAt != 1000 || d.PropertyID != "p1" {
		t.Fatalf("unexpected draft: %+v", d)
	}
	if d.Amount == nil || !d.Amount.Equal(decimal.RequireFromString("1200.5")) {
		t.Fatalf("unexpected amount %v", d.Amount)
	}
	if strings.Join(d.Tags, ",") != "rent,march" {
		t.Fatalf("unexpected tags %v", d.Tags)
	}
	if d.Metadata["ref"] == nil {
		t.Fatalf("metadata not parsed: %v", d.Metadata)
	}
}

func TestDraftFromFlagsErrors(t *testing.T) {
	cases := map[string][]string{
		"missing type": {"--title=x"},
		"bad amount":   {"--type=NOTE_ADDED", "--amount=lots"},
		"bad time":     {"--type=NOTE_ADDED", "--occurred-at=yesterday"},
		"bad metadata": {"--type=NOTE_ADDED", "--metadata=[1"},
	}
	for name, args := range cases {
		if _, err := draftFromFlags(parseFlags(args)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestQueryFromFlags(t *testing.T) {
	q, err := queryFromFlags(parseFlags([]string{"--limit=5", "--cursor=2000", "--type=note_added", "--tenant=t1"}))
	if err != nil {
		t.Fatal(err)
	}
	if q.Limit != 5 || q.Cursor == nil || *q.Cursor != 2000 || q.EventType != ledger.NoteAdded || q.TenantID != "t1" {
		t.Fatalf("unexpected query: %+v", q)
	}
	if _, err := queryFromFlags(parseFlags([]string{"--cursor=soon"})); err == nil {
		t.Fatal("expected cursor error")
	}
}

func TestEventTable(t *testing.T) {
	amount := decimal.NewFromInt(1200)
	out, err := eventTable([]ledger.Event{{
		EventType:  ledger.PaymentRecorded,
		Title:      "Rent paid",
		Amount:     &amount,
		Currency:   ledger.CAD,
		OccurredAt: 1000,
		Hash:       strings.Repeat("ab", 32),
	}})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Rent paid", "1200.00 CAD", "PAYMENT_RECORDED", "abababababab"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestDraftFromFlagsOmittedTime(t *testing.T) {
	d, err := draftFromFlags(parseFlags([]string{"--type=note_added", "--title=x"}))
	if err != nil {
		t.Fatal(err)
	}
	if d.OccurredAt != nil {
		t.Fatalf("occurredAt should be left to the ledger, got %d", *d.OccurredAt)
	}

	d, err = draftFromFlags(parseFlags([]string{"--type=note_added", "--title=x", "--occurred-at=0"}))
	if err != nil {
		t.Fatal(err)
	}
	if d.OccurredAt == nil || *d.OccurredAt != 0 {
		t.Fatalf("explicit epoch 0 should be kept, got %v", d.OccurredAt)
	}
}

func TestRunExitCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", path)

	if code := run(nil); code != 1 {
		t.Fatalf("no command: expected 1, got %d", code)
	}
	if code := run([]string{"bogus"}); code != 1 {
		t.Fatalf("unknown command: expected 1, got %d", code)
	}
	if code := run([]string{"list"}); code != 1 {
		t.Fatalf("missing scope: expected 1, got %d", code)
	}
	for _, title := range []string{"Lease signed", "Keys handed over"} {
		if code := run([]string{"note", "--scope=L1", "--title=" + title}); code != 0 {
			t.Fatalf("note %q: expected 0, got %d", title, code)
		}
	}
	if code := run([]string{"verify", "--scope=L1"}); code != 0 {
		t.Fatalf("intact chain: expected 0, got %d", code)
	}

	// Each run released the database, so it can be edited here.
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sqlDB.ExecContext(ctx, `UPDATE ledger_events SET title = 'Keys kept' WHERE title = 'Keys handed over'`); err != nil {
		t.Fatal(err)
	}
	_ = sqlDB.Close()

	if code := run([]string{"verify", "--scope=L1", "--full"}); code != 2 {
		t.Fatalf("broken chain: expected 2, got %d", code)
	}
}
