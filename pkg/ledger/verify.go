package ledger

import (
	"context"
)

// Reasons reported for a broken chain.
const (
	ReasonPrevHashMismatch = "prev_hash_mismatch"
	ReasonHashMissing      = "hash_missing"
	ReasonHashMismatch     = "hash_mismatch"
)

// Verification bounds.
const (
	DefaultVerifyLimit = 500
	MaxVerifyLimit     = 5000
	verifyPageSize     = 200
)

// VerifyResult is the outcome of walking a chain. A broken chain is a
// result, not an error.
type VerifyResult struct {
	OK            bool   `json:"ok"`
	Checked       int    `json:"checked"`
	FirstBadIndex *int   `json:"firstBadIndex,omitempty"`
	FirstBadID    string `json:"firstBadId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// chainWalker checks events one at a time in chain order, carrying the
// expected prevHash from one event to the next.
type chainWalker struct {
	expected *string
	checked  int
	broken   *VerifyResult
}

// step checks e and reports whether the walk may continue.
func (w *chainWalker) step(e *Event) bool {
	index := w.checked
	w.checked++

	reason := ""
	switch {
	case !sameHash(e.PrevHash, w.expected):
		reason = ReasonPrevHashMismatch
	case e.Hash == "":
		reason = ReasonHashMissing
	default:
		recomputed, err := ComputeEventHash(e, e.PrevHash)
		if err != nil || recomputed != e.Hash {
			reason = ReasonHashMismatch
		}
	}
	if reason != "" {
		w.broken = &VerifyResult{
			OK:            false,
			Checked:       w.checked,
			FirstBadIndex: &index,
			FirstBadID:    e.ID,
			Reason:        reason,
		}
		return false
	}

	h := e.Hash
	w.expected = &h
	return true
}

func (w *chainWalker) result() VerifyResult {
	if w.broken != nil {
		return *w.broken
	}
	return VerifyResult{OK: true, Checked: w.checked}
}

// VerifyEvents walks events, which must be in chain order. anchor is the
// expected prevHash of the first event: nil when events start at genesis.
// It never modifies the events.
func VerifyEvents(events []Event, anchor *string) VerifyResult {
	w := &chainWalker{expected: anchor}
	for i := range events {
		if !w.step(&events[i]) {
			break
		}
	}
	return w.result()
}

// VerifyChain checks the scope's most recent maxEvents events.
//
// One extra older event is fetched when available; it is not checked itself
// but its hash anchors the window so a chain longer than maxEvents is not
// reported broken at index 0.
func VerifyChain(ctx context.Context, store Store, scope string, maxEvents int) (VerifyResult, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultVerifyLimit
	}
	maxEvents = min(maxEvents, MaxVerifyLimit)

	events, err := store.Tail(ctx, scope, maxEvents+1)
	if err != nil {
		return VerifyResult{}, err
	}

	var anchor *string
	if len(events) > maxEvents {
		h := events[0].Hash
		anchor = &h
		events = events[1:]
	}
	return VerifyEvents(events, anchor), nil
}

// VerifyFullChain checks the whole chain from genesis, page by page.
// Indices in the result are positions from the start of the chain.
func VerifyFullChain(ctx context.Context, store Store, scope string) (VerifyResult, error) {
	w := &chainWalker{}
	var after *Position
	for {
		page, err := store.Chronological(ctx, scope, after, verifyPageSize)
		if err != nil {
			return VerifyResult{}, err
		}
		for i := range page {
			if !w.step(&page[i]) {
				return w.result(), nil
			}
		}
		if len(page) < verifyPageSize {
			return w.result(), nil
		}
		pos := page[len(page)-1].Position()
		after = &pos
	}
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
