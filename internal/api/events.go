package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"rentchain-ledger/pkg/ledger"
)

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var d ledger.Draft
	if err := decodeJSON(w, r, s.maxBody, &d); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, CodeTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeProblem(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON: "+err.Error())
		return
	}
	// A body without an eventType is a landlord note.
	if d.EventType == "" {
		d.EventType = ledger.NoteAdded
	}
	d.Actor = ledger.Actor{Type: ledger.ActorLandlord, UserID: p.UserID, Email: p.Email}

	e, err := s.svc.AppendEvent(r.Context(), p.Scope, d)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": e})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	q := r.URL.Query()

	limit, ok := queryInt(r, "limit", ledger.DefaultListLimit)
	if !ok {
		writeProblem(w, r, http.StatusBadRequest, CodeValidation, "limit must be an integer")
		return
	}
	query := ledger.Query{
		Filter: ledger.Filter{
			PropertyID: q.Get("propertyId"),
			TenantID:   q.Get("tenantId"),
			EventType:  ledger.EventType(q.Get("eventType")),
		},
		Limit: limit,
	}
	if c := q.Get("cursor"); c != "" {
		cursor, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, CodeValidation, "cursor must be epoch milliseconds")
			return
		}
		query.Cursor = &cursor
	}

	page, err := s.svc.ListEvents(r.Context(), p.Scope, query)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	e, err := s.svc.GetEvent(r.Context(), p.Scope, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": e})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var res ledger.VerifyResult
	var err error
	if full, _ := strconv.ParseBool(r.URL.Query().Get("full")); full {
		res, err = s.svc.VerifyFullChain(r.Context(), p.Scope)
	} else {
		limit, ok := queryInt(r, "limit", ledger.DefaultVerifyLimit)
		if !ok {
			writeProblem(w, r, http.StatusBadRequest, CodeValidation, "limit must be an integer")
			return
		}
		res, err = s.svc.VerifyChain(r.Context(), p.Scope, limit)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	// A broken chain is a result, returned with 200 like an intact one.
	writeJSON(w, http.StatusOK, res)
}

// handleStream pushes the caller's newly appended events as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeProblem(w, r, http.StatusNotImplemented, CodeInternal, "event stream not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, r, http.StatusInternalServerError, CodeInternal, "streaming not supported")
		return
	}
	p, _ := PrincipalFrom(r.Context())

	ch := s.bus.Subscribe(p.Scope)
	defer s.bus.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e := <-ch:
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("SSE marshal", "id", e.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: ledger\ndata: %s\n\n", e.ID, data)
			flusher.Flush()
		}
	}
}
