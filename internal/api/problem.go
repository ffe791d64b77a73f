package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"rentchain-ledger/pkg/ledger"
)

// Error codes carried in Problem.Code.
const (
	CodeValidation       = "VALIDATION"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeNotFound         = "NOT_FOUND"
	CodeRateLimited      = "RATE_LIMITED"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeTooLarge         = "PAYLOAD_TOO_LARGE"
	CodeInternal         = "INTERNAL"
)

// Problem is an RFC 7807 problem detail with a stable machine-readable code.
type Problem struct {
	Type     string              `json:"type"`
	Title    string              `json:"title"`
	Status   int                 `json:"status"`
	Code     string              `json:"code"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   []ledger.FieldError `json:"errors,omitempty"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeProblemBody(w, &Problem{
		Type:     fmt.Sprintf("https://rentchain.dev/problems/%d", status),
		Title:    http.StatusText(status),
		Status:   status,
		Code:     code,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

func writeProblemBody(w http.ResponseWriter, p *Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeServiceError maps ledger errors to problems. Internal details of
// store and unexpected failures are logged, never returned.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		writeProblemBody(w, &Problem{
			Type:     "https://rentchain.dev/problems/400",
			Title:    http.StatusText(http.StatusBadRequest),
			Status:   http.StatusBadRequest,
			Code:     CodeValidation,
			Detail:   "one or more fields are invalid",
			Instance: r.URL.Path,
			Errors:   ve.Fields,
		})
	case errors.Is(err, ledger.ErrValidation):
		writeProblem(w, r, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, ledger.ErrUnauthenticated):
		writeProblem(w, r, http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
	case errors.Is(err, ledger.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, CodeNotFound, "ledger event not found")
	case errors.Is(err, ledger.ErrTimeout):
		s.logger.Warn("ledger store timeout", "path", r.URL.Path, "error", err)
		writeProblem(w, r, http.StatusGatewayTimeout, CodeTimeout, "the ledger store did not answer in time; retry later")
	case errors.Is(err, ledger.ErrStoreUnavailable):
		s.logger.Error("ledger store unavailable", "path", r.URL.Path, "error", err)
		writeProblem(w, r, http.StatusServiceUnavailable, CodeStoreUnavailable, "the ledger store is unavailable; retry later")
	default:
		s.logger.Error("internal server error", "path", r.URL.Path, "error", err)
		writeProblem(w, r, http.StatusInternalServerError, CodeInternal, "an unexpected error occurred")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", "error", err)
	}
}
