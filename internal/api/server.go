package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"rentchain-ledger/pkg/ledger"
)

// Options tune the HTTP layer.
type Options struct {
	Logger         *slog.Logger
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

// Server is the HTTP API server.
type Server struct {
	svc     *ledger.Service
	bus     *ledger.Bus
	auth    *Authenticator
	limiter *scopeLimiter
	logger  *slog.Logger
	maxBody int64
	mux     *http.ServeMux
	handler http.Handler
}

// New creates a new Server. bus may be nil, which disables the event stream.
func New(svc *ledger.Service, bus *ledger.Bus, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		svc:     svc,
		bus:     bus,
		auth:    NewAuthenticator(opts.JWTSecret),
		limiter: newScopeLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		logger:  opts.Logger.With("component", "api"),
		maxBody: opts.MaxBodyBytes,
		mux:     http.NewServeMux(),
	}
	s.routes()
	s.handler = s.logRequests(s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Ledger
	s.mux.Handle("POST /ledger", s.authed(s.handleAppend))
	s.mux.Handle("GET /ledger", s.authed(s.handleList))
	s.mux.Handle("GET /ledger/verify", s.authed(s.handleVerify))
	s.mux.Handle("GET /ledger/stream", s.authed(s.handleStream))
	s.mux.Handle("GET /ledger/{id}", s.authed(s.handleGet))

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// authed binds the caller's scope to the request and applies its rate limit.
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth.Authenticate(r)
		if err != nil {
			s.logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
			writeProblem(w, r, http.StatusUnauthorized, CodeUnauthenticated, err.Error())
			return
		}
		if ok, wait := s.limiter.allow(p.Scope); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeProblem(w, r, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded; retry after the indicated interval")
			return
		}
		h(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func queryInt(r *http.Request, key string, defaultVal int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}
