package catalogapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalog"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
)

const (
	// RequestIDHeader is set on every response.
	RequestIDHeader = "X-Request-Id"
	// StreamErrorTrailer carries an error that occurred after records were sent.
	StreamErrorTrailer = "X-Catalog-Stream-Error"

	maxCardBytes = 1 << 20
)

// Call records a request handled by the server.
type Call struct {
	Method    string
	Path      string
	Status    int
	RequestID string
}

// Server exposes a catalog registry and its split loader over HTTP.
type Server struct {
	registry *catalog.Registry
	loader   *loader.Loader
	logger   *log.Logger

	mu                    sync.Mutex
	calls                 []Call
	expectedAuthorization string
}

// New constructs a server. A nil logger discards request logs.
func New(registry *catalog.Registry, ld *loader.Loader, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{registry: registry, loader: ld, logger: logger}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// Handler returns an http.Handler that serves the catalog API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/datasets", s.handleDatasets)
	mux.HandleFunc("/api/v1/datasets/", s.handleDataset)
	return s.withRequestID(mux)
}

// Calls returns a snapshot of calls handled by the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set(RequestIDHeader, reqID)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		if !s.authorize(rec, r, reqID) {
			s.recordCall(r, rec.status, reqID, start)
			return
		}
		next.ServeHTTP(rec, r)
		s.recordCall(r, rec.status, reqID, start)
	})
}

func (s *Server) recordCall(r *http.Request, status int, reqID string, start time.Time) {
	if status == 0 {
		status = http.StatusOK
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Status: status, RequestID: reqID})
	s.mu.Unlock()
	s.logger.Printf(
		"req=%s method=%s path=%s status=%d elapsed=%s",
		reqID,
		r.Method,
		r.URL.Path,
		status,
		time.Since(start).Round(time.Millisecond),
	)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, reqID string) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeError(w, reqID, apiError{status: http.StatusUnauthorized, code: "UNAUTHORIZED", name: ErrorUnauthorized, msg: "missing or invalid bearer token"})
		return false
	}
	return true
}

func requestID(w http.ResponseWriter) string {
	return w.Header().Get(RequestIDHeader)
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.status >= 500 {
		s.logger.Printf("req=%s %s %s failed: %v", requestID(w), r.Method, r.URL.Path, err)
	}
	writeError(w, requestID(w), e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.registry.List())
	case http.MethodPost:
		s.handlePublish(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	c, err := card.Decode(http.MaxBytesReader(w, r.Body, maxCardBytes))
	if err != nil {
		writeError(w, requestID(w), apiError{
			status: http.StatusBadRequest,
			code:   "INVALID_ARGUMENT",
			name:   ErrorInvalidCard,
			msg:    err.Error(),
		})
		return
	}
	if err := s.registry.Register(c); err != nil {
		s.fail(w, r, err)
		return
	}
	entry, _ := s.entry(c.Identifier)
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) entry(identifier string) (catalog.Entry, bool) {
	for _, e := range s.registry.List() {
		if e.Identifier == identifier {
			return e, true
		}
	}
	return catalog.Entry{}, false
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	// /api/v1/datasets/{id}
	// /api/v1/datasets/{id}/versions/{version}/card
	// /api/v1/datasets/{id}/versions/{version}/schema
	// /api/v1/datasets/{id}/versions/{version}/splits/{split}/records
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/datasets/")
	parts := strings.Split(rest, "/")
	for _, p := range parts {
		if !isSafeToken(p) {
			http.NotFound(w, r)
			return
		}
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id := parts[0]
	if len(parts) == 1 {
		entry, ok := s.entry(id)
		if !ok {
			s.fail(w, r, catalog.ErrUnknownDataset)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}
	if len(parts) < 4 || parts[1] != "versions" {
		http.NotFound(w, r)
		return
	}
	version := parts[2]

	switch {
	case len(parts) == 4 && parts[3] == "card":
		s.serveCard(w, r, id, version)
	case len(parts) == 4 && parts[3] == "schema":
		s.serveSchema(w, r, id, version)
	case len(parts) == 6 && parts[3] == "splits" && parts[5] == "records":
		s.serveRecords(w, r, id, version, parts[4])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveCard(w http.ResponseWriter, r *http.Request, id, version string) {
	c, _, err := s.registry.Get(id, version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = io.WriteString(w, card.RenderMarkdown(c))
}

func (s *Server) serveSchema(w http.ResponseWriter, r *http.Request, id, version string) {
	c, v, err := s.registry.Get(id, version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	schema, err := card.SchemaOf(c, v.Tag)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func recordOptions(r *http.Request) (loader.Options, error) {
	q := r.URL.Query()
	var opts loader.Options
	var err error
	if v := q.Get("shuffle"); v != "" {
		if opts.Shuffle, err = strconv.ParseBool(v); err != nil {
			return opts, errors.New("shuffle must be a boolean")
		}
	}
	if v := q.Get("verify"); v != "" {
		if opts.VerifyCounts, err = strconv.ParseBool(v); err != nil {
			return opts, errors.New("verify must be a boolean")
		}
	}
	if v := q.Get("limit"); v != "" {
		if opts.Limit, err = strconv.Atoi(v); err != nil || opts.Limit < 0 {
			return opts, errors.New("limit must be a non-negative integer")
		}
	}
	opts.ShuffleSalt = q.Get("salt")
	return opts, nil
}

func (s *Server) serveRecords(w http.ResponseWriter, r *http.Request, id, version, split string) {
	opts, err := recordOptions(r)
	if err != nil {
		writeError(w, requestID(w), apiError{status: http.StatusBadRequest, code: "INVALID_ARGUMENT", name: ErrorInvalidArgument, msg: err.Error()})
		return
	}
	c, v, err := s.registry.Get(id, version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reader, err := s.loader.Open(r.Context(), c, v.Tag, split, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	started := false
	enc := json.NewEncoder(w)
	err = reader.Each(r.Context(), func(ex loader.Example) error {
		if !started {
			started = true
			w.Header().Set("Trailer", StreamErrorTrailer)
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
		}
		return enc.Encode(ex)
	})
	if err == nil {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
		}
		return
	}
	if !started {
		s.fail(w, r, err)
		return
	}
	s.logger.Printf("req=%s records stream aborted: %v", requestID(w), err)
	w.Header().Set(StreamErrorTrailer, classify(err).name+": "+err.Error())
}

func isSafeToken(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}
