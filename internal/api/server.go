package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/metrics"
)

// Searcher answers keyword queries.
type Searcher interface {
	Search(ctx context.Context, keywords []string, mode crawler.SearchMode) ([]crawler.SearchResult, error)
}

// StatusSource exposes the index-ready gate and the crawl progress behind it.
type StatusSource interface {
	Ready() bool
	Readiness() crawler.Readiness
}

// Options tunes the HTTP surface.
type Options struct {
	// AllowedOrigin is sent as Access-Control-Allow-Origin. Defaults to "*".
	AllowedOrigin  string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// RetryAfter is advertised on 503 responses while the index builds.
	RetryAfter time.Duration
}

const (
	defaultRequestTimeout = 60 * time.Second
	defaultMaxBodyBytes   = 1 << 20
	defaultRetryAfter     = 5 * time.Second
)

// Server wires HTTP handlers to the search engine.
type Server struct {
	router   chi.Router
	searcher Searcher
	status   StatusSource
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(searcher Searcher, status StatusSource, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = defaultRetryAfter
	}
	s := &Server{
		searcher: searcher,
		status:   status,
		opts:     opts,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(opts.AllowedOrigin))
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/", s.search)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.search)
		r.Get("/status", s.readiness)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.status.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "building"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) readiness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Readiness())
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if !s.status.Ready() {
		s.writeBuilding(w)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	req, err := decodeSearchRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.searcher.Search(r.Context(), req.keywords, req.mode)
	switch {
	case errors.Is(err, crawler.ErrIndexBuilding):
		s.writeBuilding(w)
		return
	case errors.Is(err, crawler.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("search failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Strings("keywords", req.keywords),
			zap.String("search_type", string(req.mode)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []crawler.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) writeBuilding(w http.ResponseWriter) {
	w.Header().Set("Retry-After", retryAfterSeconds(s.opts.RetryAfter))
	writeError(w, http.StatusServiceUnavailable, "index is still building, retry later")
}

type searchRequest struct {
	keywords []string
	mode     crawler.SearchMode
}

type searchPayload struct {
	Keywords   json.RawMessage `json:"keywords"`
	SearchType *string         `json:"searchType"`
}

// decodeSearchRequest accepts keywords as a comma-separated string or a string array.
// Keywords are lowercased and trimmed; empty entries are dropped.
func decodeSearchRequest(body []byte) (searchRequest, error) {
	var payload searchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return searchRequest{}, errors.New("malformed JSON body")
	}

	var raw []string
	trimmed := strings.TrimSpace(string(payload.Keywords))
	switch {
	case trimmed == "" || trimmed == "null":
		return searchRequest{}, errors.New("keywords is required")
	case strings.HasPrefix(trimmed, `"`):
		var joined string
		if err := json.Unmarshal(payload.Keywords, &joined); err != nil {
			return searchRequest{}, errors.New("keywords must be a string or an array of strings")
		}
		raw = strings.Split(joined, ",")
	default:
		if err := json.Unmarshal(payload.Keywords, &raw); err != nil {
			return searchRequest{}, errors.New("keywords must be a string or an array of strings")
		}
	}

	keywords := make([]string, 0, len(raw))
	for _, kw := range raw {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return searchRequest{}, errors.New("keywords must not be empty")
	}

	if payload.SearchType == nil {
		return searchRequest{}, errors.New("searchType is required")
	}
	mode, ok := crawler.ParseSearchMode(*payload.SearchType)
	if !ok {
		return searchRequest{}, errors.New(`searchType must be "or" or "and"`)
	}
	return searchRequest{keywords: keywords, mode: mode}, nil
}
