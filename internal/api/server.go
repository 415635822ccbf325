// Package api serves the Hafiz HTTP and WebSocket interface: the catalog,
// durable progress, streak and statistics views, transcript checking,
// feedback generation, and live streaming recitation.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/hafiz/internal/catalog"
	"github.com/MrWong99/hafiz/internal/feedback"
	"github.com/MrWong99/hafiz/internal/health"
	"github.com/MrWong99/hafiz/internal/observe"
	"github.com/MrWong99/hafiz/internal/progress"
	"github.com/MrWong99/hafiz/internal/recite"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Deps are the collaborators a [Server] needs. Catalog, Store and Scorer are
// required; the rest may be nil.
type Deps struct {
	Catalog *catalog.Catalog
	Store   *progress.Store

	// Scorer returns the scorer for new attempts. It is called per attempt so
	// hot-reloaded thresholds apply immediately.
	Scorer func() *recite.Scorer

	// Recognizer opens speech-to-text streams. Nil means live recitation is
	// unsupported.
	Recognizer *recite.Recognizer

	Feedback *feedback.Generator
	Health   *health.Handler
	Metrics  *observe.Metrics

	// DefaultLang is used when a request names no language.
	DefaultLang string

}

// Server implements the HTTP API.
type Server struct {
	d Deps
}

// New returns a Server for d.
func New(d Deps) (*Server, error) {
	var errs []error
	if d.Catalog == nil {
		errs = append(errs, errors.New("catalog is required"))
	}
	if d.Store == nil {
		errs = append(errs, errors.New("progress store is required"))
	}
	if d.Scorer == nil {
		errs = append(errs, errors.New("scorer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	if d.Feedback == nil {
		d.Feedback = feedback.New(nil)
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.DefaultLang == "" {
		d.DefaultLang = "en"
	}
	return &Server{d: d}, nil
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/collections", s.handleCollections)
	mux.HandleFunc("GET /api/collections/{id}", s.handleCollection)
	mux.HandleFunc("GET /api/progress", s.handleProgress)
	mux.HandleFunc("POST /api/progress/{collection}/{verse}", s.handleMarkMemorized)
	mux.HandleFunc("GET /api/streak", s.handleStreak)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/recite/check", s.handleCheck)
	mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /api/guides", s.handleGuides)
	mux.HandleFunc("GET /api/guides/{name}", s.handleGuide)
	mux.HandleFunc("GET /ws/changes", s.handleChanges)
	mux.HandleFunc("GET /ws/recite", s.handleRecite)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.d.Health != nil {
		s.d.Health.Register(mux)
	}

	h := observe.Middleware(s.d.Metrics)(mux)
	return otelhttp.NewHandler(h, "hafiz.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// lang picks the request language from ?lang=, falling back to the default.
func (s *Server) lang(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if l := r.URL.Query().Get("lang"); l != "" {
		return l
	}
	return s.d.DefaultLang
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeLookupError maps catalog lookup failures to 404 and the rest to 500.
func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrUnknownCollection),
		errors.Is(err, catalog.ErrUnknownVerse),
		errors.Is(err, catalog.ErrUnknownGuide):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// pathInt parses the named path segment as a positive integer.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a positive integer", name))
		return 0, false
	}
	return n, true
}
