// Package health serves the liveness and readiness probes.
//
// /healthz answers 200 while the process serves HTTP. /readyz runs every
// [Checker]: a failing required check answers 503 with status "fail"; a
// failing optional check only downgrades the status to "degraded".
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hafiz/internal/catalog"
	"github.com/MrWong99/hafiz/internal/kv"
	"github.com/MrWong99/hafiz/internal/resilience"
)

const checkTimeout = 5 * time.Second

// Checker is one named probe. Check returns nil when healthy.
type Checker struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// Storage pings the progress store. Stores that cannot be pinged pass.
func Storage(store kv.Store) Checker {
	return Checker{
		Name: "storage",
		Check: func(ctx context.Context) error {
			if p, ok := store.(kv.Pinger); ok {
				return p.Ping(ctx)
			}
			return nil
		},
	}
}

// Catalog fails when no collection is loaded.
func Catalog(c *catalog.Catalog) Checker {
	return Checker{
		Name: "catalog",
		Check: func(context.Context) error {
			if c == nil || len(c.Collections()) == 0 {
				return errors.New("no collections loaded")
			}
			return nil
		},
	}
}

// CircuitSource is a provider failover group.
type CircuitSource interface {
	Names() []string
	Breaker(name string) *resilience.Breaker
}

// Circuits is an optional check named kind that fails while every provider
// in src has an open circuit.
func Circuits(kind string, src CircuitSource) Checker {
	return Checker{
		Name:     kind,
		Optional: true,
		Check: func(context.Context) error {
			names := src.Names()
			for _, n := range names {
				if b := src.Breaker(n); b != nil && b.State() != resilience.StateOpen {
					return nil
				}
			}
			return fmt.Errorf("all %d providers have open circuits", len(names))
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves both probes over a fixed checker list.
type Handler struct {
	checkers []Checker
}

func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each bounded by checkTimeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu       sync.Mutex
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
		g        errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = "ok"
			case c.Optional:
				slog.Info("optional readiness check failed", "check", c.Name, "err", err)
				checks[c.Name] = "degraded: " + err.Error()
				degraded = true
			default:
				slog.Warn("readiness check failed", "check", c.Name, "err", err)
				checks[c.Name] = "fail: " + err.Error()
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	switch {
	case failed:
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	case degraded:
		res.Status = "degraded"
	}
	writeJSON(w, status, res)
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("health: encode response", "err", err)
	}
}
