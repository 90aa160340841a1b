// Package health serves the liveness and readiness endpoints of the synthesis
// server.
//
//	GET /healthz   200 while the process can serve HTTP
//	GET /readyz    200 "ok" or "degraded", 503 "fail"
//
// Readiness runs every [Checker] concurrently. A failing required check (the
// TTS provider chain) fails readiness; a failing [Optional] check (the export
// store) only downgrades it to "degraded", since speech can still be served.
// Reports are cached for a short TTL so orchestrator polls do not each ping
// the upstream TTS provider.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Report and check status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

const (
	// DefaultCheckTimeout bounds a single readiness check.
	DefaultCheckTimeout = 5 * time.Second

	// DefaultCacheTTL is how long a readiness report is reused.
	DefaultCacheTTL = 2 * time.Second
)

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// Pinger is implemented by dependencies that can report their reachability,
// such as the TTS fallback chain and the export stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a required Checker that calls p.Ping.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Optional marks c so its failure degrades readiness instead of failing it.
func Optional(c Checker) Checker {
	c.Optional = true
	return c
}

// CheckResult is the outcome of one checker.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Optional  bool   `json:"optional,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the JSON body of both endpoints.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// HTTPStatus maps the report status to the endpoint response code.
func (r Report) HTTPStatus() int {
	if r.Status == StatusFail {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckTimeout overrides [DefaultCheckTimeout].
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// WithCacheTTL overrides [DefaultCacheTTL]. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Handler) { h.ttl = d }
}

// Handler serves both endpoints. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	ttl      time.Duration
	now      func() time.Time

	// mu also makes concurrent requests share one evaluation.
	mu       sync.Mutex
	cached   Report
	cachedAt time.Time
}

// New creates a Handler evaluating checkers on /readyz.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
		ttl:      DefaultCacheTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Check returns the current readiness report, reusing a cached one younger
// than the TTL. Reports from a cancelled ctx are not cached.
func (h *Handler) Check(ctx context.Context) Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ttl > 0 && !h.cachedAt.IsZero() && h.now().Sub(h.cachedAt) < h.ttl {
		return h.cached
	}
	rep := h.evaluate(ctx)
	if ctx.Err() == nil {
		h.cached, h.cachedAt = rep, h.now()
	}
	return rep
}

func (h *Handler) evaluate(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, len(h.checkers))
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)

			res := CheckResult{Status: StatusOK, Optional: c.Optional, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status, res.Error = StatusFail, err.Error()
			}
			mu.Lock()
			checks[c.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK, Checks: checks}
	for _, res := range checks {
		switch {
		case res.Status == StatusOK:
		case res.Optional:
			if rep.Status == StatusOK {
				rep.Status = StatusDegraded
			}
		default:
			rep.Status = StatusFail
		}
	}
	return rep
}

// Healthz is the liveness endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness endpoint.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	writeJSON(w, rep.HTTPStatus(), rep)
}

// Router is the subset of chi.Router used by [Handler.Register].
type Router interface {
	Get(pattern string, h http.HandlerFunc)
}

// Register mounts /healthz and /readyz on r.
func (h *Handler) Register(r Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
