// Package health exposes the liveness and readiness endpoints.
//
// Liveness (/healthz) answers 200 as long as the process can serve HTTP
// at all. Readiness (/readyz) additionally probes the dependencies a
// relay request would touch — the voice store, the transcription
// sidecar — and reports per-probe latency so a slow dependency is
// visible before it becomes a dead one.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds a single readiness probe. A dependency that
// cannot answer within this window is reported as down.
const probeTimeout = 5 * time.Second

// A Checker probes one dependency.
type Checker struct {
	// Name identifies the dependency in the readiness report,
	// e.g. "voice-store" or "sidecar".
	Name string

	// Check returns nil when the dependency can serve requests. It must
	// respect context cancellation.
	Check func(ctx context.Context) error
}

// PingURL returns a Checker that issues a GET against url. Connection
// failures and 5xx answers mark the dependency down; any other status
// means the process behind the URL is alive. A nil client falls back
// to http.DefaultClient.
func PingURL(name, url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("%s answered %d", url, resp.StatusCode)
			}
			return nil
		},
	}
}

// Handler serves the health endpoints. The checker list is fixed at
// construction; a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New returns a Handler that runs the given checkers on every
// readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, started: time.Now()}
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// report is the JSON body of both endpoints.
type report struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime"`
	Checks map[string]probeResult `json:"checks,omitempty"`
}

// probeResult is one dependency's slice of the readiness report.
type probeResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Healthz reports liveness. No dependencies are consulted; a process
// that can run this handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, report{Status: "ok", Uptime: h.uptime()})
}

// Readyz reports readiness. All checkers run concurrently, each under
// its own timeout, and every probe appears in the report even when
// another one fails. A single failing dependency turns the whole
// answer into a 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	probes := make([]probeResult, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			probes[i] = runProbe(r.Context(), c)
			return nil
		})
	}
	_ = g.Wait() // probes never return errors; failures live in their slot

	rep := report{
		Status: "ok",
		Uptime: h.uptime(),
		Checks: make(map[string]probeResult, len(h.checkers)),
	}
	code := http.StatusOK
	for i, c := range h.checkers {
		rep.Checks[c.Name] = probes[i]
		if probes[i].Status != "ok" {
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
		}
	}
	h.respond(w, code, rep)
}

// runProbe times a single checker under the probe timeout.
func runProbe(ctx context.Context, c Checker) probeResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	p := probeResult{Status: "ok", Latency: time.Since(start).String()}
	if err != nil {
		p.Status = "fail"
		p.Error = err.Error()
	}
	return p
}

func (h *Handler) uptime() string {
	return time.Since(h.started).Round(time.Second).String()
}

func (h *Handler) respond(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep) // the status line is already out
}
