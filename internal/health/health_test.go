package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// hit drives a single GET through the given handler and decodes the JSON
// report it wrote.
func hit(t *testing.T, fn http.HandlerFunc, target string) (*httptest.ResponseRecorder, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var rep report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("%s wrote invalid JSON: %v", target, err)
	}
	return rec, rep
}

func pass(context.Context) error { return nil }

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	rec, rep := hit(t, New().Healthz, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
	if rep.Status != "ok" {
		t.Errorf("report status = %q, want ok", rep.Status)
	}
	if rep.Uptime == "" {
		t.Error("report has no uptime")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz_AllProbesPass(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "voice-store", Check: pass},
		Checker{Name: "sidecar", Check: pass},
	)
	rec, rep := hit(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if rep.Status != "ok" {
		t.Errorf("report status = %q, want ok", rep.Status)
	}
	for _, name := range []string{"voice-store", "sidecar"} {
		probe, found := rep.Checks[name]
		switch {
		case !found:
			t.Errorf("probe %q missing from report", name)
		case probe.Status != "ok":
			t.Errorf("probe %q status = %q, want ok", name, probe.Status)
		case probe.Latency == "":
			t.Errorf("probe %q has no latency", name)
		}
	}
}

func TestReadyz_OneProbeFails(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "voice-store", Check: func(context.Context) error {
			return errors.New("voice store unreachable")
		}},
		Checker{Name: "sidecar", Check: pass},
	)
	rec, rep := hit(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	if rep.Status != "fail" {
		t.Errorf("report status = %q, want fail", rep.Status)
	}
	if probe := rep.Checks["voice-store"]; probe.Status != "fail" || probe.Error != "voice store unreachable" {
		t.Errorf("voice-store probe = %+v", probe)
	}
	if probe := rep.Checks["sidecar"]; probe.Status != "ok" {
		t.Errorf("sidecar status = %q, want ok", probe.Status)
	}
}

func TestReadyz_EveryProbeFails(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "voice-store", Check: func(context.Context) error {
			return errors.New("timeout")
		}},
		Checker{Name: "sidecar", Check: func(context.Context) error {
			return errors.New("sidecar not running")
		}},
	)
	rec, rep := hit(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	if rep.Status != "fail" {
		t.Errorf("report status = %q, want fail", rep.Status)
	}
	for name, msg := range map[string]string{
		"voice-store": "timeout",
		"sidecar":     "sidecar not running",
	} {
		if probe := rep.Checks[name]; probe.Error != msg {
			t.Errorf("probe %q error = %q, want %q", name, probe.Error, msg)
		}
	}
}

func TestReadyz_NoProbes(t *testing.T) {
	t.Parallel()

	rec, rep := hit(t, New().Readyz, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
	if rep.Status != "ok" {
		t.Errorf("report status = %q, want ok", rep.Status)
	}
}

func TestReadyz_ProbesRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each probe waits for the other to start; sequential evaluation
	// would strand the first one behind the probe timeout.
	var both sync.WaitGroup
	both.Add(2)
	meet := func(ctx context.Context) error {
		both.Done()
		done := make(chan struct{})
		go func() { both.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "left", Check: meet}, Checker{Name: "right", Check: meet})

	rec, _ := hit(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
}

func TestReadyz_PreCancelledRequest(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestRegister_MountsBothRoutes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "noop", Check: pass}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec, _ := hit(t, mux.ServeHTTP, path)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestPingURL_StatusMapping(t *testing.T) {
	t.Parallel()

	// Anything below 500 means the process answered; only 5xx and
	// connection errors mark the dependency down.
	for _, tc := range []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := PingURL("sidecar", srv.URL, srv.Client())
		err := c.Check(context.Background())
		srv.Close()

		if tc.wantErr && err == nil {
			t.Errorf("status %d: expected error, got nil", tc.status)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("status %d: unexpected error: %v", tc.status, err)
		}
	}
}

func TestPingURL_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	c := PingURL("sidecar", target, nil)
	if c.Name != "sidecar" {
		t.Errorf("name = %q, want sidecar", c.Name)
	}
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected error for closed server, got nil")
	}
}
