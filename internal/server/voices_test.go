package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tminde/parley/internal/server"
	"github.com/tminde/parley/pkg/voiceid"
)

// ─── fixtures ────────────────────────────────────────────────────────────────

// sidecar fakes the embedding service: GET /health answers 200 and
// POST /embed replies with a scripted embedding.
type sidecar struct {
	srv *httptest.Server

	mu        sync.Mutex
	embedding []float32
}

func newSidecar(t *testing.T, embedding []float32) *sidecar {
	t.Helper()
	sc := &sidecar{embedding: embedding}
	sc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/embed":
			sc.mu.Lock()
			emb := sc.embedding
			sc.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"embedding": emb,
				"status":    "success",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(sc.srv.Close)
	return sc
}

// set changes what the next /embed call returns.
func (sc *sidecar) set(emb []float32) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.embedding = emb
}

// newVoiceServer starts a test server with voice identification wired to a
// scripted sidecar and an in-memory store.
func newVoiceServer(t *testing.T) (*httptest.Server, *sidecar) {
	t.Helper()
	sc := newSidecar(t, []float32{1, 0, 0})
	e, err := voiceid.New(sc.srv.URL, voiceid.NewMemstore(), voiceid.WithDimensions(3))
	if err != nil {
		t.Fatalf("voiceid.New: %v", err)
	}
	t.Cleanup(e.Close)
	srv, _ := newServer(t, server.WithVoices(e))
	return srv, sc
}

// do issues a request with an arbitrary method and returns the response with
// its body fully read.
func do(t *testing.T, method, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp, data
}

// register stores a voice and fails the test on anything but 201.
func register(t *testing.T, srv, name string) {
	t.Helper()
	resp, body := post(t, srv+"/v1/voices/"+name, "audio/wav", sampleWAV(1))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status = %d, body = %s", name, resp.StatusCode, body)
	}
}

// matchResponse mirrors the verify and identify reply bodies.
type matchResponse struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	IsMatch bool    `json:"is_match"`
	Status  string  `json:"status"`
}

// ─── registration ────────────────────────────────────────────────────────────

func TestVoices_NotConfigured(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)

	resp, body := post(t, srv.URL+"/v1/voices/alice", "audio/wav", sampleWAV(1))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if msg := errorMessage(t, body); !strings.Contains(msg, "not configured") {
		t.Errorf("error = %q, want configuration hint", msg)
	}
}

func TestRegisterVoice(t *testing.T) {
	t.Parallel()
	srv, _ := newVoiceServer(t)

	resp, body := post(t, srv.URL+"/v1/voices/alice", "audio/wav", sampleWAV(1))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var rec struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if rec.ID == "" {
		t.Error("id should be assigned")
	}
	if rec.Name != "alice" {
		t.Errorf("name = %q, want alice", rec.Name)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}

	listResp, listBody := get(t, srv.URL+"/v1/voices")
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", listResp.StatusCode)
	}
	if !strings.Contains(string(listBody), `"name":"alice"`) {
		t.Errorf("list body = %s, want alice", listBody)
	}
	if strings.Contains(string(listBody), "embedding") {
		t.Errorf("list body leaks embeddings: %s", listBody)
	}
}

func TestRegisterVoice_EmptySample(t *testing.T) {
	t.Parallel()
	srv, _ := newVoiceServer(t)

	resp, _ := post(t, srv.URL+"/v1/voices/alice", "audio/wav", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRegisterVoice_BlankName(t *testing.T) {
	t.Parallel()
	srv, _ := newVoiceServer(t)

	resp, _ := post(t, srv.URL+"/v1/voices/%20", "audio/wav", sampleWAV(1))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

// ─── verification ────────────────────────────────────────────────────────────

func TestVerifyVoice_Match(t *testing.T) {
	t.Parallel()
	srv, _ := newVoiceServer(t)
	register(t, srv.URL, "alice")

	resp, body := post(t, srv.URL+"/v1/voices/alice/verify", "audio/wav", sampleWAV(1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var m matchResponse
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if m.Name != "alice" {
		t.Errorf("name = %q, want alice", m.Name)
	}
	if m.Score < 0.99 {
		t.Errorf("score = %f, want near 1 for identical embeddings", m.Score)
	}
	if !m.IsMatch {
		t.Error("is_match should be true")
	}
	if m.Status != "success" {
		t.Errorf("status = %q, want success", m.Status)
	}
}

func TestVerifyVoice_Mismatch(t *testing.T) {
	t.Parallel()
	srv, sc := newVoiceServer(t)
	register(t, srv.URL, "alice")

	// An orthogonal embedding scores zero, well under the threshold.
	sc.set([]float32{0, 1, 0})
	resp, body := post(t, srv.URL+"/v1/voices/alice/verify", "audio/wav", sampleWAV(1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var m matchResponse
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if m.IsMatch {
		t.Errorf("is_match should be false, score = %f", m.Score)
	}
}

func TestVerifyVoice_UnknownNameSuggests(t *testing.T) {
	t.Parallel()
	srv, _ := newVoiceServer(t)
	register(t, srv.URL, "alice")

	resp, body := post(t, srv.URL+"/v1/voices/alise/verify", "audio/wav", sampleWAV(1))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if msg := errorMessage(t, body); !strings.Contains(msg, `did you mean "alice"`) {
		t.Errorf("error = %q, want a suggestion for alice", msg)
	}
}

// ─── deletion ────────────────────────────────────────────────────────────────

func TestDeleteVoice(t *testing.T) {
	t.Parallel()
	srv, _ := newVoiceServer(t)
	register(t, srv.URL, "alice")

	resp, _ := do(t, http.MethodDelete, srv.URL+"/v1/voices/alice", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/voices/alice", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

// ─── identification ──────────────────────────────────────────────────────────

func TestIdentifyVoice(t *testing.T) {
	t.Parallel()
	srv, sc := newVoiceServer(t)
	register(t, srv.URL, "alice")
	sc.set([]float32{0, 1, 0})
	register(t, srv.URL, "bob")

	// A probe close to alice's embedding identifies alice.
	sc.set([]float32{0.9, 0.1, 0})
	resp, body := post(t, srv.URL+"/v1/voices/identify", "audio/wav", sampleWAV(1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var m matchResponse
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if m.Name != "alice" {
		t.Errorf("identified %q, want alice", m.Name)
	}
	if !m.IsMatch {
		t.Errorf("is_match should be true, score = %f", m.Score)
	}
}

func TestIdentifyVoice_EmptyRegistry(t *testing.T) {
	t.Parallel()
	srv, _ := newVoiceServer(t)

	resp, _ := post(t, srv.URL+"/v1/voices/identify", "audio/wav", sampleWAV(1))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
