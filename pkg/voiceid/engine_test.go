package voiceid_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tminde/parley/pkg/voiceid"
	"github.com/tminde/parley/pkg/wav"
)

// sidecarServer fakes the embedding sidecar: GET /health answers 200 and
// POST /embed replies with a scripted embedding.
type sidecarServer struct {
	srv *httptest.Server

	mu          sync.Mutex
	embedding   []float32
	embedCalls  int
	contentType string
}

func newSidecar(t *testing.T, embedding []float32) *sidecarServer {
	t.Helper()
	ss := &sidecarServer{embedding: embedding}
	ss.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/embed":
			ss.mu.Lock()
			ss.embedCalls++
			ss.contentType = r.Header.Get("Content-Type")
			emb := ss.embedding
			ss.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"embedding": emb,
				"status":    "success",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ss.srv.Close)
	return ss
}

// setEmbedding changes what the next /embed call returns.
func (ss *sidecarServer) setEmbedding(emb []float32) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.embedding = emb
}

func mustEngine(t *testing.T, sidecarURL string, store voiceid.Store, opts ...voiceid.Option) *voiceid.Engine {
	t.Helper()
	e, err := voiceid.New(sidecarURL, store, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

// sampleWAV is a short silent utterance in canonical format.
func sampleWAV() []byte {
	return wav.Encode(make([]byte, 640), 16000, 1)
}

// ── construction ─────────────────────────────────────────────────────────────

func TestNew_EmptySidecarURL(t *testing.T) {
	t.Parallel()
	_, err := voiceid.New("", voiceid.NewMemstore())
	if err == nil {
		t.Fatal("expected error for empty sidecar URL, got nil")
	}
}

func TestNew_NilStore(t *testing.T) {
	t.Parallel()
	_, err := voiceid.New("http://localhost:8501", nil)
	if err == nil {
		t.Fatal("expected error for nil store, got nil")
	}
}

// ── Register ─────────────────────────────────────────────────────────────────

func TestRegister_StoresEmbedding(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{0.1, 0.2, 0.3})
	store := voiceid.NewMemstore()
	e := mustEngine(t, ss.srv.URL, store, voiceid.WithDimensions(3))

	rec, err := e.Register(context.Background(), "alice", sampleWAV())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if rec.ID == "" {
		t.Error("record ID should be assigned")
	}
	if rec.Name != "alice" {
		t.Errorf("name = %q, want alice", rec.Name)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if diff := cmp.Diff([]float32{0.1, 0.2, 0.3}, rec.Embedding); diff != "" {
		t.Errorf("embedding mismatch (-want +got):\n%s", diff)
	}

	stored, err := store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get after register: %v", err)
	}
	if stored.ID != rec.ID {
		t.Errorf("stored ID = %q, want %q", stored.ID, rec.ID)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.contentType != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ss.contentType)
	}
}

func TestRegister_EmptyName(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1})
	e := mustEngine(t, ss.srv.URL, voiceid.NewMemstore())

	if _, err := e.Register(context.Background(), "   ", sampleWAV()); err == nil {
		t.Fatal("expected error for blank name, got nil")
	}
}

func TestRegister_EmptySample(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1})
	e := mustEngine(t, ss.srv.URL, voiceid.NewMemstore())

	if _, err := e.Register(context.Background(), "alice", nil); err == nil {
		t.Fatal("expected error for empty sample, got nil")
	}
}

func TestRegister_ReplacesExisting(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1, 0, 0})
	store := voiceid.NewMemstore()
	e := mustEngine(t, ss.srv.URL, store, voiceid.WithDimensions(3))
	ctx := context.Background()

	first, err := e.Register(ctx, "alice", sampleWAV())
	if err != nil {
		t.Fatalf("first Register: %v", err)
	}

	ss.setEmbedding([]float32{0, 1, 0})
	second, err := e.Register(ctx, "alice", sampleWAV())
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if second.ID == first.ID {
		t.Error("re-registration should assign a fresh ID")
	}

	all, err := e.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d records, want 1", len(all))
	}
	if all[0].Embedding[1] != 1 {
		t.Errorf("stored embedding not replaced: %v", all[0].Embedding)
	}
}

// ── Verify ───────────────────────────────────────────────────────────────────

func TestVerify_Match(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1, 0, 0})
	e := mustEngine(t, ss.srv.URL, voiceid.NewMemstore(), voiceid.WithDimensions(3))
	ctx := context.Background()

	if _, err := e.Register(ctx, "alice", sampleWAV()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m, err := e.Verify(ctx, "alice", sampleWAV())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !m.IsMatch {
		t.Errorf("expected match, score = %f", m.Score)
	}
	if m.Score < 0.99 {
		t.Errorf("score = %f, want ~1 for identical embeddings", m.Score)
	}
	if m.Name != "alice" {
		t.Errorf("name = %q, want alice", m.Name)
	}
}

func TestVerify_NoMatch(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1, 0, 0})
	store := voiceid.NewMemstore()
	e := mustEngine(t, ss.srv.URL, store, voiceid.WithDimensions(3))
	ctx := context.Background()

	if _, err := e.Register(ctx, "alice", sampleWAV()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// The probe sample embeds orthogonally to alice's stored vector.
	ss.setEmbedding([]float32{0, 1, 0})
	m, err := e.Verify(ctx, "alice", sampleWAV())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if m.IsMatch {
		t.Errorf("expected no match, score = %f", m.Score)
	}
	if m.Score > 0.01 {
		t.Errorf("score = %f, want ~0 for orthogonal embeddings", m.Score)
	}
}

func TestVerify_UnknownName(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1})
	e := mustEngine(t, ss.srv.URL, voiceid.NewMemstore())

	_, err := e.Verify(context.Background(), "ghost", sampleWAV())
	if !errors.Is(err, voiceid.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestVerify_CustomThreshold(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1, 0, 0})
	e := mustEngine(t, ss.srv.URL, voiceid.NewMemstore(),
		voiceid.WithDimensions(3), voiceid.WithThreshold(0.95))
	ctx := context.Background()

	if _, err := e.Register(ctx, "alice", sampleWAV()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Similarity ~0.89 passes the default threshold but not 0.95.
	ss.setEmbedding([]float32{0.9, 0.45, 0})
	m, err := e.Verify(ctx, "alice", sampleWAV())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if m.IsMatch {
		t.Errorf("expected no match at threshold 0.95, score = %f", m.Score)
	}
}

// ── Identify ─────────────────────────────────────────────────────────────────

func TestIdentify_PicksClosest(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1, 0, 0})
	store := voiceid.NewMemstore()
	e := mustEngine(t, ss.srv.URL, store, voiceid.WithDimensions(3))
	ctx := context.Background()

	if _, err := e.Register(ctx, "alice", sampleWAV()); err != nil {
		t.Fatalf("Register alice: %v", err)
	}
	ss.setEmbedding([]float32{0, 1, 0})
	if _, err := e.Register(ctx, "bob", sampleWAV()); err != nil {
		t.Fatalf("Register bob: %v", err)
	}

	ss.setEmbedding([]float32{0.9, 0.1, 0})
	m, err := e.Identify(ctx, sampleWAV())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if m.Name != "alice" {
		t.Errorf("identified %q, want alice", m.Name)
	}
	if !m.IsMatch {
		t.Errorf("expected match, score = %f", m.Score)
	}
}

func TestIdentify_EmptyRegistry(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1})
	e := mustEngine(t, ss.srv.URL, voiceid.NewMemstore(), voiceid.WithDimensions(1))

	_, err := e.Identify(context.Background(), sampleWAV())
	if !errors.Is(err, voiceid.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

// ── sidecar failure modes ────────────────────────────────────────────────────

func TestRegister_SidecarError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	e := mustEngine(t, srv.URL, voiceid.NewMemstore())

	_, err := e.Register(context.Background(), "alice", sampleWAV())
	if err == nil {
		t.Fatal("expected error for sidecar 500, got nil")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should carry the status code, got: %v", err)
	}
}

func TestRegister_SidecarReportsFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "error",
			"message": "could not decode audio",
		})
	}))
	t.Cleanup(srv.Close)
	e := mustEngine(t, srv.URL, voiceid.NewMemstore())

	_, err := e.Register(context.Background(), "alice", sampleWAV())
	if err == nil {
		t.Fatal("expected error for sidecar status=error, got nil")
	}
	if !strings.Contains(err.Error(), "could not decode audio") {
		t.Errorf("error should carry the sidecar message, got: %v", err)
	}
}

func TestRegister_DimensionMismatch(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1, 2, 3})
	e := mustEngine(t, ss.srv.URL, voiceid.NewMemstore(), voiceid.WithDimensions(192))

	_, err := e.Register(context.Background(), "alice", sampleWAV())
	if err == nil {
		t.Fatal("expected error for dimension mismatch, got nil")
	}
	if !strings.Contains(err.Error(), "dimension") {
		t.Errorf("error should mention dimension, got: %v", err)
	}
}

func TestRegister_SidecarDown(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	e := mustEngine(t, url, voiceid.NewMemstore())

	_, err := e.Register(context.Background(), "alice", sampleWAV())
	if err == nil {
		t.Fatal("expected error for unreachable sidecar, got nil")
	}

	// The probe result is cached; the second call fails the same way
	// without a fresh connection attempt.
	_, err2 := e.Register(context.Background(), "alice", sampleWAV())
	if err2 == nil {
		t.Fatal("expected cached init error, got nil")
	}
}

// ── Suggest ──────────────────────────────────────────────────────────────────

func TestEngineSuggest(t *testing.T) {
	t.Parallel()
	ss := newSidecar(t, []float32{1, 0, 0})
	e := mustEngine(t, ss.srv.URL, voiceid.NewMemstore(), voiceid.WithDimensions(3))
	ctx := context.Background()

	for _, name := range []string{"alice", "bob"} {
		if _, err := e.Register(ctx, name, sampleWAV()); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	got, ok := e.Suggest(ctx, "alise")
	if !ok {
		t.Fatal("expected a suggestion for alise")
	}
	if got != "alice" {
		t.Errorf("suggestion = %q, want alice", got)
	}

	if _, ok := e.Suggest(ctx, "zzzzqq"); ok {
		t.Error("expected no suggestion for a dissimilar name")
	}
}
