package voiceid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Defaults for the verification engine. The threshold and dimension track
// the sidecar's ECAPA-TDNN model.
const (
	DefaultThreshold  = 0.5
	DefaultDimensions = 192

	defaultTimeout = 30 * time.Second
)

// Option configures an [Engine].
type Option func(*Engine)

// WithThreshold sets the similarity threshold above which a comparison counts
// as a match. The default is [DefaultThreshold].
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		e.SetThreshold(t)
	}
}

// WithDimensions sets the expected embedding dimension. Sidecar responses
// with a different dimension are rejected. 0 disables the check.
func WithDimensions(d int) Option {
	return func(e *Engine) {
		e.dims = d
	}
}

// WithTimeout sets the HTTP timeout for sidecar requests.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for sidecar requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// Engine computes and compares speaker embeddings through the external
// sidecar and keeps named records in a [Store].
//
// The sidecar connection is initialized lazily on first use; construction
// never performs I/O. Call [Engine.Close] when done. The Engine does not
// close the Store it was given.
type Engine struct {
	sidecarURL string
	store      Store
	httpClient *http.Client
	threshold  atomic.Uint64 // float64 bits of the match threshold
	dims       int

	initOnce sync.Once
	initErr  error
}

// New creates a verification engine talking to the embedding sidecar at
// sidecarURL and persisting records in store.
func New(sidecarURL string, store Store, opts ...Option) (*Engine, error) {
	if sidecarURL == "" {
		return nil, fmt.Errorf("voiceid: sidecar URL must not be empty")
	}
	if store == nil {
		return nil, fmt.Errorf("voiceid: store must not be nil")
	}

	e := &Engine{
		sidecarURL: strings.TrimRight(sidecarURL, "/"),
		store:      store,
		httpClient: &http.Client{Timeout: defaultTimeout},
		dims:       DefaultDimensions,
	}
	e.SetThreshold(DefaultThreshold)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the engine's idle sidecar connections.
func (e *Engine) Close() {
	e.httpClient.CloseIdleConnections()
}

// Threshold returns the current match threshold.
func (e *Engine) Threshold() float64 {
	return math.Float64frombits(e.threshold.Load())
}

// SetThreshold replaces the match threshold. Only future Verify and Identify
// calls observe the new value.
func (e *Engine) SetThreshold(t float64) {
	e.threshold.Store(math.Float64bits(t))
}

// Register embeds the WAV sample through the sidecar and stores it under
// name. Re-registering an existing name replaces the stored embedding.
func (e *Engine) Register(ctx context.Context, name string, sample []byte) (*Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("voiceid: voice name must not be empty")
	}
	if len(sample) == 0 {
		return nil, fmt.Errorf("voiceid: voice sample must not be empty")
	}

	emb, err := e.embed(ctx, sample)
	if err != nil {
		return nil, err
	}

	rec := Record{
		ID:        uuid.NewString(),
		Name:      name,
		Embedding: emb,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("voiceid: save %q: %w", name, err)
	}
	return &rec, nil
}

// Verify embeds the WAV sample and compares it against the record registered
// under name. Returns [ErrNotFound] when the name is not registered.
func (e *Engine) Verify(ctx context.Context, name string, sample []byte) (*Match, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("voiceid: voice sample must not be empty")
	}

	rec, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	emb, err := e.embed(ctx, sample)
	if err != nil {
		return nil, err
	}

	score := cosineSimilarity(rec.Embedding, emb)
	return &Match{
		Name:    rec.Name,
		Score:   score,
		IsMatch: score > e.Threshold(),
	}, nil
}

// Identify embeds the WAV sample and returns the closest registered voice.
// Returns [ErrNotFound] when the registry is empty. The result's IsMatch
// still applies the threshold, so callers can distinguish "closest" from
// "close enough".
func (e *Engine) Identify(ctx context.Context, sample []byte) (*Match, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("voiceid: voice sample must not be empty")
	}

	emb, err := e.embed(ctx, sample)
	if err != nil {
		return nil, err
	}

	results, err := e.store.Nearest(ctx, emb, 1)
	if err != nil {
		return nil, fmt.Errorf("voiceid: search: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	best := results[0]
	score := 1 - best.Distance
	return &Match{
		Name:    best.Record.Name,
		Score:   score,
		IsMatch: score > e.Threshold(),
	}, nil
}

// List returns all registered voices ordered by name.
func (e *Engine) List(ctx context.Context) ([]Record, error) {
	return e.store.List(ctx)
}

// Delete removes the voice registered under name.
// Returns [ErrNotFound] when the name is not registered.
func (e *Engine) Delete(ctx context.Context, name string) error {
	return e.store.Delete(ctx, name)
}

// Suggest returns a registered name similar to name, for "did you mean"
// hints. The second return is false when nothing is similar enough.
func (e *Engine) Suggest(ctx context.Context, name string) (string, bool) {
	recs, err := e.store.List(ctx)
	if err != nil {
		return "", false
	}
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Name
	}
	return Suggest(name, names)
}

// embedResponse is the sidecar's JSON reply to POST /embed.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

// ensureInit probes the sidecar once so a missing process fails with a clear
// error on first use rather than on every call.
func (e *Engine) ensureInit(ctx context.Context) error {
	e.initOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.sidecarURL+"/health", nil)
		if err != nil {
			e.initErr = fmt.Errorf("voiceid: build sidecar request: %w", err)
			return
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			e.initErr = fmt.Errorf("voiceid: sidecar unreachable: %w", err)
			return
		}
		resp.Body.Close()
		// Sidecars without a /health route answer 404; only 5xx means down.
		if resp.StatusCode >= 500 {
			e.initErr = fmt.Errorf("voiceid: sidecar health returned status %d", resp.StatusCode)
		}
	})
	return e.initErr
}

// embed sends the WAV sample to the sidecar and returns the speaker vector.
func (e *Engine) embed(ctx context.Context, sample []byte) ([]float32, error) {
	if err := e.ensureInit(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.sidecarURL+"/embed", bytes.NewReader(sample))
	if err != nil {
		return nil, fmt.Errorf("voiceid: build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voiceid: embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voiceid: sidecar POST /embed returned status %d", resp.StatusCode)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("voiceid: decode embed response: %w", err)
	}
	if er.Status != "" && er.Status != "success" {
		return nil, fmt.Errorf("voiceid: sidecar embed failed: %s", er.Message)
	}
	if len(er.Embedding) == 0 {
		return nil, fmt.Errorf("voiceid: sidecar returned an empty embedding")
	}
	if e.dims > 0 && len(er.Embedding) != e.dims {
		return nil, fmt.Errorf("voiceid: embedding dimension %d does not match configured %d", len(er.Embedding), e.dims)
	}
	return er.Embedding, nil
}
