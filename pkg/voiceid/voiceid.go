// Package voiceid implements the named-voice registry and speaker
// verification for parley.
//
// Speaker embeddings are not computed in-process: an external sidecar
// (a SpeechBrain ECAPA-TDNN service reached over HTTP) turns a WAV sample
// into a fixed-dimension float vector. The [Engine] owns the sidecar
// connection and composes it with a [Store] that persists named records,
// either in memory ([Memstore]) or in PostgreSQL with pgvector
// (the postgres subpackage).
//
// Verification follows the sidecar's own convention: cosine similarity over
// the two embeddings, truncated to the shorter vector when dimensions
// disagree, matched when the score exceeds the threshold (default 0.5).
//
// Every implementation must be safe for concurrent use.
package voiceid

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// ErrNotFound is returned when no voice record exists under the requested
// name, or when an identify call runs against an empty registry.
var ErrNotFound = errors.New("voiceid: voice not found")

// suggestThreshold is the minimum Jaro-Winkler similarity for a registered
// name to be offered as a "did you mean" candidate.
const suggestThreshold = 0.75

// Record is one named voice: a speaker embedding registered under a unique,
// human-chosen name.
type Record struct {
	// ID is a UUID assigned at registration time.
	ID string

	// Name is the unique registry key (e.g., "alice").
	Name string

	// Embedding is the speaker vector produced by the sidecar. Dimension
	// depends on the sidecar's model (192 for ECAPA-TDNN).
	Embedding []float32

	// CreatedAt is when the voice was registered, in UTC.
	CreatedAt time.Time
}

// SearchResult pairs a record with its cosine distance to a query embedding.
// Lower distance means more similar.
type SearchResult struct {
	Record   Record
	Distance float64
}

// Match is the outcome of comparing a voice sample against the registry.
type Match struct {
	// Name is the record the sample was compared against.
	Name string

	// Score is the cosine similarity in [-1, 1].
	Score float64

	// IsMatch reports whether Score exceeded the engine's threshold.
	IsMatch bool
}

// Store persists named voice records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save stores rec, replacing any existing record with the same name.
	Save(ctx context.Context, rec Record) error

	// Get returns the record registered under name, or [ErrNotFound].
	Get(ctx context.Context, name string) (*Record, error)

	// Delete removes the record registered under name, or returns
	// [ErrNotFound] when no such record exists.
	Delete(ctx context.Context, name string) error

	// List returns all records ordered by name.
	List(ctx context.Context) ([]Record, error)

	// Nearest returns up to limit records ordered by ascending cosine
	// distance to embedding.
	Nearest(ctx context.Context, embedding []float32, limit int) ([]SearchResult, error)

	// Ping reports whether the store's backing service is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close()
}

// Suggest returns the known name most similar to name by Jaro-Winkler
// similarity, for "did you mean" hints on registry misses. The second return
// is false when nothing scores above the suggestion threshold.
func Suggest(name string, known []string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}

	var (
		best      string
		bestScore float64
	)
	for _, k := range known {
		s := matchr.JaroWinkler(name, strings.ToLower(k), false)
		if s > bestScore {
			best, bestScore = k, s
		}
	}
	if bestScore < suggestThreshold {
		return "", false
	}
	return best, true
}

// cosineSimilarity computes the cosine similarity of a and b over their
// common prefix, mirroring the sidecar's length alignment. Zero-magnitude
// vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
