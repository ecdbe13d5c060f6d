package voiceid

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Compile-time interface check.
var _ Store = (*Memstore)(nil)

// Memstore is an in-memory [Store] for deployments without PostgreSQL and
// for tests. Records do not survive a restart.
type Memstore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemstore returns an empty in-memory voice store.
func NewMemstore() *Memstore {
	return &Memstore{records: make(map[string]Record)}
}

// Save stores rec, replacing any existing record with the same name.
func (m *Memstore) Save(_ context.Context, rec Record) error {
	if rec.Name == "" {
		return fmt.Errorf("memstore: record name must not be empty")
	}
	emb := make([]float32, len(rec.Embedding))
	copy(emb, rec.Embedding)
	rec.Embedding = emb

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Name] = rec
	return nil
}

// Get returns the record registered under name, or [ErrNotFound].
func (m *Memstore) Get(_ context.Context, name string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return &rec, nil
}

// Delete removes the record registered under name, or returns [ErrNotFound].
func (m *Memstore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(m.records, name)
	return nil
}

// List returns all records ordered by name.
func (m *Memstore) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs, nil
}

// Nearest returns up to limit records ordered by ascending cosine distance
// to embedding. Ties break by name for determinism.
func (m *Memstore) Nearest(_ context.Context, embedding []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("memstore: nearest limit must be positive, got %d", limit)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SearchResult, 0, len(m.records))
	for _, rec := range m.records {
		results = append(results, SearchResult{
			Record:   rec,
			Distance: 1 - cosineSimilarity(embedding, rec.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Record.Name < results[j].Record.Name
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Ping always succeeds; the memstore has no backing service.
func (m *Memstore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Memstore) Close() {}
