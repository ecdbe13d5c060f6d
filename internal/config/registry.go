package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tminde/parley/pkg/provider/stt"
	"github.com/tminde/parley/pkg/provider/translate"
	"github.com/tminde/parley/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one provider kind's name→constructor table.
type factories[T any] struct {
	mu sync.RWMutex
	m  map[string]func(ProviderEntry) (T, error)
}

func (f *factories[T]) put(name string, fn func(ProviderEntry) (T, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]func(ProviderEntry) (T, error))
	}
	f.m[name] = fn
}

func (f *factories[T]) build(kind string, entry ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return fn(entry)
}

// Registry maps provider names to their constructor functions for each
// provider kind. The zero tables are initialised on first registration;
// a Registry is safe for concurrent use.
type Registry struct {
	stt       factories[stt.Provider]
	tts       factories[tts.Provider]
	translate factories[translate.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterSTT registers a speech-to-text provider factory under name.
// Registering the same name again overwrites the earlier factory.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.put(name, factory)
}

// RegisterTTS registers a text-to-speech provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.put(name, factory)
}

// RegisterTranslate registers a translation provider factory under name.
func (r *Registry) RegisterTranslate(name string, factory func(ProviderEntry) (translate.Provider, error)) {
	r.translate.put(name, factory)
}

// CreateSTT instantiates the STT provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] when the name is unknown.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.build("stt", entry)
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.build("tts", entry)
}

// CreateTranslate instantiates the translation provider registered under entry.Name.
func (r *Registry) CreateTranslate(entry ProviderEntry) (translate.Provider, error) {
	return r.translate.build("translate", entry)
}
