// Package mock is an in-memory stand-in for a TTS backend.
//
// The zero value works; script outcomes through the exported fields and
// inspect SynthesizeCalls afterwards:
//
//	p := &mock.Provider{
//	    SynthesizeResult: wav.Encode(pcm, 16000, 1),
//	    ListVoicesResult: []tts.Voice{{ID: "v1", Name: "Alice"}},
//	}
//	audio, _ := p.Synthesize(ctx, tts.Request{Text: "hello", Voice: voice})
package mock

import (
	"context"
	"sync"

	"github.com/tminde/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Provider scripts tts.Provider outcomes and keeps every request it saw.
// Safe for concurrent use.
type Provider struct {
	// SynthesizeFunc, when set, decides each Synthesize outcome and wins
	// over the Result/Err pair below.
	SynthesizeFunc func(ctx context.Context, req tts.Request) ([]byte, error)

	// SynthesizeResult is the audio handed back on success. Callers get a
	// copy, so mutating the returned slice cannot corrupt later calls.
	SynthesizeResult []byte

	// SynthesizeErr makes every Synthesize call fail.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr script ListVoices the same way.
	ListVoicesResult []tts.Voice
	ListVoicesErr    error

	// SynthesizeCalls holds the synthesis requests in arrival order.
	SynthesizeCalls []tts.Request

	// ListVoicesCalls counts ListVoices invocations.
	ListVoicesCalls int

	mu sync.Mutex
}

// Synthesize appends req to SynthesizeCalls and plays back the scripted
// outcome.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, req)
	fn, out, err := p.SynthesizeFunc, p.SynthesizeResult, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), out...), nil
}

// ListVoices plays back the scripted catalogue.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Reset forgets the recorded calls but keeps the scripted outcomes.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}
