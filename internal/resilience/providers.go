package resilience

import (
	"context"

	"github.com/tminde/parley/pkg/provider/stt"
	"github.com/tminde/parley/pkg/provider/translate"
	"github.com/tminde/parley/pkg/provider/tts"
)

// STT presents a failover chain of speech-to-text providers as a single
// [stt.Provider].
type STT struct {
	chain *Failover[stt.Provider]
}

var _ stt.Provider = (*STT)(nil)

// NewSTT creates an [STT] with primary as the preferred backend.
func NewSTT(primary stt.Provider, name string, cfg FailoverConfig) *STT {
	return &STT{chain: NewFailover(primary, name, cfg)}
}

// Add registers an additional provider, tried when everything before it fails.
func (p *STT) Add(name string, fallback stt.Provider) {
	p.chain.Add(name, fallback)
}

// Transcribe runs the request against the first healthy provider in the chain.
func (p *STT) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return Attempt(ctx, p.chain, func(b stt.Provider) (*stt.Result, error) {
		return b.Transcribe(ctx, req)
	})
}

// Translate presents a failover chain of translation providers as a single
// [translate.Provider].
type Translate struct {
	chain *Failover[translate.Provider]
}

var _ translate.Provider = (*Translate)(nil)

// NewTranslate creates a [Translate] with primary as the preferred backend.
func NewTranslate(primary translate.Provider, name string, cfg FailoverConfig) *Translate {
	return &Translate{chain: NewFailover(primary, name, cfg)}
}

// Add registers an additional provider, tried when everything before it fails.
func (p *Translate) Add(name string, fallback translate.Provider) {
	p.chain.Add(name, fallback)
}

// Translate runs the request against the first healthy provider in the chain.
func (p *Translate) Translate(ctx context.Context, req translate.Request) (string, error) {
	return Attempt(ctx, p.chain, func(b translate.Provider) (string, error) {
		return b.Translate(ctx, req)
	})
}

// TTS presents a failover chain of text-to-speech providers as a single
// [tts.Provider]. Both synthesis and voice listing fail over.
type TTS struct {
	chain *Failover[tts.Provider]
}

var _ tts.Provider = (*TTS)(nil)

// NewTTS creates a [TTS] with primary as the preferred backend.
func NewTTS(primary tts.Provider, name string, cfg FailoverConfig) *TTS {
	return &TTS{chain: NewFailover(primary, name, cfg)}
}

// Add registers an additional provider, tried when everything before it fails.
func (p *TTS) Add(name string, fallback tts.Provider) {
	p.chain.Add(name, fallback)
}

// Synthesize runs the request against the first healthy provider in the chain.
// Fallback providers may expose different voice catalogues; a request that
// names a primary-only voice will fail over and then error on the fallback,
// which surfaces in the returned error chain.
func (p *TTS) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	return Attempt(ctx, p.chain, func(b tts.Provider) ([]byte, error) {
		return b.Synthesize(ctx, req)
	})
}

// ListVoices returns the catalogue of the first healthy provider in the chain.
func (p *TTS) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return Attempt(ctx, p.chain, func(b tts.Provider) ([]tts.Voice, error) {
		return b.ListVoices(ctx)
	})
}
