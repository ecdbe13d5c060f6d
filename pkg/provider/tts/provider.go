// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI, a local
// Coqui server, or ElevenLabs) and presents a uniform batch interface: one
// call per utterance, returning a complete WAV container. Providers emit
// audio at whatever sample rate and channel count their backend produces
// natively; callers that need canonical PCM feed the container through the
// transcoder, which normalizes any supported WAV input on encode.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request describes a single synthesis call.
type Request struct {
	// Text is the utterance to synthesise. Must be non-empty.
	Text string

	// Voice selects the synthesis voice. Providers should return an error if
	// the requested voice is not available. Some backends accept a zero Voice
	// and fall back to a built-in default.
	Voice Voice

	// Language is the language code to synthesise in (e.g., "en", "de").
	// Optional; providers fall back to their configured default when empty.
	Language string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (e.g., both directions of a relay at once).
type Provider interface {
	// Synthesize renders req.Text as speech and returns a complete WAV
	// container. The container's sample rate and channel count are whatever
	// the backend produces natively.
	//
	// Returns an error if synthesis fails or ctx is cancelled before the
	// audio is fully received.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// ListVoices returns all voices available from this provider. The list
	// reflects the provider's current catalogue and may change between calls
	// if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]Voice, error)
}
