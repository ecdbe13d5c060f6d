// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription service (a local whisper.cpp server,
// the whisper.cpp library itself, or the OpenAI API) behind a uniform batch
// interface: one complete utterance in, one transcript out. Audio is handed
// over as a WAV container rather than raw PCM so that each backend can read
// the sample rate and channel count it was given instead of trusting the
// caller to agree on a format out of band.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Request describes a single transcription request.
type Request struct {
	// Audio is a complete WAV container holding the utterance to transcribe.
	// Providers may reject containers whose sample encoding they do not
	// understand.
	Audio []byte

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string
}

// Result is the transcription outcome for one Request.
type Result struct {
	// Text is the transcribed text. May be empty when the audio contained no
	// recognisable speech.
	Text string

	// Language is the language the provider transcribed in. Providers that do
	// not report a detected language echo the requested one.
	Language string
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple Transcribe calls
// may run in parallel.
type Provider interface {
	// Transcribe submits one utterance for transcription and blocks until the
	// transcript is available, ctx is cancelled, or the backend fails.
	//
	// Implementations must not retain req.Audio after returning.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
