// Package translate defines the Provider interface for text translation
// backends.
//
// Translation sits between transcription and synthesis in a relay: the
// recognised utterance is translated into the target language before it is
// handed to TTS. The interface is deliberately small; the language pair
// travels with every request so a single provider instance can serve both
// directions of a session.
package translate

import "context"

// Request describes a single translation call.
type Request struct {
	// Text is the source-language text to translate. Must be non-empty.
	Text string

	// SourceLang is the language of Text (e.g., "en"). Optional; providers
	// that support detection may infer it when empty.
	SourceLang string

	// TargetLang is the language to translate into (e.g., "de"). Required.
	TargetLang string
}

// Provider is the abstraction over any translation backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Translate returns req.Text rendered in req.TargetLang. The result is
	// plain text with no markup or commentary.
	Translate(ctx context.Context, req Request) (string, error)
}
