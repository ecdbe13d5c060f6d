// Package relay implements the speech-to-speech relay pipeline.
//
// A relay takes one encoded voice message and re-speaks it in another
// language:
//
//  1. The compressed frame stream is decoded back to a PCM container.
//  2. STT transcribes the utterance; glossary terms are realigned when a
//     lexicon is configured.
//  3. The transcript is translated into the target language.
//  4. TTS synthesises the translation.
//  5. The synthesised audio is normalized and re-encoded into a fresh
//     frame stream.
//
// Each call is one batch round trip for a complete message; nothing is
// streamed between stages. A Pipeline holds only configuration and provider
// handles, so a single instance may serve any number of concurrent calls.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tminde/parley/internal/observe"
	"github.com/tminde/parley/pkg/provider/stt"
	"github.com/tminde/parley/pkg/provider/translate"
	"github.com/tminde/parley/pkg/provider/tts"
	"github.com/tminde/parley/pkg/transcode"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoSpeech is returned when STT produces an empty transcript, meaning the
// message contained no recognisable speech. There is nothing to translate or
// synthesise, so the pipeline stops after the transcription stage.
var ErrNoSpeech = errors.New("relay: no speech recognized")

// Request describes one message to relay.
type Request struct {
	// Stream is the encoded frame stream of the source message.
	Stream []byte

	// SourceLang is the language of the source message (e.g., "en").
	// Optional; when empty the STT provider detects the language.
	SourceLang string

	// TargetLang is the language to re-speak the message in. Required.
	TargetLang string

	// Voice selects the synthesis voice. A zero Voice falls back to the
	// pipeline's configured default.
	Voice tts.Voice
}

// Result is the outcome of one relayed message.
type Result struct {
	// Transcript is the text recognised from the source message.
	Transcript string

	// Translation is the transcript rendered in the target language. Equal
	// to Transcript when the source and target languages match.
	Translation string

	// SourceLang is the source language as reported by the STT provider, or
	// the requested one when the provider does not detect languages.
	SourceLang string

	// TargetLang is the language the message was re-spoken in.
	TargetLang string

	// Stream is the encoded frame stream of the re-spoken message.
	Stream []byte
}

// Option is a functional option for configuring a Pipeline during
// construction.
type Option func(*Pipeline)

// WithTranscoder replaces the default transcoder. Intended for tests and for
// wiring a transcoder with a non-default bitrate.
func WithTranscoder(t *transcode.Transcoder) Option {
	return func(p *Pipeline) { p.transcoder = t }
}

// WithVoice sets the default synthesis voice used when a Request carries a
// zero Voice.
func WithVoice(v tts.Voice) Option {
	return func(p *Pipeline) { p.voice = v }
}

// WithMetrics enables per-stage latency histograms and provider counters.
// Without it the pipeline records nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithGlossary supplies terms (proper nouns, product names) the pipeline
// realigns in transcripts before translation. Speech recognition tends to
// mangle names it has never seen; spans that sound like a glossary term are
// replaced with the configured spelling. No terms, no realignment.
func WithGlossary(terms ...string) Option {
	return func(p *Pipeline) {
		l := NewLexicon(terms)
		if l.Len() > 0 {
			p.lexicon = l
		}
	}
}

// WithProviderNames sets the provider labels used on metric counters.
// Defaults are the stage kinds themselves ("stt", "translate", "tts").
func WithProviderNames(sttName, translateName, ttsName string) Option {
	return func(p *Pipeline) {
		if sttName != "" {
			p.names.stt = sttName
		}
		if translateName != "" {
			p.names.translate = translateName
		}
		if ttsName != "" {
			p.names.tts = ttsName
		}
	}
}

// Pipeline relays voice messages across languages. It is safe for concurrent
// use; every call creates its own codec engines via the shared transcoder.
type Pipeline struct {
	sttP       stt.Provider
	translateP translate.Provider
	ttsP       tts.Provider

	transcoder *transcode.Transcoder
	voice      tts.Voice
	metrics    *observe.Metrics
	lexicon    *Lexicon

	names struct {
		stt, translate, tts string
	}
}

// New constructs a Pipeline from the three providers. All three are
// required; a relay with a missing stage cannot serve any request.
func New(sttP stt.Provider, translateP translate.Provider, ttsP tts.Provider, opts ...Option) (*Pipeline, error) {
	if sttP == nil {
		return nil, errors.New("relay: stt provider is required")
	}
	if translateP == nil {
		return nil, errors.New("relay: translate provider is required")
	}
	if ttsP == nil {
		return nil, errors.New("relay: tts provider is required")
	}
	p := &Pipeline{
		sttP:       sttP,
		translateP: translateP,
		ttsP:       ttsP,
	}
	p.names.stt, p.names.translate, p.names.tts = "stt", "translate", "tts"
	for _, o := range opts {
		o(p)
	}
	if p.transcoder == nil {
		p.transcoder = transcode.New()
	}
	return p, nil
}

// Relay runs the full pipeline for one message.
//
// Stage failures abort the call and no partial result escapes: the returned
// error wraps the failing stage's error, so callers can still match the
// transcode sentinels and provider errors with errors.Is. Cancelling ctx
// aborts between stages and inside each stage.
func (p *Pipeline) Relay(ctx context.Context, req Request) (*Result, error) {
	if len(req.Stream) == 0 {
		return nil, fmt.Errorf("relay: %w: empty stream", transcode.ErrInvalidArgument)
	}
	if req.TargetLang == "" {
		return nil, fmt.Errorf("relay: %w: target language is required", transcode.ErrInvalidArgument)
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "relay",
		trace.WithAttributes(
			observe.Attr("relay.source_lang", req.SourceLang),
			observe.Attr("relay.target_lang", req.TargetLang),
		),
	)
	defer span.End()

	// Stage 1: decode the source message to a PCM container.
	container, err := p.transcoder.Decode(ctx, req.Stream)
	if err != nil {
		return nil, fmt.Errorf("relay: decode stage: %w", err)
	}

	// Stage 2: transcribe.
	sttStart := time.Now()
	trRes, err := p.sttP.Transcribe(ctx, stt.Request{Audio: container, Language: req.SourceLang})
	p.stageDone(ctx, "stt", sttStart, err)
	if err != nil {
		return nil, fmt.Errorf("relay: transcribe stage: %w", err)
	}
	transcript := strings.TrimSpace(trRes.Text)
	if transcript == "" {
		return nil, ErrNoSpeech
	}
	if p.lexicon != nil {
		corrected, hits := p.lexicon.Correct(transcript)
		if len(hits) > 0 {
			transcript = corrected
			for _, h := range hits {
				slog.Debug("glossary term realigned",
					"heard", h.Heard, "term", h.Term, "score", h.Score)
			}
		}
	}
	sourceLang := trRes.Language
	if sourceLang == "" {
		sourceLang = req.SourceLang
	}

	// Stage 3: translate. Skipped when the message is already in the target
	// language; the transcript passes through unchanged.
	translation := transcript
	if !strings.EqualFold(sourceLang, req.TargetLang) {
		tlStart := time.Now()
		translation, err = p.translateP.Translate(ctx, translate.Request{
			Text:       transcript,
			SourceLang: sourceLang,
			TargetLang: req.TargetLang,
		})
		p.stageDone(ctx, "translate", tlStart, err)
		if err != nil {
			return nil, fmt.Errorf("relay: translate stage: %w", err)
		}
	}

	// Stage 4: synthesise the translation.
	voice := req.Voice
	if voice.ID == "" && voice.Name == "" {
		voice = p.voice
	}
	ttsStart := time.Now()
	spoken, err := p.ttsP.Synthesize(ctx, tts.Request{
		Text:     translation,
		Voice:    voice,
		Language: req.TargetLang,
	})
	p.stageDone(ctx, "tts", ttsStart, err)
	if err != nil {
		return nil, fmt.Errorf("relay: synthesize stage: %w", err)
	}

	// Stage 5: re-encode. The TTS container may be at any supported rate;
	// Encode normalizes it to canonical PCM first.
	stream, err := p.transcoder.Encode(ctx, spoken)
	if err != nil {
		return nil, fmt.Errorf("relay: encode stage: %w", err)
	}

	if p.metrics != nil {
		p.metrics.RelayDuration.Record(ctx, time.Since(start).Seconds())
	}

	return &Result{
		Transcript:  transcript,
		Translation: translation,
		SourceLang:  sourceLang,
		TargetLang:  req.TargetLang,
		Stream:      stream,
	}, nil
}

// stageDone records one provider stage's latency histogram plus the request
// and error counters. No-op when metrics are not configured.
func (p *Pipeline) stageDone(ctx context.Context, kind string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	seconds := time.Since(start).Seconds()
	var name string
	switch kind {
	case "stt":
		p.metrics.STTDuration.Record(ctx, seconds)
		name = p.names.stt
	case "translate":
		p.metrics.TranslateDuration.Record(ctx, seconds)
		name = p.names.translate
	case "tts":
		p.metrics.TTSDuration.Record(ctx, seconds)
		name = p.names.tts
	}
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, name, kind)
	}
	p.metrics.RecordProviderRequest(ctx, name, kind, status)
}
