// NativeProvider runs whisper.cpp in-process through its CGO bindings,
// trading the server dependency for a link-time one: libwhisper.a and
// whisper.h must be reachable via LIBRARY_PATH and C_INCLUDE_PATH when this
// package is built.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/tminde/parley/pkg/provider/stt"
	"github.com/tminde/parley/pkg/transcode"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeOption adjusts a NativeProvider under construction.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the transcription language code. The default is
// "en"; a per-request language always wins.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NativeProvider transcribes speech with the whisper.cpp library. One model
// stays loaded for the provider's lifetime and is shared by all calls; each
// call runs on its own whisper context, so calls may run concurrently.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NewNative loads the GGML model at modelPath and returns a provider bound
// to it. Close releases the model when the provider is retired.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: open model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close unloads the model. Safe to call more than once; Transcribe fails
// after the first call.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// Transcribe decodes the WAV container to 16 kHz mono PCM, runs inference,
// and joins the resulting segments into one transcript.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if p.model == nil {
		return nil, errors.New("whisper: provider is closed")
	}
	if len(req.Audio) == 0 {
		return nil, errors.New("whisper: audio must not be empty")
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	pcm, err := transcode.Normalize(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("whisper: normalize audio: %w", err)
	}

	// Contexts are single-use and not thread-safe; the model behind them is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper language hint rejected", "language", lang, "error", err)
	}
	if err := wctx.Process(samplesToFloat32(pcm), nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	text, err := drainSegments(wctx)
	if err != nil {
		return nil, err
	}
	return &stt.Result{Text: text, Language: lang}, nil
}

// drainSegments reads inference segments until EOF and joins their trimmed
// text with single spaces.
func drainSegments(wctx whisperlib.Context) (string, error) {
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return strings.Join(parts, " "), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
}
