// Package whisper provides speech-to-text through whisper.cpp.
//
// Two providers share this package. Provider talks to a whisper-server
// process over HTTP, posting each utterance to /inference as a multipart
// upload. NativeProvider loads the model in-process through the whisper.cpp
// CGO bindings and skips the server entirely; see native.go for its
// link-time requirements.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := p.Transcribe(ctx, stt.Request{Audio: wavBytes})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tminde/parley/pkg/provider/stt"
)

const (
	inferencePath   = "/inference"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option adjusts a Provider under construction.
type Option func(*Provider)

// WithModel forwards a model identifier (e.g. "base.en") with every request.
// When empty the server sticks to whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code used when a request does not carry one.
// The default is "en"; a per-request language always wins.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP call to the server. The default is 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// Provider transcribes speech through a whisper-server process. It is safe
// for concurrent use; every call is one independent HTTP round trip.
type Provider struct {
	baseURL  string
	model    string
	language string
	client   *http.Client
}

// New builds a Provider for the whisper-server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	p := &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the WAV container to POST /inference and returns the
// transcript with surrounding whitespace removed.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("whisper: audio must not be empty")
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	body, contentType, err := inferenceForm(req.Audio, lang, p.model)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+inferencePath, body)
	if err != nil {
		return nil, fmt.Errorf("whisper: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: POST %s: %w", inferencePath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server answered %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whisper: decode inference response: %w", err)
	}
	return &stt.Result{Text: strings.TrimSpace(out.Text), Language: lang}, nil
}

// inferenceForm assembles the multipart body whisper-server expects: the WAV
// container under "file" plus optional language and model hints.
func inferenceForm(audio []byte, lang, model string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err == nil {
		_, err = part.Write(audio)
	}
	if err == nil && lang != "" {
		err = mw.WriteField("language", lang)
	}
	if err == nil && model != "" {
		err = mw.WriteField("model", model)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return nil, "", fmt.Errorf("whisper: assemble inference form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
