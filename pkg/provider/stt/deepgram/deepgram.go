// Package deepgram provides a Deepgram-backed STT provider using the
// pre-recorded transcription API. It implements the stt.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tminde/parley/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.deepgram.com/v1/listen"
	defaultModel   = "nova-3"
	defaultTimeout = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option tweaks a Provider under construction.
type Option func(*Provider)

// WithModel selects the transcription model. The default is nova-3.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage fixes the BCP-47 recognition language (e.g. "en",
// "de-DE"). With no language here or on the request, the query enables
// Deepgram's own language detection instead.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithBaseURL points the provider at a different listen endpoint, for
// tests and self-hosted deployments.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithTimeout bounds each transcription round trip. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements stt.Provider backed by the Deepgram pre-recorded API.
// It is safe for concurrent use; multiple Transcribe calls may run in
// parallel.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New builds a Provider for the pre-recorded listen API.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: API key must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// deepgramResponse is the JSON structure returned for a pre-recorded request.
// Only the fields Transcribe reads are declared.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe POSTs the WAV container to the Deepgram listen endpoint and
// returns the first channel's top alternative.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("deepgram: audio must not be empty")
	}

	endpoint, err := p.buildURL(req.Language)
	if err != nil {
		return nil, fmt.Errorf("deepgram: listen URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Audio))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response body: %w", err)
	}

	var dgResp deepgramResponse
	if err := json.Unmarshal(data, &dgResp); err != nil {
		return nil, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}
	if len(dgResp.Results.Channels) == 0 || len(dgResp.Results.Channels[0].Alternatives) == 0 {
		return nil, errors.New("deepgram: response contains no transcript")
	}

	channel := dgResp.Results.Channels[0]
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if channel.DetectedLanguage != "" {
		lang = channel.DetectedLanguage
	}

	return &stt.Result{
		Text:     strings.TrimSpace(channel.Alternatives[0].Transcript),
		Language: lang,
	}, nil
}

// buildURL constructs the listen endpoint URL for one request. Without any
// language hint the request enables Deepgram's language detection.
func (p *Provider) buildURL(reqLang string) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}

	lang := reqLang
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("detect_language", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
