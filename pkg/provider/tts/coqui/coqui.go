// Package coqui drives a self-hosted Coqui TTS server.
//
// Coqui ships two server generations with different REST surfaces, and the
// provider speaks both; pick one at construction time:
//
//   - APIModeStandard (default) matches the classic TTS server from the
//     ghcr.io/coqui-ai/tts-cpu image. Synthesis is GET /api/tts with query
//     parameters and the voice catalogue comes from GET /details.
//
//   - APIModeXTTS matches the XTTS v2 API server. Synthesis is POST
//     /tts_to_audio/ with a JSON body, voices come from GET /studio_speakers,
//     and new speakers can be cloned from reference audio via POST
//     /clone_speaker.
//
// Either way the server answers with a WAV container at the model's native
// sample rate (typically 22.05 or 24 kHz). Synthesize returns that container
// untouched; rate conversion is the transcoder's job.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	audio, err := p.Synthesize(ctx, tts.Request{Text: "Hello.", Voice: voice})
//
// Point the provider at an XTTS deployment by adding
// coqui.WithAPIMode(coqui.APIModeXTTS).
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tminde/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Endpoints of the standard server.
const (
	pathAPITTS  = "/api/tts"
	pathDetails = "/details"
)

// Endpoints of the XTTS v2 API server.
const (
	pathTTSToAudio     = "/tts_to_audio/"
	pathStudioSpeakers = "/studio_speakers"
	pathCloneSpeaker   = "/clone_speaker"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// APIMode names the REST surface of the Coqui server the provider talks to.
type APIMode string

const (
	// APIModeStandard is the classic Coqui TTS server. The voice catalogue is
	// read from /details; cloning is unavailable. This is the default.
	APIModeStandard APIMode = "standard"

	// APIModeXTTS is the XTTS v2 API server, which adds studio speakers and
	// voice cloning.
	APIModeXTTS APIMode = "xtts"
)

// Option adjusts a Provider under construction.
type Option func(*Provider)

// WithLanguage sets the language code used when a request does not carry one.
// The default is "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP call to the server. The default is 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server generation; see APIModeStandard and
// APIModeXTTS.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// Provider synthesizes speech through a Coqui server. It is safe for
// concurrent use; every call is one independent HTTP round trip.
type Provider struct {
	baseURL  string
	language string
	mode     APIMode
	client   *http.Client
}

// New builds a Provider for the server at baseURL, e.g.
// "http://localhost:5002". The zero option set targets a standard server in
// English with a 30 s request timeout.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: server URL must not be empty")
	}
	p := &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		mode:     APIModeStandard,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// roundTrip executes req and returns the response body. Any status other than
// 200 is an error; Coqui reports failures through the status line rather than
// a structured body.
func (p *Provider) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s response: %w", req.URL.Path, err)
	}
	return body, nil
}

// getJSON fetches baseURL+path and decodes the JSON response into out.
func (p *Provider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.roundTrip(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("coqui: decode %s response: %w", path, err)
	}
	return nil
}

// Synthesize renders req.Text through one HTTP call and returns the WAV
// container exactly as the server produced it. req.Language overrides the
// configured default when set.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if p.mode == APIModeXTTS {
		// The XTTS endpoint has no default speaker; speaker_wav is mandatory.
		if req.Voice.ID == "" {
			return nil, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
		}
		return p.speakXTTS(ctx, req.Text, req.Voice.ID, lang)
	}
	return p.speakStandard(ctx, req.Text, req.Voice.ID, lang)
}

// speakStandard issues GET /api/tts with query parameters. An empty voice ID
// is allowed; single-speaker models ignore speaker_id entirely.
func (p *Provider) speakStandard(ctx context.Context, text, voiceID, lang string) ([]byte, error) {
	q := url.Values{"text": {text}}
	if voiceID != "" {
		q.Set("speaker_id", voiceID)
	}
	if lang != "" {
		q.Set("language_id", lang)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+pathAPITTS+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build synthesis request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	return p.roundTrip(req)
}

// xttsSpeech is the request body for POST /tts_to_audio/.
type xttsSpeech struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// speakXTTS issues POST /tts_to_audio/ with a JSON body.
func (p *Provider) speakXTTS(ctx context.Context, text, voiceID, lang string) ([]byte, error) {
	payload, err := json.Marshal(xttsSpeech{Text: text, SpeakerWav: voiceID, Language: lang})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal synthesis request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+pathTTSToAudio, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("coqui: build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")
	return p.roundTrip(req)
}

// ListVoices reads the server's voice catalogue. A standard server reports
// one loaded model via /details, which expands to one Voice per speaker (or a
// single entry named after the model); an XTTS server reports its studio
// speakers. Entries come back sorted by name so repeated calls are
// comparable.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if p.mode == APIModeXTTS {
		return p.studioVoices(ctx)
	}
	return p.modelVoices(ctx)
}

// modelDetails is the GET /details response. Speakers is empty for
// single-speaker models.
type modelDetails struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// modelVoices expands GET /details into catalogue entries.
func (p *Provider) modelVoices(ctx context.Context) ([]tts.Voice, error) {
	var details modelDetails
	if err := p.getJSON(ctx, pathDetails, &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) == 0 {
		// Single-speaker model: one entry carrying the model's own name.
		name := details.ModelName
		if name == "" {
			name = "default"
		}
		v := catalogVoice(name, "single-speaker")
		v.Metadata["model_name"] = name
		return []tts.Voice{v}, nil
	}

	voices := make([]tts.Voice, 0, len(details.Speakers))
	for _, spk := range slices.Sorted(slices.Values(details.Speakers)) {
		v := catalogVoice(spk, "speaker")
		v.Metadata["model_name"] = details.ModelName
		voices = append(voices, v)
	}
	return voices, nil
}

// studioVoices lists the XTTS studio speakers. Only the keys of the
// /studio_speakers map matter; the embedding payloads are discarded.
func (p *Provider) studioVoices(ctx context.Context) ([]tts.Voice, error) {
	var speakers map[string]json.RawMessage
	if err := p.getJSON(ctx, pathStudioSpeakers, &speakers); err != nil {
		return nil, err
	}
	voices := make([]tts.Voice, 0, len(speakers))
	for _, name := range slices.Sorted(maps.Keys(speakers)) {
		voices = append(voices, catalogVoice(name, "studio"))
	}
	return voices, nil
}

// catalogVoice builds the catalogue entry for one named speaker.
func catalogVoice(name, kind string) tts.Voice {
	return tts.Voice{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Metadata: map[string]string{"type": kind},
	}
}

// CloneVoice registers a new XTTS speaker from WAV samples via POST
// /clone_speaker and returns its catalogue entry. Every element of samples
// must be a complete WAV file. Standard servers cannot clone, so the call
// fails outright in APIModeStandard, as it does when samples is empty.
func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*tts.Voice, error) {
	if p.mode != APIModeXTTS {
		return nil, errors.New("coqui: cloning needs an XTTS server")
	}
	if len(samples) == 0 {
		return nil, errors.New("coqui: no reference samples given")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, sample := range samples {
		part, err := mw.CreateFormFile("wav_files", fmt.Sprintf("sample_%02d.wav", i))
		if err != nil {
			return nil, fmt.Errorf("coqui: assemble upload: %w", err)
		}
		if _, err := part.Write(sample); err != nil {
			return nil, fmt.Errorf("coqui: assemble upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("coqui: assemble upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+pathCloneSpeaker, &body)
	if err != nil {
		return nil, fmt.Errorf("coqui: build clone request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	raw, err := p.roundTrip(req)
	if err != nil {
		return nil, err
	}
	var result struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("coqui: decode clone response: %w", err)
	}
	if result.Name == "" {
		return nil, errors.New("coqui: clone response carried no speaker name")
	}
	v := catalogVoice(result.Name, "cloned")
	return &v, nil
}
