// Package elevenlabs synthesizes speech through the ElevenLabs
// stream-input API.
//
// Stream-input is a WebSocket protocol: the client opens one socket per
// utterance, authenticates with the first frame, sends the text, and
// reads base64-encoded PCM frames until the server marks the stream
// final. Synthesize drives one full cycle and returns the collected
// samples in a WAV container, so callers see the same byte shape every
// other TTS backend produces. Voice listing goes through the plain REST
// API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/tminde/parley/pkg/provider/tts"
	"github.com/tminde/parley/pkg/wav"
)

var _ tts.Provider = (*Provider)(nil)

const (
	hostWS  = "wss://api.elevenlabs.io"
	hostAPI = "https://api.elevenlabs.io"

	streamPathFmt = "/v1/text-to-speech/%s/stream-input"
	voicesPath    = "/v1/voices"

	defaultModel  = "eleven_flash_v2_5"
	defaultFormat = "pcm_16000"

	// Voice settings sent with every handshake.
	steadyStability  = 0.5
	steadySimilarity = 0.75

	// restTimeout bounds the REST calls. The WebSocket side is governed
	// by the caller's context instead.
	restTimeout = 15 * time.Second

	// maxFrame bounds one WebSocket message. Audio arrives
	// base64-encoded and can far exceed the library's 32 KiB default
	// read limit.
	maxFrame = 1 << 22
)

// Option adjusts a Provider at construction time.
type Option func(*Provider)

// WithModel selects the ElevenLabs model, e.g. "eleven_multilingual_v2".
// The default is the low-latency flash model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat selects the format the server streams back. Only raw
// PCM formats ("pcm_16000", "pcm_24000", ...) are accepted; Synthesize
// builds the WAV container itself.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// Provider turns text into speech through ElevenLabs. Each Synthesize
// call opens its own WebSocket; a Provider is safe for concurrent use.
type Provider struct {
	apiKey string
	model  string
	format string
	client *http.Client

	// Endpoint hosts, pointed at httptest servers in tests.
	wsBase  string
	apiBase string
}

// New builds a Provider for the given API key.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: API key must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		format:  defaultFormat,
		client:  &http.Client{Timeout: restTimeout},
		wsBase:  hostWS,
		apiBase: hostAPI,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// streamFrame is one client-to-server JSON frame. The first frame on a
// socket carries the credentials and output format, later frames carry
// only text, and a frame with empty text ends the input.
type streamFrame struct {
	Text          string  `json:"text"`
	VoiceSettings *tuning `json:"voice_settings,omitempty"`
	XiAPIKey      string  `json:"xi_api_key,omitempty"`
	OutputFormat  string  `json:"output_format,omitempty"`
}

// tuning mirrors the voice_settings wire object.
type tuning struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// serverFrame is one server-to-client JSON frame.
type serverFrame struct {
	Audio   string `json:"audio"` // base64 PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Synthesize runs one full stream-input cycle: dial, handshake, send the
// utterance, collect PCM until the stream ends. The samples come back in
// a WAV container at the configured output rate.
//
// req.Language, when set, is passed as the enforced language code. The
// flash and turbo v2.5 models honor it.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	if req.Voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	rate, err := sampleRate(p.format)
	if err != nil {
		return nil, err
	}

	conn, err := p.openStream(ctx, req.Voice.ID, req.Language)
	if err != nil {
		return nil, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := sendUtterance(ctx, conn, req.Text); err != nil {
		return nil, err
	}
	pcm, err := collectAudio(ctx, conn)
	if err != nil {
		return nil, err
	}
	return wav.Encode(pcm, rate, 1), nil
}

// openStream dials the stream-input socket for a voice and performs the
// handshake. The server rejects sockets whose first frame is missing the
// API key or carries empty text.
func (p *Provider) openStream(ctx context.Context, voiceID, language string) (*websocket.Conn, error) {
	q := url.Values{"model_id": {p.model}}
	if language != "" {
		q.Set("language_code", language)
	}
	target := p.wsBase + fmt.Sprintf(streamPathFmt, voiceID) + "?" + q.Encode()

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial stream: %w", err)
	}
	conn.SetReadLimit(maxFrame)

	hello := streamFrame{
		Text:          " ",
		VoiceSettings: &tuning{Stability: steadyStability, SimilarityBoost: steadySimilarity},
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.format,
	}
	if err := writeFrame(ctx, conn, hello); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("elevenlabs: handshake: %w", err)
	}
	return conn, nil
}

// sendUtterance writes the text frame followed by the end-of-input
// marker. The server only consumes text that ends in a space; the empty
// frame flushes synthesis.
func sendUtterance(ctx context.Context, conn *websocket.Conn, text string) error {
	if err := writeFrame(ctx, conn, streamFrame{Text: text + " "}); err != nil {
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	if err := writeFrame(ctx, conn, streamFrame{}); err != nil {
		return fmt.Errorf("elevenlabs: close input: %w", err)
	}
	return nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f streamFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// collectAudio drains server frames until the final marker, gluing the
// decoded PCM together in arrival order.
func collectAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	var note string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// The server may close the socket instead of flagging the
			// last frame.
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				return nil, fmt.Errorf("elevenlabs: read stream: %w", err)
			}
			break
		}
		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Message != "" {
			note = frame.Message
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio frame: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if frame.IsFinal {
			break
		}
	}
	if len(pcm) == 0 {
		if note != "" {
			return nil, fmt.Errorf("elevenlabs: stream ended without audio: %s", note)
		}
		return nil, errors.New("elevenlabs: stream ended without audio")
	}
	return pcm, nil
}

// voiceList is the body of GET /v1/voices.
type voiceList struct {
	Voices []voiceEntry `json:"voices"`
}

// voiceEntry is one voice as the REST API reports it.
type voiceEntry struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// toVoice flattens a REST entry into the provider-neutral shape. Labels
// become metadata keys as-is and the category joins them under
// "category".
func (e voiceEntry) toVoice() tts.Voice {
	meta := make(map[string]string, len(e.Labels)+1)
	for k, v := range e.Labels {
		meta[k] = v
	}
	if e.Category != "" {
		meta["category"] = e.Category
	}
	return tts.Voice{ID: e.VoiceID, Name: e.Name, Provider: "elevenlabs", Metadata: meta}
}

// ListVoices fetches every voice the configured API key can use.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	var list voiceList
	if err := p.apiGET(ctx, voicesPath, &list); err != nil {
		return nil, err
	}
	voices := make([]tts.Voice, 0, len(list.Voices))
	for _, entry := range list.Voices {
		voices = append(voices, entry.toVoice())
	}
	return voices, nil
}

// apiGET performs an authenticated GET against the REST API and decodes
// the JSON response into out.
func (p *Provider) apiGET(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("elevenlabs: build %s request: %w", path, err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("elevenlabs: %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("elevenlabs: decode %s response: %w", path, err)
	}
	return nil
}

// sampleRate extracts the rate from a PCM format name such as
// "pcm_16000". Compressed formats are rejected; the WAV container needs
// raw samples.
func sampleRate(format string) (int, error) {
	digits, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	rate, err := strconv.Atoi(digits)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: output format %q has no sample rate", format)
	}
	return rate, nil
}
