// Package server exposes the parley HTTP and WebSocket API.
//
// The surface has three groups of routes:
//
//   - /v1/audio/* — batch encode/decode between WAV containers and the
//     compressed frame-stream format, plus a WebSocket streaming encoder.
//   - /v1/voices/* — the named-voice registry: register, list, delete,
//     verify, and identify speakers via the embedding sidecar.
//   - /v1/relay — the speech-to-speech relay pipeline.
//
// Plus the operational endpoints /healthz, /readyz, and /metrics. All
// responses except audio payloads are JSON; errors carry a single "error"
// field. Transcode failures map onto HTTP statuses by sentinel: invalid
// argument 400, unsupported format 415, corrupt stream 422, codec or
// provider failure 502.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/tminde/parley/internal/health"
	"github.com/tminde/parley/internal/observe"
	"github.com/tminde/parley/internal/relay"
	"github.com/tminde/parley/pkg/transcode"
	"github.com/tminde/parley/pkg/voiceid"
)

// maxBodyBytes bounds the size of any request body. Large enough for several
// minutes of uncompressed multi-channel audio.
const maxBodyBytes = 32 << 20

// Option is a functional option for configuring a Server during construction.
type Option func(*Server)

// WithTranscoder replaces the default transcoder used by the audio and relay
// endpoints.
func WithTranscoder(t *transcode.Transcoder) Option {
	return func(s *Server) { s.transcoder = t }
}

// WithRelay enables the /v1/relay endpoint. Without a pipeline the endpoint
// answers 503.
func WithRelay(p *relay.Pipeline) Option {
	return func(s *Server) { s.relay = p }
}

// WithVoices enables the /v1/voices endpoints. Without an engine they answer
// 503.
func WithVoices(e *voiceid.Engine) Option {
	return func(s *Server) { s.voices = e }
}

// WithHealth replaces the default (checkerless) health handler.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics replaces the default package-level metrics instance. Tests use
// this to keep instruments isolated.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxConcurrentTranscodes bounds how many transcoding operations (batch
// encodes, decodes, relays, and live streams) may run at once. Requests over
// the bound queue until a slot frees or the client gives up. n <= 0 leaves
// the server unbounded.
func WithMaxConcurrentTranscodes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// Server routes the parley API. Construct with [New], serve via [Server.Handler].
type Server struct {
	transcoder *transcode.Transcoder
	relay      *relay.Pipeline
	voices     *voiceid.Engine
	health     *health.Handler
	metrics    *observe.Metrics
	sem        *semaphore.Weighted

	mux *http.ServeMux
}

// New constructs a Server and registers all routes. Endpoints whose
// dependencies are not configured stay registered and answer 503, so the
// surface is stable regardless of configuration.
func New(opts ...Option) *Server {
	s := &Server{}
	for _, o := range opts {
		o(s)
	}
	if s.transcoder == nil {
		s.transcoder = transcode.New()
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// Handler returns the full middleware-wrapped handler for the server.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.mux)
}

// routes registers every endpoint on the server's mux.
func (s *Server) routes() {
	// Audio transcoding.
	s.mux.HandleFunc("POST /v1/audio/encode", s.handleEncode)
	s.mux.HandleFunc("POST /v1/audio/decode", s.handleDecode)
	s.mux.HandleFunc("GET /ws/v1/audio/stream", s.handleStream)

	// Voice registry. The literal "identify" segment wins over {name}, so a
	// voice cannot shadow the identify route.
	s.mux.HandleFunc("POST /v1/voices/identify", s.handleIdentifyVoice)
	s.mux.HandleFunc("POST /v1/voices/{name}", s.handleRegisterVoice)
	s.mux.HandleFunc("GET /v1/voices", s.handleListVoices)
	s.mux.HandleFunc("DELETE /v1/voices/{name}", s.handleDeleteVoice)
	s.mux.HandleFunc("POST /v1/voices/{name}/verify", s.handleVerifyVoice)

	// Relay.
	s.mux.HandleFunc("POST /v1/relay", s.handleRelay)

	// Operational endpoints.
	s.health.Register(s.mux)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// ─── Shared plumbing ─────────────────────────────────────────────────────────

// errorResponse is the JSON body for every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the given status. Encoding failures fall back to
// a plain 500; by then the status line is already written, so the fallback
// only salvages the body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encoding failed", "err", err)
	}
}

// writeError maps err to an HTTP status and writes the JSON error body.
// When the client is already gone the response is skipped; there is no one
// left to read it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		slog.DebugContext(r.Context(), "client gone before response", "err", err)
		return
	}
	writeJSON(w, statusFromError(err), errorResponse{Error: err.Error()})
}

// statusFromError maps the transcode and relay error taxonomy onto HTTP
// statuses. Unknown errors are treated as upstream failures: by the time a
// request reaches a codec engine or a provider, everything client-shaped has
// already been validated.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, transcode.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, transcode.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, transcode.ErrCorruptStream):
		return http.StatusUnprocessableEntity
	case errors.Is(err, relay.ErrNoSpeech):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transcode.ErrEncodingFailure):
		return http.StatusBadGateway
	case errors.Is(err, voiceid.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Reached only when the handler's own deadline fired while the
		// client is still connected.
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// readBody consumes the request body up to maxBodyBytes. A too-large body
// answers 413 and returns false; other read failures answer 400.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: "request body exceeds " + tooLarge.Error(),
			})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read request body: " + err.Error()})
		return nil, false
	}
	return body, true
}

// acquire claims a transcode slot, blocking until one is free or the client
// gives up. Returns false when the request context ended while waiting.
func (s *Server) acquire(r *http.Request) bool {
	if s.sem == nil {
		return true
	}
	return s.sem.Acquire(r.Context(), 1) == nil
}

// release returns a transcode slot.
func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}
