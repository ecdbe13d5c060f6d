// Package app wires all Parley subsystems into a running service.
//
// An App is built by New, serves the HTTP API in Run until its context
// ends, and releases everything in Shutdown. Construction accepts
// functional options (WithVoiceStore, WithTranscoder, ...) so tests can
// swap any subsystem for a double; whatever is not injected is built
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tminde/parley/internal/config"
	"github.com/tminde/parley/internal/health"
	"github.com/tminde/parley/internal/observe"
	"github.com/tminde/parley/internal/relay"
	"github.com/tminde/parley/internal/server"
	"github.com/tminde/parley/pkg/provider/stt"
	"github.com/tminde/parley/pkg/provider/translate"
	"github.com/tminde/parley/pkg/provider/tts"
	"github.com/tminde/parley/pkg/transcode"
	"github.com/tminde/parley/pkg/voiceid"
	voicepg "github.com/tminde/parley/pkg/voiceid/postgres"
)

// DefaultListenAddr is used when server.listen_addr is not configured.
const DefaultListenAddr = ":8080"

// drainTimeout bounds how long Run waits for in-flight requests after the
// context is cancelled. Live WebSocket streams are hijacked connections and
// are not drained; they end with the process.
const drainTimeout = 10 * time.Second

// Providers carries one implementation per relay stage. A nil slot means
// that stage is unconfigured; the relay endpoint requires all three,
// transcoding and voice management work without any.
type Providers struct {
	STT       stt.Provider
	TTS       tts.Provider
	Translate translate.Provider
}

// App owns all subsystem lifetimes and serves the Parley API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Built by New, released by Shutdown.
	metrics    *observe.Metrics
	transcoder *transcode.Transcoder
	voiceStore voiceid.Store
	voices     *voiceid.Engine
	pipeline   *relay.Pipeline
	httpSrv    *http.Server

	// closers run in registration order during Shutdown.
	closers []func() error

	// stopOnce makes Shutdown idempotent.
	stopOnce sync.Once
}

// Option overrides one subsystem before New builds the rest. Tests use
// these to slot in doubles.
type Option func(*App)

// WithVoiceStore injects a voice store instead of creating one from config.
// The App does not close an injected store.
func WithVoiceStore(s voiceid.Store) Option {
	return func(a *App) { a.voiceStore = s }
}

// WithTranscoder injects a transcoder instead of creating an Opus-backed one.
func WithTranscoder(t *transcode.Transcoder) Option {
	return func(a *App) { a.transcoder = t }
}

// WithMetrics injects a metrics instance instead of using the process-wide
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── Construction ────────────────────────────────────────────────────────────

// New wires the subsystems together around the given providers and returns
// an App ready to Run. main.go resolves the providers through the config
// registry; whatever an Option did not inject is built from cfg.
//
// Subsystems degrade independently: without a sidecar URL the voice endpoints
// answer 503, and without a full provider set the relay endpoint answers 503,
// but transcoding always works.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcoder ────────────────────────────────────────────────────
	a.initTranscoder()

	// ── 2. Voice registry ────────────────────────────────────────────────
	if err := a.initVoices(ctx); err != nil {
		return nil, fmt.Errorf("app: init voices: %w", err)
	}

	// ── 3. Relay pipeline ────────────────────────────────────────────────
	if err := a.initRelay(); err != nil {
		return nil, fmt.Errorf("app: init relay: %w", err)
	}

	// ── 4. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Subsystem wiring ────────────────────────────────────────────────────────

// initTranscoder creates the Opus transcoder unless one was injected.
func (a *App) initTranscoder() {
	if a.transcoder != nil {
		return
	}
	bitrate := a.cfg.Codec.Bitrate
	if bitrate == 0 {
		bitrate = transcode.DefaultBitrate
	}
	a.transcoder = transcode.New(transcode.WithBitrate(bitrate))
}

// initVoices sets up the voice store and verification engine. Without a
// sidecar URL the whole subsystem stays off and a.voices remains nil.
func (a *App) initVoices(ctx context.Context) error {
	vc := a.cfg.VoiceID
	if vc.SidecarURL == "" {
		slog.Info("voiceid.sidecar_url not set — voice endpoints disabled")
		return nil
	}

	dims := vc.EmbeddingDimensions
	if dims == 0 {
		dims = voiceid.DefaultDimensions
	}

	if a.voiceStore == nil {
		if vc.PostgresDSN != "" {
			store, err := voicepg.NewStore(ctx, vc.PostgresDSN, dims)
			if err != nil {
				return err
			}
			a.voiceStore = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
			slog.Info("voice store connected", "backend", "postgres", "dimensions", dims)
		} else {
			a.voiceStore = voiceid.NewMemstore()
			slog.Warn("voiceid.postgres_dsn not set — registered voices will not survive a restart")
		}
	}

	engineOpts := []voiceid.Option{voiceid.WithDimensions(dims)}
	if vc.MatchThreshold != 0 {
		engineOpts = append(engineOpts, voiceid.WithThreshold(vc.MatchThreshold))
	}
	engine, err := voiceid.New(vc.SidecarURL, a.voiceStore, engineOpts...)
	if err != nil {
		return err
	}
	a.voices = engine
	a.closers = append(a.closers, func() error {
		engine.Close()
		return nil
	})
	return nil
}

// initRelay builds the speech-to-speech pipeline when all three provider
// slots are filled. Otherwise a.pipeline remains nil and /v1/relay answers
// 503.
func (a *App) initRelay() error {
	p := a.providers
	if p.STT == nil || p.Translate == nil || p.TTS == nil {
		slog.Info("relay disabled — needs stt, translate, and tts providers",
			"stt", p.STT != nil,
			"translate", p.Translate != nil,
			"tts", p.TTS != nil,
		)
		return nil
	}

	relayOpts := []relay.Option{
		relay.WithTranscoder(a.transcoder),
		relay.WithMetrics(a.metrics),
		relay.WithProviderNames(
			a.cfg.Providers.STT.Name,
			a.cfg.Providers.Translate.Name,
			a.cfg.Providers.TTS.Name,
		),
	}
	if terms := a.cfg.Relay.Glossary; len(terms) > 0 {
		relayOpts = append(relayOpts, relay.WithGlossary(terms...))
		slog.Info("glossary loaded", "terms", len(terms))
	}

	pipeline, err := relay.New(p.STT, p.Translate, p.TTS, relayOpts...)
	if err != nil {
		return err
	}
	a.pipeline = pipeline
	return nil
}

// initServer assembles the route handler and the http.Server around it.
func (a *App) initServer() {
	var checkers []health.Checker
	if a.voiceStore != nil {
		checkers = append(checkers, health.Checker{Name: "voice-store", Check: a.voiceStore.Ping})
	}
	if url := a.cfg.VoiceID.SidecarURL; url != "" && a.voices != nil {
		checkers = append(checkers, health.PingURL("sidecar", url+"/health", nil))
	}

	srvOpts := []server.Option{
		server.WithTranscoder(a.transcoder),
		server.WithHealth(health.New(checkers...)),
		server.WithMetrics(a.metrics),
		server.WithMaxConcurrentTranscodes(a.cfg.Server.MaxConcurrentTranscodes),
	}
	if a.voices != nil {
		srvOpts = append(srvOpts, server.WithVoices(a.voices))
	}
	if a.pipeline != nil {
		srvOpts = append(srvOpts, server.WithRelay(a.pipeline))
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}

	// No blanket read/write timeouts: WebSocket streams and multi-megabyte
	// audio uploads outlive any fixed bound. Header reads and idle
	// keep-alives are still bounded.
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           server.New(srvOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ─── Serving ─────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the listener
// fails. On cancellation it drains in-flight requests for up to drainTimeout
// before returning the context error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
			slog.Info("listening", "addr", a.httpSrv.Addr, "tls", true)
			err = a.httpSrv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			slog.Info("listening", "addr", a.httpSrv.Addr, "tls", false)
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(drainCtx); err != nil {
			slog.Warn("http drain cut short", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Handler returns the wired HTTP surface. Tests serve it via httptest
// instead of binding a real listener.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the live-tunable parts of a config diff: codec bitrate
// and voice match threshold. Changes that need a restart are logged and
// skipped.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.BitrateChanged {
		bps := d.NewBitrate
		if bps == 0 {
			bps = transcode.DefaultBitrate
		}
		a.transcoder.SetBitrate(bps)
		slog.Info("codec bitrate retuned", "bitrate", bps)
	}

	if d.MatchThresholdChanged && a.voices != nil {
		th := d.NewMatchThreshold
		if th == 0 {
			th = voiceid.DefaultThreshold
		}
		a.voices.SetThreshold(th)
		slog.Info("voice match threshold updated", "threshold", th)
	}

	if d.RestartRequired {
		slog.Warn("config change needs a restart to take effect",
			"providers_changed", d.ProvidersChanged)
	}
}

// ─── Teardown ────────────────────────────────────────────────────────────────

// Shutdown releases every subsystem in init order. When ctx expires midway
// the remaining closers are skipped and the context error comes back.
// Calling Shutdown more than once is a no-op.
func (a *App) Shutdown(ctx context.Context) error {
	var failed error
	a.stopOnce.Do(func() {
		slog.Info("stopping subsystems", "count", len(a.closers))

		for i, release := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown window expired", "skipped", len(a.closers)-i)
				failed = ctx.Err()
				return
			}
			if err := release(); err != nil {
				slog.Warn("subsystem close failed", "index", i, "err", err)
			}
		}

		slog.Info("all subsystems stopped")
	})
	return failed
}
