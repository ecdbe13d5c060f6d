package config_test

import (
	"testing"

	"github.com/tminde/parley/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Codec:  config.CodecConfig{Bitrate: 24000},
	}
	if d := config.Diff(cfg, cfg); d.LogLevelChanged || d.BitrateChanged || d.RestartRequired {
		t.Errorf("Diff of identical configs = %+v, want no flags", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	before := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	after := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(before, after)
	if !d.LogLevelChanged {
		t.Error("log level change went unnoticed")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level is hot-reloadable, restart flagged anyway")
	}
}

func TestDiff_BitrateChanged(t *testing.T) {
	t.Parallel()
	before := &config.Config{Codec: config.CodecConfig{Bitrate: 24000}}
	after := &config.Config{Codec: config.CodecConfig{Bitrate: 32000}}

	d := config.Diff(before, after)
	if !d.BitrateChanged {
		t.Error("bitrate change went unnoticed")
	}
	if d.NewBitrate != 32000 {
		t.Errorf("NewBitrate = %d, want 32000", d.NewBitrate)
	}
	if d.RestartRequired {
		t.Error("bitrate is hot-reloadable, restart flagged anyway")
	}
}

func TestDiff_MatchThresholdChanged(t *testing.T) {
	t.Parallel()
	before := &config.Config{VoiceID: config.VoiceIDConfig{MatchThreshold: 0.5}}
	after := &config.Config{VoiceID: config.VoiceIDConfig{MatchThreshold: 0.7}}

	d := config.Diff(before, after)
	if !d.MatchThresholdChanged {
		t.Error("match threshold change went unnoticed")
	}
	if d.NewMatchThreshold != 0.7 {
		t.Errorf("NewMatchThreshold = %.2f, want 0.7", d.NewMatchThreshold)
	}
}

func TestDiff_ProviderSwapRequiresRestart(t *testing.T) {
	t.Parallel()
	before := &config.Config{
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "whisper"},
		},
	}
	after := &config.Config{
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "openai", APIKey: "sk-test"},
		},
	}

	d := config.Diff(before, after)
	if !d.ProvidersChanged {
		t.Error("provider swap went unnoticed")
	}
	if !d.RestartRequired {
		t.Error("provider swap must require a restart")
	}
}

func TestDiff_ProviderOptionsChanged(t *testing.T) {
	t.Parallel()
	before := &config.Config{
		Providers: config.ProvidersConfig{
			TTS: config.ProviderEntry{Name: "openai", Options: map[string]any{"voice": "alloy"}},
		},
	}
	after := &config.Config{
		Providers: config.ProvidersConfig{
			TTS: config.ProviderEntry{Name: "openai", Options: map[string]any{"voice": "nova"}},
		},
	}

	if d := config.Diff(before, after); !d.ProvidersChanged {
		t.Error("provider options change went unnoticed")
	}
}

func TestDiff_FallbackChanged(t *testing.T) {
	t.Parallel()
	before := &config.Config{
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "openai"},
		},
	}
	after := &config.Config{
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{
				Name:     "openai",
				Fallback: &config.ProviderEntry{Name: "deepgram"},
			},
		},
	}

	if d := config.Diff(before, after); !d.ProvidersChanged {
		t.Error("added fallback went unnoticed")
	}

	// Same chain on both sides is not a change.
	before.Providers.STT.Fallback = &config.ProviderEntry{Name: "deepgram"}
	if d := config.Diff(before, after); d.ProvidersChanged {
		t.Error("identical fallback chains flagged as changed")
	}
}

func TestDiff_GlossaryRequiresRestart(t *testing.T) {
	t.Parallel()
	before := &config.Config{Relay: config.RelayConfig{Glossary: []string{"Parley"}}}
	after := &config.Config{Relay: config.RelayConfig{Glossary: []string{"Parley", "Lydia"}}}

	if d := config.Diff(before, after); !d.RestartRequired {
		t.Error("glossary change must require a restart")
	}

	after.Relay.Glossary = []string{"Parley"}
	if d := config.Diff(before, after); d.RestartRequired {
		t.Error("identical glossaries flagged a restart")
	}
}

func TestDiff_RestartRequiredFields(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"listen address", func(c *config.Config) { c.Server.ListenAddr = ":9090" }},
		{"tls enabled", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"} }},
		{"voice store dsn", func(c *config.Config) { c.VoiceID.PostgresDSN = "postgres://localhost/parley" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			before := &config.Config{Server: config.ServerConfig{ListenAddr: ":8080"}}
			after := &config.Config{Server: config.ServerConfig{ListenAddr: ":8080"}}
			tc.mutate(after)

			d := config.Diff(before, after)
			if !d.RestartRequired {
				t.Errorf("%s change did not require a restart", tc.name)
			}
			if d.ProvidersChanged {
				t.Error("non-provider change flagged ProvidersChanged")
			}
		})
	}
}

func TestDiff_HotReloadOnlyChanges(t *testing.T) {
	t.Parallel()
	before := &config.Config{
		Server:  config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Codec:   config.CodecConfig{Bitrate: 24000},
		VoiceID: config.VoiceIDConfig{MatchThreshold: 0.5},
	}
	after := &config.Config{
		Server:  config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogWarn},
		Codec:   config.CodecConfig{Bitrate: 16000},
		VoiceID: config.VoiceIDConfig{MatchThreshold: 0.6},
	}

	d := config.Diff(before, after)
	if !d.LogLevelChanged || !d.BitrateChanged || !d.MatchThresholdChanged {
		t.Errorf("Diff = %+v, want every hot-reloadable field flagged", d)
	}
	if d.RestartRequired {
		t.Error("hot-reloadable changes alone flagged a restart")
	}
}
