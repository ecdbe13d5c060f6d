package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Bitrate bounds accepted by [Validate], in bits per second.
const (
	minBitrate = 6000
	maxBitrate = 128000
)

// maxFallbackDepth caps provider fallback chains. Deeper chains are
// almost certainly a configuration mistake (or a YAML alias cycle).
const maxFallbackDepth = 3

// ValidProviderNames lists the built-in implementations per provider
// kind. [Validate] warns when a configured name is not on the list.
var ValidProviderNames = map[string][]string{
	"stt":       {"openai", "whisper", "whisper-native", "deepgram"},
	"tts":       {"openai", "coqui", "elevenlabs"},
	"translate": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r and validates the result. Unknown
// keys are rejected so a typo surfaces at startup instead of silently
// disabling a feature.
func LoadFromReader(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg for coherent values. Hard mistakes come back as a
// joined error naming every problem at once; suspicious but workable
// settings only log warnings.
func Validate(cfg *Config) error {
	var errs []error
	errs = append(errs, validateServer(cfg.Server)...)
	errs = append(errs, validateCodec(cfg.Codec)...)
	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateVoiceID(cfg.VoiceID)...)
	return errors.Join(errs...)
}

func validateServer(s ServerConfig) []error {
	var errs []error
	if s.LogLevel != "" && !s.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", s.LogLevel))
	}
	if s.MaxConcurrentTranscodes < 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent_transcodes %d is negative; use 0 for no limit", s.MaxConcurrentTranscodes))
	}
	if s.TLS != nil && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	return errs
}

func validateCodec(c CodecConfig) []error {
	var errs []error
	if c.Bitrate != 0 && (c.Bitrate < minBitrate || c.Bitrate > maxBitrate) {
		errs = append(errs, fmt.Errorf("codec.bitrate %d is out of range [%d, %d]", c.Bitrate, minBitrate, maxBitrate))
	}
	if c.Complexity < 0 || c.Complexity > 10 {
		errs = append(errs, fmt.Errorf("codec.complexity %d is out of range [0, 10]", c.Complexity))
	}
	return errs
}

func validateProviders(p ProvidersConfig) []error {
	var errs []error
	errs = append(errs, validateProviderChain("stt", p.STT)...)
	errs = append(errs, validateProviderChain("tts", p.TTS)...)
	errs = append(errs, validateProviderChain("translate", p.Translate)...)

	// The relay endpoint needs all three stages; a partial set is legal
	// (transcode-only deployments) but worth flagging.
	named := 0
	for _, entry := range []ProviderEntry{p.STT, p.TTS, p.Translate} {
		if entry.Name != "" {
			named++
		}
	}
	if named > 0 && named < 3 {
		slog.Warn("relay needs stt, tts, and translate providers; relay requests will be rejected",
			"stt", p.STT.Name,
			"tts", p.TTS.Name,
			"translate", p.Translate.Name,
		)
	}
	return errs
}

func validateVoiceID(v VoiceIDConfig) []error {
	var errs []error
	if v.MatchThreshold < 0 || v.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("voiceid.match_threshold %.2f is out of range [0, 1]", v.MatchThreshold))
	}
	if v.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("voiceid.embedding_dimensions %d is negative", v.EmbeddingDimensions))
	}
	if v.SidecarURL != "" && v.EmbeddingDimensions == 0 {
		slog.Warn("voiceid.sidecar_url is configured but voiceid.embedding_dimensions is not set; defaulting to 192")
	}
	if v.PostgresDSN != "" && v.SidecarURL == "" {
		slog.Warn("voiceid.postgres_dsn is set but voiceid.sidecar_url is empty; stored voices cannot be verified")
	}
	return errs
}

// validateProviderChain checks entry and its fallback chain. Unknown
// names only warn; structural problems (nameless fallbacks, chains
// deeper than [maxFallbackDepth]) are errors.
func validateProviderChain(kind string, entry ProviderEntry) []error {
	var errs []error
	warnUnknownProvider(kind, entry.Name)
	if entry.Name == "" && entry.Fallback != nil {
		slog.Warn("provider fallback configured without a primary — ignored", "kind", kind)
		return nil
	}

	depth := 0
	for fb := entry.Fallback; fb != nil; fb = fb.Fallback {
		depth++
		if depth > maxFallbackDepth {
			errs = append(errs, fmt.Errorf("providers.%s: fallback chain exceeds %d levels", kind, maxFallbackDepth))
			break
		}
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s: fallback %d has no name", kind, depth))
			continue
		}
		warnUnknownProvider(kind, fb.Name)
	}
	return errs
}

// warnUnknownProvider flags provider names no built-in implementation
// answers to. It only warns; the registry may carry out-of-tree
// providers.
func warnUnknownProvider(kind, name string) {
	known, listed := ValidProviderNames[kind]
	if name == "" || !listed || slices.Contains(known, name) {
		return
	}
	slog.Warn("provider name not recognised", "kind", kind, "name", name, "known", known)
}
