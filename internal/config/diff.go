package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else folds into RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	BitrateChanged bool
	NewBitrate     int

	MatchThresholdChanged bool
	NewMatchThreshold     float64

	// ProvidersChanged is true when any provider entry differs. Provider
	// swaps are not applied live; callers should log that a restart is needed.
	ProvidersChanged bool

	// RestartRequired is true when a change cannot be hot-reloaded
	// (listen address, TLS, transcode limit, voice store, providers, glossary).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
// Hot-reloadable changes carry their new value; the rest set RestartRequired.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Codec bitrate applies to the next transcode; safe to swap live.
	if old.Codec.Bitrate != new.Codec.Bitrate {
		d.BitrateChanged = true
		d.NewBitrate = new.Codec.Bitrate
	}

	// Match threshold only affects future verify calls.
	if old.VoiceID.MatchThreshold != new.VoiceID.MatchThreshold {
		d.MatchThresholdChanged = true
		d.NewMatchThreshold = new.VoiceID.MatchThreshold
	}

	if entryChanged(old.Providers.STT, new.Providers.STT) ||
		entryChanged(old.Providers.TTS, new.Providers.TTS) ||
		entryChanged(old.Providers.Translate, new.Providers.Translate) {
		d.ProvidersChanged = true
		d.RestartRequired = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.MaxConcurrentTranscodes != new.Server.MaxConcurrentTranscodes ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = true
	}
	if old.VoiceID.SidecarURL != new.VoiceID.SidecarURL ||
		old.VoiceID.PostgresDSN != new.VoiceID.PostgresDSN ||
		old.VoiceID.EmbeddingDimensions != new.VoiceID.EmbeddingDimensions {
		d.RestartRequired = true
	}
	// The glossary lexicon is built once at pipeline construction.
	if !slices.Equal(old.Relay.Glossary, new.Relay.Glossary) {
		d.RestartRequired = true
	}

	return d
}

// entryChanged compares two provider entries including their options maps
// and fallback chains.
func entryChanged(old, new ProviderEntry) bool {
	if old.Name != new.Name ||
		old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL ||
		old.Model != new.Model ||
		!reflect.DeepEqual(old.Options, new.Options) {
		return true
	}
	switch {
	case old.Fallback == nil && new.Fallback == nil:
		return false
	case old.Fallback == nil || new.Fallback == nil:
		return true
	default:
		return entryChanged(*old.Fallback, *new.Fallback)
	}
}

func tlsEqual(old, new *TLSConfig) bool {
	if old == nil || new == nil {
		return old == new
	}
	return *old == *new
}
