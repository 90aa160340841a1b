package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DefaultsChanged is true when the synthesis default voice or chunk size
	// changed. Both are applied to the running service without a restart.
	DefaultsChanged bool
	NewVoice        string
	NewChunkSize    int

	// PlayerChanged is true when the player section changed. Players read it
	// when they start; the server ignores it.
	PlayerChanged bool

	// RestartRequired lists the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DefaultsChanged || d.PlayerChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Synthesis.DefaultVoice != new.Synthesis.DefaultVoice ||
		old.Synthesis.ChunkSize != new.Synthesis.ChunkSize {
		d.DefaultsChanged = true
		d.NewVoice = new.Synthesis.DefaultVoice
		d.NewChunkSize = new.Synthesis.ChunkSize
	}

	d.PlayerChanged = old.Player != new.Player

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!slices.Equal(old.Server.CORSOrigins, new.Server.CORSOrigins) ||
		tlsChanged(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if providersChanged(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	was, is := old.Synthesis, new.Synthesis
	if was.CacheSize != is.CacheSize || was.CacheTTL != is.CacheTTL ||
		was.VoiceMatchThreshold != is.VoiceMatchThreshold || was.RequestTimeout != is.RequestTimeout ||
		was.Speed != is.Speed || was.Pitch != is.Pitch {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if old.Exports != new.Exports {
		d.RestartRequired = append(d.RestartRequired, "exports")
	}
	return d
}

func tlsChanged(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a != b
	}
	return *a != *b
}

// providersChanged compares provider entries by the fields that select and
// authenticate a provider. Options are not compared.
func providersChanged(a, b ProvidersConfig) bool {
	same := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	return !same(a.TTS, b.TTS) || !slices.EqualFunc(a.TTSFallbacks, b.TTSFallbacks, same)
}
