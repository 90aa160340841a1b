package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/readaloud/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(validConfig(), validConfig())
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	old, new := validConfig(), validConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if d.DefaultsChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_DefaultsChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*config.Config)
		wantVoice string
		wantSize  int
	}{
		{
			name:      "voice",
			mutate:    func(c *config.Config) { c.Synthesis.DefaultVoice = "de-DE-KatjaNeural" },
			wantVoice: "de-DE-KatjaNeural",
			wantSize:  config.DefaultChunkSize,
		},
		{
			name:      "chunk size",
			mutate:    func(c *config.Config) { c.Synthesis.ChunkSize = 120 },
			wantVoice: config.DefaultVoice,
			wantSize:  120,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := validConfig(), validConfig()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !d.DefaultsChanged || d.NewVoice != tt.wantVoice || d.NewChunkSize != tt.wantSize {
				t.Errorf("diff = %+v", d)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{
			name:   "listen addr",
			mutate: func(c *config.Config) { c.Server.ListenAddr = ":9000" },
			want:   []string{"server"},
		},
		{
			name:   "cors",
			mutate: func(c *config.Config) { c.Server.CORSOrigins = []string{"*"} },
			want:   []string{"server"},
		},
		{
			name:   "tls added",
			mutate: func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} },
			want:   []string{"server"},
		},
		{
			name:   "provider key",
			mutate: func(c *config.Config) { c.Providers.TTS.APIKey = "rotated" },
			want:   []string{"providers"},
		},
		{
			name:   "fallback added",
			mutate: func(c *config.Config) { c.Providers.TTSFallbacks = []config.ProviderEntry{{Name: "coqui"}} },
			want:   []string{"providers"},
		},
		{
			name:   "cache ttl",
			mutate: func(c *config.Config) { c.Synthesis.CacheTTL = time.Hour },
			want:   []string{"synthesis"},
		},
		{
			name:   "speed",
			mutate: func(c *config.Config) { c.Synthesis.Speed = 1.5 },
			want:   []string{"synthesis"},
		},
		{
			name: "exports and server",
			mutate: func(c *config.Config) {
				c.Exports.Backend = config.ExportFile
				c.Exports.Dir = "/tmp/x"
				c.Server.ListenAddr = ":1"
			},
			want: []string{"server", "exports"},
		},
		{
			name:   "player only",
			mutate: func(c *config.Config) { c.Player.GuardGrace = time.Second },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := validConfig(), validConfig()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.want)
			}
			if d.LogLevelChanged || d.DefaultsChanged {
				t.Errorf("unexpected hot changes: %+v", d)
			}
		})
	}
}

func TestDiff_PlayerChanged(t *testing.T) {
	t.Parallel()

	old, new := validConfig(), validConfig()
	new.Player.ProgressiveThreshold = 1000

	d := config.Diff(old, new)
	if !d.PlayerChanged || !d.Changed() {
		t.Errorf("diff = %+v, want PlayerChanged", d)
	}
	if d := config.Diff(old, validConfig()); d.PlayerChanged {
		t.Error("identical player sections reported as changed")
	}
}
