package app

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/readaloud/internal/config"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
	"github.com/MrWong99/readaloud/pkg/provider/tts/coqui"
	"github.com/MrWong99/readaloud/pkg/provider/tts/edge"
	"github.com/MrWong99/readaloud/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/readaloud/pkg/provider/tts/yandex"
)

// RegisterBuiltinProviders wires every TTS provider that ships with readaloud
// into reg. Each factory receives a [config.ProviderEntry] and constructs the
// provider from the real implementation package.
func RegisterBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("edge", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []edge.Option
		if entry.BaseURL != "" {
			opts = append(opts, edge.WithEndpoints(entry.BaseURL, optString(entry.Options, "voices_url")))
		}
		if f := optString(entry.Options, "output_format"); f != "" {
			opts = append(opts, edge.WithOutputFormat(f))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, edge.WithTimeout(d))
		}
		return edge.New(opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if f := optString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		stability, okS := optFloat(entry.Options, "stability")
		similarity, okB := optFloat(entry.Options, "similarity_boost")
		if okS || okB {
			if !okS {
				stability = 0.5
			}
			if !okB {
				similarity = 0.75
			}
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("yandex", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []yandex.Option
		if entry.BaseURL != "" {
			opts = append(opts, yandex.WithEndpoint(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, yandex.WithModel(entry.Model))
		}
		if optString(entry.Options, "container") == "wav" {
			opts = append(opts, yandex.WithWAV())
		}
		return yandex.New(entry.APIKey, optString(entry.Options, "folder_id"), opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "kind", "tts", "name", name)
	}
}

// BuildProviders instantiates the TTS provider and fallbacks named in cfg
// using the registry. A fallback that cannot be created is skipped with a
// warning; the primary provider is mandatory.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	entry := cfg.Providers.TTS
	p, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, err
	}
	ps := &Providers{TTS: NamedProvider{Name: entry.Name, Provider: p}}
	slog.Info("provider created", "kind", "tts", "name", entry.Name)

	for _, fb := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(fb)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not registered, skipping", "name", fb.Name)
			continue
		}
		if err != nil {
			slog.Warn("fallback provider unavailable, skipping", "name", fb.Name, "err", err)
			continue
		}
		ps.Fallbacks = append(ps.Fallbacks, NamedProvider{Name: fb.Name, Provider: p})
	}
	return ps, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat reads a number from a provider Options map. YAML decodes whole
// numbers as int.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optDuration parses a duration string such as "30s" from a provider Options
// map. Returns 0 when the key is absent or malformed.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
