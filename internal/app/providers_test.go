package app_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/readaloud/internal/app"
	"github.com/MrWong99/readaloud/internal/config"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	want := []string{"coqui", "edge", "elevenlabs", "yandex"}
	if got := reg.Names(); !slices.Equal(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	cfg := &config.Config{Providers: config.ProvidersConfig{
		TTS: config.ProviderEntry{Name: "edge"},
		TTSFallbacks: []config.ProviderEntry{
			{Name: "coqui", BaseURL: "http://localhost:5002"},
			{Name: "coqui"}, // missing server URL
			{Name: "polly"}, // not registered
			{Name: "elevenlabs", APIKey: "el-key", Options: map[string]any{"stability": 0.2, "similarity_boost": 1}},
		},
	}}
	ps, err := app.BuildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.TTS.Name != "edge" || ps.TTS.Provider == nil {
		t.Errorf("primary = %+v", ps.TTS)
	}
	var names []string
	for _, fb := range ps.Fallbacks {
		names = append(names, fb.Name)
	}
	if !slices.Equal(names, []string{"coqui", "elevenlabs"}) {
		t.Errorf("fallbacks = %v, want the valid coqui and elevenlabs entries", names)
	}
}

func TestBuildProviders_PrimaryErrors(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	tests := []struct {
		name    string
		entry   config.ProviderEntry
		wantReg bool
	}{
		{name: "unregistered", entry: config.ProviderEntry{Name: "polly"}, wantReg: true},
		{name: "missing api key", entry: config.ProviderEntry{Name: "elevenlabs"}},
		{name: "bad output format", entry: config.ProviderEntry{Name: "edge", Options: map[string]any{"output_format": "riff-24khz-16bit-mono-pcm"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{Providers: config.ProvidersConfig{TTS: tt.entry}}
			_, err := app.BuildProviders(cfg, reg)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, config.ErrProviderNotRegistered); got != tt.wantReg {
				t.Errorf("errors.Is(ErrProviderNotRegistered) = %v, want %v (%v)", got, tt.wantReg, err)
			}
		})
	}
}
