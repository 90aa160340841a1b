package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidTTSProviders lists the built-in TTS provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidTTSProviders = []string{"edge", "elevenlabs", "coqui", "yandex"}

// Default values filled in by [ApplyDefaults].
const (
	DefaultListenAddr          = ":5000"
	DefaultTTSProvider         = "edge"
	DefaultVoice               = "en-US-AriaNeural"
	DefaultChunkSize           = 500
	DefaultCacheSize           = 256
	DefaultCacheTTL            = 30 * time.Minute
	DefaultVoiceMatchThreshold = 0.85
	DefaultRequestTimeout      = 60 * time.Second
	DefaultServerURL           = "http://localhost:5000"
	DefaultThreshold           = 500
	DefaultGuardGrace          = 300 * time.Millisecond
	DefaultGuardTimeout        = 10 * time.Second
	DefaultTimeUpdateInterval  = 250 * time.Millisecond
	DefaultDownloadConcurrency = 4
)

// DefaultCORSOrigins are allowed when server.cors_origins is unset.
var DefaultCORSOrigins = []string{"http://localhost:3000"}

// envRef matches ${NAME} references.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, fills in defaults and validates the result. An empty
// document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = ExpandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Missing files are ignored and
// variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// ExpandEnv replaces every ${NAME} in raw with the value of the environment
// variable NAME. Unset variables expand to the empty string.
func ExpandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = slices.Clone(DefaultCORSOrigins)
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = DefaultTTSProvider
	}

	s := &cfg.Synthesis
	if s.DefaultVoice == "" {
		s.DefaultVoice = DefaultVoice
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = DefaultChunkSize
	}
	if s.CacheSize == 0 {
		s.CacheSize = DefaultCacheSize
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = DefaultCacheTTL
	}
	if s.VoiceMatchThreshold == 0 {
		s.VoiceMatchThreshold = DefaultVoiceMatchThreshold
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.Exports.Backend == ExportFile && cfg.Exports.Dir == "" {
		cfg.Exports.Dir = "exports"
	}

	p := &cfg.Player
	if p.ServerURL == "" {
		p.ServerURL = DefaultServerURL
	}
	if p.Backend == "" {
		p.Backend = PlayerRemote
	}
	if p.ProgressiveThreshold == 0 {
		p.ProgressiveThreshold = DefaultThreshold
	}
	if p.GuardGrace == 0 {
		p.GuardGrace = DefaultGuardGrace
	}
	if p.GuardTimeout == 0 {
		p.GuardTimeout = DefaultGuardTimeout
	}
	if p.TimeUpdateInterval == 0 {
		p.TimeUpdateInterval = DefaultTimeUpdateInterval
	}
	if p.DownloadConcurrency == 0 {
		p.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if p.RequestTimeout == 0 {
		p.RequestTimeout = DefaultRequestTimeout
	}
	if p.OutputDir == "" {
		p.OutputDir = "."
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("providers.tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		prefix := fmt.Sprintf("providers.tts_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}

	// Synthesis
	s := cfg.Synthesis
	if s.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("synthesis.chunk_size %d must be positive", s.ChunkSize))
	}
	if s.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("synthesis.cache_ttl %s must not be negative", s.CacheTTL))
	}
	if s.VoiceMatchThreshold < 0 || s.VoiceMatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("synthesis.voice_match_threshold %.2f is out of range (0, 1]", s.VoiceMatchThreshold))
	}
	if s.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("synthesis.request_timeout %s must not be negative", s.RequestTimeout))
	}
	if s.Speed != 0 && (s.Speed < 0.5 || s.Speed > 2) {
		errs = append(errs, fmt.Errorf("synthesis.speed %.2f is out of range [0.5, 2.0]", s.Speed))
	}
	if s.Pitch < -10 || s.Pitch > 10 {
		errs = append(errs, fmt.Errorf("synthesis.pitch %.1f is out of range [-10, 10]", s.Pitch))
	}

	// Exports
	switch e := cfg.Exports; {
	case e.Backend == "":
	case !e.Backend.IsValid():
		errs = append(errs, fmt.Errorf("exports.backend %q is invalid; valid values: file, postgres", e.Backend))
	case e.Backend == ExportPostgres && e.PostgresDSN == "":
		errs = append(errs, errors.New("exports.postgres_dsn is required when exports.backend is postgres"))
	}

	// Player
	p := cfg.Player
	if p.Backend != "" && !p.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("player.backend %q is invalid; valid values: remote, local", p.Backend))
	}
	if p.Backend == PlayerRemote {
		if u, err := url.Parse(p.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("player.server_url %q is not an absolute URL", p.ServerURL))
		}
	}
	if p.ProgressiveThreshold < 0 {
		errs = append(errs, fmt.Errorf("player.progressive_threshold %d must not be negative", p.ProgressiveThreshold))
	}
	if p.DownloadConcurrency < 0 {
		errs = append(errs, fmt.Errorf("player.download_concurrency %d must not be negative", p.DownloadConcurrency))
	}
	for name, d := range map[string]time.Duration{
		"guard_grace":          p.GuardGrace,
		"guard_timeout":        p.GuardTimeout,
		"time_update_interval": p.TimeUpdateInterval,
		"request_timeout":      p.RequestTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("player.%s %s must not be negative", name, d))
		}
	}
	if p.GuardTimeout > 0 && p.GuardGrace > p.GuardTimeout {
		errs = append(errs, fmt.Errorf("player.guard_grace %s exceeds player.guard_timeout %s", p.GuardGrace, p.GuardTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidTTSProviders].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidTTSProviders, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"field", field,
		"name", name,
		"known", ValidTTSProviders,
	)
}
