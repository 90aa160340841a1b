// Package app wires the readaloud subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context is cancelled, and Shutdown
// tears everything down in order. [Player] is the terminal player's
// counterpart and owns one playback session.
//
// For testing, inject implementations via functional options
// (WithExportStore, WithMetrics, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/readaloud/internal/config"
	"github.com/MrWong99/readaloud/internal/export"
	"github.com/MrWong99/readaloud/internal/health"
	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/resilience"
	"github.com/MrWong99/readaloud/internal/server"
	"github.com/MrWong99/readaloud/internal/synth"
	"github.com/MrWong99/readaloud/pkg/provider/tts"
)

// NamedProvider is a TTS provider together with the name it was registered
// under.
type NamedProvider struct {
	Name     string
	Provider tts.Provider
}

// Providers holds the configured TTS provider and its ordered fallbacks.
// Populated by main.go via the config registry.
type Providers struct {
	TTS       NamedProvider
	Fallbacks []NamedProvider
}

// App owns all subsystem lifetimes of the readaloud server.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	tts            *resilience.TTSFallback
	synth          *synth.Service
	exports        export.Store
	exportBackend  string
	server         *server.Server
	metricsHandler http.Handler
	httpSrv        *http.Server

	mu  sync.Mutex
	cur *config.Config

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithExportStore injects an export store instead of creating one from
// config. name labels the backend in metrics.
func WithExportStore(st export.Store, name string) Option {
	return func(a *App) {
		a.exports = st
		a.exportBackend = name
	}
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar hands the App the level variable behind its logger so config
// reloads can change verbosity.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.TTS.Provider == nil {
		return nil, errors.New("app: a TTS provider is required")
	}
	a := &App{
		cfg:       cfg,
		cur:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Provider failover ─────────────────────────────────────────────
	a.initProviders()

	// ── 2. Synthesis service ─────────────────────────────────────────────
	a.initSynth()

	// ── 3. Export store ──────────────────────────────────────────────────
	if err := a.initExports(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init exports: %w", err)
	}

	// ── 4. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initProviders wraps the primary provider and its fallbacks in per-provider
// circuit breakers.
func (a *App) initProviders() {
	cfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Logger: a.log,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
	p := a.providers
	a.tts = resilience.NewTTSFallback(p.TTS.Provider, p.TTS.Name, cfg)
	for _, fb := range p.Fallbacks {
		a.tts.AddFallback(fb.Name, fb.Provider)
	}
	a.log.Info("TTS providers ready", "order", a.tts.Backends())
}

// initSynth builds the synthesis service from the synthesis section.
func (a *App) initSynth() {
	s := a.cfg.Synthesis
	a.synth = synth.New(a.tts,
		synth.WithDefaultVoice(s.DefaultVoice),
		synth.WithChunkSize(s.ChunkSize),
		synth.WithCache(s.CacheSize, s.CacheTTL),
		synth.WithVoiceMatchThreshold(s.VoiceMatchThreshold),
		synth.WithRequestTimeout(s.RequestTimeout),
		synth.WithProsody(s.Speed, s.Pitch),
		synth.WithProviderName(a.providers.TTS.Name),
		synth.WithLogger(a.log),
		synth.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.synth.Close)
}

// initExports opens the configured export store unless one was injected.
func (a *App) initExports(ctx context.Context) error {
	if a.exports != nil {
		return nil
	}
	e := a.cfg.Exports
	switch e.Backend {
	case "":
		a.log.Info("exports disabled")
		return nil
	case config.ExportFile:
		st, err := export.NewFileStore(e.Dir)
		if err != nil {
			return err
		}
		a.exports, a.exportBackend = st, string(e.Backend)
	case config.ExportPostgres:
		st, err := export.OpenPostgres(ctx, e.PostgresDSN)
		if err != nil {
			return err
		}
		a.exports, a.exportBackend = st, string(e.Backend)
		a.closers = append(a.closers, st.Close)
	default:
		return fmt.Errorf("unknown export backend %q", e.Backend)
	}
	a.log.Info("exports enabled", "backend", a.exportBackend)
	return nil
}

// initServer builds the HTTP surface and its readiness checks.
func (a *App) initServer() {
	checkers := []health.Checker{health.Ping("tts", a.tts)}
	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
		server.WithLogger(a.log),
	}
	if a.exports != nil {
		checkers = append(checkers, health.Optional(health.Ping("exports", a.exports)))
		opts = append(opts, server.WithExportStore(a.exports, a.exportBackend))
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsHandler))
	}
	opts = append(opts, server.WithHealth(health.New(checkers)))

	a.server = server.New(a.synth, opts...)
	a.httpSrv = a.server.HTTPServer(a.cfg.Server.ListenAddr)
}

// Handler returns the HTTP handler of the server.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// Synth returns the synthesis service.
func (a *App) Synth() *synth.Service {
	return a.synth
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves HTTP until ctx is
// cancelled. When ctx is done, Run returns nil; call Shutdown to release
// resources.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		errCh <- err
	}()
	a.log.Info("readaloud server listening",
		"addr", ln.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
		"provider", a.providers.TTS.Name,
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of next and logs the sections
// whose changes need a restart.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	a.mu.Lock()
	d := config.Diff(a.cur, next)
	a.cur = next
	a.mu.Unlock()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DefaultsChanged {
		a.synth.SetDefaults(d.NewVoice, d.NewChunkSize)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
	return d
}

// SlogLevel maps a config log level to its slog counterpart. Unknown levels
// map to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains in-flight HTTP requests and then runs every closer. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// DefaultShutdownTimeout bounds graceful shutdown in main.
const DefaultShutdownTimeout = 15 * time.Second
