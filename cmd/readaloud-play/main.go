// Command readaloud-play is an interactive terminal player. It reads text
// aloud through a readaloud server (or an in-process synthesis service) using
// progressive chunked playback for long inputs.
//
// Audio is decoded to 16-bit PCM and written to -pcm-out, e.g.
//
//	readaloud-play -pcm-out >(aplay -f S16_LE -r 24000 -c 1)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/readaloud/internal/app"
	"github.com/MrWong99/readaloud/internal/config"
	"github.com/MrWong99/readaloud/internal/export"
	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/playback"
	"github.com/MrWong99/readaloud/internal/resilience"
	"github.com/MrWong99/readaloud/internal/synth"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/audio/player"
	"github.com/MrWong99/readaloud/pkg/backend"
	"github.com/MrWong99/readaloud/pkg/backend/remote"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "optional YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	serverURL := flag.String("server", "", "readaloud server URL (overrides player.server_url)")
	local := flag.Bool("local", false, "synthesise in-process instead of calling a server")
	pcmOut := flag.String("pcm-out", "", "file or pipe receiving 16-bit PCM, - for stdout; empty discards audio")
	sampleRate := flag.Int("rate", 24000, "output sample rate")
	channels := flag.Int("channels", 1, "output channel count")
	flag.Parse()

	cfg, err := loadConfig(*envPath, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "readaloud-play: %v\n", err)
		return 1
	}
	if *serverURL != "" {
		cfg.Player.ServerURL = *serverURL
	}
	if *local {
		cfg.Player.Backend = config.PlayerLocal
	}

	// Logs go to stderr so they do not interleave with the prompt.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: app.SlogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Backend ───────────────────────────────────────────────────────────────
	client, uploader, closeBackend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to create backend", "err", err)
		return 1
	}
	defer closeBackend()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Warn("export store unavailable, saving to files", "err", err)
		store = nil
	} else {
		defer closeStore()
	}

	// ── Audio sink ────────────────────────────────────────────────────────────
	// With PCM on stdout the prompt moves to stderr.
	var sink io.Writer = io.Discard
	var ui io.Writer = os.Stdout
	switch *pcmOut {
	case "":
	case "-":
		sink, ui = os.Stdout, os.Stderr
	default:
		f, err := os.OpenFile(*pcmOut, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			slog.Error("failed to open pcm output", "path", *pcmOut, "err", err)
			return 1
		}
		defer f.Close()
		sink = f
	}
	opener := player.New(sink,
		player.WithTickInterval(cfg.Player.TimeUpdateInterval),
		player.WithOutputFormat(audio.Format{SampleRate: *sampleRate, Channels: *channels}),
		player.WithLogger(logger),
	)

	p := app.NewPlayer(app.PlayerConfig{
		Config:   cfg,
		Client:   client,
		Opener:   opener,
		Uploader: uploader,
		Store:    store,
		Logger:   logger,
		Metrics:  observe.DefaultMetrics(),
		OnEvent:  func(ev playback.Event) { printEvent(ui, ev) },
	})
	defer p.Close()

	fmt.Fprintln(ui, "readaloud player, type help for commands")
	r := &repl{ctl: p, out: ui, voice: cfg.Synthesis.DefaultVoice}
	if err := r.run(ctx, os.Stdin); err != nil {
		slog.Error("input error", "err", err)
		return 1
	}
	return 0
}

// loadConfig loads path when set, otherwise returns a defaulted config.
func loadConfig(envPath, path string) (*config.Config, error) {
	if err := config.LoadDotEnv(envPath); err != nil {
		return nil, err
	}
	if path == "" {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		return cfg, nil
	}
	return config.Load(path)
}

// newBackend returns the backend selected by the player section. The remote
// client also uploads artifacts; the local service has no server to upload to.
func newBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (backend.Client, app.Uploader, func(), error) {
	switch cfg.Player.Backend {
	case config.PlayerLocal:
		reg := config.NewRegistry()
		app.RegisterBuiltinProviders(reg)
		ps, err := app.BuildProviders(cfg, reg)
		if err != nil {
			return nil, nil, nil, err
		}
		fb := resilience.NewTTSFallback(ps.TTS.Provider, ps.TTS.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Logger: log},
		})
		for _, f := range ps.Fallbacks {
			fb.AddFallback(f.Name, f.Provider)
		}
		s := cfg.Synthesis
		svc := synth.New(fb,
			synth.WithDefaultVoice(s.DefaultVoice),
			synth.WithChunkSize(s.ChunkSize),
			synth.WithCache(s.CacheSize, s.CacheTTL),
			synth.WithVoiceMatchThreshold(s.VoiceMatchThreshold),
			synth.WithRequestTimeout(s.RequestTimeout),
			synth.WithProsody(s.Speed, s.Pitch),
			synth.WithProviderName(ps.TTS.Name),
			synth.WithLogger(log),
		)
		log.Info("using in-process synthesis", "providers", fb.Backends())
		return svc, nil, func() { _ = svc.Close() }, nil

	default:
		var opts []remote.Option
		if cfg.Player.RequestTimeout > 0 {
			opts = append(opts, remote.WithTimeout(cfg.Player.RequestTimeout))
		}
		c, err := remote.New(cfg.Player.ServerURL, opts...)
		if err != nil {
			return nil, nil, nil, err
		}
		if _, err := c.ListVoices(ctx); err != nil {
			log.Warn("server not reachable yet", "url", cfg.Player.ServerURL, "err", err)
		}
		return c, c, func() {}, nil
	}
}

// openStore opens the configured export store. A nil store with a nil error
// means exports are not configured.
func openStore(ctx context.Context, cfg *config.Config) (export.Store, func(), error) {
	e := cfg.Exports
	switch e.Backend {
	case config.ExportFile:
		st, err := export.NewFileStore(e.Dir)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case config.ExportPostgres:
		st, err := export.OpenPostgres(ctx, e.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "":
		return nil, func() {}, nil
	default:
		return nil, nil, errors.New("unknown export backend " + string(e.Backend))
	}
}
