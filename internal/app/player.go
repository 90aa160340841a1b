package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/readaloud/internal/config"
	"github.com/MrWong99/readaloud/internal/export"
	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/playback"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/backend"
	"github.com/MrWong99/readaloud/pkg/backend/remote"
)

// Uploader stores a download artifact on a readaloud server.
// [remote.Client] implements it.
type Uploader interface {
	UploadExport(ctx context.Context, a backend.Audio, voice string, chunks int) (remote.ExportInfo, error)
}

var _ Uploader = (*remote.Client)(nil)

// PlaybackInfo holds metadata about the current playback request.
type PlaybackInfo struct {
	// Text is the text being read aloud.
	Text string

	// Voice is the requested voice name. Empty means the server default.
	Voice string

	// StartedAt is when Play was accepted.
	StartedAt time.Time
}

// SaveDestination says where [Player.Save] put an artifact.
type SaveDestination string

const (
	SavedOnServer SaveDestination = "server"
	SavedInStore  SaveDestination = "store"
	SavedToFile   SaveDestination = "file"
)

// Saved describes a delivered download artifact.
type Saved struct {
	Destination SaveDestination

	// ID is the export id on the server or in the store. Empty for files.
	ID string

	// Path is the written file. Empty unless Destination is SavedToFile.
	Path string

	Name   string
	Size   int
	Chunks int
}

// PlayerConfig holds all dependencies for a [Player].
type PlayerConfig struct {
	// Config supplies the player policy. Only the Player section is read.
	Config *config.Config

	Client backend.Client
	Opener audio.Opener

	// Uploader, if set, receives artifacts first.
	Uploader Uploader

	// Store, if set, receives artifacts when no Uploader is configured or the
	// upload failed.
	Store export.Store

	Logger  *slog.Logger
	Metrics *observe.Metrics

	// OnEvent receives every playback event.
	OnEvent func(playback.Event)
}

// Player manages the lifecycle of the terminal player's playback session.
// One request plays at a time; a new Play replaces the previous one.
// All exported methods are safe for concurrent use.
type Player struct {
	mu     sync.Mutex
	active bool
	info   PlaybackInfo

	session  *playback.Session
	client   backend.Client
	opener   audio.Opener
	uploader Uploader
	store    export.Store
	outDir   string
	log      *slog.Logger
	now      func() time.Time
}

// NewPlayer creates a Player with the given dependencies.
func NewPlayer(cfg PlayerConfig) *Player {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	pc := cfg.Config.Player
	opts := []playback.Option{
		playback.WithThreshold(pc.ProgressiveThreshold),
		playback.WithGuardTiming(pc.GuardGrace, pc.GuardTimeout),
		playback.WithDownloadConcurrency(pc.DownloadConcurrency),
		playback.WithLogger(log),
	}
	if cfg.Metrics != nil {
		opts = append(opts, playback.WithMetrics(cfg.Metrics))
	}
	if cfg.OnEvent != nil {
		opts = append(opts, playback.WithEventHandler(cfg.OnEvent))
	}
	return &Player{
		session:  playback.New(cfg.Client, cfg.Opener, opts...),
		client:   cfg.Client,
		opener:   cfg.Opener,
		uploader: cfg.Uploader,
		store:    cfg.Store,
		outDir:   pc.OutputDir,
		log:      log,
		now:      time.Now,
	}
}

// Play starts reading text aloud with voice, replacing any current request.
func (p *Player) Play(ctx context.Context, text, voice string) error {
	if err := p.session.Play(ctx, text, voice); err != nil {
		return err
	}
	p.mu.Lock()
	p.active = true
	p.info = PlaybackInfo{Text: text, Voice: voice, StartedAt: p.now().UTC()}
	p.mu.Unlock()

	st := p.session.Status()
	p.log.Info("playback started",
		"run_id", st.RunID,
		"mode", st.Mode.String(),
		"units", st.TotalUnits,
		"voice", voice,
	)
	return nil
}

// Pause pauses playback.
func (p *Player) Pause() error { return p.session.Pause() }

// Resume continues paused playback.
func (p *Player) Resume() error { return p.session.Resume() }

// Seek jumps to unit (a chunk in progressive mode).
func (p *Player) Seek(ctx context.Context, unit int) error { return p.session.Seek(ctx, unit) }

// Stop ends playback. The request stays available for Save.
func (p *Player) Stop() error { return p.session.Stop() }

// Status returns a snapshot of the playback session.
func (p *Player) Status() playback.Status { return p.session.Status() }

// Sentences returns the sentences of unit.
func (p *Player) Sentences(unit int) []string { return p.session.Sentences(unit) }

// IsActive reports whether Play has been accepted at least once.
func (p *Player) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Info returns metadata about the current request.
// Returns zero value if nothing was played yet.
func (p *Player) Info() PlaybackInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Voices lists the voices offered by the backend.
func (p *Player) Voices(ctx context.Context) ([]backend.Voice, error) {
	return p.client.ListVoices(ctx)
}

// PlayTestTone plays the backend's test tone and blocks until it ends, fails,
// or ctx is done. It does not touch the playback session.
func (p *Player) PlayTestTone(ctx context.Context) error {
	a, err := p.client.TestAudio(ctx)
	if err != nil {
		return fmt.Errorf("app: test audio: %w", err)
	}
	done := make(chan error, 1)
	tr, err := p.opener.Open(a.Data, a.ContentType, audio.Events{
		OnEnded: func() { done <- nil },
		OnError: func(err error) { done <- err },
	})
	if err != nil {
		return fmt.Errorf("app: open test audio: %w", err)
	}
	defer tr.Close()
	if err := tr.Play(); err != nil {
		return fmt.Errorf("app: play test audio: %w", err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Save assembles the current request into one artifact and delivers it: to
// the server through the Uploader, else to the Store, else as a file in the
// configured output directory. A failed upload falls through to the next
// destination.
func (p *Player) Save(ctx context.Context) (Saved, error) {
	p.mu.Lock()
	active, info := p.active, p.info
	p.mu.Unlock()
	if !active {
		return Saved{}, errors.New("app: nothing has been played yet")
	}

	art, err := p.session.Download(ctx)
	if err != nil {
		return Saved{}, err
	}
	base := Saved{Name: art.Name, Size: len(art.Audio.Data), Chunks: art.Chunks}

	if p.uploader != nil {
		exp, err := p.uploader.UploadExport(ctx, art.Audio, info.Voice, art.Chunks)
		if err == nil {
			base.Destination, base.ID = SavedOnServer, exp.ID
			p.log.Info("artifact uploaded", "id", exp.ID, "name", exp.Name, "size", exp.Size)
			return base, nil
		}
		p.log.Warn("artifact upload failed, saving locally", "err", err)
	}

	if p.store != nil {
		rec, err := p.store.Save(ctx, art.Audio, export.Meta{Voice: info.Voice, Chunks: art.Chunks})
		if err == nil {
			base.Destination, base.ID = SavedInStore, rec.ID
			p.log.Info("artifact stored", "id", rec.ID, "name", rec.Name, "size", rec.Size)
			return base, nil
		}
		p.log.Warn("artifact store failed, writing file", "err", err)
	}

	path, err := p.writeFile(art)
	if err != nil {
		return Saved{}, err
	}
	base.Destination, base.Path = SavedToFile, path
	p.log.Info("artifact written", "path", path, "size", base.Size)
	return base, nil
}

// writeFile writes art to the output directory under a timestamped name so
// repeated saves do not overwrite each other.
func (p *Player) writeFile(art playback.Artifact) (string, error) {
	dir := p.outDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("app: create output dir: %w", err)
	}
	ext := filepath.Ext(art.Name)
	name := strings.TrimSuffix(art.Name, ext) + "-" + p.now().UTC().Format("20060102T150405Z") + ext
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, art.Audio.Data, 0o644); err != nil {
		return "", fmt.Errorf("app: write artifact: %w", err)
	}
	return path, nil
}

// Close tears the playback session down.
func (p *Player) Close() error {
	p.mu.Lock()
	p.active = false
	p.info = PlaybackInfo{}
	p.mu.Unlock()
	return p.session.Close()
}
