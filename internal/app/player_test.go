package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/readaloud/internal/app"
	"github.com/MrWong99/readaloud/internal/config"
	"github.com/MrWong99/readaloud/internal/export"
	"github.com/MrWong99/readaloud/internal/playback"
	audiomock "github.com/MrWong99/readaloud/pkg/audio/mock"
	"github.com/MrWong99/readaloud/pkg/backend"
	backendmock "github.com/MrWong99/readaloud/pkg/backend/mock"
	"github.com/MrWong99/readaloud/pkg/backend/remote"
)

type fakeUploader struct {
	mu     sync.Mutex
	err    error
	uploads []backend.Audio
	voices  []string
}

func (u *fakeUploader) UploadExport(_ context.Context, a backend.Audio, voice string, chunks int) (remote.ExportInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return remote.ExportInfo{}, u.err
	}
	u.uploads = append(u.uploads, a)
	u.voices = append(u.voices, voice)
	return remote.ExportInfo{ID: "exp-1", Name: "speech." + a.Ext(), Size: len(a.Data)}, nil
}

type playerFixture struct {
	player *app.Player
	client *backendmock.Client
	opener *audiomock.Opener
	outDir string
}

func newPlayer(t *testing.T, up app.Uploader, st export.Store) *playerFixture {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Player.GuardGrace = 5 * time.Millisecond
	cfg.Player.OutputDir = t.TempDir()

	f := &playerFixture{
		client: &backendmock.Client{Voices: []backend.Voice{{ShortName: "en-US-AriaNeural"}}},
		opener: &audiomock.Opener{},
		outDir: cfg.Player.OutputDir,
	}
	f.player = app.NewPlayer(app.PlayerConfig{
		Config:   cfg,
		Client:   f.client,
		Opener:   f.opener,
		Uploader: up,
		Store:    st,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = f.player.Close() })
	return f
}

// playHello plays a short text and waits until its track is playing.
func (f *playerFixture) playHello(t *testing.T) *audiomock.Track {
	t.Helper()
	if err := f.player.Play(context.Background(), "Hello.", "en-US-AriaNeural"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	tracks, ok := f.opener.WaitForTracks(1, 5*time.Second)
	if !ok {
		t.Fatal("track never opened")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !tracks[0].Playing() {
		if time.Now().After(deadline) {
			t.Fatal("track never started")
		}
		time.Sleep(time.Millisecond)
	}
	return tracks[0]
}

func TestPlayer_PlayAndInfo(t *testing.T) {
	t.Parallel()

	f := newPlayer(t, nil, nil)
	if f.player.IsActive() {
		t.Fatal("new player should not be active")
	}
	tr := f.playHello(t)

	if tr.Label() != "Hello." {
		t.Errorf("track = %q", tr.Label())
	}
	info := f.player.Info()
	if !f.player.IsActive() || info.Text != "Hello." || info.Voice != "en-US-AriaNeural" || info.StartedAt.IsZero() {
		t.Errorf("info = %+v", info)
	}
	if st := f.player.Status(); st.Mode != playback.Standard || st.State != playback.Playing {
		t.Errorf("status = %+v", st)
	}
}

func TestPlayer_Save(t *testing.T) {
	t.Parallel()

	t.Run("uploads to server", func(t *testing.T) {
		t.Parallel()
		up := &fakeUploader{}
		f := newPlayer(t, up, nil)
		f.playHello(t)

		saved, err := f.player.Save(context.Background())
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if saved.Destination != app.SavedOnServer || saved.ID != "exp-1" || saved.Chunks != 1 {
			t.Errorf("saved = %+v", saved)
		}
		if len(up.uploads) != 1 || string(up.uploads[0].Data) != "Hello." || up.voices[0] != "en-US-AriaNeural" {
			t.Errorf("uploads = %v voices = %v", up.uploads, up.voices)
		}
	})

	t.Run("falls back to store", func(t *testing.T) {
		t.Parallel()
		st, err := export.NewFileStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		f := newPlayer(t, &fakeUploader{err: errors.New("server gone")}, st)
		f.playHello(t)

		saved, err := f.player.Save(context.Background())
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if saved.Destination != app.SavedInStore || saved.ID == "" {
			t.Fatalf("saved = %+v", saved)
		}
		rec, data, err := st.Get(context.Background(), saved.ID)
		if err != nil || string(data) != "Hello." || rec.Voice != "en-US-AriaNeural" {
			t.Errorf("stored = %+v %q %v", rec, data, err)
		}
	})

	t.Run("writes file", func(t *testing.T) {
		t.Parallel()
		f := newPlayer(t, nil, nil)
		f.playHello(t)

		saved, err := f.player.Save(context.Background())
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if saved.Destination != app.SavedToFile || filepath.Dir(saved.Path) != f.outDir {
			t.Fatalf("saved = %+v", saved)
		}
		base := filepath.Base(saved.Path)
		if !strings.HasPrefix(base, "speech-") || !strings.HasSuffix(base, ".mp3") {
			t.Errorf("file name = %q", base)
		}
		data, err := os.ReadFile(saved.Path)
		if err != nil || string(data) != "Hello." {
			t.Errorf("file = %q, %v", data, err)
		}
	})
}

func TestPlayer_SaveBeforePlay(t *testing.T) {
	t.Parallel()

	f := newPlayer(t, nil, nil)
	if _, err := f.player.Save(context.Background()); err == nil {
		t.Fatal("expected error before any Play")
	}
}

func TestPlayer_PlayTestTone(t *testing.T) {
	t.Parallel()

	f := newPlayer(t, nil, nil)
	f.client.TestAudioResult = backend.Audio{Data: []byte("tone"), ContentType: "audio/wav"}

	done := make(chan error, 1)
	go func() { done <- f.player.PlayTestTone(context.Background()) }()

	tracks, ok := f.opener.WaitForTracks(1, 5*time.Second)
	if !ok {
		t.Fatal("test tone never opened")
	}
	tr := tracks[0]
	deadline := time.Now().Add(5 * time.Second)
	for !tr.Playing() {
		if time.Now().After(deadline) {
			t.Fatal("test tone never started")
		}
		time.Sleep(time.Millisecond)
	}
	tr.End()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("PlayTestTone: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("PlayTestTone did not return")
	}
	if !tr.Closed() {
		t.Error("test tone track should be closed")
	}
	if f.player.IsActive() {
		t.Error("test tone must not start a playback run")
	}
}

func TestPlayer_PlayTestTone_Errors(t *testing.T) {
	t.Parallel()

	f := newPlayer(t, nil, nil)
	f.client.TestAudioErr = errors.New("offline")
	if err := f.player.PlayTestTone(context.Background()); err == nil {
		t.Fatal("expected error when the backend fails")
	}

	f.client.TestAudioErr = nil
	f.client.TestAudioResult = backend.Audio{Data: []byte("tone"), ContentType: "audio/wav"}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.player.PlayTestTone(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestPlayer_Voices(t *testing.T) {
	t.Parallel()

	f := newPlayer(t, nil, nil)
	voices, err := f.player.Voices(context.Background())
	if err != nil || len(voices) != 1 || voices[0].ShortName != "en-US-AriaNeural" {
		t.Errorf("Voices = %v, %v", voices, err)
	}
}
