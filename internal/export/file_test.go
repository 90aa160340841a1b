package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/backend"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "exports"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func TestFileStore_SaveGet(t *testing.T) {
	t.Parallel()

	s := newTestFileStore(t)
	ctx := context.Background()
	rec, err := s.Save(ctx, backend.Audio{Data: []byte("mp3 bytes"), ContentType: "audio/mpeg"}, Meta{Voice: "v", Chunks: 3})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.Name != "speech.mp3" || rec.Size != 9 || rec.Chunks != 3 || rec.Voice != "v" {
		t.Errorf("record = %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(s.dir, rec.ID, "speech.mp3")); err != nil {
		t.Errorf("artifact file: %v", err)
	}

	got, data, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "mp3 bytes" {
		t.Errorf("payload = %q", data)
	}
	if got.ID != rec.ID || got.ContentType != "audio/mpeg" {
		t.Errorf("Get record = %+v", got)
	}
}

func TestFileStore_WAVName(t *testing.T) {
	t.Parallel()

	s := newTestFileStore(t)
	wav := audio.EncodeWAV(audio.PCM{Data: []byte{0, 0}, Format: audio.Format{SampleRate: 8000, Channels: 1}})
	rec, err := s.Save(context.Background(), backend.Audio{Data: wav}, Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "speech.wav" || rec.ContentType != "audio/wav" {
		t.Errorf("record = %s %s", rec.Name, rec.ContentType)
	}
}

func TestFileStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	s := newTestFileStore(t)
	base := time.Unix(1000, 0)
	var ids []string
	for i := range 3 {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		rec, err := s.Save(context.Background(), backend.Audio{Data: []byte{byte(i + 1)}}, Meta{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rec.ID)
	}

	recs, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i, r := range recs {
		if want := ids[2-i]; r.ID != want {
			t.Errorf("recs[%d] = %s, want %s", i, r.ID, want)
		}
	}
}

func TestFileStore_Errors(t *testing.T) {
	t.Parallel()

	s := newTestFileStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, backend.Audio{}, Meta{}); !errors.Is(err, ErrEmpty) {
		t.Errorf("Save empty = %v, want ErrEmpty", err)
	}
	for _, id := range []string{"../index.jsonl", "nope", "6f1b3b9e-4a1c-4e7e-9d0c-1b2a3c4d5e6f"} {
		if _, _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) = %v, want ErrNotFound", id, err)
		}
	}
	recs, err := s.List(ctx)
	if err != nil || len(recs) != 0 {
		t.Errorf("List on empty store = %v, %v", recs, err)
	}
}

func TestFileStore_Ping(t *testing.T) {
	t.Parallel()

	s := newTestFileStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v", err)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded after the dir was removed")
	}
	if _, err := NewFileStore(""); err == nil {
		t.Error("NewFileStore accepted an empty dir")
	}
}
