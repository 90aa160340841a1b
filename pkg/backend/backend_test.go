package backend_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/readaloud/pkg/backend"
	"github.com/MrWong99/readaloud/pkg/backend/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveVoices(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fallback := []backend.Voice{{ShortName: backend.DefaultVoice, FriendlyName: backend.DefaultVoice}}

	tests := []struct {
		name   string
		client *mock.Client
		want   []backend.Voice
	}{
		{
			name:   "catalogue returned",
			client: &mock.Client{Voices: []backend.Voice{{ShortName: "de-DE-KatjaNeural", FriendlyName: "Katja"}}},
			want:   []backend.Voice{{ShortName: "de-DE-KatjaNeural", FriendlyName: "Katja"}},
		},
		{
			name:   "error falls back",
			client: &mock.Client{VoicesErr: errors.New("boom")},
			want:   fallback,
		},
		{
			name:   "empty falls back",
			client: &mock.Client{},
			want:   fallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := backend.ResolveVoices(ctx, tt.client, discardLogger())
			if len(got) != len(tt.want) {
				t.Fatalf("got %d voices, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("voice[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCheckAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		audio   backend.Audio
		wantErr bool
	}{
		{"mpeg", backend.Audio{Data: []byte{1}, ContentType: "audio/mpeg"}, false},
		{"wav with params", backend.Audio{Data: []byte{1}, ContentType: "audio/wav; codecs=1"}, false},
		{"octet stream", backend.Audio{Data: []byte{1}, ContentType: "application/octet-stream"}, false},
		{"no content type", backend.Audio{Data: []byte{1}}, false},
		{"empty", backend.Audio{ContentType: "audio/mpeg"}, true},
		{"json", backend.Audio{Data: []byte("{}"), ContentType: "application/json"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := backend.CheckAudio("synthesize", tt.audio)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckAudio() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var epe *backend.EmptyPayloadError
			if !errors.As(err, &epe) {
				t.Fatalf("error %T is not *EmptyPayloadError", err)
			}
			if epe.Op != "synthesize" || epe.Size != len(tt.audio.Data) {
				t.Errorf("EmptyPayloadError = %+v", epe)
			}
		})
	}
}

func TestFetchError(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection refused")
	err := error(&backend.FetchError{Op: "synthesize chunk", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("FetchError does not unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "synthesize chunk") || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() = %q", err.Error())
	}

	status := &backend.FetchError{Op: "synthesize", StatusCode: 502, Message: "provider down"}
	if got := status.Error(); !strings.Contains(got, "502") || !strings.Contains(got, "provider down") {
		t.Errorf("Error() = %q", got)
	}
}

func TestAudio_Ext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		audio backend.Audio
		want  string
	}{
		{backend.Audio{ContentType: "audio/mpeg"}, "mp3"},
		{backend.Audio{ContentType: "audio/wav"}, "wav"},
		{backend.Audio{Data: []byte("RIFF\x00\x00\x00\x00WAVE")}, "wav"},
		{backend.Audio{Data: []byte("ID3")}, "mp3"},
		{backend.Audio{}, "mp3"},
	}
	for _, tt := range tests {
		if got := tt.audio.Ext(); got != tt.want {
			t.Errorf("Ext(%q, %q) = %q, want %q", tt.audio.ContentType, tt.audio.Data, got, tt.want)
		}
	}
}

func TestChunksInfo_Texts(t *testing.T) {
	t.Parallel()

	ci := backend.ChunksInfo{TotalChunks: 2, Chunks: []backend.ChunkInfo{{Text: "a"}, {Text: "b"}}}
	if got := strings.Join(ci.Texts(), ","); got != "a,b" {
		t.Errorf("Texts() = %q", got)
	}
}
