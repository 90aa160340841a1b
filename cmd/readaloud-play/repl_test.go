package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/readaloud/internal/app"
	"github.com/MrWong99/readaloud/internal/playback"
	"github.com/MrWong99/readaloud/pkg/backend"
)

// fakeController records the commands it receives.
type fakeController struct {
	calls  []string
	plays  []string
	voices []string
	seeks  []int
	err    error
	saved  app.Saved
	status playback.Status
}

func (f *fakeController) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) Play(_ context.Context, text, voice string) error {
	f.plays = append(f.plays, text)
	f.voices = append(f.voices, voice)
	return f.record("play")
}
func (f *fakeController) Pause() error  { return f.record("pause") }
func (f *fakeController) Resume() error { return f.record("resume") }
func (f *fakeController) Stop() error   { return f.record("stop") }
func (f *fakeController) Seek(_ context.Context, unit int) error {
	f.seeks = append(f.seeks, unit)
	return f.record("seek")
}
func (f *fakeController) Status() playback.Status { return f.status }
func (f *fakeController) Voices(context.Context) ([]backend.Voice, error) {
	return []backend.Voice{{ShortName: "en-US-AriaNeural", FriendlyName: "Aria"}}, f.record("voices")
}
func (f *fakeController) PlayTestTone(context.Context) error { return f.record("test") }
func (f *fakeController) Save(context.Context) (app.Saved, error) {
	return f.saved, f.record("save")
}

func runREPL(t *testing.T, ctl controller, input string) string {
	t.Helper()
	var out bytes.Buffer
	r := &repl{ctl: ctl, out: &out, voice: "en-US-AriaNeural"}
	if err := r.run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("run: %v", err)
	}
	return out.String()
}

func TestREPL_Commands(t *testing.T) {
	t.Parallel()

	f := &fakeController{}
	runREPL(t, f, "play Hello there.\npause\nresume\nseek 3\nstop\nvoice de-DE-KatjaNeural\nplay Hallo.\ntest\n")

	want := []string{"play", "pause", "resume", "seek", "stop", "play", "test"}
	if !slices.Equal(f.calls, want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	if !slices.Equal(f.plays, []string{"Hello there.", "Hallo."}) {
		t.Errorf("plays = %q", f.plays)
	}
	if !slices.Equal(f.voices, []string{"en-US-AriaNeural", "de-DE-KatjaNeural"}) {
		t.Errorf("voices = %q", f.voices)
	}
	if !slices.Equal(f.seeks, []int{3}) {
		t.Errorf("seeks = %v", f.seeks)
	}
}

func TestREPL_BarePlay(t *testing.T) {
	t.Parallel()

	f := &fakeController{}
	runREPL(t, f, "play Once more.\nplay\n")
	if !slices.Equal(f.plays, []string{"Once more.", "Once more."}) {
		t.Errorf("plays = %q, want a replay", f.plays)
	}

	paused := &fakeController{status: playback.Status{State: playback.Paused}}
	runREPL(t, paused, "play\n")
	if !slices.Equal(paused.calls, []string{"resume"}) {
		t.Errorf("calls = %v, want resume", paused.calls)
	}
}

func TestREPL_QuitStopsReading(t *testing.T) {
	t.Parallel()

	f := &fakeController{}
	runREPL(t, f, "quit\nplay never\n")
	if len(f.calls) != 0 {
		t.Errorf("calls after quit = %v", f.calls)
	}
}

func TestREPL_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		ctl   *fakeController
		want  string
	}{
		{name: "unknown command", input: "rewind\n", ctl: &fakeController{}, want: `unknown command "rewind"`},
		{name: "play without text", input: "play\n", ctl: &fakeController{}, want: "play needs some text"},
		{name: "bad seek", input: "seek two\n", ctl: &fakeController{}, want: "seek needs a chunk number"},
		{name: "controller error", input: "pause\n", ctl: &fakeController{err: errors.New("invalid transition")}, want: "error: invalid transition"},
		{name: "missing file", input: "read /nonexistent/readaloud.txt\n", ctl: &fakeController{}, want: "error:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := runREPL(t, tt.ctl, tt.input)
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q does not contain %q", out, tt.want)
			}
		})
	}
}

func TestREPL_ReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chapter.txt")
	if err := os.WriteFile(path, []byte("It was a dark night."), 0o644); err != nil {
		t.Fatal(err)
	}
	f := &fakeController{}
	runREPL(t, f, "read "+path+"\n")
	if !slices.Equal(f.plays, []string{"It was a dark night."}) {
		t.Errorf("plays = %q", f.plays)
	}
}

func TestREPL_Output(t *testing.T) {
	t.Parallel()

	f := &fakeController{
		saved:  app.Saved{Destination: app.SavedToFile, Path: "/tmp/speech-1.mp3", Size: 42},
		status: playback.Status{State: playback.Playing, Mode: playback.Progressive, ActiveIndex: 1, TotalUnits: 4, Sentence: 5, TotalSentences: 12, ChunkLoading: true},
	}
	out := runREPL(t, f, "voices\nsave\nstatus\n")

	for _, want := range []string{
		"en-US-AriaNeural",
		"saved 42 bytes to /tmp/speech-1.mp3",
		"state: Playing  mode: progressive  unit: 2/4  sentence: 6/12  loading",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ev   playback.Event
		want string
	}{
		{playback.Event{Kind: playback.SentenceChanged, Text: "Hello."}, "» Hello."},
		{playback.Event{Kind: playback.StateChanged, State: playback.Paused}, "[Paused]"},
		{playback.Event{Kind: playback.Completed}, "[done]"},
		{playback.Event{Kind: playback.Failed, Err: errors.New("boom")}, "[failed: boom]"},
		{playback.Event{Kind: playback.ChunkReady, Unit: 2}, ""},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		printEvent(&buf, tt.ev)
		if tt.want == "" {
			if buf.Len() != 0 {
				t.Errorf("%s printed %q, want nothing", tt.ev.Kind, buf.String())
			}
			continue
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%s printed %q, want %q", tt.ev.Kind, buf.String(), tt.want)
		}
	}
}
