package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/MrWong99/readaloud/internal/app"
	"github.com/MrWong99/readaloud/internal/playback"
	"github.com/MrWong99/readaloud/pkg/backend"
)

// controller is the part of [app.Player] the prompt drives.
type controller interface {
	Play(ctx context.Context, text, voice string) error
	Pause() error
	Resume() error
	Seek(ctx context.Context, unit int) error
	Stop() error
	Status() playback.Status
	Voices(ctx context.Context) ([]backend.Voice, error)
	PlayTestTone(ctx context.Context) error
	Save(ctx context.Context) (app.Saved, error)
}

var _ controller = (*app.Player)(nil)

var errQuit = errors.New("quit")

const helpText = `commands:
  play [text]     read text aloud; bare play resumes or replays
  read <file>     read the contents of a file aloud
  voice [name]    show or set the voice
  voices          list available voices
  pause | resume | stop
  seek <n>        jump to chunk n (0-based)
  status          show the playback status
  save            save the audio of the current text
  test            play the test tone
  help | quit`

// repl reads commands line by line and applies them to a controller.
type repl struct {
	ctl   controller
	out   io.Writer
	voice string
	last  string
}

// run processes commands from in until EOF, quit, or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	r.prompt()
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		err := r.exec(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		r.prompt()
	}
	return sc.Err()
}

func (r *repl) prompt() { fmt.Fprint(r.out, "> ") }

// exec runs a single command line.
func (r *repl) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "play":
		if arg != "" {
			r.last = arg
			return r.ctl.Play(ctx, arg, r.voice)
		}
		// A bare play resumes a paused run or replays the last text.
		if r.ctl.Status().State == playback.Paused {
			return r.ctl.Resume()
		}
		if r.last == "" {
			return errors.New("play needs some text")
		}
		return r.ctl.Play(ctx, r.last, r.voice)
	case "read":
		if arg == "" {
			return errors.New("read needs a file name")
		}
		b, err := os.ReadFile(arg)
		if err != nil {
			return err
		}
		r.last = string(b)
		return r.ctl.Play(ctx, r.last, r.voice)
	case "voice":
		if arg != "" {
			r.voice = arg
		}
		v := r.voice
		if v == "" {
			v = "(server default)"
		}
		fmt.Fprintf(r.out, "voice: %s\n", v)
		return nil
	case "voices":
		voices, err := r.ctl.Voices(ctx)
		if err != nil {
			return err
		}
		for _, v := range voices {
			fmt.Fprintf(r.out, "  %-28s %s\n", v.ShortName, v.FriendlyName)
		}
		return nil
	case "pause":
		return r.ctl.Pause()
	case "resume":
		return r.ctl.Resume()
	case "stop":
		return r.ctl.Stop()
	case "seek":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("seek needs a chunk number: %w", err)
		}
		return r.ctl.Seek(ctx, n)
	case "status":
		r.printStatus(r.ctl.Status())
		return nil
	case "save", "download":
		s, err := r.ctl.Save(ctx)
		if err != nil {
			return err
		}
		switch s.Destination {
		case app.SavedToFile:
			fmt.Fprintf(r.out, "saved %d bytes to %s\n", s.Size, s.Path)
		default:
			fmt.Fprintf(r.out, "saved %s (%d bytes) to %s as %s\n", s.Name, s.Size, s.Destination, s.ID)
		}
		return nil
	case "test":
		return r.ctl.PlayTestTone(ctx)
	case "help", "?":
		fmt.Fprintln(r.out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func (r *repl) printStatus(st playback.Status) {
	fmt.Fprintf(r.out, "state: %s  mode: %s", st.State, st.Mode)
	if st.TotalUnits > 0 {
		fmt.Fprintf(r.out, "  unit: %d/%d", st.ActiveIndex+1, st.TotalUnits)
	}
	if st.TotalSentences > 0 {
		fmt.Fprintf(r.out, "  sentence: %d/%d", st.Sentence+1, st.TotalSentences)
	}
	if st.ChunkLoading {
		fmt.Fprint(r.out, "  loading")
	}
	if st.Err != nil {
		fmt.Fprintf(r.out, "  error: %v", st.Err)
	}
	fmt.Fprintln(r.out)
}

// printEvent renders a playback event for the terminal.
func printEvent(w io.Writer, ev playback.Event) {
	switch ev.Kind {
	case playback.SentenceChanged:
		fmt.Fprintf(w, "\n  » %s\n", ev.Text)
	case playback.StateChanged:
		fmt.Fprintf(w, "\n[%s]\n", ev.State)
	case playback.Fallback:
		fmt.Fprintf(w, "\n[progressive loading failed, falling back: %v]\n", ev.Err)
	case playback.Completed:
		fmt.Fprintln(w, "\n[done]")
	case playback.Failed:
		fmt.Fprintf(w, "\n[failed: %v]\n", ev.Err)
	}
}
