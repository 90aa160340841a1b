package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/readaloud/pkg/backend"
)

var (
	// ErrEmptyInput is returned by Play for empty or blank text. The session
	// is left untouched.
	ErrEmptyInput = errors.New("playback: no text provided")

	// ErrCommandDropped is returned when another command holds the transition
	// guard. The command had no effect.
	ErrCommandDropped = errors.New("playback: command dropped while another command is in progress")

	// ErrNoArtifact is returned by Download when there is no audio to export.
	ErrNoArtifact = errors.New("playback: no audio available for download")

	// ErrSeekOutOfRange is returned by Seek for a unit outside the run.
	ErrSeekOutOfRange = errors.New("playback: seek target out of range")

	// ErrNotPlaying is returned by commands that need a playing or paused run.
	ErrNotPlaying = errors.New("playback: nothing is playing")

	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("playback: session closed")
)

// errStale reports that the run moved on while an operation was in flight.
// It never escapes the package.
var errStale = errors.New("playback: run superseded")

// MediaError reports a failure of the audio resource for one unit: decoding
// failed or the track reported an error during playback.
type MediaError struct {
	Unit int
	Err  error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("playback: media error on unit %d: %v", e.Unit, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// AssemblyError reports that the download artifact could not be assembled
// because chunk Index could not be loaded.
type AssemblyError struct {
	Index int
	Err   error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("playback: assemble download: chunk %d: %v", e.Index, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// fetchErr normalises a backend failure. Errors that already carry a backend
// type, and context cancellation, pass through; anything else is wrapped in a
// [*backend.FetchError].
func fetchErr(op string, err error) error {
	var (
		fe  *backend.FetchError
		epe *backend.EmptyPayloadError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fe), errors.As(err, &epe):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &backend.FetchError{Op: op, Err: err}
	}
}
