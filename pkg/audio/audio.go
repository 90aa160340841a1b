// Package audio defines the media resource contract used by the playback
// engine together with the codecs needed to turn synthesised payloads into
// playable PCM.
//
// The two primary abstractions are:
//
//   - [Opener] decodes an encoded payload (MP3 or WAV) and returns a [Track].
//   - [Track] is a single playable resource with play/pause semantics that
//     reports progress, completion, and failure through [Events].
//
// Implementations live in sub-packages: audio/player paces decoded PCM to an
// io.Writer in real time, and audio/mock is an instrumented fake for tests.
package audio

import (
	"errors"
	"time"
)

// ErrTrackClosed is returned by [Track] methods after Close has been called.
var ErrTrackClosed = errors.New("audio: track closed")

// Format describes the sample rate and channel count of 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// PCM is decoded little-endian signed 16-bit audio.
type PCM struct {
	Data []byte
	Format
}

// Duration returns the playback length of p. It returns 0 when the format is
// unknown.
func (p PCM) Duration() time.Duration {
	return BytesToDuration(len(p.Data), p.Format)
}

// BytesToDuration converts a PCM byte count to a duration in format f.
func BytesToDuration(n int, f Format) time.Duration {
	bps := f.SampleRate * f.Channels * 2
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// DurationToBytes converts a duration to a frame-aligned PCM byte count in
// format f.
func DurationToBytes(d time.Duration, f Format) int {
	frame := f.Channels * 2
	if frame <= 0 || f.SampleRate <= 0 {
		return 0
	}
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * frame
}

// Events receives notifications from a [Track]. Any field may be nil.
// Callbacks are invoked from the track's own goroutine and must not block for
// long; they must not call back into the same Track synchronously.
type Events struct {
	// OnTime reports the current playback position and the total duration.
	// dur is zero when the length of the resource is unknown.
	OnTime func(pos, dur time.Duration)

	// OnEnded fires exactly once when playback reaches the end.
	OnEnded func()

	// OnError fires when playback fails. No further events follow.
	OnError func(err error)
}

// Track is a single decoded, playable audio resource.
//
// A new Track starts paused at position zero. Implementations must be safe
// for concurrent use.
type Track interface {
	// Play starts or resumes playback. Calling Play on a playing or ended
	// track is a no-op.
	Play() error

	// Pause suspends playback, keeping the current position.
	Pause() error

	// Position returns the current playback position.
	Position() time.Duration

	// Duration returns the total length, or zero when unknown.
	Duration() time.Duration

	// Close stops playback and releases the decoded buffer. Events are not
	// delivered after Close returns.
	Close() error
}

// Opener decodes payloads into [Track] values.
type Opener interface {
	// Open decodes payload (whose MIME type is contentType, possibly empty)
	// and returns a paused track that reports to ev.
	Open(payload []byte, contentType string, ev Events) (Track, error)
}
