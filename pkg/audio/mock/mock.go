// Package mock provides an instrumented in-memory implementation of
// [audio.Opener] and [audio.Track] for use in unit tests.
//
// All mocks are safe for concurrent use. The [Opener] keeps an ordered log of
// every open, play, pause, close, end, and error so tests can assert on the
// sequence in which tracks were driven. Tracks never progress on their own:
// the test drives them with [Track.Advance], [Track.End], and [Track.Fail].
//
// Typical usage:
//
//	op := &mock.Opener{TrackDuration: 2 * time.Second}
//	sess := playback.New(client, op)
//	_ = sess.Play(ctx, text, voice)
//	tr := op.Track(0)
//	tr.Advance(time.Second)
//	tr.End()
package mock

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio"
)

// ─── Opener ───────────────────────────────────────────────────────────────────

// Opener is a mock implementation of [audio.Opener].
// Set the exported fields before use; inspect the log and tracks after.
type Opener struct {
	mu sync.Mutex

	// OpenErr is returned by every call to [Opener.Open] when non-nil.
	OpenErr error

	// OpenErrFor, when set, is consulted per payload. A non-nil return fails
	// that Open call. It takes precedence over OpenErr.
	OpenErrFor func(payload []byte) error

	// PlayErr is copied into every track opened after it is set.
	PlayErr error

	// TrackDuration is reported by [Track.Duration] for new tracks.
	TrackDuration time.Duration

	// CallCountOpen records how many times Open was called, including failures.
	CallCountOpen int

	tracks []*Track
	log    []string
}

var _ audio.Opener = (*Opener)(nil)

// Open implements [audio.Opener]. The returned track is labelled with the
// payload text, which the event log uses to identify it.
func (o *Opener) Open(payload []byte, contentType string, ev audio.Events) (audio.Track, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountOpen++

	label := string(payload)
	err := o.OpenErr
	if o.OpenErrFor != nil {
		err = o.OpenErrFor(payload)
	}
	if err != nil {
		o.log = append(o.log, "open-failed "+label)
		return nil, err
	}

	t := &Track{
		opener:      o,
		label:       label,
		Payload:     slices.Clone(payload),
		ContentType: contentType,
		ev:          ev,
		dur:         o.TrackDuration,
		playErr:     o.PlayErr,
	}
	o.tracks = append(o.tracks, t)
	o.log = append(o.log, "open "+label)
	return t, nil
}

// Tracks returns a snapshot of every track opened so far, in order.
func (o *Opener) Tracks() []*Track {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.tracks)
}

// Track returns the i-th opened track, or nil if fewer have been opened.
func (o *Opener) Track(i int) *Track {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= len(o.tracks) {
		return nil
	}
	return o.tracks[i]
}

// Log returns a snapshot of the event log. Entries have the form
// "<event> <label>", e.g. "play chunk-1".
func (o *Opener) Log() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.log)
}

// WaitForTracks polls until at least n tracks have been opened or timeout
// elapses. It returns the track snapshot and whether n was reached.
func (o *Opener) WaitForTracks(n int, timeout time.Duration) ([]*Track, bool) {
	deadline := time.Now().Add(timeout)
	for {
		tracks := o.Tracks()
		if len(tracks) >= n {
			return tracks, true
		}
		if time.Now().After(deadline) {
			return tracks, false
		}
		time.Sleep(time.Millisecond)
	}
}

// WaitForLog polls until entry appears in the event log or timeout elapses.
func (o *Opener) WaitForLog(entry string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if slices.Contains(o.Log(), entry) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Reset clears the recorded tracks, log, and call count.
func (o *Opener) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracks = nil
	o.log = nil
	o.CallCountOpen = 0
}

func (o *Opener) record(event, label string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log = append(o.log, event+" "+label)
}

// ─── Track ────────────────────────────────────────────────────────────────────

// Track is a mock implementation of [audio.Track].
type Track struct {
	opener *Opener
	label  string
	ev     audio.Events

	// Payload and ContentType are the arguments passed to Open.
	Payload     []byte
	ContentType string

	mu      sync.Mutex
	playing bool
	closed  bool
	ended   bool
	pos     time.Duration
	dur     time.Duration
	playErr error

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountPause records how many times Pause was called.
	CallCountPause int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Track = (*Track)(nil)

// Label returns the payload text the track was opened with.
func (t *Track) Label() string { return t.label }

// Play implements [audio.Track].
func (t *Track) Play() error {
	t.mu.Lock()
	t.CallCountPlay++
	switch {
	case t.closed:
		t.mu.Unlock()
		return audio.ErrTrackClosed
	case t.playErr != nil:
		err := t.playErr
		t.mu.Unlock()
		return err
	case t.playing || t.ended:
		t.mu.Unlock()
		return nil
	}
	t.playing = true
	t.mu.Unlock()
	t.opener.record("play", t.label)
	return nil
}

// Pause implements [audio.Track].
func (t *Track) Pause() error {
	t.mu.Lock()
	t.CallCountPause++
	if t.closed {
		t.mu.Unlock()
		return audio.ErrTrackClosed
	}
	was := t.playing
	t.playing = false
	t.mu.Unlock()
	if was {
		t.opener.record("pause", t.label)
	}
	return nil
}

// Close implements [audio.Track]. Closing twice is a no-op.
func (t *Track) Close() error {
	t.mu.Lock()
	t.CallCountClose++
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.playing = false
	t.mu.Unlock()
	t.opener.record("close", t.label)
	return nil
}

// Position implements [audio.Track].
func (t *Track) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// Duration implements [audio.Track].
func (t *Track) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dur
}

// Playing reports whether the track is currently playing.
func (t *Track) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// Closed reports whether Close has been called.
func (t *Track) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// SetDuration changes the reported duration. Zero simulates a resource whose
// length is unknown.
func (t *Track) SetDuration(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dur = d
}

// Advance moves the position to pos and delivers OnTime. Closed tracks
// deliver nothing.
func (t *Track) Advance(pos time.Duration) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.pos = pos
	dur := t.dur
	t.mu.Unlock()
	if t.ev.OnTime != nil {
		t.ev.OnTime(pos, dur)
	}
}

// End marks the track finished and delivers OnEnded. Closed or already
// ended tracks deliver nothing.
func (t *Track) End() {
	t.mu.Lock()
	if t.closed || t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	t.playing = false
	t.pos = t.dur
	t.mu.Unlock()
	t.opener.record("end", t.label)
	if t.ev.OnEnded != nil {
		t.ev.OnEnded()
	}
}

// Fail delivers OnError with err. Closed tracks deliver nothing.
func (t *Track) Fail(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.playing = false
	t.mu.Unlock()
	t.opener.record("error", t.label)
	if t.ev.OnError != nil {
		t.ev.OnError(err)
	}
}
