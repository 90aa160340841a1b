// Package player implements [audio.Opener] by decoding payloads to PCM and
// writing them to an [io.Writer] at real-time pace.
//
// The writer is typically a pipe into an external sink such as
// "aplay -f S16_LE -r 48000 -c 2" or a raw .pcm file. Every track shares the
// same writer, and writes are serialised so two tracks never interleave
// samples. All tracks are converted to a single output format so the sink
// sees one continuous stream.
package player

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio"
)

const defaultTick = 20 * time.Millisecond

// Option is a functional option for [Player].
type Option func(*Player)

// WithTickInterval sets how much audio is written per tick. Smaller ticks give
// finer position reports at the cost of more writes. Defaults to 20ms.
func WithTickInterval(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.tick = d
		}
	}
}

// WithOutputFormat sets the PCM format written to the sink. A zero field keeps
// the corresponding source value for each track.
func WithOutputFormat(f audio.Format) Option {
	return func(p *Player) { p.format = f }
}

// WithLogger sets the logger used for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.log = l }
}

// Player opens tracks that stream into a shared writer.
type Player struct {
	out    io.Writer
	tick   time.Duration
	format audio.Format
	log    *slog.Logger

	writeMu sync.Mutex
}

var _ audio.Opener = (*Player)(nil)

// New creates a Player that writes PCM to out. A nil out discards audio while
// still pacing playback, which is useful for headless runs.
func New(out io.Writer, opts ...Option) *Player {
	if out == nil {
		out = io.Discard
	}
	p := &Player{
		out:  out,
		tick: defaultTick,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Open implements [audio.Opener]. The payload is fully decoded before the
// track is returned, so a malformed payload fails here rather than during
// playback.
func (p *Player) Open(payload []byte, contentType string, ev audio.Events) (audio.Track, error) {
	pcm, err := audio.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("player: open %s payload: %w", contentType, err)
	}
	conv := audio.FormatConverter{Target: p.format}
	pcm = conv.Convert(pcm)

	return &track{
		p:     p,
		pcm:   pcm,
		dur:   pcm.Duration(),
		frame: max(audio.DurationToBytes(p.tick, pcm.Format), 2),
		ev:    ev,
	}, nil
}

func (p *Player) write(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.out.Write(b)
	return err
}

type track struct {
	p     *Player
	pcm   audio.PCM
	dur   time.Duration
	frame int
	ev    audio.Events

	mu      sync.Mutex
	offset  int
	playing bool
	ended   bool
	closed  bool
	gen     uint64
	stop    chan struct{}
}

func (t *track) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return audio.ErrTrackClosed
	}
	if t.playing || t.ended {
		return nil
	}
	t.playing = true
	t.gen++
	t.stop = make(chan struct{})
	go t.run(t.gen, t.stop)
	return nil
}

func (t *track) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return audio.ErrTrackClosed
	}
	t.halt()
	return nil
}

func (t *track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.halt()
	t.closed = true
	t.pcm.Data = nil
	return nil
}

// halt stops the pacing goroutine. Caller must hold t.mu.
func (t *track) halt() {
	if !t.playing {
		return
	}
	t.playing = false
	t.gen++
	close(t.stop)
}

func (t *track) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.BytesToDuration(t.offset, t.pcm.Format)
}

func (t *track) Duration() time.Duration { return t.dur }

// run writes one tick of audio per tick until the track ends or generation
// gen is superseded by Pause, Close, or a later Play.
func (t *track) run(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(t.p.tick)
	defer ticker.Stop()

	for {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		end := min(t.offset+t.frame, len(t.pcm.Data))
		chunk := t.pcm.Data[t.offset:end]
		t.offset = end
		pos := audio.BytesToDuration(t.offset, t.pcm.Format)
		done := t.offset >= len(t.pcm.Data)
		if done {
			t.playing = false
			t.ended = true
		}
		t.mu.Unlock()

		if len(chunk) > 0 {
			if err := t.p.write(chunk); err != nil {
				t.p.log.Warn("player: write failed", "err", err)
				t.mu.Lock()
				stale := t.gen != gen
				t.playing = false
				t.mu.Unlock()
				if !stale && t.ev.OnError != nil {
					t.ev.OnError(fmt.Errorf("player: write: %w", err))
				}
				return
			}
		}
		if t.superseded(gen) && !done {
			return
		}
		if t.ev.OnTime != nil {
			t.ev.OnTime(pos, t.dur)
		}
		if done {
			if !t.isClosed() && t.ev.OnEnded != nil {
				t.ev.OnEnded()
			}
			return
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}

func (t *track) superseded(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen != gen
}

func (t *track) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
