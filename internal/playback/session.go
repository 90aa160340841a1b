// Package playback is the progressive chunked-audio playback engine.
//
// A [Session] turns text into audio through a [backend.Client] and plays it
// through an [audio.Opener]. Short inputs are rendered with one synthesis call
// and played as a single track (standard mode). Longer inputs are split by
// the backend into chunks that are fetched one at a time with one-deep
// read-ahead and played strictly in order (progressive mode), so the first
// sound is heard before the whole input is synthesised.
//
// All mutating commands pass through a transition guard: a command issued
// while another is still settling is dropped and returns [ErrCommandDropped].
// Progress is reported through [Event] values delivered to an optional
// handler, and the current state can be polled with [Session.Status].
package playback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/backend"
)

// DefaultDownloadConcurrency bounds concurrent chunk loads during download
// assembly.
const DefaultDownloadConcurrency = 4

// Option is a functional option for [New].
type Option func(*Session)

// WithThreshold sets the progressive mode threshold in runes.
func WithThreshold(n int) Option {
	return func(s *Session) { s.threshold = n }
}

// WithGuardTiming sets the transition guard's grace period and max-hold
// timeout.
func WithGuardTiming(grace, maxHold time.Duration) Option {
	return func(s *Session) { s.guard = NewGuard(grace, maxHold) }
}

// WithDownloadConcurrency bounds concurrent chunk loads in [Session.Download].
func WithDownloadConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithEventHandler registers fn to receive every [Event]. fn is called from a
// dedicated goroutine, one event at a time, in emission order. It may call
// back into the session.
func WithEventHandler(fn func(Event)) Option {
	return func(s *Session) { s.handler = fn }
}

// WithMetrics records playback metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Status is a snapshot of a session.
type Status struct {
	RunID       string
	Mode        Mode
	State       State
	ActiveIndex int
	TotalUnits  int

	// Sentence is the global index of the sentence being spoken, or -1.
	Sentence int

	// TotalSentences counts the sentences known so far across all units.
	TotalSentences int

	// ChunkLoading reports a chunk load in flight in progressive mode.
	ChunkLoading bool

	// Err is the error that moved the run to Errored.
	Err error

	// Chunks is the chunk store snapshot in progressive mode.
	Chunks []ChunkInfo
}

// run is one play request's worth of state.
type run struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	text  string
	voice string
	mode  Mode
	state State

	active int
	total  int

	loader *Loader
	sync   *Synchronizer
	audio  backend.Audio

	track    audio.Track
	trackSeq uint64

	// gen is bumped whenever the unit sequence is interrupted (seek), so a
	// pending advance can tell it has been superseded.
	gen uint64

	err  error
	torn bool
}

// Session is a playback session handle. The zero value is not usable; create
// sessions with [New]. A Session is safe for concurrent use.
type Session struct {
	client backend.Client
	opener audio.Opener
	guard  *Guard

	threshold   int
	concurrency int
	log         *slog.Logger
	metrics     *observe.Metrics
	handler     func(Event)
	events      *dispatcher

	// seq numbers tracks across runs so callbacks can be matched to the
	// track currently attached.
	seq atomic.Uint64

	mu     sync.Mutex
	run    *run
	closed bool
}

// New creates a session that synthesises through client and plays through
// opener.
func New(client backend.Client, opener audio.Opener, opts ...Option) *Session {
	s := &Session{
		client:      client,
		opener:      opener,
		guard:       NewGuard(DefaultGrace, DefaultMaxHold),
		threshold:   DefaultThreshold,
		concurrency: DefaultDownloadConcurrency,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.handler != nil {
		s.events = newDispatcher(s.handler)
	}
	return s
}

// Guard returns the session's transition guard.
func (s *Session) Guard() *Guard {
	return s.guard
}

// ─── Commands ─────────────────────────────────────────────────────────────────

// Play starts speaking text with voice, or resumes the current run when it
// was paused with the same text and voice. A different text or voice
// supersedes the current run.
//
// Play returns once the first unit has started playing. Errors after that
// point are reported through events and [Session.Status]. A failed
// progressive start falls back to standard mode before Play gives up.
func (s *Session) Play(ctx context.Context, text, voice string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	h, err := s.acquire(ctx, "play")
	if err != nil {
		return err
	}
	defer h.Release()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if old := s.run; old != nil && !old.torn {
		if old.text == text && old.voice == voice {
			switch old.state {
			case Paused:
				err := s.resumeLocked(old)
				s.mu.Unlock()
				return err
			case Playing, Loading:
				s.mu.Unlock()
				return nil
			}
		}
		s.log.Debug("playback: superseding run", "run", old.id)
		s.teardownLocked(old)
		s.setStateLocked(old, Stopped)
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:     uuid.NewString(),
		ctx:    rctx,
		cancel: cancel,
		text:   text,
		voice:  voice,
		mode:   SelectMode(text, s.threshold),
		state:  Idle,
		total:  1,
	}
	s.run = r
	if s.metrics != nil {
		s.metrics.ActivePlaybacks.Add(ctx, 1)
	}
	s.setStateLocked(r, Loading)
	s.mu.Unlock()

	s.log.Info("playback: run started", "run", r.id, "mode", r.mode.String(), "runes", utf8.RuneCountInString(text))

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := s.start(r); err != nil {
		return s.commandFailed(r, 0, err)
	}
	return nil
}

// Pause suspends the playing run. Pausing a paused run is a no-op.
func (s *Session) Pause() error {
	h, err := s.acquire(context.Background(), "pause")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.run
	switch {
	case s.closed:
		h.Release()
		return ErrClosed
	case r == nil || r.torn:
		h.Release()
		return ErrNotPlaying
	case r.state == Paused:
		h.Release()
		return nil
	case r.state != Playing:
		h.Release()
		return ErrNotPlaying
	}
	if r.track != nil {
		if err := r.track.Pause(); err != nil {
			h.Release()
			return &MediaError{Unit: r.active, Err: err}
		}
	}
	s.setStateLocked(r, Paused)
	h.ReleaseAfterGrace()
	return nil
}

// Resume continues a paused run. Resuming a playing run is a no-op.
func (s *Session) Resume() error {
	h, err := s.acquire(context.Background(), "resume")
	if err != nil {
		return err
	}
	defer h.Release()

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.run
	switch {
	case s.closed:
		return ErrClosed
	case r == nil || r.torn:
		return ErrNotPlaying
	case r.state == Playing:
		return nil
	case r.state != Paused:
		return ErrNotPlaying
	}
	return s.resumeLocked(r)
}

func (s *Session) resumeLocked(r *run) error {
	if r.track != nil {
		if err := r.track.Play(); err != nil {
			return &MediaError{Unit: r.active, Err: err}
		}
	}
	s.setStateLocked(r, Playing)
	return nil
}

// Stop ends the current run and releases its resources. Stopping an idle,
// stopped, or failed session is a no-op.
//
// A run still loading its first unit is stopped even though the Play that
// started it holds the transition guard; that Play then returns nil.
func (s *Session) Stop() error {
	h, ok := s.guard.TryAcquire()
	if !ok {
		if s.stopLoading() {
			return nil
		}
		return s.dropped(context.Background(), "stop")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.run
	if r == nil || r.torn {
		h.Release()
		return nil
	}
	s.teardownLocked(r)
	r.active = 0
	s.setStateLocked(r, Stopped)
	s.log.Info("playback: run stopped", "run", r.id)
	h.ReleaseAfterGrace()
	return nil
}

// stopLoading tears down the current run if it is Loading. Cancelling r.ctx
// makes the pending Play settle as stale.
func (s *Session) stopLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.run
	if s.closed || r == nil || r.torn || r.state != Loading {
		return false
	}
	s.teardownLocked(r)
	r.active = 0
	s.setStateLocked(r, Stopped)
	s.log.Info("playback: run stopped while loading", "run", r.id)
	return true
}

// Seek jumps to the first sentence of unit. A playing run keeps playing from
// there; a paused run stays paused at the new unit. In standard mode only
// unit 0 is valid, which restarts the track.
//
// A chunk load already in flight is not interrupted: Seek waits for it to
// settle, then loads unit on demand.
func (s *Session) Seek(ctx context.Context, unit int) error {
	h, err := s.acquire(ctx, "seek")
	if err != nil {
		return err
	}
	defer h.Release()

	s.mu.Lock()
	r := s.run
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case r == nil || r.torn || (r.state != Playing && r.state != Paused):
		s.mu.Unlock()
		return ErrNotPlaying
	case unit < 0 || unit >= r.total || (r.mode == Standard && unit != 0):
		s.mu.Unlock()
		return ErrSeekOutOfRange
	}
	r.gen++
	gen := r.gen
	s.closeTrackLocked(r)
	s.mu.Unlock()

	s.log.Debug("playback: seek", "run", r.id, "unit", unit)

	cctx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if r.mode == Progressive {
		if err := r.loader.Ensure(cctx, unit); err != nil {
			return s.commandFailed(r, gen, err)
		}
	}
	if err := s.startUnit(r, gen, unit); err != nil {
		return s.commandFailed(r, gen, err)
	}
	return nil
}

// Status returns a snapshot of the session. A session that never played
// reports Idle.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.run
	if r == nil {
		return Status{State: Idle, Sentence: -1}
	}
	st := Status{
		RunID:       r.id,
		Mode:        r.mode,
		State:       r.state,
		ActiveIndex: r.active,
		TotalUnits:  r.total,
		Sentence:    -1,
		Err:         r.err,
	}
	if r.sync != nil {
		_, st.Sentence = r.sync.Current()
		st.TotalSentences = r.sync.Total()
	}
	if r.mode == Progressive && r.loader != nil {
		st.Chunks = r.loader.Store().Chunks()
		st.ChunkLoading = r.loader.Store().Busy()
	}
	return st
}

// Err returns the error of the current run, if it failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.err
}

// Sentences returns the sentence map of unit in the current run.
func (s *Session) Sentences(unit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil || s.run.sync == nil {
		return nil
	}
	return s.run.sync.Sentences(unit)
}

// Close stops the current run, waits for background loads to finish, and
// delivers any pending events. Close is not guarded and is idempotent;
// commands issued afterwards return [ErrClosed].
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	r := s.run
	var loader *Loader
	if r != nil {
		loader = r.loader
		if !r.torn {
			s.teardownLocked(r)
			s.setStateLocked(r, Stopped)
		}
	}
	s.mu.Unlock()

	if loader != nil {
		loader.Wait()
	}
	if s.events != nil {
		s.events.close()
	}
	return nil
}

// acquire takes the transition guard for command.
func (s *Session) acquire(ctx context.Context, command string) (*Hold, error) {
	h, ok := s.guard.TryAcquire()
	if !ok {
		return nil, s.dropped(ctx, command)
	}
	return h, nil
}

func (s *Session) dropped(ctx context.Context, command string) error {
	s.log.Debug("playback: command dropped", "command", command)
	if s.metrics != nil {
		s.metrics.RecordGuardDrop(ctx, command)
	}
	return ErrCommandDropped
}

// commandFailed finishes a command whose asynchronous portion failed. The
// run fails unless it was superseded meanwhile.
func (s *Session) commandFailed(r *run, gen uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(err, errStale) || s.run != r || r.torn || r.gen != gen {
		if s.closed {
			return ErrClosed
		}
		return nil
	}
	s.failLocked(r, err)
	return err
}

// ─── Sequencing ───────────────────────────────────────────────────────────────

// start brings r from Loading to Playing its first unit.
func (s *Session) start(r *run) error {
	if r.mode == Progressive {
		err := s.startProgressive(r)
		if err == nil || errors.Is(err, errStale) || r.ctx.Err() != nil {
			return err
		}
		s.log.Warn("playback: progressive start failed, falling back to standard mode", "run", r.id, "err", err)

		s.mu.Lock()
		if s.run != r || r.torn {
			s.mu.Unlock()
			return errStale
		}
		s.closeTrackLocked(r)
		if r.loader != nil {
			r.loader.Store().Clear()
		}
		r.mode = Standard
		r.loader = nil
		r.sync = nil
		r.total = 1
		r.active = 0
		s.emitLocked(r, Event{Kind: Fallback, Err: err})
		s.mu.Unlock()
	}
	return s.startStandard(r)
}

func (s *Session) startStandard(r *run) error {
	a, err := s.client.Synthesize(r.ctx, r.text, r.voice)
	if err != nil {
		return fetchErr("synthesize", err)
	}
	if err := backend.CheckAudio("synthesize", a); err != nil {
		return err
	}

	s.mu.Lock()
	if s.run != r || r.torn {
		s.mu.Unlock()
		return errStale
	}
	r.audio = a
	r.sync = NewSynchronizer([]string{r.text})
	gen := r.gen
	s.mu.Unlock()

	return s.startUnit(r, gen, 0)
}

func (s *Session) startProgressive(r *run) error {
	var loader *Loader
	loader = NewLoader(r.ctx, s.client, r.text, r.voice,
		WithLoaderLogger(s.log.With("run", r.id)),
		WithLoaderMetrics(s.metrics),
		OnChunkLoaded(func(i int, text string) { s.chunkLoaded(r, loader, i, text) }),
	)
	info, err := loader.InitializeProgressiveLoading(r.ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.run != r || r.torn {
		s.mu.Unlock()
		return errStale
	}
	r.loader = loader
	r.total = info.TotalChunks
	r.sync = NewSynchronizer(loader.Store().Texts())
	gen := r.gen
	s.mu.Unlock()

	s.log.Debug("playback: chunk plan negotiated", "run", r.id, "chunks", info.TotalChunks)

	if err := loader.Ensure(r.ctx, 0); err != nil {
		return err
	}
	return s.startUnit(r, gen, 0)
}

// startUnit opens the loaded audio of unit and attaches it as the current
// track. The track plays unless the run is paused.
func (s *Session) startUnit(r *run, gen uint64, unit int) error {
	s.mu.Lock()
	if s.run != r || r.torn || r.gen != gen {
		s.mu.Unlock()
		return errStale
	}
	var (
		a  backend.Audio
		ok bool
	)
	if r.mode == Standard {
		a, ok = r.audio, len(r.audio.Data) > 0
	} else {
		a, ok = r.loader.Store().Audio(unit)
	}
	s.mu.Unlock()
	if !ok {
		return errStale
	}

	seq := s.seq.Add(1)
	tr, err := s.opener.Open(a.Data, a.ContentType, s.trackEvents(r, seq, unit))
	if err != nil {
		return &MediaError{Unit: unit, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r || r.torn || r.gen != gen {
		_ = tr.Close()
		return errStale
	}
	r.track, r.trackSeq, r.active = tr, seq, unit
	if r.state != Paused {
		if err := tr.Play(); err != nil {
			s.closeTrackLocked(r)
			return &MediaError{Unit: unit, Err: err}
		}
		s.setStateLocked(r, Playing)
	}

	text := r.text
	if r.mode == Progressive {
		if info, ok := r.loader.Store().Chunk(unit); ok {
			text = info.Text
		}
	}
	s.emitLocked(r, Event{Kind: UnitStarted, Unit: unit, Text: text})
	if idx, changed := r.sync.Reset(unit); changed {
		s.emitSentenceLocked(r, unit, idx)
	}
	return nil
}

func (s *Session) trackEvents(r *run, seq uint64, unit int) audio.Events {
	return audio.Events{
		OnTime: func(pos, dur time.Duration) { s.onTime(r, seq, unit, pos, dur) },
		// Ended and error handlers close the track, which must not happen on
		// the track's own callback.
		OnEnded: func() { go s.onEnded(r, seq, unit) },
		OnError: func(err error) { go s.onError(r, seq, unit, err) },
	}
}

func (s *Session) currentLocked(r *run, seq uint64) bool {
	return s.run == r && !r.torn && r.trackSeq == seq
}

func (s *Session) onTime(r *run, seq uint64, unit int, pos, dur time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(r, seq) {
		return
	}
	if idx, changed := r.sync.Update(unit, pos, dur); changed {
		s.emitSentenceLocked(r, unit, idx)
	}
}

func (s *Session) onEnded(r *run, seq uint64, unit int) {
	s.mu.Lock()
	if !s.currentLocked(r, seq) {
		s.mu.Unlock()
		return
	}
	s.closeTrackLocked(r)

	next := unit + 1
	if r.mode == Standard || next >= r.total {
		s.teardownLocked(r)
		r.active = 0
		s.setStateLocked(r, Stopped)
		s.emitLocked(r, Event{Kind: Completed})
		s.log.Info("playback: run completed", "run", r.id, "units", r.total)
		s.mu.Unlock()
		return
	}
	gen := r.gen
	s.mu.Unlock()

	s.advance(r, gen, next)
}

// advance moves r to unit next after the previous unit ended. The next
// chunk is loaded first when it is not already Loaded.
func (s *Session) advance(r *run, gen uint64, next int) {
	err := r.loader.Ensure(r.ctx, next)
	if err == nil {
		err = s.startUnit(r, gen, next)
	}
	if err == nil || errors.Is(err, errStale) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r || r.torn || r.gen != gen {
		return
	}
	s.failLocked(r, err)
}

func (s *Session) onError(r *run, seq uint64, unit int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(r, seq) {
		return
	}
	s.failLocked(r, &MediaError{Unit: unit, Err: err})
}

func (s *Session) chunkLoaded(r *run, l *Loader, i int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r || r.torn || r.loader != l {
		return
	}
	if n := l.Store().Len(); n > r.total {
		r.total = n
	}
	if r.sync != nil && text != "" {
		r.sync.SetUnitText(i, text)
	}
	s.emitLocked(r, Event{Kind: ChunkReady, Unit: i, Text: text})
}

// ─── State ────────────────────────────────────────────────────────────────────

func (s *Session) setStateLocked(r *run, st State) {
	if r.state == st {
		return
	}
	r.state = st
	if s.metrics != nil {
		s.metrics.RecordTransition(context.Background(), st.String())
	}
	s.emitLocked(r, Event{Kind: StateChanged, State: st})
}

func (s *Session) failLocked(r *run, err error) {
	r.err = err
	s.teardownLocked(r)
	s.setStateLocked(r, Errored)
	s.emitLocked(r, Event{Kind: Failed, Err: err})
	s.log.Error("playback: run failed", "run", r.id, "unit", r.active, "err", err)
}

// teardownLocked releases every resource of r. Late callbacks and load
// results for r become no-ops. The standard mode payload is kept so the run
// can still be downloaded.
func (s *Session) teardownLocked(r *run) {
	if r.torn {
		return
	}
	r.torn = true
	r.cancel()
	s.closeTrackLocked(r)
	if r.loader != nil {
		r.loader.Store().Clear()
	}
	if s.metrics != nil {
		s.metrics.ActivePlaybacks.Add(context.Background(), -1)
	}
}

func (s *Session) closeTrackLocked(r *run) {
	if r.track == nil {
		return
	}
	if err := r.track.Close(); err != nil {
		s.log.Debug("playback: close track", "run", r.id, "err", err)
	}
	r.track = nil
	r.trackSeq = 0
}

func (s *Session) emitLocked(r *run, ev Event) {
	if s.events == nil {
		return
	}
	ev.RunID = r.id
	if ev.Kind != StateChanged {
		ev.State = r.state
	}
	s.events.emit(ev)
}

func (s *Session) emitSentenceLocked(r *run, unit, idx int) {
	text := ""
	if sentences := r.sync.Sentences(unit); len(sentences) > 0 {
		if local := idx - r.sync.Offset(unit); local >= 0 && local < len(sentences) {
			text = sentences[local]
		}
	}
	s.emitLocked(r, Event{Kind: SentenceChanged, Unit: unit, Sentence: idx, Text: text})
}
