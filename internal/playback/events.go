package playback

import "sync"

// EventKind identifies the kind of an [Event].
type EventKind int

const (
	// StateChanged reports a new run state in Event.State.
	StateChanged EventKind = iota

	// UnitStarted reports that unit Event.Unit began (or resumed after a
	// seek) with source text Event.Text.
	UnitStarted

	// SentenceChanged reports the global index of the sentence now spoken in
	// Event.Sentence and its text in Event.Text.
	SentenceChanged

	// ChunkReady reports that chunk Event.Unit finished loading.
	ChunkReady

	// Fallback reports that progressive start failed with Event.Err and the
	// run continues in standard mode.
	Fallback

	// Completed reports that the last unit finished playing.
	Completed

	// Failed reports that the run ended with Event.Err.
	Failed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case StateChanged:
		return "state_changed"
	case UnitStarted:
		return "unit_started"
	case SentenceChanged:
		return "sentence_changed"
	case ChunkReady:
		return "chunk_ready"
	case Fallback:
		return "fallback"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a notification emitted by a [Session]. Fields not relevant to Kind
// are zero.
type Event struct {
	Kind     EventKind
	RunID    string
	State    State
	Unit     int
	Sentence int
	Text     string
	Err      error
}

// dispatcher delivers events to a handler on a dedicated goroutine, in the
// order they were emitted. emit never blocks, so it may be called with the
// session lock held.
type dispatcher struct {
	handler func(Event)

	mu    sync.Mutex
	queue []Event

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func newDispatcher(handler func(Event)) *dispatcher {
	d := &dispatcher{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.stopped)
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		q := d.queue
		d.queue = nil
		d.mu.Unlock()
		if len(q) == 0 {
			return
		}
		for _, ev := range q {
			d.handler(ev)
		}
	}
}

// close delivers every queued event and stops the goroutine.
func (d *dispatcher) close() {
	close(d.done)
	<-d.stopped
}
