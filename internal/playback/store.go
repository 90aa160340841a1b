package playback

import (
	"sync"
	"sync/atomic"

	"github.com/MrWong99/readaloud/pkg/backend"
)

// ChunkInfo is a snapshot of one chunk in a [Store].
type ChunkInfo struct {
	Index int
	Text  string
	State ChunkState
	Size  int
	Err   error
}

type chunk struct {
	text  string
	state ChunkState
	audio backend.Audio
	err   error

	// done is non-nil while the chunk is Loading and is closed when that
	// load settles.
	done chan struct{}
}

// Store is the chunk arena of one progressive run. Chunks are addressed by
// index. A separate loader-busy flag makes the playback loader single-flight
// across all chunks; download assembly loads chunks without taking it.
//
// A Store is safe for concurrent use.
type Store struct {
	busy atomic.Bool

	mu     sync.Mutex
	chunks []chunk

	// busyDone is closed when the load holding the busy flag settles.
	busyDone chan struct{}
}

// NewStore returns a store with one Pending chunk per text.
func NewStore(texts []string) *Store {
	s := &Store{chunks: make([]chunk, len(texts))}
	for i, t := range texts {
		s.chunks[i].text = t
	}
	return s
}

// Len returns the number of chunks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Busy reports whether the playback loader has a load in flight.
func (s *Store) Busy() bool { return s.busy.Load() }

// State returns the state of chunk i. Out-of-range indices report Pending.
func (s *Store) State(i int) ChunkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.chunks) {
		return ChunkPending
	}
	return s.chunks[i].state
}

// Chunk returns a snapshot of chunk i.
func (s *Store) Chunk(i int) (ChunkInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.chunks) {
		return ChunkInfo{}, false
	}
	c := s.chunks[i]
	return ChunkInfo{Index: i, Text: c.text, State: c.state, Size: len(c.audio.Data), Err: c.err}, true
}

// Texts returns the source text of every chunk in index order.
func (s *Store) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = c.text
	}
	return out
}

// Audio returns the payload of chunk i if it is Loaded.
func (s *Store) Audio(i int) (backend.Audio, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.chunks) || s.chunks[i].state != ChunkLoaded {
		return backend.Audio{}, false
	}
	return s.chunks[i].audio, true
}

// Clear drops every payload and returns Loaded and Error chunks to Pending.
// Loads in flight are left to settle.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chunks {
		c := &s.chunks[i]
		c.audio = backend.Audio{}
		c.err = nil
		if c.state != ChunkLoading {
			c.state = ChunkPending
		}
	}
}

// acquire takes the loader-busy flag and marks chunk i Loading. It fails when
// the loader is busy or chunk i is Loaded or Loading.
func (s *Store) acquire(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.chunks) {
		return false
	}
	if st := s.chunks[i].state; st == ChunkLoaded || st == ChunkLoading {
		return false
	}
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	s.busyDone = make(chan struct{})
	s.chunks[i].state = ChunkLoading
	s.chunks[i].done = make(chan struct{})
	return true
}

// begin marks chunk i Loading without touching the busy flag.
func (s *Store) begin(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.chunks) {
		return false
	}
	if st := s.chunks[i].state; st == ChunkLoaded || st == ChunkLoading {
		return false
	}
	s.chunks[i].state = ChunkLoading
	s.chunks[i].done = make(chan struct{})
	return true
}

// settle records the outcome of a load of chunk i started by acquire (busy
// true) or begin (busy false). On success the chunk count and text reported
// alongside the payload are recorded; the arena grows but never shrinks.
func (s *Store) settle(i int, ch backend.Chunk, err error, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && ch.Total > len(s.chunks) {
		s.chunks = append(s.chunks, make([]chunk, ch.Total-len(s.chunks))...)
	}
	c := &s.chunks[i]
	if err != nil {
		c.state = ChunkError
		c.err = err
	} else {
		c.state = ChunkLoaded
		c.audio = ch.Audio
		c.err = nil
		if ch.Text != "" {
			c.text = ch.Text
		}
	}
	s.finishLocked(c, busy)
}

// abandon returns a Loading chunk to Pending without recording a result.
func (s *Store) abandon(i int, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &s.chunks[i]
	c.state = ChunkPending
	s.finishLocked(c, busy)
}

func (s *Store) finishLocked(c *chunk, busy bool) {
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if busy {
		if s.busyDone != nil {
			close(s.busyDone)
			s.busyDone = nil
		}
		s.busy.Store(false)
	}
}

// status reports the state of chunk i together with the channel to wait on
// while it is Loading, and the channel to wait on while the busy loader is
// working on some chunk.
func (s *Store) status(i int) (st ChunkState, done, busyDone <-chan struct{}, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chunks[i]
	return c.state, c.done, s.busyDone, c.err
}

// Chunks returns a snapshot of every chunk in index order.
func (s *Store) Chunks() []ChunkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChunkInfo, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = ChunkInfo{Index: i, Text: c.text, State: c.state, Size: len(c.audio.Data), Err: c.err}
	}
	return out
}
