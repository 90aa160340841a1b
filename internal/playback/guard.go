package playback

import (
	"sync"
	"time"
)

// Default guard timings.
const (
	DefaultGrace   = 300 * time.Millisecond
	DefaultMaxHold = 10 * time.Second
)

// Guard is the transition guard of a session: an exclusive flag held by at
// most one command at a time. Commands that fail to acquire it are dropped,
// not queued.
//
// Every hold is bounded by a max-hold timer, so a command that never settles
// cannot wedge the session.
type Guard struct {
	grace   time.Duration
	maxHold time.Duration

	mu    sync.Mutex
	token uint64
	held  bool
}

// NewGuard returns a guard that releases grace-period holds after grace and
// force-releases any hold after maxHold. Non-positive durations select the
// defaults.
func NewGuard(grace, maxHold time.Duration) *Guard {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if maxHold <= 0 {
		maxHold = DefaultMaxHold
	}
	return &Guard{grace: grace, maxHold: maxHold}
}

// TryAcquire takes the guard. ok is false when another command holds it.
func (g *Guard) TryAcquire() (h *Hold, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return nil, false
	}
	g.token++
	g.held = true
	h = &Hold{g: g, token: g.token}
	h.timer = time.AfterFunc(g.maxHold, h.Release)
	return h, true
}

// Held reports whether a command currently holds the guard.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Hold is one acquisition of a [Guard].
type Hold struct {
	g     *Guard
	token uint64
	once  sync.Once
	timer *time.Timer
}

// Release gives the guard back. Only the first call has an effect, and a hold
// that was already force-released by the max-hold timer does not disturb a
// later holder.
func (h *Hold) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.g.mu.Lock()
		defer h.g.mu.Unlock()
		h.timer.Stop()
		if h.g.token == h.token {
			h.g.held = false
		}
	})
}

// ReleaseAfterGrace releases the hold once the guard's grace period has
// elapsed.
func (h *Hold) ReleaseAfterGrace() {
	if h == nil {
		return
	}
	time.AfterFunc(h.g.grace, h.Release)
}
