package playback

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/readaloud/pkg/sentence"
)

// SentenceIndex maps a playback position within a unit of n sentences to the
// sentence being spoken: floor(pos/dur * n), clamped to [0, n-1]. A
// non-positive dur is treated as one second. It returns 0 when n is 0.
func SentenceIndex(n int, pos, dur time.Duration) int {
	if n <= 0 {
		return 0
	}
	if dur <= 0 {
		dur = time.Second
	}
	if pos < 0 {
		pos = 0
	}
	idx := int(float64(pos) / float64(dur) * float64(n))
	return min(max(idx, 0), n-1)
}

// Synchronizer tracks the global index of the sentence currently spoken across
// the units of a run. Each unit has its own sentence map; the global index of
// a sentence is the number of sentences in all earlier units plus its index
// within its unit.
//
// Sentence maps are replaced, never mutated, so readers may keep the slices
// returned by [Synchronizer.Sentences].
type Synchronizer struct {
	mu    sync.Mutex
	units [][]string
	unit  int
	index int
}

// NewSynchronizer returns a synchronizer for units whose source texts are
// texts, in order. The current index starts at -1 so the first update always
// reports a change.
func NewSynchronizer(texts []string) *Synchronizer {
	s := &Synchronizer{units: make([][]string, len(texts)), index: -1}
	for i, t := range texts {
		s.units[i] = sentence.Split(t)
	}
	return s
}

// SetUnitText recomputes the sentence map of unit from text. Units beyond the
// current count are added.
func (s *Synchronizer) SetUnitText(unit int, text string) {
	if unit < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	units := s.units
	if unit >= len(units) {
		units = append(slices.Clone(units), make([][]string, unit+1-len(units))...)
	} else {
		units = slices.Clone(units)
	}
	units[unit] = sentence.Split(text)
	s.units = units
}

// Offset returns the global index of the first sentence of unit.
func (s *Synchronizer) Offset(unit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsetLocked(unit)
}

func (s *Synchronizer) offsetLocked(unit int) int {
	n := 0
	for i := 0; i < unit && i < len(s.units); i++ {
		n += len(s.units[i])
	}
	return n
}

// Sentences returns the sentence map of unit.
func (s *Synchronizer) Sentences(unit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unit < 0 || unit >= len(s.units) {
		return nil
	}
	return s.units[unit]
}

// Update records a position update for unit and returns the global sentence
// index. changed is false when the index is the same as the last one
// recorded, or when unit has no sentences.
func (s *Synchronizer) Update(unit int, pos, dur time.Duration) (index int, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unit < 0 || unit >= len(s.units) || len(s.units[unit]) == 0 {
		return s.index, false
	}
	return s.setLocked(unit, s.offsetLocked(unit)+SentenceIndex(len(s.units[unit]), pos, dur))
}

// Reset moves the current position to the first sentence of unit.
func (s *Synchronizer) Reset(unit int) (index int, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unit < 0 || unit >= len(s.units) || len(s.units[unit]) == 0 {
		s.unit = max(unit, 0)
		return s.index, false
	}
	return s.setLocked(unit, s.offsetLocked(unit))
}

func (s *Synchronizer) setLocked(unit, idx int) (int, bool) {
	s.unit = unit
	if idx == s.index {
		return idx, false
	}
	s.index = idx
	return idx, true
}

// Current returns the active unit and the global sentence index. The index
// is -1 before the first update.
func (s *Synchronizer) Current() (unit, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unit, s.index
}

// Total returns the number of sentences across all units.
func (s *Synchronizer) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsetLocked(len(s.units))
}
