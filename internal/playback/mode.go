package playback

import "unicode/utf8"

// DefaultThreshold is the text length, in runes, above which playback
// switches to progressive mode.
const DefaultThreshold = 500

// Mode is the playback strategy of a run.
type Mode int

const (
	// Standard renders the whole input with one synthesis call and plays it as
	// a single track.
	Standard Mode = iota

	// Progressive splits the input into chunks that are fetched and played in
	// sequence, so audio starts before the whole input is synthesised.
	Progressive
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Standard:
		return "standard"
	case Progressive:
		return "progressive"
	default:
		return "unknown"
	}
}

// SelectMode returns Progressive when text is longer than threshold runes and
// Standard otherwise. A non-positive threshold selects [DefaultThreshold].
func SelectMode(text string, threshold int) Mode {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if utf8.RuneCountInString(text) > threshold {
		return Progressive
	}
	return Standard
}
