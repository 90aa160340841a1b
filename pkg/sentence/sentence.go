// Package sentence splits text into sentence-like units and packs those units
// into size-bounded chunks.
//
// A sentence ends at a '.', '!' or '?' that is either the last character of the
// input or immediately followed by whitespace. This keeps abbreviations such as
// "Dr.Smith" and decimals such as "3.14" intact. The functions in this package
// are pure: they hold no state and always produce the same output for the same
// input.
package sentence

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// isTerminator reports whether r ends a sentence when followed by whitespace.
func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Split returns the ordered, non-empty sentences of text. Each sentence is
// trimmed of surrounding whitespace. Trailing text without a terminator is
// returned as the final sentence.
//
// Split is idempotent with respect to joining: for any text,
// Split(strings.Join(Split(text), " ")) equals Split(text).
func Split(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if !isTerminator(r) {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next < len(text) {
			nr, _ := utf8.DecodeRuneInString(text[next:])
			if !unicode.IsSpace(nr) {
				continue
			}
		}
		if s := strings.TrimSpace(text[start:next]); s != "" {
			out = append(out, s)
		}
		start = next
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Pack groups the sentences of text into chunks of at most maxRunes runes.
// Sentences are packed greedily in order and joined with a single space. A
// sentence longer than maxRunes is broken at whitespace, and a single word
// longer than maxRunes is broken at the rune limit.
//
// The result is deterministic, so chunk i of a given text is stable across
// calls. A non-positive maxRunes places every sentence in its own chunk.
// Blank text yields nil.
func Pack(text string, maxRunes int) []string {
	sentences := Split(text)
	if len(sentences) == 0 {
		return nil
	}
	if maxRunes <= 0 {
		return sentences
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	add := func(piece string, n int) {
		if curLen > 0 && curLen+1+n > maxRunes {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(piece)
		curLen += n
	}

	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if n <= maxRunes {
			add(s, n)
			continue
		}
		for _, piece := range splitLong(s, maxRunes) {
			add(piece, utf8.RuneCountInString(piece))
		}
	}
	flush()
	return chunks
}

// splitLong breaks s at whitespace into pieces of at most maxRunes runes.
// Words that alone exceed maxRunes are cut at the rune limit.
func splitLong(s string, maxRunes int) []string {
	var (
		pieces []string
		cur    strings.Builder
		curLen int
	)
	for _, word := range strings.Fields(s) {
		for utf8.RuneCountInString(word) > maxRunes {
			if curLen > 0 {
				pieces = append(pieces, cur.String())
				cur.Reset()
				curLen = 0
			}
			head, tail := cutRunes(word, maxRunes)
			pieces = append(pieces, head)
			word = tail
		}
		n := utf8.RuneCountInString(word)
		if n == 0 {
			continue
		}
		if curLen > 0 && curLen+1+n > maxRunes {
			pieces = append(pieces, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += n
	}
	if curLen > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}

// cutRunes splits s after the first n runes.
func cutRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
