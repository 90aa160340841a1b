package sentence_test

import (
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/readaloud/pkg/sentence"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: nil},
		{name: "whitespace only", text: "  \n\t ", want: nil},
		{name: "single without terminator", text: "hello world", want: []string{"hello world"}},
		{name: "single with terminator", text: "Hello world.", want: []string{"Hello world."}},
		{
			name: "mixed terminators",
			text: "Is it? Yes! It is. Done",
			want: []string{"Is it?", "Yes!", "It is.", "Done"},
		},
		{
			name: "decimal and abbreviation kept",
			text: "Pi is 3.14 roughly. Ask Dr.Smith now.",
			want: []string{"Pi is 3.14 roughly.", "Ask Dr.Smith now."},
		},
		{
			name: "newline counts as whitespace",
			text: "First line.\nSecond line.",
			want: []string{"First line.", "Second line."},
		},
		{
			name: "ellipsis",
			text: "Wait... what? Okay.",
			want: []string{"Wait...", "what?", "Okay."},
		},
		{
			name: "stray terminators kept as units",
			text: "A. . ! B.",
			want: []string{"A.", ".", "!", "B."},
		},
		{
			name: "unicode text",
			text: "Grüße aus München. Schön!",
			want: []string{"Grüße aus München.", "Schön!"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := sentence.Split(tc.text)
			if !slices.Equal(got, tc.want) {
				t.Errorf("Split(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestSplit_IdempotentOnJoin(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"One. Two! Three? Four",
		"  leading space.   trailing space.  ",
		"No terminator at all",
		"Version 1.2.3 shipped. Next is 2.0!",
		"Multi\n\nline.\tTabbed? Yes.",
	}
	for _, in := range inputs {
		first := sentence.Split(in)
		second := sentence.Split(strings.Join(first, " "))
		if !slices.Equal(first, second) {
			t.Errorf("re-split of %q changed: %q -> %q", in, first, second)
		}
	}
}

func TestPack_RespectsLimit(t *testing.T) {
	t.Parallel()

	// 12 sentences of 99 runes each, 1200 runes when joined.
	s := strings.Repeat("x", 98) + "."
	parts := make([]string, 12)
	for i := range parts {
		parts[i] = s
	}
	text := strings.Join(parts, " ")

	chunks := sentence.Pack(text, 500)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 500 {
			t.Errorf("chunk %d has %d runes, exceeds 500", i, n)
		}
	}
	if got := strings.Join(chunks, " "); got != text {
		t.Error("joined chunks do not reproduce the normalised input")
	}
}

func TestPack_LongSentenceSplitAtWhitespace(t *testing.T) {
	t.Parallel()

	text := "alpha beta gamma delta epsilon."
	chunks := sentence.Pack(text, 11)
	want := []string{"alpha beta", "gamma delta", "epsilon."}
	if !slices.Equal(chunks, want) {
		t.Errorf("Pack = %q, want %q", chunks, want)
	}
}

func TestPack_OverlongWordCut(t *testing.T) {
	t.Parallel()

	chunks := sentence.Pack("abcdefghij", 4)
	want := []string{"abcd", "efgh", "ij"}
	if !slices.Equal(chunks, want) {
		t.Errorf("Pack = %q, want %q", chunks, want)
	}
}

func TestPack_Deterministic(t *testing.T) {
	t.Parallel()

	text := "The quick brown fox. Jumps over the lazy dog! Again? And again."
	a := sentence.Pack(text, 25)
	b := sentence.Pack(text, 25)
	if !slices.Equal(a, b) {
		t.Errorf("Pack not deterministic: %q vs %q", a, b)
	}
}

func TestPack_Blank(t *testing.T) {
	t.Parallel()
	if got := sentence.Pack("   ", 10); got != nil {
		t.Errorf("Pack(blank) = %q, want nil", got)
	}
}

func TestPack_NonPositiveLimit(t *testing.T) {
	t.Parallel()
	got := sentence.Pack("A. B.", 0)
	if !slices.Equal(got, []string{"A.", "B."}) {
		t.Errorf("Pack(limit 0) = %q", got)
	}
}
