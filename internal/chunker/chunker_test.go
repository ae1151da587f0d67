package chunker

import (
	"strings"
	"testing"
)

func TestSplit_Empty(t *testing.T) {
	if got := Split("", 2000, 200); got != nil {
		t.Errorf("expected nil for empty text, got %v", got)
	}
	if got := Split("   \n\t  ", 2000, 200); got != nil {
		t.Errorf("expected nil for whitespace-only text, got %v", got)
	}
}

func TestSplit_ShortText(t *testing.T) {
	got := Split("hello world", 2000, 200)
	if len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("expected single chunk, got %v", got)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 500)
	first := Split(text, 2000, 200)
	for i := 0; i < 3; i++ {
		again := Split(text, 2000, 200)
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d chunks, first run produced %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d chunk %d differs", i, j)
			}
		}
	}
}

func TestSplit_BoundaryPrefersPeriod(t *testing.T) {
	// A period at maxChars-10, everything else plain letters: the cut must
	// land on the period, not mid-word at maxChars.
	const maxChars = 2000
	text := strings.Repeat("a", maxChars-11) + "." + strings.Repeat("b", maxChars)

	chunks := Split(text, maxChars, 200)
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Errorf("first chunk should end at the period, got suffix %q", chunks[0][len(chunks[0])-10:])
	}
	if len(chunks[0]) != maxChars-10 {
		t.Errorf("first chunk length = %d, want %d", len(chunks[0]), maxChars-10)
	}
}

func TestSplit_ForcedCutWithoutDelimiters(t *testing.T) {
	// Adversarial input: one repeated character, no break candidates at all.
	const maxChars = 100
	text := strings.Repeat("x", 10*maxChars)

	chunks := Split(text, maxChars, 20)
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	for i, c := range chunks {
		if len(c) > maxChars {
			t.Errorf("chunk %d has length %d, want <= %d", i, len(c), maxChars)
		}
	}
	// Windows advance by maxChars-overlap, so all input must be covered.
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total < len(text) {
		t.Errorf("chunks cover %d chars, input has %d", total, len(text))
	}
}

func TestSplit_OverlapCarriesContext(t *testing.T) {
	// 4500 identical filler chars with maxChars=2000, overlap=200: windows are
	// [0,2000), [1800,3800), [3600,4500).
	text := strings.Repeat("z", 4500)

	chunks := Split(text, 2000, 200)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	wantLens := []int{2000, 2000, 900}
	for i, want := range wantLens {
		if len(chunks[i]) != want {
			t.Errorf("chunk %d length = %d, want %d", i, len(chunks[i]), want)
		}
	}
}

func TestSplit_OverlapClamped(t *testing.T) {
	// Overlap >= maxChars would never advance; it must be clamped, not loop.
	text := strings.Repeat("y", 500)
	chunks := Split(text, 100, 100)
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d has length %d, want <= 100", i, len(c))
		}
	}
}

func TestSplit_TrimsWhitespace(t *testing.T) {
	chunks := Split("  leading and trailing  ", 2000, 200)
	if len(chunks) != 1 || chunks[0] != "leading and trailing" {
		t.Fatalf("expected trimmed chunk, got %v", chunks)
	}
}

func TestSplit_MultibyteSafe(t *testing.T) {
	// Forced cuts must not split a rune in half.
	text := strings.Repeat("héllo wörld façade ", 300)
	chunks := Split(text, 100, 10)
	for i, c := range chunks {
		if !strings.Contains(text, c) {
			t.Errorf("chunk %d is not a substring of the input (rune split?)", i)
		}
	}
}
