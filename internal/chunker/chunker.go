// Package chunker splits extracted document text into overlapping,
// boundary-aware segments sized for embedding.
package chunker

import "strings"

const (
	// DefaultMaxChars is the default window size in characters.
	DefaultMaxChars = 2000
	// DefaultOverlap is how far each window reaches back into the previous one.
	DefaultOverlap = 200
)

// Split cuts text into windows of at most maxChars characters. When a window
// boundary falls inside the text, the cut prefers the last period, newline or
// space in the back half of the window, keeping the delimiter with the
// preceding chunk. Each window starts overlap characters before the previous
// window's end. Chunks are trimmed of surrounding whitespace; chunks that trim
// to nothing are dropped.
//
// Split is a pure function: identical arguments always produce identical
// output. Overlap is clamped below maxChars so the loop always advances.
func Split(text string, maxChars, overlap int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxChars {
		overlap = maxChars - 1
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []string
	start := 0
	for start < n {
		end := start + maxChars
		if end < n {
			if cut := lastBreak(runes, start, end); cut > start+maxChars/2 {
				end = cut + 1 // keep the delimiter with this chunk
			}
		}

		// end stays past n for the final window so the start advance below
		// keeps its stride; only the slice is clamped.
		if chunk := strings.TrimSpace(string(runes[start:min(end, n)])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		start = end - overlap
		if start >= n {
			break
		}
		if start <= end-maxChars {
			// Overlap would rewind to or before the previous window start;
			// jump to the window end so the loop terminates.
			start = end
		}
	}

	return chunks
}

// lastBreak returns the position of the last period, newline or space at or
// before end, or -1 when the range holds none.
func lastBreak(runes []rune, start, end int) int {
	if end > len(runes)-1 {
		end = len(runes) - 1
	}
	for i := end; i > start; i-- {
		switch runes[i] {
		case '.', '\n', ' ':
			return i
		}
	}
	return -1
}
