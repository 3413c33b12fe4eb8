// Package chunker splits cleaned document text into ordered, overlapping
// windows. Windows prefer paragraph and sentence boundaries and fall back to
// hard splits when no boundary lands inside the window. Adjacent windows share
// an overlap region taken verbatim from the previous window's tail, so a fact
// spanning a window edge is never lost to either side.
package chunker

import "strings"

const (
	defaultSize    = 1000
	defaultOverlap = 200
)

// Chunk is one window of the input. Start and End are rune offsets into the
// original text and Text is exactly the input between them.
type Chunk struct {
	Ordinal int
	Start   int
	End     int
	Text    string
}

type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = defaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split windows the text. Empty or whitespace-only input yields zero chunks.
// The windows are contiguous and cover the whole input: each window begins
// exactly `overlap` runes before the previous one ended (or at the previous
// end when the previous window was shorter than the overlap).
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToBoundary(runes, start, end)
		}

		chunks = append(chunks, Chunk{
			Ordinal: len(chunks),
			Start:   start,
			End:     end,
			Text:    string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// snapToBoundary moves end back to the latest paragraph or sentence boundary
// inside the window's second half. When none exists the hard position is kept.
func snapToBoundary(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for i := end; i > floor; i-- {
		if isBoundary(runes, i) {
			return i
		}
	}
	return end
}

// isBoundary reports whether position i is just after a paragraph break or a
// sentence terminator followed by whitespace.
func isBoundary(runes []rune, i int) bool {
	if i <= 0 || i >= len(runes) {
		return false
	}
	if runes[i-1] == '\n' {
		return true
	}
	switch runes[i-1] {
	case '.', '!', '?':
		return runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t'
	}
	return false
}
