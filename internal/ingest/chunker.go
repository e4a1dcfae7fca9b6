// Package ingest turns extracted documents into persisted, retrievable chunks.
package ingest

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/squarest/notebook/internal/extract"
	"github.com/squarest/notebook/internal/models"
)

// Chunker splits normalized text into overlapping character windows. Window
// starts and ends are snapped to sentence or line boundaries when one exists
// within the overlap tolerance, so chunks read as whole sentences where the
// text allows it.
type Chunker struct {
	size    int     // characters per chunk
	overlap float64 // fraction of size shared with the previous chunk, 0.0-1.0
}

// NewChunker creates a chunker. size must be positive; overlap is clamped to
// [0, 0.9] so consecutive chunks always make forward progress.
func NewChunker(size int, overlap float64) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > 0.9 {
		overlap = 0.9
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits res.Text into ordered chunks for sourceID. Sequence indices are
// contiguous from 0; each chunk carries the locator of its start offset. Text
// shorter than the chunk size yields exactly one chunk; empty text yields nil.
func (c *Chunker) Chunk(sourceID string, res *extract.Result) []*models.Chunk {
	text := res.Text
	if strings.TrimSpace(text) == "" {
		return nil
	}

	step := int(float64(c.size) * (1 - c.overlap))
	if step < 1 {
		step = 1
	}
	tolerance := c.size - step // the overlap window, in characters

	boundaries := sentenceBoundaries(text)
	starts := []int{0}
	for {
		prev := starts[len(starts)-1]
		if prev+c.size >= len(text) {
			break
		}
		next := snapToBoundary(prev+step, boundaries, tolerance)
		if next <= prev {
			next = prev + step
		}
		// Hard cuts are byte offsets and may land inside a multi-byte rune;
		// pull back to the rune start so chunk content stays valid UTF-8.
		next = runeStart(text, next)
		if next <= prev {
			_, width := utf8.DecodeRuneInString(text[prev:])
			next = prev + width
		}
		if next >= len(text) {
			break
		}
		starts = append(starts, next)
	}

	chunks := make([]*models.Chunk, 0, len(starts))
	for i, start := range starts {
		end := start + c.size
		if end > len(text) {
			end = len(text)
		} else if i+1 < len(starts) {
			// Prefer ending on a sentence boundary, but never before the next
			// chunk's start or the coverage guarantee breaks.
			if snapped := snapToBoundary(end, boundaries, tolerance); snapped >= starts[i+1] && snapped <= start+c.size {
				end = snapped
			}
			end = runeStart(text, end)
			if end < starts[i+1] {
				end = starts[i+1]
			}
		}
		chunks = append(chunks, &models.Chunk{
			ID:       uuid.New().String(),
			SourceID: sourceID,
			Seq:      i,
			Content:  text[start:end],
			Locator:  res.LocatorAt(start),
		})
	}
	return chunks
}

// sentenceBoundaries returns sorted offsets where a new sentence or line
// begins: after terminal punctuation followed by whitespace, and after each
// newline.
func sentenceBoundaries(text string) []int {
	var out []int
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			if i+1 < len(text) {
				out = append(out, i+1)
			}
		case '.', '!', '?':
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
				j++
			}
			if j > i+1 && j < len(text) {
				out = append(out, j)
			}
		}
	}
	sort.Ints(out)
	return out
}

// runeStart returns the largest offset at or before i that begins a rune.
// Sentence boundaries always follow ASCII bytes, so only hard cuts need this.
func runeStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// snapToBoundary returns the boundary closest to target within ±tolerance, or
// target itself when none qualifies (hard cut).
func snapToBoundary(target int, boundaries []int, tolerance int) int {
	if tolerance <= 0 || len(boundaries) == 0 {
		return target
	}
	i := sort.SearchInts(boundaries, target)
	best, bestDist := target, tolerance+1
	if i < len(boundaries) {
		if d := boundaries[i] - target; d < bestDist {
			best, bestDist = boundaries[i], d
		}
	}
	if i > 0 {
		if d := target - boundaries[i-1]; d < bestDist {
			best = boundaries[i-1]
		}
	}
	return best
}
