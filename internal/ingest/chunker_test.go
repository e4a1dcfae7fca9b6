package ingest

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/squarest/notebook/internal/extract"
)

func TestChunk_empty(t *testing.T) {
	c := NewChunker(100, 0.2)
	if got := c.Chunk("s1", &extract.Result{Text: ""}); got != nil {
		t.Errorf("expected nil for empty text, got %d chunks", len(got))
	}
	if got := c.Chunk("s1", &extract.Result{Text: "   \n\t "}); got != nil {
		t.Errorf("expected nil for whitespace text, got %d chunks", len(got))
	}
}

func TestChunk_shortText(t *testing.T) {
	c := NewChunker(1000, 0.2)
	chunks := c.Chunk("s1", &extract.Result{Text: "short document"})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != "short document" {
		t.Errorf("got %q", chunks[0].Content)
	}
	if chunks[0].Seq != 0 || chunks[0].SourceID != "s1" {
		t.Errorf("chunk %+v", chunks[0])
	}
}

func TestChunk_sequencesAreContiguous(t *testing.T) {
	c := NewChunker(50, 0.2)
	text := strings.Repeat("Sentence one here. Sentence two is longer. ", 20)
	chunks := c.Chunk("s1", &extract.Result{Text: text})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Seq != i {
			t.Errorf("chunk %d has seq %d", i, ch.Seq)
		}
		if ch.Content == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

// Every character of the input must fall inside at least one chunk window:
// with overlap, consecutive starts can never be more than the chunk size
// apart.
func TestChunk_coversWholeText(t *testing.T) {
	size := 80
	c := NewChunker(size, 0.25)
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Sentence number %d carries its own distinct words. ", i)
	}
	text := strings.TrimSpace(b.String())
	chunks := c.Chunk("s1", &extract.Result{Text: text})

	// Reconstruct coverage from the chunk contents by locating each chunk's
	// window via its predecessor.
	covered := 0
	offset := 0
	for _, ch := range chunks {
		idx := strings.Index(text[offset:], ch.Content)
		if idx < 0 {
			t.Fatalf("chunk %d content not found in text", ch.Seq)
		}
		start := offset + idx
		if start > covered {
			t.Fatalf("gap before chunk %d: covered to %d, chunk starts at %d", ch.Seq, covered, start)
		}
		if end := start + len(ch.Content); end > covered {
			covered = end
		}
		offset = start
	}
	if covered != len(text) {
		t.Errorf("covered %d of %d characters", covered, len(text))
	}
}

// Multi-byte text without ASCII punctuation forces hard cuts; every cut must
// still land on a rune boundary so chunk content stays valid UTF-8.
func TestChunk_multiByteTextStaysValidUTF8(t *testing.T) {
	c := NewChunker(50, 0.2)
	text := strings.Repeat("日本語のテキスト", 40)
	chunks := c.Chunk("s1", &extract.Result{Text: text})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if !utf8.ValidString(ch.Content) {
			t.Errorf("chunk %d contains invalid UTF-8: %q", ch.Seq, ch.Content)
		}
		if ch.Content == "" {
			t.Errorf("chunk %d is empty", ch.Seq)
		}
	}
	// The last chunk must still reach the end of the text.
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(text, last.Content) {
		t.Error("final chunk does not cover the end of the text")
	}
}

func TestChunk_prefersSentenceBoundaries(t *testing.T) {
	c := NewChunker(40, 0.3)
	text := "First sentence here. Second sentence follows. Third one too. Fourth sentence ends. Fifth and final sentence."
	chunks := c.Chunk("s1", &extract.Result{Text: text})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// Later chunks should start at a sentence start when one is in reach.
	for _, ch := range chunks[1:] {
		first := ch.Content[0]
		if first >= 'A' && first <= 'Z' {
			continue
		}
		t.Errorf("chunk %d starts mid-sentence: %q", ch.Seq, ch.Content)
	}
}

func TestChunk_carriesLocators(t *testing.T) {
	c := NewChunker(10, 0)
	res := &extract.Result{
		Text: "aaaaaaaaaa\nbbbbbbbbbb\ncccccccccc",
		Locators: []extract.Locator{
			{Offset: 0, Label: "row 1"},
			{Offset: 11, Label: "row 2"},
			{Offset: 22, Label: "row 3"},
		},
	}
	chunks := c.Chunk("s1", res)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Locator != "row 1" {
		t.Errorf("chunk 0 locator %q", chunks[0].Locator)
	}
	last := chunks[len(chunks)-1]
	if last.Locator != "row 3" {
		t.Errorf("last chunk locator %q", last.Locator)
	}
}

func TestNewChunker_clampsDegenerateArgs(t *testing.T) {
	// Zero size and out-of-range overlap must not wedge the chunker.
	c := NewChunker(0, 1.5)
	text := strings.Repeat("word ", 600)
	chunks := c.Chunk("s1", &extract.Result{Text: strings.TrimSpace(text)})
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Seq != chunks[i-1].Seq+1 {
			t.Fatalf("non-contiguous seq at %d", i)
		}
	}
}
