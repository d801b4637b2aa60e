package chunker

import (
	"strings"
	"testing"
)

func TestSplit_Empty(t *testing.T) {
	if got := Split("   ", DefaultOptions()); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestSplit_SingleSmallParagraphBecomesOneChunk(t *testing.T) {
	out := Split("a short paragraph", Options{MinChars: 5, MaxChars: 100})
	if len(out) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(out))
	}
	if out[0].Text != "a short paragraph" {
		t.Fatalf("unexpected text %q", out[0].Text)
	}
}

func TestSplit_RespectsMaxChars(t *testing.T) {
	text := strings.Repeat("word ", 500)
	out := Split(text, Options{MinChars: 50, MaxChars: 200})
	if len(out) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(out))
	}
	for i, c := range out {
		if len(c.Text) > 200 {
			t.Fatalf("chunk %d exceeds MaxChars: %d", i, len(c.Text))
		}
	}
}

func TestSplit_NonFinalChunksMeetMinimum(t *testing.T) {
	paragraphs := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		paragraphs = append(paragraphs, strings.Repeat("x", 30))
	}
	text := strings.Join(paragraphs, "\n\n")
	out := Split(text, Options{MinChars: 100, MaxChars: 150})
	for i, c := range out {
		if i == len(out)-1 {
			continue
		}
		if len(c.Text) < 100 {
			t.Fatalf("non-final chunk %d below MinChars: %d", i, len(c.Text))
		}
	}
}

func TestSplit_IndicesAreSequential(t *testing.T) {
	text := strings.Repeat("paragraph one.\n\n", 50)
	out := Split(text, Options{MinChars: 20, MaxChars: 80})
	for i, c := range out {
		if c.Index != i {
			t.Fatalf("expected index %d, got %d", i, c.Index)
		}
	}
}

func TestSplit_OversizedParagraphHardWrapped(t *testing.T) {
	text := strings.Repeat("a", 1000)
	out := Split(text, Options{MinChars: 50, MaxChars: 100})
	if len(out) < 10 {
		t.Fatalf("expected hard-wrap into >=10 pieces, got %d", len(out))
	}
	for _, c := range out {
		if len(c.Text) > 100 {
			t.Fatalf("piece exceeds MaxChars: %d", len(c.Text))
		}
	}
}
