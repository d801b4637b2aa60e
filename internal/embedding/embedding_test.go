package embedding

import (
	"context"
	"math"
	"testing"
)

func TestDeterministicProvider_IsDeterministicAndNormalized(t *testing.T) {
	p := NewDeterministic(64)

	v1, err := p.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	v2, err := p.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v1) != 64 {
		t.Fatalf("want dimension 64, got %d", len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embeddings for identical input diverged at index %d", i)
		}
	}

	var norm float64
	for _, x := range v1 {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1.0) > 1e-4 {
		t.Fatalf("expected unit-norm vector, got norm %f", norm)
	}
}

func TestDeterministicProvider_EmptyTextYieldsZeroVector(t *testing.T) {
	p := NewDeterministic(32)
	v, err := p.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector for empty input, index %d = %f", i, x)
		}
	}
}

func TestDeterministicProvider_DifferentTextDiffers(t *testing.T) {
	p := NewDeterministic(64)
	v1, _ := p.Embed(context.Background(), "alpha beta gamma")
	v2, _ := p.Embed(context.Background(), "delta epsilon zeta")
	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected different texts to produce different embeddings")
	}
}

func TestDeterministicProvider_EmbedBatchMatchesEmbed(t *testing.T) {
	p := NewDeterministic(32)
	texts := []string{"one fish", "two fish"}
	batch, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	for i, text := range texts {
		single, _ := p.Embed(context.Background(), text)
		for j := range single {
			if batch[i][j] != single[j] {
				t.Fatalf("batch[%d] diverged from single embed at index %d", i, j)
			}
		}
	}
}
