package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/squarest/notebook/internal/models"
	"github.com/squarest/notebook/internal/storage"
)

type fakeEmbedder struct {
	vec  []float32
	fail bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	return f.vec, nil
}

func addEmbeddedSource(t *testing.T, store storage.Storage, id string, vecs ...[]float32) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateSource(ctx, &models.Source{ID: id, Filename: id + ".txt"}); err != nil {
		t.Fatal(err)
	}
	var chunks []*models.Chunk
	for i, vec := range vecs {
		chunks = append(chunks, &models.Chunk{
			ID:        id + "-c" + string(rune('0'+i)),
			SourceID:  id,
			Seq:       i,
			Content:   "chunk content",
			Embedding: vec,
		})
	}
	if err := store.AddChunks(ctx, id, chunks); err != nil {
		t.Fatal(err)
	}
}

func TestVectorRetriever_ranksByCosine(t *testing.T) {
	store := newTestStore(t)
	addEmbeddedSource(t, store, "s1",
		[]float32{1, 0, 0}, // aligned with the query
		[]float32{0, 1, 0}, // orthogonal
		[]float32{-1, 0, 0},
	)
	keyword, err := NewKeywordRetriever(store)
	if err != nil {
		t.Fatal(err)
	}
	r := NewVectorRetriever(store, &fakeEmbedder{vec: []float32{1, 0, 0}}, keyword)

	got, err := r.Retrieve(context.Background(), "query", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got[0].Seq != 0 {
		t.Errorf("best match should be the aligned chunk, got seq %d", got[0].Seq)
	}
}

func TestVectorRetriever_fallsBackOnEmbedError(t *testing.T) {
	store := newTestStore(t)
	chunks := addSource(t, store, "s1", "keyword findable content")
	keyword, err := NewKeywordRetriever(store)
	if err != nil {
		t.Fatal(err)
	}
	src, _ := store.GetSource(context.Background(), "s1")
	if err := keyword.IndexChunks(src, chunks); err != nil {
		t.Fatal(err)
	}

	r := NewVectorRetriever(store, &fakeEmbedder{fail: true}, keyword)
	got, err := r.Retrieve(context.Background(), "findable", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("keyword fallback failed: %d hits", len(got))
	}
}

func TestVectorRetriever_fallsBackWhenNoEmbeddings(t *testing.T) {
	store := newTestStore(t)
	chunks := addSource(t, store, "s1", "findable without vectors")
	keyword, err := NewKeywordRetriever(store)
	if err != nil {
		t.Fatal(err)
	}
	src, _ := store.GetSource(context.Background(), "s1")
	if err := keyword.IndexChunks(src, chunks); err != nil {
		t.Fatal(err)
	}

	r := NewVectorRetriever(store, &fakeEmbedder{vec: []float32{1, 0}}, keyword)
	got, err := r.Retrieve(context.Background(), "findable", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected fallback hit, got %d", len(got))
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1, 0}, []float32{1, 0, 0}, 0}, // dimension mismatch
		{nil, nil, 0},
		{[]float32{0, 0}, []float32{1, 1}, 0}, // zero vector
	}
	for _, tt := range tests {
		if got := cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
