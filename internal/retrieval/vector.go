package retrieval

import (
	"context"
	"fmt"
	"math"

	"github.com/squarest/notebook/internal/ai"
	"github.com/squarest/notebook/internal/models"
	"github.com/squarest/notebook/internal/storage"
)

// VectorRetriever ranks chunks by cosine similarity between the query
// embedding and embeddings stored at ingestion time. Chunks without an
// embedding (embedder unavailable when they were ingested) are handled by the
// keyword fallback instead of being silently dropped.
type VectorRetriever struct {
	store    storage.Storage
	embedder ai.Embedder
	fallback Retriever
}

// NewVectorRetriever creates a vector retriever. fallback handles queries
// when embedding fails or the corpus has no embedded chunks; it is required.
func NewVectorRetriever(store storage.Storage, embedder ai.Embedder, fallback Retriever) *VectorRetriever {
	return &VectorRetriever{store: store, embedder: embedder, fallback: fallback}
}

// Retrieve embeds the query and brute-force scans stored chunk embeddings.
// The corpus is a single user's documents, so a linear scan is fine.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]*models.Chunk, error) {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return r.fallback.Retrieve(ctx, query, topK)
	}
	chunks, err := r.store.AllChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	var scored []scoredChunk
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			continue
		}
		scored = append(scored, scoredChunk{chunk: ch, score: cosine(queryVec, ch.Embedding)})
	}
	if len(scored) == 0 {
		return r.fallback.Retrieve(ctx, query, topK)
	}
	sortScored(scored)
	return topChunks(scored, topK), nil
}

// cosine returns the cosine similarity of two vectors, 0 when either is zero
// or the dimensions differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
