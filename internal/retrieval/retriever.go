// Package retrieval selects the chunks most relevant to a query. The keyword
// retriever (Bleve) is the baseline; a vector retriever over provider
// embeddings is the optional upgrade behind the same interface.
package retrieval

import (
	"context"
	"sort"

	"github.com/squarest/notebook/internal/models"
)

// DefaultTopK is the number of chunks retrieved when the caller passes 0.
const DefaultTopK = 5

// Retriever returns the chunks most relevant to query, most relevant first.
// topK is clamped to the number of available chunks; retrieval over zero
// chunks returns an empty result, never an error. Results are deterministic
// for identical inputs: ties are broken by (source id, sequence index).
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]*models.Chunk, error)
}

type scoredChunk struct {
	chunk *models.Chunk
	score float64
}

// sortScored orders by descending score with the stable (source id, seq)
// tie-break that makes retrieval deterministic.
func sortScored(scored []scoredChunk) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].chunk.SourceID != scored[j].chunk.SourceID {
			return scored[i].chunk.SourceID < scored[j].chunk.SourceID
		}
		return scored[i].chunk.Seq < scored[j].chunk.Seq
	})
}

func topChunks(scored []scoredChunk, topK int) []*models.Chunk {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > len(scored) {
		topK = len(scored)
	}
	out := make([]*models.Chunk, 0, topK)
	for _, sc := range scored[:topK] {
		out = append(out, sc.chunk)
	}
	return out
}
