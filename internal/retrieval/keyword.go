package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/squarest/notebook/internal/models"
	"github.com/squarest/notebook/internal/storage"
)

// KeywordRetriever scores chunks with a Bleve match query over an in-memory
// index keyed by chunk ID. The index is rebuilt from storage at startup and
// kept in sync by the ingester, so it only ever contains chunks of processed
// sources.
type KeywordRetriever struct {
	store storage.Storage

	mu       sync.RWMutex
	index    bleve.Index
	bySource map[string][]string // source id -> chunk ids, for removal
}

type keywordDoc struct {
	Content string `json:"content"`
}

// NewKeywordRetriever creates the retriever with an empty in-memory index.
// Call Rebuild to load existing chunks from storage.
func NewKeywordRetriever(store storage.Storage) (*KeywordRetriever, error) {
	index, err := newChunkIndex()
	if err != nil {
		return nil, err
	}
	return &KeywordRetriever{
		store:    store,
		index:    index,
		bySource: make(map[string][]string),
	}, nil
}

func newChunkIndex() (bleve.Index, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) keeps matching
	// literal: a query term matches the exact word it was typed as.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	im.DefaultMapping = docMapping
	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return index, nil
}

// Close releases the in-memory index.
func (r *KeywordRetriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.Close()
}

// Rebuild replaces the index contents with all retrievable chunks from
// storage (processed sources only).
func (r *KeywordRetriever) Rebuild(ctx context.Context) error {
	chunks, err := r.store.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	index, err := newChunkIndex()
	if err != nil {
		return err
	}
	bySource := make(map[string][]string)
	batch := index.NewBatch()
	for _, ch := range chunks {
		if err := batch.Index(ch.ID, keywordDoc{Content: ch.Content}); err != nil {
			return fmt.Errorf("index chunk %s: %w", ch.ID, err)
		}
		bySource[ch.SourceID] = append(bySource[ch.SourceID], ch.ID)
	}
	if err := index.Batch(batch); err != nil {
		return fmt.Errorf("apply index batch: %w", err)
	}

	r.mu.Lock()
	old := r.index
	r.index = index
	r.bySource = bySource
	r.mu.Unlock()
	return old.Close()
}

// IndexChunks adds a processed source's chunks to the index. Implements the
// ingester's Index hook.
func (r *KeywordRetriever) IndexChunks(source *models.Source, chunks []*models.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := r.index.NewBatch()
	ids := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		if err := batch.Index(ch.ID, keywordDoc{Content: ch.Content}); err != nil {
			return fmt.Errorf("index chunk %s: %w", ch.ID, err)
		}
		ids = append(ids, ch.ID)
	}
	if err := r.index.Batch(batch); err != nil {
		return fmt.Errorf("apply index batch: %w", err)
	}
	r.bySource[source.ID] = ids
	return nil
}

// RemoveSource drops a deleted source's chunks from the index.
func (r *KeywordRetriever) RemoveSource(sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := r.index.NewBatch()
	for _, id := range r.bySource[sourceID] {
		batch.Delete(id)
	}
	if err := r.index.Batch(batch); err != nil {
		return fmt.Errorf("apply delete batch: %w", err)
	}
	delete(r.bySource, sourceID)
	return nil
}

// Retrieve runs a match query and returns the topK chunks, loaded back from
// storage so callers get full chunk records.
func (r *KeywordRetriever) Retrieve(ctx context.Context, query string, topK int) ([]*models.Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	r.mu.RLock()
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = topK
	result, err := r.index.Search(req)
	r.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	if len(result.Hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(result.Hits))
	scores := make(map[string]float64, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
		scores[hit.ID] = hit.Score
	}
	chunks, err := r.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load hit chunks: %w", err)
	}
	scored := make([]scoredChunk, 0, len(chunks))
	for _, ch := range chunks {
		scored = append(scored, scoredChunk{chunk: ch, score: scores[ch.ID]})
	}
	sortScored(scored)
	return topChunks(scored, topK), nil
}
