package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/squarest/notebook/internal/extract"
	"github.com/squarest/notebook/internal/models"
	"github.com/squarest/notebook/internal/storage"
)

// ErrEmptyContent is returned when extraction produces no text.
var ErrEmptyContent = errors.New("empty content")

// Embedder produces a vector for a chunk of text. Optional; when absent,
// chunks are stored without embeddings and only keyword retrieval applies.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index receives chunk updates so the retrieval index stays in sync with
// storage. Implemented by the retrieval engine.
type Index interface {
	IndexChunks(source *models.Source, chunks []*models.Chunk) error
	RemoveSource(sourceID string) error
}

// Ingester runs the upload pipeline: extract, chunk, optionally embed, then
// persist the chunk batch atomically and update the retrieval index.
type Ingester struct {
	store     storage.Storage
	extractor *extract.Extractor
	chunker   *Chunker
	index     Index    // optional
	embedder  Embedder // optional
	logger    *zap.Logger
}

// NewIngester creates an ingester. index and embedder may be nil.
func NewIngester(store storage.Storage, extractor *extract.Extractor, chunker *Chunker, index Index, embedder Embedder, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		store:     store,
		extractor: extractor,
		chunker:   chunker,
		index:     index,
		embedder:  embedder,
		logger:    logger,
	}
}

// Ingest processes one uploaded document. The source row is created first in
// pending state; the chunk batch and the processed status are committed in one
// transaction, so readers never observe partial ingestion. On extraction or
// chunking failure the source is marked failed with the reason recorded, and
// the failed source is returned alongside the error. A failure affects only
// this source.
func (ing *Ingester) Ingest(ctx context.Context, content []byte, filename, declaredType string) (*models.Source, error) {
	source := &models.Source{
		ID:       uuid.New().String(),
		Filename: filename,
		FileType: declaredType,
		Size:     int64(len(content)),
		Status:   models.StatusPending,
	}
	if err := ing.store.CreateSource(ctx, source); err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	res, err := ing.extractor.Extract(content, filename, declaredType)
	if err != nil {
		ing.fail(ctx, source, failReason(err))
		return source, err
	}

	chunks := ing.chunker.Chunk(source.ID, res)
	if len(chunks) == 0 {
		ing.fail(ctx, source, "empty_content")
		return source, fmt.Errorf("%w: %s", ErrEmptyContent, filename)
	}

	if ing.embedder != nil {
		ing.embedChunks(ctx, chunks)
	}

	if err := ing.store.AddChunks(ctx, source.ID, chunks); err != nil {
		return source, fmt.Errorf("store chunks: %w", err)
	}
	source.Status = models.StatusProcessed

	if ing.index != nil {
		if err := ing.index.IndexChunks(source, chunks); err != nil {
			// The source is persisted; the in-memory index is rebuilt on
			// restart, so an index error does not fail the ingestion.
			ing.logger.Warn("index chunks failed",
				zap.String("source_id", source.ID), zap.Error(err))
		}
	}

	ing.logger.Info("source ingested",
		zap.String("source_id", source.ID),
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)))
	return source, nil
}

// Delete removes a source, its chunks, and its retrieval index entries.
// Note references to the source are cleared; the notes themselves survive.
func (ing *Ingester) Delete(ctx context.Context, sourceID string) error {
	if err := ing.store.DeleteSource(ctx, sourceID); err != nil {
		return err
	}
	if ing.index != nil {
		if err := ing.index.RemoveSource(sourceID); err != nil {
			ing.logger.Warn("remove source from index failed",
				zap.String("source_id", sourceID), zap.Error(err))
		}
	}
	return nil
}

// embedChunks attaches embeddings where the embedder succeeds. Embedding is
// best-effort: a provider hiccup downgrades the source to keyword-only
// retrieval instead of failing the upload.
func (ing *Ingester) embedChunks(ctx context.Context, chunks []*models.Chunk) {
	for _, ch := range chunks {
		vec, err := ing.embedder.Embed(ctx, ch.Content)
		if err != nil {
			ing.logger.Warn("embedding failed, continuing without",
				zap.String("chunk_id", ch.ID), zap.Error(err))
			return
		}
		ch.Embedding = vec
	}
}

func (ing *Ingester) fail(ctx context.Context, source *models.Source, reason string) {
	source.Status = models.StatusFailed
	source.FailReason = reason
	if err := ing.store.MarkSourceFailed(ctx, source.ID, reason); err != nil {
		ing.logger.Error("mark source failed",
			zap.String("source_id", source.ID), zap.Error(err))
	}
}

func failReason(err error) string {
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, extract.ErrCorruptFile):
		return "corrupt_file"
	default:
		return err.Error()
	}
}
