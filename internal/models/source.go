// Package models defines the core entities of the notebook: sources, chunks,
// notes, and chat messages.
package models

import "time"

// SourceStatus is the ingestion state of a source.
type SourceStatus string

const (
	// StatusPending means the source row exists but chunks are not yet visible.
	StatusPending SourceStatus = "pending"
	// StatusProcessed means extraction and chunking completed.
	StatusProcessed SourceStatus = "processed"
	// StatusFailed means ingestion failed; FailReason records why.
	StatusFailed SourceStatus = "failed"
)

// Source is an uploaded document. Once processed it is immutable; re-ingesting
// the same content creates a new Source.
type Source struct {
	ID         string       `json:"id"`
	Filename   string       `json:"filename"`
	FileType   string       `json:"file_type"`
	Size       int64        `json:"size"`
	Status     SourceStatus `json:"status"`
	FailReason string       `json:"fail_reason,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Chunk is a contiguous span of extracted text belonging to one source.
// Seq values are contiguous starting at 0 and define reading order.
type Chunk struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Seq      int    `json:"seq"`
	Content  string `json:"content"`
	// Locator points back into the original document, e.g. "page 3" or "row 12".
	// Empty when the format has no page/row structure.
	Locator string `json:"locator,omitempty"`
	// Embedding is an opaque vector used by the semantic retriever.
	// Nil when no embedder was configured at ingestion time.
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
