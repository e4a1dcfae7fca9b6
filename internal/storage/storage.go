// Package storage defines the persistence interface for sources, chunks,
// notes, and chat messages, backed by a single SQLite file.
package storage

import (
	"context"
	"errors"

	"github.com/squarest/notebook/internal/models"
)

// ErrNotFound is returned when a referenced source, note, or conversation
// does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the persistence layer. All multi-row writes are transactional:
// a chunk batch or a message pair is committed all-or-nothing.
type Storage interface {
	// Source operations. AddChunks commits the chunk batch and flips the
	// source to processed in one transaction. DeleteSource cascades to the
	// source's chunks and clears (but never deletes) note references.
	CreateSource(ctx context.Context, source *models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSources(ctx context.Context) ([]*models.Source, error)
	DeleteSource(ctx context.Context, id string) error
	MarkSourceFailed(ctx context.Context, id, reason string) error
	AddChunks(ctx context.Context, sourceID string, chunks []*models.Chunk) error

	// Chunk queries. AllChunks returns chunks of processed sources only,
	// ordered by (source id, seq) for deterministic retrieval scans.
	ChunksForSource(ctx context.Context, sourceID string) ([]*models.Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*models.Chunk, error)
	AllChunks(ctx context.Context) ([]*models.Chunk, error)

	// Note operations.
	CreateNote(ctx context.Context, note *models.Note) error
	GetNote(ctx context.Context, id string) (*models.Note, error)
	ListNotes(ctx context.Context) ([]*models.Note, error)
	UpdateNote(ctx context.Context, note *models.Note) error
	DeleteNote(ctx context.Context, id string) error
	NotesReferencing(ctx context.Context, sourceID string) ([]*models.Note, error)

	// Conversation operations. Positions are assigned inside the write
	// transaction; AppendExchange persists a user/assistant pair atomically.
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	AppendExchange(ctx context.Context, user, assistant *models.ChatMessage) error
	MessagesForConversation(ctx context.Context, conversationID string) ([]*models.ChatMessage, error)
	ClearConversation(ctx context.Context, conversationID string) error

	// Stats for the status endpoint.
	CountSources(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)
	CountNotes(ctx context.Context) (int64, error)

	Close() error
}
