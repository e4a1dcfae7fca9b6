package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/squarest/notebook/internal/models"
)

// SQLiteStorage implements Storage on a single SQLite file. The notebook is
// single-process, so a mutex serializes writers; multi-statement transactions
// never interleave.
type SQLiteStorage struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLiteStorage opens or creates the database at dbPath and initializes
// the schema. Parent directories are created if missing. The schema is
// additive (CREATE TABLE IF NOT EXISTS only), so existing files from older
// versions keep working.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		file_type TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		fail_reason TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		locator TEXT,
		embedding BLOB,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(source_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_id, seq);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		title TEXT,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS note_sources (
		note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
		source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		PRIMARY KEY (note_id, source_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		position INTEGER NOT NULL,
		cited_chunk_ids TEXT,
		provider TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(conversation_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateSource inserts a source row.
func (s *SQLiteStorage) CreateSource(ctx context.Context, source *models.Source) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if source.Status == "" {
		source.Status = models.StatusPending
	}
	source.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, filename, file_type, size, status, fail_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		source.ID, source.Filename, source.FileType, source.Size,
		string(source.Status), source.FailReason, source.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetSource returns a source by ID, or ErrNotFound.
func (s *SQLiteStorage) GetSource(ctx context.Context, id string) (*models.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, file_type, size, status, fail_reason, created_at
		 FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

// ListSources returns all sources, newest first.
func (s *SQLiteStorage) ListSources(ctx context.Context) ([]*models.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, file_type, size, status, fail_reason, created_at
		 FROM sources ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	var out []*models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// DeleteSource removes a source and its chunks, and clears note references.
// All three deletions commit in one transaction. Returns ErrNotFound when the
// source does not exist.
func (s *SQLiteStorage) DeleteSource(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete source: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_sources WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("clear note references: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	return tx.Commit()
}

// MarkSourceFailed records an ingestion failure reason.
func (s *SQLiteStorage) MarkSourceFailed(ctx context.Context, id, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, fail_reason = ? WHERE id = ?`,
		string(models.StatusFailed), reason, id)
	if err != nil {
		return fmt.Errorf("mark source failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	return nil
}

// AddChunks inserts the chunk batch and flips the source to processed in one
// transaction, so partial ingestion is never visible to readers.
func (s *SQLiteStorage) AddChunks(ctx context.Context, sourceID string, chunks []*models.Chunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, source_id, seq, content, locator, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ch := range chunks {
		ch.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, ch.ID, sourceID, ch.Seq, ch.Content,
			nullString(ch.Locator), encodeVector(ch.Embedding), now); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Seq, err)
		}
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE sources SET status = ? WHERE id = ?`, string(models.StatusProcessed), sourceID)
	if err != nil {
		return fmt.Errorf("mark source processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: source %s", ErrNotFound, sourceID)
	}
	return tx.Commit()
}

// ChunksForSource returns a source's chunks ordered by sequence index.
func (s *SQLiteStorage) ChunksForSource(ctx context.Context, sourceID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT id, source_id, seq, content, locator, embedding, created_at
		 FROM chunks WHERE source_id = ? ORDER BY seq`, sourceID)
}

// GetChunks returns the chunks with the given IDs, ordered by (source, seq).
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) ([]*models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryChunks(ctx,
		`SELECT id, source_id, seq, content, locator, embedding, created_at
		 FROM chunks WHERE id IN (`+placeholders+`) ORDER BY source_id, seq`, args...)
}

// AllChunks returns every chunk belonging to a processed source, ordered by
// (source id, seq). Chunks of pending or failed sources are excluded.
func (s *SQLiteStorage) AllChunks(ctx context.Context) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT c.id, c.source_id, c.seq, c.content, c.locator, c.embedding, c.created_at
		 FROM chunks c JOIN sources s ON s.id = c.source_id
		 WHERE s.status = ? ORDER BY c.source_id, c.seq`, string(models.StatusProcessed))
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...interface{}) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	var out []*models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var locator sql.NullString
		var embedding []byte
		if err := rows.Scan(&ch.ID, &ch.SourceID, &ch.Seq, &ch.Content,
			&locator, &embedding, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		ch.Locator = locator.String
		ch.Embedding = decodeVector(embedding)
		out = append(out, &ch)
	}
	return out, rows.Err()
}

// CreateNote inserts a note and its source references in one transaction.
func (s *SQLiteStorage) CreateNote(ctx context.Context, note *models.Note) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	now := time.Now().UTC()
	note.CreatedAt = now
	note.UpdatedAt = now
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create note: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notes (id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		note.ID, note.Title, note.Content, note.CreatedAt, note.UpdatedAt); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	if err := insertNoteRefs(ctx, tx, note.ID, note.SourceIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// GetNote returns a note with its source references, or ErrNotFound.
func (s *SQLiteStorage) GetNote(ctx context.Context, id string) (*models.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, created_at, updated_at FROM notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if err != nil {
		return nil, err
	}
	note.SourceIDs, err = s.noteRefs(ctx, id)
	return note, err
}

// ListNotes returns all notes with their source references, newest first.
func (s *SQLiteStorage) ListNotes(ctx context.Context) ([]*models.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, created_at, updated_at
		 FROM notes ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	var out []*models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, note := range out {
		if note.SourceIDs, err = s.noteRefs(ctx, note.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateNote rewrites a note's title, content, and source references.
func (s *SQLiteStorage) UpdateNote(ctx context.Context, note *models.Note) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	note.UpdatedAt = time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update note: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, updated_at = ? WHERE id = ?`,
		note.Title, note.Content, note.UpdatedAt, note.ID)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: note %s", ErrNotFound, note.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_sources WHERE note_id = ?`, note.ID); err != nil {
		return fmt.Errorf("clear note references: %w", err)
	}
	if err := insertNoteRefs(ctx, tx, note.ID, note.SourceIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteNote removes a note and its references.
func (s *SQLiteStorage) DeleteNote(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete note: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_sources WHERE note_id = ?`, id); err != nil {
		return fmt.Errorf("clear note references: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	return tx.Commit()
}

// NotesReferencing returns notes that reference the given source.
func (s *SQLiteStorage) NotesReferencing(ctx context.Context, sourceID string) ([]*models.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.title, n.content, n.created_at, n.updated_at
		 FROM notes n JOIN note_sources ns ON ns.note_id = n.id
		 WHERE ns.source_id = ? ORDER BY n.updated_at DESC, n.id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("notes referencing: %w", err)
	}
	defer rows.Close()
	var out []*models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, note := range out {
		if note.SourceIDs, err = s.noteRefs(ctx, note.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AppendMessage appends one message; its position is assigned inside the
// write transaction.
func (s *SQLiteStorage) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append message: %w", err)
	}
	defer tx.Rollback()
	if err := appendMessageTx(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendExchange appends a user/assistant pair atomically with consecutive
// positions. Either both messages become visible or neither does.
func (s *SQLiteStorage) AppendExchange(ctx context.Context, user, assistant *models.ChatMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append exchange: %w", err)
	}
	defer tx.Rollback()
	if err := appendMessageTx(ctx, tx, user); err != nil {
		return err
	}
	if err := appendMessageTx(ctx, tx, assistant); err != nil {
		return err
	}
	return tx.Commit()
}

func appendMessageTx(ctx context.Context, tx *sql.Tx, msg *models.ChatMessage) error {
	var next sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(position) + 1 FROM messages WHERE conversation_id = ?`,
		msg.ConversationID).Scan(&next); err != nil {
		return fmt.Errorf("next position: %w", err)
	}
	msg.Position = int(next.Int64) // 0 for a new conversation
	msg.CreatedAt = time.Now().UTC()

	var cited interface{}
	if len(msg.CitedChunkIDs) > 0 {
		data, err := json.Marshal(msg.CitedChunkIDs)
		if err != nil {
			return fmt.Errorf("marshal cited chunks: %w", err)
		}
		cited = string(data)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, position, cited_chunk_ids, provider, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.Position,
		cited, nullString(msg.Provider), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MessagesForConversation returns the conversation's messages in replay order.
func (s *SQLiteStorage) MessagesForConversation(ctx context.Context, conversationID string) ([]*models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, position, cited_chunk_ids, provider, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY position`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	var out []*models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var role string
		var cited, provider sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content,
			&msg.Position, &cited, &provider, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.Provider = provider.String
		if cited.Valid && cited.String != "" {
			if err := json.Unmarshal([]byte(cited.String), &msg.CitedChunkIDs); err != nil {
				return nil, fmt.Errorf("unmarshal cited chunks: %w", err)
			}
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// ClearConversation deletes all messages of a conversation.
func (s *SQLiteStorage) ClearConversation(ctx context.Context, conversationID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// CountSources returns the number of sources.
func (s *SQLiteStorage) CountSources(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM sources`)
}

// CountChunks returns the number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM chunks`)
}

// CountNotes returns the number of notes.
func (s *SQLiteStorage) CountNotes(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM notes`)
}

func (s *SQLiteStorage) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*models.Source, error) {
	var src models.Source
	var status string
	var failReason sql.NullString
	err := row.Scan(&src.ID, &src.Filename, &src.FileType, &src.Size,
		&status, &failReason, &src.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: source", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Status = models.SourceStatus(status)
	src.FailReason = failReason.String
	return &src, nil
}

func scanNote(row rowScanner) (*models.Note, error) {
	var note models.Note
	var title sql.NullString
	err := row.Scan(&note.ID, &title, &note.Content, &note.CreatedAt, &note.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: note", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan note: %w", err)
	}
	note.Title = title.String
	return &note, nil
}

func (s *SQLiteStorage) noteRefs(ctx context.Context, noteID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id FROM note_sources WHERE note_id = ? ORDER BY source_id`, noteID)
	if err != nil {
		return nil, fmt.Errorf("note references: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertNoteRefs(ctx context.Context, tx *sql.Tx, noteID string, sourceIDs []string) error {
	for _, sid := range sourceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO note_sources (note_id, source_id) VALUES (?, ?)`,
			noteID, sid); err != nil {
			return fmt.Errorf("insert note reference: %w", err)
		}
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
