package models

import "time"

// Note is a user-authored text entry, optionally referencing sources.
// Deleting a source clears the reference but never deletes the note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	SourceIDs []string  `json:"source_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
