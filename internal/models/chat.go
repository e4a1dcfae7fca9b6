package models

import "time"

// Role is the author of a chat message.
type Role string

const (
	// RoleUser is a message written by the user.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by an AI provider.
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn in a conversation. Messages are append-only;
// Position is strictly increasing per conversation and defines replay order.
type ChatMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	Position       int    `json:"position"`
	// CitedChunkIDs lists the chunks supplied as grounding for an assistant turn.
	CitedChunkIDs []string  `json:"cited_chunk_ids,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
