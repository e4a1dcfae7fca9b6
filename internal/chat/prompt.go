// Package chat orchestrates retrieval-augmented conversations: prompt
// assembly, provider invocation, and atomic persistence of exchanges.
package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/squarest/notebook/internal/ai"
	"github.com/squarest/notebook/internal/models"
)

const systemInstruction = `You are a notebook assistant. Answer the user's question using the context excerpts below when they are relevant. When you use an excerpt, cite it by its [Source: ...] tag. If the context does not contain the answer, say so instead of guessing.`

// truncationMarker flags history turns whose content was cut to fit the
// prompt budget.
const truncationMarker = "\n[truncated]"

// PromptConfig bounds how much conversation history enters the prompt.
type PromptConfig struct {
	// HistoryTurns is the maximum number of prior messages kept (oldest
	// dropped first).
	HistoryTurns int
	// HistoryBudget is the maximum total characters of history content.
	HistoryBudget int
}

// BuildMessages assembles the provider request from retrieved grounding,
// prior history, and the new user turn. Pure function: same inputs, same
// messages.
//
// History is bounded by turn count first, then by the character budget; when
// a single turn alone exceeds the budget its content is truncated with an
// explicit marker rather than dropped, so the conversation never loses a turn
// silently.
func BuildMessages(history []*models.ChatMessage, chunks []*models.Chunk, sourceNames map[string]string, query string, cfg PromptConfig) []ai.Message {
	system := systemInstruction
	if len(chunks) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nContext:\n")
		for _, ch := range chunks {
			b.WriteString(groundingTag(ch, sourceNames[ch.SourceID]))
			b.WriteByte('\n')
			b.WriteString(ch.Content)
			b.WriteString("\n\n")
		}
		system = strings.TrimRight(b.String(), "\n")
	}

	messages := []ai.Message{{Role: "system", Content: system}}
	for _, msg := range boundHistory(history, cfg) {
		messages = append(messages, ai.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return append(messages, ai.Message{Role: "user", Content: query})
}

// groundingTag labels one chunk's excerpt, e.g.
// "[Source: report.pdf #2 (page 3)]".
func groundingTag(ch *models.Chunk, filename string) string {
	if filename == "" {
		filename = ch.SourceID
	}
	if ch.Locator != "" {
		return fmt.Sprintf("[Source: %s #%d (%s)]", filename, ch.Seq, ch.Locator)
	}
	return fmt.Sprintf("[Source: %s #%d]", filename, ch.Seq)
}

func boundHistory(history []*models.ChatMessage, cfg PromptConfig) []*models.ChatMessage {
	if cfg.HistoryTurns > 0 && len(history) > cfg.HistoryTurns {
		history = history[len(history)-cfg.HistoryTurns:]
	}
	if cfg.HistoryBudget <= 0 {
		return history
	}

	// Walk backwards keeping the newest turns that fit the budget.
	total := 0
	keep := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += len(history[i].Content)
		if total > cfg.HistoryBudget {
			break
		}
		keep = i
	}
	if keep == len(history) && len(history) > 0 {
		// Even the newest turn alone is over budget: truncate it, keep it.
		last := *history[len(history)-1]
		cut := cfg.HistoryBudget - len(truncationMarker)
		if cut < 0 {
			cut = 0
		}
		// Back off to a rune start so the cut never splits a multi-byte
		// character.
		for cut > 0 && !utf8.RuneStart(last.Content[cut]) {
			cut--
		}
		last.Content = last.Content[:cut] + truncationMarker
		return []*models.ChatMessage{&last}
	}
	return history[keep:]
}
