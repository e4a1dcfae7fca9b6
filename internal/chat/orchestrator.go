package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/squarest/notebook/internal/ai"
	"github.com/squarest/notebook/internal/models"
	"github.com/squarest/notebook/internal/retrieval"
	"github.com/squarest/notebook/internal/storage"
)

// Config holds orchestrator settings.
type Config struct {
	Provider      string // default provider name; empty uses priority order
	Model         string // model hint passed to the provider
	Temperature   float64
	MaxTokens     int // 0 lets the provider default apply
	TopK          int // grounding chunks per question
	HistoryTurns  int // prior messages kept in the prompt
	HistoryBudget int // character budget for history content
	Timeout       time.Duration
	RetryBackoff  time.Duration // pause before the single transient retry
}

// Orchestrator answers questions grounded in retrieved chunks and persists
// the conversation.
type Orchestrator struct {
	store     storage.Storage
	retriever retrieval.Retriever
	registry  *ai.Registry
	cfg       Config
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store storage.Storage, retriever retrieval.Retriever, registry *ai.Registry, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		retriever: retriever,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ask answers query within the conversation. A new conversation is created
// implicitly when conversationID is empty (the returned message carries the
// assigned ID). On success the user and assistant messages are persisted
// atomically; on any failure only the user message is persisted, so the
// history never shows an assistant turn without content, and the error is
// surfaced to the caller.
func (o *Orchestrator) Ask(ctx context.Context, conversationID, query, providerName string) (*models.ChatMessage, error) {
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	userMsg := &models.ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        query,
	}

	answer, err := o.answer(ctx, conversationID, query, providerName)
	if err != nil {
		if persistErr := o.store.AppendMessage(ctx, userMsg); persistErr != nil {
			o.logger.Error("persist user message after failed ask",
				zap.String("conversation_id", conversationID), zap.Error(persistErr))
		}
		return nil, err
	}

	assistantMsg := &models.ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        answer.content,
		CitedChunkIDs:  answer.citedChunkIDs,
		Provider:       answer.provider,
	}
	if err := o.store.AppendExchange(ctx, userMsg, assistantMsg); err != nil {
		return nil, fmt.Errorf("persist exchange: %w", err)
	}
	return assistantMsg, nil
}

// History returns the conversation in replay order. An unknown conversation
// is simply empty, since conversations exist only through their messages.
func (o *Orchestrator) History(ctx context.Context, conversationID string) ([]*models.ChatMessage, error) {
	return o.store.MessagesForConversation(ctx, conversationID)
}

// Clear deletes a whole conversation.
func (o *Orchestrator) Clear(ctx context.Context, conversationID string) error {
	return o.store.ClearConversation(ctx, conversationID)
}

type answerResult struct {
	content       string
	citedChunkIDs []string
	provider      string
}

func (o *Orchestrator) answer(ctx context.Context, conversationID, query, providerName string) (*answerResult, error) {
	if providerName == "" {
		providerName = o.cfg.Provider
	}
	provider, err := o.registry.Select(providerName)
	if err != nil {
		return nil, err
	}

	history, err := o.store.MessagesForConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	chunks, err := o.retriever.Retrieve(ctx, query, o.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve grounding: %w", err)
	}
	sourceNames, err := o.sourceNames(ctx, chunks)
	if err != nil {
		return nil, err
	}

	req := &ai.Request{
		Messages: BuildMessages(history, chunks, sourceNames, query, PromptConfig{
			HistoryTurns:  o.cfg.HistoryTurns,
			HistoryBudget: o.cfg.HistoryBudget,
		}),
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}

	completion, err := o.complete(ctx, provider, req)
	if err != nil {
		return nil, err
	}

	cited := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		cited = append(cited, ch.ID)
	}
	return &answerResult{
		content:       completion.Content,
		citedChunkIDs: cited,
		provider:      provider.Name(),
	}, nil
}

// complete invokes the provider under the configured timeout, retrying
// exactly once after a short fixed backoff on transient errors. Timeouts and
// every other provider error surface immediately; retrying those is the
// caller's decision.
func (o *Orchestrator) complete(ctx context.Context, provider ai.Provider, req *ai.Request) (*ai.Completion, error) {
	attempt := func() (*ai.Completion, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
		return provider.Complete(callCtx, req)
	}

	completion, err := attempt()
	if err != nil && errors.Is(err, ai.ErrTransient) {
		o.logger.Warn("transient provider error, retrying once",
			zap.String("provider", provider.Name()), zap.Error(err))
		select {
		case <-time.After(o.cfg.RetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		completion, err = attempt()
	}
	return completion, err
}

func (o *Orchestrator) sourceNames(ctx context.Context, chunks []*models.Chunk) (map[string]string, error) {
	names := make(map[string]string)
	for _, ch := range chunks {
		if _, ok := names[ch.SourceID]; ok {
			continue
		}
		src, err := o.store.GetSource(ctx, ch.SourceID)
		if err != nil {
			return nil, fmt.Errorf("load source %s: %w", ch.SourceID, err)
		}
		names[ch.SourceID] = src.Filename
	}
	return names, nil
}
