package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/squarest/notebook/internal/ai"
	"github.com/squarest/notebook/internal/models"
	"github.com/squarest/notebook/internal/storage"
)

type fakeProvider struct {
	name     string
	answer   string
	errs     []error // error per call; nil entry means success
	calls    int
	requests []*ai.Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *ai.Request) (*ai.Completion, error) {
	f.calls++
	f.requests = append(f.requests, req)
	if len(f.errs) >= f.calls && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	return &ai.Completion{Content: f.answer}, nil
}

type fakeRetriever struct {
	chunks []*models.Chunk
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) ([]*models.Chunk, error) {
	return f.chunks, nil
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
}

func newTestOrchestrator(t *testing.T, provider *fakeProvider, retriever *fakeRetriever, cfg Config) (*Orchestrator, storage.Storage) {
	t.Helper()
	clearProviderEnv(t)
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	registry := ai.NewRegistryFromEnv()
	if provider != nil {
		registry.Register(provider.name, provider)
	}
	if retriever == nil {
		retriever = &fakeRetriever{}
	}
	return NewOrchestrator(store, retriever, registry, cfg, nil), store
}

func TestAsk_persistsExchange(t *testing.T) {
	provider := &fakeProvider{name: ai.ProviderOpenAI, answer: "grounded answer"}
	retriever := &fakeRetriever{}
	o, store := newTestOrchestrator(t, provider, retriever, Config{})
	ctx := context.Background()

	// Seed a chunk so citations have something to point at.
	if err := store.CreateSource(ctx, &models.Source{ID: "s1", Filename: "doc.txt"}); err != nil {
		t.Fatal(err)
	}
	chunk := &models.Chunk{ID: "c1", SourceID: "s1", Seq: 0, Content: "relevant excerpt"}
	if err := store.AddChunks(ctx, "s1", []*models.Chunk{chunk}); err != nil {
		t.Fatal(err)
	}
	retriever.chunks = []*models.Chunk{chunk}

	msg, err := o.Ask(ctx, "", "what does the doc say?", "")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ConversationID == "" {
		t.Error("implicit conversation should be assigned an ID")
	}
	if msg.Content != "grounded answer" || msg.Role != models.RoleAssistant {
		t.Errorf("msg %+v", msg)
	}
	if len(msg.CitedChunkIDs) != 1 || msg.CitedChunkIDs[0] != "c1" {
		t.Errorf("cited %v", msg.CitedChunkIDs)
	}
	if msg.Provider != ai.ProviderOpenAI {
		t.Errorf("provider %q", msg.Provider)
	}

	history, err := o.History(ctx, msg.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user+assistant, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Errorf("roles %s, %s", history[0].Role, history[1].Role)
	}
	if history[0].Position != 0 || history[1].Position != 1 {
		t.Errorf("positions %d, %d", history[0].Position, history[1].Position)
	}
}

func TestAsk_failureKeepsUserMessageOnly(t *testing.T) {
	provider := &fakeProvider{name: ai.ProviderOpenAI, errs: []error{ai.ErrAuth}}
	o, _ := newTestOrchestrator(t, provider, nil, Config{})
	ctx := context.Background()

	_, err := o.Ask(ctx, "conv1", "doomed question", "")
	if !errors.Is(err, ai.ErrAuth) {
		t.Fatalf("got %v, want ErrAuth", err)
	}

	history, _ := o.History(ctx, "conv1")
	if len(history) != 1 {
		t.Fatalf("expected only the user message, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "doomed question" {
		t.Errorf("history[0] = %+v", history[0])
	}
}

func TestAsk_noProviderConfigured(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil, Config{})
	_, err := o.Ask(context.Background(), "conv1", "q", "")
	if !errors.Is(err, ai.ErrNoProviderConfigured) {
		t.Fatalf("got %v", err)
	}
	// The question is still recorded.
	history, _ := o.History(context.Background(), "conv1")
	if len(history) != 1 {
		t.Errorf("expected 1 message, got %d", len(history))
	}
}

func TestAsk_retriesOnceOnTransient(t *testing.T) {
	provider := &fakeProvider{
		name:   ai.ProviderOpenAI,
		answer: "recovered",
		errs:   []error{ai.ErrTransient, nil},
	}
	o, _ := newTestOrchestrator(t, provider, nil, Config{RetryBackoff: time.Millisecond})

	msg, err := o.Ask(context.Background(), "", "q", "")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "recovered" {
		t.Errorf("content %q", msg.Content)
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", provider.calls)
	}
}

func TestAsk_transientFailsAfterSingleRetry(t *testing.T) {
	provider := &fakeProvider{
		name: ai.ProviderOpenAI,
		errs: []error{ai.ErrTransient, ai.ErrTransient},
	}
	o, _ := newTestOrchestrator(t, provider, nil, Config{RetryBackoff: time.Millisecond})

	_, err := o.Ask(context.Background(), "", "q", "")
	if !errors.Is(err, ai.ErrTransient) {
		t.Fatalf("got %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", provider.calls)
	}
}

func TestAsk_noRetryOnAuthOrRateLimit(t *testing.T) {
	for _, sentinel := range []error{ai.ErrAuth, ai.ErrRateLimited, ai.ErrTimeout} {
		provider := &fakeProvider{name: ai.ProviderOpenAI, errs: []error{sentinel}}
		o, _ := newTestOrchestrator(t, provider, nil, Config{RetryBackoff: time.Millisecond})
		if _, err := o.Ask(context.Background(), "", "q", ""); !errors.Is(err, sentinel) {
			t.Errorf("got %v, want %v", err, sentinel)
		}
		if provider.calls != 1 {
			t.Errorf("%v: expected 1 attempt, got %d", sentinel, provider.calls)
		}
	}
}

func TestAsk_providerOverride(t *testing.T) {
	openai := &fakeProvider{name: ai.ProviderOpenAI, answer: "from openai"}
	google := &fakeProvider{name: ai.ProviderGoogle, answer: "from google"}
	o, _ := newTestOrchestrator(t, openai, nil, Config{})
	// Register the second provider alongside the default one.
	_, err := o.Ask(context.Background(), "", "q", "google")
	if !errors.Is(err, ai.ErrNoProviderConfigured) {
		t.Fatalf("unregistered override should fail, got %v", err)
	}
	o.registry.Register(ai.ProviderGoogle, google)
	msg, err := o.Ask(context.Background(), "", "q", "google")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "from google" || msg.Provider != ai.ProviderGoogle {
		t.Errorf("msg %+v", msg)
	}
	if openai.calls != 0 {
		t.Errorf("default provider called despite override")
	}
}

func TestAsk_passesConfigToProvider(t *testing.T) {
	provider := &fakeProvider{name: ai.ProviderOpenAI, answer: "ok"}
	o, _ := newTestOrchestrator(t, provider, nil, Config{
		Model:       "custom-model",
		Temperature: 0.3,
		MaxTokens:   512,
	})
	if _, err := o.Ask(context.Background(), "", "q", ""); err != nil {
		t.Fatal(err)
	}
	req := provider.requests[0]
	if req.Model != "custom-model" || req.Temperature != 0.3 || req.MaxTokens != 512 {
		t.Errorf("request %+v", req)
	}
	if len(req.Messages) < 2 || req.Messages[0].Role != "system" {
		t.Errorf("messages %+v", req.Messages)
	}
}

func TestClear(t *testing.T) {
	provider := &fakeProvider{name: ai.ProviderOpenAI, answer: "a"}
	o, _ := newTestOrchestrator(t, provider, nil, Config{})
	ctx := context.Background()

	msg, err := o.Ask(ctx, "", "q", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Clear(ctx, msg.ConversationID); err != nil {
		t.Fatal(err)
	}
	history, _ := o.History(ctx, msg.ConversationID)
	if len(history) != 0 {
		t.Errorf("conversation not cleared: %d messages", len(history))
	}
}
