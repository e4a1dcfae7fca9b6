package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decodeJSONBody(t *testing.T, r *http.Request, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
}

func TestRegistry_SelectPriority(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")
	t.Setenv("GOOGLE_API_KEY", "")

	r := NewRegistryFromEnv()
	p, err := r.Select("")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != ProviderOpenAI {
		t.Errorf("priority selection got %s, want openai", p.Name())
	}

	p, err = r.Select("anthropic")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != ProviderAnthropic {
		t.Errorf("named selection got %s", p.Name())
	}

	if _, err := r.Select("google"); !errors.Is(err, ErrNoProviderConfigured) {
		t.Errorf("unconfigured provider: got %v", err)
	}

	got := r.Available()
	if len(got) != 2 || got[0] != ProviderOpenAI || got[1] != ProviderAnthropic {
		t.Errorf("Available() = %v", got)
	}
}

func TestRegistry_empty(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	r := NewRegistryFromEnv()
	if _, err := r.Select(""); !errors.Is(err, ErrNoProviderConfigured) {
		t.Errorf("got %v", err)
	}
	if got := r.Available(); len(got) != 0 {
		t.Errorf("Available() = %v", got)
	}
	if r.Embedder() != nil {
		t.Error("empty registry should have no embedder")
	}
}

func TestRegistry_Embedder(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")
	t.Setenv("GOOGLE_API_KEY", "")

	// Anthropic has no embedding endpoint.
	r := NewRegistryFromEnv()
	if r.Embedder() != nil {
		t.Error("anthropic-only registry should have no embedder")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	r = NewRegistryFromEnv()
	if r.Embedder() == nil {
		t.Error("openai registry should expose an embedder")
	}
}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":" the answer "}}],"usage":{"prompt_tokens":10,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	p := &openAIProvider{apiKey: "sk-test", baseURL: srv.URL}
	got, err := p.Complete(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "the answer" {
		t.Errorf("content %q", got.Content)
	}
	if got.Usage.PromptTokens != 10 || got.Usage.CompletionTokens != 3 {
		t.Errorf("usage %+v", got.Usage)
	}
}

func TestOpenAI_errorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusBadGateway, ErrTransient},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		p := &openAIProvider{apiKey: "sk-test", baseURL: srv.URL}
		_, err := p.Complete(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "q"}}})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: got %v, want %v", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestOpenAI_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect and cancel the request context.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := &openAIProvider{apiKey: "sk-test", baseURL: srv.URL}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Complete(ctx, &Request{Messages: []Message{{Role: "user", Content: "q"}}})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"embedding":[0.25,0.5]}]}`))
	}))
	defer srv.Close()

	p := &openAIProvider{apiKey: "sk-test", baseURL: srv.URL}
	vec, err := p.Embed(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || vec[0] != 0.25 {
		t.Errorf("vec %v", vec)
	}
}

func TestAnthropic_Complete(t *testing.T) {
	var gotSystem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "ak-test" {
			t.Errorf("api key header %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("missing anthropic-version header")
		}
		var body struct {
			System    string `json:"system"`
			MaxTokens int    `json:"max_tokens"`
		}
		decodeJSONBody(t, r, &body)
		gotSystem = body.System
		if body.MaxTokens != 2000 {
			t.Errorf("max_tokens %d, want default 2000", body.MaxTokens)
		}
		w.Write([]byte(`{"content":[{"text":"answer"}],"usage":{"input_tokens":5,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := &anthropicProvider{apiKey: "ak-test", baseURL: srv.URL}
	got, err := p.Complete(context.Background(), &Request{
		Messages: []Message{
			{Role: "system", Content: "be helpful"},
			{Role: "user", Content: "q"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "answer" {
		t.Errorf("content %q", got.Content)
	}
	if gotSystem != "be helpful" {
		t.Errorf("system prompt not lifted to top level: %q", gotSystem)
	}
	if got.Usage.PromptTokens != 5 || got.Usage.CompletionTokens != 2 {
		t.Errorf("usage %+v", got.Usage)
	}
}

func TestAnthropic_errorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := &anthropicProvider{apiKey: "ak-test", baseURL: srv.URL}
	_, err := p.Complete(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "q"}}})
	if !errors.Is(err, ErrTransient) {
		t.Errorf("got %v, want ErrTransient", err)
	}
}
