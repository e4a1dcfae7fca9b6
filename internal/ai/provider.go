// Package ai provides a uniform chat-completion interface over the supported
// AI vendors (OpenAI, Anthropic, Google Gemini), normalizing request shape
// and error semantics. Adapters never retry; retry policy belongs to the chat
// orchestrator.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Shared error taxonomy. Adapters map vendor-specific failures onto these so
// callers can distinguish configuration problems from retryable conditions.
var (
	// ErrNoProviderConfigured means no provider has a credential configured.
	ErrNoProviderConfigured = errors.New("no ai provider configured")
	// ErrAuth means the provider rejected the configured credential.
	ErrAuth = errors.New("provider rejected credentials")
	// ErrRateLimited means the provider throttled the request.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrTimeout means the request exceeded its deadline.
	ErrTimeout = errors.New("provider request timed out")
	// ErrTransient means a retryable network or server-side failure.
	ErrTransient = errors.New("transient provider error")
)

// Message is one turn in a completion request. Role is "system", "user", or
// "assistant".
type Message struct {
	Role    string
	Content string
}

// Request is a vendor-neutral completion request. Model may be empty to use
// the provider's default.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Usage reports token consumption when the vendor provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion is a vendor-neutral completion response.
type Completion struct {
	Content string
	Usage   Usage
}

// Provider is one chat backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// Embedder is the optional embedding capability of a provider, used by the
// semantic retriever.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// priority is the fixed selection order when the caller does not name a
// provider.
var priority = []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogle}

// Provider names accepted by Registry.Select.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Registry holds the providers that have a credential configured.
type Registry struct {
	providers map[string]Provider
}

// NewRegistryFromEnv builds a registry from OPENAI_API_KEY, ANTHROPIC_API_KEY,
// and GOOGLE_API_KEY. Missing keys simply leave that provider out; an empty
// registry is valid (ingestion and notes work without chat).
func NewRegistryFromEnv() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		r.providers[ProviderOpenAI] = newOpenAIProvider(key)
	}
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		r.providers[ProviderAnthropic] = newAnthropicProvider(key)
	}
	if key := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); key != "" {
		r.providers[ProviderGoogle] = newGeminiProvider(key)
	}
	return r
}

// Register adds or replaces a provider. Used by tests to inject fakes.
func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
}

// Select returns the named provider, or when name is empty the first
// configured provider in priority order. Returns ErrNoProviderConfigured when
// nothing is configured or the named provider has no credential.
func (r *Registry) Select(name string) (Provider, error) {
	if name != "" {
		if p, ok := r.providers[strings.ToLower(name)]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("%w: %q has no API key set", ErrNoProviderConfigured, name)
	}
	for _, candidate := range priority {
		if p, ok := r.providers[candidate]; ok {
			return p, nil
		}
	}
	return nil, ErrNoProviderConfigured
}

// Available lists configured provider names in priority order.
func (r *Registry) Available() []string {
	var out []string
	for _, name := range priority {
		if _, ok := r.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Embedder returns the first configured provider that can embed, or nil.
// OpenAI and Gemini expose embedding endpoints; Anthropic does not.
func (r *Registry) Embedder() Embedder {
	for _, name := range priority {
		if e, ok := r.providers[name].(Embedder); ok {
			return e
		}
	}
	return nil
}

// httpClient is shared by the HTTP-based adapters. Deadlines come from the
// request context, not the client.
var httpClient = &http.Client{Timeout: 5 * time.Minute}

// mapHTTPStatus converts a non-2xx vendor response into the shared taxonomy.
func mapHTTPStatus(provider string, status int, body string) error {
	body = strings.TrimSpace(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", ErrAuth, provider, body)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %s", ErrRateLimited, provider, body)
	case status >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", ErrTransient, provider, status, body)
	default:
		return fmt.Errorf("%s request failed with %d: %s", provider, status, body)
	}
}

// mapTransportError converts transport-level failures: a context deadline is
// a timeout, everything else network-ish is transient.
func mapTransportError(ctx context.Context, provider string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, provider)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrTransient, provider, err)
}
