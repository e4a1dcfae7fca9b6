package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel          = "gemini-2.0-flash"
	defaultGeminiEmbeddingModel = "text-embedding-004"
)

type geminiProvider struct {
	apiKey string
}

func newGeminiProvider(apiKey string) *geminiProvider {
	return &geminiProvider{apiKey: apiKey}
}

func (p *geminiProvider) Name() string { return ProviderGoogle }

func (p *geminiProvider) client(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func (p *geminiProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: google: %v", ErrTransient, err)
	}
	model := req.Model
	if model == "" {
		model = defaultGeminiModel
	}

	// Gemini takes the system prompt in the generation config and names the
	// assistant role "model".
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, mapGeminiError(ctx, err)
	}
	completion := &Completion{Content: strings.TrimSpace(resp.Text())}
	if resp.UsageMetadata != nil {
		completion.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return completion, nil
}

// Embed implements the Embedder capability.
func (p *geminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: google: %v", ErrTransient, err)
	}
	resp, err := client.Models.EmbedContent(ctx, defaultGeminiEmbeddingModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}}, nil)
	if err != nil {
		return nil, mapGeminiError(ctx, err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("google response has no embeddings")
	}
	return resp.Embeddings[0].Values, nil
}

// mapGeminiError classifies SDK errors by the status the API reports in the
// error text, since the SDK surfaces plain errors.
func mapGeminiError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return mapTransportError(ctx, ProviderGoogle, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNAUTHENTICATED"), strings.Contains(msg, "PERMISSION_DENIED"),
		strings.Contains(msg, "API key"):
		return fmt.Errorf("%w: google: %v", ErrAuth, err)
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"), strings.Contains(msg, "429"):
		return fmt.Errorf("%w: google: %v", ErrRateLimited, err)
	case strings.Contains(msg, "UNAVAILABLE"), strings.Contains(msg, "INTERNAL"),
		strings.Contains(msg, "DEADLINE_EXCEEDED"):
		return fmt.Errorf("%w: google: %v", ErrTransient, err)
	default:
		return fmt.Errorf("google request failed: %w", err)
	}
}
