package embed

import (
	"context"
	"fmt"
)

// Service produces dense vectors for rule text and search queries. Rule
// text is embedded as authored, without injected overlap context, so a
// vector describes exactly one span of the source document.
type Service interface {
	// EmbedDocuments returns one vector per input text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery returns the vector for a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// FromEnv builds the provider selected by EMBED_PROVIDER.
func FromEnv(ctx context.Context, provider, geminiKey, geminiModel, ollamaURL, ollamaModel string) (Service, error) {
	switch provider {
	case "gemini":
		return NewGeminiService(ctx, geminiKey, geminiModel)
	case "ollama":
		return NewOllamaService(ollamaURL, ollamaModel)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
