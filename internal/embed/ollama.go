package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

const defaultOllamaModel = "nomic-embed-text"

// OllamaService embeds text through a local Ollama server, for running the
// pipeline without an external embedding API.
type OllamaService struct {
	embedder *embeddings.EmbedderImpl
}

func NewOllamaService(serverURL, model string) (*OllamaService, error) {
	if model == "" {
		model = defaultOllamaModel
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &OllamaService{embedder: embedder}, nil
}

func (s *OllamaService) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (s *OllamaService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vector, nil
}

func (s *OllamaService) Close() error {
	return nil
}
