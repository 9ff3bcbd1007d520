package embed

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "text-embedding-004"

// GeminiService embeds text through the Gemini embedding API. Document and
// query embeddings use distinct task types so retrieval stays asymmetric.
type GeminiService struct {
	client   *genai.Client
	docModel *genai.EmbeddingModel
	qryModel *genai.EmbeddingModel
}

func NewGeminiService(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	docModel := client.EmbeddingModel(model)
	docModel.TaskType = genai.TaskTypeRetrievalDocument
	qryModel := client.EmbeddingModel(model)
	qryModel.TaskType = genai.TaskTypeRetrievalQuery
	return &GeminiService{client: client, docModel: docModel, qryModel: qryModel}, nil
}

func (s *GeminiService) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batch := s.docModel.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := s.docModel.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("batch embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("batch embed: got %d vectors for %d texts", len(res.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("batch embed: empty vector at index %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (s *GeminiService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := s.qryModel.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embed query: empty vector")
	}
	return res.Embedding.Values, nil
}

func (s *GeminiService) Close() error {
	return s.client.Close()
}
