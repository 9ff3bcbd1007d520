package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultQdrantCollection = "regula_rules"

// QdrantIndex implements VectorIndex against a qdrant instance over its
// REST API.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

type qdrantUpsertRequest struct {
	Points []qdrantPoint `json:"points"`
}

type qdrantSearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      string  `json:"id"`
		Score   float64 `json:"score"`
		Payload Payload `json:"payload"`
	} `json:"result"`
}

type qdrantMatch struct {
	Value string `json:"value"`
}

type qdrantCondition struct {
	Key   string      `json:"key"`
	Match qdrantMatch `json:"match"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantDeleteRequest struct {
	Filter qdrantFilter `json:"filter"`
}

type qdrantCreateRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

// NewQdrantIndex connects to qdrant and creates the collection if it
// does not exist yet.
func NewQdrantIndex(ctx context.Context, baseURL, apiKey, collection string, dimension int) (*QdrantIndex, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant index requires a base url")
	}
	if collection == "" {
		collection = defaultQdrantCollection
	}
	if dimension <= 0 {
		dimension = defaultDimension
	}
	q := &QdrantIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	if err := q.ensureCollection(ctx, dimension); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dimension int) error {
	url := fmt.Sprintf("%s/collections/%s", q.baseURL, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q.setHeaders(req)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", q.collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("get collection %s: status %d: %s", q.collection, resp.StatusCode, string(respBody))
	}
	return q.createCollection(ctx, dimension)
}

func (q *QdrantIndex) createCollection(ctx context.Context, dimension int) error {
	body, err := json.Marshal(qdrantCreateRequest{
		Vectors: qdrantVectorParams{Size: dimension, Distance: "Cosine"},
	})
	if err != nil {
		return fmt.Errorf("marshal collection config: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", q.baseURL, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q.setHeaders(req)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("create collection %s: status %d: %s", q.collection, resp.StatusCode, string(respBody))
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	wire := make([]qdrantPoint, len(points))
	for i, pt := range points {
		wire[i] = qdrantPoint{ID: pt.ID, Vector: pt.Vector, Payload: pt.Payload}
	}
	body, err := json.Marshal(qdrantUpsertRequest{Points: wire})
	if err != nil {
		return fmt.Errorf("marshal points: %w", err)
	}

	// wait=true so a search issued right after indexing sees the points.
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", q.baseURL, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q.setHeaders(req)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upsert points: status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	body, err := json.Marshal(qdrantSearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", q.baseURL, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.setHeaders(req)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search points: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		// qdrant reports cosine similarity; convert so ascending
		// distance means more similar, matching the other backends.
		hits = append(hits, Hit{ID: r.ID, Distance: 1 - r.Score, Payload: r.Payload})
	}
	return hits, nil
}

func (q *QdrantIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	body, err := json.Marshal(qdrantDeleteRequest{
		Filter: qdrantFilter{
			Must: []qdrantCondition{{Key: "document_id", Match: qdrantMatch{Value: documentID}}},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal delete request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.baseURL, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q.setHeaders(req)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete points for document %s: %w", documentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("delete points for document %s: status %d: %s", documentID, resp.StatusCode, string(respBody))
	}
	return nil
}

func (q *QdrantIndex) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
}

func (q *QdrantIndex) Close() error {
	q.httpClient.CloseIdleConnections()
	return nil
}
