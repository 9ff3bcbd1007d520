package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ClaudeClient calls the Anthropic Messages API for rule extraction.
type ClaudeClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
	stats      *UsageStats
}

// NewClaudeClient builds a client. stats may be nil; when set, every call's
// latency and token usage is recorded there.
func NewClaudeClient(apiKey, model string, stats *UsageStats) *ClaudeClient {
	return &ClaudeClient{
		apiKey: apiKey,
		model:  model,
		stats:  stats,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractRules sends a chunk prompt and parses the rule candidates the
// model returns. Failures map onto the pipeline taxonomy: 429 and
// overload-class 5xx become RateLimitedError, deadline and transport
// timeouts become TimeoutError, and unusable payloads become
// InvalidResponseError.
func (c *ClaudeClient) ExtractRules(ctx context.Context, prompt string) (*Result, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: 4096,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Cause: err}
		}
		return nil, fmt.Errorf("claude api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return nil, &TimeoutError{Cause: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &RateLimitedError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("claude api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &InvalidResponseError{Reason: "undecodable body", Raw: string(respBody)}
	}
	if apiResp.Error != nil {
		return nil, &InvalidResponseError{Reason: fmt.Sprintf("%s: %s", apiResp.Error.Type, apiResp.Error.Message)}
	}
	if len(apiResp.Content) == 0 {
		return nil, &InvalidResponseError{Reason: "empty content"}
	}

	text := stripCodeBlock(apiResp.Content[0].Text)
	var candidates []RuleCandidate
	if err := json.Unmarshal([]byte(text), &candidates); err != nil {
		return nil, &InvalidResponseError{Reason: "rules are not a JSON array", Raw: text}
	}

	tokens := apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens
	if c.stats != nil {
		c.stats.Record(time.Since(start).Milliseconds(), tokens)
	}
	return &Result{Candidates: candidates, TokensUsed: tokens}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases resources.
func (c *ClaudeClient) Close() {
	c.httpClient.CloseIdleConnections()
}
