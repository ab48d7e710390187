package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GeminiClient implements Generator and Embedder against the Gemini REST API.
type GeminiClient struct {
	baseURL       string
	apiKey        string
	generateModel string
	embedModel    string
	httpClient    *http.Client
}

// NewGeminiClient constructs a client targeting the configured Gemini endpoint.
func NewGeminiClient(baseURL, apiKey, generateModel, embedModel string, timeout time.Duration) *GeminiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if generateModel == "" {
		generateModel = "gemini-2.0-flash-001"
	}
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}
	return &GeminiClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		generateModel: generateModel,
		embedModel:    embedModel,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// GenerateText renders a single prompt into model output text.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("%w: gemini endpoint not configured", ErrGenerationUnavailable)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt must not be empty")
	}

	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": prompt}}},
		},
	}

	var response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.generateModel)
	if err := c.postJSON(ctx, endpoint, payload, &response); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	var sb strings.Builder
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
		break
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty candidate response", ErrGenerationUnavailable)
	}
	return text, nil
}

// Embed converts texts to vectors in one batched call. The mode maps onto
// Gemini task types so ingest and query sides stay asymmetric.
func (c *GeminiClient) Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gemini endpoint not configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	taskType := "RETRIEVAL_DOCUMENT"
	if mode == ModeQuery {
		taskType = "RETRIEVAL_QUERY"
	}

	model := "models/" + c.embedModel
	requests := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		requests = append(requests, map[string]any{
			"model":    model,
			"content":  map[string]any{"parts": []map[string]any{{"text": text}}},
			"taskType": taskType,
		})
	}

	var response struct {
		Embeddings []struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:batchEmbedContents", c.baseURL, c.embedModel)
	if err := c.postJSON(ctx, endpoint, map[string]any{"requests": requests}, &response); err != nil {
		return nil, fmt.Errorf("gemini embed request failed: %w", err)
	}

	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(response.Embeddings), len(texts))
	}

	vectors := make([][]float32, 0, len(response.Embeddings))
	for _, emb := range response.Embeddings {
		if len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini returned an empty embedding vector")
		}
		vectors = append(vectors, emb.Values)
	}
	return vectors, nil
}

func (c *GeminiClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
