package ai

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

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Embed returns the embedding vector for the given text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, cfg EmbeddingConfig, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}
	vecs, err := c.embed(ctx, cfg, []interface{}{text}, "embedding")
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for multiple texts, one result per input in
// input order. Whitespace-only texts never reach the backend; their position
// holds a nil vector so callers can rely on the alignment.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, cfg EmbeddingConfig, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input := make([]interface{}, 0, len(texts))
	pos := make([]int, 0, len(texts))
	for i, t := range texts {
		if s := strings.TrimSpace(t); s != "" {
			input = append(input, s)
			pos = append(pos, i)
		}
	}
	result := make([][]float32, len(texts))
	if len(input) == 0 {
		return result, nil
	}

	vecs, err := c.embed(ctx, cfg, input, "embedding batch")
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(input) {
		return nil, fmt.Errorf("embedding batch returned %d vectors for %d inputs", len(vecs), len(input))
	}
	for i, v := range vecs {
		result[pos[i]] = v
	}
	return result, nil
}

func (c *OpenAICompatibleClient) embed(ctx context.Context, cfg EmbeddingConfig, input []interface{}, kind string) ([][]float32, error) {
	var body interface{} = input
	if len(input) == 1 {
		body = input[0]
	}
	reqBody := map[string]interface{}{
		"model": cfg.Model,
		"input": body,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request failed: %w", kind, err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build %s request failed: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	client := c.httpClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w: %v", kind, ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response failed: %w", kind, err)
	}
	if err := statusError(kind, resp.StatusCode, raw); err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s json failed: %w", kind, err)
	}
	result := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		result[i] = parsed.Data[i].Embedding
	}
	return result, nil
}
