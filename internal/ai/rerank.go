package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RerankConfig holds API settings for a cross-encoder /rerank endpoint
// (Cohere/Jina-compatible wire format).
type RerankConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// RerankScore pairs a candidate's position in the request with its relevance.
type RerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Rerank scores each document against the query with a cross-encoder and
// returns one score per input document, in input order. Callers bound the
// candidate list before invoking; cost scales with its size.
func (c *OpenAICompatibleClient) Rerank(ctx context.Context, cfg RerankConfig, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	reqBody := map[string]interface{}{
		"model":     cfg.Model,
		"query":     query,
		"documents": documents,
		"top_n":     len(documents),
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build rerank request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response failed: %w", err)
	}
	if err := statusError("rerank", resp.StatusCode, raw); err != nil {
		return nil, err
	}

	var parsed struct {
		Results []RerankScore `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank json failed: %w", err)
	}

	scores := make([]float64, len(documents))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}
