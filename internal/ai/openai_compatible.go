package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrBackendUnavailable marks transport failures and 5xx/429 responses from
// any remote model backend. Ingestion retries these with backoff; query-time
// callers surface them immediately.
var ErrBackendUnavailable = errors.New("model backend unavailable")

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type OpenAICompatibleClient struct {
	httpClient *http.Client
}

func NewOpenAICompatibleClient() *OpenAICompatibleClient {
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	return c.complete(ctx, cfg, messages, false)
}

// CompleteJSON requests a JSON-object response, used by the graph extractor.
func (c *OpenAICompatibleClient) CompleteJSON(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	return c.complete(ctx, cfg, messages, true)
}

func (c *OpenAICompatibleClient) complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage, jsonMode bool) (string, error) {
	reqBody := map[string]interface{}{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   false,
	}
	if jsonMode {
		reqBody["response_format"] = map[string]string{"type": "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal llm request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response failed: %w", err)
	}
	if err := statusError("llm", resp.StatusCode, raw); err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// statusError maps an HTTP status to an error; 5xx and 429 wrap
// ErrBackendUnavailable so callers can decide whether to retry.
func statusError(kind string, statusCode int, raw []byte) error {
	if statusCode < 300 {
		return nil
	}
	if statusCode >= 500 || statusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s response status %d: %w: %s", kind, statusCode, ErrBackendUnavailable, truncateBody(raw))
	}
	return fmt.Errorf("%s response status %d: %s", kind, statusCode, truncateBody(raw))
}

func truncateBody(raw []byte) string {
	const max = 512
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
