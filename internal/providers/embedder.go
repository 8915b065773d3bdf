// Package providers contains implementations of the engine's provider ports:
// OpenAI-compatible HTTP clients for embeddings and summarization, and
// deterministic fakes for tests and offline use.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"weaver/internal/errors"
	"weaver/internal/logging"
)

// EmbedderConfig holds embedding provider configuration.
type EmbedderConfig struct {
	Model      string        // default "text-embedding-3-small"
	APIKey     string
	BaseURL    string        // optional, defaults to OpenAI
	Timeout    time.Duration // per-request HTTP timeout (default 30s)
	Dimensions int           // default 1536 (text-embedding-3-small)
}

// OpenAIEmbedder implements ports.EmbeddingProvider against any
// OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	config     EmbedderConfig
	httpClient *http.Client
	retry      errors.RetryConfig
	logger     logging.Logger
}

// NewOpenAIEmbedder creates an embedding provider.
func NewOpenAIEmbedder(config EmbedderConfig, logger logging.Logger) *OpenAIEmbedder {
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Dimensions <= 0 {
		config.Dimensions = 1536
	}
	return &OpenAIEmbedder{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      errors.DefaultRetryConfig(),
		logger:     logging.OrNop(logger),
	}
}

// Embed generates an embedding for a single text, retrying transient
// failures with exponential backoff. All failures are wrapped as
// EmbeddingError so the caller degrades instead of failing the request.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding, err := errors.RetryWithResultAndLog(ctx, e.retry, func(ctx context.Context) ([]float32, error) {
		return e.callAPI(ctx, text)
	}, e.logger)
	if err != nil {
		return nil, &errors.EmbeddingError{Err: err}
	}
	return embedding, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

func (e *OpenAIEmbedder) callAPI(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{
		"model": e.config.Model,
		"input": []string{text},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return apiResp.Data[0].Embedding, nil
}
