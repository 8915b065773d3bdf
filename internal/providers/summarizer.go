package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"weaver/internal/errors"
	"weaver/internal/logging"
)

const summarizerSystemPrompt = "Summarize the following conversation concisely, " +
	"preserving decisions, stated preferences, and open questions. " +
	"Respond with the summary only."

// SummarizerConfig holds summarizer configuration.
type SummarizerConfig struct {
	Model     string        // default "gpt-4o-mini"
	APIKey    string
	BaseURL   string        // optional, defaults to OpenAI
	Timeout   time.Duration // per-request HTTP timeout (default 30s)
	MaxTokens int           // response cap (default 512)
}

// OpenAISummarizer implements ports.Summarizer against any OpenAI-compatible
// chat completions endpoint.
type OpenAISummarizer struct {
	config     SummarizerConfig
	httpClient *http.Client
	retry      errors.RetryConfig
	logger     logging.Logger
}

// NewOpenAISummarizer creates a summarizer provider.
func NewOpenAISummarizer(config SummarizerConfig, logger logging.Logger) *OpenAISummarizer {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 512
	}
	return &OpenAISummarizer{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      errors.DefaultRetryConfig(),
		logger:     logging.OrNop(logger),
	}
}

// Summarize condenses text via the chat completions API. Failures are
// wrapped as SummarizationError; the conversation manager falls back to
// truncation on them.
func (s *OpenAISummarizer) Summarize(ctx context.Context, text string) (string, error) {
	summary, err := errors.RetryWithResultAndLog(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.callAPI(ctx, text)
	}, s.logger)
	if err != nil {
		return "", &errors.SummarizationError{Err: err}
	}
	return summary, nil
}

func (s *OpenAISummarizer) callAPI(ctx context.Context, text string) (string, error) {
	reqBody := map[string]any{
		"model":      s.config.Model,
		"max_tokens": s.config.MaxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": summarizerSystemPrompt},
			{"role": "user", "content": text},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
}
