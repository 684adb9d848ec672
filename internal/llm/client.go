// Package llm talks to a local llama.cpp completion server and schedules
// requests through a prioritized batching optimizer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig holds completion endpoint settings.
type ClientConfig struct {
	BaseURL     string        `json:"base_url"`
	Timeout     time.Duration `json:"timeout"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// DefaultClientConfig returns default configuration for a local server.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:     "http://localhost:8080",
		Timeout:     60 * time.Second,
		Temperature: 0.3,
		MaxTokens:   500,
	}
}

// Client is the llama.cpp HTTP client.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new completion client.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// CompletionRequest is one prompt for the /completion endpoint.
type CompletionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature"`
	NPredict    int      `json:"n_predict"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

// CompletionResponse is the server's reply.
type CompletionResponse struct {
	Content         string `json:"content"`
	TokensPredicted int    `json:"tokens_predicted"`
}

// StatusError carries a non-2xx HTTP status so callers can decide whether to
// retry.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm server returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a transient condition.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Complete sends one prompt and returns the generated text.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	content, _, err := c.CompleteWithUsage(ctx, prompt, maxTokens, temperature)
	return content, err
}

// CompleteWithUsage also returns the server-reported predicted token count.
func (c *Client) CompleteWithUsage(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, int, error) {
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}

	req := CompletionRequest{
		Prompt:      prompt,
		Temperature: temperature,
		NPredict:    maxTokens,
		Stream:      false,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}

	var completion CompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if completion.Content == "" {
		return "", 0, fmt.Errorf("empty completion from llm server")
	}
	return completion.Content, completion.TokensPredicted, nil
}

// Healthy probes the server's health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
