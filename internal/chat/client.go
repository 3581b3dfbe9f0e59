// Package chat calls an OpenAI-compatible chat completion endpoint.
package chat

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

// ProviderOpenAICompatible is the only supported provider.
const ProviderOpenAICompatible = "openai_compatible"

const systemPrompt = "You are Daisy, a calm, helpful AI copilot. Keep responses concise and practical."

// ErrNotConfigured is returned when the provider settings are incomplete.
var ErrNotConfigured = errors.New("llm config missing: set LLM_URL, LLM_API_KEY, LLM_MODEL")

// Config holds the provider settings.
type Config struct {
	Provider    string
	URL         string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client sends one user message per request and returns the assistant reply.
type Client struct {
	http *http.Client
	cfg  Config
}

// NewClient constructs a Client. A zero timeout falls back to 30 seconds.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAICompatible
	}
	return &Client{http: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Reply posts message to the provider and returns the first choice.
func (c *Client) Reply(ctx context.Context, text string) (string, error) {
	if c.cfg.Provider != ProviderOpenAICompatible {
		return "", fmt.Errorf("unsupported llm provider %q", c.cfg.Provider)
	}
	if c.cfg.URL == "" || c.cfg.APIKey == "" || c.cfg.Model == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(completionRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// StatusError reports a non-successful provider response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm provider returned %d: %s", e.Status, e.Body)
}
