// Package llm wraps the chat-completion provider used for text refinement.
// It is treated as a provider of kind "text": the same transient/permanent
// error classification and throttling discipline apply.
package llm

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

	"aistudio/internal/domain"
	"aistudio/internal/provider"
)

// Refiner is the contract the agent pipeline consumes.
type Refiner interface {
	Refine(ctx context.Context, system, user string) (string, error)
}

// Options configures the OpenAI chat client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
	Throttle    *provider.Throttle
}

// Client implements Refiner against the OpenAI chat completions API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
	throttle    *provider.Throttle
}

const (
	defaultTimeout     = 30 * time.Second
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.7
	refineRetries      = 2
	refineBackoff      = 400 * time.Millisecond
)

func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:      opts.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		client:      client,
		throttle:    opts.Throttle,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Refine sends a system/user message pair and returns the trimmed completion.
// Transient failures are retried locally a small fixed number of times before
// escalating as permanent.
func (c *Client) Refine(ctx context.Context, system, user string) (string, error) {
	var out string
	var lastErr error
	for attempt := 0; attempt <= refineRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(refineBackoff << (attempt - 1)):
			}
		}
		err := c.throttle.Do(ctx, func(ctx context.Context) error {
			text, err := c.complete(ctx, system, user)
			if err != nil {
				return err
			}
			out = text
			return nil
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return "", err
		}
	}
	return "", domain.NewPermanentError("llm refine retries exhausted", lastErr)
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm: encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", provider.ClassifyTransportError("llm completion", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", provider.ClassifyHTTPStatus("llm completion", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", domain.NewPermanentError("llm completion: decode response", err)
	}
	if len(decoded.Choices) == 0 {
		return "", domain.NewPermanentError("llm completion: response has no choices", nil)
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

var _ Refiner = (*Client)(nil)
