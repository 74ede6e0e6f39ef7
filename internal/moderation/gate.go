// Package moderation implements the content-policy gate consulted before a
// request is submitted to a provider and after an artifact comes back.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"aistudio/internal/domain"
	"aistudio/internal/provider"
)

// Gate is the contract the orchestrator consumes.
type Gate interface {
	Check(ctx context.Context, content string, stage domain.ModerationStage) (domain.ModerationVerdict, error)
}

// Options configures the OpenAI moderation client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Throttle   *provider.Throttle
}

// Client checks content against the OpenAI moderation endpoint.
type Client struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	throttle *provider.Throttle
}

const moderationTimeout = 10 * time.Second

func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: moderationTimeout}
	}
	return &Client{apiKey: opts.APIKey, baseURL: baseURL, client: client, throttle: opts.Throttle}, nil
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

// Check runs the policy check. The pre stage inspects the fully assembled
// prompt; the post stage inspects the fetched artifact's description and
// metadata, never pixel content.
func (c *Client) Check(ctx context.Context, content string, stage domain.ModerationStage) (domain.ModerationVerdict, error) {
	var verdict domain.ModerationVerdict
	err := c.throttle.Do(ctx, func(ctx context.Context) error {
		v, err := c.check(ctx, content)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	if err != nil {
		return domain.ModerationVerdict{}, fmt.Errorf("moderation %s check: %w", stage, err)
	}
	return verdict, nil
}

func (c *Client) check(ctx context.Context, content string) (domain.ModerationVerdict, error) {
	body, err := json.Marshal(moderationRequest{Input: content})
	if err != nil {
		return domain.ModerationVerdict{}, fmt.Errorf("encode payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/moderations", bytes.NewReader(body))
	if err != nil {
		return domain.ModerationVerdict{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domain.ModerationVerdict{}, provider.ClassifyTransportError("moderation", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return domain.ModerationVerdict{}, provider.ClassifyHTTPStatus("moderation", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded moderationResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return domain.ModerationVerdict{}, domain.NewPermanentError("moderation: decode response", err)
	}
	if len(decoded.Results) == 0 {
		return domain.ModerationVerdict{}, domain.NewPermanentError("moderation: response has no results", nil)
	}
	result := decoded.Results[0]
	if !result.Flagged {
		return domain.ModerationVerdict{Allowed: true}, nil
	}
	return domain.ModerationVerdict{Allowed: false, Reason: flaggedReason(result.Categories)}, nil
}

func flaggedReason(categories map[string]bool) string {
	var flagged []string
	for name, hit := range categories {
		if hit {
			flagged = append(flagged, name)
		}
	}
	if len(flagged) == 0 {
		return "content flagged by moderation"
	}
	sort.Strings(flagged)
	return "flagged categories: " + strings.Join(flagged, ", ")
}

var _ Gate = (*Client)(nil)
