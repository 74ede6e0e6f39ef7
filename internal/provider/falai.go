package provider

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
)

// FalOptions configures the fal.ai image backend.
type FalOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// FalImageBackend submits image generation requests to the fal.ai queue API
// and follows its request-id based status/response resources.
type FalImageBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

const (
	falDefaultTimeout = 60 * time.Second
	falImageProvider  = "falai"
)

func NewFalImageBackend(opts FalOptions) (*FalImageBackend, error) {
	if opts.APIKey == "" {
		return nil, errors.New("fal api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://queue.fal.run/fal-ai/z-image/turbo"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: falDefaultTimeout}
	}
	return &FalImageBackend{apiKey: opts.APIKey, baseURL: baseURL, client: client}, nil
}

func (b *FalImageBackend) Kind() domain.ProviderKind { return domain.ProviderKindImage }

func (b *FalImageBackend) Name() string { return falImageProvider }

type falSubmitRequest struct {
	Prompt              string `json:"prompt"`
	ImageURL            string `json:"image_url,omitempty"`
	NumImages           int    `json:"num_images"`
	OutputFormat        string `json:"output_format"`
	EnableSafetyChecker bool   `json:"enable_safety_checker"`
}

type falSubmitResponse struct {
	RequestID string `json:"request_id"`
}

type falStatusResponse struct {
	Status string `json:"status"`
}

type falResultResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// Submit enqueues an image generation request. A trailing fidelity
// instruction is appended so product text survives re-rendering.
func (b *FalImageBackend) Submit(ctx context.Context, req *domain.GenerationRequest) (string, error) {
	payload := falSubmitRequest{
		Prompt:              req.FinalPrompt + " . Ensure product text is perfectly clear and unchanged.",
		ImageURL:            req.Brief.ReferenceImageURL,
		NumImages:           1,
		OutputFormat:        "png",
		EnableSafetyChecker: true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fal submit: encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("fal submit: build request: %w", err)
	}
	b.setHeaders(httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", ClassifyTransportError("fal submit", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", ClassifyHTTPStatus("fal submit", resp.StatusCode, snippet(data))
	}

	var submitted falSubmitResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		return "", domain.NewPermanentError("fal submit: decode response", err)
	}
	if submitted.RequestID == "" {
		return "", domain.NewPermanentError("fal submit: response missing request id", nil)
	}
	return submitted.RequestID, nil
}

// Status follows the queue status resource for a submitted request.
func (b *FalImageBackend) Status(ctx context.Context, providerID string) (domain.SubmissionStatus, error) {
	url := fmt.Sprintf("%s/requests/%s/status", b.baseURL, providerID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fal status: build request: %w", err)
	}
	b.setHeaders(httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", ClassifyTransportError("fal status", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", ClassifyHTTPStatus("fal status", resp.StatusCode, snippet(data))
	}

	var status falStatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		return "", domain.NewPermanentError("fal status: decode response", err)
	}
	switch status.Status {
	case "COMPLETED":
		return domain.SubmissionSucceeded, nil
	case "IN_QUEUE", "IN_PROGRESS":
		return domain.SubmissionPending, nil
	default:
		return domain.SubmissionFailed, nil
	}
}

// Result fetches the generated image reference for a completed request.
func (b *FalImageBackend) Result(ctx context.Context, providerID string) (*domain.ArtifactRef, error) {
	url := fmt.Sprintf("%s/requests/%s", b.baseURL, providerID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fal result: build request: %w", err)
	}
	b.setHeaders(httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransportError("fal result", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return nil, ClassifyHTTPStatus("fal result", resp.StatusCode, snippet(data))
	}

	var result falResultResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, domain.NewPermanentError("fal result: decode response", err)
	}
	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return nil, domain.NewPermanentError("fal result: completed without images", nil)
	}
	return &domain.ArtifactRef{
		URL:    result.Images[0].URL,
		Format: "image/png",
	}, nil
}

func (b *FalImageBackend) setHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Key "+b.apiKey)
	r.Header.Set("Content-Type", "application/json")
}

var _ Backend = (*FalImageBackend)(nil)
