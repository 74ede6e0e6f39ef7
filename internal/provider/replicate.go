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

// ReplicateOptions configures the Replicate image backend.
type ReplicateOptions struct {
	APIToken   string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
}

// ReplicateImageBackend is an alternative image backend using the Replicate
// predictions API. Selected over fal.ai via configuration.
type ReplicateImageBackend struct {
	apiToken string
	baseURL  string
	version  string
	client   *http.Client
}

const (
	replicateDefaultTimeout = 60 * time.Second
	replicateImageProvider  = "replicate"
	replicateDefaultVersion = "61ae0fde81fa61a6461554ea6bd15505a0cb5d9c8d3da3fc3a2737a745ade88b"
)

func NewReplicateImageBackend(opts ReplicateOptions) (*ReplicateImageBackend, error) {
	if opts.APIToken == "" {
		return nil, errors.New("replicate api token is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = replicateDefaultVersion
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: replicateDefaultTimeout}
	}
	return &ReplicateImageBackend{apiToken: opts.APIToken, baseURL: baseURL, version: version, client: client}, nil
}

func (b *ReplicateImageBackend) Kind() domain.ProviderKind { return domain.ProviderKindImage }

func (b *ReplicateImageBackend) Name() string { return replicateImageProvider }

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Submit creates a prediction and returns its id for polling.
func (b *ReplicateImageBackend) Submit(ctx context.Context, req *domain.GenerationRequest) (string, error) {
	payload := map[string]any{
		"version": b.version,
		"input": map[string]any{
			"prompt":        req.FinalPrompt,
			"img_cond_path": req.Brief.ReferenceImageURL,
			"aspect_ratio":  "match_input_image",
			"output_format": "jpg",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("replicate submit: encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("replicate submit: build request: %w", err)
	}
	b.setHeaders(httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", ClassifyTransportError("replicate submit", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", ClassifyHTTPStatus("replicate submit", resp.StatusCode, snippet(data))
	}

	var prediction replicatePrediction
	if err := json.Unmarshal(data, &prediction); err != nil {
		return "", domain.NewPermanentError("replicate submit: decode response", err)
	}
	if prediction.ID == "" {
		return "", domain.NewPermanentError("replicate submit: response missing prediction id", nil)
	}
	return prediction.ID, nil
}

// Status polls the prediction resource.
func (b *ReplicateImageBackend) Status(ctx context.Context, providerID string) (domain.SubmissionStatus, error) {
	prediction, err := b.getPrediction(ctx, providerID, "replicate status")
	if err != nil {
		return "", err
	}
	switch prediction.Status {
	case "succeeded":
		return domain.SubmissionSucceeded, nil
	case "failed", "canceled":
		return domain.SubmissionFailed, nil
	default:
		return domain.SubmissionPending, nil
	}
}

// Result extracts the output URL from a succeeded prediction. Replicate
// returns either a single string or a list of strings.
func (b *ReplicateImageBackend) Result(ctx context.Context, providerID string) (*domain.ArtifactRef, error) {
	prediction, err := b.getPrediction(ctx, providerID, "replicate result")
	if err != nil {
		return nil, err
	}
	url, err := replicateOutputURL(prediction.Output)
	if err != nil {
		return nil, err
	}
	return &domain.ArtifactRef{URL: url, Format: "image/jpeg"}, nil
}

func (b *ReplicateImageBackend) getPrediction(ctx context.Context, providerID, op string) (*replicatePrediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/predictions/"+providerID, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	b.setHeaders(httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransportError(op, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return nil, ClassifyHTTPStatus(op, resp.StatusCode, snippet(data))
	}

	var prediction replicatePrediction
	if err := json.Unmarshal(data, &prediction); err != nil {
		return nil, domain.NewPermanentError(op+": decode response", err)
	}
	return &prediction, nil
}

func replicateOutputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", domain.NewPermanentError("replicate result: prediction has no output", nil)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}
	return "", domain.NewPermanentError("replicate result: unrecognized output shape", nil)
}

func (b *ReplicateImageBackend) setHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+b.apiToken)
	r.Header.Set("Content-Type", "application/json")
}

var _ Backend = (*ReplicateImageBackend)(nil)
