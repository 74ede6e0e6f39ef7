package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aistudio/internal/domain"
)

// OpenAIVideoOptions configures the video generation backend.
type OpenAIVideoOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Seconds    int
	Size       string
	HTTPClient *http.Client
}

// OpenAIVideoBackend drives the OpenAI asynchronous video generation API:
// submit a prompt, poll the job resource, download the content once done.
type OpenAIVideoBackend struct {
	apiKey  string
	baseURL string
	model   string
	seconds int
	size    string
	client  *http.Client
}

const (
	openaiDefaultTimeout = 60 * time.Second
	openaiVideoProvider  = "openai-video"
)

func NewOpenAIVideoBackend(opts OpenAIVideoOptions) (*OpenAIVideoBackend, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "sora-2"
	}
	seconds := opts.Seconds
	if seconds <= 0 {
		seconds = 12
	}
	size := strings.TrimSpace(opts.Size)
	if size == "" {
		size = "720x1280"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openaiDefaultTimeout}
	}
	return &OpenAIVideoBackend{
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		model:   model,
		seconds: seconds,
		size:    size,
		client:  client,
	}, nil
}

func (b *OpenAIVideoBackend) Kind() domain.ProviderKind { return domain.ProviderKindVideo }

func (b *OpenAIVideoBackend) Name() string { return openaiVideoProvider }

type openaiVideoJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Submit creates a video job from the assembled prompt and returns the
// provider-side job id. A request carrying a remix source goes to the source
// video's remix endpoint, which accepts only the edit prompt.
func (b *OpenAIVideoBackend) Submit(ctx context.Context, req *domain.GenerationRequest) (string, error) {
	path := "/videos"
	fields := map[string]string{
		"prompt":  req.FinalPrompt,
		"model":   b.model,
		"seconds": strconv.Itoa(b.seconds),
		"size":    b.size,
	}
	if req.RemixSourceID != "" {
		path = "/videos/" + req.RemixSourceID + "/remix"
		fields = map[string]string{"prompt": req.FinalPrompt}
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return "", fmt.Errorf("openai video: encode form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("openai video: close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, &body)
	if err != nil {
		return "", fmt.Errorf("openai video: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", ClassifyTransportError("openai video submit", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", ClassifyHTTPStatus("openai video submit", resp.StatusCode, snippet(payload))
	}

	var job openaiVideoJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return "", domain.NewPermanentError("openai video submit: decode response", err)
	}
	if job.ID == "" {
		return "", domain.NewPermanentError("openai video submit: response missing job id", nil)
	}
	return job.ID, nil
}

// Status polls the video job resource and normalizes the provider status.
func (b *OpenAIVideoBackend) Status(ctx context.Context, providerID string) (domain.SubmissionStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/videos/"+providerID, nil)
	if err != nil {
		return "", fmt.Errorf("openai video status: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", ClassifyTransportError("openai video status", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", ClassifyHTTPStatus("openai video status", resp.StatusCode, snippet(payload))
	}

	var job openaiVideoJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return "", domain.NewPermanentError("openai video status: decode response", err)
	}
	switch job.Status {
	case "completed":
		return domain.SubmissionSucceeded, nil
	case "failed":
		return domain.SubmissionFailed, nil
	default:
		return domain.SubmissionPending, nil
	}
}

// Result downloads the raw video content of a completed job.
func (b *OpenAIVideoBackend) Result(ctx context.Context, providerID string) (*domain.ArtifactRef, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/videos/"+providerID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("openai video result: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransportError("openai video result", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, ClassifyHTTPStatus("openai video result", resp.StatusCode, snippet(payload))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransientError("openai video result: read content", err)
	}
	return &domain.ArtifactRef{
		URL:    b.baseURL + "/videos/" + providerID + "/content",
		Format: "video/mp4",
		Data:   data,
	}, nil
}

func snippet(payload []byte) string {
	const max = 256
	s := strings.TrimSpace(string(payload))
	if len(s) > max {
		return s[:max]
	}
	return s
}

var _ Backend = (*OpenAIVideoBackend)(nil)
