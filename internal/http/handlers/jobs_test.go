package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"aistudio/internal/domain"
	httpapi "aistudio/internal/http"
	"aistudio/internal/http/handlers"
)

type fakeJobService struct {
	startBrief  domain.Brief
	startKind   domain.JobKind
	startErr    error
	status      domain.JobStatus
	statusErr   error
	cancelled   string
	cancelErr   error
	remixSource string
	remixPrompt string
	remixErr    error
}

func (s *fakeJobService) Start(brief domain.Brief, kind domain.JobKind) (string, error) {
	s.startBrief = brief
	s.startKind = kind
	if s.startErr != nil {
		return "", s.startErr
	}
	return "job-123", nil
}

func (s *fakeJobService) Remix(sourceJobID, prompt string) (string, error) {
	s.remixSource = sourceJobID
	s.remixPrompt = prompt
	if s.remixErr != nil {
		return "", s.remixErr
	}
	return "job-456", nil
}

func (s *fakeJobService) Status(jobID string) (domain.JobStatus, error) {
	return s.status, s.statusErr
}

func (s *fakeJobService) Cancel(jobID string) error {
	s.cancelled = jobID
	return s.cancelErr
}

type fakeSnapshots struct {
	status domain.JobStatus
	err    error
}

func (r *fakeSnapshots) GetByID(ctx context.Context, jobID string) (domain.JobStatus, error) {
	return r.status, r.err
}

func newTestServer(t *testing.T, svc handlers.JobService, snapshots handlers.SnapshotReader) *httptest.Server {
	t.Helper()
	app := handlers.NewApp(svc, snapshots, zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewRouter(app, httpapi.Options{Logger: zerolog.Nop(), DefaultLocale: "en"}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVideosGenerateAccepted(t *testing.T) {
	svc := &fakeJobService{}
	srv := newTestServer(t, svc, nil)

	body := `{"kind": "fashion-video", "brief": "silk dress on a rooftop", "voice_over": true, "vibe": "dreamy"}`
	resp, err := http.Post(srv.URL+"/v1/videos/generate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded["job_id"] != "job-123" {
		t.Fatalf("job_id = %q", decoded["job_id"])
	}
	if svc.startKind != domain.JobKindFashionVideo {
		t.Fatalf("kind = %q, want fashion-video", svc.startKind)
	}
	if !svc.startBrief.VoiceOver || svc.startBrief.Vibe != "dreamy" {
		t.Fatalf("brief knobs lost: %+v", svc.startBrief)
	}
	if svc.startBrief.Locale != "en" {
		t.Fatalf("locale = %q, want default en", svc.startBrief.Locale)
	}
}

func TestVideosGenerateDefaultsToPromoKind(t *testing.T) {
	svc := &fakeJobService{}
	srv := newTestServer(t, svc, nil)

	resp, err := http.Post(srv.URL+"/v1/videos/generate", "application/json", strings.NewReader(`{"brief": "a mug"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if svc.startKind != domain.JobKindPromoVideo {
		t.Fatalf("kind = %q, want promo-video default", svc.startKind)
	}
}

func TestVideosGenerateRejectsNonVideoKind(t *testing.T) {
	srv := newTestServer(t, &fakeJobService{}, nil)
	resp, err := http.Post(srv.URL+"/v1/videos/generate", "application/json", strings.NewReader(`{"kind": "image", "brief": "x"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestImagesGenerateValidationError(t *testing.T) {
	svc := &fakeJobService{startErr: domain.NewValidationError("brief content is required")}
	srv := newTestServer(t, svc, nil)

	resp, err := http.Post(srv.URL+"/v1/images/generate", "application/json", strings.NewReader(`{"brief": ""}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestJobStatusServesSnapshot(t *testing.T) {
	svc := &fakeJobService{status: domain.JobStatus{ID: "job-123", State: domain.JobStatePolling, Attempt: 1}}
	srv := newTestServer(t, svc, nil)

	resp, err := http.Get(srv.URL + "/v1/jobs/job-123")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status domain.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.State != domain.JobStatePolling || status.Attempt != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestJobStatusFallsBackToPersistedSnapshot(t *testing.T) {
	svc := &fakeJobService{statusErr: domain.ErrNotFound}
	snapshots := &fakeSnapshots{status: domain.JobStatus{ID: "job-old", State: domain.JobStateComplete}}
	srv := newTestServer(t, svc, snapshots)

	resp, err := http.Get(srv.URL + "/v1/jobs/job-old")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	svc := &fakeJobService{statusErr: domain.ErrNotFound}
	srv := newTestServer(t, svc, &fakeSnapshots{err: domain.ErrNotFound})

	resp, err := http.Get(srv.URL + "/v1/jobs/missing")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJobRemixAccepted(t *testing.T) {
	svc := &fakeJobService{}
	srv := newTestServer(t, svc, nil)

	body := `{"prompt": "make the mug cobalt blue"}`
	resp, err := http.Post(srv.URL+"/v1/jobs/job-123/remix", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded["job_id"] != "job-456" {
		t.Fatalf("job_id = %q, want job-456", decoded["job_id"])
	}
	if svc.remixSource != "job-123" {
		t.Fatalf("remix source = %q, want job-123", svc.remixSource)
	}
	if svc.remixPrompt != "make the mug cobalt blue" {
		t.Fatalf("remix prompt = %q", svc.remixPrompt)
	}
}

func TestJobRemixUnknownJob(t *testing.T) {
	svc := &fakeJobService{remixErr: domain.ErrNotFound}
	srv := newTestServer(t, svc, nil)

	resp, err := http.Post(srv.URL+"/v1/jobs/missing/remix", "application/json", strings.NewReader(`{"prompt": "x"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJobRemixValidationError(t *testing.T) {
	svc := &fakeJobService{remixErr: domain.NewValidationError("remix prompt is required")}
	srv := newTestServer(t, svc, nil)

	resp, err := http.Post(srv.URL+"/v1/jobs/job-123/remix", "application/json", strings.NewReader(`{"prompt": ""}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestJobCancel(t *testing.T) {
	svc := &fakeJobService{}
	srv := newTestServer(t, svc, nil)

	resp, err := http.Post(srv.URL+"/v1/jobs/job-123/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if svc.cancelled != "job-123" {
		t.Fatalf("cancelled = %q, want job-123", svc.cancelled)
	}
}

func TestStaticServesStoredArtifacts(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "generated", "videos"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	content := []byte("raw-mp4-bytes")
	if err := os.WriteFile(filepath.Join(dir, "generated", "videos", "job-1.mp4"), content, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	app := handlers.NewApp(&fakeJobService{}, nil, zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewRouter(app, httpapi.Options{
		Logger:        zerolog.Nop(),
		DefaultLocale: "en",
		StaticDir:     dir,
	}))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/static/generated/videos/job-1.mp4")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != string(content) {
		t.Fatalf("body = %q, want stored artifact bytes", body)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	app := handlers.NewApp(&fakeJobService{}, nil, zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewRouter(app, httpapi.Options{
		Logger:         zerolog.Nop(),
		DefaultLocale:  "en",
		AllowedOrigins: []string{"https://studio.example.com"},
	}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/healthz", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Origin", "https://studio.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://studio.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want the configured origin", got)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeJobService{}, nil)
	resp, err := http.Get(srv.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
