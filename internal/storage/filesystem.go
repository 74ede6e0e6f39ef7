package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aistudio/internal/domain"
)

// ArtifactStore is the persistence contract the orchestrator calls exactly
// once per successfully completed job.
type ArtifactStore interface {
	Store(ctx context.Context, jobID string, artifact *domain.ArtifactRef) (string, error)
}

// FileStore persists assets onto the local filesystem. It is intended for
// development and test environments where an object storage service is not
// available.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath. Stored artifacts
// are addressable under baseURL.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Store persists the artifact and returns its persistent URL. Artifacts that
// arrive as a provider-hosted reference without bytes pass through unchanged.
func (s *FileStore) Store(ctx context.Context, jobID string, artifact *domain.ArtifactRef) (string, error) {
	if artifact == nil {
		return "", errors.New("storage: artifact is required")
	}
	if len(artifact.Data) == 0 {
		if artifact.URL == "" {
			return "", errors.New("storage: artifact has neither bytes nor a reference")
		}
		return artifact.URL, nil
	}
	key := defaultKey(jobID, artifact.Format)
	savedKey, err := s.Write(ctx, key, artifact.Data)
	if err != nil {
		return "", err
	}
	if s.baseURL == "" {
		return savedKey, nil
	}
	return s.baseURL + "/" + savedKey, nil
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

func defaultKey(jobID, mime string) string {
	category := "images"
	ext := ".png"
	if strings.HasPrefix(mime, "video/") {
		category = "videos"
		ext = ".mp4"
	} else if mime == "image/jpeg" || mime == "image/jpg" {
		ext = ".jpg"
	}
	return fmt.Sprintf("generated/%s/%s%s", category, jobID, ext)
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ ArtifactStore = (*FileStore)(nil)
