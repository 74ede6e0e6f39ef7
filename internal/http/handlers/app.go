// Package handlers exposes the HTTP surface of the generation service.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
)

// JobService is the slice of the orchestrator the HTTP layer consumes.
type JobService interface {
	Start(brief domain.Brief, kind domain.JobKind) (string, error)
	Remix(sourceJobID, prompt string) (string, error)
	Status(jobID string) (domain.JobStatus, error)
	Cancel(jobID string) error
}

// SnapshotReader serves persisted status snapshots for jobs the running
// process no longer holds in memory, e.g. after a restart. Optional.
type SnapshotReader interface {
	GetByID(ctx context.Context, jobID string) (domain.JobStatus, error)
}

type App struct {
	Jobs      JobService
	Snapshots SnapshotReader
	Logger    infra.Logger
}

func NewApp(jobs JobService, snapshots SnapshotReader, logger infra.Logger) *App {
	return &App{Jobs: jobs, Snapshots: snapshots, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
