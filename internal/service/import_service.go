package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/setlistvote/api/internal/importer"
	"github.com/setlistvote/api/internal/model"
	"github.com/setlistvote/api/internal/status"
)

// Task types
const TaskTypeImportArtist = "import:artist"

// ImportTaskPayload is the queue message between enqueue and worker.
type ImportTaskPayload struct {
	JobID      string `json:"jobId"`
	ExternalID string `json:"externalId"`
}

// EnqueueResponse is returned to the caller that triggered an import.
type EnqueueResponse struct {
	JobID string            `json:"jobId"`
	Stage model.ImportStage `json:"stage"`
}

// ImportService connects the HTTP surface and the queue to the
// orchestrator and the status tracker.
type ImportService struct {
	asynqClient  *asynq.Client
	orchestrator *importer.Orchestrator
	tracker      *status.Tracker
}

func NewImportService(asynqClient *asynq.Client, orchestrator *importer.Orchestrator, tracker *status.Tracker) *ImportService {
	return &ImportService{
		asynqClient:  asynqClient,
		orchestrator: orchestrator,
		tracker:      tracker,
	}
}

// Enqueue creates the job record and queues the import task. The
// scheduling layer (asynq) decides when it actually runs.
func (s *ImportService) Enqueue(ctx context.Context, externalID string) (*EnqueueResponse, error) {
	jobID := uuid.New().String()

	s.tracker.Update(ctx, jobID, status.Patch{
		Stage:    model.StageInitializing,
		Progress: intp(0),
		Message:  "Import queued",
	})

	payload, err := json.Marshal(ImportTaskPayload{JobID: jobID, ExternalID: externalID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeImportArtist, payload)
	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("import"),
		asynq.MaxRetry(0),
		asynq.Timeout(3*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &EnqueueResponse{JobID: jobID, Stage: model.StageInitializing}, nil
}

// Run executes the import for an already-created job. Called by the
// queue worker.
func (s *ImportService) Run(ctx context.Context, jobID, externalID string) (*model.ImportResult, error) {
	return s.orchestrator.Run(ctx, jobID, externalID)
}

// Status returns the current record for one job.
func (s *ImportService) Status(ctx context.Context, jobID string) (*model.ImportJob, error) {
	return s.tracker.Get(ctx, jobID, status.ByJob)
}

// StatusByArtist returns the latest job for one artist.
func (s *ImportService) StatusByArtist(ctx context.Context, artistID string) (*model.ImportJob, error) {
	return s.tracker.Get(ctx, artistID, status.ByArtist)
}

// Active lists all in-flight imports, most recently updated first.
func (s *ImportService) Active(ctx context.Context) ([]*model.ImportJob, error) {
	return s.tracker.ListActive(ctx)
}

// Cleanup removes terminal job records older than the given age.
func (s *ImportService) Cleanup(ctx context.Context, olderThanHours int) (int64, error) {
	return s.tracker.Cleanup(ctx, time.Duration(olderThanHours)*time.Hour)
}

func intp(i int) *int {
	return &i
}
