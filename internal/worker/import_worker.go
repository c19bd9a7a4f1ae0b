package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/setlistvote/api/internal/service"
)

// ImportWorker processes queued artist imports.
type ImportWorker struct {
	service *service.ImportService
}

func NewImportWorker(svc *service.ImportService) *ImportWorker {
	return &ImportWorker{service: svc}
}

// ProcessTask handles one import task. The orchestrator writes its own
// terminal status, so a failure here only needs to be surfaced to asynq.
func (w *ImportWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.ImportTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log.Printf("Starting import task for job %s (%s)", payload.JobID, payload.ExternalID)

	result, err := w.service.Run(ctx, payload.JobID, payload.ExternalID)
	if err != nil {
		log.Printf("Import task for job %s failed: %v", payload.JobID, err)
		return err
	}

	log.Printf("Import task for job %s done: %d songs, %d shows", payload.JobID, result.TotalSongs, result.TotalShows)
	return nil
}
