package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/setlistvote/api/internal/model"
)

// JobStore is the durable side of the import status tracker: one row
// per job, written asynchronously and read on cache misses.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// InitSchema creates the import_jobs table.
func (s *JobStore) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS import_jobs (
        job_id TEXT PRIMARY KEY,
        artist_id TEXT,
        artist_name TEXT,
        stage TEXT NOT NULL,
        progress INTEGER NOT NULL DEFAULT 0,
        message TEXT,
        error TEXT,
        total_songs INTEGER NOT NULL DEFAULT 0,
        total_shows INTEGER NOT NULL DEFAULT 0,
        total_venues INTEGER NOT NULL DEFAULT 0,
        phase_timings JSONB,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        completed_at TIMESTAMPTZ
    );
    CREATE INDEX IF NOT EXISTS import_jobs_artist_idx ON import_jobs (artist_id, updated_at DESC);
    `
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to init job schema: %w", err)
	}
	return nil
}

// Save upserts the full job record. Writes arrive in emission order
// from the tracker's persist loop, so the row converges on the final
// terminal snapshot.
func (s *JobStore) Save(ctx context.Context, job *model.ImportJob) error {
	timings, err := json.Marshal(job.PhaseTimings)
	if err != nil {
		return fmt.Errorf("failed to marshal phase timings: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO import_jobs
            (job_id, artist_id, artist_name, stage, progress, message, error,
             total_songs, total_shows, total_venues, phase_timings,
             created_at, updated_at, completed_at)
        VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''),
                $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (job_id) DO UPDATE SET
            artist_id = COALESCE(EXCLUDED.artist_id, import_jobs.artist_id),
            artist_name = COALESCE(EXCLUDED.artist_name, import_jobs.artist_name),
            stage = EXCLUDED.stage,
            progress = EXCLUDED.progress,
            message = EXCLUDED.message,
            error = EXCLUDED.error,
            total_songs = EXCLUDED.total_songs,
            total_shows = EXCLUDED.total_shows,
            total_venues = EXCLUDED.total_venues,
            phase_timings = EXCLUDED.phase_timings,
            updated_at = EXCLUDED.updated_at,
            completed_at = EXCLUDED.completed_at`,
		job.ID, job.ArtistID, job.ArtistName, string(job.Stage), job.Progress, job.Message, job.Error,
		job.Totals.Songs, job.Totals.Shows, job.Totals.Venues, timings,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save import job: %w", err)
	}
	return nil
}

// GetByJobID returns one job record, or nil when unknown.
func (s *JobStore) GetByJobID(ctx context.Context, jobID string) (*model.ImportJob, error) {
	return s.scanOne(s.pool.QueryRow(ctx, selectJobs+` WHERE job_id = $1`, jobID))
}

// GetByArtistID returns the most recently updated job for an artist.
func (s *JobStore) GetByArtistID(ctx context.Context, artistID string) (*model.ImportJob, error) {
	return s.scanOne(s.pool.QueryRow(ctx,
		selectJobs+` WHERE artist_id = $1 ORDER BY updated_at DESC LIMIT 1`, artistID))
}

// ListActive returns non-terminal jobs, most recently updated first.
func (s *JobStore) ListActive(ctx context.Context) ([]*model.ImportJob, error) {
	rows, err := s.pool.Query(ctx,
		selectJobs+` WHERE stage NOT IN ($1, $2) ORDER BY updated_at DESC`,
		string(model.StageCompleted), string(model.StageFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.ImportJob
	for rows.Next() {
		job, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteTerminalOlderThan removes completed/failed records older than
// the given age and reports how many went away.
func (s *JobStore) DeleteTerminalOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
        DELETE FROM import_jobs
        WHERE stage IN ($1, $2) AND updated_at < $3`,
		string(model.StageCompleted), string(model.StageFailed), time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up import jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

const selectJobs = `
    SELECT job_id, COALESCE(artist_id, ''), COALESCE(artist_name, ''), stage, progress,
           COALESCE(message, ''), COALESCE(error, ''),
           total_songs, total_shows, total_venues, phase_timings,
           created_at, updated_at, completed_at
    FROM import_jobs`

func (s *JobStore) scanOne(row pgx.Row) (*model.ImportJob, error) {
	var job model.ImportJob
	var stage string
	var timings []byte
	err := row.Scan(&job.ID, &job.ArtistID, &job.ArtistName, &stage, &job.Progress,
		&job.Message, &job.Error,
		&job.Totals.Songs, &job.Totals.Shows, &job.Totals.Venues, &timings,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan import job: %w", err)
	}
	job.Stage = model.ImportStage(stage)
	if len(timings) > 0 {
		if err := json.Unmarshal(timings, &job.PhaseTimings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal phase timings: %w", err)
		}
	}
	return &job, nil
}
