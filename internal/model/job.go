package model

import "time"

// ImportStage identifies where an import job is in its lifecycle.
type ImportStage string

const (
	StageInitializing       ImportStage = "initializing"
	StageSyncingIdentifiers ImportStage = "syncing-identifiers"
	StageImportingSongs     ImportStage = "importing-songs"
	StageImportingShows     ImportStage = "importing-shows"
	StageCreatingSetlists   ImportStage = "creating-setlists"
	StageCompleted          ImportStage = "completed"
	StageFailed             ImportStage = "failed"
)

// stageOrder maps each stage to its position in the canonical
// progression. The two terminal stages share the highest rank so a job
// ends in exactly one of them and never moves past it.
var stageOrder = map[ImportStage]int{
	StageInitializing:       0,
	StageSyncingIdentifiers: 1,
	StageImportingSongs:     2,
	StageImportingShows:     2,
	StageCreatingSetlists:   3,
	StageCompleted:          4,
	StageFailed:             4,
}

// Terminal reports whether the stage ends the job.
func (s ImportStage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Rank returns the stage's position in the canonical ordering, or -1
// for an unknown stage.
func (s ImportStage) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

// ImportTotals carries the entity counts filled in as phases complete.
type ImportTotals struct {
	Songs  int `json:"songs"`
	Shows  int `json:"shows"`
	Venues int `json:"venues"`
}

// ImportJob is the durable record of one artist-import attempt.
type ImportJob struct {
	ID                   string           `json:"jobId"`
	ArtistID             string           `json:"artistId,omitempty"`
	ArtistName           string           `json:"artistName,omitempty"`
	Stage                ImportStage      `json:"stage"`
	Progress             int              `json:"progress"`
	Message              string           `json:"message,omitempty"`
	Error                string           `json:"error,omitempty"`
	Totals               ImportTotals     `json:"totals"`
	PhaseTimings         map[string]int64 `json:"phaseTimings,omitempty"` // phase -> ms
	EstimatedSecondsLeft int              `json:"estimatedSecondsLeft,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
	CompletedAt          *time.Time       `json:"completedAt,omitempty"`
}

// Phase timing keys.
const (
	PhaseIdentity = "identity"
	PhaseShows    = "shows"
	PhaseCatalog  = "catalog"
	PhaseSetlists = "setlists"
)

// ImportResult is returned to the caller after a full import run.
type ImportResult struct {
	JobID        string           `json:"jobId"`
	ArtistID     string           `json:"artistId"`
	ArtistSlug   string           `json:"artistSlug"`
	ArtistName   string           `json:"artistName"`
	TotalSongs   int              `json:"totalSongs"`
	TotalShows   int              `json:"totalShows"`
	TotalVenues  int              `json:"totalVenues"`
	PhaseTimings map[string]int64 `json:"phaseTimings"` // phase -> ms
	DurationMs   int64            `json:"durationMs"`
	Success      bool             `json:"success"`
}
