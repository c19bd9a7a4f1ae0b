package status

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/setlistvote/api/internal/model"
)

// Cache is the fast read/write path, normally Redis.
type Cache interface {
	Get(ctx context.Context, key string) (*model.ImportJob, error) // nil, nil on miss
	Set(ctx context.Context, key string, job *model.ImportJob, ttl time.Duration) error
	Publish(ctx context.Context, channel string, job *model.ImportJob) error
}

// JobStore is the durable record, normally Postgres.
type JobStore interface {
	Save(ctx context.Context, job *model.ImportJob) error
	GetByJobID(ctx context.Context, jobID string) (*model.ImportJob, error)
	GetByArtistID(ctx context.Context, artistID string) (*model.ImportJob, error)
	ListActive(ctx context.Context) ([]*model.ImportJob, error)
	DeleteTerminalOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// LookupKind selects how Get resolves its identifier.
type LookupKind int

const (
	ByJob LookupKind = iota
	ByArtist
)

// Patch is a partial status update. Nil/empty fields leave the current
// record untouched; totals and phase timings only ever accumulate.
type Patch struct {
	Stage        model.ImportStage
	Progress     *int
	Message      string
	Error        string
	ArtistID     string
	ArtistName   string
	Songs        *int
	Shows        *int
	Venues       *int
	PhaseTimings map[string]int64
}

const (
	cacheTTL     = time.Hour
	cacheMissTTL = 10 * time.Minute
	jobKeyPrefix = "import:status:job:"
	artKeyPrefix = "import:status:artist:"
	eventChannel = "import:events:"
	subBuffer    = 16
)

// stageEstimateSeconds is the ETA fallback when a stage has reported
// no progress yet, aligned with the phase budgets.
var stageEstimateSeconds = map[model.ImportStage]int{
	model.StageInitializing:       110,
	model.StageSyncingIdentifiers: 3,
	model.StageImportingShows:     15,
	model.StageImportingSongs:     90,
	model.StageCreatingSetlists:   5,
}

// Tracker is the durable, queryable, subscribable record of import
// progress. Updates are applied under one lock so readers and
// subscribers observe them in emission order, and a stale update never
// overwrites a newer stage or progress value.
type Tracker struct {
	cache Cache
	store JobStore

	mu          sync.Mutex
	jobs        map[string]*model.ImportJob
	artistIndex map[string]string // artistID -> jobID
	jobSubs     map[string]map[chan *model.ImportJob]struct{}
	artistSubs  map[string]map[chan *model.ImportJob]struct{}

	persist chan *model.ImportJob
	quit    chan struct{}
}

// NewTracker wires the tracker to its cache and durable store. Either
// may be nil (tests, degraded startup); the tracker then skips that
// path. Close stops the persist loop.
func NewTracker(cache Cache, store JobStore) *Tracker {
	t := &Tracker{
		cache:       cache,
		store:       store,
		jobs:        make(map[string]*model.ImportJob),
		artistIndex: make(map[string]string),
		jobSubs:     make(map[string]map[chan *model.ImportJob]struct{}),
		artistSubs:  make(map[string]map[chan *model.ImportJob]struct{}),
		persist:     make(chan *model.ImportJob, 256),
		quit:        make(chan struct{}),
	}
	go t.persistLoop()
	return t
}

func (t *Tracker) Close() {
	close(t.quit)
}

// persistLoop serializes durable writes so the store applies updates in
// emission order. Failures are logged and swallowed; a broken database
// must never abort an in-progress import.
func (t *Tracker) persistLoop() {
	for {
		select {
		case job := <-t.persist:
			if t.store == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := t.store.Save(ctx, job); err != nil {
				log.Printf("Failed to persist import job %s: %v", job.ID, err)
			}
			cancel()
		case <-t.quit:
			// Drain what is already queued before stopping.
			for {
				select {
				case job := <-t.persist:
					if t.store == nil {
						continue
					}
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					if err := t.store.Save(ctx, job); err != nil {
						log.Printf("Failed to persist import job %s: %v", job.ID, err)
					}
					cancel()
				default:
					return
				}
			}
		}
	}
}

// Update merges the patch into the job's current record, publishes the
// merged snapshot to subscribers and the cache, and queues a durable
// write. Fire-and-forget from the caller's perspective.
func (t *Tracker) Update(ctx context.Context, jobID string, patch Patch) {
	t.mu.Lock()

	job, ok := t.jobs[jobID]
	if !ok {
		now := time.Now()
		job = &model.ImportJob{
			ID:        jobID,
			Stage:     model.StageInitializing,
			CreatedAt: now,
			UpdatedAt: now,
		}
		t.jobs[jobID] = job
	}

	if job.Stage.Terminal() {
		// Terminal is reached exactly once; late updates are dropped.
		t.mu.Unlock()
		log.Printf("Dropping status update for terminal job %s", jobID)
		return
	}

	now := time.Now()
	applyPatch(job, patch, now)
	job.EstimatedSecondsLeft = estimateSecondsLeft(job, now)

	snapshot := copyJob(job)
	if job.ArtistID != "" {
		t.artistIndex[job.ArtistID] = jobID
	}

	jobSubs := t.jobSubs[jobID]
	var artSubs map[chan *model.ImportJob]struct{}
	if job.ArtistID != "" {
		artSubs = t.artistSubs[job.ArtistID]
	}
	terminal := job.Stage.Terminal()

	// Deliver inside the lock so two updates can't reorder on the way
	// to a subscriber.
	deliver(jobSubs, snapshot)
	deliver(artSubs, snapshot)
	if terminal {
		closeSubs(t.jobSubs, jobID)
		if job.ArtistID != "" {
			closeSubs(t.artistSubs, job.ArtistID)
		}
	}
	t.mu.Unlock()

	t.writeCache(ctx, snapshot, cacheTTL)
	if t.cache != nil {
		if err := t.cache.Publish(ctx, eventChannel+jobID, snapshot); err != nil {
			log.Printf("Failed to publish status for job %s: %v", jobID, err)
		}
	}

	select {
	case t.persist <- snapshot:
	default:
		log.Printf("Persist queue full, dropping durable write for job %s", jobID)
	}
}

func applyPatch(job *model.ImportJob, patch Patch, now time.Time) {
	if patch.Stage != "" && patch.Stage.Rank() >= job.Stage.Rank() {
		job.Stage = patch.Stage
	}
	if patch.Progress != nil {
		p := *patch.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		if p > job.Progress {
			job.Progress = p
		}
	}
	if patch.Message != "" {
		job.Message = patch.Message
	}
	if patch.ArtistID != "" {
		job.ArtistID = patch.ArtistID
	}
	if patch.ArtistName != "" {
		job.ArtistName = patch.ArtistName
	}
	if patch.Songs != nil {
		job.Totals.Songs = *patch.Songs
	}
	if patch.Shows != nil {
		job.Totals.Shows = *patch.Shows
	}
	if patch.Venues != nil {
		job.Totals.Venues = *patch.Venues
	}
	if len(patch.PhaseTimings) > 0 {
		if job.PhaseTimings == nil {
			job.PhaseTimings = make(map[string]int64, len(patch.PhaseTimings))
		}
		for phase, ms := range patch.PhaseTimings {
			job.PhaseTimings[phase] = ms
		}
	}
	if job.Stage == model.StageFailed && patch.Error != "" {
		job.Error = patch.Error
	}
	if job.Stage.Terminal() {
		completed := now
		job.CompletedAt = &completed
		if job.Stage == model.StageCompleted {
			job.Progress = 100
		}
	}
	job.UpdatedAt = now
}

// estimateSecondsLeft extrapolates from elapsed time and progress, with
// a fixed per-stage estimate while progress is still zero.
func estimateSecondsLeft(job *model.ImportJob, now time.Time) int {
	if job.Stage.Terminal() {
		return 0
	}
	if job.Progress <= 0 {
		return stageEstimateSeconds[job.Stage]
	}
	elapsed := now.Sub(job.CreatedAt).Seconds()
	remaining := elapsed * float64(100-job.Progress) / float64(job.Progress)
	return int(remaining + 0.5)
}

func deliver(subs map[chan *model.ImportJob]struct{}, snapshot *model.ImportJob) {
	for ch := range subs {
		select {
		case ch <- snapshot:
		default:
			// Slow subscriber; it keeps its channel but loses this
			// snapshot. The terminal snapshot still closes the channel.
		}
	}
}

func closeSubs(reg map[string]map[chan *model.ImportJob]struct{}, key string) {
	for ch := range reg[key] {
		close(ch)
	}
	delete(reg, key)
}

// Subscribe returns a stream of snapshots for one job, starting with
// the current one when the job is already known. The channel closes
// after a terminal snapshot, or when cancel is called.
func (t *Tracker) Subscribe(jobID string) (<-chan *model.ImportJob, func()) {
	return t.subscribe(t.jobSubs, jobID, func() *model.ImportJob {
		if job, ok := t.jobs[jobID]; ok {
			return copyJob(job)
		}
		return nil
	})
}

// SubscribeArtist is Subscribe keyed by artist id.
func (t *Tracker) SubscribeArtist(artistID string) (<-chan *model.ImportJob, func()) {
	return t.subscribe(t.artistSubs, artistID, func() *model.ImportJob {
		if jobID, ok := t.artistIndex[artistID]; ok {
			if job, ok := t.jobs[jobID]; ok {
				return copyJob(job)
			}
		}
		return nil
	})
}

func (t *Tracker) subscribe(reg map[string]map[chan *model.ImportJob]struct{}, key string, current func() *model.ImportJob) (<-chan *model.ImportJob, func()) {
	ch := make(chan *model.ImportJob, subBuffer)

	t.mu.Lock()
	snapshot := current()
	if snapshot != nil {
		ch <- snapshot
	}
	if snapshot != nil && snapshot.Stage.Terminal() {
		close(ch)
		t.mu.Unlock()
		return ch, func() {}
	}
	if reg[key] == nil {
		reg[key] = make(map[chan *model.ImportJob]struct{})
	}
	reg[key][ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if subs, ok := reg[key]; ok {
			if _, live := subs[ch]; live {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(reg, key)
				}
			}
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// Get reads first from memory, then the cache, then the durable store,
// repopulating the cache with a shorter TTL on a miss.
func (t *Tracker) Get(ctx context.Context, id string, by LookupKind) (*model.ImportJob, error) {
	t.mu.Lock()
	jobID := id
	if by == ByArtist {
		jobID = t.artistIndex[id]
	}
	if jobID != "" {
		if job, ok := t.jobs[jobID]; ok {
			snapshot := copyJob(job)
			t.mu.Unlock()
			return snapshot, nil
		}
	}
	t.mu.Unlock()

	if t.cache != nil {
		job, err := t.cache.Get(ctx, lookupKey(id, by))
		if err != nil {
			log.Printf("Status cache read failed for %s: %v", id, err)
		} else if job != nil {
			return job, nil
		}
	}

	if t.store == nil {
		return nil, nil
	}
	var job *model.ImportJob
	var err error
	if by == ByArtist {
		job, err = t.store.GetByArtistID(ctx, id)
	} else {
		job, err = t.store.GetByJobID(ctx, id)
	}
	if err != nil || job == nil {
		return job, err
	}
	t.writeCache(ctx, job, cacheMissTTL)
	return job, nil
}

// ListActive returns every non-terminal job, most recently updated
// first, merging in-memory state with the durable store.
func (t *Tracker) ListActive(ctx context.Context) ([]*model.ImportJob, error) {
	seen := make(map[string]struct{})
	var jobs []*model.ImportJob

	t.mu.Lock()
	for id, job := range t.jobs {
		if job.Stage.Terminal() {
			continue
		}
		jobs = append(jobs, copyJob(job))
		seen[id] = struct{}{}
	}
	t.mu.Unlock()

	if t.store != nil {
		stored, err := t.store.ListActive(ctx)
		if err != nil {
			log.Printf("Failed to list active jobs from store: %v", err)
		} else {
			for _, job := range stored {
				if _, ok := seen[job.ID]; !ok {
					jobs = append(jobs, job)
				}
			}
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})
	return jobs, nil
}

// Cleanup drops terminal records older than the given age from memory
// and the durable store. Returns the durable delete count.
func (t *Tracker) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	t.mu.Lock()
	for id, job := range t.jobs {
		if job.Stage.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
			if job.ArtistID != "" && t.artistIndex[job.ArtistID] == id {
				delete(t.artistIndex, job.ArtistID)
			}
		}
	}
	t.mu.Unlock()

	if t.store == nil {
		return 0, nil
	}
	return t.store.DeleteTerminalOlderThan(ctx, olderThan)
}

func (t *Tracker) writeCache(ctx context.Context, job *model.ImportJob, ttl time.Duration) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Set(ctx, jobKeyPrefix+job.ID, job, ttl); err != nil {
		log.Printf("Status cache write failed for job %s: %v", job.ID, err)
	}
	if job.ArtistID != "" {
		if err := t.cache.Set(ctx, artKeyPrefix+job.ArtistID, job, ttl); err != nil {
			log.Printf("Status cache write failed for artist %s: %v", job.ArtistID, err)
		}
	}
}

func lookupKey(id string, by LookupKind) string {
	if by == ByArtist {
		return artKeyPrefix + id
	}
	return jobKeyPrefix + id
}

func copyJob(job *model.ImportJob) *model.ImportJob {
	dup := *job
	if job.PhaseTimings != nil {
		dup.PhaseTimings = make(map[string]int64, len(job.PhaseTimings))
		for phase, ms := range job.PhaseTimings {
			dup.PhaseTimings[phase] = ms
		}
	}
	if job.CompletedAt != nil {
		completed := *job.CompletedAt
		dup.CompletedAt = &completed
	}
	return &dup
}
