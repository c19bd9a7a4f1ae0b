package importer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/setlistvote/api/internal/client"
	"github.com/setlistvote/api/internal/model"
	"github.com/setlistvote/api/internal/status"
)

// Store is the slice of the persistence layer the orchestrator writes.
type Store interface {
	UpsertArtist(ctx context.Context, a *model.Artist) (*model.Artist, error)
	UpdateArtistCounts(ctx context.Context, artistID string, songCount, showCount int) error
	UpsertVenue(ctx context.Context, v *model.Venue) (string, error)
	UpsertShow(ctx context.Context, s *model.Show) (string, error)
	ReplaceArtistSongs(ctx context.Context, artistID string, songs []model.Song) error
	CreateSetlist(ctx context.Context, s *model.Setlist) error
}

// StatusSink receives progress updates. Writes are fire-and-forget:
// the orchestrator never reads back and a sink failure never aborts an
// import.
type StatusSink interface {
	Update(ctx context.Context, jobID string, patch status.Patch)
}

// Budgets are the hard per-phase wall-clock caps. Each phase runs under
// a context deadline, so a stuck provider fails the phase instead of
// hanging the import.
type Budgets struct {
	Phase1 time.Duration
	Phase2 time.Duration
	Phase3 time.Duration
}

// DefaultBudgets matches the documented latency contract.
func DefaultBudgets() Budgets {
	return Budgets{
		Phase1: 3 * time.Second,
		Phase2: 15 * time.Second,
		Phase3: 90 * time.Second,
	}
}

func (b Budgets) withDefaults() Budgets {
	def := DefaultBudgets()
	if b.Phase1 <= 0 {
		b.Phase1 = def.Phase1
	}
	if b.Phase2 <= 0 {
		b.Phase2 = def.Phase2
	}
	if b.Phase3 <= 0 {
		b.Phase3 = def.Phase3
	}
	return b
}

// placeholderSongs caps how many catalog songs seed a prediction setlist.
const placeholderSongs = 8

// Orchestrator turns one external artist identifier into a populated
// local artist record: identity first, then shows and catalog in
// parallel, then placeholder setlists.
type Orchestrator struct {
	identity client.IdentityProvider
	events   client.EventProvider
	catalog  client.CatalogProvider
	store    Store
	tracker  StatusSink
	budgets  Budgets
}

func NewOrchestrator(identity client.IdentityProvider, events client.EventProvider, catalog client.CatalogProvider, store Store, tracker StatusSink, budgets Budgets) *Orchestrator {
	return &Orchestrator{
		identity: identity,
		events:   events,
		catalog:  catalog,
		store:    store,
		tracker:  tracker,
		budgets:  budgets.withDefaults(),
	}
}

// ImportArtist runs a full import under a fresh job id.
func (o *Orchestrator) ImportArtist(ctx context.Context, externalID string) (*model.ImportResult, error) {
	return o.Run(ctx, uuid.New().String(), externalID)
}

// Run drives the full import for an existing job id (the queue worker
// creates the job record before the task is picked up).
func (o *Orchestrator) Run(ctx context.Context, jobID, externalID string) (*model.ImportResult, error) {
	start := time.Now()
	timings := make(map[string]int64)

	log.Printf("Starting import job %s for %s", jobID, externalID)
	o.tracker.Update(ctx, jobID, status.Patch{
		Stage:    model.StageInitializing,
		Progress: intp(0),
		Message:  "Import started",
	})

	// Phase 1: identity resolution. Fatal on failure, nothing
	// downstream can run without an artist record.
	o.tracker.Update(ctx, jobID, status.Patch{
		Stage:    model.StageSyncingIdentifiers,
		Progress: intp(5),
		Message:  "Resolving artist identity",
	})
	p1Start := time.Now()
	artist, err := o.ProcessPhase1(ctx, externalID)
	timings[model.PhaseIdentity] = time.Since(p1Start).Milliseconds()
	if err != nil {
		perr := &PhaseError{Phase: 1, Task: "identity resolution", Err: err}
		o.failJob(ctx, jobID, timings, perr)
		return nil, perr
	}
	o.tracker.Update(ctx, jobID, status.Patch{
		Progress:     intp(20),
		Message:      "Artist identity resolved",
		ArtistID:     artist.ID,
		ArtistName:   artist.Name,
		PhaseTimings: map[string]int64{model.PhaseIdentity: timings[model.PhaseIdentity]},
	})

	// Phases 2 and 3 read nothing from each other, so they launch back
	// to back and run concurrently once the artist record is committed.
	var (
		wg       sync.WaitGroup
		shows    *phase2Result
		songs    []model.Song
		showsErr error
		songsErr error
		p2ms     int64
		p3ms     int64
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.tracker.Update(ctx, jobID, status.Patch{
			Stage:    model.StageImportingShows,
			Progress: intp(25),
			Message:  "Syncing shows and venues",
		})
		p2Start := time.Now()
		shows, showsErr = o.ProcessPhase2(ctx, artist)
		p2ms = time.Since(p2Start).Milliseconds()
		if showsErr == nil {
			o.tracker.Update(ctx, jobID, status.Patch{
				Progress:     intp(55),
				Message:      "Show sync complete",
				Shows:        intp(shows.showCount),
				Venues:       intp(shows.venueCount),
				PhaseTimings: map[string]int64{model.PhaseShows: p2ms},
			})
		}
	}()
	go func() {
		defer wg.Done()
		o.tracker.Update(ctx, jobID, status.Patch{
			Stage:    model.StageImportingSongs,
			Progress: intp(25),
			Message:  "Syncing song catalog",
		})
		p3Start := time.Now()
		songs, songsErr = o.ProcessPhase3(ctx, artist)
		p3ms = time.Since(p3Start).Milliseconds()
		if songsErr == nil {
			o.tracker.Update(ctx, jobID, status.Patch{
				Progress:     intp(75),
				Message:      "Catalog sync complete",
				Songs:        intp(len(songs)),
				PhaseTimings: map[string]int64{model.PhaseCatalog: p3ms},
			})
		}
	}()
	wg.Wait()

	timings[model.PhaseShows] = p2ms
	timings[model.PhaseCatalog] = p3ms
	if showsErr != nil {
		perr := &PhaseError{Phase: 2, Task: "show sync", Err: showsErr}
		o.failJob(ctx, jobID, timings, perr)
		return nil, perr
	}
	if songsErr != nil {
		perr := &PhaseError{Phase: 3, Task: "catalog sync", Err: songsErr}
		o.failJob(ctx, jobID, timings, perr)
		return nil, perr
	}

	if err := o.store.UpdateArtistCounts(ctx, artist.ID, len(songs), shows.showCount); err != nil {
		perr := &PhaseError{Phase: 3, Task: "catalog sync", Err: err}
		o.failJob(ctx, jobID, timings, perr)
		return nil, perr
	}

	// Final step: placeholder prediction setlists for the upcoming
	// shows. An empty catalog yields empty placeholders, not a failure.
	o.tracker.Update(ctx, jobID, status.Patch{
		Stage:    model.StageCreatingSetlists,
		Progress: intp(85),
		Message:  "Creating placeholder setlists",
	})
	slStart := time.Now()
	err = o.createPlaceholders(ctx, artist, shows.upcoming, songs)
	timings[model.PhaseSetlists] = time.Since(slStart).Milliseconds()
	if err != nil {
		perr := &PhaseError{Phase: 4, Task: "setlist creation", Err: err}
		o.failJob(ctx, jobID, timings, perr)
		return nil, perr
	}

	total := time.Since(start)
	o.tracker.Update(ctx, jobID, status.Patch{
		Stage:        model.StageCompleted,
		Progress:     intp(100),
		Message:      fmt.Sprintf("Import complete: %d songs, %d shows, %d venues", len(songs), shows.showCount, shows.venueCount),
		PhaseTimings: timings,
	})
	log.Printf("Import job %s completed in %s", jobID, total.Round(time.Millisecond))

	return &model.ImportResult{
		JobID:        jobID,
		ArtistID:     artist.ID,
		ArtistSlug:   artist.Slug,
		ArtistName:   artist.Name,
		TotalSongs:   len(songs),
		TotalShows:   shows.showCount,
		TotalVenues:  shows.venueCount,
		PhaseTimings: timings,
		DurationMs:   total.Milliseconds(),
		Success:      true,
	}, nil
}

// ProcessPhase1 resolves the artist's identity and commits the local
// record. The primary lookup and the catalog enrichment run
// concurrently; enrichment failure is degraded-but-non-fatal and just
// leaves the catalog identifier unset.
func (o *Orchestrator) ProcessPhase1(ctx context.Context, externalID string) (*model.Artist, error) {
	pctx, cancel := context.WithTimeout(ctx, o.budgets.Phase1)
	defer cancel()

	type identityOut struct {
		res *client.IdentityResult
		err error
	}
	idCh := make(chan identityOut, 1)
	enrichCh := make(chan *client.CatalogArtist, 1)

	go func() {
		res, err := o.identity.ResolveIdentity(pctx, externalID)
		idCh <- identityOut{res: res, err: err}
	}()
	go func() {
		enriched, err := o.catalog.SearchArtist(pctx, externalID)
		if err != nil {
			log.Printf("Catalog enrichment failed for %s: %v", externalID, err)
			enrichCh <- nil
			return
		}
		enrichCh <- enriched
	}()

	identity := <-idCh
	enriched := <-enrichCh
	if identity.err != nil {
		return nil, fmt.Errorf("resolve identity for %q: %w", externalID, identity.err)
	}

	artist := &model.Artist{
		ExternalID: externalID,
		Name:       identity.res.Name,
		Genres:     identity.res.Genres,
	}
	if len(identity.res.Images) > 0 {
		artist.ImageURL = identity.res.Images[0]
	}
	if enriched != nil {
		artist.CatalogID = enriched.ID
		if artist.ImageURL == "" {
			artist.ImageURL = enriched.ImageURL
		}
		if len(artist.Genres) == 0 {
			artist.Genres = enriched.Genres
		}
	}

	artist, err := o.store.UpsertArtist(pctx, artist)
	if err != nil {
		return nil, fmt.Errorf("create artist record: %w", err)
	}
	return artist, nil
}

type phase2Result struct {
	showCount  int
	venueCount int
	upcoming   []model.Show
}

// ProcessPhase2 pulls upcoming and recent shows from the ticketing
// provider and persists venues and shows linked to the artist.
func (o *Orchestrator) ProcessPhase2(ctx context.Context, artist *model.Artist) (*phase2Result, error) {
	pctx, cancel := context.WithTimeout(ctx, o.budgets.Phase2)
	defer cancel()

	events, err := o.events.ArtistEvents(pctx, artist.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch events for %q: %w", artist.Name, err)
	}

	result := &phase2Result{}
	venueIDs := make(map[string]string) // name|city -> venue id
	for _, event := range events {
		venueKey := event.VenueName + "|" + event.VenueCity
		venueID, ok := venueIDs[venueKey]
		if !ok {
			venueID, err = o.store.UpsertVenue(pctx, &model.Venue{
				Name:    event.VenueName,
				City:    event.VenueCity,
				State:   event.VenueState,
				Country: event.VenueCountry,
			})
			if err != nil {
				return nil, fmt.Errorf("persist venue %q: %w", event.VenueName, err)
			}
			venueIDs[venueKey] = venueID
			result.venueCount++
		}

		show := model.Show{
			ExternalID: event.ID,
			ArtistID:   artist.ID,
			VenueID:    venueID,
			Date:       event.Date,
			TicketURL:  event.TicketURL,
			MinPrice:   event.MinPrice,
			MaxPrice:   event.MaxPrice,
			Upcoming:   event.Upcoming,
		}
		if _, err := o.store.UpsertShow(pctx, &show); err != nil {
			return nil, fmt.Errorf("persist show %q: %w", event.ID, err)
		}
		result.showCount++
		if show.Upcoming {
			result.upcoming = append(result.upcoming, show)
		}
	}
	return result, nil
}

// ProcessPhase3 imports the song catalog: albums, tracks, live/alternate
// dedupe, then one consistent write of the artist's songs. A missing
// catalog identifier fails with ErrNoCatalogID rather than a generic
// error.
func (o *Orchestrator) ProcessPhase3(ctx context.Context, artist *model.Artist) ([]model.Song, error) {
	if artist.CatalogID == "" {
		return nil, ErrNoCatalogID
	}

	pctx, cancel := context.WithTimeout(ctx, o.budgets.Phase3)
	defer cancel()

	albums, err := o.catalog.ArtistAlbums(pctx, artist.CatalogID)
	if err != nil {
		return nil, fmt.Errorf("fetch albums: %w", err)
	}

	var tracks []client.Track
	for _, album := range albums {
		albumTracks, err := o.catalog.AlbumTracks(pctx, album.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch tracks for album %q: %w", album.Name, err)
		}
		for i := range albumTracks {
			if albumTracks[i].Album == "" {
				albumTracks[i].Album = album.Name
			}
		}
		tracks = append(tracks, albumTracks...)
	}

	songs := dedupeTracks(artist.ID, tracks)
	if err := o.store.ReplaceArtistSongs(pctx, artist.ID, songs); err != nil {
		return nil, fmt.Errorf("persist songs: %w", err)
	}
	return songs, nil
}

// createPlaceholders seeds a provisional prediction setlist for each
// upcoming show from the most popular catalog songs.
func (o *Orchestrator) createPlaceholders(ctx context.Context, artist *model.Artist, upcoming []model.Show, songs []model.Song) error {
	ranked := make([]model.Song, len(songs))
	copy(ranked, songs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Popularity > ranked[j].Popularity
	})
	if len(ranked) > placeholderSongs {
		ranked = ranked[:placeholderSongs]
	}
	songIDs := make([]string, 0, len(ranked))
	for _, song := range ranked {
		songIDs = append(songIDs, song.ID)
	}

	for _, show := range upcoming {
		setlist := &model.Setlist{
			ShowID:   show.ID,
			ArtistID: artist.ID,
			SongIDs:  songIDs,
			Editable: true,
		}
		if err := o.store.CreateSetlist(ctx, setlist); err != nil {
			return fmt.Errorf("create setlist for show %s: %w", show.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, jobID string, timings map[string]int64, perr *PhaseError) {
	log.Printf("Import job %s failed: %v", jobID, perr)
	o.tracker.Update(ctx, jobID, status.Patch{
		Stage:        model.StageFailed,
		Message:      "Import failed",
		Error:        perr.Error(),
		PhaseTimings: timings,
	})
}

func intp(i int) *int {
	return &i
}
