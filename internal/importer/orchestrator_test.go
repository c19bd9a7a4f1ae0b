package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/setlistvote/api/internal/client"
	"github.com/setlistvote/api/internal/model"
	"github.com/setlistvote/api/internal/status"
)

type fakeIdentity struct {
	result *client.IdentityResult
	err    error
	delay  time.Duration
}

func (f *fakeIdentity) ResolveIdentity(ctx context.Context, externalID string) (*client.IdentityResult, error) {
	if err := sleepCtx(ctx, f.delay); err != nil {
		return nil, err
	}
	return f.result, f.err
}

type fakeEvents struct {
	events []client.Event
	err    error
	delay  time.Duration

	mu       sync.Mutex
	calledAt time.Time
}

func (f *fakeEvents) ArtistEvents(ctx context.Context, artistName string) ([]client.Event, error) {
	f.mu.Lock()
	f.calledAt = time.Now()
	f.mu.Unlock()
	if err := sleepCtx(ctx, f.delay); err != nil {
		return nil, err
	}
	return f.events, f.err
}

func (f *fakeEvents) startedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calledAt
}

type fakeCatalog struct {
	artist    *client.CatalogArtist
	searchErr error
	albums    []client.Album
	albumsErr error
	tracks    map[string][]client.Track
	delay     time.Duration

	mu             sync.Mutex
	albumsCalledAt time.Time
}

func (f *fakeCatalog) SearchArtist(ctx context.Context, query string) (*client.CatalogArtist, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.artist, nil
}

func (f *fakeCatalog) ArtistAlbums(ctx context.Context, catalogID string) ([]client.Album, error) {
	f.mu.Lock()
	f.albumsCalledAt = time.Now()
	f.mu.Unlock()
	if err := sleepCtx(ctx, f.delay); err != nil {
		return nil, err
	}
	return f.albums, f.albumsErr
}

func (f *fakeCatalog) AlbumTracks(ctx context.Context, albumID string) ([]client.Track, error) {
	return f.tracks[albumID], nil
}

func (f *fakeCatalog) startedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.albumsCalledAt
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeStore struct {
	mu       sync.Mutex
	artist   *model.Artist
	venues   map[string]string
	shows    map[string]string
	songs    []model.Song
	setlists []*model.Setlist

	songCount int
	showCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		venues: make(map[string]string),
		shows:  make(map[string]string),
	}
}

func (s *fakeStore) UpsertArtist(ctx context.Context, a *model.Artist) (*model.Artist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = "artist-1"
	a.Slug = strings.ReplaceAll(strings.ToLower(a.Name), " ", "-")
	s.artist = a
	return a, nil
}

func (s *fakeStore) UpdateArtistCounts(ctx context.Context, artistID string, songCount, showCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.songCount = songCount
	s.showCount = showCount
	return nil
}

func (s *fakeStore) UpsertVenue(ctx context.Context, v *model.Venue) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := v.Name + "|" + v.City
	if id, ok := s.venues[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("venue-%d", len(s.venues)+1)
	s.venues[key] = id
	return id, nil
}

func (s *fakeStore) UpsertShow(ctx context.Context, sh *model.Show) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.shows[sh.ExternalID]; ok {
		sh.ID = id
		return id, nil
	}
	sh.ID = fmt.Sprintf("show-%d", len(s.shows)+1)
	s.shows[sh.ExternalID] = sh.ID
	return sh.ID, nil
}

func (s *fakeStore) ReplaceArtistSongs(ctx context.Context, artistID string, songs []model.Song) error {
	for i := range songs {
		songs[i].ID = fmt.Sprintf("song-%d", i+1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.songs = append([]model.Song(nil), songs...)
	return nil
}

func (s *fakeStore) CreateSetlist(ctx context.Context, sl *model.Setlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setlists = append(s.setlists, sl)
	return nil
}

// testEvents builds n upcoming events spread across the given venues.
func testEvents(n int, venues []string) []client.Event {
	events := make([]client.Event, 0, n)
	for i := 0; i < n; i++ {
		venue := venues[i%len(venues)]
		events = append(events, client.Event{
			ID:        fmt.Sprintf("event-%d", i+1),
			Name:      "Test Artist Live",
			Date:      time.Now().Add(time.Duration(i+1) * 24 * time.Hour),
			VenueName: venue,
			VenueCity: venue + " City",
			Upcoming:  true,
		})
	}
	return events
}

func testCatalog() *fakeCatalog {
	// Two albums, 25 tracks total; three of album two's tracks are live
	// variants of album one songs and must collapse onto them.
	trackList := func(album string, from, to int) []client.Track {
		var tracks []client.Track
		for i := from; i <= to; i++ {
			tracks = append(tracks, client.Track{
				ID:         fmt.Sprintf("track-%d", i),
				Name:       fmt.Sprintf("Song %d", i),
				Album:      album,
				Popularity: 100 - i,
			})
		}
		return tracks
	}
	albumTwo := trackList("Second", 13, 22)
	albumTwo = append(albumTwo,
		client.Track{ID: "track-1-live", Name: "Song 1 (Live)", Album: "Second", Popularity: 10},
		client.Track{ID: "track-2-live", Name: "Song 2 - Live at Wembley", Album: "Second", Popularity: 10},
		client.Track{ID: "track-3-live", Name: "Song 3 (Live at MSG)", Album: "Second", Popularity: 10},
	)
	return &fakeCatalog{
		artist: &client.CatalogArtist{ID: "cat-1", Name: "Test Artist"},
		albums: []client.Album{{ID: "album-1", Name: "First"}, {ID: "album-2", Name: "Second"}},
		tracks: map[string][]client.Track{
			"album-1": trackList("First", 1, 12),
			"album-2": albumTwo,
		},
	}
}

func TestImportArtist_EndToEnd(t *testing.T) {
	identity := &fakeIdentity{result: &client.IdentityResult{ID: "ARTIST123", Name: "Test Artist"}}
	events := &fakeEvents{events: testEvents(8, []string{"Arena A", "Arena B", "Hall C", "Club D", "Stadium E"})}
	catalog := testCatalog()
	store := newFakeStore()
	tracker := status.NewTracker(nil, nil)
	defer tracker.Close()

	o := NewOrchestrator(identity, events, catalog, store, tracker, Budgets{})
	result, err := o.ImportArtist(context.Background(), "ARTIST123")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if !result.Success {
		t.Error("expected successful result")
	}
	if result.ArtistName != "Test Artist" || result.ArtistSlug != "test-artist" {
		t.Errorf("unexpected artist fields: %+v", result)
	}
	if result.TotalSongs != 22 {
		t.Errorf("expected 22 songs after live-variant dedupe, got %d", result.TotalSongs)
	}
	if result.TotalShows != 8 {
		t.Errorf("expected 8 shows, got %d", result.TotalShows)
	}
	if result.TotalVenues != 5 {
		t.Errorf("expected 5 venues, got %d", result.TotalVenues)
	}
	for _, phase := range []string{model.PhaseIdentity, model.PhaseShows, model.PhaseCatalog, model.PhaseSetlists} {
		if _, ok := result.PhaseTimings[phase]; !ok {
			t.Errorf("missing %s timing in result", phase)
		}
	}

	if store.artist == nil || store.artist.CatalogID != "cat-1" {
		t.Errorf("expected enriched artist record, got %+v", store.artist)
	}
	if store.songCount != 22 || store.showCount != 8 {
		t.Errorf("artist counts not updated: songs=%d shows=%d", store.songCount, store.showCount)
	}
	if len(store.setlists) != 8 {
		t.Fatalf("expected a placeholder setlist per upcoming show, got %d", len(store.setlists))
	}
	for _, sl := range store.setlists {
		if len(sl.SongIDs) != placeholderSongs {
			t.Errorf("setlist for show %s has %d songs, want %d", sl.ShowID, len(sl.SongIDs), placeholderSongs)
		}
		if sl.ShowID == "" || !sl.Editable {
			t.Errorf("malformed placeholder setlist: %+v", sl)
		}
	}

	job, _ := tracker.Get(context.Background(), result.JobID, status.ByJob)
	if job == nil || job.Stage != model.StageCompleted || job.Progress != 100 {
		t.Errorf("expected completed status record, got %+v", job)
	}
}

func TestImportArtist_ProgressNeverRegressesAcrossConcurrentPhases(t *testing.T) {
	identity := &fakeIdentity{result: &client.IdentityResult{Name: "Test Artist"}}
	events := &fakeEvents{events: testEvents(3, []string{"Arena A"}), delay: 20 * time.Millisecond}
	catalog := testCatalog()
	store := newFakeStore()
	tracker := status.NewTracker(nil, nil)
	defer tracker.Close()

	o := NewOrchestrator(identity, events, catalog, store, tracker, Budgets{})

	jobID := "job-progress"
	ch, cancel := tracker.Subscribe(jobID)
	defer cancel()

	if _, err := o.Run(context.Background(), jobID, "ARTIST123"); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	last := -1
	for job := range ch {
		if job.Progress < last {
			t.Fatalf("progress regressed from %d to %d at stage %s", last, job.Progress, job.Stage)
		}
		last = job.Progress
		if job.Stage.Terminal() {
			break
		}
	}
	if last != 100 {
		t.Errorf("expected final progress 100, got %d", last)
	}
}

func TestImportArtist_IdentityFailureIsFatal(t *testing.T) {
	identity := &fakeIdentity{err: errors.New("provider down")}
	store := newFakeStore()
	tracker := status.NewTracker(nil, nil)
	defer tracker.Close()

	o := NewOrchestrator(identity, &fakeEvents{}, testCatalog(), store, tracker, Budgets{})
	_, err := o.Run(context.Background(), "job-fail", "ARTIST123")

	var perr *PhaseError
	if !errors.As(err, &perr) || perr.Phase != 1 {
		t.Fatalf("expected phase 1 error, got %v", err)
	}

	job, _ := tracker.Get(context.Background(), "job-fail", status.ByJob)
	if job == nil || job.Stage != model.StageFailed {
		t.Fatalf("expected failed status record, got %+v", job)
	}
	if !strings.Contains(job.Error, "identity resolution") {
		t.Errorf("failure reason must name the phase task, got %q", job.Error)
	}
}

func TestImportArtist_EnrichmentFailureIsNonFatalUntilPhase3(t *testing.T) {
	identity := &fakeIdentity{result: &client.IdentityResult{Name: "Test Artist"}}
	catalog := testCatalog()
	catalog.searchErr = errors.New("catalog down")
	store := newFakeStore()
	tracker := status.NewTracker(nil, nil)
	defer tracker.Close()

	o := NewOrchestrator(identity, &fakeEvents{events: testEvents(2, []string{"Arena A"})}, catalog, store, tracker, Budgets{})

	// Phase 1 alone succeeds in degraded mode: the artist record exists
	// without a catalog identifier.
	artist, err := o.ProcessPhase1(context.Background(), "ARTIST123")
	if err != nil {
		t.Fatalf("degraded phase 1 must still succeed: %v", err)
	}
	if artist.CatalogID != "" {
		t.Errorf("expected no catalog id after failed enrichment, got %q", artist.CatalogID)
	}

	// The full run then fails at phase 3's precondition.
	_, err = o.Run(context.Background(), "job-degraded", "ARTIST123")
	var perr *PhaseError
	if !errors.As(err, &perr) || perr.Phase != 3 {
		t.Fatalf("expected phase 3 error, got %v", err)
	}
	if !errors.Is(err, ErrNoCatalogID) {
		t.Errorf("expected ErrNoCatalogID in chain, got %v", err)
	}
}

func TestImportArtist_ShowSyncFailureFailsJob(t *testing.T) {
	identity := &fakeIdentity{result: &client.IdentityResult{Name: "Test Artist"}}
	events := &fakeEvents{err: errors.New("ticketing 503")}
	store := newFakeStore()
	tracker := status.NewTracker(nil, nil)
	defer tracker.Close()

	o := NewOrchestrator(identity, events, testCatalog(), store, tracker, Budgets{})
	_, err := o.Run(context.Background(), "job-shows", "ARTIST123")

	var perr *PhaseError
	if !errors.As(err, &perr) || perr.Phase != 2 {
		t.Fatalf("expected phase 2 error, got %v", err)
	}
	if !strings.Contains(perr.Error(), "show sync") {
		t.Errorf("expected task name in error, got %q", perr.Error())
	}
}

func TestImportArtist_Phases2And3StartTogether(t *testing.T) {
	identity := &fakeIdentity{result: &client.IdentityResult{Name: "Test Artist"}}
	events := &fakeEvents{events: testEvents(2, []string{"Arena A"}), delay: 150 * time.Millisecond}
	catalog := testCatalog()
	catalog.delay = 150 * time.Millisecond
	store := newFakeStore()
	tracker := status.NewTracker(nil, nil)
	defer tracker.Close()

	o := NewOrchestrator(identity, events, catalog, store, tracker, Budgets{})
	if _, err := o.ImportArtist(context.Background(), "ARTIST123"); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	p2, p3 := events.startedAt(), catalog.startedAt()
	if p2.IsZero() || p3.IsZero() {
		t.Fatal("both phases must have started")
	}
	offset := p2.Sub(p3)
	if offset < 0 {
		offset = -offset
	}
	if offset > 100*time.Millisecond {
		t.Errorf("phases 2 and 3 must start concurrently, observed %s offset", offset)
	}
}

func TestImportArtist_PhaseBudgetEnforced(t *testing.T) {
	identity := &fakeIdentity{result: &client.IdentityResult{Name: "Test Artist"}}
	events := &fakeEvents{events: testEvents(2, []string{"Arena A"}), delay: 2 * time.Second}
	store := newFakeStore()
	tracker := status.NewTracker(nil, nil)
	defer tracker.Close()

	o := NewOrchestrator(identity, events, testCatalog(), store, tracker, Budgets{Phase2: 50 * time.Millisecond})

	start := time.Now()
	_, err := o.ImportArtist(context.Background(), "ARTIST123")
	elapsed := time.Since(start)

	var perr *PhaseError
	if !errors.As(err, &perr) || perr.Phase != 2 {
		t.Fatalf("expected phase 2 budget failure, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("budget must cut the phase off promptly, took %s", elapsed)
	}
}

func TestProcessPhase3_RequiresCatalogID(t *testing.T) {
	tracker := status.NewTracker(nil, nil)
	defer tracker.Close()
	o := NewOrchestrator(&fakeIdentity{}, &fakeEvents{}, testCatalog(), newFakeStore(), tracker, Budgets{})
	_, err := o.ProcessPhase3(context.Background(), &model.Artist{ID: "artist-1", Name: "Test Artist"})
	if !errors.Is(err, ErrNoCatalogID) {
		t.Fatalf("expected ErrNoCatalogID, got %v", err)
	}
}

func TestCreatePlaceholders_EmptyCatalogYieldsEmptySetlists(t *testing.T) {
	identity := &fakeIdentity{result: &client.IdentityResult{Name: "Test Artist"}}
	catalog := testCatalog()
	catalog.albums = nil
	catalog.tracks = nil
	events := &fakeEvents{events: testEvents(2, []string{"Arena A"})}
	store := newFakeStore()
	tracker := status.NewTracker(nil, nil)
	defer tracker.Close()

	o := NewOrchestrator(identity, events, catalog, store, tracker, Budgets{})
	result, err := o.ImportArtist(context.Background(), "ARTIST123")
	if err != nil {
		t.Fatalf("import with empty catalog must succeed: %v", err)
	}
	if result.TotalSongs != 0 {
		t.Errorf("expected 0 songs, got %d", result.TotalSongs)
	}
	if len(store.setlists) != 2 {
		t.Fatalf("expected setlists for both upcoming shows, got %d", len(store.setlists))
	}
	for _, sl := range store.setlists {
		if len(sl.SongIDs) != 0 {
			t.Errorf("expected empty placeholder setlist, got %d songs", len(sl.SongIDs))
		}
	}
}
