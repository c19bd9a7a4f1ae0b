package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/setlistvote/api/internal/model"
)

// Store persists the artist catalog the import pipeline assembles.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pgx pool to the given Postgres URL.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool, shared with the job store.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema creates the tables the pipeline writes to.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS artists (
        id UUID PRIMARY KEY,
        external_id TEXT NOT NULL UNIQUE,
        catalog_id TEXT,
        name TEXT NOT NULL,
        slug TEXT NOT NULL,
        image_url TEXT,
        genres TEXT[],
        song_count INTEGER NOT NULL DEFAULT 0,
        show_count INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS venues (
        id UUID PRIMARY KEY,
        external_id TEXT,
        name TEXT NOT NULL,
        city TEXT NOT NULL,
        state TEXT,
        country TEXT,
        UNIQUE (name, city)
    );
    CREATE TABLE IF NOT EXISTS shows (
        id UUID PRIMARY KEY,
        external_id TEXT NOT NULL UNIQUE,
        artist_id UUID NOT NULL REFERENCES artists(id),
        venue_id UUID NOT NULL REFERENCES venues(id),
        date TIMESTAMPTZ NOT NULL,
        ticket_url TEXT,
        min_price DOUBLE PRECISION,
        max_price DOUBLE PRECISION,
        upcoming BOOLEAN NOT NULL DEFAULT false
    );
    CREATE TABLE IF NOT EXISTS songs (
        id UUID PRIMARY KEY,
        artist_id UUID NOT NULL REFERENCES artists(id),
        title TEXT NOT NULL,
        normalized_title TEXT NOT NULL,
        album TEXT,
        popularity INTEGER NOT NULL DEFAULT 0,
        duration_ms INTEGER NOT NULL DEFAULT 0,
        UNIQUE (artist_id, normalized_title)
    );
    CREATE TABLE IF NOT EXISTS setlists (
        id UUID PRIMARY KEY,
        show_id UUID NOT NULL REFERENCES shows(id),
        artist_id UUID NOT NULL REFERENCES artists(id),
        song_ids UUID[],
        editable BOOLEAN NOT NULL DEFAULT true,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    `
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// UpsertArtist inserts or updates the artist keyed on external_id.
// Scalar fields are last-writer-wins, which is the conflict rule for
// two imports racing on the same external id; counts are left alone
// here and set by UpdateArtistCounts from a single run's totals.
func (s *Store) UpsertArtist(ctx context.Context, a *model.Artist) (*model.Artist, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Slug == "" {
		a.Slug = Slugify(a.Name)
	}
	now := time.Now()

	row := s.pool.QueryRow(ctx, `
        INSERT INTO artists (id, external_id, catalog_id, name, slug, image_url, genres, created_at, updated_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8, $8)
        ON CONFLICT (external_id) DO UPDATE SET
            catalog_id = COALESCE(NULLIF(EXCLUDED.catalog_id, ''), artists.catalog_id),
            name = EXCLUDED.name,
            slug = EXCLUDED.slug,
            image_url = COALESCE(EXCLUDED.image_url, artists.image_url),
            genres = EXCLUDED.genres,
            updated_at = EXCLUDED.updated_at
        RETURNING id, created_at`,
		a.ID, a.ExternalID, a.CatalogID, a.Name, a.Slug, a.ImageURL, a.Genres, now)

	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to upsert artist: %w", err)
	}
	a.UpdatedAt = now
	return a, nil
}

// UpdateArtistCounts sets the aggregate totals from one import run.
func (s *Store) UpdateArtistCounts(ctx context.Context, artistID string, songCount, showCount int) error {
	_, err := s.pool.Exec(ctx, `
        UPDATE artists SET song_count = $2, show_count = $3, updated_at = now() WHERE id = $1`,
		artistID, songCount, showCount)
	if err != nil {
		return fmt.Errorf("failed to update artist counts: %w", err)
	}
	return nil
}

// GetArtistBySlug reads one artist record.
func (s *Store) GetArtistBySlug(ctx context.Context, slug string) (*model.Artist, error) {
	var a model.Artist
	row := s.pool.QueryRow(ctx, `
        SELECT id, external_id, COALESCE(catalog_id, ''), name, slug, COALESCE(image_url, ''),
               COALESCE(genres, '{}'), song_count, show_count, created_at, updated_at
        FROM artists WHERE slug = $1`, slug)
	err := row.Scan(&a.ID, &a.ExternalID, &a.CatalogID, &a.Name, &a.Slug, &a.ImageURL,
		&a.Genres, &a.SongCount, &a.ShowCount, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artist: %w", err)
	}
	return &a, nil
}

// UpsertVenue dedupes venues on their (name, city) natural key and
// returns the stored id.
func (s *Store) UpsertVenue(ctx context.Context, v *model.Venue) (string, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	row := s.pool.QueryRow(ctx, `
        INSERT INTO venues (id, external_id, name, city, state, country)
        VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), NULLIF($6, ''))
        ON CONFLICT (name, city) DO UPDATE SET
            external_id = COALESCE(venues.external_id, EXCLUDED.external_id)
        RETURNING id`,
		v.ID, v.ExternalID, v.Name, v.City, v.State, v.Country)
	if err := row.Scan(&v.ID); err != nil {
		return "", fmt.Errorf("failed to upsert venue: %w", err)
	}
	return v.ID, nil
}

// UpsertShow dedupes shows on the provider's event id.
func (s *Store) UpsertShow(ctx context.Context, sh *model.Show) (string, error) {
	if sh.ID == "" {
		sh.ID = uuid.New().String()
	}
	row := s.pool.QueryRow(ctx, `
        INSERT INTO shows (id, external_id, artist_id, venue_id, date, ticket_url, min_price, max_price, upcoming)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
        ON CONFLICT (external_id) DO UPDATE SET
            date = EXCLUDED.date,
            ticket_url = EXCLUDED.ticket_url,
            min_price = EXCLUDED.min_price,
            max_price = EXCLUDED.max_price,
            upcoming = EXCLUDED.upcoming
        RETURNING id`,
		sh.ID, sh.ExternalID, sh.ArtistID, sh.VenueID, sh.Date, sh.TicketURL, sh.MinPrice, sh.MaxPrice, sh.Upcoming)
	if err := row.Scan(&sh.ID); err != nil {
		return "", fmt.Errorf("failed to upsert show: %w", err)
	}
	return sh.ID, nil
}

// ReplaceArtistSongs swaps the artist's catalog for one run's deduped
// song list in a single transaction, so readers never see a blend of
// two interleaved imports.
func (s *Store) ReplaceArtistSongs(ctx context.Context, artistID string, songs []model.Song) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM songs WHERE artist_id = $1`, artistID); err != nil {
		return fmt.Errorf("failed to clear songs: %w", err)
	}
	for i := range songs {
		song := &songs[i]
		if song.ID == "" {
			song.ID = uuid.New().String()
		}
		_, err := tx.Exec(ctx, `
            INSERT INTO songs (id, artist_id, title, normalized_title, album, popularity, duration_ms)
            VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
            ON CONFLICT (artist_id, normalized_title) DO NOTHING`,
			song.ID, artistID, song.Title, song.NormalizedTitle, song.Album, song.Popularity, song.DurationMs)
		if err != nil {
			return fmt.Errorf("failed to insert song %q: %w", song.Title, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit songs: %w", err)
	}
	return nil
}

// CreateSetlist stores one placeholder prediction setlist.
func (s *Store) CreateSetlist(ctx context.Context, sl *model.Setlist) error {
	if sl.ID == "" {
		sl.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO setlists (id, show_id, artist_id, song_ids, editable, created_at)
        VALUES ($1, $2, $3, $4, $5, now())`,
		sl.ID, sl.ShowID, sl.ArtistID, sl.SongIDs, sl.Editable)
	if err != nil {
		return fmt.Errorf("failed to create setlist: %w", err)
	}
	return nil
}

// Slugify turns an artist name into the URL slug shown on artist pages.
func Slugify(name string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
