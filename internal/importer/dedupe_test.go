package importer

import (
	"testing"

	"github.com/setlistvote/api/internal/client"
)

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Song Name", "song name"},
		{"Song Name (Live)", "song name"},
		{"Song Name (Live at Wembley)", "song name"},
		{"Song Name [2011 Remaster]", "song name"},
		{"Song Name - Live at MSG", "song name"},
		{"Song Name - 2011 Remaster", "song name"},
		{"Song Name (Acoustic Version)", "song name"},
		{"Song Name (feat. Someone)", "song name (feat. someone)"},
		{"  Song   Name  ", "song name"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeTitle(tc.in); got != tc.want {
			t.Errorf("normalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDedupeTracks_KeepsMostPopularVariant(t *testing.T) {
	tracks := []client.Track{
		{ID: "t1", Name: "Anthem", Album: "Studio", Popularity: 40},
		{ID: "t2", Name: "Anthem (Live)", Album: "Live Album", Popularity: 80},
		{ID: "t3", Name: "Other Song", Album: "Studio", Popularity: 50},
	}

	songs := dedupeTracks("artist-1", tracks)
	if len(songs) != 2 {
		t.Fatalf("expected 2 deduped songs, got %d", len(songs))
	}

	idx := -1
	for i := range songs {
		if songs[i].NormalizedTitle == "anthem" {
			idx = i
		}
	}
	if idx < 0 {
		t.Fatal("missing deduped anthem entry")
	}
	got := songs[idx]
	if got.Popularity != 80 || got.Title != "Anthem (Live)" {
		t.Errorf("expected the more popular variant to win, got %+v", got)
	}
	if got.ArtistID != "artist-1" {
		t.Errorf("song must carry the artist id, got %q", got.ArtistID)
	}
}

func TestDedupeTracks_SkipsEmptyTitles(t *testing.T) {
	tracks := []client.Track{
		{ID: "t1", Name: "   "},
		{ID: "t2", Name: "Real Song", Popularity: 10},
	}
	songs := dedupeTracks("artist-1", tracks)
	if len(songs) != 1 || songs[0].NormalizedTitle != "real song" {
		t.Fatalf("expected only the real song, got %+v", songs)
	}
}
