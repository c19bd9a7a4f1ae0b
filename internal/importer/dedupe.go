package importer

import (
	"regexp"
	"strings"

	"github.com/setlistvote/api/internal/client"
	"github.com/setlistvote/api/internal/model"
)

// variantMarkers flag the live/alternate recordings that collapse onto
// the studio version of a song.
var variantMarkers = []string{
	"live", "remaster", "remastered", "acoustic", "demo", "radio edit",
	"edit", "mono", "stereo", "deluxe", "bonus", "version", "session",
	"alternate", "instrumental", "re-recorded",
}

var bracketGroup = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]`)

func isVariantMarker(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range variantMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// normalizeTitle lowercases a track title and strips the bracketed or
// dashed variant suffixes, so "Song (Live at Wembley)" and
// "Song - 2011 Remaster" both key to "song".
func normalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))

	t = bracketGroup.ReplaceAllStringFunc(t, func(group string) string {
		if isVariantMarker(group) {
			return ""
		}
		return group
	})

	if idx := strings.Index(t, " - "); idx > 0 && isVariantMarker(t[idx+3:]) {
		t = t[:idx]
	}

	return strings.Join(strings.Fields(t), " ")
}

// dedupeTracks keys tracks on their normalized title and keeps the most
// popular variant of each.
func dedupeTracks(artistID string, tracks []client.Track) []model.Song {
	byTitle := make(map[string]int) // normalized title -> index into songs
	var songs []model.Song

	for _, track := range tracks {
		key := normalizeTitle(track.Name)
		if key == "" {
			continue
		}
		if idx, ok := byTitle[key]; ok {
			if track.Popularity > songs[idx].Popularity {
				songs[idx].Title = track.Name
				songs[idx].Album = track.Album
				songs[idx].Popularity = track.Popularity
				songs[idx].DurationMs = track.DurationMs
			}
			continue
		}
		byTitle[key] = len(songs)
		songs = append(songs, model.Song{
			ArtistID:        artistID,
			Title:           track.Name,
			NormalizedTitle: key,
			Album:           track.Album,
			Popularity:      track.Popularity,
			DurationMs:      track.DurationMs,
		})
	}
	return songs
}
