package streams_test

import (
	"testing"

	"github.com/ogero/stremio-addonhub/internal/streams"
	"github.com/stretchr/testify/assert"
)

func TestCandidates(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		ids         []string
		season      int
		episode     int
		want        []string
	}{
		{"movie", "movie", []string{"tt0000001"}, 0, 0, []string{"tt0000001"}},
		{"movie ignores episode", "movie", []string{"tt0000001"}, 1, 2, []string{"tt0000001"}},
		{"series episode", "series", []string{"tt0903747"}, 1, 2, []string{"tt0903747:1:2"}},
		{"series without episode", "series", []string{"tt0903747"}, 0, 0, []string{"tt0903747"}},
		{
			"tmdb first then bare then imdb",
			"series",
			[]string{"tmdb:1396", "tt0903747"},
			1, 2,
			[]string{"tmdb:1396:1:2", "1396:1:2", "tt0903747:1:2"},
		},
		{"skips blanks and duplicates", "movie", []string{"", "tt1", " tt1 "}, 0, 0, []string{"tt1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, streams.Candidates(tt.contentType, tt.ids, tt.season, tt.episode))
		})
	}
}

func TestSplitID(t *testing.T) {
	tests := []struct {
		id          string
		wantID      string
		wantSeason  int
		wantEpisode int
	}{
		{"tt0903747", "tt0903747", 0, 0},
		{"tt0903747:1:2", "tt0903747", 1, 2},
		{"tmdb:1396:3:4", "tmdb:1396", 3, 4},
		{"tmdb:1396", "tmdb:1396", 0, 0},
		{"kitsu:abc:x", "kitsu:abc:x", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			id, season, episode := streams.SplitID(tt.id)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantSeason, season)
			assert.Equal(t, tt.wantEpisode, episode)
		})
	}
}
