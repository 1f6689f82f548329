package streams

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Candidates builds the ordered identifier candidates tried for a title.
// ids are alternative encodings of the same title in priority order; episodic requests get the
// season and episode suffix, and tmdb: prefixed ids are followed by their bare form.
func Candidates(contentType string, ids []string, season, episode int) []string {
	episodic := contentType != "movie" && season > 0 && episode > 0

	suffix := func(id string) string {
		if !episodic {
			return id
		}
		return fmt.Sprintf("%s:%d:%d", id, season, episode)
	}

	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, suffix(id))
		if bare, ok := strings.CutPrefix(id, "tmdb:"); ok && bare != "" {
			out = append(out, suffix(bare))
		}
	}
	return lo.Uniq(out)
}

// SplitID separates an addon style content id (tt0903747:1:2) into its base id, season and episode.
// Ids without a numeric season and episode suffix are returned unchanged.
func SplitID(id string) (string, int, int) {
	parts := strings.Split(id, ":")
	if len(parts) < 3 {
		return id, 0, 0
	}

	season, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil || season < 0 {
		return id, 0, 0
	}
	episode, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || episode < 0 {
		return id, 0, 0
	}
	return strings.Join(parts[:len(parts)-2], ":"), season, episode
}
