package addon

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MunifTanjim/go-ptt"
)

// Features holds what can be guessed about a stream from its free-text labels.
// Addons do not send these as structured fields, so every value is a best effort.
type Features struct {
	Resolution string   `json:"resolution,omitempty"`
	Quality    string   `json:"quality,omitempty"`
	Codec      string   `json:"codec,omitempty"`
	HDR        []string `json:"hdr,omitempty"`
	Languages  []string `json:"languages,omitempty"`
	Seeders    int      `json:"seeders,omitempty"`
	Size       string   `json:"size,omitempty"`
}

var (
	seedersRE    = regexp.MustCompile(`(?i)(?:👤|seeds?|seeders?|peers?)\s*:?\s*(\d+)`)
	sizeRE       = regexp.MustCompile(`(?i)(?:💾\s*)?(\d+(?:[.,]\d+)?\s*[KMGT]i?B)\b`)
	resolutionRE = regexp.MustCompile(`(?i)\b(2160p|4k|1440p|1080p|720p|576p|480p|360p)\b`)
)

// ParseFeatures extracts resolution, quality, languages and seed count from a stream name and title.
// Titles commonly carry the release name on the first line and emoji-prefixed stats below it.
func ParseFeatures(name, title string) Features {
	release, _, _ := strings.Cut(title, "\n")
	if strings.TrimSpace(release) == "" {
		release = name
	}

	parsed := ptt.Parse(strings.TrimSpace(release))
	f := Features{
		Resolution: parsed.Resolution,
		Quality:    parsed.Quality,
		Codec:      parsed.Codec,
		HDR:        parsed.HDR,
		Languages:  parsed.Languages,
		Size:       parsed.Size,
	}

	labels := name + "\n" + title
	if f.Resolution == "" {
		if m := resolutionRE.FindStringSubmatch(labels); m != nil {
			f.Resolution = strings.ToLower(m[1])
		}
	}
	if f.Resolution == "4k" {
		f.Resolution = "2160p"
	}
	if m := seedersRE.FindStringSubmatch(labels); m != nil {
		f.Seeders, _ = strconv.Atoi(m[1])
	}
	if f.Size == "" {
		if m := sizeRE.FindStringSubmatch(labels); m != nil {
			f.Size = m[1]
		}
	}

	return f
}
