// Package streams resolves playable streams for a title across every installed addon.
package streams

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/ogero/stremio-addonhub/pkg/stremio"
)

// BehaviorHints carries the addon supplied hints plus the torrent fields computed during normalization.
type BehaviorHints struct {
	NotWebReady      bool     `json:"notWebReady"`
	IsMagnetStream   bool     `json:"isMagnetStream"`
	BingeGroup       string   `json:"bingeGroup,omitempty"`
	CountryWhitelist []string `json:"countryWhitelist,omitempty"`
	Filename         string   `json:"filename,omitempty"`
	VideoSize        int64    `json:"videoSize,omitempty"`
	InfoHash         string   `json:"infoHash,omitempty"`
	FileIdx          *int     `json:"fileIdx,omitempty"`
	Sources          []string `json:"sources,omitempty"`
}

// Stream is a normalized playable source. It is never modified after normalization.
type Stream struct {
	URL           string        `json:"url"`
	Name          string        `json:"name,omitempty"`
	Title         string        `json:"title,omitempty"`
	Description   string        `json:"description,omitempty"`
	AddonID       string        `json:"addonId"`
	AddonName     string        `json:"addonName"`
	BehaviorHints BehaviorHints `json:"behaviorHints"`
}

// StreamResponse groups the streams one addon returned.
type StreamResponse struct {
	Addon     string   `json:"addon"`
	AddonName string   `json:"addonName"`
	Streams   []Stream `json:"streams"`
}

// PublicTrackers are announced in every synthesized magnet URI.
var PublicTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.demonii.com:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.openbittorrent.com:6969/announce",
	"udp://explodie.org:6969/announce",
}

const trackerSourcePrefix = "tracker:"

// Normalize turns the raw streams of an addon into Streams tagged with the addon provenance.
// Entries with neither a URL nor an infoHash are dropped.
func Normalize(m stremio.Manifest, raw []stremio.RawStream) []Stream {
	out := make([]Stream, 0, len(raw))
	for _, r := range raw {
		s, ok := normalize(m, r)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

func normalize(m stremio.Manifest, r stremio.RawStream) (Stream, bool) {
	infoHash := strings.ToLower(strings.TrimSpace(r.InfoHash))
	streamURL := strings.TrimSpace(r.URL)
	if streamURL == "" && infoHash == "" {
		return Stream{}, false
	}

	var hints BehaviorHints
	if r.BehaviorHints != nil {
		hints = BehaviorHints{
			NotWebReady:      r.BehaviorHints.NotWebReady,
			BingeGroup:       r.BehaviorHints.BingeGroup,
			CountryWhitelist: r.BehaviorHints.CountryWhitelist,
			Filename:         r.BehaviorHints.Filename,
			VideoSize:        r.BehaviorHints.VideoSize,
		}
	}

	if streamURL == "" {
		streamURL = MagnetURI(infoHash, displayName(r, infoHash), r.Sources)
	}

	hints.IsMagnetStream = strings.HasPrefix(strings.ToLower(streamURL), "magnet:")
	if hints.IsMagnetStream && infoHash == "" {
		infoHash = magnetInfoHash(streamURL)
	}
	if hints.IsMagnetStream || infoHash != "" {
		hints.InfoHash = infoHash
		if r.FileIdx != nil {
			idx := *r.FileIdx
			hints.FileIdx = &idx
		}
		hints.Sources = slices.Clone(r.Sources)
	}

	return Stream{
		URL:           streamURL,
		Name:          r.Name,
		Title:         r.Title,
		Description:   r.Description,
		AddonID:       m.ID,
		AddonName:     m.Name,
		BehaviorHints: hints,
	}, true
}

func displayName(r stremio.RawStream, infoHash string) string {
	if r.BehaviorHints != nil && r.BehaviorHints.Filename != "" {
		return r.BehaviorHints.Filename
	}
	for _, label := range []string{r.Title, r.Description, r.Name} {
		if first, _, _ := strings.Cut(label, "\n"); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	return infoHash
}

// magnetInfoHash returns the lowercased btih hash of a magnet URI, or "" when it has none.
func magnetInfoHash(magnet string) string {
	u, err := url.Parse(magnet)
	if err != nil {
		return ""
	}
	for _, xt := range u.Query()["xt"] {
		if hash, ok := strings.CutPrefix(strings.ToLower(xt), "urn:btih:"); ok && hash != "" {
			return hash
		}
	}
	return ""
}

// MagnetURI builds a magnet link for infoHash announcing the public trackers plus any "tracker:" sources.
func MagnetURI(infoHash, name string, sources []string) string {
	trackers := slices.Clone(PublicTrackers)
	for _, source := range sources {
		tracker, ok := strings.CutPrefix(source, trackerSourcePrefix)
		if !ok || tracker == "" || slices.Contains(trackers, tracker) {
			continue
		}
		trackers = append(trackers, tracker)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "magnet:?xt=urn:btih:%s", infoHash)
	if name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(name))
	}
	for _, tracker := range trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tracker))
	}
	return b.String()
}
