package addon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const manifestSuffix = "/manifest.json"

var slugReplacer = strings.NewReplacer("/", ".", "-", ".", "_", ".", ":", ".")

// NormalizeManifestURL returns the manifest.json URL and the base URL for an addon install URL.
// stremio:// links are rewritten to https://, query strings and fragments are dropped and the
// manifest.json suffix is appended when absent.
func NormalizeManifestURL(raw string) (manifestURL, baseURL string, err error) {
	s := strings.TrimSpace(raw)
	if len(s) >= len("stremio://") && strings.EqualFold(s[:len("stremio://")], "stremio://") {
		s = "https://" + s[len("stremio://"):]
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("failed to url.Parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported addon url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("addon url %q has no host", raw)
	}

	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), manifestSuffix)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	baseURL = u.String()
	return baseURL + manifestSuffix, baseURL, nil
}

// DeriveID returns a stable addon id for a base URL. The same base URL always yields the same id.
func DeriveID(baseURL string) string {
	u, err := url.Parse(baseURL)
	slug := baseURL
	if err == nil {
		slug = u.Host + u.Path
	}
	slug = strings.Trim(slugReplacer.Replace(strings.ToLower(slug)), ".")
	sum := sha256.Sum256([]byte(baseURL))
	return fmt.Sprintf("url.%s.%s", slug, hex.EncodeToString(sum[:4]))
}

func streamURL(baseURL, contentType, id string) string {
	return fmt.Sprintf("%s/stream/%s/%s.json", baseURL, url.PathEscape(contentType), url.PathEscape(id))
}

func catalogURL(baseURL, contentType, catalogID string, skip int, extra map[string]string) string {
	u := fmt.Sprintf("%s/catalog/%s/%s.json", baseURL, url.PathEscape(contentType), url.PathEscape(catalogID))
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", fmt.Sprint(skip))
	}
	for k, v := range extra {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}
