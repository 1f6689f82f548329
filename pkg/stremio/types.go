package stremio

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Resource names an addon operation.
const (
	ResourceCatalog   = "catalog"
	ResourceMeta      = "meta"
	ResourceStream    = "stream"
	ResourceSubtitles = "subtitles"
)

// Manifest represents a Stremio addon manifest
type Manifest struct {
	ID          string        `json:"id"`
	Version     string        `json:"version"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Types       []string      `json:"types,omitempty"`
	IDPrefixes  []string      `json:"idPrefixes,omitempty"`
	Catalogs    []CatalogItem `json:"catalogs"`
	Resources   []Resource    `json:"resources"`
	Logo        string        `json:"logo,omitempty"`
	Background  string        `json:"background,omitempty"`
	// URL is the base URL of the addon, without the manifest.json suffix.
	// Remote manifests never carry it, it is set when the manifest is fetched.
	URL string `json:"url"`
}

// CatalogItem represents a Stremio manifest catalog item
type CatalogItem struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Name  string         `json:"name,omitempty"`
	Extra []CatalogExtra `json:"extra,omitempty"`
}

// CatalogExtra declares a filter a catalog accepts (genre, search, skip).
type CatalogExtra struct {
	Name       string   `json:"name"`
	IsRequired bool     `json:"isRequired,omitempty"`
	Options    []string `json:"options,omitempty"`
}

// Resource declares which content types and id prefixes an operation supports.
// Manifests may declare a resource as a bare string, in which case Types and IDPrefixes
// are inherited from the manifest's top-level fields.
type Resource struct {
	Name       string   `json:"name"`
	Types      []string `json:"types,omitempty"`
	IDPrefixes []string `json:"idPrefixes,omitempty"`
}

// UnmarshalJSON accepts both the string and the object form of a resource.
func (r *Resource) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*r = Resource{Name: name}
		return nil
	}
	type resource Resource
	var obj resource
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("resource is neither a string nor an object: %w", err)
	}
	*r = Resource(obj)
	return nil
}

// Resource returns the declaration of the named resource with inherited types and prefixes resolved.
func (m *Manifest) Resource(name string) (Resource, bool) {
	for _, res := range m.Resources {
		if res.Name != name {
			continue
		}
		if len(res.Types) == 0 {
			res.Types = m.Types
		}
		if len(res.IDPrefixes) == 0 {
			res.IDPrefixes = m.IDPrefixes
		}
		return res, true
	}
	return Resource{}, false
}

// Supports reports whether the manifest declares the resource for the content type.
func (m *Manifest) Supports(resource, contentType string) bool {
	res, ok := m.Resource(resource)
	return ok && slices.Contains(res.Types, contentType)
}

// AcceptsID reports whether id matches the resource's id prefixes. A resource without prefixes accepts any id.
func (r Resource) AcceptsID(id string) bool {
	if len(r.IDPrefixes) == 0 {
		return true
	}
	for _, prefix := range r.IDPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// StreamBehaviorHints represents behavior hints attached to a stream by an addon
type StreamBehaviorHints struct {
	NotWebReady      bool     `json:"notWebReady,omitempty"`
	BingeGroup       string   `json:"bingeGroup,omitempty"`
	CountryWhitelist []string `json:"countryWhitelist,omitempty"`
	VideoSize        int64    `json:"videoSize,omitempty"`
	Filename         string   `json:"filename,omitempty"`
}

// RawStream is a stream entry exactly as an addon returns it.
type RawStream struct {
	Name          string               `json:"name,omitempty"`
	Title         string               `json:"title,omitempty"`
	Description   string               `json:"description,omitempty"`
	URL           string               `json:"url,omitempty"`
	ExternalURL   string               `json:"externalUrl,omitempty"`
	YtID          string               `json:"ytId,omitempty"`
	InfoHash      string               `json:"infoHash,omitempty"`
	FileIdx       *int                 `json:"fileIdx,omitempty"`
	Sources       []string             `json:"sources,omitempty"`
	BehaviorHints *StreamBehaviorHints `json:"behaviorHints,omitempty"`
	// AddonID and AddonName are never trusted, provenance is assigned on normalization.
	AddonID   string `json:"addonId,omitempty"`
	AddonName string `json:"addonName,omitempty"`
}

// StreamsResponse is the body of the stream endpoint
type StreamsResponse struct {
	Streams []RawStream `json:"streams"`
}

// MetaItem is a catalog entry
type MetaItem struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Poster      string   `json:"poster,omitempty"`
	PosterShape string   `json:"posterShape,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	ReleaseInfo string   `json:"releaseInfo,omitempty"`
	Description string   `json:"description,omitempty"`
}

// MetasResponse is the body of the catalog endpoint
type MetasResponse struct {
	Metas []MetaItem `json:"metas"`
}
