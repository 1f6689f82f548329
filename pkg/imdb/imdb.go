// Package imdb enriches resolved content identifiers with human-readable title information.
package imdb

import "context"

// Title is the metadata shown next to resolved streams.
type Title struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"`
	Year        int      `json:"year,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	Description string   `json:"description,omitempty"`
}

// IMDB defines the methods to interact with the IMDB service.
type IMDB interface {
	// GetTitle gets a Title by its ID.
	GetTitle(ctx context.Context, imdbID string) (*Title, error)
}
