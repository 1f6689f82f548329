package addon

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidManifest is returned when a fetched document cannot describe a usable addon.
var ErrInvalidManifest = errors.New("invalid addon manifest")

// FetchError is returned when a manifest is unreachable after retries or is not parseable.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch manifest %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx addon response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("addon returned status %d", e.StatusCode)
}

// Transient reports whether the request is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
