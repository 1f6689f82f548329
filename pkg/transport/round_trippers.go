package transport

import (
	"net/http"
)

// HeaderOption sets one header on every outgoing request.
type HeaderOption func(h http.Header)

type headersRoundTripper struct {
	next    http.RoundTripper
	options []HeaderOption
}

// NewHeadersRoundTripper wraps next so every request carries the headers set by opts.
// The request is cloned before modification, the caller's request is left untouched.
func NewHeadersRoundTripper(next http.RoundTripper, opts ...HeaderOption) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &headersRoundTripper{next: next, options: opts}
}

func (rt *headersRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for _, opt := range rt.options {
		opt(r.Header)
	}
	return rt.next.RoundTrip(r)
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) HeaderOption {
	return func(h http.Header) {
		if userAgent != "" {
			h.Set("User-Agent", userAgent)
		}
	}
}

// WithAccept sets the Accept header unless the request already has one.
func WithAccept(accept string) HeaderOption {
	return func(h http.Header) {
		if h.Get("Accept") == "" {
			h.Set("Accept", accept)
		}
	}
}

// WithAcceptLanguage sets the Accept-Language header.
func WithAcceptLanguage(acceptLanguage string) HeaderOption {
	return func(h http.Header) {
		h.Set("Accept-Language", acceptLanguage)
	}
}
