package addon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ogero/stremio-addonhub/pkg/stremio"
	"github.com/ogero/stremio-addonhub/pkg/transport"
	"github.com/webtor-io/lazymap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Client speaks the addon protocol: manifest, catalog and stream endpoints.
type Client interface {
	// FetchManifest normalizes rawURL, fetches its manifest.json and returns the manifest with URL set to the base URL.
	// A manifest without id gets one derived from the URL.
	FetchManifest(ctx context.Context, rawURL string) (*stremio.Manifest, error)
	// GetStreams fetches the raw stream list an addon returns for a content id.
	GetStreams(ctx context.Context, baseURL, contentType, id string) (*stremio.StreamsResponse, error)
	// GetCatalog fetches one page of an addon catalog.
	GetCatalog(ctx context.Context, baseURL, contentType, catalogID string, skip int, extra map[string]string) (*stremio.MetasResponse, error)
}

// Options configures a Client. Zero values fall back to sensible defaults.
type Options struct {
	HTTPClient          *http.Client
	UserAgent           string
	Timeout             time.Duration
	Retry               RetryPolicy
	MaxBodyBytes        int64
	StreamCacheTTL      time.Duration
	StreamCacheErrorTTL time.Duration
}

type client struct {
	httpClient   *http.Client
	retry        RetryPolicy
	maxBodyBytes int64
	manifests    singleflight.Group
	streams      *lazymap.LazyMap[*stremio.StreamsResponse]
}

// NewClient creates a new addon protocol client.
func NewClient(opts Options) Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConns = 100
		t.MaxConnsPerHost = 100
		t.MaxIdleConnsPerHost = 100

		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: transport.NewHeadersRoundTripper(t,
				transport.WithAccept("application/json"),
				transport.WithUserAgent(opts.UserAgent),
			),
		}
	}

	retryPolicy := opts.Retry
	if retryPolicy.MaxAttempts <= 0 {
		retryPolicy = DefaultRetryPolicy
	}

	cacheTTL := opts.StreamCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	errorTTL := opts.StreamCacheErrorTTL
	if errorTTL <= 0 {
		errorTTL = 10 * time.Second
	}

	return &client{
		httpClient:   httpClient,
		retry:        retryPolicy,
		maxBodyBytes: opts.MaxBodyBytes,
		streams: lazymap.New[*stremio.StreamsResponse](&lazymap.Config{
			Expire:      cacheTTL,
			ErrorExpire: errorTTL,
		}),
	}
}

// FetchManifest normalizes rawURL, fetches its manifest.json and returns the manifest with URL set to the base URL.
func (c *client) FetchManifest(ctx context.Context, rawURL string) (*stremio.Manifest, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "addon.Client.FetchManifest")
	defer span.End()

	manifestURL, baseURL, err := NormalizeManifestURL(rawURL)
	if err != nil {
		span.RecordError(err)
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	span.SetAttributes(attribute.String("addon.manifest_url", manifestURL))

	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: manifestURL, Err: err}
	}

	// the fetch is shared with concurrent callers, so it must not end with this caller's context
	sharedCtx := context.WithoutCancel(ctx)
	v, err, _ := c.manifests.Do(manifestURL, func() (any, error) {
		return retry(sharedCtx, c.retry, func() (*stremio.Manifest, error) {
			m := &stremio.Manifest{}
			if err := c.getJSON(sharedCtx, manifestURL, m); err != nil {
				return nil, err
			}
			return m, nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, &FetchError{URL: manifestURL, Err: err}
	}

	// singleflight callers share the fetched value, hand out a private copy
	m := *v.(*stremio.Manifest)
	if strings.TrimSpace(m.ID) == "" && m.Name == "" && len(m.Resources) == 0 && len(m.Catalogs) == 0 {
		return nil, fmt.Errorf("manifest %s is empty: %w", manifestURL, ErrInvalidManifest)
	}
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		m.ID = DeriveID(baseURL)
	}
	m.URL = baseURL
	span.SetAttributes(attribute.String("addon.id", m.ID))

	return &m, nil
}

// GetStreams fetches the raw stream list an addon returns for a content id, with caching.
func (c *client) GetStreams(ctx context.Context, baseURL, contentType, id string) (*stremio.StreamsResponse, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "addon.Client.GetStreams")
	defer span.End()

	u := streamURL(baseURL, contentType, id)
	span.SetAttributes(attribute.String("addon.stream_url", u))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// the result is cached for every caller, a cancellation of this one must not be cached with it
	sharedCtx := context.WithoutCancel(ctx)
	res, err := c.streams.Get(u, func() (*stremio.StreamsResponse, error) {
		return retry(sharedCtx, c.retry, func() (*stremio.StreamsResponse, error) {
			res := &stremio.StreamsResponse{}
			if err := c.getJSON(sharedCtx, u, res); err != nil {
				return nil, err
			}
			return res, nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// GetCatalog fetches one page of an addon catalog.
func (c *client) GetCatalog(ctx context.Context, baseURL, contentType, catalogID string, skip int, extra map[string]string) (*stremio.MetasResponse, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "addon.Client.GetCatalog")
	defer span.End()

	u := catalogURL(baseURL, contentType, catalogID, skip, extra)
	span.SetAttributes(attribute.String("addon.catalog_url", u))

	res, err := retry(ctx, c.retry, func() (*stremio.MetasResponse, error) {
		res := &stremio.MetasResponse{}
		if err := c.getJSON(ctx, u, res); err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// getJSON performs one GET and decodes the body into v. Errors that retrying cannot fix are marked permanent.
func (c *client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to http.NewRequestWithContext: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: res.StatusCode}
		if statusErr.Transient() {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	if err := decodeJSON(res.Body, c.maxBodyBytes, v); err != nil {
		return backoff.Permanent(err)
	}
	return nil
}
