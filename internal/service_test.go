package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogero/stremio-addonhub/internal/catalog"
	"github.com/ogero/stremio-addonhub/internal/notifier"
	"github.com/ogero/stremio-addonhub/internal/registry"
	"github.com/ogero/stremio-addonhub/internal/store"
	"github.com/ogero/stremio-addonhub/internal/streams"
	"github.com/ogero/stremio-addonhub/pkg/addon"
	"github.com/ogero/stremio-addonhub/pkg/imdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIMDB struct {
	calls atomic.Int32
}

func (f *fakeIMDB) GetTitle(ctx context.Context, imdbID string) (*imdb.Title, error) {
	f.calls.Add(1)
	if imdbID != "tt0903747" {
		return nil, errors.New("not found")
	}
	return &imdb.Title{ID: imdbID, Name: "Breaking Bad", Year: 2008}, nil
}

func newAddonServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/manifest.json":
			_, _ = w.Write([]byte(`{
				"id": "org.example.hub",
				"name": "Example",
				"version": "1.0.0",
				"types": ["movie", "series"],
				"catalogs": [{"type": "movie", "id": "top", "name": "Top"}, {"type": "series", "id": "top", "name": "Top"}],
				"resources": ["catalog", {"name": "stream", "types": ["series"], "idPrefixes": ["tt"]}]
			}`))
		case "/stream/series/tt0903747:1:2.json":
			_, _ = w.Write([]byte(`{"streams": [
				{"name": "Example\n1080p", "title": "Breaking.Bad.S01E02.1080p.WEB-DL.x264\n👤 12", "infoHash": "ABC", "fileIdx": 1},
				{"title": "nothing playable"},
				{"title": "Direct", "url": "https://x/y.mp4", "behaviorHints": {"videoSize": 1500000000}}
			]}`))
		case "/catalog/movie/top.json":
			_, _ = w.Write([]byte(`{"metas": [{"id": "tt1", "type": "movie", "name": "One"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestService(t *testing.T, imdbClient imdb.IMDB) HubService {
	st, err := store.Open(store.Options{InMemory: true})
	require.NoError(t, err)

	n := notifier.New()
	client := addon.NewClient(addon.Options{Retry: addon.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}})
	reg := registry.New(client, st, n.Addons, nil)

	svc, err := NewHubService(HubServiceDeps{
		Registry:    reg,
		Preferences: catalog.New(st, n.Catalogs),
		Aggregator:  streams.NewAggregator(reg, client),
		Addons:      client,
		IMDB:        imdbClient,
		Store:       st,
		Notifier:    n,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = svc.Close(context.Background())
		_ = st.Close()
	})
	return svc
}

func TestHubService_InstallReconcilesCatalogs(t *testing.T) {
	ctx := context.Background()
	server := newAddonServer(t)
	svc := newTestService(t, &fakeIMDB{})

	require.NoError(t, svc.Warmup(ctx))

	_, err := svc.InstallAddon(ctx, server.URL+"/manifest.json")
	require.NoError(t, err)

	entries, err := svc.ListCatalogs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 10, entries[0].Preference.Order)
	assert.Equal(t, "movie", entries[0].Catalog.Type)
	assert.Equal(t, 20, entries[1].Preference.Order)

	_, err = svc.SetCatalogPreference(ctx, "org.example.hub", "movie", "top", false, nil)
	require.NoError(t, err)

	entries, err = svc.ListCatalogs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "series", entries[0].Catalog.Type)

	require.NoError(t, svc.RemoveAddon(ctx, "org.example.hub"))
	entries, err = svc.ListCatalogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHubService_ResolveStreams(t *testing.T) {
	ctx := context.Background()
	server := newAddonServer(t)
	titles := &fakeIMDB{}
	svc := newTestService(t, titles)

	_, err := svc.InstallAddon(ctx, server.URL)
	require.NoError(t, err)

	result, err := svc.ResolveStreams(ctx, "series", "tt0903747:1:2")
	require.NoError(t, err)

	require.NotNil(t, result.Title)
	assert.Equal(t, "Breaking Bad", result.Title.Name)
	assert.Equal(t, []string{"tt0903747:1:2"}, result.Candidates)

	require.Len(t, result.Groups, 1)
	group := result.Groups[0]
	assert.Equal(t, "org.example.hub", group.Addon)
	require.Len(t, group.Streams, 2)

	s := group.Streams[0]
	assert.True(t, s.BehaviorHints.IsMagnetStream)
	assert.Equal(t, "abc", s.BehaviorHints.InfoHash)
	assert.Equal(t, "1080p", s.Features.Resolution)
	assert.Equal(t, 12, s.Features.Seeders)

	direct := group.Streams[1]
	assert.False(t, direct.BehaviorHints.IsMagnetStream)
	assert.Equal(t, "1.5 GB", direct.Features.Size)

	// title lookups are memoized
	_, err = svc.ResolveStreams(ctx, "series", "tt0903747:1:2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), titles.calls.Load())
}

func TestHubService_ResolveStreamsNothingFound(t *testing.T) {
	ctx := context.Background()
	server := newAddonServer(t)
	svc := newTestService(t, &fakeIMDB{})

	_, err := svc.InstallAddon(ctx, server.URL)
	require.NoError(t, err)

	result, err := svc.ResolveStreams(ctx, "series", "tt7654321:1:1")
	require.NoError(t, err)
	assert.Nil(t, result.Title)
	assert.NotNil(t, result.Groups)
	assert.Empty(t, result.Groups)
}

func TestHubService_GetCatalogItems(t *testing.T) {
	ctx := context.Background()
	server := newAddonServer(t)
	svc := newTestService(t, &fakeIMDB{})

	_, err := svc.InstallAddon(ctx, server.URL)
	require.NoError(t, err)

	metas, err := svc.GetCatalogItems(ctx, "org.example.hub", "movie", "top", 0, nil)
	require.NoError(t, err)
	require.Len(t, metas.Metas, 1)
	assert.Equal(t, "One", metas.Metas[0].Name)

	_, err = svc.GetCatalogItems(ctx, "missing", "movie", "top", 0, nil)
	assert.ErrorIs(t, err, ErrAddonNotFound)

	_, err = svc.GetCatalogItems(ctx, "org.example.hub", "movie", "popular", 0, nil)
	assert.ErrorIs(t, err, ErrCatalogNotFound)
}
