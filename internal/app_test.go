package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ogero/stremio-addonhub/internal/catalog"
	"github.com/ogero/stremio-addonhub/internal/streams"
	"github.com/ogero/stremio-addonhub/pkg/addon"
	"github.com/ogero/stremio-addonhub/pkg/stremio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	http.Handler

	addons     []stremio.Manifest
	installErr error
	removed    []string

	prefs    map[string]catalog.Preference
	setOrder *int

	metas    *stremio.MetasResponse
	metasErr error
	extra    map[string]string
	skip     int

	streams *Streams
	ids     []string
}

func (f *fakeHub) ListAddons(ctx context.Context) ([]stremio.Manifest, error) {
	return f.addons, nil
}

func (f *fakeHub) InstallAddon(ctx context.Context, url string) (*stremio.Manifest, error) {
	if f.installErr != nil {
		return nil, f.installErr
	}
	return &stremio.Manifest{ID: "installed", URL: url}, nil
}

func (f *fakeHub) RemoveAddon(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeHub) ListCatalogs(ctx context.Context) ([]catalog.Entry, error) {
	return []catalog.Entry{{AddonID: "a", Catalog: stremio.CatalogItem{ID: "top", Type: "movie"}, Preference: catalog.DefaultPreference}}, nil
}

func (f *fakeHub) GetCatalogPreference(ctx context.Context, addonID, contentType, catalogID string) (catalog.Preference, error) {
	if pref, ok := f.prefs[catalog.Key(addonID, contentType, catalogID)]; ok {
		return pref, nil
	}
	return catalog.DefaultPreference, nil
}

func (f *fakeHub) SetCatalogPreference(ctx context.Context, addonID, contentType, catalogID string, enabled bool, order *int) (catalog.Preference, error) {
	f.setOrder = order
	pref := catalog.Preference{Enabled: enabled, Order: catalog.DefaultOrder}
	if order != nil {
		pref.Order = *order
	}
	return pref, nil
}

func (f *fakeHub) GetCatalogItems(ctx context.Context, addonID, contentType, catalogID string, skip int, extra map[string]string) (*stremio.MetasResponse, error) {
	f.skip = skip
	f.extra = extra
	return f.metas, f.metasErr
}

func (f *fakeHub) ResolveStreams(ctx context.Context, contentType, id string) (*Streams, error) {
	f.ids = append(f.ids, id)
	return f.streams, nil
}

func (f *fakeHub) Warmup(ctx context.Context) error { return nil }

func (f *fakeHub) Close(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T, hub *fakeHub) http.Handler {
	app, err := NewApp(hub)
	require.NoError(t, err)
	r := chi.NewRouter()
	app.Mount(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_Manifest(t *testing.T) {
	rec := do(t, newTestRouter(t, &fakeHub{}), http.MethodGet, "/manifest.json", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var m stremio.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.True(t, m.Supports(stremio.ResourceStream, "series"))
}

func TestApp_InstallAddon(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		installErr error
		wantStatus int
	}{
		{"installed", `{"url": "https://a.example/manifest.json"}`, nil, http.StatusCreated},
		{"missing url", `{}`, nil, http.StatusBadRequest},
		{"invalid body", `{`, nil, http.StatusBadRequest},
		{"unreachable", `{"url": "https://a"}`, &addon.FetchError{URL: "https://a", Err: errors.New("dial")}, http.StatusUnprocessableEntity},
		{"invalid manifest", `{"url": "https://a"}`, addon.ErrInvalidManifest, http.StatusUnprocessableEntity},
		{"other", `{"url": "https://a"}`, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(t, &fakeHub{installErr: tt.installErr}), http.MethodPost, "/api/addons", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestApp_RemoveAddon(t *testing.T) {
	hub := &fakeHub{}
	h := newTestRouter(t, hub)

	rec := do(t, h, http.MethodDelete, "/api/addons/com.linvo.cinemeta", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/addons/bad:id", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"com.linvo.cinemeta"}, hub.removed)
}

func TestApp_ListAddons(t *testing.T) {
	hub := &fakeHub{addons: []stremio.Manifest{{ID: "a"}, {ID: "b"}}}
	rec := do(t, newTestRouter(t, hub), http.MethodGet, "/api/addons", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Addons []stremio.Manifest `json:"addons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Addons, 2)
	assert.Equal(t, "b", body.Addons[1].ID)
}

func TestApp_CatalogPreferences(t *testing.T) {
	hub := &fakeHub{prefs: map[string]catalog.Preference{"a:movie:top": {Enabled: false, Order: 7}}}
	h := newTestRouter(t, hub)

	rec := do(t, h, http.MethodGet, "/api/catalogs/a/movie/top", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled": false, "order": 7}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/api/catalogs/a/movie/top", `{"enabled": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, hub.setOrder)

	rec = do(t, h, http.MethodPut, "/api/catalogs/a/movie/top", `{"enabled": true, "order": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled": true, "order": 3}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/api/catalogs/a/movie/top", `{"order": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/catalogs/a/Movie/top", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/catalogs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"addonId":"a"`)
}

func TestApp_CatalogItems(t *testing.T) {
	hub := &fakeHub{metas: &stremio.MetasResponse{Metas: []stremio.MetaItem{{ID: "tt1", Name: "One"}}}}
	h := newTestRouter(t, hub)

	rec := do(t, h, http.MethodGet, "/api/catalogs/a/movie/top/items?skip=20&genre=Drama", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, hub.skip)
	assert.Equal(t, map[string]string{"genre": "Drama"}, hub.extra)

	rec = do(t, h, http.MethodGet, "/api/catalogs/a/movie/top/items?skip=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	hub.metasErr = ErrCatalogNotFound
	rec = do(t, h, http.MethodGet, "/api/catalogs/a/movie/top/items", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	hub.metasErr = errors.New("upstream")
	rec = do(t, h, http.MethodGet, "/api/catalogs/a/movie/top/items", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestApp_Streams(t *testing.T) {
	fileIdx := 2
	hub := &fakeHub{streams: &Streams{
		Candidates: []string{"tt0903747:1:2"},
		Groups: []ResolvedGroup{{
			Addon:     "torrentio",
			AddonName: "Torrentio",
			Streams: []ResolvedStream{
				{Stream: streams.Stream{URL: "https://x/y.mp4", Title: "WEB-DL 1080p", AddonID: "torrentio", AddonName: "Torrentio"}},
				{Stream: streams.Stream{
					URL:       "magnet:?xt=urn:btih:abc",
					Name:      "4k",
					AddonID:   "torrentio",
					AddonName: "Torrentio",
					BehaviorHints: streams.BehaviorHints{
						IsMagnetStream: true,
						InfoHash:       "abc",
						FileIdx:        &fileIdx,
					},
				}},
			},
		}},
	}}
	h := newTestRouter(t, hub)

	rec := do(t, h, http.MethodGet, "/api/streams/series/tt0903747:1:2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=120", rec.Header().Get("Cache-Control"))
	var got Streams
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Groups, 1)
	assert.Len(t, got.Groups[0].Streams, 2)

	rec = do(t, h, http.MethodGet, "/stream/series/tt0903747:1:2.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var flat stremio.StreamsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flat))
	require.Len(t, flat.Streams, 2)
	assert.Equal(t, "https://x/y.mp4", flat.Streams[0].URL)
	assert.Equal(t, "Torrentio\n4k", flat.Streams[1].Name)
	assert.Empty(t, flat.Streams[1].URL)
	assert.Equal(t, "abc", flat.Streams[1].InfoHash)
	require.NotNil(t, flat.Streams[1].FileIdx)
	assert.Equal(t, 2, *flat.Streams[1].FileIdx)

	assert.Equal(t, []string{"tt0903747:1:2", "tt0903747:1:2"}, hub.ids)

	rec = do(t, h, http.MethodGet, "/api/streams/series/tt1%20x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApp_StreamsEmpty(t *testing.T) {
	hub := &fakeHub{streams: &Streams{Candidates: []string{"tt1"}, Groups: []ResolvedGroup{}}}
	rec := do(t, newTestRouter(t, hub), http.MethodGet, "/api/streams/movie/tt1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"candidates": ["tt1"], "groups": []}`, rec.Body.String())
}
