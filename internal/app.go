package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ogero/stremio-addonhub/internal/common"
	"github.com/ogero/stremio-addonhub/pkg/addon"
	"github.com/ogero/stremio-addonhub/pkg/stremio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var manifest = stremio.Manifest{
	ID:          "io.addonhub.streams",
	Version:     "0.1.0",
	Name:        "AddonHub",
	Description: "Streams from every addon installed in AddonHub, grouped by addon",
	Types:       []string{"movie", "series"},
	Catalogs:    []stremio.CatalogItem{},
	IDPrefixes:  []string{"tt", "tmdb:"},
	Resources:   []stremio.Resource{{Name: stremio.ResourceStream}},
}

// App holds the HTTP handlers in front of the HubService.
type App struct {
	HubService HubService
}

// NewApp creates a new instance of the App struct.
func NewApp(hubService HubService) (*App, error) {
	if hubService == nil {
		return nil, errors.New("hub service is required")
	}
	return &App{
		HubService: hubService,
	}, nil
}

// Mount registers the App routes on r.
func (a *App) Mount(r chi.Router) {
	r.Get("/manifest.json", a.ManifestHandler)
	r.Get("/stream/{type}/{id}.json", a.AddonStreamsHandler)
	r.Handle("/connection/websocket", http.HandlerFunc(a.WebsocketHandler))

	r.Route("/api", func(r chi.Router) {
		r.Get("/addons", a.ListAddonsHandler)
		r.Post("/addons", a.InstallAddonHandler)
		r.Delete("/addons/{id}", a.RemoveAddonHandler)

		r.Get("/catalogs", a.ListCatalogsHandler)
		r.Get("/catalogs/{addonID}/{type}/{catalogID}", a.GetCatalogPreferenceHandler)
		r.Put("/catalogs/{addonID}/{type}/{catalogID}", a.SetCatalogPreferenceHandler)
		r.Get("/catalogs/{addonID}/{type}/{catalogID}/items", a.CatalogItemsHandler)

		r.Get("/streams/{type}/{id}", a.StreamsHandler)
	})
}

// ManifestHandler serves the manifest that lets Stremio clients install the hub itself as a stream addon.
func (a *App) ManifestHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, manifest)
}

// ListAddonsHandler lists the installed addons in installation order.
func (a *App) ListAddonsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	addons, err := a.HubService.ListAddons(ctx)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to HubService.ListAddons", "err", err)
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"addons": addons})
}

type installAddonRequest struct {
	URL string `json:"url"`
}

// InstallAddonHandler installs the addon whose manifest URL is posted as {"url": "..."}.
func (a *App) InstallAddonHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	var req installAddonRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		common.Log.WarnContext(ctx, "Failed to json.Decoder.Decode", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	span.SetAttributes(attribute.String("params.url", req.URL))

	m, err := a.HubService.InstallAddon(ctx, req.URL)
	if err != nil {
		span.RecordError(err)
		var fetchErr *addon.FetchError
		if errors.As(err, &fetchErr) || errors.Is(err, addon.ErrInvalidManifest) {
			common.Log.WarnContext(ctx, "Failed to HubService.InstallAddon", "err", err)
			writeError(w, r, http.StatusUnprocessableEntity, err)
			return
		}
		common.Log.ErrorContext(ctx, "Failed to HubService.InstallAddon", "err", err)
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, m)
}

// RemoveAddonHandler uninstalls an addon. Unknown ids succeed too.
func (a *App) RemoveAddonHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	id := chi.URLParam(r, "id")
	if err := common.ValidateAddonID(id); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateAddonID", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	span.SetAttributes(attribute.String("params.id", id))

	if err := a.HubService.RemoveAddon(ctx, id); err != nil {
		common.Log.ErrorContext(ctx, "Failed to HubService.RemoveAddon", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListCatalogsHandler lists the enabled catalogs in preference order.
func (a *App) ListCatalogsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries, err := a.HubService.ListCatalogs(ctx)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to HubService.ListCatalogs", "err", err)
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"catalogs": entries})
}

type catalogParams struct {
	addonID     string
	contentType string
	catalogID   string
}

func parseCatalogParams(r *http.Request) (catalogParams, error) {
	p := catalogParams{
		addonID:     chi.URLParam(r, "addonID"),
		contentType: chi.URLParam(r, "type"),
		catalogID:   chi.URLParam(r, "catalogID"),
	}
	if err := common.ValidateAddonID(p.addonID); err != nil {
		return p, err
	}
	if err := common.ValidateContentType(p.contentType); err != nil {
		return p, err
	}
	catalogID, err := url.PathUnescape(p.catalogID)
	if err != nil {
		return p, err
	}
	p.catalogID = catalogID
	if err := common.ValidateCatalogID(p.catalogID); err != nil {
		return p, err
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("params.addon_id", p.addonID),
		attribute.String("params.type", p.contentType),
		attribute.String("params.catalog_id", p.catalogID),
	)
	return p, nil
}

// GetCatalogPreferenceHandler returns the preference of one catalog.
func (a *App) GetCatalogPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := parseCatalogParams(r)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to parseCatalogParams", "err", err)
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	pref, err := a.HubService.GetCatalogPreference(ctx, p.addonID, p.contentType, p.catalogID)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to HubService.GetCatalogPreference", "err", err)
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, r, http.StatusOK, pref)
}

type setCatalogPreferenceRequest struct {
	Enabled *bool `json:"enabled"`
	Order   *int  `json:"order"`
}

// SetCatalogPreferenceHandler updates the preference of one catalog from {"enabled": bool, "order": int?}.
func (a *App) SetCatalogPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	p, err := parseCatalogParams(r)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to parseCatalogParams", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var req setCatalogPreferenceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		common.Log.WarnContext(ctx, "Failed to json.Decoder.Decode", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Enabled == nil {
		writeError(w, r, http.StatusBadRequest, errors.New("enabled is required"))
		return
	}

	pref, err := a.HubService.SetCatalogPreference(ctx, p.addonID, p.contentType, p.catalogID, *req.Enabled, req.Order)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to HubService.SetCatalogPreference", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, r, http.StatusOK, pref)
}

// CatalogItemsHandler fetches a page of a catalog. skip paginates, every other query parameter is passed as a filter.
func (a *App) CatalogItemsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	p, err := parseCatalogParams(r)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to parseCatalogParams", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	query := r.URL.Query()
	skip, err := common.ValidateSkip(query.Get("skip"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateSkip", "err", err)
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	extra := map[string]string{}
	for key := range query {
		if key != "skip" && query.Get(key) != "" {
			extra[key] = query.Get(key)
		}
	}

	metas, err := a.HubService.GetCatalogItems(ctx, p.addonID, p.contentType, p.catalogID, skip, extra)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrAddonNotFound) || errors.Is(err, ErrCatalogNotFound) {
			writeError(w, r, http.StatusNotFound, err)
			return
		}
		common.Log.WarnContext(ctx, "Failed to HubService.GetCatalogItems", "err", err)
		writeError(w, r, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, r, http.StatusOK, metas)
}

func (a *App) resolve(w http.ResponseWriter, r *http.Request) (*Streams, bool) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	contentType := chi.URLParam(r, "type")
	if err := common.ValidateContentType(contentType); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateContentType", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	span.SetAttributes(attribute.String("params.type", contentType))

	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to url.PathUnescape", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	id = strings.TrimSuffix(id, ".json")
	if err := common.ValidateContentID(id); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateContentID", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	span.SetAttributes(attribute.String("params.id", id))

	result, err := a.HubService.ResolveStreams(ctx, contentType, id)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to HubService.ResolveStreams", "err", err)
		span.RecordError(err)
		writeError(w, r, http.StatusInternalServerError, err)
		return nil, false
	}

	if len(result.Groups) > 0 {
		w.Header().Set("Cache-Control", "public, max-age=120")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}

	return result, true
}

// StreamsHandler resolves streams for a title, grouped by addon in installation order.
func (a *App) StreamsHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := a.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// AddonStreamsHandler answers the addon protocol stream endpoint, flattening the groups in order.
func (a *App) AddonStreamsHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := a.resolve(w, r)
	if !ok {
		return
	}

	response := stremio.StreamsResponse{Streams: []stremio.RawStream{}}
	for _, group := range result.Groups {
		for _, s := range group.Streams {
			raw := stremio.RawStream{
				Name:        strings.TrimSpace(group.AddonName + "\n" + s.Name),
				Title:       s.Title,
				Description: s.Description,
				URL:         s.URL,
				AddonID:     s.AddonID,
				AddonName:   s.AddonName,
				BehaviorHints: &stremio.StreamBehaviorHints{
					NotWebReady:      s.BehaviorHints.NotWebReady,
					BingeGroup:       s.BehaviorHints.BingeGroup,
					CountryWhitelist: s.BehaviorHints.CountryWhitelist,
					VideoSize:        s.BehaviorHints.VideoSize,
					Filename:         s.BehaviorHints.Filename,
				},
			}
			if s.BehaviorHints.IsMagnetStream && s.BehaviorHints.InfoHash != "" {
				// clients play torrents from infoHash, not from magnet links
				raw.URL = ""
				raw.InfoHash = s.BehaviorHints.InfoHash
				raw.FileIdx = s.BehaviorHints.FileIdx
				raw.Sources = s.BehaviorHints.Sources
			}
			response.Streams = append(response.Streams, raw)
		}
	}

	writeJSON(w, r, http.StatusOK, response)
}

// WebsocketHandler handles WebSocket connections
func (a *App) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "WebsocketHandler")

	a.HubService.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ctx := r.Context()
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}
