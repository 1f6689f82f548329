package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/centrifugal/centrifuge"
	"github.com/dustin/go-humanize"
	"github.com/ogero/stremio-addonhub/internal/catalog"
	"github.com/ogero/stremio-addonhub/internal/common"
	"github.com/ogero/stremio-addonhub/internal/notifier"
	"github.com/ogero/stremio-addonhub/internal/registry"
	"github.com/ogero/stremio-addonhub/internal/store"
	"github.com/ogero/stremio-addonhub/internal/streams"
	"github.com/ogero/stremio-addonhub/pkg/addon"
	"github.com/ogero/stremio-addonhub/pkg/imdb"
	"github.com/ogero/stremio-addonhub/pkg/stremio"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrAddonNotFound is returned when an addon id is not installed.
	ErrAddonNotFound = errors.New("addon not found")
	// ErrCatalogNotFound is returned when an installed addon does not declare the requested catalog.
	ErrCatalogNotFound = errors.New("catalog not found")
)

// ResolvedStream is a normalized stream plus what its labels tell about it.
type ResolvedStream struct {
	streams.Stream
	Features addon.Features `json:"features"`
}

// ResolvedGroup is the streams one addon returned.
type ResolvedGroup struct {
	Addon     string           `json:"addon"`
	AddonName string           `json:"addonName"`
	Streams   []ResolvedStream `json:"streams"`
}

// Streams is the result of a stream resolution.
type Streams struct {
	// Title is nil when the id is not an IMDb id or the lookup failed.
	Title      *imdb.Title     `json:"title,omitempty"`
	Candidates []string        `json:"candidates"`
	Groups     []ResolvedGroup `json:"groups"`
}

// HubService composes the addon registry, the catalog preferences and the stream aggregator for the HTTP layer.
type HubService interface {
	// Handler serves the websocket endpoint broadcasting addon and catalog changes.
	http.Handler
	// ListAddons returns the installed addons in installation order.
	ListAddons(ctx context.Context) ([]stremio.Manifest, error)
	// InstallAddon installs (or reinstalls) the addon published at url.
	InstallAddon(ctx context.Context, url string) (*stremio.Manifest, error)
	// RemoveAddon uninstalls an addon. Unknown ids are ignored.
	RemoveAddon(ctx context.Context, id string) error
	// ListCatalogs returns the enabled catalogs in preference order.
	ListCatalogs(ctx context.Context) ([]catalog.Entry, error)
	// GetCatalogPreference returns the preference of one catalog.
	GetCatalogPreference(ctx context.Context, addonID, contentType, catalogID string) (catalog.Preference, error)
	// SetCatalogPreference updates the preference of one catalog. A nil order keeps the current one.
	SetCatalogPreference(ctx context.Context, addonID, contentType, catalogID string, enabled bool, order *int) (catalog.Preference, error)
	// GetCatalogItems fetches a page of a catalog from the addon declaring it.
	GetCatalogItems(ctx context.Context, addonID, contentType, catalogID string, skip int, extra map[string]string) (*stremio.MetasResponse, error)
	// ResolveStreams resolves the playable streams of a title across every capable addon.
	ResolveStreams(ctx context.Context, contentType, id string) (*Streams, error)
	// Warmup waits for the registry and reconciles catalog preferences with the installed addons.
	Warmup(ctx context.Context) error
	// Close stops the websocket node and unsubscribes from change notifications.
	Close(ctx context.Context) error
}

// HubServiceDeps are the collaborators of a HubService.
type HubServiceDeps struct {
	Registry         registry.Registry
	Preferences      catalog.Preferences
	Aggregator       streams.Aggregator
	Addons           addon.Client
	IMDB             imdb.IMDB
	Store            *store.Badger
	Notifier         *notifier.Notifier
	MetadataCacheTTL time.Duration
}

type hubService struct {
	HubServiceDeps

	subscriptions    []notifier.Subscription
	node             *centrifuge.Node
	websocketHandler *centrifuge.WebsocketHandler
}

// NewHubService creates a HubService, wires catalog reconciliation to addon changes and starts the websocket node.
func NewHubService(deps HubServiceDeps) (HubService, error) {
	if deps.MetadataCacheTTL <= 0 {
		deps.MetadataCacheTTL = 48 * time.Hour
	}

	svc := &hubService{HubServiceDeps: deps}

	node, err := centrifuge.New(centrifuge.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to centrifuge.New: %w", err)
	}
	svc.node = node

	node.OnConnecting(func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
		return centrifuge.ConnectReply{}, nil
	})

	node.OnConnect(func(client *centrifuge.Client) {
		client.OnSubscribe(func(e centrifuge.SubscribeEvent, cb centrifuge.SubscribeCallback) {
			if e.Channel != deps.Notifier.Addons.Name() && e.Channel != deps.Notifier.Catalogs.Name() {
				cb(centrifuge.SubscribeReply{}, centrifuge.ErrorPermissionDenied)
				return
			}

			cb(centrifuge.SubscribeReply{
				Options: centrifuge.SubscribeOptions{},
			}, nil)

			// Todo: Avoid broadcasting to all clients
			go func() {
				if err := svc.broadcast(context.Background(), e.Channel); err != nil {
					common.Log.Warn("Failed to internal.HubService.broadcast", "channel", e.Channel, "err", err)
				}
			}()
		})
	})

	if err := node.Run(); err != nil {
		return nil, fmt.Errorf("failed to centrifuge.Node.Run: %w", err)
	}

	svc.websocketHandler = centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		ReadBufferSize:     1024,
		UseWriteBufferPool: true,
	})

	// reconciliation subscribes first so broadcasts already see the new catalogs
	svc.subscriptions = append(svc.subscriptions,
		deps.Notifier.Addons.Subscribe(svc.reconcileCatalogs),
		deps.Notifier.Addons.Subscribe(func(ctx context.Context) error {
			return svc.broadcast(ctx, deps.Notifier.Addons.Name())
		}),
		deps.Notifier.Catalogs.Subscribe(func(ctx context.Context) error {
			return svc.broadcast(ctx, deps.Notifier.Catalogs.Name())
		}),
	)

	return svc, nil
}

// ListAddons returns the installed addons in installation order.
func (s *hubService) ListAddons(ctx context.Context) ([]stremio.Manifest, error) {
	addons, err := s.Registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to registry.Registry.List: %w", err)
	}
	return addons, nil
}

// InstallAddon installs (or reinstalls) the addon published at url.
func (s *hubService) InstallAddon(ctx context.Context, url string) (*stremio.Manifest, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.HubService.InstallAddon")
	defer span.End()

	m, err := s.Registry.Install(ctx, url)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to registry.Registry.Install: %w", err)
	}
	span.SetAttributes(attribute.String("addon.id", m.ID))

	return m, nil
}

// RemoveAddon uninstalls an addon. Unknown ids are ignored.
func (s *hubService) RemoveAddon(ctx context.Context, id string) error {
	if err := s.Registry.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to registry.Registry.Remove: %w", err)
	}
	return nil
}

// ListCatalogs returns the enabled catalogs in preference order.
func (s *hubService) ListCatalogs(ctx context.Context) ([]catalog.Entry, error) {
	addons, err := s.Registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to registry.Registry.List: %w", err)
	}
	entries, err := s.Preferences.ListEnabledOrdered(ctx, addons)
	if err != nil {
		return nil, fmt.Errorf("failed to catalog.Preferences.ListEnabledOrdered: %w", err)
	}
	return entries, nil
}

// GetCatalogPreference returns the preference of one catalog.
func (s *hubService) GetCatalogPreference(ctx context.Context, addonID, contentType, catalogID string) (catalog.Preference, error) {
	pref, err := s.Preferences.Get(ctx, addonID, contentType, catalogID)
	if err != nil {
		return catalog.Preference{}, fmt.Errorf("failed to catalog.Preferences.Get: %w", err)
	}
	return pref, nil
}

// SetCatalogPreference updates the preference of one catalog. A nil order keeps the current one.
func (s *hubService) SetCatalogPreference(ctx context.Context, addonID, contentType, catalogID string, enabled bool, order *int) (catalog.Preference, error) {
	pref, err := s.Preferences.Set(ctx, addonID, contentType, catalogID, enabled, order)
	if err != nil {
		return catalog.Preference{}, fmt.Errorf("failed to catalog.Preferences.Set: %w", err)
	}
	return pref, nil
}

// GetCatalogItems fetches a page of a catalog from the addon declaring it.
func (s *hubService) GetCatalogItems(ctx context.Context, addonID, contentType, catalogID string, skip int, extra map[string]string) (*stremio.MetasResponse, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.HubService.GetCatalogItems")
	defer span.End()

	span.SetAttributes(
		attribute.String("addon.id", addonID),
		attribute.String("catalog.type", contentType),
		attribute.String("catalog.id", catalogID),
		attribute.Int("catalog.skip", skip),
	)

	m, ok, err := s.Registry.Get(ctx, addonID)
	if err != nil {
		return nil, fmt.Errorf("failed to registry.Registry.Get: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAddonNotFound, addonID)
	}

	if !lo.ContainsBy(m.Catalogs, func(c stremio.CatalogItem) bool { return c.Type == contentType && c.ID == catalogID }) {
		return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, catalog.Key(addonID, contentType, catalogID))
	}

	metas, err := s.Addons.GetCatalog(ctx, m.URL, contentType, catalogID, skip, extra)
	if err != nil {
		common.AddonRequestsTotalIncr(ctx, stremio.ResourceCatalog, "error")
		span.RecordError(err)
		return nil, fmt.Errorf("failed to addon.Client.GetCatalog: %w", err)
	}
	common.AddonRequestsTotalIncr(ctx, stremio.ResourceCatalog, "ok")
	span.SetAttributes(attribute.Int("catalog.metas", len(metas.Metas)))

	return metas, nil
}

// ResolveStreams resolves the playable streams of a title across every capable addon.
// Addon failures never surface here, an empty Groups is the "nothing found" answer.
func (s *hubService) ResolveStreams(ctx context.Context, contentType, id string) (*Streams, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.HubService.ResolveStreams")
	defer span.End()

	baseID, season, episode := streams.SplitID(id)
	span.SetAttributes(
		attribute.String("streams.id", baseID),
		attribute.Int("streams.season", season),
		attribute.Int("streams.episode", episode),
	)

	result := &Streams{}
	if common.ValidateIMDBTitleID(baseID) == nil {
		title, err := s.getTitle(ctx, baseID)
		if err != nil {
			common.Log.WarnContext(ctx, "Failed to internal.HubService.getTitle", "imdb.id", baseID, "err", err)
		} else {
			result.Title = title
			span.SetAttributes(attribute.String("imdb.title", title.Name))
		}
	}

	result.Candidates = lo.Uniq(append(streams.Candidates(contentType, []string{baseID}, season, episode), id))

	responses := s.Aggregator.Resolve(ctx, contentType, result.Candidates)
	result.Groups = make([]ResolvedGroup, 0, len(responses))
	total := 0
	for _, response := range responses {
		group := ResolvedGroup{
			Addon:     response.Addon,
			AddonName: response.AddonName,
			Streams:   make([]ResolvedStream, 0, len(response.Streams)),
		}
		for _, stream := range response.Streams {
			features := addon.ParseFeatures(stream.Name, stream.Title)
			if features.Size == "" && stream.BehaviorHints.VideoSize > 0 {
				features.Size = humanize.Bytes(uint64(stream.BehaviorHints.VideoSize))
			}
			group.Streams = append(group.Streams, ResolvedStream{
				Stream:   stream,
				Features: features,
			})
		}
		total += len(group.Streams)
		result.Groups = append(result.Groups, group)
	}

	common.Log.InfoContext(ctx, "Resolved streams", "type", contentType, "id", id, "addons", len(result.Groups), "streams", total)
	span.SetAttributes(attribute.Int("streams.total", total))

	return result, nil
}

// getTitle looks an IMDb title up, memoized in the store.
func (s *hubService) getTitle(ctx context.Context, imdbID string) (*imdb.Title, error) {
	cacheKey := fmt.Sprintf("imdb.title : %s", imdbID)
	title, cacheResult, err := store.Memoize[imdb.Title](s.Store, cacheKey, s.MetadataCacheTTL, func() (*imdb.Title, error) {
		title, err := s.IMDB.GetTitle(ctx, imdbID)
		if err != nil {
			return nil, fmt.Errorf("failed to imdb.IMDB.GetTitle: %w", err)
		}
		return title, nil
	})
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("cache.imdb.title.result", cacheResult))
	common.CacheGetsTotalIncr(ctx, "imdb.title", cacheResult)
	if err != nil {
		return nil, err
	}
	return title, nil
}

// Warmup waits for the registry and reconciles catalog preferences with the installed addons.
func (s *hubService) Warmup(ctx context.Context) error {
	if err := s.Registry.Ready(ctx); err != nil {
		return fmt.Errorf("failed to registry.Registry.Ready: %w", err)
	}
	return s.reconcileCatalogs(ctx)
}

func (s *hubService) reconcileCatalogs(ctx context.Context) error {
	addons, err := s.Registry.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to registry.Registry.List: %w", err)
	}
	inserted, err := s.Preferences.Reconcile(ctx, addons)
	if err != nil {
		return fmt.Errorf("failed to catalog.Preferences.Reconcile: %w", err)
	}
	if inserted > 0 {
		common.Log.InfoContext(ctx, "Discovered catalogs", "count", inserted)
	}
	return nil
}

// broadcast publishes the current state behind a change channel to its websocket subscribers.
func (s *hubService) broadcast(ctx context.Context, channel string) error {
	var payload any
	switch channel {
	case s.Notifier.Addons.Name():
		addons, err := s.Registry.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to registry.Registry.List: %w", err)
		}
		payload = addons
	case s.Notifier.Catalogs.Name():
		entries, err := s.ListCatalogs(ctx)
		if err != nil {
			return err
		}
		payload = entries
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to json.Marshal: %w", err)
	}

	_, err = s.node.Publish(channel, b)
	if err != nil {
		return fmt.Errorf("failed to centrifuge.Node.Publish: %w", err)
	}

	return nil
}

// Close stops the websocket node and unsubscribes from change notifications.
func (s *hubService) Close(ctx context.Context) error {
	for _, sub := range s.subscriptions {
		sub.Unsubscribe()
	}
	if err := s.node.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to centrifuge.Node.Shutdown: %w", err)
	}
	return nil
}

// ServeHTTP handles incoming HTTP requests via a websocket handler
func (s *hubService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	newCtx := centrifuge.SetCredentials(ctx, &centrifuge.Credentials{})
	r = r.WithContext(newCtx)

	s.websocketHandler.ServeHTTP(w, r)
}
