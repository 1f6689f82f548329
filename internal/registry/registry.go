// Package registry owns the set of installed addons.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ogero/stremio-addonhub/internal/common"
	"github.com/ogero/stremio-addonhub/internal/notifier"
	"github.com/ogero/stremio-addonhub/internal/store"
	"github.com/ogero/stremio-addonhub/pkg/addon"
	"github.com/ogero/stremio-addonhub/pkg/stremio"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StoreKey is the key under which the installed manifests are persisted, as one JSON array.
const StoreKey = "addons"

// ErrNotReady is returned when the caller gives up waiting for initialization.
var ErrNotReady = errors.New("registry not ready")

// ManifestFetcher retrieves and validates an addon manifest.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, rawURL string) (*stremio.Manifest, error)
}

// Registry owns the installed addons. List order is installation order.
type Registry interface {
	// Install fetches the manifest at url and inserts it, or replaces the installed addon with the same id in place.
	Install(ctx context.Context, url string) (*stremio.Manifest, error)
	// Remove uninstalls the addon with the given id. Removing an unknown id is a no-op.
	Remove(ctx context.Context, id string) error
	// Get returns the installed addon with the given id.
	Get(ctx context.Context, id string) (stremio.Manifest, bool, error)
	// List returns the installed addons in installation order.
	List(ctx context.Context) ([]stremio.Manifest, error)
	// ListCapable returns the installed addons declaring resource for contentType, in installation order.
	ListCapable(ctx context.Context, resource, contentType string) ([]stremio.Manifest, error)
	// Ready blocks until the persisted state is loaded, or the bootstrap set installed.
	Ready(ctx context.Context) error
}

type registry struct {
	fetcher   ManifestFetcher
	store     store.Store
	changes   *notifier.Channel
	bootstrap []string

	initOnce sync.Once
	ready    chan struct{}

	// writeMu serializes mutations together with their Save, so the store never goes back to an older list.
	writeMu sync.Mutex
	mu      sync.RWMutex
	addons  []stremio.Manifest
}

// New creates a Registry. Initialization starts with the first call to any method.
// bootstrap lists the manifest URLs installed when no persisted state exists.
func New(fetcher ManifestFetcher, st store.Store, changes *notifier.Channel, bootstrap []string) Registry {
	return &registry{
		fetcher:   fetcher,
		store:     st,
		changes:   changes,
		bootstrap: bootstrap,
		ready:     make(chan struct{}),
	}
}

// Ready blocks until the persisted state is loaded, or the bootstrap set installed.
func (r *registry) Ready(ctx context.Context) error {
	r.initOnce.Do(func() {
		// initialization outlives the caller that happened to trigger it
		go func(ctx context.Context) {
			changed := r.init(ctx)
			close(r.ready)
			// listeners may call back into the registry, so they run once it is ready
			if changed {
				r.changes.Publish(ctx)
			}
		}(context.WithoutCancel(ctx))
	})

	select {
	case <-r.ready:
		return nil
	default:
	}

	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
	}
}

// init restores the persisted addons or installs the bootstrap set. It reports whether bootstrap changed anything.
func (r *registry) init(ctx context.Context) bool {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "registry.Registry.init")
	defer span.End()

	var persisted []stremio.Manifest
	found, err := r.store.Load(StoreKey, &persisted)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to store.Store.Load, starting with bootstrap addons", "key", StoreKey, "err", err)
		span.RecordError(err)
		found = false
	}

	if found {
		r.addons = persisted
		span.SetAttributes(attribute.Int("registry.restored", len(persisted)))
		return false
	}

	installed := 0
	for _, u := range r.bootstrap {
		m, err := r.fetcher.FetchManifest(ctx, u)
		if err != nil {
			common.Log.WarnContext(ctx, "Failed to install bootstrap addon", "url", u, "err", err)
			span.RecordError(err)
			continue
		}
		if m.ID == "" {
			common.Log.WarnContext(ctx, "Failed to install bootstrap addon", "url", u, "err", addon.ErrInvalidManifest)
			continue
		}
		r.addons = upsert(r.addons, *m)
		installed++
	}
	span.SetAttributes(attribute.Int("registry.bootstrapped", installed))

	if installed == 0 {
		return false
	}
	r.persist(ctx, r.addons)
	return true
}

// Install fetches the manifest at url and inserts it, or replaces the installed addon with the same id in place.
func (r *registry) Install(ctx context.Context, url string) (*stremio.Manifest, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "registry.Registry.Install")
	defer span.End()

	if err := r.Ready(ctx); err != nil {
		return nil, err
	}

	m, err := r.fetcher.FetchManifest(ctx, url)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to registry.ManifestFetcher.FetchManifest: %w", err)
	}
	if strings.TrimSpace(m.ID) == "" {
		err := fmt.Errorf("manifest at %s has no id: %w", url, addon.ErrInvalidManifest)
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("addon.id", m.ID))

	r.writeMu.Lock()
	r.mu.Lock()
	r.addons = upsert(r.addons, *m)
	snapshot := slices.Clone(r.addons)
	r.mu.Unlock()
	r.persist(ctx, snapshot)
	r.writeMu.Unlock()

	r.changes.Publish(ctx)

	common.Log.InfoContext(ctx, "Addon installed", "id", m.ID, "name", m.Name, "url", m.URL)

	return m, nil
}

// Remove uninstalls the addon with the given id. Removing an unknown id is a no-op.
func (r *registry) Remove(ctx context.Context, id string) error {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "registry.Registry.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("addon.id", id))

	if err := r.Ready(ctx); err != nil {
		return err
	}

	r.writeMu.Lock()
	r.mu.Lock()
	before := len(r.addons)
	r.addons = slices.DeleteFunc(r.addons, func(m stremio.Manifest) bool { return m.ID == id })
	removed := len(r.addons) != before
	snapshot := slices.Clone(r.addons)
	r.mu.Unlock()
	if removed {
		r.persist(ctx, snapshot)
	}
	r.writeMu.Unlock()

	if !removed {
		return nil
	}

	r.changes.Publish(ctx)

	common.Log.InfoContext(ctx, "Addon removed", "id", id)

	return nil
}

// Get returns the installed addon with the given id.
func (r *registry) Get(ctx context.Context, id string) (stremio.Manifest, bool, error) {
	if err := r.Ready(ctx); err != nil {
		return stremio.Manifest{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := lo.Find(r.addons, func(m stremio.Manifest) bool { return m.ID == id })
	return m, ok, nil
}

// List returns the installed addons in installation order.
func (r *registry) List(ctx context.Context) ([]stremio.Manifest, error) {
	if err := r.Ready(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.addons), nil
}

// ListCapable returns the installed addons declaring resource for contentType, in installation order.
func (r *registry) ListCapable(ctx context.Context, resource, contentType string) ([]stremio.Manifest, error) {
	addons, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return Capable(addons, resource, contentType), nil
}

// Capable filters manifests to the ones declaring resource for contentType, keeping their order.
func Capable(manifests []stremio.Manifest, resource, contentType string) []stremio.Manifest {
	return lo.Filter(manifests, func(m stremio.Manifest, _ int) bool {
		return m.Supports(resource, contentType)
	})
}

// persist writes the full addon list. A failed write keeps the in-memory state.
func (r *registry) persist(ctx context.Context, addons []stremio.Manifest) {
	if addons == nil {
		addons = []stremio.Manifest{}
	}
	if err := r.store.Save(StoreKey, addons); err != nil {
		common.Log.WarnContext(ctx, "Failed to store.Store.Save, addon changes are not durable", "key", StoreKey, "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
	}
}

func upsert(addons []stremio.Manifest, m stremio.Manifest) []stremio.Manifest {
	if i := slices.IndexFunc(addons, func(a stremio.Manifest) bool { return a.ID == m.ID }); i >= 0 {
		addons = slices.Clone(addons)
		addons[i] = m
		return addons
	}
	return append(slices.Clone(addons), m)
}
