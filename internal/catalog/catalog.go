// Package catalog keeps per-catalog user preferences: whether a catalog is shown and where.
package catalog

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ogero/stremio-addonhub/internal/common"
	"github.com/ogero/stremio-addonhub/internal/notifier"
	"github.com/ogero/stremio-addonhub/internal/store"
	"github.com/ogero/stremio-addonhub/pkg/stremio"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// StoreKey is the key under which the preference map is persisted, as one JSON object.
	StoreKey = "catalog_prefs"
	// DefaultOrder is the order reported for catalogs without a stored preference.
	DefaultOrder = 1000
	// OrderGap separates the orders assigned to newly discovered catalogs, leaving room for manual reordering.
	OrderGap = 10
)

// Preference is the user setting of one catalog. Lower orders sort first.
type Preference struct {
	Enabled bool `json:"enabled"`
	Order   int  `json:"order"`
}

// DefaultPreference is what Get reports for unknown catalogs.
var DefaultPreference = Preference{Enabled: true, Order: DefaultOrder}

// Entry is a declared catalog joined with its preference.
type Entry struct {
	AddonID    string              `json:"addonId"`
	Addon      stremio.Manifest    `json:"-"`
	AddonName  string              `json:"addonName"`
	Catalog    stremio.CatalogItem `json:"catalog"`
	Preference Preference          `json:"preference"`
}

// Key builds the composite preference key of a catalog.
func Key(addonID, contentType, catalogID string) string {
	return fmt.Sprintf("%s:%s:%s", addonID, contentType, catalogID)
}

// Preferences owns the catalog preference rows.
type Preferences interface {
	// Get returns the stored preference, or DefaultPreference when unset.
	Get(ctx context.Context, addonID, contentType, catalogID string) (Preference, error)
	// Set upserts a preference. A nil order keeps the previous (or default) order.
	Set(ctx context.Context, addonID, contentType, catalogID string, enabled bool, order *int) (Preference, error)
	// Reconcile inserts a default row for every declared catalog without one and reports how many were inserted.
	// Rows of catalogs no longer declared are left alone.
	Reconcile(ctx context.Context, manifests []stremio.Manifest) (int, error)
	// List joins the declared catalogs with their preferences, in declaration order.
	List(ctx context.Context, manifests []stremio.Manifest) ([]Entry, error)
	// ListEnabledOrdered returns the enabled catalogs sorted by order. Equal orders keep declaration order.
	ListEnabledOrdered(ctx context.Context, manifests []stremio.Manifest) ([]Entry, error)
}

type preferences struct {
	store   store.Store
	changes *notifier.Channel

	loadOnce sync.Once
	// writeMu serializes mutations together with their Save, so the store never goes back to older rows.
	writeMu sync.Mutex
	mu      sync.RWMutex
	rows    map[string]Preference
}

// New creates the preference store. Rows are loaded on first use.
func New(st store.Store, changes *notifier.Channel) Preferences {
	return &preferences{
		store:   st,
		changes: changes,
	}
}

func (p *preferences) load(ctx context.Context) {
	p.loadOnce.Do(func() {
		rows := map[string]Preference{}
		if _, err := p.store.Load(StoreKey, &rows); err != nil {
			common.Log.WarnContext(ctx, "Failed to store.Store.Load, starting without catalog preferences", "key", StoreKey, "err", err)
			rows = map[string]Preference{}
		}
		if rows == nil {
			rows = map[string]Preference{}
		}
		p.mu.Lock()
		p.rows = rows
		p.mu.Unlock()
	})
}

// Get returns the stored preference, or DefaultPreference when unset.
func (p *preferences) Get(ctx context.Context, addonID, contentType, catalogID string) (Preference, error) {
	p.load(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.lookup(Key(addonID, contentType, catalogID)), nil
}

func (p *preferences) lookup(key string) Preference {
	if pref, ok := p.rows[key]; ok {
		return pref
	}
	return DefaultPreference
}

// Set upserts a preference. A nil order keeps the previous (or default) order.
func (p *preferences) Set(ctx context.Context, addonID, contentType, catalogID string, enabled bool, order *int) (Preference, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "catalog.Preferences.Set")
	defer span.End()

	key := Key(addonID, contentType, catalogID)
	span.SetAttributes(attribute.String("catalog.key", key), attribute.Bool("catalog.enabled", enabled))

	p.load(ctx)

	p.writeMu.Lock()
	p.mu.Lock()
	pref := p.lookup(key)
	pref.Enabled = enabled
	if order != nil {
		pref.Order = *order
	}
	p.rows[key] = pref
	snapshot := maps.Clone(p.rows)
	p.mu.Unlock()
	p.persist(ctx, snapshot)
	p.writeMu.Unlock()

	p.changes.Publish(ctx)

	return pref, nil
}

// Reconcile inserts a default row for every declared catalog without one and reports how many were inserted.
func (p *preferences) Reconcile(ctx context.Context, manifests []stremio.Manifest) (int, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "catalog.Preferences.Reconcile")
	defer span.End()

	p.load(ctx)

	p.writeMu.Lock()
	p.mu.Lock()
	runningMax := 0
	for _, pref := range p.rows {
		runningMax = max(runningMax, pref.Order)
	}

	inserted := 0
	for _, m := range manifests {
		for _, c := range m.Catalogs {
			key := Key(m.ID, c.Type, c.ID)
			if _, ok := p.rows[key]; ok {
				continue
			}
			runningMax += OrderGap
			p.rows[key] = Preference{Enabled: true, Order: runningMax}
			inserted++
		}
	}
	snapshot := maps.Clone(p.rows)
	p.mu.Unlock()
	if inserted > 0 {
		p.persist(ctx, snapshot)
	}
	p.writeMu.Unlock()

	span.SetAttributes(attribute.Int("catalog.inserted", inserted))
	if inserted == 0 {
		return 0, nil
	}

	p.changes.Publish(ctx)

	return inserted, nil
}

// List joins the declared catalogs with their preferences, in declaration order.
func (p *preferences) List(ctx context.Context, manifests []stremio.Manifest) ([]Entry, error) {
	p.load(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]Entry, 0)
	for _, m := range manifests {
		for _, c := range m.Catalogs {
			entries = append(entries, Entry{
				AddonID:    m.ID,
				Addon:      m,
				AddonName:  m.Name,
				Catalog:    c,
				Preference: p.lookup(Key(m.ID, c.Type, c.ID)),
			})
		}
	}
	return entries, nil
}

// ListEnabledOrdered returns the enabled catalogs sorted by order. Equal orders keep declaration order.
func (p *preferences) ListEnabledOrdered(ctx context.Context, manifests []stremio.Manifest) ([]Entry, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "catalog.Preferences.ListEnabledOrdered")
	defer span.End()

	entries, err := p.List(ctx, manifests)
	if err != nil {
		return nil, err
	}

	enabled := lo.Filter(entries, func(e Entry, _ int) bool { return e.Preference.Enabled })
	slices.SortStableFunc(enabled, func(a, b Entry) int {
		return cmp.Compare(a.Preference.Order, b.Preference.Order)
	})

	span.SetAttributes(attribute.Int("catalog.enabled", len(enabled)))

	return enabled, nil
}

// persist writes the full preference map. A failed write keeps the in-memory state.
func (p *preferences) persist(ctx context.Context, rows map[string]Preference) {
	if err := p.store.Save(StoreKey, rows); err != nil {
		common.Log.WarnContext(ctx, "Failed to store.Store.Save, catalog preferences are not durable", "key", StoreKey, "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
