package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"gofinances/internal/cache"
	"gofinances/internal/core"
	applog "gofinances/internal/log"
	"gofinances/internal/storage"
)

// CategoryRegistry resolves category titles to rows, creating each missing
// title exactly once. Titles match exactly, whitespace and case included.
type CategoryRegistry struct {
	store storage.Store
	cache cache.Cache[core.Category]
	group *singleflight.Group

	// set on registries bound to a transaction: resolved categories are not
	// cached until the caller knows the transaction committed
	bound bool
}

// NewCategoryRegistry creates a registry over store. c may be nil.
func NewCategoryRegistry(store storage.Store, c cache.Cache[core.Category]) *CategoryRegistry {
	return &CategoryRegistry{
		store: store,
		cache: c,
		group: &singleflight.Group{},
	}
}

// WithStore returns a registry that reads and writes through tx.
func (r *CategoryRegistry) WithStore(tx storage.Store) *CategoryRegistry {
	return &CategoryRegistry{
		store: tx,
		cache: r.cache,
		bound: true,
	}
}

// Remember caches categories that are known to be committed.
func (r *CategoryRegistry) Remember(cs ...core.Category) {
	if r.cache == nil {
		return
	}
	for _, c := range cs {
		r.cache.Set(c.Title, c)
	}
}

// ResolveCategory returns the category titled title, creating it if needed.
func (r *CategoryRegistry) ResolveCategory(ctx context.Context, title string) (core.Category, error) {
	resolved, err := r.ResolveCategories(ctx, []string{title})
	if err != nil {
		return core.Category{}, err
	}
	return resolved[title], nil
}

// ResolveCategories maps every title in titles to its category. Duplicates
// collapse; titles with no stored row get one new row each. Rows inserted
// concurrently by someone else win over ours.
func (r *CategoryRegistry) ResolveCategories(ctx context.Context, titles []string) (map[string]core.Category, error) {
	resolved := make(map[string]core.Category, len(titles))

	var lookup []string
	seen := make(map[string]struct{}, len(titles))
	for _, title := range titles {
		if _, ok := seen[title]; ok {
			continue
		}
		seen[title] = struct{}{}
		if c, ok := r.cached(title); ok {
			resolved[title] = c
			continue
		}
		lookup = append(lookup, title)
	}
	if len(lookup) == 0 {
		return resolved, nil
	}

	if r.bound {
		found, err := r.findOrCreate(ctx, lookup)
		if err != nil {
			return nil, err
		}
		maps.Copy(resolved, found)
		return resolved, nil
	}

	// Callers asking for the same uncached set share one lookup and insert.
	slices.Sort(lookup)
	v, err, shared := r.group.Do(strings.Join(lookup, "\x00"), func() (any, error) {
		found, err := r.findOrCreate(ctx, lookup)
		if err != nil {
			return nil, err
		}
		for _, c := range found {
			r.Remember(c)
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger(ctx).DebugContext(ctx, "Shared category resolution", "titles", len(lookup))
	}
	// The shared map is read-only for every caller.
	maps.Copy(resolved, v.(map[string]core.Category))
	return resolved, nil
}

func (r *CategoryRegistry) findOrCreate(ctx context.Context, titles []string) (map[string]core.Category, error) {
	found := make(map[string]core.Category, len(titles))

	existing, err := r.store.FindCategoriesByTitle(ctx, titles)
	if err != nil {
		return nil, fmt.Errorf("find categories: %w", err)
	}
	for _, c := range existing {
		found[c.Title] = c
	}

	var missing []core.Category
	var missingTitles []string
	now := time.Now().UTC()
	for _, title := range titles {
		if _, ok := found[title]; ok {
			continue
		}
		missing = append(missing, core.Category{ID: uuid.NewString(), Title: title, CreatedAt: now})
		missingTitles = append(missingTitles, title)
	}
	if len(missing) == 0 {
		return found, nil
	}

	if err := r.store.SaveCategories(ctx, missing); err != nil {
		return nil, fmt.Errorf("save categories: %w", err)
	}

	// Re-read: a concurrent writer may have inserted some titles first.
	stored, err := r.store.FindCategoriesByTitle(ctx, missingTitles)
	if err != nil {
		return nil, fmt.Errorf("reload categories: %w", err)
	}
	for _, c := range stored {
		found[c.Title] = c
	}
	for _, title := range missingTitles {
		if _, ok := found[title]; !ok {
			return nil, fmt.Errorf("%w: category %q missing after insert", core.ErrStorage, title)
		}
	}

	r.logger(ctx).InfoContext(ctx, "Categories created",
		"requested", len(titles),
		"created", len(missing))
	return found, nil
}

func (r *CategoryRegistry) logger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentLedger)
}

func (r *CategoryRegistry) cached(title string) (core.Category, bool) {
	if r.cache == nil {
		return core.Category{}, false
	}
	return r.cache.Get(title)
}
