package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gofinances/internal/cache"
	"gofinances/internal/core"
	"gofinances/internal/storage"
	"gofinances/internal/storage/memory"
)

func TestResolveCategoriesCollapsesDuplicates(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			registry := NewCategoryRegistry(store, nil)

			got, err := registry.ResolveCategories(ctx, []string{"Food", "Food", "Transport"})
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.NotEqual(t, got["Food"].ID, got["Transport"].ID)
			require.Equal(t, 2, categoryCount(t, store, "Food", "Transport"))
		})
	}
}

func TestResolveCategoriesReusesExisting(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			require.NoError(t, store.SaveCategories(ctx, []core.Category{{ID: "food-id", Title: "Food"}}))

			registry := NewCategoryRegistry(store, nil)
			got, err := registry.ResolveCategories(ctx, []string{"Food", "Rent"})
			require.NoError(t, err)
			require.Equal(t, "food-id", got["Food"].ID)
			require.NotEmpty(t, got["Rent"].ID)
			require.Equal(t, 2, categoryCount(t, store, "Food", "Rent"))
		})
	}
}

func TestResolveCategoriesExactTitleMatch(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registry := NewCategoryRegistry(store, nil)

	got, err := registry.ResolveCategories(ctx, []string{"food", "Food"})
	require.NoError(t, err)
	require.NotEqual(t, got["food"].ID, got["Food"].ID)
}

func TestResolveCategoriesEmpty(t *testing.T) {
	registry := NewCategoryRegistry(memory.New(), nil)
	got, err := registry.ResolveCategories(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestResolveCategoryConcurrentSingleRow(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			registry := NewCategoryRegistry(store, cache.NewLRUCache[core.Category](16, 0))

			const workers = 16
			ids := make([]string, workers)
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					c, err := registry.ResolveCategory(ctx, "Groceries")
					if err == nil {
						ids[i] = c.ID
					}
				}(i)
			}
			wg.Wait()

			for _, id := range ids {
				require.Equal(t, ids[0], id)
			}
			require.Equal(t, 1, categoryCount(t, store, "Groceries"))
		})
	}
}

func TestResolveCategoryUsesCache(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registry := NewCategoryRegistry(store, cache.NewLRUCache[core.Category](16, 0))

	first, err := registry.ResolveCategory(ctx, "Food")
	require.NoError(t, err)

	store.FailNext("FindCategoriesByTitle", errors.New("boom"))
	second, err := registry.ResolveCategory(ctx, "Food")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestResolveCategoriesStorageFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("lookup", func(t *testing.T) {
		store := memory.New()
		store.FailNext("FindCategoriesByTitle", errors.New("disk gone"))
		_, err := NewCategoryRegistry(store, nil).ResolveCategories(ctx, []string{"Food"})
		require.ErrorIs(t, err, core.ErrStorage)
	})

	t.Run("insert", func(t *testing.T) {
		store := memory.New()
		store.FailNext("SaveCategories", errors.New("disk gone"))
		_, err := NewCategoryRegistry(store, nil).ResolveCategories(ctx, []string{"Food", "Rent"})
		require.ErrorIs(t, err, core.ErrStorage)
		require.Empty(t, store.Categories())
	})
}

func TestBoundRegistryDoesNotCacheRolledBackCategories(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c := cache.NewLRUCache[core.Category](16, 0)
	registry := NewCategoryRegistry(store, c)

	rollback := errors.New("rollback")
	err := store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		_, err := registry.WithStore(tx).ResolveCategory(ctx, "Ghost")
		require.NoError(t, err)
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	_, ok := c.Get("Ghost")
	require.False(t, ok)
	require.Empty(t, store.Categories())
}

// gatedStore holds every category lookup until release is closed and counts
// inserts.
type gatedStore struct {
	storage.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	saves   atomic.Int32
}

func (s *gatedStore) FindCategoriesByTitle(ctx context.Context, titles []string) ([]core.Category, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.FindCategoriesByTitle(ctx, titles)
}

func (s *gatedStore) SaveCategories(ctx context.Context, cs []core.Category) error {
	s.saves.Add(1)
	return s.Store.SaveCategories(ctx, cs)
}

func TestResolveCategoriesSharesConcurrentResolution(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{
		Store:   memory.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	registry := NewCategoryRegistry(store, nil)

	results := make([]map[string]core.Category, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	resolve := func(i int, titles []string) {
		defer wg.Done()
		results[i], errs[i] = registry.ResolveCategories(ctx, titles)
	}

	wg.Add(2)
	go resolve(0, []string{"Rent", "Food"})
	<-store.entered
	go resolve(1, []string{"Food", "Rent", "Food"})
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, results[0], results[1])
	require.Equal(t, int32(1), store.saves.Load(), "both callers should share one insert")
	require.Equal(t, 2, categoryCount(t, store, "Food", "Rent"))
}
