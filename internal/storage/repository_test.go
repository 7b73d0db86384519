package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gofinances/internal/core"
	applog "gofinances/internal/log"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSaveCategoriesIgnoresDuplicateTitles(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveCategories(ctx, []core.Category{{ID: "c1", Title: "Food"}}))
	require.NoError(t, repo.SaveCategories(ctx, []core.Category{
		{ID: "c2", Title: "Food"},
		{ID: "c3", Title: "Transport"},
	}))

	cats, err := repo.FindCategoriesByTitle(ctx, []string{"Food", "Transport", "Unknown"})
	require.NoError(t, err)
	require.Len(t, cats, 2)

	byTitle := map[string]string{}
	for _, c := range cats {
		byTitle[c.Title] = c.ID
	}
	require.Equal(t, "c1", byTitle["Food"], "first insert wins")
	require.Equal(t, "c3", byTitle["Transport"])
}

func TestTransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveCategories(ctx, []core.Category{{ID: "job", Title: "Job"}}))
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tr := core.Transaction{
		ID:         "t1",
		Title:      "Salary",
		Value:      core.Money{Cents: 100000},
		Type:       core.Income,
		CategoryID: "job",
		CreatedAt:  created,
	}
	require.NoError(t, repo.SaveTransaction(ctx, tr))

	got, err := repo.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "Salary", got.Title)
	require.Equal(t, int64(100000), got.Value.Cents)
	require.Equal(t, core.Income, got.Type)
	require.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.Category)
	require.Equal(t, "Job", got.Category.Title)

	all, err := repo.FindTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, repo.DeleteTransaction(ctx, "t1"))
	_, err = repo.GetTransaction(ctx, "t1")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.ErrorIs(t, repo.DeleteTransaction(ctx, "t1"), core.ErrNotFound)
}

func TestSaveTransactionRejectsUnknownType(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveCategories(ctx, []core.Category{{ID: "c", Title: "C"}}))

	err := repo.SaveTransaction(ctx, core.Transaction{
		ID: "bad", Title: "x", Value: core.Money{Cents: 1}, Type: "transfer", CategoryID: "c",
	})
	require.ErrorIs(t, err, core.ErrStorage)
}

func TestSaveTransactionsBulkIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveCategories(ctx, []core.Category{{ID: "c", Title: "C"}}))

	batch := []core.Transaction{
		{ID: "a", Title: "ok", Value: core.Money{Cents: 10}, Type: core.Income, CategoryID: "c"},
		{ID: "b", Title: "dangling", Value: core.Money{Cents: 10}, Type: core.Income, CategoryID: "missing"},
	}
	err := repo.SaveTransactionsBulk(ctx, batch)
	require.ErrorIs(t, err, core.ErrStorage)

	all, err := repo.FindTransactions(ctx)
	require.NoError(t, err)
	require.Empty(t, all, "no row from a failed batch may survive")

	require.NoError(t, repo.SaveTransactionsBulk(ctx, batch[:1]))
	all, err = repo.FindTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	boom := errors.New("boom")

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		require.NoError(t, tx.SaveCategories(ctx, []core.Category{{ID: "c", Title: "C"}}))
		require.NoError(t, tx.SaveTransaction(ctx, core.Transaction{
			ID: "t", Title: "x", Value: core.Money{Cents: 5}, Type: core.Income, CategoryID: "c",
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	cats, err := repo.FindCategoriesByTitle(ctx, []string{"C"})
	require.NoError(t, err)
	require.Empty(t, cats)
	all, err := repo.FindTransactions(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestFindCategoriesByTitleChunks(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	var cats []core.Category
	var titles []string
	for i := 0; i < maxInParams+25; i++ {
		title := "cat-" + strconv.Itoa(i)
		cats = append(cats, core.Category{ID: title, Title: title})
		titles = append(titles, title)
	}
	require.NoError(t, repo.SaveCategories(ctx, cats))

	found, err := repo.FindCategoriesByTitle(ctx, titles)
	require.NoError(t, err)
	require.Len(t, found, len(titles))
}

func TestRepositoryLogsWithStorageComponent(t *testing.T) {
	var buf bytes.Buffer
	ctx := applog.WithContext(context.Background(), applog.New(applog.Config{Level: slog.LevelInfo, Output: &buf}))
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveCategories(ctx, []core.Category{{ID: "c1", Title: "Food"}}))
	require.Contains(t, buf.String(), `msg="Categories saved to SQLite"`)
	require.Contains(t, buf.String(), "component="+applog.ComponentStorage)
}
