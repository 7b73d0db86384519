package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gofinances/internal/amqp"
	"gofinances/internal/core"
	applog "gofinances/internal/log"
	"gofinances/internal/storage/memory"
)

func TestCreateIncomeNeverBlocked(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			l := newLedger(store, nil)

			tr := mustCreate(t, l, "Salary", 100000, core.Income, "Job")
			require.NotEmpty(t, tr.ID)
			require.NotEmpty(t, tr.CategoryID)
			require.Equal(t, "Job", tr.Category.Title)

			b, err := l.Balance(context.Background())
			require.NoError(t, err)
			require.Equal(t, core.Balance{
				Income: core.Money{Cents: 100000},
				Total:  core.Money{Cents: 100000},
			}, b)
		})
	}
}

func TestCreateIncomeOnNegativeTotal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	l := newLedger(store, nil)

	// An import can leave the total negative; income must still go through.
	imp := NewImportService(l, false)
	_, err := imp.ExecuteReader(ctx, csvReader("title,type,value,category\nRent,outcome,500,Housing\n"))
	require.NoError(t, err)

	mustCreate(t, l, "Gift", 100, core.Income, "Misc")

	b, err := l.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(-49900), b.Total.Cents)
}

func TestCreateOutcomeInsufficientBalance(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			l := newLedger(store, nil)
			mustCreate(t, l, "Salary", 1000, core.Income, "Job")

			_, err := l.Create(ctx, CreateTransactionInput{
				Title:    "TV",
				Value:    core.Money{Cents: 1001},
				Type:     core.Outcome,
				Category: "Electronics",
			})
			require.ErrorIs(t, err, core.ErrInsufficientBalance)

			ts, err := l.List(ctx)
			require.NoError(t, err)
			require.Len(t, ts, 1)
			require.Zero(t, categoryCount(t, store, "Electronics"), "rejected outcome must not create its category")
		})
	}
}

func TestCreateOutcomeExactTotal(t *testing.T) {
	ctx := context.Background()
	l := newLedger(memory.New(), nil)
	mustCreate(t, l, "Salary", 1000, core.Income, "Job")
	mustCreate(t, l, "Rent", 1000, core.Outcome, "Housing")

	b, err := l.Balance(ctx)
	require.NoError(t, err)
	require.Zero(t, b.Total.Cents)

	_, err = l.Create(ctx, CreateTransactionInput{Title: "Coffee", Value: core.Money{Cents: 1}, Type: core.Outcome, Category: "Food"})
	require.ErrorIs(t, err, core.ErrInsufficientBalance)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      CreateTransactionInput
		wantErr error
		wantMsg string
	}{
		{
			name:    "all missing",
			in:      CreateTransactionInput{},
			wantErr: core.ErrInvalidInput,
			wantMsg: "missing title, value, type, category",
		},
		{
			name:    "blank title",
			in:      CreateTransactionInput{Title: "  ", Value: core.Money{Cents: 1}, Type: core.Income, Category: "Job"},
			wantErr: core.ErrInvalidInput,
			wantMsg: "missing title",
		},
		{
			name:    "zero value",
			in:      CreateTransactionInput{Title: "Salary", Type: core.Income, Category: "Job"},
			wantErr: core.ErrInvalidInput,
			wantMsg: "missing value",
		},
		{
			name:    "blank category",
			in:      CreateTransactionInput{Title: "Salary", Value: core.Money{Cents: 1}, Type: core.Income, Category: " "},
			wantErr: core.ErrInvalidInput,
			wantMsg: "missing category",
		},
		{
			name:    "unknown type",
			in:      CreateTransactionInput{Title: "Salary", Value: core.Money{Cents: 1}, Type: "transfer", Category: "Job"},
			wantErr: core.ErrInvalidType,
		},
		{
			name:    "negative value",
			in:      CreateTransactionInput{Title: "Salary", Value: core.Money{Cents: -5}, Type: core.Income, Category: "Job"},
			wantErr: core.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			pub := &recordingPublisher{}
			l := newLedger(store, pub)

			_, err := l.Create(context.Background(), tt.in)
			require.ErrorIs(t, err, tt.wantErr)
			require.ErrorIs(t, err, core.ErrInvalidInput)
			if tt.wantMsg != "" {
				require.ErrorContains(t, err, tt.wantMsg)
			}
			require.Empty(t, store.Categories())
			require.Empty(t, pub.types())
		})
	}
}

func TestCreateStorageFailureRollsBackCategory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	l := newLedger(store, nil)

	store.FailNext("SaveTransaction", errors.New("disk full"))
	_, err := l.Create(ctx, CreateTransactionInput{Title: "Salary", Value: core.Money{Cents: 1}, Type: core.Income, Category: "Job"})
	require.ErrorIs(t, err, core.ErrStorage)
	require.Empty(t, store.Categories())

	// The category was not cached either, so a retry creates it for real.
	mustCreate(t, l, "Salary", 1, core.Income, "Job")
	require.Len(t, store.Categories(), 1)
}

func TestCreateReusesCategory(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			l := newLedger(store, nil)

			a := mustCreate(t, l, "Salary", 1000, core.Income, "Job")
			b := mustCreate(t, l, "Bonus", 500, core.Income, "Job")
			require.Equal(t, a.CategoryID, b.CategoryID)
			require.Equal(t, 1, categoryCount(t, store, "Job"))
		})
	}
}

func TestDelete(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			pub := &recordingPublisher{}
			l := newLedger(store, pub)

			income := mustCreate(t, l, "Salary", 1000, core.Income, "Job")
			mustCreate(t, l, "Rent", 800, core.Outcome, "Housing")

			// Removing the income leaves a negative total; that is accepted.
			require.NoError(t, l.Delete(ctx, income.ID))

			b, err := l.Balance(ctx)
			require.NoError(t, err)
			require.Equal(t, int64(-800), b.Total.Cents)
			require.Equal(t, []string{
				amqp.EventTransactionCreated,
				amqp.EventTransactionCreated,
				amqp.EventTransactionDeleted,
			}, pub.types())
		})
	}
}

func TestDeleteNotFound(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			l := newLedger(store, nil)
			mustCreate(t, l, "Salary", 1000, core.Income, "Job")

			err := l.Delete(ctx, "does-not-exist")
			require.ErrorIs(t, err, core.ErrNotFound)

			ts, err := l.List(ctx)
			require.NoError(t, err)
			require.Len(t, ts, 1)
		})
	}
}

func TestDeleteBlankID(t *testing.T) {
	err := newLedger(memory.New(), nil).Delete(context.Background(), "")
	require.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestConcurrentOutcomesKeepTotalNonNegative(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			// Two services over one store stand in for two processes.
			a := newLedger(store, nil)
			b := newLedger(store, nil)
			mustCreate(t, a, "Salary", 1000, core.Income, "Job")

			const attempts = 20
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				accepted int
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					l := a
					if i%2 == 1 {
						l = b
					}
					_, err := l.Create(ctx, CreateTransactionInput{
						Title:    "Lunch",
						Value:    core.Money{Cents: 100},
						Type:     core.Outcome,
						Category: "Food",
					})
					if err == nil {
						mu.Lock()
						accepted++
						mu.Unlock()
						return
					}
					if !errors.Is(err, core.ErrInsufficientBalance) {
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			require.Equal(t, 10, accepted)
			bal, err := a.Balance(ctx)
			require.NoError(t, err)
			require.Zero(t, bal.Total.Cents)
			require.Equal(t, 1, categoryCount(t, store, "Food"))
		})
	}
}

func TestPublishFailureDoesNotFailCreate(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	l := newLedger(memory.New(), pub)

	tr := mustCreate(t, l, "Salary", 1000, core.Income, "Job")

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	require.Equal(t, amqp.EventTransactionCreated, ev.Type)
	require.Equal(t, tr.ID, ev.TransactionID)
	require.Equal(t, "income", ev.TransactionType)
	require.Equal(t, int64(1000), ev.ValueCents)
	require.Equal(t, tr.CategoryID, ev.CategoryID)
}

func TestServicesLogWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := applog.New(applog.Config{Level: slog.LevelInfo, Output: &buf})
	ctx := applog.WithContext(context.Background(), logger)

	l := newLedger(memory.New(), nil)
	_, err := l.Create(ctx, CreateTransactionInput{Title: "Salary", Value: core.Money{Cents: 1000}, Type: core.Income, Category: "Job"})
	require.NoError(t, err)
	_, err = NewImportService(l, false).ExecuteReader(ctx, csvReader("title,type,value,category\nRent,outcome,4,Housing\n"))
	require.NoError(t, err)

	var created, imported string
	for _, line := range strings.Split(buf.String(), "\n") {
		switch {
		case strings.Contains(line, `msg="Transaction created"`):
			created = line
		case strings.Contains(line, `msg="Transactions imported"`):
			imported = line
		}
	}
	require.Contains(t, created, "component="+applog.ComponentLedger)
	require.Contains(t, imported, "component="+applog.ComponentImport)
}
