package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gofinances/internal/amqp"
	"gofinances/internal/cache"
	"gofinances/internal/core"
	"gofinances/internal/storage"
	"gofinances/internal/storage/memory"
)

// backends returns a constructor per store implementation so behaviour is
// checked against both.
func backends() map[string]func(t *testing.T) storage.Store {
	return map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store {
			return memory.New()
		},
		"sqlite": func(t *testing.T) storage.Store {
			t.Helper()
			repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
}

func newLedger(store storage.Store, pub EventPublisher) *LedgerService {
	registry := NewCategoryRegistry(store, cache.NewLRUCache[core.Category](64, 0))
	return NewLedgerService(store, registry, pub)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func mustCreate(t *testing.T, l *LedgerService, title string, cents int64, typ core.TransactionType, category string) core.Transaction {
	t.Helper()
	tr, err := l.Create(context.Background(), CreateTransactionInput{
		Title:    title,
		Value:    core.Money{Cents: cents},
		Type:     typ,
		Category: category,
	})
	require.NoError(t, err)
	return tr
}

func categoryCount(t *testing.T, store storage.Store, titles ...string) int {
	t.Helper()
	cs, err := store.FindCategoriesByTitle(context.Background(), titles)
	require.NoError(t, err)
	return len(cs)
}
