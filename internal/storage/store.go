package storage

import (
	"context"

	"gofinances/internal/core"
)

// Store is the persistence the ledger runs on. Implementations wrap driver
// failures with core.ErrStorage.
type Store interface {
	FindTransactions(ctx context.Context) ([]core.Transaction, error)
	// GetTransaction returns core.ErrNotFound when id does not exist.
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	SaveTransaction(ctx context.Context, t core.Transaction) error
	// DeleteTransaction returns core.ErrNotFound when id does not exist.
	DeleteTransaction(ctx context.Context, id string) error
	FindCategoriesByTitle(ctx context.Context, titles []string) ([]core.Category, error)
	// SaveCategories inserts cs, ignoring rows whose title already exists.
	SaveCategories(ctx context.Context, cs []core.Category) error
	// SaveTransactionsBulk stores ts atomically: all or none.
	SaveTransactionsBulk(ctx context.Context, ts []core.Transaction) error
	// RunInTx runs fn against a store bound to a single transaction. fn's
	// writes commit together when it returns nil and roll back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Close() error
}
