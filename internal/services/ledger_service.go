package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gofinances/internal/amqp"
	"gofinances/internal/core"
	applog "gofinances/internal/log"
	"gofinances/internal/storage"
)

// CreateTransactionInput carries the fields of a new transaction as the
// caller supplied them. Category is a title, resolved or created on save.
type CreateTransactionInput struct {
	Title    string
	Value    core.Money
	Type     core.TransactionType
	Category string
}

// LedgerService records and removes transactions while keeping the total
// balance from going negative through an outcome.
type LedgerService struct {
	// mu serialises every balance-checked write in this process. The store
	// transaction around check and write covers other processes.
	mu sync.Mutex

	store     storage.Store
	registry  *CategoryRegistry
	publisher EventPublisher
}

// NewLedgerService wires the service. publisher may be nil.
func NewLedgerService(store storage.Store, registry *CategoryRegistry, publisher EventPublisher) *LedgerService {
	return &LedgerService{
		store:     store,
		registry:  registry,
		publisher: publisher,
	}
}

// Create validates in, checks the balance for outcomes, resolves the
// category and stores the transaction, all in one store transaction.
func (s *LedgerService) Create(ctx context.Context, in CreateTransactionInput) (core.Transaction, error) {
	t := core.Transaction{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Value:     in.Value,
		Type:      in.Type,
		Category:  &core.Category{Title: in.Category},
		CreatedAt: time.Now().UTC(),
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var category core.Category
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if t.Type == core.Outcome {
			if err := checkWithdrawal(ctx, tx, t.Value); err != nil {
				return err
			}
		}

		var err error
		category, err = s.registry.WithStore(tx).ResolveCategory(ctx, in.Category)
		if err != nil {
			return fmt.Errorf("resolve category: %w", err)
		}
		t.CategoryID = category.ID
		t.Category = &category

		if err := tx.SaveTransaction(ctx, t); err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}
	s.registry.Remember(category)

	s.logger(ctx).InfoContext(ctx, "Transaction created",
		"id", t.ID,
		"type", t.Type,
		"value", t.Value.String(),
		"category", category.Title)

	ev := amqp.NewLedgerEvent(amqp.EventTransactionCreated)
	ev.TransactionID = t.ID
	ev.TransactionType = t.Type.String()
	ev.ValueCents = t.Value.Cents
	ev.CategoryID = t.CategoryID
	s.publish(ctx, ev)

	return t, nil
}

// Delete removes the transaction with the given id. The balance is not
// re-checked afterwards.
func (s *LedgerService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: missing id", core.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted core.Transaction
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		deleted = t
		return nil
	})
	if err != nil {
		return err
	}

	s.logger(ctx).InfoContext(ctx, "Transaction deleted", "id", id, "type", deleted.Type)

	ev := amqp.NewLedgerEvent(amqp.EventTransactionDeleted)
	ev.TransactionID = deleted.ID
	ev.TransactionType = deleted.Type.String()
	ev.ValueCents = deleted.Value.Cents
	ev.CategoryID = deleted.CategoryID
	s.publish(ctx, ev)

	return nil
}

// Balance folds over every stored transaction.
func (s *LedgerService) Balance(ctx context.Context) (core.Balance, error) {
	ts, err := s.store.FindTransactions(ctx)
	if err != nil {
		return core.Balance{}, fmt.Errorf("find transactions: %w", err)
	}
	return core.ComputeBalance(ts), nil
}

// List returns every stored transaction, oldest first.
func (s *LedgerService) List(ctx context.Context) ([]core.Transaction, error) {
	ts, err := s.store.FindTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	return ts, nil
}

func checkWithdrawal(ctx context.Context, store storage.Store, v core.Money) error {
	ts, err := store.FindTransactions(ctx)
	if err != nil {
		return fmt.Errorf("find transactions: %w", err)
	}
	b := core.ComputeBalance(ts)
	if !b.CanWithdraw(v) {
		return fmt.Errorf("%w: total %s, requested %s", core.ErrInsufficientBalance, b.Total, v)
	}
	return nil
}

// publish is best effort: the ledger write already happened.
func (s *LedgerService) publish(ctx context.Context, ev *amqp.LedgerEvent) {
	if s.publisher == nil {
		s.logger(ctx).DebugContext(ctx, "No event publisher, skipping ledger event", "type", ev.Type)
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		s.logger(ctx).ErrorContext(ctx, "Failed to publish ledger event",
			"type", ev.Type,
			"transaction_id", ev.TransactionID,
			"error", err)
	}
}

func (s *LedgerService) logger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentLedger)
}
