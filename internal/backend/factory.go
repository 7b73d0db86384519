package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gofinances/internal/amqp"
	"gofinances/internal/cache"
	"gofinances/internal/core"
	"gofinances/internal/services"
	"gofinances/internal/storage"
	"gofinances/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store storage.Store
		err   error
	)
	switch config.Type {
	case SQLiteBackend:
		store, err = f.createSQLiteStore(config)
	case MemoryBackend:
		store = f.createMemoryStore(config)
	default:
		err = fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	amqpClient := f.createAMQPClient(ctx, config)

	size := config.CategoryCacheSize
	if size < 1 {
		size = 256
	}
	categories := cache.NewLRUCache[core.Category](size, config.CategoryCacheTTL)
	manager := cache.NewManager()
	manager.Register(categories)
	if config.CategoryCacheTTL > 0 {
		manager.StartCleanup(config.CategoryCacheTTL)
	}

	// A nil *amqp.Client must not become a non-nil interface.
	var publisher services.EventPublisher
	if amqpClient != nil {
		publisher = amqpClient
	}

	registry := services.NewCategoryRegistry(store, categories)
	ledger := services.NewLedgerService(store, registry, publisher)
	importer := services.NewImportService(ledger, config.ImportEnforceBalance)

	f.logger.InfoContext(ctx, "Initialized backend",
		"backend", config.Type,
		"amqp_enabled", amqpClient != nil,
		"enforce_import_balance", config.ImportEnforceBalance)

	cleanup := func() error {
		manager.Stop()

		var errs []error
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("amqp: %w", err))
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BackendResult{
		Backend: &Backend{
			Store:    store,
			Ledger:   ledger,
			Importer: importer,
			AMQP:     amqpClient,
		},
		Cleanup: cleanup,
	}, nil
}

func (f *DefaultFactory) createSQLiteStore(config Config) (storage.Store, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite store", "db_path", config.SQLiteDBPath)
	return repo, nil
}

func (f *DefaultFactory) createMemoryStore(config Config) storage.Store {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data" // Default directory
	}

	store := memory.NewFromFiles(dataDir)

	f.logger.Info("Initialized memory store", "data_directory", dataDir)
	return store
}

// createAMQPClient is optional: a broker that cannot be reached leaves the
// ledger running without events.
func (f *DefaultFactory) createAMQPClient(ctx context.Context, config Config) *amqp.Client {
	if config.AMQPURL == "" {
		return nil
	}

	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPEventsQueue, config.AMQPImportQueue)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", "error", err)
		return nil
	}

	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"events_queue", config.AMQPEventsQueue,
		"import_queue", config.AMQPImportQueue)
	return client
}
