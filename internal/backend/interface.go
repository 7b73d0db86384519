package backend

import (
	"context"
	"time"

	"gofinances/internal/amqp"
	"gofinances/internal/services"
	"gofinances/internal/storage"
)

// Backend bundles the ledger services over one store.
type Backend struct {
	Store    storage.Store
	Ledger   *services.LedgerService
	Importer *services.ImportService
	// AMQP is nil when no broker is configured or reachable.
	AMQP *amqp.Client
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend *Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Memory backend specific
	DataDirectory string

	// AMQP, skipped when AMQPURL is empty
	AMQPURL         string
	AMQPExchange    string
	AMQPEventsQueue string
	AMQPImportQueue string

	CategoryCacheSize int
	CategoryCacheTTL  time.Duration

	ImportEnforceBalance bool
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
