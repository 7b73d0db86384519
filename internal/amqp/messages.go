package amqp

import (
	"encoding/json"
	"time"
)

// Ledger event types.
const (
	EventTransactionCreated   = "transaction.created"
	EventTransactionDeleted   = "transaction.deleted"
	EventTransactionsImported = "transactions.imported"
)

// LedgerEvent notifies consumers that the ledger changed. Consumers needing the
// full rows read them from the store.
type LedgerEvent struct {
	Type            string    `json:"type"`
	TransactionID   string    `json:"transaction_id,omitempty"`
	TransactionType string    `json:"transaction_type,omitempty"`
	ValueCents      int64     `json:"value_cents,omitempty"`
	CategoryID      string    `json:"category_id,omitempty"`
	Count           int       `json:"count,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewLedgerEvent creates an event of the given type stamped with the current time.
func NewLedgerEvent(eventType string) *LedgerEvent {
	return &LedgerEvent{
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON creates an event from JSON bytes
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ImportRequest asks a worker to import a staged CSV file. The worker takes
// ownership of the file and removes it once read.
type ImportRequest struct {
	FilePath  string    `json:"file_path"`
	Timestamp time.Time `json:"timestamp"`
}

// NewImportRequest creates a request for the staged file at path.
func NewImportRequest(path string) *ImportRequest {
	return &ImportRequest{
		FilePath:  path,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the request to JSON bytes
func (r *ImportRequest) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// ImportRequestFromJSON creates a request from JSON bytes
func ImportRequestFromJSON(data []byte) (*ImportRequest, error) {
	var req ImportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
