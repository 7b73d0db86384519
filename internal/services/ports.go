package services

import (
	"context"

	"gofinances/internal/amqp"
)

// EventPublisher receives ledger change notifications.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}
