package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Outcome TransactionType = "outcome"
)

type (
	TransactionType string

	Money struct {
		Cents int64
	}

	Category struct {
		ID        string
		Title     string
		CreatedAt time.Time
	}

	Transaction struct {
		ID         string
		Title      string
		Value      Money
		Type       TransactionType
		CategoryID string
		Category   *Category // populated when the category was resolved alongside the transaction
		CreatedAt  time.Time
	}
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrStorage             = errors.New("storage failure")

	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrInvalidInput)
	ErrInvalidType   = fmt.Errorf("%w: transaction type must be income or outcome", ErrInvalidInput)
)

// ParseTransactionType accepts exactly "income" or "outcome".
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case Income, Outcome:
		return TransactionType(s), nil
	default:
		return "", ErrInvalidType
	}
}

func (t TransactionType) IsValid() bool {
	return t == Income || t == Outcome
}

func (t TransactionType) String() string {
	return string(t)
}

// Validate accepts amounts between one cent and MaxCents.
func (m Money) Validate() error {
	if m.Cents <= 0 || m.Cents > MaxCents {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks the fields a transaction needs before it can be stored.
// The category is checked by title since the id is assigned on resolution.
func (t Transaction) Validate() error {
	var missing []string
	if strings.TrimSpace(t.Title) == "" {
		missing = append(missing, "title")
	}
	if t.Value.Cents == 0 {
		missing = append(missing, "value")
	}
	if t.Type == "" {
		missing = append(missing, "type")
	}
	if t.Category == nil || strings.TrimSpace(t.Category.Title) == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if err := t.Value.Validate(); err != nil {
		return err
	}
	if !t.Type.IsValid() {
		return ErrInvalidType
	}
	return nil
}
