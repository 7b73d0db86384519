package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"gofinances/internal/amqp"
	"gofinances/internal/core"
	applog "gofinances/internal/log"
	"gofinances/internal/storage"
)

// Positional CSV columns. Row 1 is a header.
const (
	colTitle = iota
	colType
	colValue
	colCategory
)

// SkippedRow is a CSV row the importer could not use.
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ImportResult lists what an import stored and what it left out.
type ImportResult struct {
	Transactions []core.Transaction `json:"transactions"`
	Skipped      []SkippedRow       `json:"skipped,omitempty"`
}

// ImportService bulk-loads transactions from CSV through the ledger's store
// and category registry.
type ImportService struct {
	ledger *LedgerService

	// enforceBalance rejects a whole file when replaying it in order would
	// take an outcome past the running total.
	enforceBalance bool
}

func NewImportService(ledger *LedgerService, enforceBalance bool) *ImportService {
	return &ImportService{
		ledger:         ledger,
		enforceBalance: enforceBalance,
	}
}

type stagedRow struct {
	line     int
	title    string
	typ      core.TransactionType
	value    core.Money
	category string
}

// Execute imports the CSV file at path. The file is removed once it has been
// read, whatever the outcome.
func (s *ImportService) Execute(ctx context.Context, path string) (ImportResult, error) {
	rows, skipped, err := readImportFile(ctx, path)
	if err != nil {
		return ImportResult{}, err
	}
	return s.commit(ctx, rows, skipped)
}

// ExecuteReader imports CSV from r. The caller keeps ownership of r.
func (s *ImportService) ExecuteReader(ctx context.Context, r io.Reader) (ImportResult, error) {
	rows, skipped, err := parseRows(ctx, r)
	if err != nil {
		return ImportResult{}, err
	}
	return s.commit(ctx, rows, skipped)
}

func readImportFile(ctx context.Context, path string) ([]stagedRow, []SkippedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open import file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			importLogger(ctx).WarnContext(ctx, "Failed to close import file", "path", path, "error", err)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			importLogger(ctx).WarnContext(ctx, "Failed to remove import file", "path", path, "error", err)
		}
	}()

	return parseRows(ctx, f)
}

func parseRows(ctx context.Context, r io.Reader) ([]stagedRow, []SkippedRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var (
		rows    []stagedRow
		skipped []SkippedRow
		header  = true
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var perr *csv.ParseError
		if err != nil && !errors.As(err, &perr) {
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		if header {
			header = false
			continue
		}
		if perr != nil {
			skipped = appendSkip(ctx, skipped, perr.StartLine, perr.Err.Error())
			continue
		}

		line, _ := cr.FieldPos(0)
		row, reason := stageRecord(record)
		if reason != "" {
			skipped = appendSkip(ctx, skipped, line, reason)
			continue
		}
		row.line = line
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

func stageRecord(record []string) (stagedRow, string) {
	field := func(i int) string {
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var missing []string
	for _, c := range []struct {
		col  int
		name string
	}{{colTitle, "title"}, {colType, "type"}, {colValue, "value"}} {
		if field(c.col) == "" {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return stagedRow{}, "missing " + strings.Join(missing, ", ")
	}

	typ, err := core.ParseTransactionType(field(colType))
	if err != nil {
		return stagedRow{}, fmt.Sprintf("unknown type %q", field(colType))
	}
	value, err := core.ParseMoney(field(colValue))
	if err != nil {
		return stagedRow{}, fmt.Sprintf("invalid value %q", field(colValue))
	}

	return stagedRow{
		title:    field(colTitle),
		typ:      typ,
		value:    value,
		category: field(colCategory),
	}, ""
}

func appendSkip(ctx context.Context, skipped []SkippedRow, line int, reason string) []SkippedRow {
	importLogger(ctx).DebugContext(ctx, "Skipping CSV row", "line", line, "reason", reason)
	return append(skipped, SkippedRow{Line: line, Reason: reason})
}

func (s *ImportService) commit(ctx context.Context, rows []stagedRow, skipped []SkippedRow) (ImportResult, error) {
	result := ImportResult{Skipped: skipped}
	if len(rows) == 0 {
		importLogger(ctx).InfoContext(ctx, "Nothing to import", "skipped", len(skipped))
		return result, nil
	}

	l := s.ledger

	// Early rejection keeps an overdrawing file from creating categories. The
	// check is repeated under the lock before anything is written.
	if s.enforceBalance {
		if err := replayBalance(ctx, l.store, rows); err != nil {
			return ImportResult{}, err
		}
	}

	titles := make([]string, len(rows))
	for i, r := range rows {
		titles[i] = r.category
	}
	categories, err := l.registry.ResolveCategories(ctx, titles)
	if err != nil {
		return ImportResult{}, fmt.Errorf("resolve categories: %w", err)
	}

	// Offset timestamps so listing keeps file order.
	now := time.Now().UTC()
	ts := make([]core.Transaction, len(rows))
	for i, r := range rows {
		category := categories[r.category]
		ts[i] = core.Transaction{
			ID:         uuid.NewString(),
			Title:      r.title,
			Value:      r.value,
			Type:       r.typ,
			CategoryID: category.ID,
			Category:   &category,
			CreatedAt:  now.Add(time.Duration(i)),
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err = l.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if s.enforceBalance {
			if err := replayBalance(ctx, tx, rows); err != nil {
				return err
			}
		}
		return tx.SaveTransactionsBulk(ctx, ts)
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("save transactions: %w", err)
	}

	importLogger(ctx).InfoContext(ctx, "Transactions imported",
		"imported", len(ts),
		"skipped", len(skipped),
		"categories", len(categories))

	ev := amqp.NewLedgerEvent(amqp.EventTransactionsImported)
	ev.Count = len(ts)
	l.publish(ctx, ev)

	result.Transactions = ts
	return result, nil
}

// replayBalance applies rows in file order on top of the stored total and
// fails on the first outcome the running total cannot cover.
func replayBalance(ctx context.Context, store storage.Store, rows []stagedRow) error {
	existing, err := store.FindTransactions(ctx)
	if err != nil {
		return fmt.Errorf("find transactions: %w", err)
	}
	b := core.ComputeBalance(existing)
	for _, r := range rows {
		if r.typ == core.Outcome && !b.CanWithdraw(r.value) {
			return fmt.Errorf("%w: line %d: outcome %s exceeds running total %s",
				core.ErrInsufficientBalance, r.line, r.value, b.Total)
		}
		b = b.Apply(core.Transaction{Type: r.typ, Value: r.value})
	}
	return nil
}

func importLogger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentImport)
}
