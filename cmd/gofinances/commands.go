package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"gofinances/internal/amqp"
	"gofinances/internal/core"
	"gofinances/internal/services"
	"gofinances/internal/upload"
)

const usage = `usage: gofinances <command> [flags]

commands:
  create  -title T -value V -type income|outcome -category C
  delete  -id ID
  import  [-async] FILE.csv
  balance
  list
`

var errUsage = errors.New("invalid usage")

type importQueue interface {
	PublishImportRequest(ctx context.Context, req *amqp.ImportRequest) error
}

type app struct {
	ledger   *services.LedgerService
	importer *services.ImportService
	stager   *upload.Stager
	queue    importQueue // nil without a broker
	out      io.Writer
}

type transactionView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Value      string    `json:"value"`
	Type       string    `json:"type"`
	CategoryID string    `json:"category_id"`
	Category   string    `json:"category,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type balanceView struct {
	Income  string `json:"income"`
	Outcome string `json:"outcome"`
	Total   string `json:"total"`
}

type importView struct {
	Imported     int                   `json:"imported"`
	Transactions []transactionView     `json:"transactions"`
	Skipped      []services.SkippedRow `json:"skipped,omitempty"`
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "create":
		return a.create(ctx, rest)
	case "delete":
		return a.delete(ctx, rest)
	case "import":
		return a.importCSV(ctx, rest)
	case "balance":
		b, err := a.ledger.Balance(ctx)
		if err != nil {
			return err
		}
		return a.print(newBalanceView(b))
	case "list":
		ts, err := a.ledger.List(ctx)
		if err != nil {
			return err
		}
		b := core.ComputeBalance(ts)
		return a.print(struct {
			Transactions []transactionView `json:"transactions"`
			Balance      balanceView       `json:"balance"`
		}{newTransactionViews(ts), newBalanceView(b)})
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	title := fs.String("title", "", "transaction title")
	value := fs.String("value", "", "amount, e.g. 12.50")
	typ := fs.String("type", "", "income or outcome")
	category := fs.String("category", "", "category title")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	in := services.CreateTransactionInput{
		Title:    *title,
		Type:     core.TransactionType(*typ),
		Category: *category,
	}
	if *value != "" {
		v, err := core.ParseMoney(*value)
		if err != nil {
			return err
		}
		in.Value = v
	}

	t, err := a.ledger.Create(ctx, in)
	if err != nil {
		return err
	}
	return a.print(newTransactionView(t))
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "transaction id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if err := a.ledger.Delete(ctx, *id); err != nil {
		return err
	}
	return a.print(map[string]string{"deleted": *id})
}

func (a *app) importCSV(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	async := fs.Bool("async", false, "queue the import for the worker")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: import takes exactly one file", errUsage)
	}
	if *async && a.queue == nil {
		return errors.New("async import needs a reachable AMQP broker (AMQP_URL)")
	}

	// The importer deletes what it reads, so work on a staged copy.
	path, err := a.stager.StageFile(fs.Arg(0))
	if err != nil {
		return err
	}

	if *async {
		req := amqp.NewImportRequest(path)
		if err := a.queue.PublishImportRequest(ctx, req); err != nil {
			return fmt.Errorf("queue import: %w", err)
		}
		return a.print(map[string]string{"queued": path})
	}

	res, err := a.importer.Execute(ctx, path)
	if err != nil {
		return err
	}
	return a.print(importView{
		Imported:     len(res.Transactions),
		Transactions: newTransactionViews(res.Transactions),
		Skipped:      res.Skipped,
	})
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTransactionView(t core.Transaction) transactionView {
	v := transactionView{
		ID:         t.ID,
		Title:      t.Title,
		Value:      t.Value.String(),
		Type:       t.Type.String(),
		CategoryID: t.CategoryID,
		CreatedAt:  t.CreatedAt,
	}
	if t.Category != nil {
		v.Category = t.Category.Title
	}
	return v
}

func newTransactionViews(ts []core.Transaction) []transactionView {
	out := make([]transactionView, len(ts))
	for i, t := range ts {
		out[i] = newTransactionView(t)
	}
	return out
}

func newBalanceView(b core.Balance) balanceView {
	return balanceView{
		Income:  b.Income.String(),
		Outcome: b.Outcome.String(),
		Total:   b.Total.String(),
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, errUsage):
		return err.Error() + "\n\n" + usage
	case errors.Is(err, core.ErrInsufficientBalance):
		return "not enough balance: " + err.Error()
	case errors.Is(err, core.ErrNotFound):
		return "transaction not found: " + err.Error()
	case errors.Is(err, core.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, core.ErrStorage):
		return "storage unavailable: " + err.Error()
	default:
		return err.Error()
	}
}

func exitCode(err error) int {
	if errors.Is(err, errUsage) {
		return 2
	}
	return 1
}
