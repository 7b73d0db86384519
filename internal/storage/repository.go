package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gofinances/internal/core"
	applog "gofinances/internal/log"

	_ "modernc.org/sqlite"
)

// Lexically sortable UTC timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite caps bound parameters per statement; stay well below it.
const maxInParams = 500

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteRepository struct {
	db *sql.DB
	q  querier
	tx *sql.Tx // set on repositories handed to RunInTx callbacks
}

var _ Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection makes every transaction exclusive, which is what
	// the balance check relies on.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, q: db}, nil
}

// Immediate transactions take the write lock at BEGIN, so a balance read and
// the write that depends on it cannot interleave with another process.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

func (r *SQLiteRepository) Close() error {
	if r.tx != nil {
		return nil
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RunInTx implements Store. Nested calls reuse the outer transaction.
func (r *SQLiteRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}

	if err := fn(ctx, &SQLiteRepository{db: r.db, q: tx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			storageLogger(ctx).ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

// FindTransactions returns every transaction, oldest first.
func (r *SQLiteRepository) FindTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, `
	SELECT t.id, t.title, t.value_cents, t.type, t.category_id, t.created_at, c.title, c.created_at
	FROM transactions t
	JOIN categories c ON c.id = t.category_id
	ORDER BY t.created_at, t.id`)
	if err != nil {
		return nil, storageErr("find transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, storageErr("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("find transactions", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.q.QueryRowContext(ctx, `
	SELECT t.id, t.title, t.value_cents, t.type, t.category_id, t.created_at, c.title, c.created_at
	FROM transactions t
	JOIN categories c ON c.id = t.category_id
	WHERE t.id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
		}
		return core.Transaction{}, storageErr("get transaction", err)
	}
	return t, nil
}

func (r *SQLiteRepository) SaveTransaction(ctx context.Context, t core.Transaction) error {
	if err := insertTransaction(ctx, r.q, t); err != nil {
		return storageErr("save transaction", err)
	}

	storageLogger(ctx).InfoContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"type", t.Type,
		"value_cents", t.Value.Cents,
		"category_id", t.CategoryID)
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete transaction", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}

	storageLogger(ctx).InfoContext(ctx, "Transaction deleted from SQLite", "id", id)
	return nil
}

// SaveTransactionsBulk inserts ts in one transaction.
func (r *SQLiteRepository) SaveTransactionsBulk(ctx context.Context, ts []core.Transaction) error {
	if len(ts) == 0 {
		return nil
	}
	err := r.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		q := tx.(*SQLiteRepository).q
		for _, t := range ts {
			if err := insertTransaction(ctx, q, t); err != nil {
				return storageErr("save transactions bulk", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	storageLogger(ctx).InfoContext(ctx, "Transactions bulk saved to SQLite", "count", len(ts))
	return nil
}

func (r *SQLiteRepository) FindCategoriesByTitle(ctx context.Context, titles []string) ([]core.Category, error) {
	var out []core.Category
	for _, chunk := range chunks(titles, maxInParams) {
		query := `SELECT id, title, created_at FROM categories WHERE title IN (` + placeholders(len(chunk)) + `)`
		rows, err := r.q.QueryContext(ctx, query, toArgs(chunk)...)
		if err != nil {
			return nil, storageErr("find categories", err)
		}
		for rows.Next() {
			var (
				c       core.Category
				created string
			)
			if err := rows.Scan(&c.ID, &c.Title, &created); err != nil {
				rows.Close()
				return nil, storageErr("scan category", err)
			}
			if c.CreatedAt, err = parseTime(created); err != nil {
				rows.Close()
				return nil, storageErr("scan category", err)
			}
			out = append(out, c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, storageErr("find categories", err)
		}
	}
	return out, nil
}

// SaveCategories inserts cs in one transaction. A title that already exists
// keeps its original row; callers re-read to learn the winning id.
func (r *SQLiteRepository) SaveCategories(ctx context.Context, cs []core.Category) error {
	if len(cs) == 0 {
		return nil
	}
	var inserted int64
	err := r.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		q := tx.(*SQLiteRepository).q
		for _, c := range cs {
			res, err := q.ExecContext(ctx, `
			INSERT INTO categories (id, title, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT (title) DO NOTHING`,
				c.ID, c.Title, formatTime(c.CreatedAt))
			if err != nil {
				return storageErr("save categories", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += n
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	storageLogger(ctx).InfoContext(ctx, "Categories saved to SQLite",
		"requested", len(cs),
		"inserted", inserted)
	return nil
}

func insertTransaction(ctx context.Context, q querier, t core.Transaction) error {
	_, err := q.ExecContext(ctx, `
	INSERT INTO transactions (id, title, value_cents, type, category_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Value.Cents, string(t.Type), t.CategoryID, formatTime(t.CreatedAt))
	return err
}

// scanner handles both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t                   core.Transaction
		typ                 string
		created, catCreated string
		category            core.Category
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Value.Cents, &typ, &t.CategoryID, &created, &category.Title, &catCreated); err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)

	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return core.Transaction{}, err
	}
	if category.CreatedAt, err = parseTime(catCreated); err != nil {
		return core.Transaction{}, err
	}
	category.ID = t.CategoryID
	t.Category = &category
	return t, nil
}

func storageLogger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentStorage)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStorage, op, err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

func chunks(ss []string, size int) [][]string {
	var out [][]string
	for len(ss) > size {
		out = append(out, ss[:size])
		ss = ss[size:]
	}
	if len(ss) > 0 {
		out = append(out, ss)
	}
	return out
}
