package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gofinances/internal/core"
	"gofinances/internal/storage"
)

// Store keeps the ledger in process memory. Writes are serialised through
// txMu so RunInTx can work on a copy and swap it in on commit.
type Store struct {
	txMu *sync.Mutex
	mu   sync.Mutex

	categories   map[string]core.Category // by title
	transactions []core.Transaction

	faults *faults
	inTx   bool
}

type faults struct {
	mu   sync.Mutex
	next map[string]error
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		txMu:       &sync.Mutex{},
		categories: map[string]core.Category{},
		faults:     &faults{next: map[string]error{}},
	}
}

// NewFromFiles seeds categories from base/seed_categories.txt when present.
func NewFromFiles(base string) *Store {
	s := New()
	now := time.Now().UTC()
	for _, title := range readLines(filepath.Join(base, "seed_categories.txt")) {
		s.categories[title] = core.Category{ID: uuid.NewString(), Title: title, CreatedAt: now}
	}
	return s
}

// FailNext makes the next call to op return err. op is a Store method name.
func (s *Store) FailNext(op string, err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.next[op] = err
}

func (s *Store) fault(op string) error {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	err, ok := s.faults.next[op]
	if !ok {
		return nil
	}
	delete(s.faults.next, op)
	return fmt.Errorf("%w: %s: %w", core.ErrStorage, op, err)
}

func (s *Store) lockWrite() func() {
	if !s.inTx {
		s.txMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if !s.inTx {
			s.txMu.Unlock()
		}
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	work := &Store{
		txMu:         s.txMu,
		categories:   make(map[string]core.Category, len(s.categories)),
		transactions: slices.Clone(s.transactions),
		faults:       s.faults,
		inTx:         true,
	}
	for k, v := range s.categories {
		work.categories[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx, work); err != nil {
		return err
	}

	s.mu.Lock()
	s.categories = work.categories
	s.transactions = work.transactions
	s.mu.Unlock()
	return nil
}

func (s *Store) FindTransactions(_ context.Context) ([]core.Transaction, error) {
	if err := s.fault("FindTransactions"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transactions), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	if err := s.fault("GetTransaction"); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.ID == id {
			return t, nil
		}
	}
	return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
}

func (s *Store) SaveTransaction(_ context.Context, t core.Transaction) error {
	if err := s.fault("SaveTransaction"); err != nil {
		return err
	}
	unlock := s.lockWrite()
	defer unlock()
	if err := s.checkInsertable(t); err != nil {
		return err
	}
	s.transactions = append(s.transactions, t)
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	if err := s.fault("DeleteTransaction"); err != nil {
		return err
	}
	unlock := s.lockWrite()
	defer unlock()
	for i, t := range s.transactions {
		if t.ID == id {
			s.transactions = slices.Delete(s.transactions, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
}

func (s *Store) SaveTransactionsBulk(_ context.Context, ts []core.Transaction) error {
	if err := s.fault("SaveTransactionsBulk"); err != nil {
		return err
	}
	unlock := s.lockWrite()
	defer unlock()
	for _, t := range ts {
		if err := s.checkInsertable(t); err != nil {
			return err
		}
	}
	s.transactions = append(s.transactions, ts...)
	return nil
}

func (s *Store) FindCategoriesByTitle(_ context.Context, titles []string) ([]core.Category, error) {
	if err := s.fault("FindCategoriesByTitle"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, title := range dedupe(titles) {
		if c, ok := s.categories[title]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) SaveCategories(_ context.Context, cs []core.Category) error {
	if err := s.fault("SaveCategories"); err != nil {
		return err
	}
	unlock := s.lockWrite()
	defer unlock()
	for _, c := range cs {
		if _, exists := s.categories[c.Title]; exists {
			continue
		}
		s.categories[c.Title] = c
	}
	return nil
}

// Categories returns every stored category; handy in tests.
func (s *Store) Categories() []core.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b core.Category) int { return strings.Compare(a.Title, b.Title) })
	return out
}

func (s *Store) Close() error { return nil }

// checkInsertable mirrors the schema constraints of the SQLite store.
func (s *Store) checkInsertable(t core.Transaction) error {
	if !t.Type.IsValid() {
		return fmt.Errorf("%w: invalid transaction type %q", core.ErrStorage, t.Type)
	}
	if t.Value.Cents < 0 {
		return fmt.Errorf("%w: negative value", core.ErrStorage)
	}
	for _, c := range s.categories {
		if c.ID == t.CategoryID {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown category %q", core.ErrStorage, t.CategoryID)
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
