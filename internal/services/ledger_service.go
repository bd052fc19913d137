// Package services exposes the ledger to callers that speak in text inputs:
// it validates tags, parses amounts and dates, retries lock conflicts and keeps
// the bucket cache coherent with committed writes.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"finanse/internal/cache"
	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/log"
)

// Defaults for retrying lock and serialization conflicts.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 50 * time.Millisecond
)

type (
	// ExpenseInput is an expense as typed by a user.
	ExpenseInput struct {
		Date     string `json:"date"`
		Title    string `json:"title"`
		Category string `json:"category"`
		Store    string `json:"store"`
		Cost     string `json:"cost"`
	}

	// IncomeInput is an income as typed by a user.
	IncomeInput struct {
		Date   string `json:"date"`
		Title  string `json:"title"`
		Source string `json:"source"`
		Amount string `json:"amount"`
	}

	// ListFilter narrows listings. Zero values mean no constraint.
	ListFilter struct {
		Month core.Date
		Date  core.Date
		Label string
		Limit int
	}

	ExpenseList struct {
		Expenses []core.Expense `json:"expenses"`
		Total    core.Money     `json:"total"`
	}

	IncomeList struct {
		Incomes []core.Income `json:"incomes"`
		Total   core.Money    `json:"total"`
	}

	Config struct {
		Taxonomy      *core.Taxonomy
		RetryAttempts uint
		RetryDelay    time.Duration
		// Cache holds bucket reads; nil disables caching.
		Cache cache.Cache[core.MonthBucket]
		// Publisher is told about every committed change, after the cache is updated.
		Publisher ledger.Notifier
		Logger    *log.Logger
	}
)

// LedgerService is the caller-facing entry point for ledger mutations and reads.
type LedgerService struct {
	engine    *ledger.Engine
	store     ledger.Store
	taxonomy  *core.Taxonomy
	attempts  uint
	delay     time.Duration
	buckets   cache.Cache[core.MonthBucket]
	publisher ledger.Notifier
	logger    *log.Logger

	// generation counts cache invalidations. A bucket read is cached only if
	// no invalidation happened while it was being loaded.
	cacheMu    sync.Mutex
	generation uint64
}

var _ ledger.Notifier = (*LedgerService)(nil)

// NewLedgerService builds the engine over store with the service as its notifier.
func NewLedgerService(store ledger.Store, cfg Config) *LedgerService {
	if cfg.Taxonomy == nil {
		cfg.Taxonomy = core.DefaultTaxonomy()
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}

	s := &LedgerService{
		store:     store,
		taxonomy:  cfg.Taxonomy,
		attempts:  cfg.RetryAttempts,
		delay:     cfg.RetryDelay,
		buckets:   cfg.Cache,
		publisher: cfg.Publisher,
		logger:    cfg.Logger.WithComponent(log.ComponentService),
	}
	s.engine = ledger.NewEngine(store, ledger.WithNotifier(s), ledger.WithLogger(cfg.Logger))
	return s
}

func (s *LedgerService) Engine() *ledger.Engine { return s.engine }

func (s *LedgerService) Taxonomy() *core.Taxonomy { return s.taxonomy }

// BucketsChanged drops cached copies of the touched buckets and forwards the
// change to the publisher.
func (s *LedgerService) BucketsChanged(ctx context.Context, change ledger.Change) {
	if s.buckets != nil {
		s.cacheMu.Lock()
		s.generation++
		for _, b := range change.Buckets {
			s.buckets.Delete(cache.BucketKey(b.Owner, b.MonthKey))
		}
		s.cacheMu.Unlock()
	}
	if s.publisher != nil {
		s.publisher.BucketsChanged(ctx, change)
	}
}

// withRetry runs fn until it succeeds, fails with a non-retryable error or the
// attempts are used up.
func (s *LedgerService) withRetry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, core.ErrRetryable) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			fields := log.NewFields().WithOperation(op).WithError(err, log.ErrorTypeConflict)
			fields[log.FieldAttempt] = n + 1
			s.logger.WarnContext(ctx, "Retrying ledger operation", fields.ToSlice()...)
		}),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.LastErrorOnly(true),
	)
}

func (s *LedgerService) expenseFields(in ExpenseInput) (core.EntryFields, error) {
	date, err := core.ParseDate(in.Date)
	if err != nil {
		return core.EntryFields{}, err
	}
	amount, err := core.ParseAmount(in.Cost)
	if err != nil {
		return core.EntryFields{}, err
	}
	category, err := s.taxonomy.ResolveLabel(core.KindExpense, in.Category)
	if err != nil {
		return core.EntryFields{}, err
	}
	return core.EntryFields{Date: date, Title: in.Title, Amount: amount, Label: category, Store: in.Store}, nil
}

func (s *LedgerService) incomeFields(in IncomeInput) (core.EntryFields, error) {
	date, err := core.ParseDate(in.Date)
	if err != nil {
		return core.EntryFields{}, err
	}
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.EntryFields{}, err
	}
	source, err := s.taxonomy.ResolveLabel(core.KindIncome, in.Source)
	if err != nil {
		return core.EntryFields{}, err
	}
	return core.EntryFields{Date: date, Title: in.Title, Amount: amount, Label: source}, nil
}

func (s *LedgerService) add(ctx context.Context, kind core.Kind, owner string, fields core.EntryFields) (core.Entry, error) {
	var res ledger.Result
	err := s.withRetry(ctx, log.OpAdd, func() (err error) {
		res, err = s.engine.Add(ctx, kind, owner, fields)
		return err
	})
	if err != nil {
		return core.Entry{}, fmt.Errorf("add %s: %w", kind, err)
	}
	return res.Entry, nil
}

func (s *LedgerService) edit(ctx context.Context, kind core.Kind, owner string, id int64, fields core.EntryFields) (core.Entry, error) {
	var res ledger.Result
	err := s.withRetry(ctx, log.OpEdit, func() (err error) {
		res, err = s.engine.Edit(ctx, kind, owner, id, fields)
		return err
	})
	if err != nil {
		return core.Entry{}, fmt.Errorf("edit %s %d: %w", kind, id, err)
	}
	return res.Entry, nil
}

func (s *LedgerService) remove(ctx context.Context, kind core.Kind, owner string, id int64) error {
	err := s.withRetry(ctx, log.OpDelete, func() error {
		_, err := s.engine.Delete(ctx, kind, owner, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}
	return nil
}

func (s *LedgerService) AddExpense(ctx context.Context, owner string, in ExpenseInput) (core.Expense, error) {
	fields, err := s.expenseFields(in)
	if err != nil {
		return core.Expense{}, err
	}
	e, err := s.add(ctx, core.KindExpense, owner, fields)
	if err != nil {
		return core.Expense{}, err
	}
	return e.Expense(), nil
}

func (s *LedgerService) EditExpense(ctx context.Context, owner string, id int64, in ExpenseInput) (core.Expense, error) {
	fields, err := s.expenseFields(in)
	if err != nil {
		return core.Expense{}, err
	}
	e, err := s.edit(ctx, core.KindExpense, owner, id, fields)
	if err != nil {
		return core.Expense{}, err
	}
	return e.Expense(), nil
}

func (s *LedgerService) DeleteExpense(ctx context.Context, owner string, id int64) error {
	return s.remove(ctx, core.KindExpense, owner, id)
}

func (s *LedgerService) AddIncome(ctx context.Context, owner string, in IncomeInput) (core.Income, error) {
	fields, err := s.incomeFields(in)
	if err != nil {
		return core.Income{}, err
	}
	e, err := s.add(ctx, core.KindIncome, owner, fields)
	if err != nil {
		return core.Income{}, err
	}
	return e.Income(), nil
}

func (s *LedgerService) EditIncome(ctx context.Context, owner string, id int64, in IncomeInput) (core.Income, error) {
	fields, err := s.incomeFields(in)
	if err != nil {
		return core.Income{}, err
	}
	e, err := s.edit(ctx, core.KindIncome, owner, id, fields)
	if err != nil {
		return core.Income{}, err
	}
	return e.Income(), nil
}

func (s *LedgerService) DeleteIncome(ctx context.Context, owner string, id int64) error {
	return s.remove(ctx, core.KindIncome, owner, id)
}

// GetBucket returns the owner's bucket for month without creating it.
func (s *LedgerService) GetBucket(ctx context.Context, owner string, month core.Date) (core.MonthBucket, bool, error) {
	key := cache.BucketKey(owner, month)
	if s.buckets == nil {
		return s.engine.GetBucket(ctx, owner, month)
	}
	if b, ok := s.buckets.Get(key); ok {
		return b, true, nil
	}

	s.cacheMu.Lock()
	gen := s.generation
	s.cacheMu.Unlock()

	b, found, err := s.engine.GetBucket(ctx, owner, month)
	if err != nil || !found {
		return b, found, err
	}

	s.cacheMu.Lock()
	if s.generation == gen {
		s.buckets.Set(key, b)
	}
	s.cacheMu.Unlock()
	return b, true, nil
}

func (s *LedgerService) ListBuckets(ctx context.Context, owner string, limit int) ([]core.MonthBucket, error) {
	if err := core.ValidateOwner(owner); err != nil {
		return nil, err
	}
	return s.store.ListBuckets(ctx, owner, limit)
}

func (s *LedgerService) GetExpense(ctx context.Context, owner string, id int64) (core.Expense, error) {
	e, err := s.store.GetEntry(ctx, core.KindExpense, owner, id)
	if err != nil {
		return core.Expense{}, err
	}
	return e.Expense(), nil
}

func (s *LedgerService) GetIncome(ctx context.Context, owner string, id int64) (core.Income, error) {
	e, err := s.store.GetEntry(ctx, core.KindIncome, owner, id)
	if err != nil {
		return core.Income{}, err
	}
	return e.Income(), nil
}

// ListExpenses returns matching expenses newest first and their total.
func (s *LedgerService) ListExpenses(ctx context.Context, owner string, filter ListFilter) (ExpenseList, error) {
	entries, total, err := s.list(ctx, core.KindExpense, owner, filter)
	if err != nil {
		return ExpenseList{}, err
	}
	out := ExpenseList{Expenses: make([]core.Expense, 0, len(entries)), Total: total}
	for _, e := range entries {
		out.Expenses = append(out.Expenses, e.Expense())
	}
	return out, nil
}

// ListIncomes returns matching incomes newest first and their total.
func (s *LedgerService) ListIncomes(ctx context.Context, owner string, filter ListFilter) (IncomeList, error) {
	entries, total, err := s.list(ctx, core.KindIncome, owner, filter)
	if err != nil {
		return IncomeList{}, err
	}
	out := IncomeList{Incomes: make([]core.Income, 0, len(entries)), Total: total}
	for _, e := range entries {
		out.Incomes = append(out.Incomes, e.Income())
	}
	return out, nil
}

// list totals every match; Limit only truncates the returned rows.
func (s *LedgerService) list(ctx context.Context, kind core.Kind, owner string, filter ListFilter) ([]core.Entry, core.Money, error) {
	if err := core.ValidateOwner(owner); err != nil {
		return nil, core.Money{}, err
	}
	entries, err := s.store.ListEntries(ctx, kind, owner, ledger.EntryFilter{
		Month: filter.Month,
		Date:  filter.Date,
		Label: filter.Label,
	})
	if err != nil {
		return nil, core.Money{}, fmt.Errorf("list %s: %w", kind, err)
	}

	total := core.ZeroMoney()
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, total, nil
}

func (s *LedgerService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
