// Package ledger keeps monthly bucket totals consistent with their entries.
//
// Every mutation runs in one store transaction following the same protocol:
// lock the entry row (edit and delete), lock every touched bucket in ascending
// month-key order, mutate the entry, recompute each touched bucket as a full sum
// and commit. Totals are never adjusted incrementally.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"finanse/internal/core"
	"finanse/internal/log"
)

// Operation names reported in Change and in logs.
const (
	OpAdd       = log.OpAdd
	OpEdit      = log.OpEdit
	OpDelete    = log.OpDelete
	OpRecompute = log.OpRecompute
)

type (
	// Result is the committed state after a mutation: the entry as stored (as it
	// was, for deletes) and a snapshot of every touched bucket in month-key order.
	Result struct {
		Entry   core.Entry
		Buckets []core.MonthBucket
	}

	// Change describes a committed mutation.
	Change struct {
		Operation string
		Kind      core.Kind
		Owner     string
		EntryID   int64
		Buckets   []core.MonthBucket
	}

	// Verification compares stored bucket totals against fresh sums.
	Verification struct {
		Bucket          core.MonthBucket
		ExpectedIncome  core.Money
		ExpectedExpense core.Money
	}

	Engine struct {
		store    Store
		notifier Notifier
		logger   *log.Logger
	}

	Option func(*Engine)
)

// Consistent reports whether the stored totals match the sums.
func (v Verification) Consistent() bool {
	return v.Bucket.TotalIncome.Equal(v.ExpectedIncome) && v.Bucket.TotalExpense.Equal(v.ExpectedExpense)
}

// WithNotifier registers a post-commit notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, logger: log.New(log.DefaultConfig())}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent(log.ComponentLedger)
	return e
}

// Add inserts a new entry and recomputes its month bucket.
func (e *Engine) Add(ctx context.Context, kind core.Kind, owner string, fields core.EntryFields) (Result, error) {
	fields = normalize(kind, fields)
	if err := validateCall(kind, owner); err != nil {
		return Result{}, err
	}
	if err := fields.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		bucket, err := tx.LockBucket(ctx, owner, core.MonthStart(fields.Date))
		if err != nil {
			return fmt.Errorf("lock bucket: %w", err)
		}
		entry, err := tx.InsertEntry(ctx, core.Entry{Owner: owner, Kind: kind, BucketID: bucket.ID}.WithFields(fields))
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		bucket, err = recompute(ctx, tx, kind, bucket)
		if err != nil {
			return err
		}
		res = Result{Entry: entry, Buckets: []core.MonthBucket{bucket}}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.committed(ctx, OpAdd, kind, owner, res)
	return res, nil
}

// Edit replaces the fields of an entry. When the date moves to another month the
// entry is reassigned and both buckets are recomputed independently.
func (e *Engine) Edit(ctx context.Context, kind core.Kind, owner string, id int64, fields core.EntryFields) (Result, error) {
	fields = normalize(kind, fields)
	if err := validateCall(kind, owner); err != nil {
		return Result{}, err
	}
	if err := fields.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.EntryForUpdate(ctx, kind, owner, id)
		if err != nil {
			return err
		}
		oldBucket, err := tx.BucketByID(ctx, current.BucketID)
		if err != nil {
			return fmt.Errorf("load bucket %d: %w", current.BucketID, err)
		}

		newKey := core.MonthStart(fields.Date)
		locked, err := lockBuckets(ctx, tx, owner, oldBucket.MonthKey, newKey)
		if err != nil {
			return err
		}

		updated := current.WithFields(fields)
		updated.BucketID = locked[keyOf(newKey)].ID
		if err := tx.UpdateEntry(ctx, updated); err != nil {
			return fmt.Errorf("update entry: %w", err)
		}

		buckets := make([]core.MonthBucket, 0, len(locked))
		for _, b := range sortedBuckets(locked) {
			nb, err := recompute(ctx, tx, kind, b)
			if err != nil {
				return err
			}
			buckets = append(buckets, nb)
		}
		res = Result{Entry: updated, Buckets: buckets}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.committed(ctx, OpEdit, kind, owner, res)
	return res, nil
}

// Delete removes an entry and recomputes the bucket it belonged to. The bucket
// is kept even when its totals drop to zero.
func (e *Engine) Delete(ctx context.Context, kind core.Kind, owner string, id int64) (Result, error) {
	if err := validateCall(kind, owner); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.EntryForUpdate(ctx, kind, owner, id)
		if err != nil {
			return err
		}
		oldBucket, err := tx.BucketByID(ctx, current.BucketID)
		if err != nil {
			return fmt.Errorf("load bucket %d: %w", current.BucketID, err)
		}
		bucket, err := tx.LockBucket(ctx, owner, oldBucket.MonthKey)
		if err != nil {
			return fmt.Errorf("lock bucket: %w", err)
		}
		if err := tx.DeleteEntry(ctx, kind, owner, id); err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		bucket, err = recompute(ctx, tx, kind, bucket)
		if err != nil {
			return err
		}
		res = Result{Entry: current, Buckets: []core.MonthBucket{bucket}}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.committed(ctx, OpDelete, kind, owner, res)
	return res, nil
}

// Recompute rebuilds both totals of an existing bucket from its entries.
// Running it on a consistent bucket changes nothing.
func (e *Engine) Recompute(ctx context.Context, owner string, month core.Date) (core.MonthBucket, error) {
	if err := core.ValidateOwner(owner); err != nil {
		return core.MonthBucket{}, err
	}
	key := core.MonthStart(month)
	if _, err := e.store.GetBucket(ctx, owner, key); err != nil {
		return core.MonthBucket{}, err
	}

	var bucket core.MonthBucket
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		b, err := tx.LockBucket(ctx, owner, key)
		if err != nil {
			return fmt.Errorf("lock bucket: %w", err)
		}
		for _, kind := range []core.Kind{core.KindIncome, core.KindExpense} {
			if b, err = recompute(ctx, tx, kind, b); err != nil {
				return err
			}
		}
		bucket = b
		return nil
	})
	if err != nil {
		return core.MonthBucket{}, err
	}

	e.committed(ctx, OpRecompute, "", owner, Result{Buckets: []core.MonthBucket{bucket}})
	return bucket, nil
}

// Verify checks a bucket's stored totals against fresh sums without writing.
// The bucket lock is taken so the comparison sees one consistent state.
func (e *Engine) Verify(ctx context.Context, owner string, month core.Date) (Verification, error) {
	if err := core.ValidateOwner(owner); err != nil {
		return Verification{}, err
	}
	key := core.MonthStart(month)
	if _, err := e.store.GetBucket(ctx, owner, key); err != nil {
		return Verification{}, err
	}

	var v Verification
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		b, err := tx.LockBucket(ctx, owner, key)
		if err != nil {
			return fmt.Errorf("lock bucket: %w", err)
		}
		income, err := tx.SumEntries(ctx, core.KindIncome, b.ID)
		if err != nil {
			return fmt.Errorf("sum incomes: %w", err)
		}
		expense, err := tx.SumEntries(ctx, core.KindExpense, b.ID)
		if err != nil {
			return fmt.Errorf("sum expenses: %w", err)
		}
		v = Verification{Bucket: b, ExpectedIncome: income, ExpectedExpense: expense}
		return nil
	})
	return v, err
}

// GetBucket returns the bucket for the month containing month. found is false
// when no entry has ever landed in that month.
func (e *Engine) GetBucket(ctx context.Context, owner string, month core.Date) (core.MonthBucket, bool, error) {
	if err := core.ValidateOwner(owner); err != nil {
		return core.MonthBucket{}, false, err
	}
	b, err := e.store.GetBucket(ctx, owner, core.MonthStart(month))
	if errors.Is(err, core.ErrNotFound) {
		return core.MonthBucket{}, false, nil
	}
	if err != nil {
		return core.MonthBucket{}, false, err
	}
	return b, true, nil
}

// Store exposes the read side for reporting.
func (e *Engine) Store() Reader {
	return e.store
}

func (e *Engine) committed(ctx context.Context, op string, kind core.Kind, owner string, res Result) {
	months := make([]string, len(res.Buckets))
	for i, b := range res.Buckets {
		months[i] = b.MonthKey.MonthString()
	}
	fields := log.NewFields().WithOperation(op).WithEntry(kind.String(), owner, res.Entry.ID)
	fields[log.FieldMonths] = months
	e.logger.InfoContext(ctx, "Ledger mutation committed", fields.ToSlice()...)

	if e.notifier != nil {
		e.notifier.BucketsChanged(ctx, Change{
			Operation: op,
			Kind:      kind,
			Owner:     owner,
			EntryID:   res.Entry.ID,
			Buckets:   res.Buckets,
		})
	}
}

// normalize trims the fields; incomes carry no store.
func normalize(kind core.Kind, f core.EntryFields) core.EntryFields {
	f = f.Normalize()
	if kind == core.KindIncome {
		f.Store = ""
	}
	return f
}

func validateCall(kind core.Kind, owner string) error {
	if !kind.IsValid() {
		return fmt.Errorf("unknown entry kind %q", kind)
	}
	return core.ValidateOwner(owner)
}

// recompute sets the kind's total of b to the full sum of its entries.
func recompute(ctx context.Context, tx Tx, kind core.Kind, b core.MonthBucket) (core.MonthBucket, error) {
	total, err := tx.SumEntries(ctx, kind, b.ID)
	if err != nil {
		return core.MonthBucket{}, fmt.Errorf("sum %s entries of bucket %d: %w", kind, b.ID, err)
	}
	if err := tx.SetBucketTotal(ctx, b.ID, kind, total); err != nil {
		return core.MonthBucket{}, fmt.Errorf("persist %s total of bucket %d: %w", kind, b.ID, err)
	}
	return b.WithTotal(kind, total), nil
}

type monthKey = string

func keyOf(d core.Date) monthKey {
	return d.String()
}

// lockBuckets locks the distinct buckets for keys in ascending month order.
func lockBuckets(ctx context.Context, tx Tx, owner string, keys ...core.Date) (map[monthKey]core.MonthBucket, error) {
	distinct := make([]core.Date, 0, len(keys))
	seen := make(map[monthKey]struct{}, len(keys))
	for _, k := range keys {
		k = core.MonthStart(k)
		if _, ok := seen[keyOf(k)]; ok {
			continue
		}
		seen[keyOf(k)] = struct{}{}
		distinct = append(distinct, k)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i].Before(distinct[j]) })

	locked := make(map[monthKey]core.MonthBucket, len(distinct))
	for _, k := range distinct {
		b, err := tx.LockBucket(ctx, owner, k)
		if err != nil {
			return nil, fmt.Errorf("lock bucket %s: %w", k.MonthString(), err)
		}
		locked[keyOf(k)] = b
	}
	return locked, nil
}

func sortedBuckets(m map[monthKey]core.MonthBucket) []core.MonthBucket {
	out := make([]core.MonthBucket, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthKey.Before(out[j].MonthKey) })
	return out
}
