package ledger

import (
	"context"

	"finanse/internal/core"
)

// Ports implemented by the storage adapters.
type (
	// Tx is one isolated write transaction. Lock methods hold their row lock until
	// the enclosing WithinTx returns.
	Tx interface {
		// LockBucket gets or creates the bucket for (owner, monthKey) and write-locks it.
		LockBucket(ctx context.Context, owner string, monthKey core.Date) (core.MonthBucket, error)
		// BucketByID reads a bucket without locking it.
		BucketByID(ctx context.Context, id int64) (core.MonthBucket, error)
		// EntryForUpdate loads and write-locks an entry; ErrNotFound when missing or owned by someone else.
		EntryForUpdate(ctx context.Context, kind core.Kind, owner string, id int64) (core.Entry, error)
		InsertEntry(ctx context.Context, e core.Entry) (core.Entry, error)
		UpdateEntry(ctx context.Context, e core.Entry) error
		DeleteEntry(ctx context.Context, kind core.Kind, owner string, id int64) error
		// SumEntries returns the exact sum of amounts of kind referencing the bucket; zero when empty.
		SumEntries(ctx context.Context, kind core.Kind, bucketID int64) (core.Money, error)
		SetBucketTotal(ctx context.Context, bucketID int64, kind core.Kind, total core.Money) error
	}

	// Reader holds the lock-free read side. Readers may see slightly stale but
	// never uncommitted data.
	Reader interface {
		GetBucket(ctx context.Context, owner string, monthKey core.Date) (core.MonthBucket, error)
		// ListBuckets returns buckets newest first; limit <= 0 means all.
		ListBuckets(ctx context.Context, owner string, limit int) ([]core.MonthBucket, error)
		GetEntry(ctx context.Context, kind core.Kind, owner string, id int64) (core.Entry, error)
		// ListEntries returns entries newest first.
		ListEntries(ctx context.Context, kind core.Kind, owner string, filter EntryFilter) ([]core.Entry, error)
		// SumByLabel groups a month's entries by label, largest sum first.
		SumByLabel(ctx context.Context, kind core.Kind, owner string, monthKey core.Date) ([]core.LabelAmount, error)
		// DailyTotals returns per-day sums for a month, ascending by date, only days with entries.
		DailyTotals(ctx context.Context, kind core.Kind, owner string, monthKey core.Date) ([]core.DayAmount, error)
		OwnerTotals(ctx context.Context, owner string) (core.OwnerTotals, error)
		// TopLabels groups all of an owner's entries by label, largest sum first.
		TopLabels(ctx context.Context, kind core.Kind, owner string, limit int) ([]core.LabelAmount, error)
	}

	// Store is a transactional ledger store.
	Store interface {
		Reader
		// WithinTx runs fn in one transaction, committing when fn returns nil.
		// Lock conflicts surface as errors matching core.ErrRetryable.
		WithinTx(ctx context.Context, fn func(tx Tx) error) error
		Ping(ctx context.Context) error
		Close() error
	}

	// Notifier receives the touched buckets after a successful commit.
	Notifier interface {
		BucketsChanged(ctx context.Context, change Change)
	}
)

// EntryFilter narrows ListEntries. Zero values mean no constraint.
type EntryFilter struct {
	Month core.Date
	Label string
	Date  core.Date
	Limit int
}

// Matches applies the filter to e. Used by stores that filter in memory.
func (f EntryFilter) Matches(e core.Entry) bool {
	if !f.Month.IsZero() && !core.MonthStart(e.Date).Equal(core.MonthStart(f.Month)) {
		return false
	}
	if f.Label != "" && e.Label != f.Label {
		return false
	}
	if !f.Date.IsZero() && !e.Date.Equal(f.Date) {
		return false
	}
	return true
}
