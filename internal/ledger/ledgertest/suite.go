// Package ledgertest holds the behaviour every ledger.Store must share.
package ledgertest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/log"
)

// Factory returns an empty store; cleanup is registered on t.
type Factory func(t *testing.T) ledger.Store

// RunStoreSuite runs the engine and read-side scenarios against stores built by newStore.
func RunStoreSuite(t *testing.T, newStore Factory) {
	t.Run("AddEditDelete", func(t *testing.T) { testAddEditDelete(t, newStore(t)) })
	t.Run("MoveAcrossMonths", func(t *testing.T) { testMove(t, newStore(t)) })
	t.Run("OwnerIsolation", func(t *testing.T) { testOwnerIsolation(t, newStore(t)) })
	t.Run("ReadQueries", func(t *testing.T) { testReadQueries(t, newStore(t)) })
	t.Run("ConcurrentAdds", func(t *testing.T) { testConcurrentAdds(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
}

func engine(store ledger.Store) *ledger.Engine {
	return ledger.NewEngine(store, ledger.WithLogger(log.Discard()))
}

func entry(date core.Date, title, amount, label string) core.EntryFields {
	return core.EntryFields{Date: date, Title: title, Amount: core.MustMoney(amount), Label: label}
}

// RequireConsistent asserts the bucket sum invariant for every bucket of owner.
func RequireConsistent(t *testing.T, store ledger.Store, owner string) {
	t.Helper()
	ctx := context.Background()
	buckets, err := store.ListBuckets(ctx, owner, 0)
	require.NoError(t, err)

	e := engine(store)
	for _, b := range buckets {
		v, err := e.Verify(ctx, owner, b.MonthKey)
		require.NoError(t, err)
		require.Truef(t, v.Consistent(), "bucket %s: stored %s/%s, sums %s/%s",
			b.MonthKey.MonthString(), v.Bucket.TotalIncome, v.Bucket.TotalExpense, v.ExpectedIncome, v.ExpectedExpense)
	}
}

func totals(t *testing.T, store ledger.Store, owner string, month core.Date) (income, expense string) {
	t.Helper()
	b, err := store.GetBucket(context.Background(), owner, month)
	require.NoError(t, err)
	return b.TotalIncome.String(), b.TotalExpense.String()
}

func testAddEditDelete(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	e := engine(store)
	july := core.NewDate(2025, 7, 1)

	a, err := e.Add(ctx, core.KindExpense, "u1", entry(core.NewDate(2025, 7, 1), "A", "10.00", "Inne"))
	require.NoError(t, err)
	_, err = e.Add(ctx, core.KindExpense, "u1", entry(core.NewDate(2025, 7, 2), "B", "5.00", "Inne"))
	require.NoError(t, err)
	inc, err := e.Add(ctx, core.KindIncome, "u1", entry(core.NewDate(2025, 7, 25), "Salary", "3000", "Pensja"))
	require.NoError(t, err)

	income, expense := totals(t, store, "u1", july)
	assert.Equal(t, "3000.00", income)
	assert.Equal(t, "15.00", expense)

	stored, err := store.GetEntry(ctx, core.KindExpense, "u1", a.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", stored.Title)
	assert.Equal(t, "10.00", stored.Amount.String())
	assert.True(t, stored.Date.Equal(core.NewDate(2025, 7, 1)))

	_, err = e.Edit(ctx, core.KindIncome, "u1", inc.Entry.ID, entry(core.NewDate(2025, 7, 25), "Salary", "3100.50", "Pensja"))
	require.NoError(t, err)
	_, err = e.Delete(ctx, core.KindExpense, "u1", a.Entry.ID)
	require.NoError(t, err)

	income, expense = totals(t, store, "u1", july)
	assert.Equal(t, "3100.50", income)
	assert.Equal(t, "5.00", expense)

	_, err = store.GetEntry(ctx, core.KindExpense, "u1", a.Entry.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	RequireConsistent(t, store, "u1")
}

func testMove(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	e := engine(store)

	res, err := e.Add(ctx, core.KindExpense, "u1", entry(core.NewDate(2025, 5, 10), "Ticket", "100.00", "Transport"))
	require.NoError(t, err)
	_, expense := totals(t, store, "u1", core.NewDate(2025, 5, 1))
	assert.Equal(t, "100.00", expense)

	moved, err := e.Edit(ctx, core.KindExpense, "u1", res.Entry.ID, entry(core.NewDate(2025, 6, 2), "Ticket", "100", "Transport"))
	require.NoError(t, err)
	require.Len(t, moved.Buckets, 2)

	_, may := totals(t, store, "u1", core.NewDate(2025, 5, 1))
	_, june := totals(t, store, "u1", core.NewDate(2025, 6, 1))
	assert.Equal(t, "0.00", may)
	assert.Equal(t, "100.00", june)

	stored, err := store.GetEntry(ctx, core.KindExpense, "u1", res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, moved.Buckets[1].ID, stored.BucketID)
	RequireConsistent(t, store, "u1")
}

func testOwnerIsolation(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	e := engine(store)

	res, err := e.Add(ctx, core.KindExpense, "alice", entry(core.NewDate(2025, 2, 2), "Book", "40", "Edukacja"))
	require.NoError(t, err)
	_, err = e.Add(ctx, core.KindExpense, "bob", entry(core.NewDate(2025, 2, 3), "Bus", "3", "Transport"))
	require.NoError(t, err)

	_, err = e.Edit(ctx, core.KindExpense, "bob", res.Entry.ID, entry(core.NewDate(2025, 2, 2), "Mine", "1", "Inne"))
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = e.Delete(ctx, core.KindExpense, "bob", res.Entry.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.GetEntry(ctx, core.KindExpense, "bob", res.Entry.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, aliceExpense := totals(t, store, "alice", core.NewDate(2025, 2, 1))
	_, bobExpense := totals(t, store, "bob", core.NewDate(2025, 2, 1))
	assert.Equal(t, "40.00", aliceExpense)
	assert.Equal(t, "3.00", bobExpense)
}

func testReadQueries(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	e := engine(store)

	seed := []struct {
		kind core.Kind
		f    core.EntryFields
	}{
		{core.KindExpense, entry(core.NewDate(2025, 6, 1), "Bread", "4.50", "Jedzenie")},
		{core.KindExpense, entry(core.NewDate(2025, 6, 1), "Cheese", "10.00", "Jedzenie")},
		{core.KindExpense, entry(core.NewDate(2025, 6, 3), "Cinema", "30.00", "Rozrywka")},
		{core.KindExpense, entry(core.NewDate(2025, 5, 20), "Train", "50.00", "Transport")},
		{core.KindIncome, entry(core.NewDate(2025, 6, 10), "Salary", "5000", "Pensja")},
		{core.KindIncome, entry(core.NewDate(2025, 5, 10), "Salary", "5000", "Pensja")},
		{core.KindIncome, entry(core.NewDate(2025, 6, 12), "Gig", "700", "Freelance")},
	}
	for _, s := range seed {
		_, err := e.Add(ctx, s.kind, "u1", s.f)
		require.NoError(t, err)
	}

	buckets, err := store.ListBuckets(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "2025-06", buckets[0].MonthKey.MonthString())
	assert.Equal(t, "2025-05", buckets[1].MonthKey.MonthString())
	limited, err := store.ListBuckets(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	june := core.NewDate(2025, 6, 1)
	list, err := store.ListEntries(ctx, core.KindExpense, "u1", ledger.EntryFilter{Month: june})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Cinema", list[0].Title, "newest first")

	list, err = store.ListEntries(ctx, core.KindExpense, "u1", ledger.EntryFilter{Label: "Jedzenie"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	list, err = store.ListEntries(ctx, core.KindExpense, "u1", ledger.EntryFilter{Date: core.NewDate(2025, 5, 20)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Train", list[0].Title)
	list, err = store.ListEntries(ctx, core.KindExpense, "u1", ledger.EntryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	byLabel, err := store.SumByLabel(ctx, core.KindExpense, "u1", june)
	require.NoError(t, err)
	require.Len(t, byLabel, 2)
	assert.Equal(t, "Rozrywka", byLabel[0].Label)
	assert.Equal(t, "30.00", byLabel[0].Amount.String())
	assert.Equal(t, "14.50", byLabel[1].Amount.String())

	daily, err := store.DailyTotals(ctx, core.KindExpense, "u1", june)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, 1, daily[0].Date.Day())
	assert.Equal(t, "14.50", daily[0].Amount.String())
	assert.Equal(t, 3, daily[1].Date.Day())

	ot, err := store.OwnerTotals(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "10700.00", ot.TotalIncome.String())
	assert.Equal(t, "94.50", ot.TotalExpense.String())
	assert.Equal(t, "10605.50", ot.Balance.String())

	top, err := store.TopLabels(ctx, core.KindIncome, "u1", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Pensja", top[0].Label)
	assert.Equal(t, "10000.00", top[0].Amount.String())

	empty, err := store.OwnerTotals(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, empty.TotalIncome.IsZero())
	assert.True(t, empty.TotalExpense.IsZero())
}

func testConcurrentAdds(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	e := engine(store)

	var g errgroup.Group
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			_, err := e.Add(ctx, core.KindExpense, "u1", entry(core.NewDate(2025, 11, 1+i), fmt.Sprintf("e%d", i), "2.50", "Inne"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	buckets, err := store.ListBuckets(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "30.00", buckets[0].TotalExpense.String())
	RequireConsistent(t, store, "u1")
}

func testRollback(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	boom := fmt.Errorf("boom")

	err := store.WithinTx(ctx, func(tx ledger.Tx) error {
		b, err := tx.LockBucket(ctx, "u1", core.NewDate(2025, 1, 1))
		if err != nil {
			return err
		}
		if _, err := tx.InsertEntry(ctx, core.Entry{
			Owner: "u1", Kind: core.KindExpense, Date: core.NewDate(2025, 1, 5),
			Title: "x", Amount: core.MustMoney("1"), Label: "Inne", BucketID: b.ID,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetBucket(ctx, "u1", core.NewDate(2025, 1, 1))
	assert.ErrorIs(t, err, core.ErrNotFound)
	list, err := store.ListEntries(ctx, core.KindExpense, "u1", ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
