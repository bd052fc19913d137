package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/log"
	"finanse/internal/storage/memory"
)

func run(t *testing.T, store ledger.Store, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{
		out: &out,
		open: func(context.Context) (ledger.Store, func() error, *log.Logger, error) {
			return store, func() error { return nil }, log.Discard(), nil
		},
	}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.NoError(t, a.close())
	return out.String(), err
}

func seed(t *testing.T) (*memory.Store, core.Date) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	engine := ledger.NewEngine(store, ledger.WithLogger(log.Discard()))
	june := core.NewDate(2025, 6, 1)

	for _, amount := range []string{"10.00", "2.50"} {
		_, err := engine.Add(ctx, core.KindExpense, "u1", core.EntryFields{
			Date:   core.NewDate(2025, 6, 3),
			Title:  "Zakupy",
			Amount: core.MustMoney(amount),
			Label:  "Jedzenie",
		})
		require.NoError(t, err)
	}
	return store, june
}

// corrupt overwrites a stored total without touching the entries.
func corrupt(t *testing.T, store ledger.Store, month core.Date, total string) {
	t.Helper()
	ctx := context.Background()
	err := store.WithinTx(ctx, func(tx ledger.Tx) error {
		b, err := tx.LockBucket(ctx, "u1", month)
		if err != nil {
			return err
		}
		return tx.SetBucketTotal(ctx, b.ID, core.KindExpense, core.MustMoney(total))
	})
	require.NoError(t, err)
}

func TestVerifyAndRecompute(t *testing.T) {
	store, june := seed(t)

	out, err := run(t, store, "verify", "--owner", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-06")
	assert.Contains(t, out, "12.50")
	assert.NotContains(t, out, "DRIFT")

	corrupt(t, store, june, "99.00")

	out, err = run(t, store, "verify", "--owner", "u1", "--month", "2025-06")
	assert.ErrorIs(t, err, errDrift)
	assert.Contains(t, out, "DRIFT")
	assert.Contains(t, out, "99.00")

	out, err = run(t, store, "recompute", "--owner", "u1", "--month", "2025-06")
	require.NoError(t, err)
	assert.Contains(t, out, "12.50")

	b, err := store.GetBucket(context.Background(), "u1", june)
	require.NoError(t, err)
	assert.Equal(t, "12.50", b.TotalExpense.String())

	_, err = run(t, store, "verify", "--owner", "u1")
	assert.NoError(t, err)
}

func TestMonthsListsBuckets(t *testing.T) {
	store, _ := seed(t)

	out, err := run(t, store, "months", "--owner", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-06")
	assert.Contains(t, out, "-12.50")

	out, err = run(t, store, "months", "--owner", "someone-else")
	require.NoError(t, err)
	assert.NotContains(t, out, "2025-06")
}

func TestArgumentErrors(t *testing.T) {
	store, _ := seed(t)

	_, err := run(t, store, "verify")
	assert.ErrorIs(t, err, core.ErrInvalidOwner)

	_, err = run(t, store, "verify", "--owner", "u1", "--month", "June")
	assert.ErrorIs(t, err, core.ErrInvalidDate)

	_, err = run(t, store, "recompute", "--owner", "u1", "--month", "2024-01")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
