package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/ledger/ledgertest"
	"finanse/internal/log"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "data", "ledger.db"), log.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreSuite(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store { return newTestStore(t) })
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	for i := 0; i < 2; i++ {
		version, err := RunMigrations(DSN(path))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if version != 1 {
			t.Fatalf("expected schema version 1, got %d", version)
		}
	}
}

func TestBucketUniquenessIsEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx, `INSERT INTO month_buckets (owner_id, month_key) VALUES ('u1', '2025-06-01')`); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO month_buckets (owner_id, month_key) VALUES ('u1', '2025-06-01')`); err == nil {
		t.Fatalf("expected unique constraint violation")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO month_buckets (owner_id, month_key) VALUES ('u1', '2025-06-15')`); err == nil {
		t.Fatalf("expected month key check violation")
	}
}

func TestEntriesRequireExistingBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.InsertEntry(ctx, core.Entry{
			Owner: "u1", Kind: core.KindExpense, Date: core.NewDate(2025, 1, 1),
			Title: "x", Amount: core.MustMoney("1"), Label: "Inne", BucketID: 999,
		})
		return err
	})
	if err == nil {
		t.Fatalf("expected foreign key violation")
	}
}

func TestStoredAmountsAreCents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := ledger.NewEngine(s, ledger.WithLogger(log.Discard()))

	res, err := e.Add(ctx, core.KindExpense, "u1", core.EntryFields{
		Date: core.NewDate(2025, 3, 3), Title: "Coffee", Amount: core.MustMoney("0.10"), Label: "Jedzenie", Store: "Cafe",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	var cents int64
	var store string
	if err := s.db.QueryRowContext(ctx, `SELECT cost_cents, store FROM expenses WHERE id = ?`, res.Entry.ID).Scan(&cents, &store); err != nil {
		t.Fatalf("query: %v", err)
	}
	if cents != 10 || store != "Cafe" {
		t.Fatalf("unexpected row cents=%d store=%q", cents, store)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT total_expense_cents FROM month_buckets WHERE id = ?`, res.Entry.BucketID).Scan(&total); err != nil {
		t.Fatalf("query bucket: %v", err)
	}
	if total != 10 {
		t.Fatalf("expected 10 cents, got %d", total)
	}
}

func TestClassify(t *testing.T) {
	if err := classify("op", nil); err != nil {
		t.Fatalf("expected nil")
	}
	err := classify("load bucket", sql.ErrConnDone)
	if errors.Is(err, core.ErrRetryable) {
		t.Fatalf("generic errors must not be retryable")
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("expected wrapped cause")
	}
}
