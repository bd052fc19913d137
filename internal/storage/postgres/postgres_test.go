package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/ledger/ledgertest"
	"finanse/internal/log"
)

func TestNew_ConnectionFailure(t *testing.T) {
	cfg := Config{
		Host:     "127.0.0.1",
		Port:     1,
		Database: "finanse",
		User:     "finanse",
		Password: "password",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := New(ctx, cfg, log.Discard()); err == nil {
		t.Error("expected error when connecting to a closed port, got nil")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Host: "db", Database: "finanse", User: "u", Password: "p"}.withDefaults()
	if cfg.Port != 5432 || cfg.SSLMode != "disable" || cfg.MaxConns != 10 || cfg.LockTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	want := "host=db port=5432 user=u password=p dbname=finanse sslmode=disable"
	if got := cfg.ConnString(); got != want {
		t.Fatalf("ConnString() = %q, want %q", got, want)
	}
}

func TestClassify(t *testing.T) {
	for _, code := range []string{pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable} {
		err := classify("lock bucket", &pgconn.PgError{Code: code})
		if !errors.Is(err, core.ErrRetryable) {
			t.Errorf("code %s should be retryable", code)
		}
	}
	err := classify("insert entry", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})
	if errors.Is(err, core.ErrRetryable) {
		t.Errorf("foreign key violation must not be retryable")
	}
	if classify("op", nil) != nil {
		t.Errorf("nil must stay nil")
	}
}

// Integration tests run against a real database when TEST_POSTGRES_DSN is set.
func TestStoreSuite(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}

	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		ctx := context.Background()
		s, err := NewFromConnString(ctx, dsn, Config{MaxConns: 20, LockTimeout: 10 * time.Second}, log.Discard())
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		if _, err := s.pool.Exec(ctx, `TRUNCATE expenses, incomes, month_buckets RESTART IDENTITY`); err != nil {
			s.Close()
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestStoredAmountsAreCents(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	ctx := context.Background()
	s, err := NewFromConnString(ctx, dsn, Config{}, log.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	owner := fmt.Sprintf("cents-%d", time.Now().UnixNano())
	e := ledger.NewEngine(s, ledger.WithLogger(log.Discard()))
	res, err := e.Add(ctx, core.KindIncome, owner, core.EntryFields{
		Date: core.NewDate(2025, 2, 28), Title: "Pensja", Amount: core.MustMoney("1234.56"), Label: "Pensja",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	var cents int64
	if err := s.pool.QueryRow(ctx, `SELECT amount_cents FROM incomes WHERE id = $1`, res.Entry.ID).Scan(&cents); err != nil {
		t.Fatalf("query: %v", err)
	}
	if cents != 123456 {
		t.Fatalf("expected 123456 cents, got %d", cents)
	}
}
