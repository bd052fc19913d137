package memory

import (
	"context"
	"errors"
	"testing"

	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/ledger/ledgertest"
)

func TestStoreSuite(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store { return New() })
}

func TestReadersDoNotSeeUncommittedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	month := core.NewDate(2025, 1, 1)

	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.LockBucket(ctx, "u1", month); err != nil {
			return err
		}
		if _, err := s.GetBucket(ctx, "u1", month); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("bucket visible before commit: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.GetBucket(ctx, "u1", month); err != nil {
		t.Fatalf("committed bucket must be visible: %v", err)
	}
}

func TestCancelledContextAbortsTx(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.WithinTx(ctx, func(ledger.Tx) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("expected cancellation before running fn, err=%v called=%v", err, called)
	}
}
