package core

import (
	"errors"
	"strings"
	"testing"
)

func TestMonthStart(t *testing.T) {
	cases := []struct {
		in   Date
		want Date
	}{
		{NewDate(2025, 5, 10), NewDate(2025, 5, 1)},
		{NewDate(2025, 5, 1), NewDate(2025, 5, 1)},
		{NewDate(2024, 2, 29), NewDate(2024, 2, 1)},
		{NewDate(2025, 12, 31), NewDate(2025, 12, 1)},
	}
	for i, tc := range cases {
		if got := MonthStart(tc.in); !got.Equal(tc.want) {
			t.Fatalf("case %d expected %s, got %s", i, tc.want, got)
		}
	}
}

func TestDateHelpers(t *testing.T) {
	if n := NewDate(2024, 2, 10).DaysInMonth(); n != 29 {
		t.Fatalf("expected 29 days, got %d", n)
	}
	if n := NewDate(2025, 4, 1).DaysInMonth(); n != 30 {
		t.Fatalf("expected 30 days, got %d", n)
	}
	if got := NewDate(2025, 1, 1).AddMonths(-1); !got.Equal(NewDate(2024, 12, 1)) {
		t.Fatalf("unexpected month %s", got)
	}
	if got := NewDate(2025, 11, 1).AddMonths(2); got.MonthString() != "2026-01" {
		t.Fatalf("unexpected month %s", got.MonthString())
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-06-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Equal(NewDate(2025, 6, 2)) {
		t.Fatalf("unexpected date %s", d)
	}
	for _, bad := range []string{"", "2025-13-01", "02/06/2025", "2025-02-30"} {
		if _, err := ParseDate(bad); !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("%q expected ErrInvalidDate, got %v", bad, err)
		}
	}
	m, err := ParseMonth("2025-06")
	if err != nil || !m.Equal(NewDate(2025, 6, 1)) {
		t.Fatalf("unexpected month %s (err=%v)", m, err)
	}
	if _, err := ParseMonth("June"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestEntryFieldsValidate(t *testing.T) {
	good := EntryFields{
		Date:   NewDate(2025, 1, 1),
		Title:  "Lunch",
		Amount: MustMoney("12.50"),
		Label:  "Jedzenie",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		mutate func(*EntryFields)
		want   error
	}{
		{func(f *EntryFields) { f.Date = Date{} }, ErrInvalidDate},
		{func(f *EntryFields) { f.Title = "  " }, ErrEmptyTitle},
		{func(f *EntryFields) { f.Title = strings.Repeat("a", MaxTitleLength+1) }, ErrTitleTooLong},
		{func(f *EntryFields) { f.Amount = ZeroMoney() }, ErrInvalidAmount},
		{func(f *EntryFields) { f.Amount = MoneyFromCents(-100) }, ErrInvalidAmount},
		{func(f *EntryFields) { f.Label = strings.Repeat("x", MaxLabelLength+1) }, ErrLabelTooLong},
		{func(f *EntryFields) { f.Store = strings.Repeat("s", MaxStoreLength+1) }, ErrStoreTooLong},
	}
	for i, tc := range cases {
		f := good
		tc.mutate(&f)
		if err := f.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
	}
}

func TestEntrySnapshots(t *testing.T) {
	e := Entry{
		ID: 7, Owner: "u1", Kind: KindExpense, Date: NewDate(2025, 5, 10),
		Title: "Ticket", Amount: MustMoney("100"), Label: "Transport", Store: "PKP", BucketID: 3,
	}
	exp := e.Expense()
	if exp.Cost.String() != "100.00" || exp.Category != "Transport" || exp.Store != "PKP" || exp.BucketID != 3 {
		t.Fatalf("unexpected expense snapshot %+v", exp)
	}
	inc := e.Income()
	if inc.Amount.String() != "100.00" || inc.Source != "Transport" {
		t.Fatalf("unexpected income snapshot %+v", inc)
	}
}

func TestBucketTotals(t *testing.T) {
	b := MonthBucket{MonthKey: NewDate(2025, 6, 1)}
	b = b.WithTotal(KindIncome, MustMoney("3000"))
	b = b.WithTotal(KindExpense, MustMoney("120.50"))
	if b.Total(KindIncome).String() != "3000.00" || b.Total(KindExpense).String() != "120.50" {
		t.Fatalf("unexpected totals %+v", b)
	}
	if b.Balance().String() != "2879.50" {
		t.Fatalf("unexpected balance %s", b.Balance())
	}
}

func TestValidateOwner(t *testing.T) {
	if err := ValidateOwner("user-1"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	for _, bad := range []string{"", "   ", strings.Repeat("o", MaxOwnerLength+1)} {
		if err := ValidateOwner(bad); !errors.Is(err, ErrInvalidOwner) {
			t.Fatalf("%q expected ErrInvalidOwner, got %v", bad, err)
		}
	}
}

func TestRetryableError(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := NewRetryable("lock bucket", cause)
	if !errors.Is(err, ErrRetryable) {
		t.Fatalf("expected ErrRetryable")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected to unwrap to cause")
	}
	if IsValidation(err) {
		t.Fatalf("retryable is not a validation error")
	}
	if !IsValidation(ErrInvalidCategory) {
		t.Fatalf("expected validation error")
	}
}

func TestTaxonomy(t *testing.T) {
	tx := DefaultTaxonomy()
	if got, err := tx.ResolveLabel(KindExpense, ""); err != nil || got != DefaultCategory {
		t.Fatalf("expected default category, got %q (err=%v)", got, err)
	}
	if got, err := tx.ResolveLabel(KindExpense, " Jedzenie "); err != nil || got != "Jedzenie" {
		t.Fatalf("unexpected %q (err=%v)", got, err)
	}
	if _, err := tx.ResolveLabel(KindExpense, "Pensja"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if _, err := tx.ResolveLabel(KindIncome, ""); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	if got, err := tx.ResolveLabel(KindIncome, "Zwrot podatku"); err != nil || got != "Zwrot podatku" {
		t.Fatalf("unexpected %q (err=%v)", got, err)
	}

	custom := NewTaxonomy([]string{"Food", "Food", " "}, nil)
	if len(custom.Categories()) != 1 {
		t.Fatalf("expected deduplicated categories, got %v", custom.Categories())
	}
	if _, err := custom.ResolveLabel(KindExpense, ""); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory without a default tag, got %v", err)
	}
	if len(custom.Labels(KindIncome)) != len(DefaultIncomeSources) {
		t.Fatalf("expected default sources")
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"expense": KindExpense, "Incomes": KindIncome} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("%q expected %s, got %s (err=%v)", in, want, got, err)
		}
	}
	if _, err := ParseKind("transfer"); err == nil {
		t.Fatalf("expected error")
	}
}
