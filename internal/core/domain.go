package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"

	MaxOwnerLength = 64
	MaxTitleLength = 255
	MaxLabelLength = 100
	MaxStoreLength = 255
)

type (
	// Kind selects which side of a bucket an entry counts towards.
	Kind string

	Date struct {
		time.Time
	}

	// MonthBucket is one owner's summary for one calendar month.
	MonthBucket struct {
		ID           int64
		Owner        string
		MonthKey     Date
		TotalIncome  Money
		TotalExpense Money
	}

	// Entry is the storage-neutral row shared by expenses and incomes.
	// Label holds the category for expenses and the source for incomes.
	Entry struct {
		ID       int64
		Owner    string
		Kind     Kind
		Date     Date
		Title    string
		Amount   Money
		Label    string
		Store    string
		BucketID int64
	}

	// EntryFields are the user-editable fields of an entry.
	EntryFields struct {
		Date   Date
		Title  string
		Amount Money
		Label  string
		Store  string
	}

	Expense struct {
		ID       int64  `json:"id"`
		Owner    string `json:"owner"`
		Date     Date   `json:"date"`
		Title    string `json:"title"`
		Cost     Money  `json:"cost"`
		Category string `json:"category"`
		Store    string `json:"store,omitempty"`
		BucketID int64  `json:"bucket_id"`
	}

	Income struct {
		ID       int64  `json:"id"`
		Owner    string `json:"owner"`
		Date     Date   `json:"date"`
		Title    string `json:"title"`
		Amount   Money  `json:"amount"`
		Source   string `json:"source"`
		BucketID int64  `json:"bucket_id"`
	}
)

func (k Kind) IsValid() bool {
	return k == KindExpense || k == KindIncome
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts "expense"/"expenses" and "income"/"incomes".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expense", "expenses":
		return KindExpense, nil
	case "income", "incomes":
		return KindIncome, nil
	default:
		return "", fmt.Errorf("unknown entry kind %q", s)
	}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// ParseMonth parses a YYYY-MM month and returns its month key.
func ParseMonth(s string) (Date, error) {
	t, err := time.Parse(monthLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// MonthStart returns the month key of d: the same date with the day set to 1.
func MonthStart(d Date) Date {
	return NewDate(d.Year(), int(d.Month()), 1)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: zero date", ErrInvalidDate)
	}
	return nil
}

// MonthKey returns the bucket key of the date.
func (d Date) MonthKey() Date {
	return MonthStart(d)
}

// DaysInMonth returns the number of days of d's month.
func (d Date) DaysInMonth() int {
	return NewDate(d.Year(), int(d.Month())+1, 0).Day()
}

// AddMonths shifts a month key by n months.
func (d Date) AddMonths(n int) Date {
	return NewDate(d.Year(), int(d.Month())+n, 1)
}

func (d Date) Equal(o Date) bool {
	return d.Time.Equal(o.Time)
}

func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time)
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// MonthString renders the month as YYYY-MM.
func (d Date) MonthString() string {
	return d.Format(monthLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ValidateOwner checks the owner identity threaded through every call.
func ValidateOwner(owner string) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return ErrInvalidOwner
	}
	if utf8.RuneCountInString(owner) > MaxOwnerLength {
		return ErrInvalidOwner
	}
	return nil
}

// Normalize trims whitespace on the free-text fields.
func (f EntryFields) Normalize() EntryFields {
	f.Title = strings.TrimSpace(f.Title)
	f.Label = strings.TrimSpace(f.Label)
	f.Store = strings.TrimSpace(f.Store)
	return f
}

// Validate checks field shape. Label membership is checked against a Taxonomy by the caller.
func (f EntryFields) Validate() error {
	if err := f.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(f.Title) == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(f.Title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if err := f.Amount.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(f.Label) > MaxLabelLength {
		return ErrLabelTooLong
	}
	if utf8.RuneCountInString(f.Store) > MaxStoreLength {
		return ErrStoreTooLong
	}
	return nil
}

// Fields returns the editable part of the entry.
func (e Entry) Fields() EntryFields {
	return EntryFields{Date: e.Date, Title: e.Title, Amount: e.Amount, Label: e.Label, Store: e.Store}
}

// WithFields returns a copy of e carrying f.
func (e Entry) WithFields(f EntryFields) Entry {
	e.Date = f.Date
	e.Title = f.Title
	e.Amount = f.Amount
	e.Label = f.Label
	e.Store = f.Store
	return e
}

func (e Entry) Expense() Expense {
	return Expense{
		ID:       e.ID,
		Owner:    e.Owner,
		Date:     e.Date,
		Title:    e.Title,
		Cost:     e.Amount,
		Category: e.Label,
		Store:    e.Store,
		BucketID: e.BucketID,
	}
}

func (e Entry) Income() Income {
	return Income{
		ID:       e.ID,
		Owner:    e.Owner,
		Date:     e.Date,
		Title:    e.Title,
		Amount:   e.Amount,
		Source:   e.Label,
		BucketID: e.BucketID,
	}
}

// Total returns the bucket total for kind.
func (b MonthBucket) Total(kind Kind) Money {
	if kind == KindIncome {
		return b.TotalIncome
	}
	return b.TotalExpense
}

// WithTotal returns a copy of b with the total for kind replaced.
func (b MonthBucket) WithTotal(kind Kind, total Money) MonthBucket {
	if kind == KindIncome {
		b.TotalIncome = total
	} else {
		b.TotalExpense = total
	}
	return b
}

// Balance is income minus expense.
func (b MonthBucket) Balance() Money {
	return b.TotalIncome.Sub(b.TotalExpense)
}

func (b MonthBucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID           int64  `json:"id"`
		Owner        string `json:"owner"`
		Month        string `json:"month"`
		MonthKey     Date   `json:"month_key"`
		TotalIncome  Money  `json:"total_income"`
		TotalExpense Money  `json:"total_expense"`
		Balance      Money  `json:"balance"`
	}{
		ID:           b.ID,
		Owner:        b.Owner,
		Month:        b.MonthKey.MonthString(),
		MonthKey:     b.MonthKey,
		TotalIncome:  b.TotalIncome,
		TotalExpense: b.TotalExpense,
		Balance:      b.Balance(),
	})
}
