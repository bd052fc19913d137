// Package storage is the SQLite ledger store.
//
// SQLite has no row locks: write transactions start with BEGIN IMMEDIATE
// (_txlock=immediate), which takes the database write lock up front and holds
// it until commit. Every bucket and entry touched by a mutation is therefore
// locked for its whole duration, and concurrent writers queue on busy_timeout.
// Amounts are stored as integer cents so SUM is exact.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/log"
)

const (
	busyTimeout = 5 * time.Second
	dateLayout  = "2006-01-02"
)

type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

var _ ledger.Store = (*SQLiteStore)(nil)

// DSN builds the connection string used for both the store and its migrations.
func DSN(dbPath string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate",
		dbPath, busyTimeout.Milliseconds())
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and migrates it.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	version, err := RunMigrations(dsn)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.InfoContext(ctx, "SQLite store ready", "path", dbPath, "schema_version", version)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn inside a BEGIN IMMEDIATE transaction.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// classify marks SQLITE_BUSY and SQLITE_LOCKED as retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return core.NewRetryable(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// table maps an entry kind to its table and column names.
type table struct {
	name   string
	amount string
	label  string
	store  bool
}

func tableFor(kind core.Kind) (table, error) {
	switch kind {
	case core.KindExpense:
		return table{name: "expenses", amount: "cost_cents", label: "category", store: true}, nil
	case core.KindIncome:
		return table{name: "incomes", amount: "amount_cents", label: "source"}, nil
	default:
		return table{}, fmt.Errorf("unknown entry kind %q", kind)
	}
}

func (t table) columns() string {
	store := "''"
	if t.store {
		store = "store"
	}
	return fmt.Sprintf("id, owner_id, date, title, %s, %s, %s, bucket_id", t.amount, t.label, store)
}

func (t table) totalColumn() string {
	if t.name == "incomes" {
		return "total_income_cents"
	}
	return "total_expense_cents"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(kind core.Kind, row rowScanner) (core.Entry, error) {
	var (
		e     core.Entry
		date  string
		cents int64
	)
	if err := row.Scan(&e.ID, &e.Owner, &date, &e.Title, &cents, &e.Label, &e.Store, &e.BucketID); err != nil {
		return core.Entry{}, err
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return core.Entry{}, fmt.Errorf("stored date %q: %w", date, err)
	}
	e.Kind = kind
	e.Date = core.Date{Time: d}
	e.Amount = core.MoneyFromCents(cents)
	return e, nil
}

func scanBucket(row rowScanner) (core.MonthBucket, error) {
	var (
		b               core.MonthBucket
		key             string
		income, expense int64
	)
	if err := row.Scan(&b.ID, &b.Owner, &key, &income, &expense); err != nil {
		return core.MonthBucket{}, err
	}
	d, err := time.Parse(dateLayout, key)
	if err != nil {
		return core.MonthBucket{}, fmt.Errorf("stored month key %q: %w", key, err)
	}
	b.MonthKey = core.Date{Time: d}
	b.TotalIncome = core.MoneyFromCents(income)
	b.TotalExpense = core.MoneyFromCents(expense)
	return b, nil
}

const bucketColumns = "id, owner_id, month_key, total_income_cents, total_expense_cents"

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) LockBucket(ctx context.Context, owner string, monthKey core.Date) (core.MonthBucket, error) {
	key := core.MonthStart(monthKey).String()
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO month_buckets (owner_id, month_key) VALUES (?, ?)
		 ON CONFLICT (owner_id, month_key) DO NOTHING`, owner, key); err != nil {
		return core.MonthBucket{}, classify("create bucket", err)
	}
	b, err := scanBucket(t.tx.QueryRowContext(ctx,
		`SELECT `+bucketColumns+` FROM month_buckets WHERE owner_id = ? AND month_key = ?`, owner, key))
	if err != nil {
		return core.MonthBucket{}, classify("load bucket", err)
	}
	return b, nil
}

func (t *sqliteTx) BucketByID(ctx context.Context, id int64) (core.MonthBucket, error) {
	b, err := scanBucket(t.tx.QueryRowContext(ctx, `SELECT `+bucketColumns+` FROM month_buckets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthBucket{}, fmt.Errorf("bucket %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.MonthBucket{}, classify("load bucket", err)
	}
	return b, nil
}

func (t *sqliteTx) EntryForUpdate(ctx context.Context, kind core.Kind, owner string, id int64) (core.Entry, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return core.Entry{}, err
	}
	e, err := scanEntry(kind, t.tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND owner_id = ?`, tbl.columns(), tbl.name), id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	if err != nil {
		return core.Entry{}, classify("load entry", err)
	}
	return e, nil
}

func (t *sqliteTx) InsertEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	tbl, err := tableFor(e.Kind)
	if err != nil {
		return core.Entry{}, err
	}
	var res sql.Result
	if tbl.store {
		res, err = t.tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (owner_id, date, title, %s, %s, store, bucket_id) VALUES (?, ?, ?, ?, ?, ?, ?)`, tbl.name, tbl.amount, tbl.label),
			e.Owner, e.Date.String(), e.Title, e.Amount.Cents(), e.Label, e.Store, e.BucketID)
	} else {
		res, err = t.tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (owner_id, date, title, %s, %s, bucket_id) VALUES (?, ?, ?, ?, ?, ?)`, tbl.name, tbl.amount, tbl.label),
			e.Owner, e.Date.String(), e.Title, e.Amount.Cents(), e.Label, e.BucketID)
	}
	if err != nil {
		return core.Entry{}, classify("insert entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Entry{}, fmt.Errorf("read entry id: %w", err)
	}
	e.ID = id
	if !tbl.store {
		e.Store = ""
	}
	return e, nil
}

func (t *sqliteTx) UpdateEntry(ctx context.Context, e core.Entry) error {
	tbl, err := tableFor(e.Kind)
	if err != nil {
		return err
	}
	set := fmt.Sprintf("date = ?, title = ?, %s = ?, %s = ?, bucket_id = ?, updated_at = CURRENT_TIMESTAMP", tbl.amount, tbl.label)
	args := []any{e.Date.String(), e.Title, e.Amount.Cents(), e.Label, e.BucketID}
	if tbl.store {
		set += ", store = ?"
		args = append(args, e.Store)
	}
	args = append(args, e.ID, e.Owner)
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = ? AND owner_id = ?`, tbl.name, set), args...)
	if err != nil {
		return classify("update entry", err)
	}
	return requireOneRow(res, e.Kind, e.ID)
}

func (t *sqliteTx) DeleteEntry(ctx context.Context, kind core.Kind, owner string, id int64) error {
	tbl, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND owner_id = ?`, tbl.name), id, owner)
	if err != nil {
		return classify("delete entry", err)
	}
	return requireOneRow(res, kind, id)
}

func (t *sqliteTx) SumEntries(ctx context.Context, kind core.Kind, bucketID int64) (core.Money, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return core.Money{}, err
	}
	var cents int64
	if err := t.tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(SUM(%s), 0) FROM %s WHERE bucket_id = ?`, tbl.amount, tbl.name), bucketID).Scan(&cents); err != nil {
		return core.Money{}, classify("sum entries", err)
	}
	return core.MoneyFromCents(cents), nil
}

func (t *sqliteTx) SetBucketTotal(ctx context.Context, bucketID int64, kind core.Kind, total core.Money) error {
	tbl, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE month_buckets SET %s = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, tbl.totalColumn()),
		total.Cents(), bucketID)
	if err != nil {
		return classify("set bucket total", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("bucket %d: %w", bucketID, core.ErrNotFound)
	}
	return nil
}

func requireOneRow(res sql.Result, kind core.Kind, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetBucket(ctx context.Context, owner string, monthKey core.Date) (core.MonthBucket, error) {
	b, err := scanBucket(s.db.QueryRowContext(ctx,
		`SELECT `+bucketColumns+` FROM month_buckets WHERE owner_id = ? AND month_key = ?`,
		owner, core.MonthStart(monthKey).String()))
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthBucket{}, fmt.Errorf("bucket %s: %w", monthKey.MonthString(), core.ErrNotFound)
	}
	if err != nil {
		return core.MonthBucket{}, fmt.Errorf("get bucket: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) ListBuckets(ctx context.Context, owner string, limit int) ([]core.MonthBucket, error) {
	q := `SELECT ` + bucketColumns + ` FROM month_buckets WHERE owner_id = ? ORDER BY month_key DESC`
	args := []any{owner}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	out := make([]core.MonthBucket, 0)
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetEntry(ctx context.Context, kind core.Kind, owner string, id int64) (core.Entry, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return core.Entry{}, err
	}
	e, err := scanEntry(kind, s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND owner_id = ?`, tbl.columns(), tbl.name), id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, kind core.Kind, owner string, filter ledger.EntryFilter) ([]core.Entry, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	where := []string{"owner_id = ?"}
	args := []any{owner}
	if !filter.Month.IsZero() {
		start := core.MonthStart(filter.Month)
		where = append(where, "date >= ?", "date < ?")
		args = append(args, start.String(), start.AddMonths(1).String())
	}
	if filter.Label != "" {
		where = append(where, tbl.label+" = ?")
		args = append(args, filter.Label)
	}
	if !filter.Date.IsZero() {
		where = append(where, "date = ?")
		args = append(args, filter.Date.String())
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY date DESC, id DESC`, tbl.columns(), tbl.name, strings.Join(where, " AND "))
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", tbl.name, err)
	}
	defer rows.Close()

	out := make([]core.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SumByLabel(ctx context.Context, kind core.Kind, owner string, monthKey core.Date) ([]core.LabelAmount, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	start := core.MonthStart(monthKey)
	return s.labelAmounts(ctx, fmt.Sprintf(
		`SELECT %[2]s, SUM(%[1]s) AS total FROM %[3]s
		 WHERE owner_id = ? AND date >= ? AND date < ?
		 GROUP BY %[2]s ORDER BY total DESC, %[2]s ASC`, tbl.amount, tbl.label, tbl.name),
		owner, start.String(), start.AddMonths(1).String())
}

func (s *SQLiteStore) TopLabels(ctx context.Context, kind core.Kind, owner string, limit int) ([]core.LabelAmount, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(
		`SELECT %[2]s, SUM(%[1]s) AS total FROM %[3]s
		 WHERE owner_id = ?
		 GROUP BY %[2]s ORDER BY total DESC, %[2]s ASC`, tbl.amount, tbl.label, tbl.name)
	args := []any{owner}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.labelAmounts(ctx, q, args...)
}

func (s *SQLiteStore) labelAmounts(ctx context.Context, q string, args ...any) ([]core.LabelAmount, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("group by label: %w", err)
	}
	defer rows.Close()

	out := make([]core.LabelAmount, 0)
	for rows.Next() {
		var (
			label string
			cents int64
		)
		if err := rows.Scan(&label, &cents); err != nil {
			return nil, fmt.Errorf("scan label amount: %w", err)
		}
		out = append(out, core.LabelAmount{Label: label, Amount: core.MoneyFromCents(cents)})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DailyTotals(ctx context.Context, kind core.Kind, owner string, monthKey core.Date) ([]core.DayAmount, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	start := core.MonthStart(monthKey)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT date, SUM(%s) FROM %s
		 WHERE owner_id = ? AND date >= ? AND date < ?
		 GROUP BY date ORDER BY date ASC`, tbl.amount, tbl.name),
		owner, start.String(), start.AddMonths(1).String())
	if err != nil {
		return nil, fmt.Errorf("daily totals: %w", err)
	}
	defer rows.Close()

	out := make([]core.DayAmount, 0)
	for rows.Next() {
		var (
			date  string
			cents int64
		)
		if err := rows.Scan(&date, &cents); err != nil {
			return nil, fmt.Errorf("scan daily total: %w", err)
		}
		d, err := core.ParseDate(date)
		if err != nil {
			return nil, err
		}
		out = append(out, core.DayAmount{Date: d, Amount: core.MoneyFromCents(cents)})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) OwnerTotals(ctx context.Context, owner string) (core.OwnerTotals, error) {
	var income, expense int64
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COALESCE(SUM(amount_cents), 0) FROM incomes WHERE owner_id = ?),
		   (SELECT COALESCE(SUM(cost_cents), 0) FROM expenses WHERE owner_id = ?)`,
		owner, owner).Scan(&income, &expense)
	if err != nil {
		return core.OwnerTotals{}, fmt.Errorf("owner totals: %w", err)
	}
	return core.OwnerTotals{
		TotalIncome:  core.MoneyFromCents(income),
		TotalExpense: core.MoneyFromCents(expense),
		Balance:      core.MoneyFromCents(income - expense),
	}, nil
}
