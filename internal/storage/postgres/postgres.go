// Package postgres is the PostgreSQL ledger store.
//
// Mutations run in READ COMMITTED transactions and take row locks with
// SELECT ... FOR UPDATE. A per-transaction lock_timeout turns long waits into
// retryable errors, as do deadlocks and serialization failures.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds the PostgreSQL store configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxConns is the maximum number of connections in the pool.
	MaxConns int
	// LockTimeout bounds how long a write waits for a row lock.
	LockTimeout time.Duration
}

// ConnString renders the keyword/value connection string.
func (c Config) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = 5 * time.Second
	}
	return c
}

type Store struct {
	pool        *pgxpool.Pool
	logger      *log.Logger
	lockTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// New connects, migrates and returns a store.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	return NewFromConnString(ctx, cfg.ConnString(), cfg, logger)
}

// NewFromConnString is New with an explicit connection string; pool and lock
// settings still come from cfg.
func NewFromConnString(ctx context.Context, connStr string, cfg Config, logger *log.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentStorage)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	version, err := runMigrations(connStr)
	if err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.InfoContext(ctx, "Connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"schema_version", version)

	return &Store{pool: pool, logger: logger, lockTimeout: cfg.LockTimeout}, nil
}

func runMigrations(connStr string) (uint, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return 0, fmt.Errorf("open migration database: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return 0, fmt.Errorf("create pgx driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		driver.Close()
		return 0, fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		driver.Close()
		return 0, fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, err
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinTx runs fn in a READ COMMITTED transaction with a local lock_timeout.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classify("set lock_timeout", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

// classify marks lock timeouts, deadlocks and serialization failures as retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return core.NewRetryable(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

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
	store := "''::TEXT"
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

const bucketColumns = "id, owner_id, month_key, total_income_cents, total_expense_cents"

func scanEntry(kind core.Kind, row pgx.Row) (core.Entry, error) {
	var (
		e     core.Entry
		date  time.Time
		cents int64
	)
	if err := row.Scan(&e.ID, &e.Owner, &date, &e.Title, &cents, &e.Label, &e.Store, &e.BucketID); err != nil {
		return core.Entry{}, err
	}
	e.Kind = kind
	e.Date = core.DateOf(date)
	e.Amount = core.MoneyFromCents(cents)
	return e, nil
}

func scanBucket(row pgx.Row) (core.MonthBucket, error) {
	var (
		b               core.MonthBucket
		key             time.Time
		income, expense int64
	)
	if err := row.Scan(&b.ID, &b.Owner, &key, &income, &expense); err != nil {
		return core.MonthBucket{}, err
	}
	b.MonthKey = core.DateOf(key)
	b.TotalIncome = core.MoneyFromCents(income)
	b.TotalExpense = core.MoneyFromCents(expense)
	return b, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockBucket(ctx context.Context, owner string, monthKey core.Date) (core.MonthBucket, error) {
	key := core.MonthStart(monthKey).Time
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO month_buckets (owner_id, month_key) VALUES ($1, $2)
		 ON CONFLICT (owner_id, month_key) DO NOTHING`, owner, key); err != nil {
		return core.MonthBucket{}, classify("create bucket", err)
	}
	b, err := scanBucket(t.tx.QueryRow(ctx,
		`SELECT `+bucketColumns+` FROM month_buckets WHERE owner_id = $1 AND month_key = $2 FOR UPDATE`, owner, key))
	if err != nil {
		return core.MonthBucket{}, classify("lock bucket", err)
	}
	return b, nil
}

func (t *pgTx) BucketByID(ctx context.Context, id int64) (core.MonthBucket, error) {
	b, err := scanBucket(t.tx.QueryRow(ctx, `SELECT `+bucketColumns+` FROM month_buckets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.MonthBucket{}, fmt.Errorf("bucket %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.MonthBucket{}, classify("load bucket", err)
	}
	return b, nil
}

func (t *pgTx) EntryForUpdate(ctx context.Context, kind core.Kind, owner string, id int64) (core.Entry, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return core.Entry{}, err
	}
	e, err := scanEntry(kind, t.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND owner_id = $2 FOR UPDATE`, tbl.columns(), tbl.name), id, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	if err != nil {
		return core.Entry{}, classify("lock entry", err)
	}
	return e, nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	tbl, err := tableFor(e.Kind)
	if err != nil {
		return core.Entry{}, err
	}
	var row pgx.Row
	if tbl.store {
		row = t.tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO %s (owner_id, date, title, %s, %s, store, bucket_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`, tbl.name, tbl.amount, tbl.label),
			e.Owner, e.Date.Time, e.Title, e.Amount.Cents(), e.Label, e.Store, e.BucketID)
	} else {
		row = t.tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO %s (owner_id, date, title, %s, %s, bucket_id)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, tbl.name, tbl.amount, tbl.label),
			e.Owner, e.Date.Time, e.Title, e.Amount.Cents(), e.Label, e.BucketID)
		e.Store = ""
	}
	if err := row.Scan(&e.ID); err != nil {
		return core.Entry{}, classify("insert entry", err)
	}
	return e, nil
}

func (t *pgTx) UpdateEntry(ctx context.Context, e core.Entry) error {
	tbl, err := tableFor(e.Kind)
	if err != nil {
		return err
	}
	set := fmt.Sprintf("date = $3, title = $4, %s = $5, %s = $6, bucket_id = $7, updated_at = NOW()", tbl.amount, tbl.label)
	args := []any{e.ID, e.Owner, e.Date.Time, e.Title, e.Amount.Cents(), e.Label, e.BucketID}
	if tbl.store {
		set += ", store = $8"
		args = append(args, e.Store)
	}
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 AND owner_id = $2`, tbl.name, set), args...)
	if err != nil {
		return classify("update entry", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%s %d: %w", e.Kind, e.ID, core.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteEntry(ctx context.Context, kind core.Kind, owner string, id int64) error {
	tbl, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND owner_id = $2`, tbl.name), id, owner)
	if err != nil {
		return classify("delete entry", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	return nil
}

func (t *pgTx) SumEntries(ctx context.Context, kind core.Kind, bucketID int64) (core.Money, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return core.Money{}, err
	}
	var cents int64
	if err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT COALESCE(SUM(%s), 0)::BIGINT FROM %s WHERE bucket_id = $1`, tbl.amount, tbl.name),
		bucketID).Scan(&cents); err != nil {
		return core.Money{}, classify("sum entries", err)
	}
	return core.MoneyFromCents(cents), nil
}

func (t *pgTx) SetBucketTotal(ctx context.Context, bucketID int64, kind core.Kind, total core.Money) error {
	tbl, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		fmt.Sprintf(`UPDATE month_buckets SET %s = $1, updated_at = NOW() WHERE id = $2`, tbl.totalColumn()),
		total.Cents(), bucketID)
	if err != nil {
		return classify("set bucket total", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("bucket %d: %w", bucketID, core.ErrNotFound)
	}
	return nil
}

func (s *Store) GetBucket(ctx context.Context, owner string, monthKey core.Date) (core.MonthBucket, error) {
	b, err := scanBucket(s.pool.QueryRow(ctx,
		`SELECT `+bucketColumns+` FROM month_buckets WHERE owner_id = $1 AND month_key = $2`,
		owner, core.MonthStart(monthKey).Time))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.MonthBucket{}, fmt.Errorf("bucket %s: %w", monthKey.MonthString(), core.ErrNotFound)
	}
	if err != nil {
		return core.MonthBucket{}, fmt.Errorf("get bucket: %w", err)
	}
	return b, nil
}

func (s *Store) ListBuckets(ctx context.Context, owner string, limit int) ([]core.MonthBucket, error) {
	q := `SELECT ` + bucketColumns + ` FROM month_buckets WHERE owner_id = $1 ORDER BY month_key DESC`
	args := []any{owner}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
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

func (s *Store) GetEntry(ctx context.Context, kind core.Kind, owner string, id int64) (core.Entry, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return core.Entry{}, err
	}
	e, err := scanEntry(kind, s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND owner_id = $2`, tbl.columns(), tbl.name), id, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, kind core.Kind, owner string, filter ledger.EntryFilter) ([]core.Entry, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	args := []any{owner}
	where := []string{"owner_id = $1"}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.Month.IsZero() {
		start := core.MonthStart(filter.Month)
		where = append(where, "date >= "+arg(start.Time), "date < "+arg(start.AddMonths(1).Time))
	}
	if filter.Label != "" {
		where = append(where, tbl.label+" = "+arg(filter.Label))
	}
	if !filter.Date.IsZero() {
		where = append(where, "date = "+arg(filter.Date.Time))
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY date DESC, id DESC`, tbl.columns(), tbl.name, strings.Join(where, " AND "))
	if filter.Limit > 0 {
		q += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
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

func (s *Store) SumByLabel(ctx context.Context, kind core.Kind, owner string, monthKey core.Date) ([]core.LabelAmount, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	start := core.MonthStart(monthKey)
	return s.labelAmounts(ctx, fmt.Sprintf(
		`SELECT %[2]s, SUM(%[1]s)::BIGINT AS total FROM %[3]s
		 WHERE owner_id = $1 AND date >= $2 AND date < $3
		 GROUP BY %[2]s ORDER BY total DESC, %[2]s ASC`, tbl.amount, tbl.label, tbl.name),
		owner, start.Time, start.AddMonths(1).Time)
}

func (s *Store) TopLabels(ctx context.Context, kind core.Kind, owner string, limit int) ([]core.LabelAmount, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(
		`SELECT %[2]s, SUM(%[1]s)::BIGINT AS total FROM %[3]s
		 WHERE owner_id = $1
		 GROUP BY %[2]s ORDER BY total DESC, %[2]s ASC`, tbl.amount, tbl.label, tbl.name)
	args := []any{owner}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.labelAmounts(ctx, q, args...)
}

func (s *Store) labelAmounts(ctx context.Context, q string, args ...any) ([]core.LabelAmount, error) {
	rows, err := s.pool.Query(ctx, q, args...)
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

func (s *Store) DailyTotals(ctx context.Context, kind core.Kind, owner string, monthKey core.Date) ([]core.DayAmount, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	start := core.MonthStart(monthKey)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT date, SUM(%s)::BIGINT FROM %s
		 WHERE owner_id = $1 AND date >= $2 AND date < $3
		 GROUP BY date ORDER BY date ASC`, tbl.amount, tbl.name),
		owner, start.Time, start.AddMonths(1).Time)
	if err != nil {
		return nil, fmt.Errorf("daily totals: %w", err)
	}
	defer rows.Close()

	out := make([]core.DayAmount, 0)
	for rows.Next() {
		var (
			date  time.Time
			cents int64
		)
		if err := rows.Scan(&date, &cents); err != nil {
			return nil, fmt.Errorf("scan daily total: %w", err)
		}
		out = append(out, core.DayAmount{Date: core.DateOf(date), Amount: core.MoneyFromCents(cents)})
	}
	return out, rows.Err()
}

func (s *Store) OwnerTotals(ctx context.Context, owner string) (core.OwnerTotals, error) {
	var income, expense int64
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COALESCE(SUM(amount_cents), 0)::BIGINT FROM incomes WHERE owner_id = $1),
		   (SELECT COALESCE(SUM(cost_cents), 0)::BIGINT FROM expenses WHERE owner_id = $1)`,
		owner).Scan(&income, &expense)
	if err != nil {
		return core.OwnerTotals{}, fmt.Errorf("owner totals: %w", err)
	}
	return core.OwnerTotals{
		TotalIncome:  core.MoneyFromCents(income),
		TotalExpense: core.MoneyFromCents(expense),
		Balance:      core.MoneyFromCents(income - expense),
	}, nil
}
