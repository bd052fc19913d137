// Package report builds read-only views over the ledger: breakdowns, month
// series, the month-end projection, the dashboard and the summary.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/log"
)

const (
	// MaxTrailingMonths bounds Trailing.
	MaxTrailingMonths = 36
	// SummaryMonths is the number of buckets shown by Summary.
	SummaryMonths = 6
	// TopCategories is the number of categories shown by Summary.
	TopCategories = 5
	// RecentEntries is the number of entries of each kind shown on the dashboard.
	RecentEntries = 5

	// Projection trimming: once more than trimAfterDays have elapsed, the top
	// trimPercent of daily values are discarded before averaging.
	trimAfterDays = 5
	trimPercent   = 15
)

// ErrInvalidMonths is returned when a trailing window is out of range.
var ErrInvalidMonths = fmt.Errorf("months must be between 1 and %d", MaxTrailingMonths)

type Reporter struct {
	store  ledger.Reader
	logger *log.Logger
}

func New(store ledger.Reader, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Reporter{store: store, logger: logger.WithComponent(log.ComponentReport)}
}

// Breakdown groups a month's entries of kind by category or source, largest first.
func (r *Reporter) Breakdown(ctx context.Context, kind core.Kind, owner string, month core.Date) ([]core.LabelAmount, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown entry kind %q", kind)
	}
	rows, err := r.store.SumByLabel(ctx, kind, owner, core.MonthStart(month))
	if err != nil {
		return nil, fmt.Errorf("breakdown: %w", err)
	}
	sortLabels(rows)
	return rows, nil
}

// Trailing returns n calendar months ending with end, oldest first. Months
// without a bucket are reported with zero totals.
func (r *Reporter) Trailing(ctx context.Context, owner string, end core.Date, n int) ([]core.MonthSeriesPoint, error) {
	if n < 1 || n > MaxTrailingMonths {
		return nil, ErrInvalidMonths
	}
	end = core.MonthStart(end)

	points := make([]core.MonthSeriesPoint, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		month := end.AddMonths(i - n + 1)
		g.Go(func() error {
			b, err := r.store.GetBucket(gctx, owner, month)
			switch {
			case errors.Is(err, core.ErrNotFound):
				b = core.MonthBucket{Owner: owner, MonthKey: month, TotalIncome: core.ZeroMoney(), TotalExpense: core.ZeroMoney()}
			case err != nil:
				return fmt.Errorf("bucket %s: %w", month.MonthString(), err)
			}
			points[i] = point(b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}

// Project estimates month-end spend for month from its per-day expense totals
// as of today. Days without entries count as zero spend.
func Project(month core.Date, daily []core.DayAmount, today core.Date) core.Projection {
	month = core.MonthStart(month)
	days := month.DaysInMonth()

	elapsed := 0
	switch {
	case today.Before(month):
		elapsed = 0
	case core.MonthStart(today).Equal(month):
		elapsed = today.Day()
	default:
		elapsed = days
	}

	values := make([]decimal.Decimal, elapsed)
	for i := range values {
		values[i] = decimal.Zero
	}
	spent := decimal.Zero
	for _, d := range daily {
		if !core.MonthStart(d.Date).Equal(month) {
			continue
		}
		day := d.Date.Day()
		if day > elapsed {
			continue
		}
		values[day-1] = values[day-1].Add(d.Amount.Amount)
		spent = spent.Add(d.Amount.Amount)
	}

	p := core.Projection{
		Month:         month,
		ElapsedDays:   elapsed,
		RemainingDays: days - elapsed,
		SpentToDate:   core.Money{Amount: spent},
		DailyMean:     core.ZeroMoney(),
		Projected:     core.Money{Amount: spent},
	}
	if elapsed == 0 {
		return p
	}

	kept := values
	if elapsed > trimAfterDays {
		trim := (elapsed*trimPercent + 99) / 100
		sort.Slice(kept, func(i, j int) bool { return kept[i].GreaterThan(kept[j]) })
		kept = kept[trim:]
		p.TrimmedDays = trim
	}

	sum := decimal.Zero
	for _, v := range kept {
		sum = sum.Add(v)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(kept))))

	p.DailyMean = core.Money{Amount: mean.Round(core.MoneyPlaces)}
	p.Projected = core.Money{Amount: spent.Add(mean.Mul(decimal.NewFromInt(int64(p.RemainingDays)))).Round(core.MoneyPlaces)}
	return p
}

// Dashboard assembles the view of today's month for owner. The month's bucket is
// not created when missing.
func (r *Reporter) Dashboard(ctx context.Context, owner string, today core.Date) (core.Dashboard, error) {
	month := core.MonthStart(today)

	var (
		bucket                 core.MonthBucket
		dailyExp, dailyInc     []core.DayAmount
		expByLabel, incByLabel []core.LabelAmount
		recentExp, recentInc   []core.Entry
	)
	recent := ledger.EntryFilter{Month: month, Limit: RecentEntries}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := r.store.GetBucket(gctx, owner, month)
		if errors.Is(err, core.ErrNotFound) {
			bucket = core.MonthBucket{Owner: owner, MonthKey: month, TotalIncome: core.ZeroMoney(), TotalExpense: core.ZeroMoney()}
			return nil
		}
		bucket = b
		return err
	})
	g.Go(func() (err error) {
		dailyExp, err = r.store.DailyTotals(gctx, core.KindExpense, owner, month)
		return err
	})
	g.Go(func() (err error) {
		dailyInc, err = r.store.DailyTotals(gctx, core.KindIncome, owner, month)
		return err
	})
	g.Go(func() (err error) {
		expByLabel, err = r.store.SumByLabel(gctx, core.KindExpense, owner, month)
		return err
	})
	g.Go(func() (err error) {
		incByLabel, err = r.store.SumByLabel(gctx, core.KindIncome, owner, month)
		return err
	})
	g.Go(func() (err error) {
		recentExp, err = r.store.ListEntries(gctx, core.KindExpense, owner, recent)
		return err
	})
	g.Go(func() (err error) {
		recentInc, err = r.store.ListEntries(gctx, core.KindIncome, owner, recent)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}

	sortLabels(expByLabel)
	sortLabels(incByLabel)

	d := core.Dashboard{
		Bucket:          bucket,
		DailyExpenses:   perDay(month, dailyExp),
		DailyIncomes:    perDay(month, dailyInc),
		ExpensesByLabel: expByLabel,
		IncomesByLabel:  incByLabel,
		RecentExpenses:  make([]core.Expense, 0, len(recentExp)),
		RecentIncomes:   make([]core.Income, 0, len(recentInc)),
		Projection:      Project(month, dailyExp, today),
	}
	for _, e := range recentExp {
		d.RecentExpenses = append(d.RecentExpenses, e.Expense())
	}
	for _, e := range recentInc {
		d.RecentIncomes = append(d.RecentIncomes, e.Income())
	}

	r.logger.DebugContext(ctx, "Dashboard built",
		log.FieldOwner, owner,
		log.FieldMonthKey, month.String(),
		"projected", d.Projection.Projected.String())
	return d, nil
}

// Summary returns the owner's latest buckets oldest first, all-time totals and
// the top expense categories.
func (r *Reporter) Summary(ctx context.Context, owner string) (core.Summary, error) {
	var (
		buckets []core.MonthBucket
		totals  core.OwnerTotals
		top     []core.LabelAmount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		buckets, err = r.store.ListBuckets(gctx, owner, SummaryMonths)
		return err
	})
	g.Go(func() (err error) {
		totals, err = r.store.OwnerTotals(gctx, owner)
		return err
	})
	g.Go(func() (err error) {
		top, err = r.store.TopLabels(gctx, core.KindExpense, owner, TopCategories)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Summary{}, fmt.Errorf("summary: %w", err)
	}

	months := make([]core.MonthSeriesPoint, len(buckets))
	for i, b := range buckets {
		months[len(buckets)-1-i] = point(b)
	}
	sortLabels(top)
	return core.Summary{Months: months, Totals: totals, TopCategories: top}, nil
}

func point(b core.MonthBucket) core.MonthSeriesPoint {
	return core.MonthSeriesPoint{
		Month:        b.MonthKey,
		TotalIncome:  b.TotalIncome,
		TotalExpense: b.TotalExpense,
		Balance:      b.Balance(),
	}
}

// perDay expands sparse per-day totals into one value per day of the month.
func perDay(month core.Date, daily []core.DayAmount) []core.Money {
	out := make([]core.Money, month.DaysInMonth())
	for i := range out {
		out[i] = core.ZeroMoney()
	}
	for _, d := range daily {
		if !core.MonthStart(d.Date).Equal(month) {
			continue
		}
		out[d.Date.Day()-1] = out[d.Date.Day()-1].Add(d.Amount)
	}
	return out
}

// sortLabels orders by amount descending, then label, so equal sums are stable
// across stores.
func sortLabels(rows []core.LabelAmount) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].Amount.Amount.Cmp(rows[j].Amount.Amount); c != 0 {
			return c > 0
		}
		return rows[i].Label < rows[j].Label
	})
}
