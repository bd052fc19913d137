package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/log"
)

// errDrift makes verify exit non-zero when any bucket disagrees with its entries.
var errDrift = errors.New("bucket totals drifted from their entries")

// app carries what the commands share. open is called once per invocation.
type app struct {
	out  io.Writer
	open func(ctx context.Context) (ledger.Store, func() error, *log.Logger, error)

	store   ledger.Store
	cleanup func() error
	engine  *ledger.Engine
	logger  *log.Logger

	owner string
	month string
}

// close releases the store opened by the pre-run hook. Run hooks after a
// failed RunE are skipped by cobra, so callers close explicitly.
func (a *app) close() error {
	if a.cleanup == nil {
		return nil
	}
	cleanup := a.cleanup
	a.cleanup = nil
	return cleanup()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "finanse-admin",
		Short:        "Maintenance commands for the finanse ledger.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := core.ValidateOwner(a.owner); err != nil {
				return fmt.Errorf("--owner: %w", err)
			}
			store, cleanup, logger, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			a.store, a.cleanup, a.logger = store, cleanup, logger
			a.engine = ledger.NewEngine(store, ledger.WithLogger(logger))
			return nil
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVar(&a.owner, "owner", "", "owner whose buckets are processed (required)")
	root.PersistentFlags().StringVar(&a.month, "month", "", "month as YYYY-MM; empty means every month of the owner")

	root.AddCommand(
		&cobra.Command{
			Use:   "recompute",
			Short: "Rebuild bucket totals from their entries",
			Args:  cobra.NoArgs,
			RunE:  a.runRecompute,
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Compare stored bucket totals with fresh sums without writing",
			Args:  cobra.NoArgs,
			RunE:  a.runVerify,
		},
		&cobra.Command{
			Use:   "months",
			Short: "List the owner's month buckets, newest first",
			Args:  cobra.NoArgs,
			RunE:  a.runMonths,
		},
	)
	return root
}

// months resolves --month into the buckets to process.
func (a *app) months(ctx context.Context) ([]core.Date, error) {
	if a.month != "" {
		m, err := core.ParseMonth(a.month)
		if err != nil {
			return nil, fmt.Errorf("--month: %w", err)
		}
		return []core.Date{m}, nil
	}

	buckets, err := a.store.ListBuckets(ctx, a.owner, 0)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	months := make([]core.Date, len(buckets))
	for i, b := range buckets {
		months[i] = b.MonthKey
	}
	return months, nil
}

func (a *app) runRecompute(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	months, err := a.months(ctx)
	if err != nil {
		return err
	}

	t := newTable(a.out, table.Row{"Month", "Income", "Expense", "Balance"})
	for _, m := range months {
		b, err := a.engine.Recompute(ctx, a.owner, m)
		if err != nil {
			return fmt.Errorf("recompute %s: %w", m.MonthString(), err)
		}
		a.logger.InfoContext(ctx, "Bucket recomputed",
			log.FieldOperation, log.OpRecompute,
			log.FieldOwner, a.owner,
			log.FieldMonthKey, m.String())
		t.AppendRow(table.Row{b.MonthKey.MonthString(), b.TotalIncome, b.TotalExpense, b.Balance()})
	}
	t.Render()
	return nil
}

func (a *app) runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	months, err := a.months(ctx)
	if err != nil {
		return err
	}

	t := newTable(a.out, table.Row{"Month", "Income", "Expected income", "Expense", "Expected expense", "Status"})
	drifted := 0
	for _, m := range months {
		v, err := a.engine.Verify(ctx, a.owner, m)
		if err != nil {
			return fmt.Errorf("verify %s: %w", m.MonthString(), err)
		}
		status := "ok"
		if !v.Consistent() {
			status = "DRIFT"
			drifted++
			a.logger.WarnContext(ctx, "Bucket drift detected",
				log.FieldOperation, log.OpVerify,
				log.FieldOwner, a.owner,
				log.FieldMonthKey, m.String(),
				log.FieldExpected, v.ExpectedExpense.String(),
				log.FieldActual, v.Bucket.TotalExpense.String())
		}
		t.AppendRow(table.Row{v.Bucket.MonthKey.MonthString(), v.Bucket.TotalIncome, v.ExpectedIncome,
			v.Bucket.TotalExpense, v.ExpectedExpense, status})
	}
	t.Render()

	if drifted > 0 {
		return fmt.Errorf("%w: %d of %d months", errDrift, drifted, len(months))
	}
	return nil
}

func (a *app) runMonths(cmd *cobra.Command, _ []string) error {
	buckets, err := a.store.ListBuckets(cmd.Context(), a.owner, 0)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}

	t := newTable(a.out, table.Row{"Month", "Income", "Expense", "Balance"})
	for _, b := range buckets {
		t.AppendRow(table.Row{b.MonthKey.MonthString(), b.TotalIncome, b.TotalExpense, b.Balance()})
	}
	t.AppendFooter(table.Row{"", "", "Months", len(buckets)})
	t.Render()
	return nil
}

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault

	configs := make([]table.ColumnConfig, 0, len(header)-1)
	for i := 2; i <= len(header); i++ {
		configs = append(configs, table.ColumnConfig{Number: i, Align: text.AlignRight})
	}
	t.SetColumnConfigs(configs)
	return t
}
