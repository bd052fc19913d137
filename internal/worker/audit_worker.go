// Package worker contains the background audit of bucket totals.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"finanse/internal/amqp"
	"finanse/internal/cache"
	"finanse/internal/core"
	"finanse/internal/ledger"
	"finanse/internal/log"
)

// Verifier re-sums a bucket and reports the stored and expected totals.
// *ledger.Engine implements it.
type Verifier interface {
	Verify(ctx context.Context, owner string, month core.Date) (ledger.Verification, error)
}

type Config struct {
	// Interval between sweeps of recently changed buckets.
	Interval time.Duration
	// Window is how long a changed bucket stays eligible for sweeps.
	Window time.Duration
	// MaxTracked bounds the set of remembered buckets.
	MaxTracked int
}

func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute, Window: 24 * time.Hour, MaxTracked: 1024}
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Checked int
	Drifted int
	Failed  int
}

type tracked struct {
	owner string
	month core.Date
}

// AuditWorker verifies bucket totals after changes are announced and on a
// periodic sweep. It only reads: drift is reported, never repaired.
type AuditWorker struct {
	verifier Verifier
	cfg      Config
	recent   *cache.LRUCache[tracked]
	logger   *log.Logger

	drifts atomic.Int64
}

func NewAuditWorker(verifier Verifier, cfg Config, logger *log.Logger) *AuditWorker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxTracked <= 0 {
		cfg.MaxTracked = def.MaxTracked
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AuditWorker{
		verifier: verifier,
		cfg:      cfg,
		recent:   cache.NewLRUCache[tracked](cfg.MaxTracked, cfg.Window),
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Drifts returns the number of inconsistent verifications seen so far.
func (w *AuditWorker) Drifts() int64 {
	return w.drifts.Load()
}

// Track remembers a bucket for the periodic sweep.
func (w *AuditWorker) Track(owner string, month core.Date) {
	month = core.MonthStart(month)
	w.recent.Set(cache.BucketKey(owner, month), tracked{owner: owner, month: month})
}

// HandleBucketEvent verifies the announced bucket. Lock conflicts are returned
// so the message is redelivered; a missing bucket is logged and dropped.
func (w *AuditWorker) HandleBucketEvent(ctx context.Context, msg *amqp.BucketEventMessage) error {
	w.Track(msg.Owner, msg.MonthKey)

	_, err := w.verify(ctx, msg.Owner, msg.MonthKey)
	if errors.Is(err, core.ErrNotFound) {
		w.logger.WarnContext(ctx, "Bucket from event not found",
			log.FieldOwner, msg.Owner,
			log.FieldMonthKey, msg.MonthKey.String(),
			log.FieldOperation, msg.Operation)
		return nil
	}
	return err
}

// Sweep verifies every tracked bucket once.
func (w *AuditWorker) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	for _, key := range w.recent.Keys() {
		if ctx.Err() != nil {
			break
		}
		t, ok := w.recent.Get(key)
		if !ok {
			continue
		}
		res.Checked++
		consistent, err := w.verify(ctx, t.owner, t.month)
		switch {
		case err != nil:
			res.Failed++
		case !consistent:
			res.Drifted++
		}
	}

	w.logger.InfoContext(ctx, "Audit sweep completed",
		"checked", res.Checked,
		"drifted", res.Drifted,
		"failed", res.Failed)
	return res
}

// Run sweeps every Interval until ctx is done.
func (w *AuditWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

func (w *AuditWorker) verify(ctx context.Context, owner string, month core.Date) (bool, error) {
	v, err := w.verifier.Verify(ctx, owner, month)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			w.logger.ErrorContext(ctx, "Bucket verification failed",
				log.FieldOwner, owner,
				log.FieldMonthKey, core.MonthStart(month).String(),
				log.FieldError, err)
		}
		return false, fmt.Errorf("verify %s %s: %w", owner, month.MonthString(), err)
	}

	if v.Consistent() {
		w.logger.DebugContext(ctx, "Bucket verified",
			log.FieldOwner, owner,
			log.FieldMonthKey, v.Bucket.MonthKey.String())
		return true, nil
	}

	w.drifts.Add(1)
	w.logger.ErrorContext(ctx, "Bucket totals drifted from entries",
		log.FieldOwner, owner,
		log.FieldMonthKey, v.Bucket.MonthKey.String(),
		log.FieldBucketID, v.Bucket.ID,
		log.FieldExpected, fmt.Sprintf("income=%s expense=%s", v.ExpectedIncome, v.ExpectedExpense),
		log.FieldActual, fmt.Sprintf("income=%s expense=%s", v.Bucket.TotalIncome, v.Bucket.TotalExpense))
	return false, nil
}
