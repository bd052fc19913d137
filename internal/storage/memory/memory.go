// Package memory is an in-process ledger store.
//
// Writers are serialized by a single mutex and work on a private copy of the
// state that replaces the shared one on commit, so readers never observe a
// half-applied transaction.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"finanse/internal/core"
	"finanse/internal/ledger"
)

type state struct {
	buckets    map[int64]core.MonthBucket
	bucketKeys map[bucketKey]int64
	entries    map[core.Kind]map[int64]core.Entry
	nextBucket int64
	nextEntry  map[core.Kind]int64
}

type bucketKey struct {
	owner string
	month string
}

type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	cur     *state
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{cur: &state{
		buckets:    map[int64]core.MonthBucket{},
		bucketKeys: map[bucketKey]int64{},
		entries: map[core.Kind]map[int64]core.Entry{
			core.KindExpense: {},
			core.KindIncome:  {},
		},
		nextEntry: map[core.Kind]int64{},
	}}
}

func (s *state) clone() *state {
	c := &state{
		buckets:    make(map[int64]core.MonthBucket, len(s.buckets)),
		bucketKeys: make(map[bucketKey]int64, len(s.bucketKeys)),
		entries:    make(map[core.Kind]map[int64]core.Entry, len(s.entries)),
		nextBucket: s.nextBucket,
		nextEntry:  make(map[core.Kind]int64, len(s.nextEntry)),
	}
	for k, v := range s.buckets {
		c.buckets[k] = v
	}
	for k, v := range s.bucketKeys {
		c.bucketKeys[k] = v
	}
	for kind, rows := range s.entries {
		m := make(map[int64]core.Entry, len(rows))
		for id, e := range rows {
			m[id] = e
		}
		c.entries[kind] = m
	}
	for k, v := range s.nextEntry {
		c.nextEntry[k] = v
	}
	return c
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// WithinTx runs fn against a private copy and publishes it when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.snapshot().clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

type tx struct {
	st *state
}

func (t *tx) LockBucket(_ context.Context, owner string, monthKey core.Date) (core.MonthBucket, error) {
	key := bucketKey{owner: owner, month: core.MonthStart(monthKey).String()}
	if id, ok := t.st.bucketKeys[key]; ok {
		return t.st.buckets[id], nil
	}
	t.st.nextBucket++
	b := core.MonthBucket{
		ID:           t.st.nextBucket,
		Owner:        owner,
		MonthKey:     core.MonthStart(monthKey),
		TotalIncome:  core.ZeroMoney(),
		TotalExpense: core.ZeroMoney(),
	}
	t.st.buckets[b.ID] = b
	t.st.bucketKeys[key] = b.ID
	return b, nil
}

func (t *tx) BucketByID(_ context.Context, id int64) (core.MonthBucket, error) {
	b, ok := t.st.buckets[id]
	if !ok {
		return core.MonthBucket{}, fmt.Errorf("bucket %d: %w", id, core.ErrNotFound)
	}
	return b, nil
}

func (t *tx) EntryForUpdate(_ context.Context, kind core.Kind, owner string, id int64) (core.Entry, error) {
	e, ok := t.st.entries[kind][id]
	if !ok || e.Owner != owner {
		return core.Entry{}, fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	return e, nil
}

func (t *tx) InsertEntry(_ context.Context, e core.Entry) (core.Entry, error) {
	if _, ok := t.st.buckets[e.BucketID]; !ok {
		return core.Entry{}, fmt.Errorf("bucket %d: %w", e.BucketID, core.ErrNotFound)
	}
	t.st.nextEntry[e.Kind]++
	e.ID = t.st.nextEntry[e.Kind]
	t.st.entries[e.Kind][e.ID] = e
	return e, nil
}

func (t *tx) UpdateEntry(_ context.Context, e core.Entry) error {
	cur, ok := t.st.entries[e.Kind][e.ID]
	if !ok || cur.Owner != e.Owner {
		return fmt.Errorf("%s %d: %w", e.Kind, e.ID, core.ErrNotFound)
	}
	if _, ok := t.st.buckets[e.BucketID]; !ok {
		return fmt.Errorf("bucket %d: %w", e.BucketID, core.ErrNotFound)
	}
	t.st.entries[e.Kind][e.ID] = e
	return nil
}

func (t *tx) DeleteEntry(_ context.Context, kind core.Kind, owner string, id int64) error {
	cur, ok := t.st.entries[kind][id]
	if !ok || cur.Owner != owner {
		return fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	delete(t.st.entries[kind], id)
	return nil
}

func (t *tx) SumEntries(_ context.Context, kind core.Kind, bucketID int64) (core.Money, error) {
	total := core.ZeroMoney()
	for _, e := range t.st.entries[kind] {
		if e.BucketID == bucketID {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

func (t *tx) SetBucketTotal(_ context.Context, bucketID int64, kind core.Kind, total core.Money) error {
	b, ok := t.st.buckets[bucketID]
	if !ok {
		return fmt.Errorf("bucket %d: %w", bucketID, core.ErrNotFound)
	}
	t.st.buckets[bucketID] = b.WithTotal(kind, total)
	return nil
}

func (s *Store) GetBucket(_ context.Context, owner string, monthKey core.Date) (core.MonthBucket, error) {
	st := s.snapshot()
	id, ok := st.bucketKeys[bucketKey{owner: owner, month: core.MonthStart(monthKey).String()}]
	if !ok {
		return core.MonthBucket{}, fmt.Errorf("bucket %s: %w", monthKey.MonthString(), core.ErrNotFound)
	}
	return st.buckets[id], nil
}

func (s *Store) ListBuckets(_ context.Context, owner string, limit int) ([]core.MonthBucket, error) {
	st := s.snapshot()
	out := make([]core.MonthBucket, 0)
	for _, b := range st.buckets {
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].MonthKey.Before(out[i].MonthKey) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetEntry(_ context.Context, kind core.Kind, owner string, id int64) (core.Entry, error) {
	e, ok := s.snapshot().entries[kind][id]
	if !ok || e.Owner != owner {
		return core.Entry{}, fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	return e, nil
}

func (s *Store) ListEntries(_ context.Context, kind core.Kind, owner string, filter ledger.EntryFilter) ([]core.Entry, error) {
	out := make([]core.Entry, 0)
	for _, e := range s.snapshot().entries[kind] {
		if e.Owner == owner && filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[j].Date.Before(out[i].Date)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) SumByLabel(ctx context.Context, kind core.Kind, owner string, monthKey core.Date) ([]core.LabelAmount, error) {
	entries, err := s.ListEntries(ctx, kind, owner, ledger.EntryFilter{Month: monthKey})
	if err != nil {
		return nil, err
	}
	return groupByLabel(entries, 0), nil
}

func (s *Store) DailyTotals(ctx context.Context, kind core.Kind, owner string, monthKey core.Date) ([]core.DayAmount, error) {
	entries, err := s.ListEntries(ctx, kind, owner, ledger.EntryFilter{Month: monthKey})
	if err != nil {
		return nil, err
	}
	byDay := map[string]core.DayAmount{}
	for _, e := range entries {
		d := byDay[e.Date.String()]
		if d.Date.IsZero() {
			d = core.DayAmount{Date: e.Date, Amount: core.ZeroMoney()}
		}
		d.Amount = d.Amount.Add(e.Amount)
		byDay[e.Date.String()] = d
	}
	out := make([]core.DayAmount, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) OwnerTotals(_ context.Context, owner string) (core.OwnerTotals, error) {
	totals := core.OwnerTotals{TotalIncome: core.ZeroMoney(), TotalExpense: core.ZeroMoney()}
	st := s.snapshot()
	for _, e := range st.entries[core.KindIncome] {
		if e.Owner == owner {
			totals.TotalIncome = totals.TotalIncome.Add(e.Amount)
		}
	}
	for _, e := range st.entries[core.KindExpense] {
		if e.Owner == owner {
			totals.TotalExpense = totals.TotalExpense.Add(e.Amount)
		}
	}
	totals.Balance = totals.TotalIncome.Sub(totals.TotalExpense)
	return totals, nil
}

func (s *Store) TopLabels(ctx context.Context, kind core.Kind, owner string, limit int) ([]core.LabelAmount, error) {
	entries, err := s.ListEntries(ctx, kind, owner, ledger.EntryFilter{})
	if err != nil {
		return nil, err
	}
	return groupByLabel(entries, limit), nil
}

// groupByLabel sums entries per label, largest first, ties by label.
func groupByLabel(entries []core.Entry, limit int) []core.LabelAmount {
	sums := map[string]core.Money{}
	for _, e := range entries {
		cur, ok := sums[e.Label]
		if !ok {
			cur = core.ZeroMoney()
		}
		sums[e.Label] = cur.Add(e.Amount)
	}
	out := make([]core.LabelAmount, 0, len(sums))
	for label, amount := range sums {
		out = append(out, core.LabelAmount{Label: label, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Amount.Cmp(out[j].Amount.Amount); c != 0 {
			return c > 0
		}
		return out[i].Label < out[j].Label
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
