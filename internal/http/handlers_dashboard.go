package http

import (
	"fmt"
	"net/http"

	"finanse/internal/core"
	"finanse/internal/log"
)

// defaultTrailingMonths is the window of /api/reports/trailing without ?months.
const defaultTrailingMonths = 12

// monthOrCurrent reads ?month=YYYY-MM, defaulting to the current month.
func (s *Server) monthOrCurrent(r *http.Request) (core.Date, error) {
	month, err := parseMonthQuery(r.URL.Query(), "month")
	if err != nil {
		return core.Date{}, err
	}
	if month.IsZero() {
		return core.MonthStart(s.today()), nil
	}
	return month, nil
}

// handleListMonths lists the owner's buckets, newest first.
func (s *Server) handleListMonths(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntQuery(r.URL.Query(), "limit", 0)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}

	buckets, err := s.ledger.ListBuckets(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	if buckets == nil {
		buckets = []core.MonthBucket{}
	}
	NewJSONResponse().Body(map[string]interface{}{"months": buckets}).Write(w)
}

// handleGetMonth returns one bucket. A month without entries is 404; reading
// never creates a bucket.
func (s *Server) handleGetMonth(w http.ResponseWriter, r *http.Request) {
	month, err := core.ParseMonth(r.PathValue("month"))
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	b, found, err := s.ledger.GetBucket(r.Context(), ownerFrom(r.Context()), month)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	if !found {
		NotFoundError("no entries for " + month.MonthString()).Write(w)
		return
	}
	NewJSONResponse().Body(b).Write(w)
}

// handleDashboard builds the dashboard of ?month (default current). Past months
// are viewed as of their last day; future months are rejected.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	month, err := s.monthOrCurrent(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	today := s.today()
	current := core.MonthStart(today)
	asOf := today
	switch {
	case current.Before(month):
		s.writeError(w, r, log.OpRead, fmt.Errorf("%w: %s is in the future", core.ErrInvalidDate, month.MonthString()))
		return
	case month.Before(current):
		asOf = core.NewDate(month.Year(), int(month.Month()), month.DaysInMonth())
	}

	d, err := s.reports.Dashboard(r.Context(), ownerFrom(r.Context()), asOf)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(d).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reports.Summary(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(summary).Write(w)
}

// handleBreakdown groups a month's entries of ?kind (default expense) by label.
func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	kind := core.KindExpense
	if v := r.URL.Query().Get("kind"); v != "" {
		k, err := core.ParseKind(v)
		if err != nil {
			s.writeError(w, r, log.OpRead, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		kind = k
	}
	month, err := s.monthOrCurrent(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	rows, err := s.reports.Breakdown(r.Context(), kind, ownerFrom(r.Context()), month)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	if rows == nil {
		rows = []core.LabelAmount{}
	}

	total := core.ZeroMoney()
	for _, row := range rows {
		total = total.Add(row.Amount)
	}
	NewJSONResponse().Body(map[string]interface{}{
		"kind":  kind,
		"month": month.MonthString(),
		"rows":  rows,
		"total": total,
	}).Write(w)
}

// handleTrailing returns ?months (default 12) months ending with ?month.
func (s *Server) handleTrailing(w http.ResponseWriter, r *http.Request) {
	n, err := parseIntQuery(r.URL.Query(), "months", defaultTrailingMonths)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	end, err := s.monthOrCurrent(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	points, err := s.reports.Trailing(r.Context(), ownerFrom(r.Context()), end, n)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(map[string]interface{}{"months": points}).Write(w)
}
