package http

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"finanse/internal/log"
	"finanse/internal/services"
)

// expenseInput reads an expense from a JSON or form body. A missing date
// means today.
func (s *Server) expenseInput(r *http.Request) (services.ExpenseInput, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return services.ExpenseInput{}, err
	}
	in := services.ExpenseInput{
		Date:     p.Get("date"),
		Title:    p.Get("title"),
		Category: p.Get("category"),
		Store:    p.Get("store"),
		Cost:     p.Get("cost"),
	}
	if in.Date == "" {
		in.Date = s.today().String()
	}
	return in, nil
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	in, err := s.expenseInput(r)
	if err != nil {
		s.writeError(w, r, log.OpAdd, err)
		return
	}

	exp, err := s.ledger.AddExpense(r.Context(), ownerFrom(r.Context()), in)
	if err != nil {
		s.writeError(w, r, log.OpAdd, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesCreated, 1)

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/expenses/"+strconv.FormatInt(exp.ID, 10)).
		Body(exp).
		Write(w)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	exp, err := s.ledger.GetExpense(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(exp).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, log.OpEdit, err)
		return
	}
	in, err := s.expenseInput(r)
	if err != nil {
		s.writeError(w, r, log.OpEdit, err)
		return
	}

	exp, err := s.ledger.EditExpense(r.Context(), ownerFrom(r.Context()), id, in)
	if err != nil {
		s.writeError(w, r, log.OpEdit, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesUpdated, 1)

	NewJSONResponse().Body(exp).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}

	if err := s.ledger.DeleteExpense(r.Context(), ownerFrom(r.Context()), id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesDeleted, 1)

	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleListExpenses lists expenses filtered by month, category and exact date,
// with the total of every match.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r, "category")
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}

	list, err := s.ledger.ListExpenses(r.Context(), ownerFrom(r.Context()), filter)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(list).Write(w)
}

// listFilter reads month, date, limit and the label query key shared by both listings.
func listFilter(r *http.Request, labelKey string) (services.ListFilter, error) {
	q := r.URL.Query()
	month, err := parseMonthQuery(q, "month")
	if err != nil {
		return services.ListFilter{}, err
	}
	date, err := parseDateQuery(q, "date")
	if err != nil {
		return services.ListFilter{}, err
	}
	limit, err := parseIntQuery(q, "limit", 0)
	if err != nil {
		return services.ListFilter{}, err
	}
	return services.ListFilter{
		Month: month,
		Date:  date,
		Label: sanitizeInput(q.Get(labelKey)),
		Limit: limit,
	}, nil
}
