package http

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"finanse/internal/log"
	"finanse/internal/services"
)

// incomeInput reads an income from a JSON or form body. A missing date means today.
func (s *Server) incomeInput(r *http.Request) (services.IncomeInput, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return services.IncomeInput{}, err
	}
	in := services.IncomeInput{
		Date:   p.Get("date"),
		Title:  p.Get("title"),
		Source: p.Get("source"),
		Amount: p.Get("amount"),
	}
	if in.Date == "" {
		in.Date = s.today().String()
	}
	return in, nil
}

func (s *Server) handleCreateIncome(w http.ResponseWriter, r *http.Request) {
	in, err := s.incomeInput(r)
	if err != nil {
		s.writeError(w, r, log.OpAdd, err)
		return
	}

	inc, err := s.ledger.AddIncome(r.Context(), ownerFrom(r.Context()), in)
	if err != nil {
		s.writeError(w, r, log.OpAdd, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesCreated, 1)

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/incomes/"+strconv.FormatInt(inc.ID, 10)).
		Body(inc).
		Write(w)
}

func (s *Server) handleGetIncome(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}

	inc, err := s.ledger.GetIncome(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(inc).Write(w)
}

func (s *Server) handleUpdateIncome(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, log.OpEdit, err)
		return
	}
	in, err := s.incomeInput(r)
	if err != nil {
		s.writeError(w, r, log.OpEdit, err)
		return
	}

	inc, err := s.ledger.EditIncome(r.Context(), ownerFrom(r.Context()), id, in)
	if err != nil {
		s.writeError(w, r, log.OpEdit, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesUpdated, 1)

	NewJSONResponse().Body(inc).Write(w)
}

func (s *Server) handleDeleteIncome(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}

	if err := s.ledger.DeleteIncome(r.Context(), ownerFrom(r.Context()), id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesDeleted, 1)

	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleListIncomes(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r, "source")
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}

	list, err := s.ledger.ListIncomes(r.Context(), ownerFrom(r.Context()), filter)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(list).Write(w)
}
