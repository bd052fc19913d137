package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"finanse/internal/core"
	"finanse/internal/report"
)

func TestJSONResponseBuilder_Body(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/expenses/7").
		Body(map[string]string{"title": "Kawa"}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := w.Header().Get("Location"); got != "/api/expenses/7" {
		t.Errorf("Location = %q", got)
	}
	if w.Body.String() != "{\"title\":\"Kawa\"}\n" {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestJSONResponseBuilder_NoContent(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().Status(http.StatusNoContent).Body(map[string]int{"ignored": 1}).Write(w)

	if w.Code != http.StatusNoContent {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Body.Len() != 0 {
		t.Errorf("Body = %q, want empty", w.Body.String())
	}
	if w.Header().Get("Content-Type") != "" {
		t.Error("204 responses should not declare a content type")
	}
}

func TestJSONResponseBuilder_EncodingFailure(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().Body(map[string]interface{}{"bad": make(chan int)}).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		builder    *JSONResponseBuilder
		wantStatus int
		retryAfter string
	}{
		{"bad request", BadRequestError("x"), http.StatusBadRequest, ""},
		{"unauthorized", UnauthorizedError("x"), http.StatusUnauthorized, ""},
		{"not found", NotFoundError("x"), http.StatusNotFound, ""},
		{"unprocessable", UnprocessableEntityError("x"), http.StatusUnprocessableEntity, ""},
		{"too many requests", TooManyRequestsError("x"), http.StatusTooManyRequests, "60"},
		{"internal", InternalServerError("x"), http.StatusInternalServerError, ""},
		{"unavailable", ServiceUnavailableError("x"), http.StatusServiceUnavailable, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Body.String() != "{\"error\":\"x\"}\n" {
				t.Errorf("Body = %q", w.Body.String())
			}
			if got := w.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}

func TestErrorResponseMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"bad request", fmt.Errorf("%w: invalid id", errBadRequest), http.StatusBadRequest},
		{"invalid amount", fmt.Errorf("add expense: %w", core.ErrInvalidAmount), http.StatusUnprocessableEntity},
		{"invalid category", core.ErrInvalidCategory, http.StatusUnprocessableEntity},
		{"invalid months", report.ErrInvalidMonths, http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("edit expense 3: %w", core.ErrNotFound), http.StatusNotFound},
		{"retryable", core.NewRetryable("lock bucket", errors.New("deadlock")), http.StatusServiceUnavailable},
		{"store failure", errors.New("disk I/O error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorResponse(tt.err).StatusCode(); got != tt.wantStatus {
				t.Errorf("errorResponse(%v) = %d, want %d", tt.err, got, tt.wantStatus)
			}
		})
	}
}

func TestErrorResponseHidesStoreErrors(t *testing.T) {
	w := httptest.NewRecorder()
	errorResponse(errors.New("pq: password authentication failed")).Write(w)

	if w.Body.String() != "{\"error\":\"internal error\"}\n" {
		t.Errorf("Body = %q", w.Body.String())
	}
}
