package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"finanse/internal/core"
	"finanse/internal/log"
	"finanse/internal/report"
)

// HeaderOwnerID carries the authenticated owner, set by the upstream auth layer.
const HeaderOwnerID = "X-Owner-ID"

type ownerKey struct{}

// requireOwner rejects requests without a usable X-Owner-ID header.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(HeaderOwnerID))
		if err := core.ValidateOwner(owner); err != nil {
			UnauthorizedError("missing or invalid " + HeaderOwnerID).Write(w)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldOwner, owner))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ownerFrom returns the owner stored by requireOwner.
func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// errorResponse maps a service error onto a status code. Validation failures
// carry their message; store failures do not.
func errorResponse(err error) *JSONResponseBuilder {
	switch {
	case errors.Is(err, errBadRequest):
		return BadRequestError(err.Error())
	case core.IsValidation(err), errors.Is(err, report.ErrInvalidMonths):
		return UnprocessableEntityError(err.Error())
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError("not found")
	case errors.Is(err, core.ErrRetryable):
		return ServiceUnavailableError("conflicting update, try again")
	default:
		return InternalServerError("internal error")
	}
}

// writeError logs err with the request's logger and writes the mapped response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	resp := errorResponse(err)
	logger := log.FromContext(r.Context()).WithComponent(log.ComponentHTTP)

	switch code := resp.StatusCode(); {
	case code >= 500:
		errorType := log.ErrorTypeInternal
		if code == http.StatusServiceUnavailable {
			errorType = log.ErrorTypeConflict
			atomic.AddInt64(&s.appMetrics.conflictReplies, 1)
		}
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldOperation, operation,
			log.FieldError, err,
			log.FieldErrorType, errorType)
	case code == http.StatusNotFound:
		logger.DebugContext(r.Context(), "Resource not found",
			log.FieldOperation, operation,
			log.FieldError, err)
	default:
		logger.InfoContext(r.Context(), "Request rejected",
			log.FieldOperation, operation,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeValidation)
	}
	resp.Write(w)
}
