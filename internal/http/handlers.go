package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"finanse/internal/log"
)

// appMetrics counts ledger activity served over HTTP.
type appMetrics struct {
	uptime          time.Time
	entriesCreated  int64
	entriesUpdated  int64
	entriesDeleted  int64
	conflictReplies int64
}

func newAppMetrics() *appMetrics {
	return &appMetrics{uptime: time.Now()}
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	if err := s.ledger.Ping(ctx); err != nil {
		checks["store"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
		s.logger.WarnContext(ctx, "Readiness check failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
	} else {
		checks["store"] = "ok"
	}

	checks["rate_limiter"] = map[string]interface{}{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	NewJSONResponse().Status(httpStatus).Body(map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()

	created := atomic.LoadInt64(&s.appMetrics.entriesCreated)
	updated := atomic.LoadInt64(&s.appMetrics.entriesUpdated)
	deleted := atomic.LoadInt64(&s.appMetrics.entriesDeleted)
	conflicts := atomic.LoadInt64(&s.appMetrics.conflictReplies)
	uptime := time.Since(s.appMetrics.uptime)

	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP http_server_errors_total Responses with a 5xx status\n")
	fmt.Fprintf(w, "# TYPE http_server_errors_total counter\n")
	fmt.Fprintf(w, "http_server_errors_total %d\n\n", traceMetrics.ServerErrors)

	fmt.Fprintf(w, "# HELP http_response_time_avg_microseconds Average response time\n")
	fmt.Fprintf(w, "# TYPE http_response_time_avg_microseconds gauge\n")
	fmt.Fprintf(w, "http_response_time_avg_microseconds %d\n\n", traceMetrics.AverageResponseTime)

	fmt.Fprintf(w, "# HELP ledger_entries_total Entry mutations committed through the API\n")
	fmt.Fprintf(w, "# TYPE ledger_entries_total counter\n")
	fmt.Fprintf(w, "ledger_entries_total{operation=\"add\"} %d\n", created)
	fmt.Fprintf(w, "ledger_entries_total{operation=\"edit\"} %d\n", updated)
	fmt.Fprintf(w, "ledger_entries_total{operation=\"delete\"} %d\n\n", deleted)

	fmt.Fprintf(w, "# HELP ledger_conflicts_total Mutations answered with 503 after retries\n")
	fmt.Fprintf(w, "# TYPE ledger_conflicts_total counter\n")
	fmt.Fprintf(w, "ledger_conflicts_total %d\n\n", conflicts)

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitMetrics.TotalHits)

	fmt.Fprintf(w, "# HELP rate_limit_write_hits_total Writes rejected by the write budget\n")
	fmt.Fprintf(w, "# TYPE rate_limit_write_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_write_hits_total %d\n\n", rateLimitMetrics.WriteHits)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", securityMetrics.SuspiciousRequests)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", rateLimitMetrics.ClientCount)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n\n", uptime.Seconds())
}

// handleTaxonomy lists the accepted categories and sources.
func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	tax := s.ledger.Taxonomy()
	NewJSONResponse().Body(map[string][]string{
		"categories": tax.Categories(),
		"sources":    tax.Sources(),
	}).Write(w)
}
