package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"finanse/internal/core"
	"finanse/internal/log"
	"finanse/internal/middleware/ratelimit"
	"finanse/internal/middleware/security"
	"finanse/internal/middleware/trace"
	"finanse/internal/report"
	"finanse/internal/services"
)

// Options tunes a Server. Zero values select the defaults.
type Options struct {
	Logger             *log.Logger
	RateLimitPerMinute int
	// WriteLimitPerMinute bounds mutating requests; zero means RateLimitPerMinute.
	WriteLimitPerMinute int
	// Now is the clock used for default dates and the dashboard month.
	Now func() time.Time
}

// Server is the JSON API over the ledger service and the reports.
type Server struct {
	http.Server
	ledger  *services.LedgerService
	reports *report.Reporter
	logger  *log.Logger
	now     func() time.Time

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, ledger *services.LedgerService, reports *report.Reporter, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	limits := ratelimit.Config{
		RequestsPerMinute: opts.RateLimitPerMinute,
		WritesPerMinute:   opts.WriteLimitPerMinute,
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		ledger:           ledger,
		reports:          reports,
		logger:           opts.Logger.WithComponent(log.ComponentHTTP),
		now:              opts.Now,
		rateLimiter:      ratelimit.NewLimiter(limits),
		securityDetector: security.NewDetector(opts.Logger),
		appMetrics:       newAppMetrics(),
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, opts.Logger)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/expenses", s.handleCreateExpense)
	api.HandleFunc("GET /api/expenses", s.handleListExpenses)
	api.HandleFunc("GET /api/expenses/{id}", s.handleGetExpense)
	api.HandleFunc("PUT /api/expenses/{id}", s.handleUpdateExpense)
	api.HandleFunc("DELETE /api/expenses/{id}", s.handleDeleteExpense)

	api.HandleFunc("POST /api/incomes", s.handleCreateIncome)
	api.HandleFunc("GET /api/incomes", s.handleListIncomes)
	api.HandleFunc("GET /api/incomes/{id}", s.handleGetIncome)
	api.HandleFunc("PUT /api/incomes/{id}", s.handleUpdateIncome)
	api.HandleFunc("DELETE /api/incomes/{id}", s.handleDeleteIncome)

	api.HandleFunc("GET /api/months", s.handleListMonths)
	api.HandleFunc("GET /api/months/{month}", s.handleGetMonth)
	api.HandleFunc("GET /api/dashboard", s.handleDashboard)
	api.HandleFunc("GET /api/reports/summary", s.handleSummary)
	api.HandleFunc("GET /api/reports/breakdown", s.handleBreakdown)
	api.HandleFunc("GET /api/reports/trailing", s.handleTrailing)
	api.HandleFunc("GET /api/taxonomy", s.handleTaxonomy)

	limited := s.rateLimiter.Middleware(s.rateLimitKey, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		TooManyRequestsError("rate limit exceeded").Write(w)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("/api/", limited(requireOwner(api)))

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)
	handler = s.securityDetector.Middleware(handler)
	s.Handler = handler

	return s
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// rateLimitKey budgets requests per owner, or per client address when the
// owner header is unusable.
func (s *Server) rateLimitKey(r *http.Request) string {
	owner := strings.TrimSpace(r.Header.Get(HeaderOwnerID))
	if core.ValidateOwner(owner) == nil {
		return "owner:" + owner
	}
	return "ip:" + s.securityDetector.ExtractClientIP(r)
}

func (s *Server) today() core.Date {
	return core.DateOf(s.now())
}
