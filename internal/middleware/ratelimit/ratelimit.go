package ratelimit

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter counts requests per client key in fixed one-minute windows. Writes
// have their own budget on top of the overall one because every write holds
// bucket locks for the length of its transaction.
type Limiter struct {
	mu           sync.Mutex
	windows      map[string]*window
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
	now          func() time.Time

	readHits  atomic.Int64
	writeHits atomic.Int64

	cfg Config
}

type window struct {
	start  time.Time
	last   time.Time
	total  int
	writes int
}

// Config holds rate limiter configuration
type Config struct {
	// RequestsPerMinute bounds all requests of a client.
	RequestsPerMinute int
	// WritesPerMinute bounds POST, PUT, PATCH and DELETE; zero means RequestsPerMinute.
	WritesPerMinute int
	CleanupInterval time.Duration
	// IdleTimeout is how long an unused client window is kept.
	IdleTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
		IdleTimeout:       10 * time.Minute,
	}
}

// NewLimiter creates a new rate limiter and starts its cleanup goroutine.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.WritesPerMinute <= 0 || config.WritesPerMinute > config.RequestsPerMinute {
		config.WritesPerMinute = config.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}

	rl := &Limiter{
		windows:     make(map[string]*window),
		stopCleanup: make(chan struct{}),
		now:         time.Now,
		cfg:         config,
	}
	go rl.startCleanup()
	return rl
}

// Allow records one request of key and reports whether it fits the budgets.
// Rejected requests still count against the window.
func (rl *Limiter) Allow(key string, write bool) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= time.Minute {
		w = &window{start: now}
		rl.windows[key] = w
	}
	w.last = now
	w.total++
	if write {
		w.writes++
	}

	switch {
	case w.total > rl.cfg.RequestsPerMinute:
		rl.readHits.Add(1)
		return false
	case write && w.writes > rl.cfg.WritesPerMinute:
		rl.writeHits.Add(1)
		return false
	}
	return true
}

func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries drops windows idle for longer than IdleTimeout.
func (rl *Limiter) cleanupStaleEntries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.cfg.IdleTimeout)
	removed := 0
	for key, w := range rl.windows {
		if w.last.Before(cutoff) {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// Stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Metrics for monitoring rate limit performance
type Metrics struct {
	TotalHits   int64
	WriteHits   int64
	ClientCount int64
}

// GetMetrics returns current rate limiting metrics
func (rl *Limiter) GetMetrics() Metrics {
	rl.mu.Lock()
	clientCount := int64(len(rl.windows))
	rl.mu.Unlock()

	writes := rl.writeHits.Load()
	return Metrics{
		TotalHits:   rl.readHits.Load() + writes,
		WriteHits:   writes,
		ClientCount: clientCount,
	}
}

// IsWrite reports whether method mutates ledger state.
func IsWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Middleware limits requests by the key returned from keyFn. onLimit writes the
// rejection; nil falls back to a plain 429.
func (rl *Limiter) Middleware(keyFn func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(keyFn(r), IsWrite(r.Method)) {
				w.Header().Set("Retry-After", "60")
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
