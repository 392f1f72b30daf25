package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/config"
)

// Rate limiting scopes: per source address and per wallet.
const (
	scopeIP   = "ip"
	scopeUser = "user"
)

type window struct {
	count int
	start time.Time
}

// RateLimiter enforces fixed-window request budgets, keyed by client IP
// and, when the wallet header is present, by wallet address. Windows are
// process-local; each replica enforces its own budget.
type RateLimiter struct {
	cfg          config.RateLimit
	walletHeader string
	now          func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewRateLimiter returns a limiter over |cfg|. |walletHeader| names the
// header carrying the wallet address for the per-user scope.
func NewRateLimiter(cfg config.RateLimit, walletHeader string) *RateLimiter {
	return &RateLimiter{
		cfg:          cfg,
		walletHeader: walletHeader,
		now:          time.Now,
		windows:      make(map[string]*window),
	}
}

// allow admits one request under |key|, starting a fresh window if the
// current one has elapsed. On denial it returns the remaining window.
func (l *RateLimiter) allow(key string, max int, length time.Duration) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var now = l.now()
	var w, ok = l.windows[key]
	if !ok || now.Sub(w.start) >= length {
		l.windows[key] = &window{count: 1, start: now}
		return 0, true
	}
	if w.count >= max {
		return length - now.Sub(w.start), false
	}
	w.count++
	return 0, true
}

func (l *RateLimiter) whitelisted(path string) bool {
	for _, p := range l.cfg.WhitelistPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Middleware gates requests on the IP budget and then the wallet budget.
// Requests whose client address cannot be determined pass with a warning
// rather than sharing one bucket.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.cfg.Enabled || l.whitelisted(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if ip := ClientIPFromRequest(r); ip == "" {
			log.WithFields(log.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Warn("cannot resolve client IP; skipping rate limit")
		} else if retryAfter, ok := l.allow(scopeIP+":"+ip, l.cfg.IPMaxRequests, l.cfg.IPWindow()); !ok {
			l.reject(w, scopeIP, retryAfter)
			return
		}

		if wallet := r.Header.Get(l.walletHeader); wallet != "" {
			if retryAfter, ok := l.allow(scopeUser+":"+wallet, l.cfg.UserMaxRequests, l.cfg.UserWindow()); !ok {
				l.reject(w, scopeUser, retryAfter)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) reject(w http.ResponseWriter, scope string, retryAfter time.Duration) {
	rateLimitedTotal.WithLabelValues(scope).Inc()
	var secs = int64(retryAfter.Seconds())
	if secs < 0 {
		secs = 0
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeError(w, http.StatusTooManyRequests, codeRateLimited, strconv.FormatInt(secs, 10)+"s")
}
