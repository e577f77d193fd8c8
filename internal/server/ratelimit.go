package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RateClass caps requests per client IP on one group of routes: at most
// Limit admissions in any span of Period.
type RateClass struct {
	Name   string
	Limit  int
	Period time.Duration
}

// Default route classes.
var (
	ClassLogin         = RateClass{Name: "login", Limit: 5, Period: time.Minute}
	ClassVerify2FA     = RateClass{Name: "verify_2fa", Limit: 3, Period: time.Minute}
	ClassResetRequest  = RateClass{Name: "reset_request", Limit: 3, Period: time.Hour}
	ClassResetVerify   = RateClass{Name: "reset_verify", Limit: 5, Period: time.Hour}
	ClassResetComplete = RateClass{Name: "reset_complete", Limit: 3, Period: time.Hour}
)

const (
	windowCacheSize = 16384
	windowIdleTTL   = 2 * time.Hour
)

func (c RateClass) unlimited() bool {
	return c.Limit <= 0 || c.Period <= 0
}

// window is the admission log of one (class, ip), oldest first. It never
// holds more than Limit entries.
type window struct {
	hits []time.Time
}

func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	w.hits = w.hits[i:]
}

// RateLimiter keeps a sliding window per (class, ip). Windows live in an
// expirable LRU so the table stays bounded under address churn; every
// admission refreshes the entry's TTL.
type RateLimiter struct {
	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
	now     func() time.Time
}

// NewRateLimiter returns an empty limiter on the wall clock.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: expirable.NewLRU[string, *window](windowCacheSize, nil, windowIdleTTL),
		now:     time.Now,
	}
}

// Allow admits one request from ip. When the window is full it returns
// false and how long until the oldest admission leaves it.
func (l *RateLimiter) Allow(class RateClass, ip string) (bool, time.Duration) {
	if class.unlimited() {
		return true, 0
	}
	key := class.Name + "|" + ip
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows.Get(key)
	if !ok {
		w = &window{}
	}
	w.prune(now.Add(-class.Period))
	if len(w.hits) >= class.Limit {
		return false, w.hits[0].Add(class.Period).Sub(now)
	}
	w.hits = append(w.hits, now)
	l.windows.Add(key, w)
	return true, 0
}

// Middleware rejects requests over the class budget with 429 and
// Retry-After.
func (l *RateLimiter) Middleware(class RateClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Allow(class, clientIP(r))
			if !ok {
				metrics.RateLimited.WithLabelValues("route_" + class.Name).Inc()
				retry := int(math.Ceil(wait.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
