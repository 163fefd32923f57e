package app

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Throttle limits RPC calls per client address with a token bucket. Buckets
// of clients that went quiet expire from a bounded cache.
type Throttle struct {
	limit      rate.Limit
	burst      int
	trustProxy bool

	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

func NewThrottle(perSecond float64, burst, cacheSize int, ttl time.Duration, trustProxy bool) *Throttle {
	if burst < 1 {
		burst = 1
	}
	if cacheSize < 1 {
		cacheSize = 1
	}
	return &Throttle{
		limit:      rate.Limit(perSecond),
		burst:      burst,
		trustProxy: trustProxy,
		clients:    expirable.NewLRU[string, *rate.Limiter](cacheSize, nil, ttl),
	}
}

// Allow reports whether r may proceed, and otherwise how long the client
// should wait.
func (t *Throttle) Allow(r *http.Request) (time.Duration, bool) {
	limiter := t.limiter(t.clientAddr(r))
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return time.Second, false
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return delay, false
	}
	return 0, true
}

func (t *Throttle) limiter(addr string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	limiter, ok := t.clients.Get(addr)
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.clients.Add(addr, limiter)
	}
	return limiter
}

func (t *Throttle) clientAddr(r *http.Request) string {
	if t.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}
