package kit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// IPRateLimiter allows limit requests per client IP in any sliding window
// of the configured length. Callers over the limit get 429 with a
// Retry-After hint.
type IPRateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*hitLog
	seen    int
}

type hitLog struct {
	at []time.Time
}

// evictEvery bounds how many requests pass between sweeps of idle clients.
const evictEvery = 256

func NewIPRateLimiter(limit int, window time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*hitLog),
	}
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wait, ok := l.allow(ClientIP(r))
		if !ok {
			secs := int((wait + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			WriteError(w, r, http.StatusTooManyRequests, "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow records a hit for key unless it is over the limit, in which case it
// returns how long until the oldest hit expires.
func (l *IPRateLimiter) allow(key string) (time.Duration, bool) {
	now := l.now()
	since := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seen++
	if l.seen%evictEvery == 0 {
		l.evict(since)
	}

	h := l.clients[key]
	if h == nil {
		h = &hitLog{}
		l.clients[key] = h
	}
	h.expire(since)

	if len(h.at) >= l.limit {
		return h.at[0].Sub(since), false
	}
	h.at = append(h.at, now)
	return 0, true
}

func (l *IPRateLimiter) evict(since time.Time) {
	for key, h := range l.clients {
		h.expire(since)
		if len(h.at) == 0 {
			delete(l.clients, key)
		}
	}
}

// expire drops hits at or before since. Hits are kept in arrival order.
func (h *hitLog) expire(since time.Time) {
	i := 0
	for i < len(h.at) && !h.at[i].After(since) {
		i++
	}
	h.at = h.at[i:]
}

// ClientIP prefers the first X-Forwarded-For hop over the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
