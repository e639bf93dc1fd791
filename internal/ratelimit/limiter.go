// Package ratelimit implements fixed-window per-client admission control.
// Requests are counted per (client, minute) bucket; a client may burst up to
// twice the ceiling across a bucket boundary, which is accepted in exchange
// for O(1) bookkeeping.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type bucketKey struct {
	client string
	minute int64
}

// Limiter counts requests per client per minute bucket.
type Limiter struct {
	limit int

	mu      sync.Mutex
	buckets map[bucketKey]int
	now     func() time.Time
}

// New creates a limiter with the given per-minute request ceiling.
func New(requestsPerMinute int) *Limiter {
	return &Limiter{
		limit:   requestsPerMinute,
		buckets: make(map[bucketKey]int),
		now:     time.Now,
	}
}

// Admit decides whether the client may proceed. A rejected request is not
// counted, so the bucket count never exceeds the ceiling. Buckets older than
// the previous minute are pruned opportunistically on each call.
func (l *Limiter) Admit(client string) bool {
	minute := l.now().Unix() / 60

	l.mu.Lock()
	defer l.mu.Unlock()

	for k := range l.buckets {
		if k.minute < minute-1 {
			delete(l.buckets, k)
		}
	}

	key := bucketKey{client: client, minute: minute}
	if l.buckets[key] >= l.limit {
		return false
	}
	l.buckets[key]++
	return true
}

// Limit returns the configured per-minute ceiling.
func (l *Limiter) Limit() int { return l.limit }

// ClientID derives the rate-limit key from a request: the first entry of
// X-Forwarded-For when present, else X-Real-IP, else the direct peer address.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
