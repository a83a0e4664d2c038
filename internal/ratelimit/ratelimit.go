// Package ratelimit provides the per-host accept limiter the daemon
// consults before spawning a session worker.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepInterval is how many Allow calls pass between idle-entry sweeps.
const sweepInterval = 512

// defaultIdleTTL evicts hosts not seen for this long.
const defaultIdleTTL = 10 * time.Minute

// Limiter applies a token bucket per remote host and periodically evicts
// idle entries so one-off scanners do not grow the map forever.
// A nil Limiter allows everything, which is what "rate limiting off" means.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     sync.Mutex
	byHost map[string]*bucket
	hits   uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a per-host limiter allowing a sustained rps with the given
// burst. Returns nil (limiter off) when rps or burst make no sense.
func New(rps float64, burst int, idleTTL time.Duration) *Limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byHost:  make(map[string]*bucket),
	}
}

// Allow reports whether host may open one more connection at now.
// Unknown or empty hosts are allowed; the caller already has a
// connection from somewhere and refusing "" would refuse everyone
// behind a transport that hides addresses.
func (l *Limiter) Allow(host string, now time.Time) bool {
	if l == nil {
		return true
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byHost[host]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(l.limit, l.burst),
		}
		l.byHost[host] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%sweepInterval == 0 {
		l.sweep(now)
	}

	return allowed
}

// Hosts returns how many hosts currently have buckets.
func (l *Limiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byHost)
}

// sweep drops buckets idle past the TTL. Caller holds the lock.
func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for host, b := range l.byHost {
		if b.lastSeen.Before(cutoff) {
			delete(l.byHost, host)
		}
	}
}
