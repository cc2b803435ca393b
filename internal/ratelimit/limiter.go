// Package ratelimit implements sliding-window admission control: at most N
// grants in any trailing window of W. It backs the per-source outbound
// request budget; token-bucket pacing (golang.org/x/time/rate) is used
// elsewhere for fixed inter-query delays, but the per-source budget needs
// the strict trailing-window guarantee a bucket does not give.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Limiter grants at most N acquisitions per sliding window of W.
type Limiter struct {
	n      int
	window time.Duration

	mu      sync.Mutex
	grants  []time.Time   // granted timestamps, oldest first
	pending chan struct{} // closed when the active wait timer fires
	nowFn   func() time.Time
}

// New creates a Limiter granting n acquisitions per window. It fails fast on
// a non-positive n or window.
func New(n int, window time.Duration) (*Limiter, error) {
	if n <= 0 {
		return nil, eris.Errorf("ratelimit: requests must be positive, got %d", n)
	}
	if window <= 0 {
		return nil, eris.Errorf("ratelimit: window must be positive, got %v", window)
	}
	return &Limiter{
		n:      n,
		window: window,
		nowFn:  time.Now,
	}, nil
}

// Acquire blocks until granting a request keeps the trailing window under
// the limit, then records the grant. Concurrent waiters share one timer:
// when it fires they all re-check the window. Returns the context error if
// ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.nowFn()
		l.prune(now)

		if len(l.grants) < l.n {
			l.grants = append(l.grants, now)
			l.mu.Unlock()
			return nil
		}

		// Window full: wait until the oldest grant slides out. Only one
		// timer is active at a time; every waiter re-evaluates on fire
		// because the window keeps sliding under concurrent grants.
		wait := l.window - now.Sub(l.grants[0])
		if l.pending == nil {
			ch := make(chan struct{})
			l.pending = ch
			go l.fireAfter(ch, wait)
		}
		ch := l.pending
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// prune drops grants older than the trailing window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

func (l *Limiter) fireAfter(ch chan struct{}, wait time.Duration) {
	if wait > 0 {
		time.Sleep(wait)
	}
	l.mu.Lock()
	if l.pending == ch {
		l.pending = nil
	}
	l.mu.Unlock()
	close(ch)
}

// Granted reports how many grants currently sit inside the trailing window.
func (l *Limiter) Granted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.nowFn())
	return len(l.grants)
}
