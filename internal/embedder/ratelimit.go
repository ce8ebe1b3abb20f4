package embedder

import (
	"context"
	"sync"
	"time"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// DefaultWindow is the token budget window used by the providers
const DefaultWindow = time.Minute

// TokenLimiter enforces a token budget per fixed time window. Windows are
// aligned to the limiter's start time: usage at time T belongs to the window
// containing T and the budget resets at each boundary.
type TokenLimiter struct {
	mu     sync.Mutex
	budget int
	window time.Duration
	start  time.Time
	used   int

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// Reservation identifies tokens reserved in one window.
type Reservation struct {
	window time.Time
	tokens int
}

// NewTokenLimiter creates a limiter allowing budget tokens per window. A
// budget <= 0 disables limiting.
func NewTokenLimiter(budget int, window time.Duration) *TokenLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &TokenLimiter{
		budget: budget,
		window: window,
		now:    time.Now,
		after:  time.After,
	}
}

// roll moves the window forward to the one containing now. Callers hold mu.
func (l *TokenLimiter) roll(now time.Time) {
	if l.start.IsZero() {
		l.start = now
		return
	}
	if elapsed := now.Sub(l.start); elapsed >= l.window {
		l.start = l.start.Add(elapsed.Truncate(l.window))
		l.used = 0
	}
}

// Reserve records n tokens against the current window, waiting for the next
// window while the budget is exhausted. A request larger than the whole
// budget is admitted alone in a fresh window. Cancellation while waiting is
// a timeout error.
func (l *TokenLimiter) Reserve(ctx context.Context, n int) (Reservation, error) {
	if l == nil || l.budget <= 0 || n <= 0 {
		return Reservation{}, nil
	}
	for {
		l.mu.Lock()
		now := l.now()
		l.roll(now)
		if l.used+n <= l.budget || (l.used == 0 && n > l.budget) {
			l.used += n
			r := Reservation{window: l.start, tokens: n}
			l.mu.Unlock()
			return r, nil
		}
		wait := l.start.Add(l.window).Sub(now)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return Reservation{}, types.TimeoutError(ctx.Err())
		case <-l.after(wait):
		}
	}
}

// Reconcile replaces the estimate held by r with the provider-reported
// usage. Reservations from an elapsed window are ignored.
func (l *TokenLimiter) Reconcile(r Reservation, actual int) {
	if l == nil || l.budget <= 0 || r.tokens == 0 || actual <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(l.now())
	if !l.start.Equal(r.window) {
		return
	}
	l.used = max(l.used+actual-r.tokens, 0)
}

// Used returns the tokens counted in the current window.
func (l *TokenLimiter) Used() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(l.now())
	return l.used
}
