package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"postforge/internal/services"
)

// Gate spaces calls to one external service at least MinInterval apart and
// backs off after quota errors. It is per process; separate processes do not
// coordinate.
type Gate struct {
	mu           sync.Mutex
	clock        Clock
	minInterval  time.Duration
	maxPenalty   time.Duration
	next         time.Time
	blockedUntil time.Time
	penalty      time.Duration
}

// NewGate builds a gate. A zero minInterval disables spacing; a zero
// maxPenalty disables quota backoff.
func NewGate(clock Clock, minInterval, maxPenalty time.Duration) *Gate {
	if clock == nil {
		clock = System()
	}
	return &Gate{clock: clock, minInterval: minInterval, maxPenalty: maxPenalty}
}

// Wait reserves the next call slot and sleeps until it opens.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	now := g.clock.Now()
	slot := now
	if g.next.After(slot) {
		slot = g.next
	}
	if g.blockedUntil.After(slot) {
		slot = g.blockedUntil
	}
	g.next = slot.Add(g.minInterval)
	g.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		return g.clock.Sleep(ctx, wait)
	}
	return ctx.Err()
}

// Penalize blocks the gate after a quota error. The hint (Retry-After) wins
// when present; otherwise the penalty doubles from MinInterval. Both are
// clamped to the maximum penalty. The applied wait is returned.
func (g *Gate) Penalize(hint time.Duration) time.Duration {
	if g.maxPenalty <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	wait := hint
	if wait <= 0 {
		switch {
		case g.penalty > 0:
			wait = g.penalty * 2
		case g.minInterval > 0:
			wait = g.minInterval
		default:
			wait = time.Second
		}
	}
	if wait > g.maxPenalty {
		wait = g.maxPenalty
	}
	g.penalty = wait
	if until := g.clock.Now().Add(wait); until.After(g.blockedUntil) {
		g.blockedUntil = until
	}
	return wait
}

// Reset clears the quota penalty after a successful call.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.penalty = 0
}

// Do waits for a slot, runs fn, and updates the penalty from its result.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.Wait(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	switch {
	case err == nil:
		g.Reset()
	case errors.Is(err, services.ErrRateLimited):
		hint, _ := services.DelayHintFrom(err)
		g.Penalize(hint)
	}
	return err
}
