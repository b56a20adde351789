package esi

import (
	"context"
	"sync"
	"time"
)

// Gate is the process-wide cooldown shared by every fetch. Upstream
// backoff signals advance a notBefore instant; every attempt waits until
// it has passed. The instant only ever moves forward.
type Gate struct {
	mu        sync.Mutex
	notBefore time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{now: time.Now, sleep: realSleep}
}

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance moves the cooldown to now+d unless it already lies further out.
func (g *Gate) Advance(d time.Duration) {
	target := g.now().Add(d)
	g.mu.Lock()
	if target.After(g.notBefore) {
		g.notBefore = target
	}
	g.mu.Unlock()
}

// NotBefore returns the current cooldown instant.
func (g *Gate) NotBefore() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.notBefore
}

// Wait sleeps until the cooldown has passed or ctx is done. The cooldown
// is re-read after each sleep so an advance from another goroutine is
// honored. It returns the total time slept.
func (g *Gate) Wait(ctx context.Context) (time.Duration, error) {
	var slept time.Duration
	for {
		wait := g.NotBefore().Sub(g.now())
		if wait <= 0 {
			return slept, nil
		}
		if err := g.sleep(ctx, wait); err != nil {
			return slept, err
		}
		slept += wait
	}
}
