// Package ratelimiter enforces per-platform posting quotas and paces outgoing API calls.
package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces requests to a platform API at a fixed interval.
type Pacer struct {
	ticker  *time.Ticker
	first   chan struct{} // Lets the first request through without waiting for a tick.
	mu      sync.Mutex
	stopped bool
}

// NewPacer creates a Pacer. An interval <= 0 returns nil, and a nil Pacer never waits.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return nil
	}
	p := &Pacer{
		ticker: time.NewTicker(interval),
		first:  make(chan struct{}, 1),
	}
	p.first <- struct{}{}
	return p
}

// Wait blocks until the next request may be sent, or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	select {
	case <-p.first:
		return nil
	default:
	}

	select {
	case <-p.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the ticker.
func (p *Pacer) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.ticker.Stop()
		p.stopped = true
	}
}
