package ratelimiter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/perpetuallyhorni/trailercast/pkg/clock"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

// holdTTL bounds how long an admitted but unfinished publish keeps its slot reserved.
const holdTTL = 15 * time.Minute

// Bucket describes one quota counter and its window.
type Bucket struct {
	Key   string
	Label string
	Limit int
	Next  storage.Window
}

// Usage is a read-only view of one bucket.
type Usage struct {
	Bucket  string    `json:"bucket"`
	Used    int       `json:"used"`
	Held    int       `json:"held,omitempty"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"resetAt"`
}

// Remaining returns how many posts are left in the current window.
func (u Usage) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// QuotaExceededError is returned by CheckLimit and Reserve when a bucket is full or a posting
// gap has not elapsed. Held counts slots reserved by publishes that have not finished yet.
type QuotaExceededError struct {
	Bucket     string
	Label      string
	Used       int
	Held       int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	switch {
	case e.Limit == 0:
		return fmt.Sprintf("%s. Retry in %s", e.Label, FormatRemaining(e.RetryAfter))
	case e.Held > 0 && e.Used < e.Limit:
		return fmt.Sprintf("%s reached (%d/%d, %d in progress). Retry in %s", e.Label, e.Used, e.Limit, e.Held, FormatRemaining(e.RetryAfter))
	}
	return fmt.Sprintf("%s exceeded (%d/%d). Resets in %s", e.Label, e.Used, e.Limit, FormatRemaining(e.RetryAfter))
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *QuotaExceededError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// engine holds the logic shared by every platform limiter: lazy refresh, reservations and the
// atomic increment. Reservations live in the store next to the counts, so every process that
// shares the store sees them.
type engine struct {
	store storage.QuotaStore
	clock clock.Clock
}

func newEngine(store storage.QuotaStore, clk clock.Clock) *engine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &engine{store: store, clock: clk}
}

func exceeded(b Bucket, adm storage.Admission, now time.Time) *QuotaExceededError {
	err := &QuotaExceededError{
		Bucket:     b.Key,
		Label:      b.Label,
		Used:       adm.Count,
		Held:       adm.Held,
		Limit:      b.Limit,
		ResetAt:    adm.ResetAt,
		RetryAfter: adm.ResetAt.Sub(now),
	}
	if adm.Count < b.Limit && !adm.HoldExpiry.IsZero() && adm.HoldExpiry.Before(adm.ResetAt) {
		err.RetryAfter = adm.HoldExpiry.Sub(now)
	}
	return err
}

// check reports whether every bucket has room. It changes nothing but the lazy rollover.
func (e *engine) check(ctx context.Context, buckets ...Bucket) error {
	now := e.clock.Now()
	for _, b := range buckets {
		c, err := storage.Refresh(ctx, e.store, b.Key, now, b.Next)
		if err != nil {
			return fmt.Errorf("failed to refresh quota %s: %w", b.Key, err)
		}
		c.Holds = storage.LiveHolds(c, now)
		adm := storage.Admission{Count: c.Count, Held: len(c.Holds), ResetAt: c.ResetAt}
		for _, exp := range c.Holds {
			if adm.HoldExpiry.IsZero() || exp.Before(adm.HoldExpiry) {
				adm.HoldExpiry = exp
			}
		}
		if adm.Count+adm.Held >= b.Limit {
			return exceeded(b, adm, now)
		}
	}
	return nil
}

// reserve holds one slot in every bucket. If any bucket is full, the slots already taken are
// given back. The returned func releases the slots of a publish that will not be counted; it
// is safe to call more than once.
func (e *engine) reserve(ctx context.Context, buckets ...Bucket) (func(), error) {
	now := e.clock.Now()
	taken := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		adm, err := storage.Reserve(ctx, e.store, b.Key, b.Limit, now, b.Next, holdTTL)
		if err == nil && !adm.Allowed {
			err = exceeded(b, adm, now)
		} else if err != nil {
			err = fmt.Errorf("failed to reserve quota %s: %w", b.Key, err)
		}
		if err != nil {
			e.unreserve(ctx, taken...)
			return nil, err
		}
		taken = append(taken, b)
	}
	var once sync.Once
	return func() {
		once.Do(func() { e.unreserve(ctx, taken...) })
	}, nil
}

// unreserve drops one hold from each bucket. The caller's context may already be done, and a
// failed drop only delays the slot until the hold expires.
func (e *engine) unreserve(ctx context.Context, buckets ...Bucket) {
	ctx = context.WithoutCancel(ctx)
	now := e.clock.Now()
	for _, b := range buckets {
		_ = storage.Unreserve(ctx, e.store, b.Key, now)
	}
}

// increment consumes a hold and records one post in every bucket. The stored count never
// passes the limit. A bucket that is already full reports a QuotaExceededError after the
// remaining buckets were still updated.
func (e *engine) increment(ctx context.Context, buckets ...Bucket) error {
	now := e.clock.Now()
	var full error
	for _, b := range buckets {
		adm, err := storage.CompareAndIncrement(ctx, e.store, b.Key, b.Limit, now, b.Next)
		if err != nil {
			return fmt.Errorf("failed to increment quota %s: %w", b.Key, err)
		}
		if !adm.Allowed && full == nil {
			full = exceeded(b, adm, now)
		}
	}
	return full
}

func (e *engine) usage(ctx context.Context, b Bucket) (Usage, error) {
	now := e.clock.Now()
	c, err := storage.Refresh(ctx, e.store, b.Key, now, b.Next)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read quota %s: %w", b.Key, err)
	}
	return Usage{
		Bucket:  b.Key,
		Used:    c.Count,
		Held:    len(storage.LiveHolds(c, now)),
		Limit:   b.Limit,
		ResetAt: c.ResetAt,
	}, nil
}

// reset zeroes the bucket, recomputes its boundary and forgets its holds.
func (e *engine) reset(ctx context.Context, b Bucket) error {
	now := e.clock.Now()
	_, err := e.store.UpdateCounter(ctx, b.Key, func(c *storage.QuotaCounter) error {
		c.Count = 0
		c.Holds = nil
		c.ResetAt = b.Next(now)
		c.LastUpdate = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset quota %s: %w", b.Key, err)
	}
	return nil
}
