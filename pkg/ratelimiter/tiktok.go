package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perpetuallyhorni/trailercast/pkg/clock"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

const (
	tiktokDailyKey    = "tiktok_daily"
	tiktokHourlyKey   = "tiktok_hourly"
	tiktokLastPostKey = "tiktok_last_post"

	// TikTokMinGap is the minimum time between two posts, independent of the hourly bucket.
	TikTokMinGap = time.Hour
)

// TikTokUsage is the state of every TikTok check.
type TikTokUsage struct {
	Daily      Usage     `json:"daily"`
	Hourly     Usage     `json:"hourly"`
	LastPostAt time.Time `json:"lastPostAt,omitempty"`
	// NextAllowedAt is when the minimum gap will have elapsed. Zero if it already has.
	NextAllowedAt time.Time `json:"nextAllowedAt,omitempty"`
}

// TikTokLimiter enforces 5 posts per UTC day, 1 per local hour and a one hour minimum gap.
type TikTokLimiter struct {
	e      *engine
	daily  Bucket
	hourly Bucket
}

// NewTikTokLimiter creates a TikTokLimiter whose hourly window is aligned to loc.
func NewTikTokLimiter(store storage.QuotaStore, clk clock.Clock, loc *time.Location) *TikTokLimiter {
	return &TikTokLimiter{
		e:      newEngine(store, clk),
		daily:  Bucket{Key: tiktokDailyKey, Label: "Daily post limit", Limit: 5, Next: NextUTCMidnight},
		hourly: Bucket{Key: tiktokHourlyKey, Label: "Hourly post limit", Limit: 1, Next: NextHour(loc)},
	}
}

// lastPost reads the last post counter, which is never rolled over. LastUpdate is zero until a
// post has been recorded.
func (l *TikTokLimiter) lastPost(ctx context.Context) (storage.QuotaCounter, error) {
	c, _, err := l.e.store.GetCounter(ctx, tiktokLastPostKey)
	if err != nil {
		return storage.QuotaCounter{}, fmt.Errorf("failed to read last tiktok post: %w", err)
	}
	if c.Count == 0 {
		c.LastUpdate = time.Time{}
	}
	return c, nil
}

// gapError reports a post that would land inside the minimum gap, or one that would run
// alongside another post still in progress.
func gapError(c storage.QuotaCounter, now time.Time) error {
	if c.Count > 0 {
		next := c.LastUpdate.Add(TikTokMinGap)
		if wait := next.Sub(now); wait > 0 {
			return &QuotaExceededError{
				Bucket:     tiktokLastPostKey,
				Label:      "Minimum 1h gap between TikTok posts not elapsed",
				ResetAt:    next,
				RetryAfter: wait,
			}
		}
	}
	holds := storage.LiveHolds(c, now)
	if len(holds) == 0 {
		return nil
	}
	expiry := holds[0]
	for _, exp := range holds[1:] {
		if exp.Before(expiry) {
			expiry = exp
		}
	}
	return &QuotaExceededError{
		Bucket:     tiktokLastPostKey,
		Label:      "Another TikTok post is still in progress",
		Held:       len(holds),
		ResetAt:    expiry,
		RetryAfter: expiry.Sub(now),
	}
}

// CheckLimit runs the gap, daily and hourly checks. Nothing is reserved.
func (l *TikTokLimiter) CheckLimit(ctx context.Context) error {
	c, err := l.lastPost(ctx)
	if err != nil {
		return err
	}
	if err := gapError(c, l.e.clock.Now()); err != nil {
		return err
	}
	return l.e.check(ctx, l.daily, l.hourly)
}

// Reserve claims the next post. The gap check and the claim on the last post counter happen
// in one atomic update, so only one caller sharing the store can be between Reserve and
// IncrementCount at a time. The daily and hourly slots are then held as well.
func (l *TikTokLimiter) Reserve(ctx context.Context) (release func(), err error) {
	now := l.e.clock.Now()
	var denied error
	_, err = l.e.store.UpdateCounter(ctx, tiktokLastPostKey, func(c *storage.QuotaCounter) error {
		c.Holds = storage.LiveHolds(*c, now)
		if denied = gapError(*c, now); denied != nil {
			return nil
		}
		c.Holds = append(c.Holds, now.Add(holdTTL))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reserve tiktok post: %w", err)
	}
	if denied != nil {
		return nil, denied
	}
	releaseBuckets, err := l.e.reserve(ctx, l.daily, l.hourly)
	if err != nil {
		l.releaseGap(ctx)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			releaseBuckets()
			l.releaseGap(ctx)
		})
	}, nil
}

func (l *TikTokLimiter) releaseGap(ctx context.Context) {
	_ = storage.Unreserve(context.WithoutCancel(ctx), l.e.store, tiktokLastPostKey, l.e.clock.Now())
}

// IncrementCount records a successful post and stamps the last post time. The stamp comes
// first so the gap is in force before the claim on the counter is dropped.
func (l *TikTokLimiter) IncrementCount(ctx context.Context) error {
	now := l.e.clock.Now()
	_, err := l.e.store.UpdateCounter(ctx, tiktokLastPostKey, func(c *storage.QuotaCounter) error {
		c.Holds = consumeHold(storage.LiveHolds(*c, now))
		c.Count++
		c.LastUpdate = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record last tiktok post: %w", err)
	}
	return l.e.increment(ctx, l.daily, l.hourly)
}

// consumeHold drops the hold closest to expiry.
func consumeHold(holds []time.Time) []time.Time {
	if len(holds) == 0 {
		return nil
	}
	first := 0
	for i, exp := range holds {
		if exp.Before(holds[first]) {
			first = i
		}
	}
	holds = append(holds[:first], holds[first+1:]...)
	if len(holds) == 0 {
		return nil
	}
	return holds
}

// GetUsage reports the daily and hourly buckets and the gap state.
func (l *TikTokLimiter) GetUsage(ctx context.Context) (TikTokUsage, error) {
	d, err := l.e.usage(ctx, l.daily)
	if err != nil {
		return TikTokUsage{}, err
	}
	h, err := l.e.usage(ctx, l.hourly)
	if err != nil {
		return TikTokUsage{}, err
	}
	c, err := l.lastPost(ctx)
	if err != nil {
		return TikTokUsage{}, err
	}
	last := c.LastUpdate
	u := TikTokUsage{Daily: d, Hourly: h, LastPostAt: last}
	if !last.IsZero() {
		if next := last.Add(TikTokMinGap); next.After(l.e.clock.Now()) {
			u.NextAllowedAt = next
		}
	}
	return u, nil
}

// ResetQuota zeroes both buckets and forgets the last post time.
func (l *TikTokLimiter) ResetQuota(ctx context.Context) error {
	if err := l.e.reset(ctx, l.daily); err != nil {
		return err
	}
	if err := l.e.reset(ctx, l.hourly); err != nil {
		return err
	}
	if err := l.e.store.DeleteCounters(ctx, tiktokLastPostKey); err != nil {
		return fmt.Errorf("failed to clear last tiktok post: %w", err)
	}
	return nil
}

// ResetAllQuotas is ResetQuota; TikTok has a single account-wide set of buckets.
func (l *TikTokLimiter) ResetAllQuotas(ctx context.Context) error {
	return l.ResetQuota(ctx)
}
