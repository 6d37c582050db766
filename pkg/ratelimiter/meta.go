package ratelimiter

import (
	"context"
	"fmt"

	"github.com/perpetuallyhorni/trailercast/pkg/clock"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

// Meta bucket keys.
const (
	BucketInstagramFeed  = "instagram_feed"
	BucketInstagramReels = "instagram_reels"
	BucketFacebook       = "facebook"
)

var metaBuckets = []Bucket{
	{Key: BucketInstagramFeed, Label: "Instagram feed daily limit", Limit: 25, Next: NextUTCMidnight},
	{Key: BucketInstagramReels, Label: "Instagram reels daily limit", Limit: 50, Next: NextUTCMidnight},
	{Key: BucketFacebook, Label: "Facebook daily limit", Limit: 200, Next: NextUTCMidnight},
}

// MetaLimiter enforces the three independent daily Meta buckets.
type MetaLimiter struct {
	e *engine
}

// NewMetaLimiter creates a MetaLimiter backed by store. A nil clk uses the system clock.
func NewMetaLimiter(store storage.QuotaStore, clk clock.Clock) *MetaLimiter {
	return &MetaLimiter{e: newEngine(store, clk)}
}

func metaBucket(key string) (Bucket, error) {
	for _, b := range metaBuckets {
		if b.Key == key {
			return b, nil
		}
	}
	return Bucket{}, fmt.Errorf("unknown meta quota bucket %q", key)
}

// CheckLimit returns a *QuotaExceededError if bucket has no room left. Nothing is reserved.
func (l *MetaLimiter) CheckLimit(ctx context.Context, bucket string) error {
	b, err := metaBucket(bucket)
	if err != nil {
		return err
	}
	return l.e.check(ctx, b)
}

// IncrementCount records one successful post in bucket.
func (l *MetaLimiter) IncrementCount(ctx context.Context, bucket string) error {
	b, err := metaBucket(bucket)
	if err != nil {
		return err
	}
	return l.e.increment(ctx, b)
}

// Reserve holds one slot in bucket until IncrementCount consumes it or release is called.
func (l *MetaLimiter) Reserve(ctx context.Context, bucket string) (release func(), err error) {
	b, err := metaBucket(bucket)
	if err != nil {
		return nil, err
	}
	return l.e.reserve(ctx, b)
}

// GetUsage reports the current usage of bucket.
func (l *MetaLimiter) GetUsage(ctx context.Context, bucket string) (Usage, error) {
	b, err := metaBucket(bucket)
	if err != nil {
		return Usage{}, err
	}
	return l.e.usage(ctx, b)
}

// AllUsage reports every Meta bucket in a fixed order.
func (l *MetaLimiter) AllUsage(ctx context.Context) ([]Usage, error) {
	out := make([]Usage, 0, len(metaBuckets))
	for _, b := range metaBuckets {
		u, err := l.e.usage(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// ResetQuota zeroes bucket.
func (l *MetaLimiter) ResetQuota(ctx context.Context, bucket string) error {
	b, err := metaBucket(bucket)
	if err != nil {
		return err
	}
	return l.e.reset(ctx, b)
}

// ResetAllQuotas zeroes every Meta bucket.
func (l *MetaLimiter) ResetAllQuotas(ctx context.Context) error {
	for _, b := range metaBuckets {
		if err := l.e.reset(ctx, b); err != nil {
			return err
		}
	}
	return nil
}
