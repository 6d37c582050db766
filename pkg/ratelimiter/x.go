package ratelimiter

import (
	"context"
	"fmt"
	"strings"

	"github.com/perpetuallyhorni/trailercast/pkg/clock"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

// Tier is an X API access tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{TierFree, TierBasic, TierPro, TierEnterprise}

type tierLimits struct {
	daily, monthly int
}

var xLimits = map[Tier]tierLimits{
	TierFree:       {daily: 50, monthly: 1500},
	TierBasic:      {daily: 3000, monthly: 50000},
	TierPro:        {daily: 10000, monthly: 300000},
	TierEnterprise: {daily: 100000, monthly: 3000000},
}

// ParseTier accepts a tier name in any case.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := xLimits[t]; !ok {
		return "", fmt.Errorf("unknown X tier %q", s)
	}
	return t, nil
}

// XUsage is the daily and monthly usage of one tier.
type XUsage struct {
	Tier    Tier  `json:"tier"`
	Daily   Usage `json:"daily"`
	Monthly Usage `json:"monthly"`
}

// XLimiter enforces per-tier daily and monthly tweet limits. Tiers never share counters.
type XLimiter struct {
	e *engine
}

// NewXLimiter creates an XLimiter backed by store. A nil clk uses the system clock.
func NewXLimiter(store storage.QuotaStore, clk clock.Clock) *XLimiter {
	return &XLimiter{e: newEngine(store, clk)}
}

func xBuckets(tier Tier) (daily, monthly Bucket, err error) {
	lim, ok := xLimits[tier]
	if !ok {
		return Bucket{}, Bucket{}, fmt.Errorf("unknown X tier %q", tier)
	}
	daily = Bucket{Key: fmt.Sprintf("x_%s_daily", tier), Label: "Daily tweet limit", Limit: lim.daily, Next: NextUTCMidnight}
	monthly = Bucket{Key: fmt.Sprintf("x_%s_monthly", tier), Label: "Monthly tweet limit", Limit: lim.monthly, Next: NextUTCMonth}
	return daily, monthly, nil
}

// CheckLimit fails when either the daily or the monthly bucket of tier is full. Nothing is
// reserved.
func (l *XLimiter) CheckLimit(ctx context.Context, tier Tier) error {
	d, m, err := xBuckets(tier)
	if err != nil {
		return err
	}
	return l.e.check(ctx, d, m)
}

// IncrementCount records one tweet against tier.
func (l *XLimiter) IncrementCount(ctx context.Context, tier Tier) error {
	d, m, err := xBuckets(tier)
	if err != nil {
		return err
	}
	return l.e.increment(ctx, d, m)
}

// Reserve holds one slot in both windows of tier.
func (l *XLimiter) Reserve(ctx context.Context, tier Tier) (release func(), err error) {
	d, m, err := xBuckets(tier)
	if err != nil {
		return nil, err
	}
	return l.e.reserve(ctx, d, m)
}

// GetUsage reports both windows of tier.
func (l *XLimiter) GetUsage(ctx context.Context, tier Tier) (XUsage, error) {
	d, m, err := xBuckets(tier)
	if err != nil {
		return XUsage{}, err
	}
	du, err := l.e.usage(ctx, d)
	if err != nil {
		return XUsage{}, err
	}
	mu, err := l.e.usage(ctx, m)
	if err != nil {
		return XUsage{}, err
	}
	return XUsage{Tier: tier, Daily: du, Monthly: mu}, nil
}

// ResetQuota zeroes both windows of tier.
func (l *XLimiter) ResetQuota(ctx context.Context, tier Tier) error {
	d, m, err := xBuckets(tier)
	if err != nil {
		return err
	}
	if err := l.e.reset(ctx, d); err != nil {
		return err
	}
	return l.e.reset(ctx, m)
}

// ResetAllQuotas zeroes every tier.
func (l *XLimiter) ResetAllQuotas(ctx context.Context) error {
	for _, t := range Tiers {
		if err := l.ResetQuota(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
