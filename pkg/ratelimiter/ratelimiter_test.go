package ratelimiter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/perpetuallyhorni/trailercast/pkg/clock"
	"github.com/perpetuallyhorni/trailercast/pkg/storage/memory"
)

func TestWindows(t *testing.T) {
	now := time.Date(2026, 12, 31, 22, 15, 0, 0, time.UTC)
	if got, want := NextUTCMidnight(now), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("NextUTCMidnight = %v, want %v", got, want)
	}
	if got, want := NextUTCMonth(now), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("NextUTCMonth = %v, want %v", got, want)
	}
	// Exactly at a boundary the next one is returned.
	mid := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got, want := NextUTCMidnight(mid), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("NextUTCMidnight at boundary = %v, want %v", got, want)
	}

	loc := time.FixedZone("IST", 5*3600+1800)
	hour := NextHour(loc)
	got := hour(time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)) // 15:40 local
	if want := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("NextHour = %v, want %v", got, want)
	}
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{51 * time.Hour, "2d 3h"},
		{3*time.Hour + 12*time.Minute, "3h 12m"},
		{12*time.Minute + 5*time.Second, "12m"},
		{45 * time.Second, "45s"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		if got := FormatRemaining(tt.d); got != tt.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestMetaQuotaMonotonicity(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	l := NewMetaLimiter(memory.New(), clk)

	for i := 1; i <= 5; i++ {
		if err := l.CheckLimit(ctx, BucketInstagramReels); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.IncrementCount(ctx, BucketInstagramReels); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		u, err := l.GetUsage(ctx, BucketInstagramReels)
		if err != nil {
			t.Fatalf("usage: %v", err)
		}
		if u.Used != i || u.Limit != 50 {
			t.Fatalf("after %d posts usage = %+v", i, u)
		}
	}

	// A failed attempt releases its hold and does not change the count.
	release, err := l.Reserve(ctx, BucketFacebook)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if u, _ := l.GetUsage(ctx, BucketFacebook); u.Used != 0 || u.Held != 1 {
		t.Fatalf("facebook usage while held = %+v", u)
	}
	release()
	release()
	u, _ := l.GetUsage(ctx, BucketFacebook)
	if u.Used != 0 || u.Held != 0 {
		t.Fatalf("facebook usage after release = %+v", u)
	}

	feed, _ := l.GetUsage(ctx, BucketInstagramFeed)
	if feed.Used != 0 || feed.Limit != 25 {
		t.Fatalf("feed bucket should be independent, got %+v", feed)
	}
}

func TestMetaLimitAndReset(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC))
	l := NewMetaLimiter(memory.New(), clk)

	for i := 0; i < 25; i++ {
		if err := l.CheckLimit(ctx, BucketInstagramFeed); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.IncrementCount(ctx, BucketInstagramFeed); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	err := l.CheckLimit(ctx, BucketInstagramFeed)
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if qe.RetryAfter != 3*time.Hour || !strings.Contains(err.Error(), "Resets in 3h 0m") {
		t.Fatalf("unexpected error %q (retry %v)", err, qe.RetryAfter)
	}
	if qe.RetryAfterSeconds() != 10800 {
		t.Fatalf("RetryAfterSeconds = %d", qe.RetryAfterSeconds())
	}

	// Rejected checks never change usage.
	u, _ := l.GetUsage(ctx, BucketInstagramFeed)
	if u.Used != 25 {
		t.Fatalf("usage changed by rejected check: %d", u.Used)
	}

	clk.Set(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		u, _ = l.GetUsage(ctx, BucketInstagramFeed)
		if u.Used != 0 {
			t.Fatalf("usage after boundary = %d", u.Used)
		}
	}
	if err := l.CheckLimit(ctx, BucketInstagramFeed); err != nil {
		t.Fatalf("check after reset: %v", err)
	}
	if err := l.IncrementCount(ctx, BucketInstagramFeed); err != nil {
		t.Fatalf("increment after reset: %v", err)
	}
	u, _ = l.GetUsage(ctx, BucketInstagramFeed)
	if u.Used != 1 {
		t.Fatalf("usage after one post in new window = %d", u.Used)
	}

	if err := l.ResetAllQuotas(ctx); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	u, _ = l.GetUsage(ctx, BucketInstagramFeed)
	if u.Used != 0 || !u.ResetAt.Equal(time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("usage after admin reset = %+v", u)
	}
}

func TestMetaUnknownBucket(t *testing.T) {
	l := NewMetaLimiter(memory.New(), clock.NewFake(time.Now()))
	if err := l.CheckLimit(context.Background(), "myspace"); err == nil {
		t.Fatal("expected error for unknown bucket")
	}
}

func TestHoldsPreventOverAdmission(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	l := NewMetaLimiter(memory.New(), clk)
	for i := 0; i < 49; i++ {
		_ = l.IncrementCount(ctx, BucketInstagramReels)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(ctx, BucketInstagramReels); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 1 {
		t.Fatalf("expected one admission for the last slot, got %d", allowed)
	}

	err := l.CheckLimit(ctx, BucketInstagramReels)
	var qe *QuotaExceededError
	if !errors.As(err, &qe) || qe.Used != 49 || qe.Held != 1 || qe.RetryAfter != holdTTL {
		t.Fatalf("expected held slot to block, got %v", err)
	}
	if !strings.Contains(err.Error(), "(49/50, 1 in progress)") {
		t.Fatalf("unexpected message %q", err)
	}

	// Holds expire so a crashed publish cannot block the bucket forever.
	clk.Advance(holdTTL)
	if _, err := l.Reserve(ctx, BucketInstagramReels); err != nil {
		t.Fatalf("expired hold still blocking: %v", err)
	}
}

func TestCheckLimitReservesNothing(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	l := NewXLimiter(memory.New(), clk)
	for i := 0; i < 49; i++ {
		_ = l.IncrementCount(ctx, TierFree)
	}
	for i := 0; i < 3; i++ {
		if err := l.CheckLimit(ctx, TierFree); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if _, err := l.Reserve(ctx, TierFree); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := l.Reserve(ctx, TierFree); err == nil {
		t.Fatal("second reservation of the last slot was allowed")
	}
	// The refused reservation leaves no holds behind.
	u, _ := l.GetUsage(ctx, TierFree)
	if u.Daily.Held != 1 || u.Monthly.Held != 1 {
		t.Fatalf("holds after refused reservation = %+v", u)
	}
	if err := l.IncrementCount(ctx, TierFree); err != nil {
		t.Fatalf("increment: %v", err)
	}
	u, _ = l.GetUsage(ctx, TierFree)
	if u.Daily.Used != 50 || u.Daily.Held != 0 || u.Monthly.Held != 0 {
		t.Fatalf("usage after publish = %+v", u)
	}
}

func TestXDailyLimitFree(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	l := NewXLimiter(memory.New(), clk)

	for i := 0; i < 50; i++ {
		if err := l.IncrementCount(ctx, TierFree); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	err := l.CheckLimit(ctx, TierFree)
	if err == nil || !strings.Contains(err.Error(), "Daily tweet limit exceeded") {
		t.Fatalf("expected daily limit error, got %v", err)
	}
	if !strings.Contains(err.Error(), "(50/50)") {
		t.Fatalf("expected usage in message, got %q", err)
	}
}

func TestXTierIsolation(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	l := NewXLimiter(memory.New(), clk)

	for i := 0; i < 10; i++ {
		if err := l.IncrementCount(ctx, TierFree); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	pro, err := l.GetUsage(ctx, TierPro)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if pro.Daily.Used != 0 || pro.Monthly.Used != 0 {
		t.Fatalf("pro usage leaked from free: %+v", pro)
	}
	free, _ := l.GetUsage(ctx, TierFree)
	if free.Daily.Used != 10 || free.Monthly.Used != 10 {
		t.Fatalf("free usage = %+v", free)
	}
	if !free.Monthly.ResetAt.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("monthly reset = %v", free.Monthly.ResetAt)
	}
}

func TestXMonthlyLimit(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	l := NewXLimiter(memory.New(), clk)

	// 50 a day for 30 days fills the 1500 monthly free allowance.
	for day := 0; day < 30; day++ {
		clk.Set(start.AddDate(0, 0, day))
		for i := 0; i < 50; i++ {
			if err := l.IncrementCount(ctx, TierFree); err != nil {
				t.Fatalf("day %d increment %d: %v", day, i, err)
			}
		}
	}
	clk.Set(time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC))
	err := l.CheckLimit(ctx, TierFree)
	if err == nil || !strings.Contains(err.Error(), "Monthly tweet limit exceeded") {
		t.Fatalf("expected monthly limit error, got %v", err)
	}

	clk.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	if err := l.CheckLimit(ctx, TierFree); err != nil {
		t.Fatalf("check in new month: %v", err)
	}
}

func TestParseTier(t *testing.T) {
	if tier, err := ParseTier(" Pro "); err != nil || tier != TierPro {
		t.Fatalf("ParseTier = %q, %v", tier, err)
	}
	if _, err := ParseTier("platinum"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestTikTokMinGap(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 59, 50, 0, time.UTC))
	l := NewTikTokLimiter(memory.New(), clk, time.UTC)

	if _, err := l.Reserve(ctx); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := l.IncrementCount(ctx); err != nil {
		t.Fatalf("increment: %v", err)
	}

	// The hourly bucket resets at 10:00 but the gap rule still blocks.
	clk.Set(time.Date(2026, 3, 10, 10, 0, 5, 0, time.UTC))
	u, _ := l.GetUsage(ctx)
	if u.Hourly.Used != 0 {
		t.Fatalf("hourly bucket should have reset, got %+v", u.Hourly)
	}
	for name, err := range map[string]error{"check": l.CheckLimit(ctx), "reserve": reserveErr(ctx, l)} {
		var qe *QuotaExceededError
		if !errors.As(err, &qe) || qe.Bucket != tiktokLastPostKey || !strings.Contains(err.Error(), "Minimum 1h gap") {
			t.Fatalf("%s: expected min-gap error, got %v", name, err)
		}
		if want := 59*time.Minute + 45*time.Second; qe.RetryAfter != want {
			t.Fatalf("%s: retry after = %v, want %v", name, qe.RetryAfter, want)
		}
	}
	if u.NextAllowedAt.IsZero() {
		t.Fatal("expected NextAllowedAt while gap is pending")
	}

	clk.Set(time.Date(2026, 3, 10, 10, 59, 50, 0, time.UTC))
	if err := l.CheckLimit(ctx); err != nil {
		t.Fatalf("check after gap: %v", err)
	}
}

func reserveErr(ctx context.Context, l *TikTokLimiter) error {
	_, err := l.Reserve(ctx)
	return err
}

func TestTikTokConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	l := NewTikTokLimiter(memory.New(), clk, time.UTC)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(ctx); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 1 {
		t.Fatalf("expected exactly one reservation, got %d", allowed)
	}
}

func TestTikTokDailyLimit(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	l := NewTikTokLimiter(memory.New(), clk, time.UTC)

	for i := 0; i < 5; i++ {
		clk.Set(start.Add(time.Duration(i) * 2 * time.Hour))
		if err := l.CheckLimit(ctx); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		if err := l.IncrementCount(ctx); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	clk.Set(start.Add(10 * time.Hour))
	err := l.CheckLimit(ctx)
	if err == nil || !strings.Contains(err.Error(), "Daily post limit exceeded (5/5)") {
		t.Fatalf("expected daily limit error, got %v", err)
	}

	if err := l.ResetQuota(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	u, _ := l.GetUsage(ctx)
	if u.Daily.Used != 0 || !u.LastPostAt.IsZero() {
		t.Fatalf("usage after reset = %+v", u)
	}
}

func TestTikTokReservation(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	l := NewTikTokLimiter(memory.New(), clk, time.UTC)

	for i := 0; i < 2; i++ {
		if err := l.CheckLimit(ctx); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	release, err := l.Reserve(ctx)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// A second publish while the first is in flight is rejected.
	_, err = l.Reserve(ctx)
	if err == nil || !strings.Contains(err.Error(), "still in progress") {
		t.Fatalf("expected in-progress error, got %v", err)
	}
	if err := l.CheckLimit(ctx); err == nil {
		t.Fatal("check should report the in-flight post")
	}
	release()
	u, _ := l.GetUsage(ctx)
	if u.Daily.Held != 0 || u.Hourly.Held != 0 || !u.LastPostAt.IsZero() {
		t.Fatalf("usage after release = %+v", u)
	}
	if _, err := l.Reserve(ctx); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}

	if err := l.ResetAllQuotas(ctx); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	if _, err := l.Reserve(ctx); err != nil {
		t.Fatalf("reserve after reset: %v", err)
	}
}

func TestPacer(t *testing.T) {
	var nilPacer *Pacer
	if err := nilPacer.Wait(context.Background()); err != nil {
		t.Fatalf("nil pacer wait: %v", err)
	}
	nilPacer.Stop()

	p := NewPacer(time.Hour)
	defer p.Stop()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("first wait should pass immediately: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
