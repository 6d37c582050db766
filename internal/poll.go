package trailercast

import (
	"context"
	"fmt"
	"time"

	"github.com/perpetuallyhorni/trailercast/pkg/clock"
)

// PollOpt controls a status polling loop.
type PollOpt struct {
	// MaxAttempts is the number of status checks made before giving up.
	MaxAttempts int
	// Interval is waited before each check unless the previous check asked for another delay.
	Interval time.Duration
	Clock    clock.Clock
}

// PollFunc performs one status check. It returns done once a terminal success is reached, or
// an error for a terminal failure. A positive next overrides the wait before the following check.
type PollFunc func(ctx context.Context, attempt int) (done bool, next time.Duration, err error)

// Poll waits, checks and repeats until check reports done, check fails, ctx is cancelled or
// MaxAttempts checks have been made. Running out of attempts returns an error wrapping
// ErrPollTimeout. The number of checks performed is always returned.
func Poll(ctx context.Context, opt PollOpt, check PollFunc) (int, error) {
	clk := opt.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	wait := opt.Interval
	for attempt := 1; attempt <= opt.MaxAttempts; attempt++ {
		if err := clk.Sleep(ctx, wait); err != nil {
			return attempt - 1, err
		}
		done, next, err := check(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
		wait = opt.Interval
		if next > 0 {
			wait = next
		}
	}
	return opt.MaxAttempts, fmt.Errorf("%w after %d status checks", ErrPollTimeout, opt.MaxAttempts)
}
