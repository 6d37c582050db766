package ratelimiter

import (
	"fmt"
	"time"

	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

// NextUTCMidnight returns the first UTC midnight strictly after now.
func NextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// NextUTCMonth returns 00:00 UTC on the first day of the month after now.
func NextUTCMonth(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// NextHour returns a window that ends at the top of the next hour in loc.
// A nil loc means time.Local.
func NextHour(loc *time.Location) storage.Window {
	if loc == nil {
		loc = time.Local
	}
	return func(now time.Time) time.Time {
		l := now.In(loc)
		return time.Date(l.Year(), l.Month(), l.Day(), l.Hour()+1, 0, 0, 0, loc).UTC()
	}
}

// FormatRemaining renders d the way quota messages show it: "2d 3h", "3h 12m", "12m" or "45s".
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Round(time.Second) / time.Second)
	days := secs / 86400
	hours := (secs % 86400) / 3600
	mins := (secs % 3600) / 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	case mins > 0:
		return fmt.Sprintf("%dm", mins)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
