package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by lookups that find no matching record.
var ErrNotFound = errors.New("record not found")

// QuotaCounter is a single quota bucket as persisted by a QuotaStore.
type QuotaCounter struct {
	// Key identifies the bucket, e.g. "instagram_feed" or "x_free_daily".
	Key string `json:"key"`
	// Count is the number of recorded posts in the current window.
	Count int `json:"count"`
	// ResetAt is the next window boundary. A zero value means the counter was never initialized.
	ResetAt time.Time `json:"resetAt"`
	// LastUpdate is the time of the last write to this counter.
	LastUpdate time.Time `json:"lastUpdate"`
	// Holds are the expiry times of slots reserved by publishes that have not finished.
	// They survive a window rollover; the publish that owns one is still in flight.
	Holds []time.Time `json:"holds,omitempty"`
}

// Window returns the next aligned reset boundary strictly after now.
type Window func(now time.Time) time.Time

// Admission is the outcome of CompareAndIncrement.
type Admission struct {
	Allowed bool
	Count   int
	// Held is the number of live holds after the operation.
	Held    int
	ResetAt time.Time
	// HoldExpiry is the earliest live hold expiry, zero when there is none.
	HoldExpiry time.Time
}

// QuotaStore persists quota counters. Implementations must make UpdateCounter atomic per key:
// the load, the callback and the write happen without another writer interleaving on that key.
type QuotaStore interface {
	// GetCounter returns the stored counter for key, and false if it does not exist.
	GetCounter(ctx context.Context, key string) (QuotaCounter, bool, error)
	// UpdateCounter loads the counter for key (zero value with Key set when absent), passes it to fn,
	// and persists the modified value unless fn returns an error.
	UpdateCounter(ctx context.Context, key string, fn func(c *QuotaCounter) error) (QuotaCounter, error)
	// ListCounters returns all counters whose key starts with prefix.
	ListCounters(ctx context.Context, prefix string) ([]QuotaCounter, error)
	// DeleteCounters removes all counters whose key starts with prefix.
	DeleteCounters(ctx context.Context, prefix string) error
}

// PublishRecord is one successful publish, kept for history and duplicate detection.
type PublishRecord struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"sourceId,omitempty"`
	Target      string    `json:"target"`
	MediaID     string    `json:"mediaId,omitempty"`
	PostID      string    `json:"postId,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// HistoryFilter narrows ListPublishes. Zero values mean "no filter".
type HistoryFilter struct {
	Target   string
	SourceID string
	Limit    int
}

// HistoryStore records successful publishes.
type HistoryStore interface {
	// RecordPublish stores a successful publish.
	RecordPublish(ctx context.Context, rec PublishRecord) error
	// PublishExists reports whether sourceID has already been published to target.
	PublishExists(ctx context.Context, sourceID, target string) (bool, error)
	// ListPublishes returns records newest first.
	ListPublishes(ctx context.Context, filter HistoryFilter) ([]PublishRecord, error)
}

// Storer is a backend that provides both quota counters and publish history.
type Storer interface {
	QuotaStore
	HistoryStore
	// Close releases the backend's resources.
	Close() error
}

// Refresh lazily creates the counter for key and zeroes it when now has reached its reset
// boundary. The returned counter always has a ResetAt strictly after now.
func Refresh(ctx context.Context, s QuotaStore, key string, now time.Time, next Window) (QuotaCounter, error) {
	return s.UpdateCounter(ctx, key, func(c *QuotaCounter) error {
		rollover(c, now, next)
		return nil
	})
}

// CompareAndIncrement refreshes the counter for key and increments it only if the result stays
// within limit. It consumes one hold, if any, whether or not the increment was allowed. The
// whole sequence runs inside one atomic UpdateCounter call.
func CompareAndIncrement(ctx context.Context, s QuotaStore, key string, limit int, now time.Time, next Window) (Admission, error) {
	// fn may run more than once when a store retries a conflicting transaction.
	var allowed bool
	c, err := s.UpdateCounter(ctx, key, func(c *QuotaCounter) error {
		rollover(c, now, next)
		pruneHolds(c, now)
		dropHold(c)
		allowed = c.Count < limit
		if allowed {
			c.Count++
			c.LastUpdate = now
		}
		return nil
	})
	if err != nil {
		return Admission{}, err
	}
	return admission(allowed, c), nil
}

// Reserve refreshes the counter for key and, when its count plus live holds is below limit,
// adds a hold that expires at now+ttl. Expired holds are dropped first. The check and the hold
// happen in one atomic UpdateCounter call, so concurrent callers sharing a store can never
// reserve more slots than the limit leaves.
func Reserve(ctx context.Context, s QuotaStore, key string, limit int, now time.Time, next Window, ttl time.Duration) (Admission, error) {
	var allowed bool
	c, err := s.UpdateCounter(ctx, key, func(c *QuotaCounter) error {
		rollover(c, now, next)
		pruneHolds(c, now)
		allowed = c.Count+len(c.Holds) < limit
		if allowed {
			c.Holds = append(c.Holds, now.Add(ttl))
		}
		return nil
	})
	if err != nil {
		return Admission{}, err
	}
	return admission(allowed, c), nil
}

// Unreserve drops one hold from key. The counter itself is left alone.
func Unreserve(ctx context.Context, s QuotaStore, key string, now time.Time) error {
	_, err := s.UpdateCounter(ctx, key, func(c *QuotaCounter) error {
		pruneHolds(c, now)
		dropHold(c)
		return nil
	})
	return err
}

// LiveHolds returns the holds of c that have not expired at now.
func LiveHolds(c QuotaCounter, now time.Time) []time.Time {
	var live []time.Time
	for _, exp := range c.Holds {
		if now.Before(exp) {
			live = append(live, exp)
		}
	}
	return live
}

func admission(allowed bool, c QuotaCounter) Admission {
	adm := Admission{Allowed: allowed, Count: c.Count, Held: len(c.Holds), ResetAt: c.ResetAt}
	for _, exp := range c.Holds {
		if adm.HoldExpiry.IsZero() || exp.Before(adm.HoldExpiry) {
			adm.HoldExpiry = exp
		}
	}
	return adm
}

func pruneHolds(c *QuotaCounter, now time.Time) {
	c.Holds = LiveHolds(*c, now)
}

// dropHold removes the hold closest to expiry.
func dropHold(c *QuotaCounter) {
	if len(c.Holds) == 0 {
		return
	}
	first := 0
	for i, exp := range c.Holds {
		if exp.Before(c.Holds[first]) {
			first = i
		}
	}
	c.Holds = append(c.Holds[:first:first], c.Holds[first+1:]...)
	if len(c.Holds) == 0 {
		c.Holds = nil
	}
}

// rollover applies the lazy-create and reset-on-boundary rules to c.
func rollover(c *QuotaCounter, now time.Time, next Window) {
	if c.ResetAt.IsZero() || !now.Before(c.ResetAt) {
		c.Count = 0
		c.ResetAt = next(now)
		c.LastUpdate = now
	}
}

// EncodeHolds renders holds as comma separated unix milliseconds, for text columns and hash fields.
func EncodeHolds(holds []time.Time) string {
	parts := make([]string, len(holds))
	for i, h := range holds {
		parts[i] = strconv.FormatInt(h.UnixMilli(), 10)
	}
	return strings.Join(parts, ",")
}

// DecodeHolds parses the output of EncodeHolds. Malformed entries are skipped.
func DecodeHolds(s string) []time.Time {
	if s == "" {
		return nil
	}
	var holds []time.Time
	for _, part := range strings.Split(s, ",") {
		ms, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		holds = append(holds, time.UnixMilli(ms).UTC())
	}
	return holds
}
