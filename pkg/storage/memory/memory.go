package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

// Store is an in-process storage.Storer guarded by a single mutex. It suits tests and
// single-instance deployments that do not need counters to survive a restart.
type Store struct {
	mu       sync.Mutex
	counters map[string]storage.QuotaCounter
	history  []storage.PublishRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{counters: make(map[string]storage.QuotaCounter)}
}

// GetCounter returns the counter for key.
func (s *Store) GetCounter(_ context.Context, key string) (storage.QuotaCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	c.Holds = slices.Clone(c.Holds)
	return c, ok, nil
}

// UpdateCounter applies fn to the counter for key while holding the store lock.
func (s *Store) UpdateCounter(_ context.Context, key string, fn func(c *storage.QuotaCounter) error) (storage.QuotaCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok {
		c = storage.QuotaCounter{Key: key}
	}
	c.Holds = slices.Clone(c.Holds)
	if err := fn(&c); err != nil {
		return storage.QuotaCounter{}, err
	}
	c.Key = key
	s.counters[key] = c
	c.Holds = slices.Clone(c.Holds)
	return c, nil
}

// ListCounters returns counters with the given key prefix, sorted by key.
func (s *Store) ListCounters(_ context.Context, prefix string) ([]storage.QuotaCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.QuotaCounter
	for k, c := range s.counters {
		if strings.HasPrefix(k, prefix) {
			c.Holds = slices.Clone(c.Holds)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteCounters removes counters with the given key prefix.
func (s *Store) DeleteCounters(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counters {
		if strings.HasPrefix(k, prefix) {
			delete(s.counters, k)
		}
	}
	return nil
}

// RecordPublish appends rec to the history.
func (s *Store) RecordPublish(_ context.Context, rec storage.PublishRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	return nil
}

// PublishExists reports whether sourceID was already published to target.
func (s *Store) PublishExists(_ context.Context, sourceID, target string) (bool, error) {
	if sourceID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.history {
		if rec.SourceID == sourceID && rec.Target == target {
			return true, nil
		}
	}
	return false, nil
}

// ListPublishes returns matching records, newest first.
func (s *Store) ListPublishes(_ context.Context, filter storage.HistoryFilter) ([]storage.PublishRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.PublishRecord
	for i := len(s.history) - 1; i >= 0; i-- {
		rec := s.history[i]
		if filter.Target != "" && rec.Target != filter.Target {
			continue
		}
		if filter.SourceID != "" && rec.SourceID != filter.SourceID {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
