package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/perpetuallyhorni/trailercast/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-lock retries when another writer touches the same key.
const maxTxRetries = 16

// Connect builds a client from either a redis:// URL or a bare host:port address.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// QuotaStore keeps quota counters in redis hashes, one hash per bucket key. Updates use
// WATCH/MULTI so concurrent publishers on different hosts never lose an increment or take
// the same reserved slot.
type QuotaStore struct {
	client *redis.Client
	prefix string
}

// NewQuotaStore returns a store that namespaces every key with prefix (e.g. "trailercast:quota:").
func NewQuotaStore(client *redis.Client, prefix string) *QuotaStore {
	return &QuotaStore{client: client, prefix: prefix}
}

func (s *QuotaStore) redisKey(key string) string { return s.prefix + key }

// GetCounter returns the counter for key.
func (s *QuotaStore) GetCounter(ctx context.Context, key string) (storage.QuotaCounter, bool, error) {
	data, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return storage.QuotaCounter{}, false, fmt.Errorf("failed to load quota counter %s: %w", key, err)
	}
	if len(data) == 0 {
		return storage.QuotaCounter{Key: key}, false, nil
	}
	return decodeCounter(key, data), true, nil
}

// UpdateCounter applies fn inside an optimistic transaction on the bucket's hash.
func (s *QuotaStore) UpdateCounter(ctx context.Context, key string, fn func(c *storage.QuotaCounter) error) (storage.QuotaCounter, error) {
	rkey := s.redisKey(key)
	var out storage.QuotaCounter

	txf := func(tx *redis.Tx) error {
		data, err := tx.HGetAll(ctx, rkey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		c := storage.QuotaCounter{Key: key}
		if len(data) > 0 {
			c = decodeCounter(key, data)
		}
		if err := fn(&c); err != nil {
			return err
		}
		c.Key = key
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, rkey,
				"count", c.Count,
				"reset_at", millis(c.ResetAt),
				"last_update", millis(c.LastUpdate),
				"holds", storage.EncodeHolds(c.Holds),
			)
			return nil
		})
		if err != nil {
			return err
		}
		out = c
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, rkey)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return storage.QuotaCounter{}, fmt.Errorf("failed to update quota counter %s: %w", key, err)
	}
	return storage.QuotaCounter{}, fmt.Errorf("failed to update quota counter %s: too much contention", key)
}

// ListCounters scans for keys under prefix and loads each hash.
func (s *QuotaStore) ListCounters(ctx context.Context, prefix string) ([]storage.QuotaCounter, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]storage.QuotaCounter, 0, len(keys))
	for _, rkey := range keys {
		data, err := s.client.HGetAll(ctx, rkey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load quota counter %s: %w", rkey, err)
		}
		if len(data) == 0 {
			continue
		}
		out = append(out, decodeCounter(strings.TrimPrefix(rkey, s.prefix), data))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteCounters removes every key under prefix.
func (s *QuotaStore) DeleteCounters(ctx context.Context, prefix string) error {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete quota counters with prefix %q: %w", prefix, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *QuotaStore) Close() error {
	return s.client.Close()
}

func (s *QuotaStore) scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := s.redisKey(prefix) + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan quota counters: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func decodeCounter(key string, data map[string]string) storage.QuotaCounter {
	c := storage.QuotaCounter{Key: key}
	if raw, ok := data["count"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			c.Count = n
		}
	}
	if raw, ok := data["reset_at"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			c.ResetAt = time.UnixMilli(ms).UTC()
		}
	}
	if raw, ok := data["last_update"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			c.LastUpdate = time.UnixMilli(ms).UTC()
		}
	}
	c.Holds = storage.DecodeHolds(data["holds"])
	return c
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
