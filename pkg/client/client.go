package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/clock"
	"github.com/perpetuallyhorni/trailercast/pkg/config"
	"github.com/perpetuallyhorni/trailercast/pkg/metrics"
	"github.com/perpetuallyhorni/trailercast/pkg/pool"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher"
	"github.com/perpetuallyhorni/trailercast/pkg/ratelimiter"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

// Client is the main entry point: it routes jobs to adapters, records history and keeps metrics.
type Client struct {
	cfg      *config.Config
	db       storage.HistoryStore
	logger   *log.Logger
	clock    clock.Clock
	metrics  *metrics.Metrics
	adapters []publisher.Adapter
	byTarget map[trailercast.Target]publisher.Adapter
}

// New creates a new Client. Each target may be served by only one adapter.
func New(cfg *config.Config, db storage.HistoryStore, logger *log.Logger, adapters ...publisher.Adapter) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	c := &Client{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		clock:    clock.Real{},
		metrics:  metrics.New(),
		byTarget: make(map[trailercast.Target]publisher.Adapter),
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		for _, t := range a.Targets() {
			if prev, ok := c.byTarget[t]; ok {
				return nil, fmt.Errorf("target %s is served by both %s and %s", t, prev.Name(), a.Name())
			}
			c.byTarget[t] = a
		}
		c.adapters = append(c.adapters, a)
	}
	return c, nil
}

// SetClock replaces the clock used for history timestamps.
func (c *Client) SetClock(clk clock.Clock) {
	if clk != nil {
		c.clock = clk
	}
}

// Metrics returns the client's collectors.
func (c *Client) Metrics() *metrics.Metrics { return c.metrics }

// ProgressCallback defines the function signature for progress reporting.
type ProgressCallback func(current, total int, message string)

// noOpProgress is a default empty progress callback.
func noOpProgress(current, total int, message string) {}

// Targets returns every target an adapter is registered for, in canonical order.
func (c *Client) Targets() []trailercast.Target {
	var out []trailercast.Target
	for _, t := range trailercast.AllTargets {
		if _, ok := c.byTarget[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Initialize checks every adapter's credentials. The returned error joins all failures.
func (c *Client) Initialize(ctx context.Context) error {
	var errs []error
	for _, a := range c.adapters {
		if err := a.Initialize(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Publish sends job to one target. Unless force is set, a job whose video has a SourceID that
// was already published to target is skipped.
func (c *Client) Publish(ctx context.Context, target trailercast.Target, job trailercast.PublishJob, force bool) trailercast.PublishResult {
	attemptID := uuid.NewString()
	start := c.clock.Now()

	a, ok := c.byTarget[target]
	if !ok {
		res := trailercast.PublishResult{
			Platform:  target.Platform(),
			Target:    target,
			Error:     fmt.Sprintf("no adapter configured for %s", target),
			AttemptID: attemptID,
		}
		c.metrics.ObservePublish(string(target), metrics.ResultFailure, 0)
		return res
	}

	if job.Video.SourceID != "" && !force {
		exists, err := c.db.PublishExists(ctx, job.Video.SourceID, string(target))
		if err != nil {
			c.logger.Printf("Warning: could not check publish history for %s on %s: %v", job.Video.SourceID, target, err)
		} else if exists {
			msg := fmt.Sprintf("%s was already published to %s", job.Video.SourceID, target)
			c.logger.Printf("[%s] Skipping: %s", target, msg)
			c.metrics.ObservePublish(string(target), metrics.ResultSkipped, 0)
			return trailercast.PublishResult{
				Platform:  target.Platform(),
				Target:    target,
				Error:     msg,
				Skipped:   true,
				Logs:      []string{"Skipped: " + msg},
				AttemptID: attemptID,
			}
		}
	}

	res := a.Publish(ctx, target, job)
	res.AttemptID = attemptID
	took := c.clock.Now().Sub(start)

	switch {
	case res.Success:
		c.metrics.ObservePublish(string(target), metrics.ResultSuccess, took)
		c.record(ctx, attemptID, target, job, res)
	case res.QuotaExceeded:
		c.metrics.QuotaRejected(string(target))
		c.metrics.ObservePublish(string(target), metrics.ResultFailure, took)
	default:
		c.metrics.ObservePublish(string(target), metrics.ResultFailure, took)
	}
	return res
}

// record stores a successful publish. Mock results from test mode are not recorded.
func (c *Client) record(ctx context.Context, id string, target trailercast.Target, job trailercast.PublishJob, res trailercast.PublishResult) {
	if c.cfg.TestMode {
		return
	}
	rec := storage.PublishRecord{
		ID:          id,
		SourceID:    job.Video.SourceID,
		Target:      string(target),
		MediaID:     res.MediaID,
		PostID:      res.RemoteID(),
		Caption:     job.Caption,
		PublishedAt: c.clock.Now(),
	}
	if err := c.db.RecordPublish(ctx, rec); err != nil {
		c.logger.Printf("Warning: failed to record publish %s to %s: %v", id, target, err)
	}
}

// PublishAll sends job to every target in parallel, bounded by MaxWorkers. Results follow the
// order of targets.
func (c *Client) PublishAll(ctx context.Context, job trailercast.PublishJob, targets []trailercast.Target, force bool, progressCb ProgressCallback) []trailercast.PublishResult {
	if progressCb == nil {
		progressCb = noOpProgress
	}
	total := len(targets)
	var mu sync.Mutex
	finished := 0
	report := func(r trailercast.PublishResult) trailercast.PublishResult {
		mu.Lock()
		defer mu.Unlock()
		finished++
		progressCb(finished, total, describe(r))
		return r
	}
	results := pool.Map(ctx, c.cfg.MaxWorkers, targets,
		func(ctx context.Context, t trailercast.Target) trailercast.PublishResult {
			return report(c.Publish(ctx, t, job, force))
		},
		func(t trailercast.Target, err error) trailercast.PublishResult {
			return report(trailercast.PublishResult{
				Platform: t.Platform(),
				Target:   t,
				Error:    fmt.Sprintf("not attempted: %v", err),
			})
		})
	return results
}

func describe(r trailercast.PublishResult) string {
	switch {
	case r.Success:
		return fmt.Sprintf("%s: published %s", r.Target, r.RemoteID())
	case r.Skipped:
		return fmt.Sprintf("%s: skipped", r.Target)
	default:
		return fmt.Sprintf("%s: %s", r.Target, r.Error)
	}
}

// AdapterQuota is the quota usage of one adapter.
type AdapterQuota struct {
	Adapter string              `json:"adapter"`
	Usage   []ratelimiter.Usage `json:"usage"`
	Error   string              `json:"error,omitempty"`
}

// QuotaUsage reports every adapter's buckets. An adapter whose usage cannot be read is reported
// with its error instead of failing the whole call.
func (c *Client) QuotaUsage(ctx context.Context) []AdapterQuota {
	out := make([]AdapterQuota, 0, len(c.adapters))
	for _, a := range c.adapters {
		q := AdapterQuota{Adapter: a.Name()}
		usage, err := a.GetQuotaUsage(ctx)
		if err != nil {
			q.Error = err.Error()
		} else {
			q.Usage = usage
		}
		out = append(out, q)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Adapter < out[j].Adapter })
	return out
}

// ResetQuotas resets the adapter named name, or the adapter serving a platform or target of that
// name. An empty name resets every adapter.
func (c *Client) ResetQuotas(ctx context.Context, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	var matched []publisher.Adapter
	for _, a := range c.adapters {
		if name == "" || c.serves(a, name) {
			matched = append(matched, a)
		}
	}
	if len(matched) == 0 {
		return fmt.Errorf("no adapter matches %q", name)
	}
	for _, a := range matched {
		if err := a.ResetQuotas(ctx); err != nil {
			return fmt.Errorf("failed to reset %s quotas: %w", a.Name(), err)
		}
		c.logger.Printf("Reset %s quotas", a.Name())
	}
	return nil
}

func (c *Client) serves(a publisher.Adapter, name string) bool {
	if a.Name() == name {
		return true
	}
	for _, t := range a.Targets() {
		if string(t) == name || string(t.Platform()) == name {
			return true
		}
	}
	return false
}

// History lists recorded publishes, newest first.
func (c *Client) History(ctx context.Context, filter storage.HistoryFilter) ([]storage.PublishRecord, error) {
	recs, err := c.db.ListPublishes(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list publish history: %w", err)
	}
	return recs, nil
}
