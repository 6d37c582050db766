// Package publisher defines the capability every platform adapter implements and the
// collaborators adapters are constructed with.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/clock"
	"github.com/perpetuallyhorni/trailercast/pkg/ratelimiter"
	"github.com/perpetuallyhorni/trailercast/pkg/tokens"
	"github.com/perpetuallyhorni/trailercast/pkg/validator"
)

// Adapter publishes to one platform. Publish never returns an error: every failure is
// reported through PublishResult.
type Adapter interface {
	// Name identifies the adapter, e.g. "meta".
	Name() string
	// Targets lists the targets this adapter serves.
	Targets() []trailercast.Target
	// Initialize fails if the adapter has no usable token.
	Initialize(ctx context.Context) error
	Publish(ctx context.Context, target trailercast.Target, job trailercast.PublishJob) trailercast.PublishResult
	GetQuotaUsage(ctx context.Context) ([]ratelimiter.Usage, error)
	ResetQuotas(ctx context.Context) error
}

// Deps are the collaborators shared by every adapter.
type Deps struct {
	HTTPClient *http.Client
	Tokens     tokens.Store
	Validator  validator.Validator
	Clock      clock.Clock
	Logger     *log.Logger
	Pacer      trailercast.Pacer
	Loader     *trailercast.Loader
	// TestMode short-circuits every network call and returns deterministic mock results.
	TestMode bool
	// Debug logs raw API responses.
	Debug bool
}

// Defaults fills unset collaborators. Tokens and Validator are left as they are.
func (d Deps) Defaults() Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = log.New(io.Discard, "", 0)
	}
	if d.Loader == nil {
		d.Loader = trailercast.NewLoader(d.HTTPClient, "", d.Logger)
	}
	return d
}

// Caller returns an API caller for platform wired to these deps.
func (d Deps) Caller(platform trailercast.Platform, parse trailercast.ErrorParser) *trailercast.Caller {
	return &trailercast.Caller{
		Platform:   platform,
		HTTP:       d.HTTPClient,
		Pacer:      d.Pacer,
		Logger:     d.Logger,
		Debug:      d.Debug,
		ParseError: parse,
	}
}

// Attempt tracks one publish call: its trace and start time.
type Attempt struct {
	Trace  *trailercast.Trace
	target trailercast.Target
	clock  clock.Clock
	start  time.Time
}

// Begin starts an attempt for target.
func (d Deps) Begin(target trailercast.Target) *Attempt {
	return &Attempt{
		Trace:  trailercast.NewTrace(d.Logger, string(target)),
		target: target,
		clock:  d.Clock,
		start:  d.Clock.Now(),
	}
}

// Succeed builds the success result. ids fills the platform specific id fields.
func (a *Attempt) Succeed(ids trailercast.PublishResult) trailercast.PublishResult {
	ids.Success = true
	return a.finish(ids)
}

// Fail builds a failure result.
func (a *Attempt) Fail(message string, retryAfter int) trailercast.PublishResult {
	a.Trace.Logf("Error: %s", message)
	return a.finish(trailercast.PublishResult{Error: message, RetryAfter: retryAfter})
}

// Error builds a failure result from err, mapping API errors through mapAPI.
func (a *Attempt) Error(err error, mapAPI APIMapper) trailercast.PublishResult {
	msg, retry := Describe(err, mapAPI)
	a.Trace.Logf("Error: %s", msg)
	var qe *ratelimiter.QuotaExceededError
	return a.finish(trailercast.PublishResult{Error: msg, RetryAfter: retry, QuotaExceeded: errors.As(err, &qe)})
}

func (a *Attempt) finish(r trailercast.PublishResult) trailercast.PublishResult {
	r.Platform = a.target.Platform()
	r.Target = a.target
	r.Logs = a.Trace.Lines()
	r.ProcessingTime = a.clock.Now().Sub(a.start).Milliseconds()
	return r
}

// Validate runs v for key and converts a failing report into *trailercast.ValidationError.
// A nil validator skips validation.
func Validate(ctx context.Context, v validator.Validator, video trailercast.Video, key string, tr *trailercast.Trace) error {
	if v == nil {
		tr.Logf("Validation skipped: no validator configured")
		return nil
	}
	report, err := v.Validate(ctx, video, key)
	if err != nil {
		return fmt.Errorf("failed to validate video: %w", err)
	}
	for _, w := range report.Warnings {
		tr.Logf("Validation warning: %s", w)
	}
	for _, r := range report.Recommendations {
		tr.Logf("Recommendation: %s", r)
	}
	if !report.Valid {
		reasons := report.Errors
		if len(reasons) == 0 {
			reasons = []string{"validator rejected the video"}
		}
		return &trailercast.ValidationError{Reasons: reasons}
	}
	tr.Logf("Video validation passed")
	return nil
}

// APIMapper turns a platform API error into a user message and a retry hint in seconds.
type APIMapper func(e *trailercast.APIError) (message string, retryAfter int)

// Describe maps err through the shared taxonomy. API errors go through mapAPI.
func Describe(err error, mapAPI APIMapper) (string, int) {
	var qe *ratelimiter.QuotaExceededError
	if errors.As(err, &qe) {
		return qe.Error(), qe.RetryAfterSeconds()
	}
	var apiErr *trailercast.APIError
	if errors.As(err, &apiErr) && mapAPI != nil {
		return mapAPI(apiErr)
	}
	if errors.Is(err, context.Canceled) {
		return "publish cancelled", 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "publish timed out", 0
	}
	return err.Error(), 0
}

// RetryAfterHeader returns the whole seconds until the unix timestamp in header, or 0.
func RetryAfterHeader(h http.Header, name string, now time.Time) int {
	raw := h.Get(name)
	if raw == "" {
		return 0
	}
	var epoch int64
	if _, err := fmt.Sscan(raw, &epoch); err != nil || epoch <= 0 {
		return 0
	}
	secs := epoch - now.Unix()
	if secs < 1 {
		return 1
	}
	return int(secs)
}
