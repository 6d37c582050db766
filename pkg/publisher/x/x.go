// Package x publishes video tweets: chunked media upload followed by tweet creation.
package x

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher"
	"github.com/perpetuallyhorni/trailercast/pkg/ratelimiter"
	"github.com/perpetuallyhorni/trailercast/pkg/tokens"
)

const (
	// ChunkSize is the APPEND segment size.
	ChunkSize = 5 << 20

	defaultPollAttempts = 60
	defaultCheckAfter   = 5 * time.Second
)

// Limiter is the quota collaborator. *ratelimiter.XLimiter satisfies it.
type Limiter interface {
	Reserve(ctx context.Context, tier ratelimiter.Tier) (release func(), err error)
	IncrementCount(ctx context.Context, tier ratelimiter.Tier) error
	GetUsage(ctx context.Context, tier ratelimiter.Tier) (ratelimiter.XUsage, error)
	ResetQuota(ctx context.Context, tier ratelimiter.Tier) error
}

// Config configures the adapter.
type Config struct {
	APIURL       string
	UploadURL    string
	Tier         ratelimiter.Tier
	PollAttempts int
}

// Adapter publishes to X.
type Adapter struct {
	cfg     Config
	deps    publisher.Deps
	limiter Limiter
	api     *trailercast.Caller

	mu   sync.RWMutex
	tier ratelimiter.Tier
}

// New creates an X adapter.
func New(cfg Config, limiter Limiter, deps publisher.Deps) (*Adapter, error) {
	if limiter == nil {
		return nil, errors.New("x adapter requires a rate limiter")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.twitter.com/2"
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = "https://upload.twitter.com/1.1/media/upload.json"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	tier := ratelimiter.TierFree
	if cfg.Tier != "" {
		t, err := ratelimiter.ParseTier(string(cfg.Tier))
		if err != nil {
			return nil, err
		}
		tier = t
	}
	deps = deps.Defaults()
	a := &Adapter{cfg: cfg, deps: deps, limiter: limiter, tier: tier}
	a.api = deps.Caller(trailercast.PlatformX, a.parseError)
	return a, nil
}

// Name returns "x".
func (a *Adapter) Name() string { return "x" }

// Targets returns the single X target.
func (a *Adapter) Targets() []trailercast.Target {
	return []trailercast.Target{trailercast.TargetX}
}

// SetTier switches the account tier used for quota and validation.
func (a *Adapter) SetTier(tier ratelimiter.Tier) error {
	t, err := ratelimiter.ParseTier(string(tier))
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.tier = t
	a.mu.Unlock()
	return nil
}

// GetTier returns the current account tier.
func (a *Adapter) GetTier() ratelimiter.Tier {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tier
}

// Initialize checks that an X token is available.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.deps.TestMode {
		return nil
	}
	_, err := tokens.Require(ctx, a.deps.Tokens, trailercast.PlatformX)
	return err
}

// GetQuotaUsage reports the daily and monthly buckets of the current tier.
func (a *Adapter) GetQuotaUsage(ctx context.Context) ([]ratelimiter.Usage, error) {
	u, err := a.limiter.GetUsage(ctx, a.GetTier())
	if err != nil {
		return nil, err
	}
	return []ratelimiter.Usage{u.Daily, u.Monthly}, nil
}

// ResetQuotas zeroes the counters of the current tier.
func (a *Adapter) ResetQuotas(ctx context.Context) error {
	return a.limiter.ResetQuota(ctx, a.GetTier())
}

// Publish posts job as a video tweet.
func (a *Adapter) Publish(ctx context.Context, target trailercast.Target, job trailercast.PublishJob) trailercast.PublishResult {
	if target != trailercast.TargetX {
		return a.deps.Begin(target).Fail(fmt.Sprintf("x adapter cannot publish to %s", target), 0)
	}
	return a.PublishVideo(ctx, job)
}

// PublishVideo uploads the video and posts the tweet in one call so the media id cannot expire
// between the two. A job without a video posts a text-only tweet.
func (a *Adapter) PublishVideo(ctx context.Context, job trailercast.PublishJob) trailercast.PublishResult {
	att := a.deps.Begin(trailercast.TargetX)
	if a.deps.TestMode {
		att.Trace.Logf("Test mode: skipping X API calls")
		return att.Succeed(trailercast.PublishResult{MediaID: "test_media_123", TweetID: "test_tweet_123", PostID: "test_tweet_123"})
	}

	tok, err := tokens.Require(ctx, a.deps.Tokens, trailercast.PlatformX)
	if err != nil {
		return a.handleError(att, err)
	}

	if job.Video.Empty() && strings.TrimSpace(job.Caption) == "" {
		return a.handleError(att, &trailercast.ValidationError{Reasons: []string{"A tweet needs text or a video"}})
	}

	tier := a.GetTier()
	att.Trace.Logf("Checking X quota (tier %s)", tier)
	release, err := a.limiter.Reserve(ctx, tier)
	if err != nil {
		return a.handleError(att, err)
	}
	held := true
	defer func() {
		if held {
			release()
		}
	}()

	var media uploadedMedia
	if job.Video.Empty() {
		att.Trace.Logf("No video attached, posting text only")
	} else {
		if err := publisher.Validate(ctx, a.deps.Validator, job.Video, "x_"+string(tier), att.Trace); err != nil {
			return a.handleError(att, err)
		}
		data, err := a.deps.Loader.Bytes(ctx, job.Video)
		if err != nil {
			return a.handleError(att, err)
		}
		uploaded, err := a.uploadMedia(ctx, att.Trace, tok.AccessToken, data, job.Video.ContentType())
		if err != nil {
			return a.handleError(att, err)
		}
		media = *uploaded
		if media.expiresAfter > 0 {
			att.Trace.Logf("Media %s expires in %ds", media.id, media.expiresAfter)
		}
		att.Trace.Logf("Posting tweet with media %s", media.id)
	}

	tweetID, err := a.createTweet(ctx, tok.AccessToken, job, media.id)
	if err != nil {
		return a.handleError(att, fmt.Errorf("failed to create tweet: %w", err))
	}
	att.Trace.Logf("Tweet posted: %s", tweetID)

	held = false
	if err := a.limiter.IncrementCount(ctx, tier); err != nil {
		att.Trace.Logf("Warning: failed to record X quota usage: %v", err)
	}
	return att.Succeed(trailercast.PublishResult{MediaID: media.id, TweetID: tweetID, PostID: tweetID})
}

type uploadedMedia struct {
	id           string
	expiresAfter int
}

type processingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
	ProgressPct    int    `json:"progress_percent"`
	Error          *struct {
		Code    int    `json:"code"`
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

type mediaResponse struct {
	MediaID          int64           `json:"media_id"`
	MediaIDString    string          `json:"media_id_string"`
	ExpiresAfterSecs int             `json:"expires_after_secs"`
	ProcessingInfo   *processingInfo `json:"processing_info"`
}

func (m *mediaResponse) id() string {
	if m.MediaIDString != "" {
		return m.MediaIDString
	}
	if m.MediaID != 0 {
		return strconv.FormatInt(m.MediaID, 10)
	}
	return ""
}

// uploadMedia runs INIT, APPEND for every chunk, FINALIZE and STATUS.
func (a *Adapter) uploadMedia(ctx context.Context, tr *trailercast.Trace, token string, data []byte, mimeType string) (*uploadedMedia, error) {
	tr.Logf("Phase 1: INIT (%d bytes)", len(data))
	initForm := url.Values{}
	initForm.Set("command", "INIT")
	initForm.Set("total_bytes", strconv.Itoa(len(data)))
	initForm.Set("media_type", mimeType)
	initForm.Set("media_category", "tweet_video")
	initResp, err := trailercast.RawParsed[mediaResponse](ctx, a.api, trailercast.FormRequest(http.MethodPost, a.cfg.UploadURL, initForm, token))
	if err != nil {
		return nil, fmt.Errorf("INIT failed: %w", err)
	}
	mediaID := initResp.id()
	if mediaID == "" {
		return nil, errors.New("INIT response had no media id")
	}
	tr.Logf("Media id %s", mediaID)

	chunks := chunkCount(len(data))
	for i := 0; i < chunks; i++ {
		start := i * ChunkSize
		end := min(start+ChunkSize, len(data))
		tr.Logf("Phase 2: APPEND chunk %d/%d", i+1, chunks)
		req, err := trailercast.MultipartRequest(a.cfg.UploadURL, map[string]string{
			"command":       "APPEND",
			"media_id":      mediaID,
			"segment_index": strconv.Itoa(i),
		}, "media", "chunk", data[start:end], token)
		if err != nil {
			return nil, err
		}
		if _, err := a.api.Raw(ctx, req); err != nil {
			return nil, fmt.Errorf("APPEND chunk %d/%d failed: %w", i+1, chunks, err)
		}
	}

	tr.Logf("Phase 3: FINALIZE")
	finForm := url.Values{}
	finForm.Set("command", "FINALIZE")
	finForm.Set("media_id", mediaID)
	fin, err := trailercast.RawParsed[mediaResponse](ctx, a.api, trailercast.FormRequest(http.MethodPost, a.cfg.UploadURL, finForm, token))
	if err != nil {
		return nil, fmt.Errorf("FINALIZE failed: %w", err)
	}

	tr.Logf("Phase 4: STATUS")
	if fin.ProcessingInfo == nil {
		tr.Logf("No processing required")
	} else if err := a.waitForProcessing(ctx, tr, token, mediaID, fin.ProcessingInfo); err != nil {
		return nil, err
	}
	return &uploadedMedia{id: mediaID, expiresAfter: fin.ExpiresAfterSecs}, nil
}

// waitForProcessing polls STATUS until the media succeeds or fails, honouring check_after_secs.
func (a *Adapter) waitForProcessing(ctx context.Context, tr *trailercast.Trace, token, mediaID string, info *processingInfo) error {
	if done, err := processingDone(info); done || err != nil {
		return err
	}
	_, err := trailercast.Poll(ctx, trailercast.PollOpt{
		MaxAttempts: a.cfg.PollAttempts,
		Interval:    checkAfter(info),
		Clock:       a.deps.Clock,
	}, func(ctx context.Context, attempt int) (bool, time.Duration, error) {
		query := url.Values{}
		query.Set("command", "STATUS")
		query.Set("media_id", mediaID)
		st, err := trailercast.RawParsed[mediaResponse](ctx, a.api, trailercast.Request{
			Method: http.MethodGet,
			URL:    a.cfg.UploadURL,
			Query:  query,
			Token:  token,
		})
		if err != nil {
			return false, 0, fmt.Errorf("STATUS failed: %w", err)
		}
		if st.ProcessingInfo == nil {
			return true, 0, nil
		}
		tr.Logf("Status check %d: %s (%d%%)", attempt, st.ProcessingInfo.State, st.ProcessingInfo.ProgressPct)
		done, err := processingDone(st.ProcessingInfo)
		return done, checkAfter(st.ProcessingInfo), err
	})
	if err != nil {
		return err
	}
	tr.Logf("Media processing succeeded")
	return nil
}

func processingDone(info *processingInfo) (bool, error) {
	switch info.State {
	case "succeeded":
		return true, nil
	case "failed":
		reason := "unknown error"
		if info.Error != nil && info.Error.Message != "" {
			reason = info.Error.Message
		} else if info.Error != nil && info.Error.Name != "" {
			reason = info.Error.Name
		}
		return false, &trailercast.ProcessingError{Op: "media processing", Reason: reason}
	}
	return false, nil
}

func checkAfter(info *processingInfo) time.Duration {
	if info == nil || info.CheckAfterSecs <= 0 {
		return defaultCheckAfter
	}
	return time.Duration(info.CheckAfterSecs) * time.Second
}

func chunkCount(size int) int {
	if size <= ChunkSize {
		return 1
	}
	return (size + ChunkSize - 1) / ChunkSize
}

type tweetRequest struct {
	Text  string `json:"text,omitempty"`
	Media *struct {
		MediaIDs []string `json:"media_ids"`
	} `json:"media,omitempty"`
	Reply *struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
	QuoteTweetID string `json:"quote_tweet_id,omitempty"`
}

func (a *Adapter) createTweet(ctx context.Context, token string, job trailercast.PublishJob, mediaID string) (string, error) {
	body := tweetRequest{Text: job.Caption, QuoteTweetID: job.QuoteTweetID}
	if mediaID != "" {
		body.Media = &struct {
			MediaIDs []string `json:"media_ids"`
		}{MediaIDs: []string{mediaID}}
	}
	if job.ReplyToTweetID != "" {
		body.Reply = &struct {
			InReplyToTweetID string `json:"in_reply_to_tweet_id"`
		}{InReplyToTweetID: job.ReplyToTweetID}
	}
	req, err := trailercast.JSONRequest(http.MethodPost, a.cfg.APIURL+"/tweets", body, token)
	if err != nil {
		return "", err
	}
	resp, err := trailercast.RawParsed[struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}](ctx, a.api, req)
	if err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", errors.New("tweet response had no id")
	}
	return resp.Data.ID, nil
}

func (a *Adapter) handleError(att *publisher.Attempt, err error) trailercast.PublishResult {
	return att.Error(err, mapError)
}
