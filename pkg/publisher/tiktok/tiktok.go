// Package tiktok publishes videos through the TikTok Content Posting API (Direct Post, file upload).
package tiktok

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher"
	"github.com/perpetuallyhorni/trailercast/pkg/ratelimiter"
	"github.com/perpetuallyhorni/trailercast/pkg/tokens"
)

const (
	// ChunkSize is the upload chunk size. The last chunk absorbs the remainder.
	ChunkSize = 10 << 20
	// MaxTitleRunes is the longest title TikTok accepts.
	MaxTitleRunes = 150

	defaultPollInterval = 10 * time.Second
	defaultPollAttempts = 30
)

// Limiter is the quota collaborator. *ratelimiter.TikTokLimiter satisfies it.
type Limiter interface {
	Reserve(ctx context.Context) (release func(), err error)
	IncrementCount(ctx context.Context) error
	GetUsage(ctx context.Context) (ratelimiter.TikTokUsage, error)
	ResetQuota(ctx context.Context) error
}

// Config configures the adapter.
type Config struct {
	APIURL       string
	PrivacyLevel string
	PollInterval time.Duration
	PollAttempts int
}

// Adapter publishes to TikTok.
type Adapter struct {
	cfg     Config
	deps    publisher.Deps
	limiter Limiter
	api     *trailercast.Caller
}

// New creates a TikTok adapter.
func New(cfg Config, limiter Limiter, deps publisher.Deps) (*Adapter, error) {
	if limiter == nil {
		return nil, errors.New("tiktok adapter requires a rate limiter")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://open.tiktokapis.com/v2"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.PrivacyLevel == "" {
		cfg.PrivacyLevel = "SELF_ONLY"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	deps = deps.Defaults()
	return &Adapter{
		cfg:     cfg,
		deps:    deps,
		limiter: limiter,
		api:     deps.Caller(trailercast.PlatformTikTok, parseError),
	}, nil
}

// Name returns "tiktok".
func (a *Adapter) Name() string { return "tiktok" }

// Targets returns the single TikTok target.
func (a *Adapter) Targets() []trailercast.Target {
	return []trailercast.Target{trailercast.TargetTikTok}
}

// Initialize checks that a TikTok token is available.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.deps.TestMode {
		return nil
	}
	_, err := tokens.Require(ctx, a.deps.Tokens, trailercast.PlatformTikTok)
	return err
}

// GetQuotaUsage reports the daily and hourly buckets.
func (a *Adapter) GetQuotaUsage(ctx context.Context) ([]ratelimiter.Usage, error) {
	u, err := a.limiter.GetUsage(ctx)
	if err != nil {
		return nil, err
	}
	return []ratelimiter.Usage{u.Daily, u.Hourly}, nil
}

// ResetQuotas zeroes the TikTok counters and the last post time.
func (a *Adapter) ResetQuotas(ctx context.Context) error {
	return a.limiter.ResetQuota(ctx)
}

// Publish posts job to TikTok.
func (a *Adapter) Publish(ctx context.Context, target trailercast.Target, job trailercast.PublishJob) trailercast.PublishResult {
	if target != trailercast.TargetTikTok {
		return a.deps.Begin(target).Fail(fmt.Sprintf("tiktok adapter cannot publish to %s", target), 0)
	}
	return a.PublishVideo(ctx, job)
}

// PublishVideo runs init, chunked upload and status polling.
func (a *Adapter) PublishVideo(ctx context.Context, job trailercast.PublishJob) trailercast.PublishResult {
	att := a.deps.Begin(trailercast.TargetTikTok)
	if a.deps.TestMode {
		att.Trace.Logf("Test mode: skipping TikTok API calls")
		return att.Succeed(trailercast.PublishResult{PublishID: "test_publish_123"})
	}

	tok, err := tokens.Require(ctx, a.deps.Tokens, trailercast.PlatformTikTok)
	if err != nil {
		return a.handleError(att, err)
	}

	att.Trace.Logf("Checking TikTok quota")
	release, err := a.limiter.Reserve(ctx)
	if err != nil {
		return a.handleError(att, err)
	}
	held := true
	defer func() {
		if held {
			release()
		}
	}()

	if err := publisher.Validate(ctx, a.deps.Validator, job.Video, string(trailercast.TargetTikTok), att.Trace); err != nil {
		return a.handleError(att, err)
	}
	if n := utf8.RuneCountInString(postTitle(job)); n > MaxTitleRunes {
		return a.handleError(att, &trailercast.ValidationError{
			Reasons: []string{fmt.Sprintf("Title is %d characters, TikTok allows at most %d", n, MaxTitleRunes)},
		})
	}
	data, err := a.deps.Loader.Bytes(ctx, job.Video)
	if err != nil {
		return a.handleError(att, err)
	}

	att.Trace.Logf("Step 1: Initializing upload")
	plan := planChunks(int64(len(data)))
	session, err := a.initUpload(ctx, tok.AccessToken, job, plan)
	if err != nil {
		return a.handleError(att, fmt.Errorf("failed to initialize upload: %w", err))
	}
	att.Trace.Logf("Upload initialized: publish_id=%s, %d chunk(s)", session.PublishID, plan.count)

	att.Trace.Logf("Step 2: Uploading video")
	if err := a.upload(ctx, att.Trace, session.UploadURL, data, plan); err != nil {
		return a.handleError(att, err)
	}

	att.Trace.Logf("Step 3: Publishing post")
	att.Trace.Logf("Upload complete, TikTok publishes %s once processing finishes", session.PublishID)

	att.Trace.Logf("Step 4: Checking publish status")
	postID, err := a.waitForPublish(ctx, att.Trace, tok.AccessToken, session.PublishID)
	if err != nil {
		return a.handleError(att, err)
	}

	held = false
	if err := a.limiter.IncrementCount(ctx); err != nil {
		att.Trace.Logf("Warning: failed to record TikTok quota usage: %v", err)
	}
	return att.Succeed(trailercast.PublishResult{PublishID: session.PublishID, PostID: postID})
}

type chunkPlan struct {
	size, chunk, count int64
}

// planChunks splits size bytes into ChunkSize chunks. A video smaller than one chunk is sent whole.
func planChunks(size int64) chunkPlan {
	if size <= ChunkSize {
		return chunkPlan{size: size, chunk: size, count: 1}
	}
	return chunkPlan{size: size, chunk: ChunkSize, count: size / ChunkSize}
}

// bounds returns the byte range [start, end) of chunk i.
func (p chunkPlan) bounds(i int64) (int64, int64) {
	start := i * p.chunk
	end := start + p.chunk
	if i == p.count-1 {
		end = p.size
	}
	return start, end
}

type initData struct {
	PublishID string `json:"publish_id"`
	UploadURL string `json:"upload_url"`
}

func (a *Adapter) initUpload(ctx context.Context, token string, job trailercast.PublishJob, plan chunkPlan) (*initData, error) {
	privacy := job.PrivacyLevel
	if privacy == "" {
		privacy = a.cfg.PrivacyLevel
	}
	body := map[string]any{
		"post_info": map[string]any{
			"title":                    postTitle(job),
			"privacy_level":            privacy,
			"disable_comment":          job.DisableComment,
			"disable_duet":             job.DisableDuet,
			"disable_stitch":           job.DisableStitch,
			"video_cover_timestamp_ms": job.VideoCoverTimestampMs,
		},
		"source_info": map[string]any{
			"source":            "FILE_UPLOAD",
			"video_size":        plan.size,
			"chunk_size":        plan.chunk,
			"total_chunk_count": plan.count,
		},
	}
	req, err := trailercast.JSONRequest(http.MethodPost, a.cfg.APIURL+"/post/publish/video/init/", body, token)
	if err != nil {
		return nil, err
	}
	resp, err := trailercast.RawParsed[envelope[initData]](ctx, a.api, req)
	if err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	if resp.Data.PublishID == "" || resp.Data.UploadURL == "" {
		return nil, errors.New("init response is missing publish_id or upload_url")
	}
	return &resp.Data, nil
}

func (a *Adapter) upload(ctx context.Context, tr *trailercast.Trace, uploadURL string, data []byte, plan chunkPlan) error {
	for i := int64(0); i < plan.count; i++ {
		start, end := plan.bounds(i)
		tr.Logf("Uploading chunk %d/%d (bytes %d-%d)", i+1, plan.count, start, end-1)
		header := http.Header{}
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, plan.size))
		_, err := a.api.Raw(ctx, trailercast.Request{
			Method:      http.MethodPut,
			URL:         uploadURL,
			Header:      header,
			Body:        data[start:end],
			ContentType: "video/mp4",
		})
		if err != nil {
			return fmt.Errorf("failed to upload chunk %d/%d: %w", i+1, plan.count, err)
		}
	}
	return nil
}

type statusData struct {
	Status     string  `json:"status"`
	FailReason string  `json:"fail_reason"`
	PostIDs    []int64 `json:"publicaly_available_post_id"`
}

// waitForPublish polls the status endpoint until the post is live or failed.
func (a *Adapter) waitForPublish(ctx context.Context, tr *trailercast.Trace, token, publishID string) (string, error) {
	var postID string
	_, err := trailercast.Poll(ctx, trailercast.PollOpt{
		MaxAttempts: a.cfg.PollAttempts,
		Interval:    a.cfg.PollInterval,
		Clock:       a.deps.Clock,
	}, func(ctx context.Context, attempt int) (bool, time.Duration, error) {
		req, err := trailercast.JSONRequest(http.MethodPost, a.cfg.APIURL+"/post/publish/status/fetch/",
			map[string]string{"publish_id": publishID}, token)
		if err != nil {
			return false, 0, err
		}
		resp, err := trailercast.RawParsed[envelope[statusData]](ctx, a.api, req)
		if err != nil {
			return false, 0, err
		}
		if err := resp.err(); err != nil {
			return false, 0, err
		}
		st := resp.Data
		tr.Logf("Status check %d/%d: %s", attempt, a.cfg.PollAttempts, st.Status)
		switch st.Status {
		case "PUBLISH_COMPLETE", "SEND_TO_USER_INBOX":
			if len(st.PostIDs) > 0 {
				postID = strconv.FormatInt(st.PostIDs[0], 10)
			}
			return true, 0, nil
		case "FAILED":
			reason := st.FailReason
			if reason == "" {
				reason = "unknown reason"
			}
			return false, 0, &trailercast.ProcessingError{Op: "publish", Reason: reason}
		}
		return false, 0, nil
	})
	if err != nil {
		return "", err
	}
	tr.Logf("Post published")
	return postID, nil
}

func (a *Adapter) handleError(att *publisher.Attempt, err error) trailercast.PublishResult {
	return att.Error(err, mapError)
}

// postTitle is the title sent to TikTok. The caption stands in when no title is set.
func postTitle(job trailercast.PublishJob) string {
	if job.Title != "" {
		return job.Title
	}
	return job.Caption
}
