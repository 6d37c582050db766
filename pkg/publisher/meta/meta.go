// Package meta publishes videos to Instagram, Facebook and Threads through the Graph API.
package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher"
	"github.com/perpetuallyhorni/trailercast/pkg/ratelimiter"
	"github.com/perpetuallyhorni/trailercast/pkg/tokens"
)

// maxTransferChunks bounds the Facebook transfer loop in case the server never reports completion.
const maxTransferChunks = 10000

// Limiter is the quota collaborator. *ratelimiter.MetaLimiter satisfies it.
type Limiter interface {
	Reserve(ctx context.Context, bucket string) (release func(), err error)
	IncrementCount(ctx context.Context, bucket string) error
	AllUsage(ctx context.Context) ([]ratelimiter.Usage, error)
	ResetAllQuotas(ctx context.Context) error
}

// Config holds the Graph API location and account ids.
type Config struct {
	GraphURL           string
	InstagramAccountID string
	FacebookPageID     string
}

// Adapter publishes to the Meta family of platforms.
type Adapter struct {
	cfg     Config
	deps    publisher.Deps
	limiter Limiter
	ig      *trailercast.Caller
	fb      *trailercast.Caller
}

// New creates a Meta adapter.
func New(cfg Config, limiter Limiter, deps publisher.Deps) (*Adapter, error) {
	if limiter == nil {
		return nil, errors.New("meta adapter requires a rate limiter")
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = "https://graph.facebook.com/v21.0"
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	deps = deps.Defaults()
	return &Adapter{
		cfg:     cfg,
		deps:    deps,
		limiter: limiter,
		ig:      deps.Caller(trailercast.PlatformInstagram, parseError(trailercast.PlatformInstagram)),
		fb:      deps.Caller(trailercast.PlatformFacebook, parseError(trailercast.PlatformFacebook)),
	}, nil
}

// Name returns "meta".
func (a *Adapter) Name() string { return "meta" }

// Targets lists the Meta targets.
func (a *Adapter) Targets() []trailercast.Target {
	return []trailercast.Target{
		trailercast.TargetInstagramFeed,
		trailercast.TargetInstagramReels,
		trailercast.TargetFacebook,
		trailercast.TargetThreads,
	}
}

// Initialize checks that an Instagram or Facebook token is available.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.deps.TestMode {
		return nil
	}
	_, igErr := tokens.Require(ctx, a.deps.Tokens, trailercast.PlatformInstagram)
	_, fbErr := tokens.Require(ctx, a.deps.Tokens, trailercast.PlatformFacebook)
	if igErr != nil && fbErr != nil {
		return igErr
	}
	return nil
}

// Publish dispatches to the target specific method.
func (a *Adapter) Publish(ctx context.Context, target trailercast.Target, job trailercast.PublishJob) trailercast.PublishResult {
	switch target {
	case trailercast.TargetInstagramFeed:
		return a.PublishToInstagramFeed(ctx, job)
	case trailercast.TargetInstagramReels:
		return a.PublishToInstagramReels(ctx, job)
	case trailercast.TargetFacebook:
		return a.PublishToFacebook(ctx, job)
	case trailercast.TargetThreads:
		return a.PublishToThreads(ctx, job)
	}
	return a.deps.Begin(target).Fail(fmt.Sprintf("meta adapter cannot publish to %s", target), 0)
}

// GetQuotaUsage reports the three Meta buckets.
func (a *Adapter) GetQuotaUsage(ctx context.Context) ([]ratelimiter.Usage, error) {
	return a.limiter.AllUsage(ctx)
}

// ResetQuotas zeroes every Meta bucket.
func (a *Adapter) ResetQuotas(ctx context.Context) error {
	return a.limiter.ResetAllQuotas(ctx)
}

// PublishToInstagramFeed posts a feed video: container, then publish.
func (a *Adapter) PublishToInstagramFeed(ctx context.Context, job trailercast.PublishJob) trailercast.PublishResult {
	return a.publishInstagram(ctx, trailercast.TargetInstagramFeed, job)
}

// PublishToInstagramReels posts a reel: container, then publish.
func (a *Adapter) PublishToInstagramReels(ctx context.Context, job trailercast.PublishJob) trailercast.PublishResult {
	return a.publishInstagram(ctx, trailercast.TargetInstagramReels, job)
}

func (a *Adapter) publishInstagram(ctx context.Context, target trailercast.Target, job trailercast.PublishJob) trailercast.PublishResult {
	att := a.deps.Begin(target)
	reels := target == trailercast.TargetInstagramReels

	if a.deps.TestMode {
		att.Trace.Logf("Test mode: skipping Instagram API calls")
		if reels {
			return att.Succeed(trailercast.PublishResult{MediaID: "test_reel_123", PostID: "test_reel_post_456"})
		}
		return att.Succeed(trailercast.PublishResult{MediaID: "test_media_123", PostID: "test_post_456"})
	}

	tok, err := tokens.Require(ctx, a.deps.Tokens, trailercast.PlatformInstagram)
	if err != nil {
		return a.handleError(att, err)
	}
	if a.cfg.InstagramAccountID == "" {
		return att.Fail("meta.instagram_account_id is not configured", 0)
	}

	bucket := string(target)
	att.Trace.Logf("Checking %s quota", bucket)
	release, err := a.limiter.Reserve(ctx, bucket)
	if err != nil {
		return a.handleError(att, err)
	}
	held := true
	defer func() {
		if held {
			release()
		}
	}()

	if err := publisher.Validate(ctx, a.deps.Validator, job.Video, bucket, att.Trace); err != nil {
		return a.handleError(att, err)
	}
	if job.Video.URL == "" {
		return a.handleError(att, &trailercast.ValidationError{Reasons: []string{"Instagram requires a publicly reachable video URL"}})
	}

	att.Trace.Logf("Step 1: Creating media container")
	form := url.Values{}
	form.Set("video_url", job.Video.URL)
	form.Set("caption", job.Caption)
	if reels {
		form.Set("media_type", "REELS")
		share := job.ShareToFeed == nil || *job.ShareToFeed
		form.Set("share_to_feed", strconv.FormatBool(share))
		if len(job.Collaborators) > 0 {
			collab, err := json.Marshal(job.Collaborators)
			if err != nil {
				return a.handleError(att, fmt.Errorf("failed to encode collaborators: %w", err))
			}
			form.Set("collaborators", string(collab))
		}
	} else {
		form.Set("media_type", "VIDEO")
	}
	if job.ThumbOffsetMs > 0 {
		form.Set("thumb_offset", strconv.Itoa(job.ThumbOffsetMs))
	}
	if job.LocationID != "" {
		form.Set("location_id", job.LocationID)
	}
	if len(job.UserTags) > 0 {
		tags, err := json.Marshal(job.UserTags)
		if err != nil {
			return a.handleError(att, fmt.Errorf("failed to encode user tags: %w", err))
		}
		form.Set("user_tags", string(tags))
	}

	container, err := trailercast.RawParsed[idResponse](ctx, a.ig,
		trailercast.FormRequest(http.MethodPost, a.cfg.GraphURL+"/"+a.cfg.InstagramAccountID+"/media", form, tok.AccessToken))
	if err != nil {
		return a.handleError(att, fmt.Errorf("failed to create media container: %w", err))
	}
	if container.ID == "" {
		return a.handleError(att, errors.New("media container response had no id"))
	}
	att.Trace.Logf("Container created: %s", container.ID)

	att.Trace.Logf("Step 2: Publishing container")
	pubForm := url.Values{}
	pubForm.Set("creation_id", container.ID)
	published, err := trailercast.RawParsed[idResponse](ctx, a.ig,
		trailercast.FormRequest(http.MethodPost, a.cfg.GraphURL+"/"+a.cfg.InstagramAccountID+"/media_publish", pubForm, tok.AccessToken))
	if err != nil {
		return a.handleError(att, fmt.Errorf("failed to publish container: %w", err))
	}
	att.Trace.Logf("Published media: %s", published.ID)

	held = false
	a.recordUsage(ctx, att, bucket)
	return att.Succeed(trailercast.PublishResult{MediaID: container.ID, PostID: published.ID})
}

// PublishToFacebook uploads a page video with the resumable start/transfer/finish protocol.
func (a *Adapter) PublishToFacebook(ctx context.Context, job trailercast.PublishJob) trailercast.PublishResult {
	att := a.deps.Begin(trailercast.TargetFacebook)
	if a.deps.TestMode {
		att.Trace.Logf("Test mode: skipping Facebook API calls")
		return att.Succeed(trailercast.PublishResult{MediaID: "test_fb_video_123", PostID: "test_fb_video_123"})
	}

	tok, err := tokens.Require(ctx, a.deps.Tokens, trailercast.PlatformFacebook)
	if err != nil {
		return a.handleError(att, err)
	}
	if a.cfg.FacebookPageID == "" {
		return att.Fail("meta.facebook_page_id is not configured", 0)
	}

	bucket := ratelimiter.BucketFacebook
	att.Trace.Logf("Checking %s quota", bucket)
	release, err := a.limiter.Reserve(ctx, bucket)
	if err != nil {
		return a.handleError(att, err)
	}
	held := true
	defer func() {
		if held {
			release()
		}
	}()

	if err := publisher.Validate(ctx, a.deps.Validator, job.Video, bucket, att.Trace); err != nil {
		return a.handleError(att, err)
	}

	data, err := a.deps.Loader.Bytes(ctx, job.Video)
	if err != nil {
		return a.handleError(att, err)
	}
	endpoint := a.cfg.GraphURL + "/" + a.cfg.FacebookPageID + "/videos"

	att.Trace.Logf("Step 1: Starting upload session (%d bytes)", len(data))
	startForm := url.Values{}
	startForm.Set("upload_phase", "start")
	startForm.Set("file_size", strconv.Itoa(len(data)))
	session, err := trailercast.RawParsed[uploadSession](ctx, a.fb, trailercast.FormRequest(http.MethodPost, endpoint, startForm, tok.AccessToken))
	if err != nil {
		return a.handleError(att, fmt.Errorf("failed to start upload: %w", err))
	}
	att.Trace.Logf("Upload session %s for video %s", session.UploadSessionID, session.VideoID)

	att.Trace.Logf("Step 2: Transferring video")
	if err := a.transfer(ctx, att.Trace, endpoint, tok.AccessToken, session, data); err != nil {
		return a.handleError(att, err)
	}

	att.Trace.Logf("Step 3: Finishing upload")
	finishForm := url.Values{}
	finishForm.Set("upload_phase", "finish")
	finishForm.Set("upload_session_id", session.UploadSessionID)
	finishForm.Set("description", job.Caption)
	if job.Title != "" {
		finishForm.Set("title", job.Title)
	}
	finish, err := trailercast.RawParsed[struct {
		Success bool `json:"success"`
	}](ctx, a.fb, trailercast.FormRequest(http.MethodPost, endpoint, finishForm, tok.AccessToken))
	if err != nil {
		return a.handleError(att, fmt.Errorf("failed to finish upload: %w", err))
	}
	if !finish.Success {
		return a.handleError(att, &trailercast.ProcessingError{Op: "upload finish", Reason: "Facebook did not confirm the upload"})
	}
	att.Trace.Logf("Video published: %s", session.VideoID)

	held = false
	a.recordUsage(ctx, att, bucket)
	return att.Succeed(trailercast.PublishResult{MediaID: session.VideoID, PostID: session.VideoID})
}

// transfer sends the byte ranges the server asks for until it reports start == end.
func (a *Adapter) transfer(ctx context.Context, tr *trailercast.Trace, endpoint, token string, session *uploadSession, data []byte) error {
	start, end, err := session.offsets()
	if err != nil {
		return err
	}
	for chunk := 1; start < end; chunk++ {
		if chunk > maxTransferChunks {
			return errors.New("upload transfer did not complete")
		}
		if start < 0 || end > int64(len(data)) {
			return fmt.Errorf("server requested invalid byte range %d-%d of %d", start, end, len(data))
		}
		tr.Logf("Transferring chunk %d: bytes %d-%d of %d", chunk, start, end, len(data))
		req, err := trailercast.MultipartRequest(endpoint, map[string]string{
			"upload_phase":      "transfer",
			"upload_session_id": session.UploadSessionID,
			"start_offset":      strconv.FormatInt(start, 10),
		}, "video_file_chunk", "chunk", data[start:end], token)
		if err != nil {
			return err
		}
		next, err := trailercast.RawParsed[uploadSession](ctx, a.fb, req)
		if err != nil {
			return fmt.Errorf("failed to transfer chunk %d: %w", chunk, err)
		}
		nextStart, nextEnd, err := next.offsets()
		if err != nil {
			return err
		}
		if nextStart <= start && nextStart < nextEnd {
			return fmt.Errorf("upload stalled at offset %d", start)
		}
		start, end = nextStart, nextEnd
	}
	return nil
}

// PublishToThreads is not backed by an API integration yet and always fails outside test mode.
func (a *Adapter) PublishToThreads(_ context.Context, _ trailercast.PublishJob) trailercast.PublishResult {
	att := a.deps.Begin(trailercast.TargetThreads)
	if a.deps.TestMode {
		att.Trace.Logf("Test mode: skipping Threads API calls")
		return att.Succeed(trailercast.PublishResult{MediaID: "test_threads_123", PostID: "test_threads_123"})
	}
	return att.Fail("Threads publishing is not available yet: the Threads API integration has not been released for this account type", 0)
}

func (a *Adapter) recordUsage(ctx context.Context, att *publisher.Attempt, bucket string) {
	if err := a.limiter.IncrementCount(ctx, bucket); err != nil {
		att.Trace.Logf("Warning: failed to record %s quota usage: %v", bucket, err)
		return
	}
	att.Trace.Logf("Recorded %s quota usage", bucket)
}

func (a *Adapter) handleError(att *publisher.Attempt, err error) trailercast.PublishResult {
	return att.Error(err, mapError)
}

type idResponse struct {
	ID string `json:"id"`
}

type uploadSession struct {
	VideoID         string `json:"video_id"`
	UploadSessionID string `json:"upload_session_id"`
	StartOffset     string `json:"start_offset"`
	EndOffset       string `json:"end_offset"`
}

func (s *uploadSession) offsets() (int64, int64, error) {
	start, err := strconv.ParseInt(s.StartOffset, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start_offset %q: %w", s.StartOffset, err)
	}
	end, err := strconv.ParseInt(s.EndOffset, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end_offset %q: %w", s.EndOffset, err)
	}
	return start, end, nil
}
