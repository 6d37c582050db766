package x

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/clock"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher"
	"github.com/perpetuallyhorni/trailercast/pkg/ratelimiter"
	"github.com/perpetuallyhorni/trailercast/pkg/storage/memory"
	"github.com/perpetuallyhorni/trailercast/pkg/tokens"
	"github.com/perpetuallyhorni/trailercast/pkg/validator"
)

var epoch = time.Date(2026, 7, 1, 15, 0, 0, 0, time.UTC)

type fakeX struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	commands []string
	appended bytes.Buffer
	segments []string
	statuses int
	tweet    map[string]any

	finalize string
	status   func(n int) string
	// tweetStatus and tweetBody override the tweet response.
	tweetStatus int
	tweetBody   string
	tweetHeader http.Header
}

func newFakeX(t *testing.T) *fakeX {
	f := &fakeX{
		t:        t,
		finalize: `{"media_id_string":"m-1","expires_after_secs":86400,"processing_info":{"state":"pending","check_after_secs":3}}`,
		status: func(n int) string {
			if n == 1 {
				return `{"media_id_string":"m-1","processing_info":{"state":"in_progress","check_after_secs":7,"progress_percent":40}}`
			}
			return `{"media_id_string":"m-1","processing_info":{"state":"succeeded","progress_percent":100}}`
		},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeX) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/upload":
		cmd := r.FormValue("command")
		f.commands = append(f.commands, cmd)
		switch cmd {
		case "INIT":
			if r.FormValue("media_category") != "tweet_video" {
				f.t.Errorf("media_category = %q", r.FormValue("media_category"))
			}
			fmt.Fprint(w, `{"media_id":1,"media_id_string":"m-1","expires_after_secs":86400}`)
		case "APPEND":
			file, _, err := r.FormFile("media")
			if err != nil {
				f.t.Error(err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = io.Copy(&f.appended, file)
			f.segments = append(f.segments, r.FormValue("segment_index"))
			w.WriteHeader(http.StatusNoContent)
		case "FINALIZE":
			fmt.Fprint(w, f.finalize)
		case "STATUS":
			f.statuses++
			fmt.Fprint(w, f.status(f.statuses))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	case "/2/tweets":
		f.commands = append(f.commands, "TWEET")
		for k, vs := range f.tweetHeader {
			w.Header()[k] = vs
		}
		if f.tweetStatus != 0 {
			w.WriteHeader(f.tweetStatus)
			fmt.Fprint(w, f.tweetBody)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f.tweet); err != nil {
			f.t.Error(err)
		}
		fmt.Fprint(w, `{"data":{"id":"tw-9","text":"hi"}}`)
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	adapter *Adapter
	limiter *ratelimiter.XLimiter
	clock   *clock.Fake
}

func newHarness(t *testing.T, f *fakeX, mutate func(*publisher.Deps)) *harness {
	t.Helper()
	clk := clock.NewFake(epoch)
	limiter := ratelimiter.NewXLimiter(memory.New(), clk)
	deps := publisher.Deps{
		HTTPClient: f.srv.Client(),
		Tokens:     tokens.NewStatic(map[trailercast.Platform]string{trailercast.PlatformX: "x-token"}),
		Clock:      clk,
	}
	if mutate != nil {
		mutate(&deps)
	}
	a, err := New(Config{APIURL: f.srv.URL + "/2", UploadURL: f.srv.URL + "/upload"}, limiter, deps)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{adapter: a, limiter: limiter, clock: clk}
}

func videoJob(size int) trailercast.PublishJob {
	data := bytes.Repeat([]byte{'v'}, size)
	return trailercast.PublishJob{Video: trailercast.Video{Data: data}, Caption: "Trailer out now"}
}

func TestTestModeReturnsMockIDs(t *testing.T) {
	f := newFakeX(t)
	h := newHarness(t, f, func(d *publisher.Deps) { d.TestMode = true })
	res := h.adapter.Publish(context.Background(), trailercast.TargetX, videoJob(10))
	if !res.Success || res.MediaID != "test_media_123" || res.TweetID != "test_tweet_123" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.commands) != 0 {
		t.Fatalf("expected no requests, got %v", f.commands)
	}
}

func TestPublishVideo(t *testing.T) {
	f := newFakeX(t)
	h := newHarness(t, f, nil)
	size := 2*ChunkSize + 17

	res := h.adapter.PublishVideo(context.Background(), videoJob(size))
	if !res.Success {
		t.Fatalf("publish failed: %s (logs %q)", res.Error, res.Logs)
	}
	if res.TweetID != "tw-9" || res.MediaID != "m-1" || res.Platform != trailercast.PlatformX {
		t.Fatalf("unexpected result %+v", res)
	}
	want := "INIT,APPEND,APPEND,APPEND,FINALIZE,STATUS,STATUS,TWEET"
	if got := strings.Join(f.commands, ","); got != want {
		t.Fatalf("commands %s, want %s", got, want)
	}
	if f.appended.Len() != size || strings.Join(f.segments, ",") != "0,1,2" {
		t.Fatalf("appended %d bytes in segments %v", f.appended.Len(), f.segments)
	}
	sleeps := h.clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 3*time.Second || sleeps[1] != 7*time.Second {
		t.Fatalf("status waits %v, want [3s 7s]", sleeps)
	}
	ids := f.tweet["media"].(map[string]any)["media_ids"].([]any)
	if len(ids) != 1 || ids[0] != "m-1" || f.tweet["text"] != "Trailer out now" {
		t.Fatalf("unexpected tweet body %v", f.tweet)
	}
	assertOrdered(t, res.Logs, "Phase 1: INIT", "Phase 2: APPEND chunk 1/3", "Phase 2: APPEND chunk 3/3", "Phase 3: FINALIZE", "Phase 4: STATUS")

	u, err := h.limiter.GetUsage(context.Background(), ratelimiter.TierFree)
	if err != nil {
		t.Fatal(err)
	}
	if u.Daily.Used != 1 || u.Monthly.Used != 1 {
		t.Fatalf("quota not recorded: %+v", u)
	}
}

func TestTextOnlyTweet(t *testing.T) {
	f := newFakeX(t)
	h := newHarness(t, f, nil)
	ctx := context.Background()

	res := h.adapter.Publish(ctx, trailercast.TargetX, trailercast.PublishJob{Caption: "Trailer drops Friday"})
	if !res.Success || res.TweetID != "tw-9" || res.MediaID != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := strings.Join(f.commands, ","); got != "TWEET" {
		t.Fatalf("commands %s, want TWEET", got)
	}
	if _, ok := f.tweet["media"]; ok || f.tweet["text"] != "Trailer drops Friday" {
		t.Fatalf("unexpected tweet body %v", f.tweet)
	}
	u, _ := h.limiter.GetUsage(ctx, ratelimiter.TierFree)
	if u.Daily.Used != 1 {
		t.Fatalf("text tweet not counted: %+v", u)
	}

	// Neither text nor video is rejected before any request.
	res = h.adapter.Publish(ctx, trailercast.TargetX, trailercast.PublishJob{Caption: "  "})
	if res.Success || !strings.Contains(res.Error, "needs text or a video") || len(f.commands) != 1 {
		t.Fatalf("unexpected result %+v (commands %v)", res, f.commands)
	}
}

func TestNoProcessingSkipsStatusPolling(t *testing.T) {
	f := newFakeX(t)
	f.finalize = `{"media_id_string":"m-1"}`
	h := newHarness(t, f, nil)
	res := h.adapter.PublishVideo(context.Background(), videoJob(100))
	if !res.Success {
		t.Fatalf("publish failed: %s", res.Error)
	}
	if f.statuses != 0 || len(h.clock.Sleeps()) != 0 {
		t.Fatalf("unexpected polling: %d checks", f.statuses)
	}
}

func TestMediaProcessingFailure(t *testing.T) {
	f := newFakeX(t)
	f.status = func(int) string {
		return `{"processing_info":{"state":"failed","error":{"code":1,"name":"InvalidMedia","message":"Unsupported video codec"}}}`
	}
	h := newHarness(t, f, nil)
	res := h.adapter.PublishVideo(context.Background(), videoJob(100))
	if res.Success || res.Error != "media processing failed: Unsupported video codec" {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, c := range f.commands {
		if c == "TWEET" {
			t.Fatal("tweet posted after failed processing")
		}
	}
}

func TestStatusTimeout(t *testing.T) {
	f := newFakeX(t)
	f.status = func(int) string { return `{"processing_info":{"state":"in_progress"}}` }
	h := newHarness(t, f, nil)
	res := h.adapter.PublishVideo(context.Background(), videoJob(100))
	if res.Success || !strings.Contains(res.Error, "processing timeout") {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.statuses != 60 {
		t.Fatalf("expected 60 status checks, got %d", f.statuses)
	}
	if sleeps := h.clock.Sleeps(); sleeps[1] != 5*time.Second {
		t.Fatalf("expected the 5s fallback wait, got %v", sleeps[1])
	}
}

func TestRateLimitUsesResetHeader(t *testing.T) {
	f := newFakeX(t)
	f.tweetStatus = http.StatusTooManyRequests
	f.tweetBody = `{"title":"Too Many Requests","detail":"Too Many Requests","type":"about:blank","status":429}`
	f.tweetHeader = http.Header{"X-Rate-Limit-Reset": {fmt.Sprint(epoch.Unix() + 120)}}
	h := newHarness(t, f, func(d *publisher.Deps) { d.Clock = clock.NewFake(epoch) })
	res := h.adapter.PublishVideo(context.Background(), videoJob(100))
	if res.Success || !strings.Contains(res.Error, "rate limit") {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RetryAfter != 120 {
		t.Fatalf("retryAfter = %d, want 120", res.RetryAfter)
	}
}

func TestRateLimitWithoutHeader(t *testing.T) {
	f := newFakeX(t)
	f.tweetStatus = http.StatusTooManyRequests
	f.tweetBody = `{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`
	h := newHarness(t, f, nil)
	res := h.adapter.PublishVideo(context.Background(), videoJob(100))
	if res.RetryAfter != 900 {
		t.Fatalf("retryAfter = %d, want 900", res.RetryAfter)
	}
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{89, "re-authenticate"},
		{324, "Media processing failed: bad media"},
		{386, "too long"},
		{187, "bad media"},
	}
	for _, c := range cases {
		t.Run(fmt.Sprint(c.code), func(t *testing.T) {
			f := newFakeX(t)
			f.tweetStatus = http.StatusForbidden
			f.tweetBody = fmt.Sprintf(`{"errors":[{"code":%d,"message":"bad media"}]}`, c.code)
			h := newHarness(t, f, nil)
			res := h.adapter.PublishVideo(context.Background(), videoJob(100))
			if res.Success || !strings.Contains(res.Error, c.want) {
				t.Fatalf("error %q does not contain %q", res.Error, c.want)
			}
		})
	}
}

func TestTierIsolation(t *testing.T) {
	f := newFakeX(t)
	var keys []string
	h := newHarness(t, f, func(d *publisher.Deps) {
		d.Validator = validator.Func(func(_ context.Context, _ trailercast.Video, key string) (validator.Report, error) {
			keys = append(keys, key)
			return validator.Report{Valid: true}, nil
		})
	})
	if err := h.adapter.SetTier(ratelimiter.TierPro); err != nil {
		t.Fatal(err)
	}
	if res := h.adapter.PublishVideo(context.Background(), videoJob(100)); !res.Success {
		t.Fatalf("publish failed: %s", res.Error)
	}
	if len(keys) != 1 || keys[0] != "x_pro" {
		t.Fatalf("validated with %v", keys)
	}
	ctx := context.Background()
	pro, _ := h.limiter.GetUsage(ctx, ratelimiter.TierPro)
	free, _ := h.limiter.GetUsage(ctx, ratelimiter.TierFree)
	if pro.Daily.Used != 1 || free.Daily.Used != 0 {
		t.Fatalf("pro=%d free=%d", pro.Daily.Used, free.Daily.Used)
	}
	usage, err := h.adapter.GetQuotaUsage(ctx)
	if err != nil || len(usage) != 2 || usage[0].Limit != 10000 {
		t.Fatalf("unexpected usage %+v err=%v", usage, err)
	}
}

func TestSetTierRejectsUnknown(t *testing.T) {
	h := newHarness(t, newFakeX(t), nil)
	if err := h.adapter.SetTier("platinum"); err == nil {
		t.Fatal("expected an error for an unknown tier")
	}
	if h.adapter.GetTier() != ratelimiter.TierFree {
		t.Fatalf("tier changed to %s", h.adapter.GetTier())
	}
}

func TestDailyLimitFailsFast(t *testing.T) {
	f := newFakeX(t)
	h := newHarness(t, f, nil)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if err := h.limiter.IncrementCount(ctx, ratelimiter.TierFree); err != nil {
			t.Fatal(err)
		}
	}
	res := h.adapter.PublishVideo(ctx, videoJob(100))
	if res.Success || !strings.Contains(res.Error, "Daily tweet limit exceeded") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.commands) != 0 {
		t.Fatalf("quota rejection made requests: %v", f.commands)
	}
}

func assertOrdered(t *testing.T, logs []string, want ...string) {
	t.Helper()
	pos := 0
	for _, line := range logs {
		if pos < len(want) && strings.Contains(line, want[pos]) {
			pos++
		}
	}
	if pos != len(want) {
		t.Fatalf("logs %q missing %q in order", logs, want[pos])
	}
}
