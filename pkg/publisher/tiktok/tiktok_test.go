package tiktok

import (
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
)

// fakeTikTok serves the init, upload and status endpoints.
type fakeTikTok struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	calls    []string
	initBody map[string]any
	uploaded []byte
	ranges   []string
	statuses int
	// status returns the status payload for the n-th check (1 based).
	status  func(n int) string
	initErr string
}

func newFakeTikTok(t *testing.T) *fakeTikTok {
	f := &fakeTikTok{t: t, status: func(int) string { return `{"status":"PUBLISH_COMPLETE","publicaly_available_post_id":[7123]}` }}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTikTok) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	switch r.URL.Path {
	case "/post/publish/video/init/":
		if r.Header.Get("Authorization") != "Bearer tt-token" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"code":"access_token_invalid","message":"token invalid"}}`)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f.initBody); err != nil {
			f.t.Error(err)
		}
		if f.initErr != "" {
			fmt.Fprintf(w, `{"data":{},"error":{"code":%q,"message":"rejected"}}`, f.initErr)
			return
		}
		fmt.Fprintf(w, `{"data":{"publish_id":"pub-1","upload_url":"%s/upload"},"error":{"code":"ok","message":""}}`, f.srv.URL)
	case "/upload":
		body, _ := io.ReadAll(r.Body)
		f.uploaded = append(f.uploaded, body...)
		f.ranges = append(f.ranges, r.Header.Get("Content-Range"))
		w.WriteHeader(http.StatusCreated)
	case "/post/publish/status/fetch/":
		f.statuses++
		fmt.Fprintf(w, `{"data":%s,"error":{"code":"ok"}}`, f.status(f.statuses))
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	adapter *Adapter
	limiter *ratelimiter.TikTokLimiter
	clock   *clock.Fake
}

func newHarness(t *testing.T, apiURL string, mutate func(*publisher.Deps)) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC))
	limiter := ratelimiter.NewTikTokLimiter(memory.New(), clk, time.UTC)
	deps := publisher.Deps{
		HTTPClient: http.DefaultClient,
		Tokens:     tokens.NewStatic(map[trailercast.Platform]string{trailercast.PlatformTikTok: "tt-token"}),
		Clock:      clk,
	}
	if mutate != nil {
		mutate(&deps)
	}
	a, err := New(Config{APIURL: apiURL}, limiter, deps)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{adapter: a, limiter: limiter, clock: clk}
}

func job(data string) trailercast.PublishJob {
	return trailercast.PublishJob{Video: trailercast.Video{Data: []byte(data)}, Title: "Official trailer"}
}

func TestTestModeReturnsMockID(t *testing.T) {
	f := newFakeTikTok(t)
	h := newHarness(t, f.srv.URL, func(d *publisher.Deps) { d.TestMode = true })
	res := h.adapter.Publish(context.Background(), trailercast.TargetTikTok, job("video"))
	if !res.Success || res.PublishID != "test_publish_123" || res.Platform != trailercast.PlatformTikTok {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.calls) != 0 {
		t.Fatalf("expected no requests, got %v", f.calls)
	}
}

func TestPublishVideo(t *testing.T) {
	f := newFakeTikTok(t)
	f.status = func(n int) string {
		if n < 3 {
			return `{"status":"PROCESSING_UPLOAD"}`
		}
		return `{"status":"PUBLISH_COMPLETE","publicaly_available_post_id":[7123]}`
	}
	h := newHarness(t, f.srv.URL, nil)

	res := h.adapter.PublishVideo(context.Background(), job("0123456789"))
	if !res.Success {
		t.Fatalf("publish failed: %s (logs %q)", res.Error, res.Logs)
	}
	if res.PublishID != "pub-1" || res.PostID != "7123" {
		t.Fatalf("unexpected ids %+v", res)
	}
	if string(f.uploaded) != "0123456789" || len(f.ranges) != 1 || f.ranges[0] != "bytes 0-9/10" {
		t.Fatalf("unexpected upload %q ranges %v", f.uploaded, f.ranges)
	}
	source := f.initBody["source_info"].(map[string]any)
	if source["source"] != "FILE_UPLOAD" || source["video_size"] != float64(10) || source["total_chunk_count"] != float64(1) {
		t.Fatalf("unexpected source_info %v", source)
	}
	post := f.initBody["post_info"].(map[string]any)
	if post["privacy_level"] != "SELF_ONLY" || post["title"] != "Official trailer" {
		t.Fatalf("unexpected post_info %v", post)
	}
	if f.statuses != 3 {
		t.Fatalf("expected 3 status checks, got %d", f.statuses)
	}
	assertOrdered(t, res.Logs,
		"Step 1: Initializing upload",
		"Step 2: Uploading video",
		"Step 3: Publishing post",
		"Step 4: Checking publish status")

	u, err := h.limiter.GetUsage(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if u.Daily.Used != 1 || u.Hourly.Used != 1 || !u.LastPostAt.Equal(h.clock.Now()) {
		t.Fatalf("quota not recorded: %+v", u)
	}
}

func TestPollTimeout(t *testing.T) {
	f := newFakeTikTok(t)
	f.status = func(int) string { return `{"status":"PROCESSING_UPLOAD"}` }
	h := newHarness(t, f.srv.URL, nil)

	res := h.adapter.PublishVideo(context.Background(), job("video"))
	if res.Success || !strings.Contains(res.Error, "processing timeout") {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.statuses != 30 {
		t.Fatalf("expected exactly 30 status checks, got %d", f.statuses)
	}
	sleeps := h.clock.Sleeps()
	if len(sleeps) != 30 || sleeps[0] != 10*time.Second {
		t.Fatalf("unexpected waits %v", sleeps)
	}
	u, _ := h.limiter.GetUsage(context.Background())
	if u.Daily.Used != 0 {
		t.Fatalf("failed publish consumed quota: %+v", u.Daily)
	}
}

func TestPublishFailed(t *testing.T) {
	f := newFakeTikTok(t)
	f.status = func(int) string { return `{"status":"FAILED","fail_reason":"file_format_check_failed"}` }
	h := newHarness(t, f.srv.URL, nil)

	res := h.adapter.PublishVideo(context.Background(), job("video"))
	if res.Success || res.Error != "publish failed: file_format_check_failed" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.statuses != 1 {
		t.Fatalf("expected polling to stop after FAILED, got %d checks", f.statuses)
	}
}

func TestErrorInSuccessfulResponse(t *testing.T) {
	f := newFakeTikTok(t)
	f.initErr = "spam_risk_too_many_posts"
	h := newHarness(t, f.srv.URL, nil)

	res := h.adapter.PublishVideo(context.Background(), job("video"))
	if res.Success || res.RetryAfter != 86400 || !strings.Contains(res.Error, "too many posts") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.ranges) != 0 {
		t.Fatal("upload must not start after a rejected init")
	}
}

func TestInvalidToken(t *testing.T) {
	f := newFakeTikTok(t)
	h := newHarness(t, f.srv.URL, func(d *publisher.Deps) {
		d.Tokens = tokens.NewStatic(map[trailercast.Platform]string{trailercast.PlatformTikTok: "stale"})
	})
	res := h.adapter.PublishVideo(context.Background(), job("video"))
	if res.Success || !strings.Contains(res.Error, "re-authenticate") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMinimumGapBlocksSecondPost(t *testing.T) {
	f := newFakeTikTok(t)
	h := newHarness(t, f.srv.URL, nil)
	ctx := context.Background()

	if res := h.adapter.PublishVideo(ctx, job("first")); !res.Success {
		t.Fatalf("first publish failed: %s", res.Error)
	}
	before := len(f.calls)
	h.clock.Advance(30 * time.Minute)
	res := h.adapter.PublishVideo(ctx, job("second"))
	if res.Success || !strings.Contains(res.Error, "Minimum 1h gap") {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RetryAfter <= 0 || res.RetryAfter > 3600 {
		t.Fatalf("retryAfter = %d", res.RetryAfter)
	}
	if len(f.calls) != before {
		t.Fatalf("quota rejection made requests: %v", f.calls[before:])
	}
}

func TestLongTitleIsRejected(t *testing.T) {
	f := newFakeTikTok(t)
	h := newHarness(t, f.srv.URL, nil)
	j := job("video")
	j.Title = strings.Repeat("é", MaxTitleRunes+1)
	res := h.adapter.PublishVideo(context.Background(), j)
	if res.Success || !strings.Contains(res.Error, "Title is 151 characters") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.calls) != 0 {
		t.Fatalf("long title reached the API: %v", f.calls)
	}
	u, err := h.limiter.GetUsage(context.Background())
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.Daily.Used != 0 || u.Daily.Held != 0 || u.Hourly.Held != 0 {
		t.Fatalf("usage after rejected title = %+v", u)
	}

	// Exactly the limit, counted in runes, is sent unchanged.
	j.Title = strings.Repeat("é", MaxTitleRunes)
	if res := h.adapter.PublishVideo(context.Background(), j); !res.Success {
		t.Fatalf("publish failed: %s", res.Error)
	}
	if got := f.initBody["post_info"].(map[string]any)["title"].(string); got != j.Title {
		t.Fatalf("title sent as %q", got)
	}
}

func TestPlanChunks(t *testing.T) {
	cases := []struct {
		size       int64
		count      int64
		lastLength int64
	}{
		{size: 1, count: 1, lastLength: 1},
		{size: ChunkSize, count: 1, lastLength: ChunkSize},
		{size: ChunkSize + 5, count: 1, lastLength: ChunkSize + 5},
		{size: 2*ChunkSize + 3, count: 2, lastLength: ChunkSize + 3},
		{size: 5 * ChunkSize, count: 5, lastLength: ChunkSize},
	}
	for _, c := range cases {
		p := planChunks(c.size)
		if p.count != c.count {
			t.Errorf("size %d: count %d, want %d", c.size, p.count, c.count)
			continue
		}
		var total int64
		for i := int64(0); i < p.count; i++ {
			start, end := p.bounds(i)
			if start != total {
				t.Errorf("size %d: chunk %d starts at %d, want %d", c.size, i, start, total)
			}
			total = end
			if i == p.count-1 && end-start != c.lastLength {
				t.Errorf("size %d: last chunk length %d, want %d", c.size, end-start, c.lastLength)
			}
		}
		if total != c.size {
			t.Errorf("size %d: chunks cover %d bytes", c.size, total)
		}
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
