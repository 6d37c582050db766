package trailercast

import (
	"fmt"
	"strings"
)

// Platform is a social network a trailer can be published to.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformThreads   Platform = "threads"
	PlatformTikTok    Platform = "tiktok"
	PlatformX         Platform = "x"
)

// Target is a publish destination: a platform plus, for Instagram, the surface.
type Target string

const (
	TargetInstagramFeed  Target = "instagram_feed"
	TargetInstagramReels Target = "instagram_reels"
	TargetFacebook       Target = "facebook"
	TargetThreads        Target = "threads"
	TargetTikTok         Target = "tiktok"
	TargetX              Target = "x"
)

// AllPlatforms lists every platform that can hold a token.
var AllPlatforms = []Platform{PlatformInstagram, PlatformFacebook, PlatformThreads, PlatformTikTok, PlatformX}

// AllTargets lists every known target.
var AllTargets = []Target{
	TargetInstagramFeed,
	TargetInstagramReels,
	TargetFacebook,
	TargetThreads,
	TargetTikTok,
	TargetX,
}

// Platform returns the platform the target belongs to.
func (t Target) Platform() Platform {
	switch t {
	case TargetInstagramFeed, TargetInstagramReels:
		return PlatformInstagram
	case TargetFacebook:
		return PlatformFacebook
	case TargetThreads:
		return PlatformThreads
	case TargetTikTok:
		return PlatformTikTok
	case TargetX:
		return PlatformX
	}
	return ""
}

// ParseTargets parses a comma separated list such as "instagram_reels,tiktok,x".
// "all" expands to every target. Duplicates are dropped.
func ParseTargets(s string) ([]Target, error) {
	var out []Target
	seen := make(map[Target]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if part == "all" {
			return AllTargets, nil
		}
		t := Target(part)
		if t.Platform() == "" {
			return nil, fmt.Errorf("unknown target %q", part)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no targets given")
	}
	return out, nil
}

// Video references the media to publish. Exactly one of URL, Path or Data is normally set.
// Instagram requires URL because the Graph API fetches the file itself.
type Video struct {
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	Data     []byte `json:"-"`
	MimeType string `json:"mimeType,omitempty"`
	// SourceID identifies the upstream trailer, e.g. a YouTube video id. It drives duplicate detection.
	SourceID string `json:"sourceId,omitempty"`
}

// Empty reports whether the video has no source at all.
func (v Video) Empty() bool {
	return v.URL == "" && v.Path == "" && len(v.Data) == 0
}

// Describe returns a short human description of where the video comes from.
func (v Video) Describe() string {
	switch {
	case v.URL != "":
		return v.URL
	case v.Path != "":
		return v.Path
	case len(v.Data) > 0:
		return fmt.Sprintf("<%d bytes in memory>", len(v.Data))
	}
	return "<no video>"
}

// ContentType returns MimeType or "video/mp4".
func (v Video) ContentType() string {
	if v.MimeType != "" {
		return v.MimeType
	}
	return "video/mp4"
}

// UserTag places a tagged Instagram user on the media.
type UserTag struct {
	Username string  `json:"username"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
}

// PublishJob is the immutable input of one publish attempt.
type PublishJob struct {
	Video   Video  `json:"video"`
	Caption string `json:"caption,omitempty"`
	// Title is used by TikTok (max 150 characters) and as the Facebook video title.
	Title string `json:"title,omitempty"`

	// Meta options.
	ThumbOffsetMs int       `json:"thumbOffsetMs,omitempty"`
	LocationID    string    `json:"locationId,omitempty"`
	UserTags      []UserTag `json:"userTags,omitempty"`
	Collaborators []string  `json:"collaborators,omitempty"`
	// ShareToFeed applies to reels. Nil means true.
	ShareToFeed *bool `json:"shareToFeed,omitempty"`

	// TikTok options.
	PrivacyLevel          string `json:"privacyLevel,omitempty"`
	DisableComment        bool   `json:"disableComment,omitempty"`
	DisableDuet           bool   `json:"disableDuet,omitempty"`
	DisableStitch         bool   `json:"disableStitch,omitempty"`
	VideoCoverTimestampMs int    `json:"videoCoverTimestampMs,omitempty"`

	// X options.
	ReplyToTweetID string `json:"replyToTweetId,omitempty"`
	QuoteTweetID   string `json:"quoteTweetId,omitempty"`
}

// PublishResult is the normalized outcome of one publish call. It is never modified after
// being returned.
type PublishResult struct {
	Success   bool     `json:"success"`
	Platform  Platform `json:"platform"`
	Target    Target   `json:"target,omitempty"`
	MediaID   string   `json:"mediaId,omitempty"`
	PostID    string   `json:"postId,omitempty"`
	TweetID   string   `json:"tweetId,omitempty"`
	PublishID string   `json:"publishId,omitempty"`
	Error     string   `json:"error,omitempty"`
	// RetryAfter is in seconds.
	RetryAfter int      `json:"retryAfter,omitempty"`
	Logs       []string `json:"logs"`
	// ProcessingTime is in milliseconds.
	ProcessingTime int64 `json:"processingTime,omitempty"`
	// QuotaExceeded is set when a limiter refused the publish before any network call.
	QuotaExceeded bool `json:"quotaExceeded,omitempty"`
	// Skipped is set when the job was not attempted because it was already published.
	Skipped bool `json:"skipped,omitempty"`
	// AttemptID is assigned by the client when the attempt is recorded.
	AttemptID string `json:"attemptId,omitempty"`
}

// RemoteID returns the most specific id the platform returned.
func (r PublishResult) RemoteID() string {
	for _, id := range []string{r.TweetID, r.PostID, r.PublishID, r.MediaID} {
		if id != "" {
			return id
		}
	}
	return ""
}
