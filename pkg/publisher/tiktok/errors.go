package tiktok

import (
	"encoding/json"
	"strings"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

// envelope is the shape of every Open API response. The error object is present even on
// success, with code "ok".
type envelope[T any] struct {
	Data  T        `json:"data"`
	Error apiError `json:"error"`
}

func (e *envelope[T]) err() error {
	if e.Error.Code == "" || e.Error.Code == "ok" {
		return nil
	}
	return &trailercast.APIError{
		Platform: trailercast.PlatformTikTok,
		Status:   200,
		Type:     e.Error.Code,
		Message:  e.Error.Message,
	}
}

func parseError(resp *trailercast.Response) error {
	var body envelope[json.RawMessage]
	apiErr := &trailercast.APIError{Platform: trailercast.PlatformTikTok, Status: resp.Status}
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.Error.Code != "" {
		apiErr.Type = body.Error.Code
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(resp.Body))
	}
	return apiErr
}

// mapError turns TikTok error codes into user facing messages.
func mapError(e *trailercast.APIError) (string, int) {
	switch e.Type {
	case "access_token_invalid":
		return "TikTok access token is invalid or expired. Please re-authenticate.", 0
	case "rate_limit_exceeded":
		return "TikTok API rate limit exceeded.", 3600
	case "spam_risk_too_many_posts":
		return "TikTok flagged too many posts from this account. Try again tomorrow.", 86400
	case "video_format_invalid":
		return "Video format is not supported by TikTok. Use MP4 or WebM with H.264 video.", 0
	case "video_too_long":
		return "Video is longer than TikTok allows for this account.", 0
	case "video_too_short":
		return "Video is too short for TikTok. It must be at least 3 seconds.", 0
	}
	if e.Message != "" {
		return e.Message, 0
	}
	return e.Error(), 0
}
