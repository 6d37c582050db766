package x

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher"
)

const defaultRateLimitRetry = 900

// parseError reads both the v1.1 {"errors":[{code,message}]} shape and the v2 problem shape.
// A 429 carries the reset time from the x-rate-limit-reset header.
func (a *Adapter) parseError(resp *trailercast.Response) error {
	var body struct {
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Type   string `json:"type"`
	}
	apiErr := &trailercast.APIError{Platform: trailercast.PlatformX, Status: resp.Status}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		switch {
		case len(body.Errors) > 0:
			apiErr.Code = body.Errors[0].Code
			apiErr.Message = body.Errors[0].Message
		case body.Detail != "" || body.Title != "":
			apiErr.Type = body.Title
			apiErr.Message = body.Detail
			if apiErr.Message == "" {
				apiErr.Message = body.Title
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(resp.Body))
	}
	if resp.Status == http.StatusTooManyRequests {
		if secs := publisher.RetryAfterHeader(resp.Header, "x-rate-limit-reset", a.deps.Clock.Now()); secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

// mapError turns X error codes into user facing messages.
func mapError(e *trailercast.APIError) (string, int) {
	switch e.Code {
	case 89:
		return "X access token is invalid or expired. Please re-authenticate.", 0
	case 88:
		return "X API rate limit exceeded.", retrySeconds(e)
	case 324:
		return "Media processing failed: " + e.Message, 0
	case 386:
		return "Tweet text is too long.", 0
	}
	switch e.Status {
	case http.StatusTooManyRequests:
		return "X API rate limit exceeded.", retrySeconds(e)
	case http.StatusUnauthorized:
		return "X access token is invalid or expired. Please re-authenticate.", 0
	}
	if e.Message != "" {
		return e.Message, 0
	}
	return e.Error(), 0
}

func retrySeconds(e *trailercast.APIError) int {
	if e.RetryAfter > 0 {
		return int(e.RetryAfter / time.Second)
	}
	return defaultRateLimitRetry
}
