package trailercast

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotAuthenticated means no usable token exists for a platform.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrPollTimeout means a status poll ran out of attempts before reaching a terminal state.
	ErrPollTimeout = errors.New("processing timeout")
)

// AuthError reports a missing or expired token.
type AuthError struct {
	Platform Platform
	Reason   string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s, please re-authenticate", e.Platform, ErrNotAuthenticated)
	}
	return fmt.Sprintf("%s: %s (%s), please re-authenticate", e.Platform, ErrNotAuthenticated, e.Reason)
}

func (e *AuthError) Unwrap() error { return ErrNotAuthenticated }

// ValidationError aggregates every reason a video was rejected.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 0 {
		return "Video validation failed"
	}
	return "Video validation failed: " + strings.Join(e.Reasons, "; ")
}

// APIError is a non-2xx response from a platform API.
type APIError struct {
	Platform Platform
	Status   int
	// Code is the platform's numeric error code, if any.
	Code    int
	Subcode int
	// Type is the platform's symbolic error code, e.g. TikTok's "rate_limit_exceeded".
	Type        string
	Message     string
	UserMessage string
	// RetryAfter is taken from response headers when the platform sends one.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s API error (status %d", e.Platform, e.Status)
	if e.Code != 0 {
		fmt.Fprintf(&b, ", code %d", e.Code)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, ", %s", e.Type)
	}
	b.WriteString(")")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// ProcessingError is an explicit failure reported by a remote processing job.
type ProcessingError struct {
	// Op names what failed, e.g. "publish" or "media processing".
	Op     string
	Reason string
}

func (e *ProcessingError) Error() string {
	op := e.Op
	if op == "" {
		op = "publish"
	}
	if e.Reason == "" {
		return op + " failed"
	}
	return op + " failed: " + e.Reason
}
