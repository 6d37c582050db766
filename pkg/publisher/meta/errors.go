package meta

import (
	"encoding/json"
	"strings"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
)

func parseError(platform trailercast.Platform) trailercast.ErrorParser {
	return func(resp *trailercast.Response) error {
		var body struct {
			Error struct {
				Message      string `json:"message"`
				Type         string `json:"type"`
				Code         int    `json:"code"`
				ErrorSubcode int    `json:"error_subcode"`
				ErrorUserMsg string `json:"error_user_msg"`
			} `json:"error"`
		}
		apiErr := &trailercast.APIError{Platform: platform, Status: resp.Status}
		if err := json.Unmarshal(resp.Body, &body); err == nil && body.Error.Message != "" {
			apiErr.Code = body.Error.Code
			apiErr.Subcode = body.Error.ErrorSubcode
			apiErr.Type = body.Error.Type
			apiErr.Message = body.Error.Message
			apiErr.UserMessage = body.Error.ErrorUserMsg
		} else {
			apiErr.Message = strings.TrimSpace(string(resp.Body))
		}
		return apiErr
	}
}

// mapError turns Graph API error codes into user facing messages.
func mapError(e *trailercast.APIError) (string, int) {
	switch e.Code {
	case 190:
		return "Meta access token is invalid or expired. Please re-authenticate.", 0
	case 368:
		return "Meta temporarily blocked this action for policy reasons. Try again later.", 3600
	case 32:
		return "Meta API rate limit reached.", 600
	case 100:
		detail := e.UserMessage
		if detail == "" {
			detail = e.Message
		}
		return "Invalid parameter: " + detail, 0
	case 9007:
		return "Media is not ready to be published yet.", 60
	}
	if e.Message != "" {
		return e.Message, 0
	}
	return e.Error(), 0
}
