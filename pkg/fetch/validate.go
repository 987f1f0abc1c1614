package fetch

import (
	"fmt"
	"regexp"

	"chatfetch/pkg/chat"
)

// maxTools is the hard limit on declared tools per request.
const maxTools = 128

// toolNameRE is the allowed shape for function/tool names.
var toolNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// validateRequest checks a request before any network call. It returns
// "" when the request is valid, or the rejection reason. An invalid
// request short-circuits to BadRequest with no retry.
func validateRequest(req *chat.Request) string {
	if req == nil || len(req.Messages) == 0 {
		return "messages must not be empty"
	}
	// Zero means unset; anything else must be a usable budget.
	if req.Options.MaxTokens < 0 {
		return "max_tokens must be at least 1"
	}
	if n := len(req.Tools); n > maxTools {
		return fmt.Sprintf("%d tools declared, %d over the limit of %d", n, n-maxTools, maxTools)
	}
	for _, tool := range req.Tools {
		if !toolNameRE.MatchString(tool.Name) {
			return fmt.Sprintf("invalid tool name %q", tool.Name)
		}
	}
	return ""
}
