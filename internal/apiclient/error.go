package apiclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of an error response is read
const maxErrorBody = 64 << 10

// Error is a non-2xx response from a remote collaborator
type Error struct {
	Message string
	Status  int
	URL     string
	Details any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (status %d, %s)", e.Message, e.Status, e.URL)
}

// FromResponse builds an Error from a failed response. The message is taken
// from a JSON body's "message" or "title" field, then the status text.
func FromResponse(resp *http.Response) *Error {
	apiErr := &Error{Status: resp.StatusCode}
	if resp.Request != nil && resp.Request.URL != nil {
		apiErr.URL = resp.Request.URL.String()
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload map[string]any
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		apiErr.Details = payload
		apiErr.Message = firstString(payload, "message", "title")
	} else if text := strings.TrimSpace(string(body)); text != "" {
		apiErr.Details = text
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if apiErr.Message == "" {
		apiErr.Message = "API Error"
	}
	return apiErr
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
