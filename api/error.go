package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrAuthRequired is returned when an authenticated call is attempted with no
// cached token. No network request is made in that case.
var ErrAuthRequired = errors.New("authentication required")

// Error is a non-2xx response from the server. Message carries the server's
// structured error message verbatim when one was present.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// decodeError builds an *Error from a non-2xx response. The backend reports
// failures as {"error": "..."}; anything else falls back to a generic message.
func decodeError(res *http.Response) error {
	apiErr := &Error{StatusCode: res.StatusCode}

	var payload struct {
		Error string `json:"error"`
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err == nil {
		json.Unmarshal(body, &payload)
	}
	if payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = fmt.Sprintf("HTTP %d: %s", res.StatusCode, http.StatusText(res.StatusCode))
	}
	return apiErr
}

// ServerMessage extracts the user-presentable message from err, or fallback
// when err carries nothing worth surfacing verbatim.
func ServerMessage(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return fallback
}
