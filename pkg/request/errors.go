package request

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned for HTTP responses with a status code of 400 or above.
type StatusError struct {
	Code int
	Body string
	URL  string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("api error: status %d: %s", e.Code, body)
}

// Throttled reports whether the server asked us to slow down (rate limit or overload).
func (e *StatusError) Throttled() bool {
	switch e.Code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 529:
		return true
	}
	return false
}

// AsStatusError unwraps err into a *StatusError if it contains one.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
