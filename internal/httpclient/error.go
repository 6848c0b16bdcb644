package httpclient

import (
	goerrors "errors"
	"fmt"
	"net/http"

	ierr "github.com/flexprice/plancore/internal/errors"
)

// Error is a non-2xx response. It unwraps to ierr.ErrHTTPClient.
type Error struct {
	StatusCode int
	Response   []byte
}

func (e *Error) Unwrap() error {
	return ierr.ErrHTTPClient
}

func (e *Error) Error() string {
	return fmt.Sprintf("http client error: status %d: %s", e.StatusCode, truncate(e.Response, 256))
}

// NewError creates a new HTTP client error
func NewError(statusCode int, response []byte) *Error {
	return &Error{
		StatusCode: statusCode,
		Response:   response,
	}
}

// IsHTTPError checks if an error is an HTTP client error
func IsHTTPError(err error) (*Error, bool) {
	var httpErr *Error
	if goerrors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsRetryableStatus reports whether a response status is transient
func IsRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
