package router

import (
	"net"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/httpclient"
	"github.com/flexprice/plancore/internal/logger"
)

// ShouldRetry reports whether a handler error is worth redelivering.
// Errors caused by the message itself never succeed on retry.
func ShouldRetry(logger *logger.Logger, err error) bool {
	if httpErr, ok := httpclient.IsHTTPError(err); ok {
		retry := httpclient.IsRetryableStatus(httpErr.StatusCode)
		logger.Debugw("http error from handler",
			"status_code", httpErr.StatusCode,
			"retry", retry,
			"error", httpErr,
		)
		return retry
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		logger.Debugw("retrying due to network timeout", "error", netErr)
		return true
	}

	if errors.IsValidation(err) ||
		errors.IsNotFound(err) ||
		errors.IsPermissionDenied(err) {
		return false
	}

	return true
}

// deadLetterError asks the router to skip retries for a failed message
type deadLetterError struct {
	err error
}

func (e *deadLetterError) Error() string { return e.err.Error() }

func (e *deadLetterError) Unwrap() error { return e.err }

// DeadLetter wraps a handler error so the message goes straight to the dead
// letter topic. Use it when running the handler again would repeat side
// effects that already happened.
func DeadLetter(err error) error {
	if err == nil {
		return nil
	}
	return &deadLetterError{err: err}
}

// retryUnlessDeadLetter runs retry around the handler but lets errors
// wrapped with DeadLetter through on the first attempt, unwrapped
func retryUnlessDeadLetter(retry middleware.Retry) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			var final error
			produced, err := retry.Middleware(func(m *message.Message) ([]*message.Message, error) {
				produced, err := h(m)
				var dl *deadLetterError
				if errors.As(err, &dl) {
					final = dl.err
					return produced, nil
				}
				return produced, err
			})(msg)
			if final != nil {
				return nil, final
			}
			return produced, err
		}
	}
}
