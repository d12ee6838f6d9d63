package remote

import (
	"errors"
	"fmt"
)

// ErrUnauthorized marks responses rejecting the session's credentials. The
// outbox never retries it; the session layer re-authenticates instead.
var ErrUnauthorized = errors.New("remote: unauthorized")

// ClientError is a 4xx-equivalent response (other than auth rejection):
// the request itself is wrong and retrying it will not help.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("remote: client error %d: %s", e.StatusCode, e.Message)
}

// ServerError is a 5xx-equivalent response; transient, the outbox retries.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("remote: server error %d: %s", e.StatusCode, e.Message)
}

// UnknownResponseError covers statuses outside the classified ranges.
type UnknownResponseError struct {
	StatusCode int
	Message    string
}

func (e *UnknownResponseError) Error() string {
	return fmt.Sprintf("remote: unexpected status %d: %s", e.StatusCode, e.Message)
}

// classifyStatus maps an HTTP status onto the error taxonomy. 2xx maps to
// nil.
func classifyStatus(status int, message string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d: %s", ErrUnauthorized, status, message)
	case status >= 400 && status < 500:
		return &ClientError{StatusCode: status, Message: message}
	case status >= 500 && status < 600:
		return &ServerError{StatusCode: status, Message: message}
	default:
		return &UnknownResponseError{StatusCode: status, Message: message}
	}
}

// Retryable reports whether the outbox should retry after err. Unauthorized
// and malformed-request failures are terminal; transport and server errors
// are transient.
func Retryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	var clientErr *ClientError
	return !errors.As(err, &clientErr)
}
