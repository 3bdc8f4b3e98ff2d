package vlllm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrConnect = errors.New("gateway: connection failed")
	ErrTimeout = errors.New("gateway: timed out")
	ErrStatus  = errors.New("gateway: unexpected status")
	ErrStream  = errors.New("gateway: malformed stream")

	errIdleTimeout = errors.New("no data received within read timeout")
)

// StatusError reports a non-2xx answer from the backend. The body is
// logged, never carried.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

func isTimeout(err error) bool {
	if errors.Is(err, errIdleTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyRequestError maps failures that happen before any response byte.
func classifyRequestError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Code: apiErr.HTTPStatusCode}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{Code: reqErr.HTTPStatusCode}
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnect, err)
}

// classifyStreamError maps failures while reading an open stream.
func classifyStreamError(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrStream, err)
}
