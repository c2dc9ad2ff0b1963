package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrPaginationLoop is returned when the server hands back the page that was
// just fetched as the next page.
var ErrPaginationLoop = errors.New("scraper: continuation pointer did not advance")

// ErrMissingContinuation is returned when the server says more pages exist
// but gives no pointer to them.
var ErrMissingContinuation = errors.New("scraper: more pages reported without a continuation pointer")

// ErrSequenceConsumed is yielded when a page sequence is ranged over twice.
var ErrSequenceConsumed = errors.New("scraper: page sequence already consumed")

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the API rate-limited the request (HTTP 429).
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Err error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server: %w", e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrClient indicates a non-2xx response that is not worth retrying.
type ErrClient struct {
	Err error
}

func (e ErrClient) Error() string {
	return fmt.Errorf("client: %w", e.Err).Error()
}

func (e ErrClient) Unwrap() error {
	return e.Err
}

// RequestError describes the last failed request of a category fetch.
type RequestError struct {
	URL        string
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: %v (status %d, %d attempt(s))", e.URL, e.Err, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("GET %s: %v (%d attempt(s))", e.URL, e.Err, e.Attempts)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= 500:
			return ErrServer{Err: wrapped}
		case statusCode < 200 || statusCode >= 300:
			return ErrClient{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}

// retryable reports whether a classified error is transient.
func retryable(err error) bool {
	var rateLimited ErrRateLimited
	var server ErrServer
	var timeout ErrTimeout
	var conn ErrConnection
	return errors.As(err, &rateLimited) ||
		errors.As(err, &server) ||
		errors.As(err, &timeout) ||
		errors.As(err, &conn)
}

// ErrorTypeLabel maps an error to a short label for metrics and logs.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server"
	}
	var client ErrClient
	if errors.As(err, &client) {
		return "client"
	}
	if errors.Is(err, ErrPaginationLoop) || errors.Is(err, ErrMissingContinuation) {
		return "pagination"
	}
	return "other"
}
