package xhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const DefaultRetryInterval = time.Second

// temporaryError is the expected interface for a (possibly) temporary error.
// Several of the error types in the net package implicitly implement this
// interface, for example net.DNSError.
type temporaryError interface {
	Temporary() bool
}

// ShouldRetryFunc is a predicate for determining if the error returned from
// an HTTP transaction should be retried.
type ShouldRetryFunc func(error) bool

// ShouldRetryStatusFunc is a predicate for determining if the status code
// returned from an HTTP transaction should be retried.
type ShouldRetryStatusFunc func(int) bool

// DefaultShouldRetry returns true if and only if err exposes a
// Temporary() bool method and that method returns true.
func DefaultShouldRetry(err error) bool {
	var temp temporaryError
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}

// DefaultShouldRetryStatus never retries based on status code alone.
func DefaultShouldRetryStatus(status int) bool {
	return false
}

// RetryOptions are the configuration options for a retry transactor.
type RetryOptions struct {
	// Logger receives a debug line per retry attempt. Defaults to a nop
	// logger if unset.
	Logger *zap.Logger

	// Retries is the count of retries. If not positive, no transactor
	// decoration is performed.
	Retries int

	// Interval is the time between retries. If not set, DefaultRetryInterval
	// is used.
	Interval time.Duration

	// Sleep is the function used to wait out a duration. If unset,
	// time.Sleep is used.
	Sleep func(time.Duration)

	// ShouldRetry is the retry predicate. Defaults to DefaultShouldRetry.
	ShouldRetry ShouldRetryFunc

	// ShouldRetryStatus is the retry predicate. Defaults to
	// DefaultShouldRetryStatus.
	ShouldRetryStatus ShouldRetryStatusFunc

	// UpdateRequest updates the request before it is resent. Defaults to a
	// no-op.
	UpdateRequest func(*http.Request)
}

// RetryTransactor returns an HTTP transactor function, of the same
// signature as http.Client.Do, that retries a certain number of times.
// Note that net/http.RoundTripper.RoundTrip is of the same signature, so
// this decorator works equally well wrapping a RoundTripper or an
// http.Client.
//
// If o.Retries is nonpositive, next is returned undecorated.
func RetryTransactor(o RetryOptions, next func(*http.Request) (*http.Response, error)) func(*http.Request) (*http.Response, error) {
	if o.Retries < 1 {
		return next
	}

	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = DefaultShouldRetry
	}
	if o.ShouldRetryStatus == nil {
		o.ShouldRetryStatus = DefaultShouldRetryStatus
	}
	if o.UpdateRequest == nil {
		o.UpdateRequest = func(*http.Request) {}
	}
	if o.Interval < 1 {
		o.Interval = DefaultRetryInterval
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}

	return func(request *http.Request) (*http.Response, error) {
		if err := EnsureRewindable(request); err != nil {
			return nil, err
		}
		var statusCode int

		response, err := next(request)
		if response != nil {
			statusCode = response.StatusCode
		}

		for r := 0; r < o.Retries && ((err != nil && o.ShouldRetry(err)) || o.ShouldRetryStatus(statusCode)); r++ {
			o.Logger.Debug("retrying HTTP transaction",
				zap.String("url", request.URL.String()),
				zap.Error(err),
				zap.Int("retry", r+1),
				zap.Int("status_code", statusCode),
			)
			o.Sleep(o.Interval)

			if err := Rewind(request); err != nil {
				return nil, err
			}

			o.UpdateRequest(request)
			response, err = next(request)
			if response != nil {
				statusCode = response.StatusCode
			}
		}

		if err != nil {
			o.Logger.Debug("all HTTP transaction retries failed",
				zap.String("url", request.URL.String()),
				zap.Error(err),
				zap.Int("retries", o.Retries),
			)
		}

		return response, err
	}
}

// IsTemporary reports whether err (or something it wraps) exposes a
// Temporary() bool method returning true.
func IsTemporary(err error) bool {
	var temp temporaryError
	return errors.As(err, &temp) && temp.Temporary()
}

// ShouldRetry is a ShouldRetryFunc that retries temporary errors but never
// a context deadline: a deadline means the caller has already given up on
// waiting, so another attempt would just burn the next deadline too.
func ShouldRetry(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsTemporary(err)
}

// RetryCodes is a ShouldRetryStatusFunc covering the status codes a client
// can reasonably expect a retry to help with.
func RetryCodes(i int) bool {
	switch i {
	case http.StatusRequestTimeout:
		return true
	case http.StatusTooManyRequests:
		return true
	case http.StatusGatewayTimeout:
		return true
	}
	return false
}
