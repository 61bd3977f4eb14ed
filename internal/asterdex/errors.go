package asterdex

import (
	"errors"
	"fmt"
)

// APIError is an exchange-side rejection: the request reached the
// exchange and was refused (filter violation, bad symbol, expired
// timestamp). HTTP 429/418 responses are carried here too so rate
// limiting can be told apart from ordinary rejections.
type APIError struct {
	HTTPStatus int
	Code       int64
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange rejected request: http %d code %d: %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange rejected request: http %d: %s", e.HTTPStatus, e.Message)
}

// TransportError wraps network-level failures where the request may or
// may not have reached the exchange.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the exchange asked us to back off.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus == 429 || apiErr.HTTPStatus == 418
	}
	return false
}

// IsRejection reports whether the exchange refused the request for a
// non-transient reason. Retrying a rejection with the same payload
// cannot succeed.
func IsRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if IsRateLimited(err) {
		return false
	}
	return apiErr.HTTPStatus == 0 || apiErr.HTTPStatus < 500
}

// IsRetryable reports whether a bounded retry with backoff is worth
// attempting: transport failures, rate limiting, and 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	if IsRateLimited(err) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus >= 500
	}
	return false
}
