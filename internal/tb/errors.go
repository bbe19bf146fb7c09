package tb

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrMissingCredential means no token pair is stored. Recoverable by
	// running the interactive authorization flow.
	ErrMissingCredential = errors.New("no stored credential (run `tb auth`)")

	// ErrAuthenticationExpired means the refresh token itself was rejected.
	// The current run cannot continue without re-authorization.
	ErrAuthenticationExpired = errors.New("authentication expired: refresh token rejected (run `tb auth`)")

	// ErrEncodingUnsupported is reported as a warning when the token encoder does
	// not recognize a model and a default encoding is used instead.
	ErrEncodingUnsupported = errors.New("model not recognized by token encoder")
)

// rateLimitMarker is the title the remote API uses for rate-limit rejections.
const rateLimitMarker = "limit exceeded"

// APIError is one entry of the structured error body returned by the remote API.
type APIError struct {
	Code   int    `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e APIError) String() string {
	return fmt.Sprintf("subcode %d: %s (%s)", e.Code, e.Title, e.Detail)
}

// RemoteAPIError is a non-2xx response from the remote API, carrying the
// structured error body so callers can tell rate limits from permanent failures.
type RemoteAPIError struct {
	Method  string
	URL     string
	Status  int
	Message string
	Errors  []APIError

	// RetryAfter is the server-provided wait before the next attempt.
	// Zero when the response carried no reset information.
	RetryAfter time.Duration
}

func (e *RemoteAPIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	for _, sub := range e.Errors {
		fmt.Fprintf(&b, "; %s", sub)
	}
	return b.String()
}

// RateLimited reports whether the remote rejected the call for exceeding a rate limit.
func (e *RemoteAPIError) RateLimited() bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	if strings.Contains(strings.ToLower(e.Message), rateLimitMarker) {
		return true
	}
	for _, sub := range e.Errors {
		if strings.Contains(strings.ToLower(sub.Title), rateLimitMarker) ||
			strings.Contains(strings.ToLower(sub.Detail), rateLimitMarker) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err wraps a rate-limited RemoteAPIError.
func IsRateLimited(err error) bool {
	var apiErr *RemoteAPIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}

// RetryExhaustedError is returned when a call stayed rate limited for every
// permitted attempt.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("still rate limited after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// ErrObjectNotFound is returned by a Vault when the named object does not exist.
var ErrObjectNotFound = errors.New("object not found")
