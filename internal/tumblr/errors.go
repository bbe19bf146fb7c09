package tumblr

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tb-go/internal/tb"
)

// Rate-limit headers sent with every API response.
const (
	headerPerDayRemaining = "X-Ratelimit-Perday-Remaining"
	headerPerDayReset     = "X-Ratelimit-Perday-Reset"
	headerPerHourReset    = "X-Ratelimit-Perhour-Reset"
	headerRetryAfter      = "Retry-After"
)

// errorBody covers the error shapes the API and token endpoint return.
type errorBody struct {
	Meta struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
	} `json:"meta"`
	Errors           json.RawMessage `json:"errors"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// newRemoteAPIError builds the typed error for a non-2xx response.
func newRemoteAPIError(req *http.Request, resp *http.Response, body []byte, now time.Time) *tb.RemoteAPIError {
	u := *req.URL
	u.RawQuery = ""

	apiErr := &tb.RemoteAPIError{
		Method:     req.Method,
		URL:        u.String(),
		Status:     resp.StatusCode,
		RetryAfter: retryAfter(resp.Header, now),
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		apiErr.Message = truncate(strings.TrimSpace(string(body)), 200)
		return apiErr
	}

	// "errors" is a list of objects on API errors; anything else is ignored.
	if len(parsed.Errors) > 0 {
		var subs []tb.APIError
		if err := json.Unmarshal(parsed.Errors, &subs); err == nil {
			apiErr.Errors = subs
		}
	}

	switch {
	case parsed.ErrorDescription != "":
		apiErr.Message = parsed.Error + ": " + parsed.ErrorDescription
	case parsed.Error != "":
		apiErr.Message = parsed.Error
	case parsed.Meta.Msg != "":
		apiErr.Message = parsed.Meta.Msg
	}
	return apiErr
}

// retryAfter returns the server-provided wait before the next attempt. The
// daily reset applies once the daily allowance is spent; otherwise the hourly
// reset, then Retry-After, are used.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if h.Get(headerPerDayRemaining) == "0" {
		if d, ok := seconds(h.Get(headerPerDayReset)); ok {
			return d
		}
	}
	if d, ok := seconds(h.Get(headerPerHourReset)); ok {
		return d
	}

	v := h.Get(headerRetryAfter)
	if d, ok := seconds(v); ok {
		return d
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func seconds(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n * float64(time.Second)), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
