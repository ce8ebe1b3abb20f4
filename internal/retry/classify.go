package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const maxErrorBody = 512

// CodeForStatus maps an HTTP status onto the provider error code taxonomy.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return types.CodeBadRequest
	case http.StatusUnauthorized:
		return types.CodeUnauthorized
	case http.StatusForbidden:
		return types.CodeForbidden
	case http.StatusNotFound:
		return types.CodeNotFound
	case http.StatusTooManyRequests:
		return types.CodeRateLimited
	case http.StatusInternalServerError:
		return types.CodeInternalServerError
	case http.StatusBadGateway:
		return types.CodeBadGateway
	case http.StatusServiceUnavailable:
		return types.CodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return types.CodeGatewayTimeout
	}
	if status >= 500 && status < 600 {
		return types.CodeServerError
	}
	return types.CodeUnknown
}

// KindForStatus maps an HTTP status onto an error kind. 429 and every 5xx are
// retryable, every other status is not.
func KindForStatus(status int) types.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return types.KindRateLimited
	case status >= 500 && status < 600:
		return types.KindServerError
	case status >= 400 && status < 500:
		return types.KindClientError
	default:
		return types.KindUnknown
	}
}

// StatusError builds the error for a non-2xx provider response.
func StatusError(resp *http.Response, body []byte) *types.Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	e := &types.Error{
		Kind:       KindForStatus(resp.StatusCode),
		Code:       CodeForStatus(resp.StatusCode),
		Message:    fmt.Sprintf("api error %d: %s", resp.StatusCode, msg),
		StatusCode: resp.StatusCode,
	}
	if d, ok := RetryAfterFromHeader(resp.Header, time.Now()); ok {
		e.RetryAfter = d
	}
	return e
}

// RetryAfterFromHeader reads the provider-advertised delay. Millisecond
// variants used by Azure services take precedence over Retry-After.
func RetryAfterFromHeader(h http.Header, now time.Time) (time.Duration, bool) {
	for _, key := range []string{"Retry-After-Ms", "X-Ms-Retry-After-Ms"} {
		if v := h.Get(key); v != "" {
			if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
				return time.Duration(ms * float64(time.Millisecond)), true
			}
		}
	}
	return ParseRetryAfter(h.Get("Retry-After"), now)
}

// ParseRetryAfter parses a Retry-After value given either as delta seconds
// or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// TransportError classifies an error returned by http.Client.Do. A cancelled
// context is a timeout and is never retried; other network failures are
// transient.
func TransportError(ctx context.Context, err error) *types.Error {
	if ctx.Err() != nil {
		return types.TimeoutError(ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.WrapError(types.KindTransientNetwork, types.CodeTimeout, err)
	}
	return types.WrapError(types.KindTransientNetwork, types.CodeNetworkError, err)
}
