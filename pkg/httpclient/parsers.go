package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRateLimitHeaders extracts backoff hints from conventional rate limit
// headers: Retry-After (seconds or HTTP date), X-RateLimit-Reset (unix
// seconds), X-RateLimit-Remaining.
func ParseRateLimitHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		} else if at, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(at); d > 0 {
				info.RetryAfter = d
			}
		}
	}

	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		if reset, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			info.ResetTime = reset
		}
	}

	if remaining := headers.Get("X-RateLimit-Remaining"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			info.RequestsRemaining = n
		}
	}

	return info
}
