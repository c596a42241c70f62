package attio

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRetryAfter = time.Second
	maxRetryAfter     = 10 * time.Minute
)

// ParseRetryAfter interprets a Retry-After header as integer seconds or an
// HTTP date. The result is whole seconds in [1s, 10m]. Anything unparseable
// yields one second.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.ParseInt(header, 10, 64); err == nil {
		return clampRetryAfter(secs)
	}
	if t, err := http.ParseTime(header); err == nil {
		return clampRetryAfter(int64(t.Sub(now) / time.Second))
	}
	return defaultRetryAfter
}

func clampRetryAfter(secs int64) time.Duration {
	if secs < 1 {
		return defaultRetryAfter
	}
	if secs > int64(maxRetryAfter/time.Second) {
		return maxRetryAfter
	}
	return time.Duration(secs) * time.Second
}
