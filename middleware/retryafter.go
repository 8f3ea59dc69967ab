package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// parseRetryAfter interprets a Retry-After header value as either a
// non-negative integer second count or an HTTP date. The result is never
// below one second, and anything unparseable also yields one second.
func parseRetryAfter(value string, now func() time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 1 {
			return time.Second
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now()).Truncate(time.Second)
		if d < time.Second {
			return time.Second
		}
		return d
	}
	return time.Second
}
