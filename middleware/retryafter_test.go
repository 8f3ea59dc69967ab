package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestParseRetryAfter_IntegerSeconds(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", fixedNow))
	assert.Equal(t, time.Second, parseRetryAfter("1", fixedNow))
}

func TestParseRetryAfter_MinimumOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, parseRetryAfter("0", fixedNow))
	assert.Equal(t, time.Second, parseRetryAfter("-3", fixedNow))
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	at := fixedNow().Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, parseRetryAfter(at.Format(http.TimeFormat), fixedNow))
}

func TestParseRetryAfter_PastDateYieldsOneSecond(t *testing.T) {
	at := fixedNow().Add(-time.Minute)
	assert.Equal(t, time.Second, parseRetryAfter(at.Format(http.TimeFormat), fixedNow))
}

func TestParseRetryAfter_GarbageYieldsOneSecond(t *testing.T) {
	for _, value := range []string{"", "soon", "3.5.7", "tomorrow"} {
		assert.Equal(t, time.Second, parseRetryAfter(value, fixedNow), "value %q", value)
	}
}
