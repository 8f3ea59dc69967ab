package middleware

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fourlimit/limiter"
)

// stubLimiter satisfies limiter.Limiter with scripted admission behavior so
// middleware tests exercise the retry dance without real clocks.
type stubLimiter struct {
	mu          sync.Mutex
	admit       bool
	waitTime    time.Duration
	waitCalls   int
	updateCalls []http.Header
}

func (s *stubLimiter) Allow(key string) bool          { return s.AllowN(key, 1) }
func (s *stubLimiter) AllowN(key string, n int) bool  { return s.admit }
func (s *stubLimiter) Wait(key string) bool           { return s.WaitN(key, 1, 0) }
func (s *stubLimiter) WaitN(key string, n int, maxWait time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitCalls++
	return s.admit
}
func (s *stubLimiter) WaitTime(key string) time.Duration { return s.waitTime }
func (s *stubLimiter) Reset(key string)                  {}
func (s *stubLimiter) ResetAll()                         {}
func (s *stubLimiter) Status(key string) limiter.Status  { return limiter.Status{Key: key} }
func (s *stubLimiter) StatusMap(key string) map[string]any {
	return map[string]any{"key": key}
}
func (s *stubLimiter) AllStatuses() map[string]limiter.Status   { return nil }
func (s *stubLimiter) AllStatusMaps() map[string]map[string]any { return nil }
func (s *stubLimiter) Cleanup(maxAge time.Duration) int       { return 0 }
func (s *stubLimiter) UpdateFromHeaders(key string, headers http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls = append(s.updateCalls, headers)
}
func (s *stubLimiter) FlushState() error { return nil }
func (s *stubLimiter) Close() error      { return nil }

func response(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}
}

// scriptedSend returns each response in turn.
func scriptedSend(responses ...*http.Response) SendFunc {
	i := 0
	return func() (*http.Response, error) {
		resp := responses[i]
		i++
		return resp, nil
	}
}

func TestExecute_SuccessReconcilesHeaders(t *testing.T) {
	lim := &stubLimiter{admit: true}
	mw := New(lim, "api", withSleep(func(time.Duration) {}))

	resp, err := mw.Execute(scriptedSend(
		response(200, map[string]string{"X-RateLimit-Remaining": "7"}),
	))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	require.Len(t, lim.updateCalls, 1)
	assert.Equal(t, "7", lim.updateCalls[0].Get("X-RateLimit-Remaining"))
}

func TestExecute_AdmissionTimeout(t *testing.T) {
	lim := &stubLimiter{admit: false, waitTime: 1500 * time.Millisecond}
	mw := New(lim, "api", WithMaxWait(time.Second), withSleep(func(time.Duration) {}))

	_, err := mw.Execute(scriptedSend(response(200, nil)))
	require.Error(t, err)

	var rlErr *RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "api", rlErr.Key)
	assert.Equal(t, time.Second, rlErr.MaxWait)
	assert.Equal(t, 1500*time.Millisecond, rlErr.WaitTime)
}

func TestExecute_RetriesOn429WithExponentialBackoff(t *testing.T) {
	lim := &stubLimiter{admit: true}
	var slept []time.Duration
	mw := New(lim, "api",
		WithMaxRetries(2),
		WithBackoffMultiplier(2.0),
		withSleep(func(d time.Duration) { slept = append(slept, d) }),
	)

	resp, err := mw.Execute(scriptedSend(
		response(429, map[string]string{"Retry-After": "2"}),
		response(429, map[string]string{"Retry-After": "2"}),
		response(200, nil),
	))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, slept)
	assert.Len(t, lim.updateCalls, 3, "every response reconciles, 429s included")
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	lim := &stubLimiter{admit: true}
	mw := New(lim, "api",
		WithMaxRetries(2),
		withSleep(func(time.Duration) {}),
	)

	_, err := mw.Execute(scriptedSend(
		response(429, map[string]string{"Retry-After": "2"}),
		response(429, map[string]string{"Retry-After": "2"}),
		response(429, map[string]string{"Retry-After": "2"}),
	))
	require.Error(t, err)

	var rlErr *RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Contains(t, rlErr.Error(), "2 retries")
}

func TestExecute_BackoffIsCapped(t *testing.T) {
	lim := &stubLimiter{admit: true}
	var slept []time.Duration
	mw := New(lim, "api",
		WithMaxRetries(1),
		WithMaxBackoff(3*time.Second),
		withSleep(func(d time.Duration) { slept = append(slept, d) }),
	)

	resp, err := mw.Execute(scriptedSend(
		response(429, map[string]string{"Retry-After": "60"}),
		response(200, nil),
	))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []time.Duration{3 * time.Second}, slept)
}

func TestExecute_SendErrorPropagates(t *testing.T) {
	lim := &stubLimiter{admit: true}
	mw := New(lim, "api", withSleep(func(time.Duration) {}))

	sendErr := errors.New("connection refused")
	_, err := mw.Execute(func() (*http.Response, error) { return nil, sendErr })
	assert.ErrorIs(t, err, sendErr)
}

func TestExecute_Non429ErrorStatusReturnsResponse(t *testing.T) {
	lim := &stubLimiter{admit: true}
	mw := New(lim, "api", withSleep(func(time.Duration) {}))

	resp, err := mw.Execute(scriptedSend(response(503, nil)))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode, "only 429 triggers the retry loop")
}
