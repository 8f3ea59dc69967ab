// Package middleware wraps outbound HTTP requests with client-side rate
// limiting: pre-admission through a limiter, post-response header
// reconciliation, and exponential backoff on 429 responses.
package middleware

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fourlimit/limiter"
)

// Defaults applied by New when the corresponding option is not given.
const (
	DefaultMaxRetries        = 3
	DefaultBackoffMultiplier = 2.0
	DefaultMaxWait           = 10 * time.Second
	DefaultMaxBackoff        = 30 * time.Second
)

// SendFunc issues one attempt of the wrapped request and returns the response.
type SendFunc func() (*http.Response, error)

// RateLimitError reports that a request could not be admitted: either the
// local wait budget ran out or the server kept answering 429 past the retry
// budget.
type RateLimitError struct {
	Key      string
	WaitTime time.Duration
	MaxWait  time.Duration
	Message  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: %s", e.Key, e.Message)
}

// Middleware executes outbound requests under a limiter's admission control.
// One Middleware serves one logical key; it is safe for concurrent use.
type Middleware struct {
	limiter           limiter.Limiter
	key               string
	maxRetries        int
	backoffMultiplier float64
	maxWait           time.Duration
	maxBackoff        time.Duration
	log               *slog.Logger
	tracer            trace.Tracer
	now               func() time.Time
	sleep             func(time.Duration)
}

// Option customizes a Middleware.
type Option func(*Middleware)

// WithMaxRetries bounds how many 429 responses are retried before giving up.
func WithMaxRetries(n int) Option {
	return func(m *Middleware) { m.maxRetries = n }
}

// WithBackoffMultiplier sets the exponential growth factor between 429 retries.
func WithBackoffMultiplier(f float64) Option {
	return func(m *Middleware) {
		if f > 0 {
			m.backoffMultiplier = f
		}
	}
}

// WithMaxWait bounds the time spent waiting for local admission per attempt.
func WithMaxWait(d time.Duration) Option {
	return func(m *Middleware) {
		if d > 0 {
			m.maxWait = d
		}
	}
}

// WithMaxBackoff caps a single 429 backoff sleep.
func WithMaxBackoff(d time.Duration) Option {
	return func(m *Middleware) {
		if d > 0 {
			m.maxBackoff = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Middleware) {
		if log != nil {
			m.log = log
		}
	}
}

// withSleep overrides the backoff sleeper, for tests.
func withSleep(sleep func(time.Duration)) Option {
	return func(m *Middleware) { m.sleep = sleep }
}

// New creates a middleware for one logical key.
func New(l limiter.Limiter, key string, opts ...Option) *Middleware {
	m := &Middleware{
		limiter:           l,
		key:               key,
		maxRetries:        DefaultMaxRetries,
		backoffMultiplier: DefaultBackoffMultiplier,
		maxWait:           DefaultMaxWait,
		maxBackoff:        DefaultMaxBackoff,
		log:               slog.Default(),
		tracer:            otel.Tracer("fourlimit/middleware"),
		now:               time.Now,
		sleep:             time.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute runs one logical request: wait for local admission, send, reconcile
// the limiter with the response headers, and on a 429 back off and retry up
// to the configured budget. The response is returned as soon as the server
// answers anything other than 429.
func (m *Middleware) Execute(send SendFunc) (*http.Response, error) {
	requestID := uuid.NewString()
	_, span := m.tracer.Start(context.Background(), "ratelimit.execute", trace.WithAttributes(
		attribute.String("ratelimit.key", m.key),
		attribute.String("request.id", requestID),
	))
	defer span.End()

	attempt := 0
	for {
		if !m.limiter.WaitN(m.key, 1, m.maxWait) {
			err := &RateLimitError{
				Key:      m.key,
				WaitTime: m.limiter.WaitTime(m.key),
				MaxWait:  m.maxWait,
				Message:  fmt.Sprintf("no admission within %s", m.maxWait),
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "admission timeout")
			return nil, err
		}

		resp, err := send()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "request failed")
			return nil, err
		}

		m.limiter.UpdateFromHeaders(m.key, resp.Header)

		if resp.StatusCode != http.StatusTooManyRequests {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			span.SetStatus(codes.Ok, "")
			return resp, nil
		}

		attempt++
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), m.now)
		drain(resp)

		if attempt > m.maxRetries {
			err := &RateLimitError{
				Key:     m.key,
				MaxWait: m.maxWait,
				Message: fmt.Sprintf("server still limiting after %d retries (Retry-After %s)",
					m.maxRetries, retryAfter),
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "retry budget exhausted")
			return nil, err
		}

		backoff := time.Duration(float64(retryAfter) * math.Pow(m.backoffMultiplier, float64(attempt-1)))
		if backoff > m.maxBackoff {
			backoff = m.maxBackoff
		}
		m.log.Warn("server returned 429, backing off",
			"key", m.key,
			"request_id", requestID,
			"attempt", attempt,
			"retry_after", retryAfter,
			"backoff", backoff,
		)
		span.AddEvent("backoff", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Int64("backoff_ms", backoff.Milliseconds()),
		))
		m.sleep(backoff)
	}
}

// drain discards and closes a response body that will not be returned so the
// underlying connection can be reused.
func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
