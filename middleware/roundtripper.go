package middleware

import (
	"net/http"
	"sync"

	"fourlimit/limiter"
)

// RoundTripper is an http.RoundTripper that routes every outgoing request
// through rate-limit middleware, keyed by the request host. Drop it into an
// http.Client to rate-limit a whole client transparently:
//
//	client := &http.Client{
//		Transport: middleware.NewRoundTripper(lim, nil),
//	}
//
// Requests that may be retried after a 429 need a replayable body; bodies
// built by http.NewRequest from a bytes/strings reader carry GetBody and
// replay automatically.
type RoundTripper struct {
	limiter limiter.Limiter
	next    http.RoundTripper
	opts    []Option

	mu  sync.Mutex
	mws map[string]*Middleware
}

// NewRoundTripper wraps next (http.DefaultTransport when nil) with admission
// control on l. opts apply to every per-host middleware created.
func NewRoundTripper(l limiter.Limiter, next http.RoundTripper, opts ...Option) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RoundTripper{
		limiter: l,
		next:    next,
		opts:    opts,
		mws:     make(map[string]*Middleware),
	}
}

func (rt *RoundTripper) middlewareFor(key string) *Middleware {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	mw, ok := rt.mws[key]
	if !ok {
		mw = New(rt.limiter, key, rt.opts...)
		rt.mws[key] = mw
	}
	return mw
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	mw := rt.middlewareFor(req.URL.Host)
	return mw.Execute(func() (*http.Response, error) {
		attempt := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attempt.Body = body
		}
		return rt.next.RoundTrip(attempt)
	})
}
