package transport

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimited wraps next so that requests wait for a token from limiter.
// Waiting honors the request context, so a canceled mutation never queues forever.
func RateLimited(next http.RoundTripper, limiter *rate.Limiter) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &rateLimitedTransport{next: next, limiter: limiter}
}

// NewLimiter creates a limiter allowing rps requests per second with the given
// burst. rps <= 0 disables limiting.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type rateLimitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

// RoundTrip implements http.RoundTripper.
func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return t.next.RoundTrip(req)
}
