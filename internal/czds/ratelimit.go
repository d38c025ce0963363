package czds

import (
	"context"

	"golang.org/x/time/rate"
)

// limiter proactively throttles outgoing CZDS requests to a configured
// steady rate, independent of any server-side rate-limit headers (CZDS
// does not advertise any).
type limiter struct {
	bucket *rate.Limiter
}

func newLimiter(requestsPerSecond float64, burst int) *limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiter{bucket: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until the next request is allowed or ctx is canceled.
func (l *limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}
