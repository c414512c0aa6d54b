package jobrpc

import (
	"golang.org/x/time/rate"
)

const (
	defaultBurst = 200
	defaultRate  = 100
)

// NewRateLimiter builds a token-bucket limiter from the already-loaded
// config's burst/refill values (config.Load layers configs/default.yaml
// under SEMANTICA_RATE_LIMIT_BURST/SEMANTICA_RATE_LIMIT_RATE env
// overrides) — golang.org/x/time/rate already implements this primitive,
// so there is no reason to hand-roll a bucket.
func NewRateLimiter(burst int, refillPerSec int) *rate.Limiter {
	if burst <= 0 {
		burst = defaultBurst
	}
	if refillPerSec <= 0 {
		refillPerSec = defaultRate
	}
	return rate.NewLimiter(rate.Limit(refillPerSec), burst)
}
