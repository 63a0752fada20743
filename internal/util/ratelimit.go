package util

import (
	"golang.org/x/time/rate"
)

// NewRateLimiter returns a token-bucket limiter allowing perSecond
// operations per second with the given burst. A non-positive rate means
// unlimited.
func NewRateLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
