// Package tokenbucket throttles inbound frames per connection
package tokenbucket

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultCapacity = 100
	DefaultRefill   = 20
)

type TokenBucket struct {
	limiter *rate.Limiter
}

// New returns a full bucket holding capacity tokens that regains
// refillPerSecond tokens every second, never exceeding capacity
func New(capacity int, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
	}
}

// Consume takes n tokens if they are all available and reports whether it did
func (t *TokenBucket) Consume(n int) bool {
	return t.limiter.AllowN(time.Now(), n)
}
