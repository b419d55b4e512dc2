package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/maida-ai/xcp/ether"
)

// ErrRateLimited is returned by RateLimitMiddleware's short-circuit path
// when the token bucket is empty.
var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware applies a token-bucket limiter (server side) ahead
// of the Ether handler. Tokens refill at r per second up to burst; each
// request consumes one token.
//
// The limiter is created in the OUTER closure, once per middleware
// construction, not inside the inner handler — a fresh limiter per
// request would defeat rate limiting entirely.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *ether.Ether) (*ether.Ether, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
