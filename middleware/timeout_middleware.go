package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/maida-ai/xcp/ether"
)

// ErrTimeout is returned when a handler does not complete within the
// duration configured for TimeOutMiddleware.
var ErrTimeout = errors.New("middleware: request timed out")

// TimeOutMiddleware enforces a maximum duration per request.
//
// Implementation:
//  1. Create a context with timeout (ctx.Done() fires when timeout expires)
//  2. Run the next handler in a goroutine, sending its result to a channel
//  3. Select between the result channel and ctx.Done()
//
// The handler goroutine is NOT cancelled when the timeout fires — it
// keeps running in the background. The timeout only controls when the
// caller gives up waiting; a handler wanting true cancellation must
// check ctx.Done() itself.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *ether.Ether) (*ether.Ether, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp *ether.Ether
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
