package middleware

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/maida-ai/xcp/ether"
)

// RetryMiddleware retries a client-side request on transient transport
// errors (timeout, connection refused) with exponential backoff. It is
// not meant for the server side: NACK-level application errors are not
// retried here, since the session already continues serving after them.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *ether.Ether) (*ether.Ether, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil {
					return resp, nil
				}
				if !isRetryable(err) {
					return resp, err
				}
				log.Printf("retry attempt %d for kind %s due to error: %s", i+1, req.Kind, err)
				time.Sleep(baseDelay * time.Duration(1<<i))
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}

func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused")
}
