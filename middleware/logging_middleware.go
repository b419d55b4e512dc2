package middleware

import (
	"context"
	"log"
	"time"

	"github.com/maida-ai/xcp/ether"
)

// LoggingMiddleware records the Ether kind, duration, and any error for
// each request. It captures the start time before calling next, and logs
// the elapsed time after next returns.
//
// Example output:
//
//	kind: text, duration: 42µs
//	error: codec: unsupported codec id 0x00fe
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *ether.Ether) (*ether.Ether, error) {
			start := time.Now()

			resp, err := next(ctx, req)

			duration := time.Since(start)
			log.Printf("kind: %s, duration: %s", req.Kind, duration)
			if err != nil {
				log.Printf("error: %s", err)
			}
			return resp, err
		}
	}
}
