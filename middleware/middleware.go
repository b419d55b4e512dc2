// Package middleware implements the onion model middleware chain used by
// the XCP server to wrap its Ether handler (server.WithMiddleware). The
// client package does not apply a middleware chain of its own.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before calling next)
//   - Call next(ctx, req) to pass to the next layer
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g., rate limiting)
package middleware

import (
	"context"

	"github.com/maida-ai/xcp/ether"
)

// HandlerFunc is the function signature for Ether handlers. Both the
// application handler and middleware-wrapped handlers share this
// signature.
type HandlerFunc func(ctx context.Context, req *ether.Ether) (*ether.Ether, error)

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware, built
// right to left so the first middleware in the list is the outermost
// layer (executed first on request, last on response).
//
// Example:
//
//	chain := Chain(LoggingMiddleware(), RateLimitMiddleware(10, 20))
//	handler := chain(businessHandler)
//	// Execution: Logging → RateLimit → businessHandler → RateLimit → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
