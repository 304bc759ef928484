// Package middleware wraps the server's application handler. Middlewares
// run after framing, decoding, and signature verification, so they see the
// real decoded message. A middleware that fails a request should return a
// *rpcerror.RPCError, which travels to the caller in-band; any other error
// is treated like a handler crash and tears down the connection.
package middleware

import "context"

type HandlerFunc func(ctx context.Context, msg any) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. Chain(A, B, C)(h) executes
// A before B before C before h.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
