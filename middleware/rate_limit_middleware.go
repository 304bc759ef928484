package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/adrianchifor/arrpc/rpcerror"
)

// RateLimit rejects requests beyond r per second with a burst allowance,
// using a token bucket shared across all connections. Rejections surface
// to the caller as an in-band RPC error.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg any) (any, error) {
			if !limiter.Allow() {
				return nil, rpcerror.NewRPC("rate limit exceeded")
			}
			return next(ctx, msg)
		}
	}
}
