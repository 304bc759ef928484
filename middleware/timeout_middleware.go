package middleware

import (
	"context"
	"time"

	"github.com/adrianchifor/arrpc/rpcerror"
)

// Timeout bounds handler execution. On expiry the caller gets an in-band
// RPC error; the handler goroutine is left to finish on its own since the
// protocol has no cancellation, its late result is simply discarded.
func Timeout(timeout time.Duration) Middleware {
	type outcome struct {
		result any
		err    error
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, msg)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, rpcerror.NewRPC("request timed out")
			}
		}
	}
}
