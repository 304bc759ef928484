package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Logging logs one line per handled request with its duration and outcome.
func Logging(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg any) (any, error) {
			start := time.Now()
			result, err := next(ctx, msg)
			duration := time.Since(start)
			if err != nil {
				logger.Error().Err(err).Dur("duration", duration).Msg("handler failed")
			} else {
				logger.Debug().Dur("duration", duration).Msg("handled request")
			}
			return result, err
		}
	}
}
