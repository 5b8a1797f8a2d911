package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// LoggingInterceptor logs one line per unary procedure call: procedure,
// authenticated user id, duration and outcome. Failures log at warn with
// the Connect code so gate rejections (FailedPrecondition) and auth
// failures stand out from transport errors. Stream procedures log inside
// their handlers; unary interceptors never wrap them.
func LoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()

			resp, err := next(ctx, req)

			attrs := []any{
				"procedure", req.Spec().Procedure,
				"user_id", GetUserID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err == nil {
				slog.Info("rpc completed", attrs...)
				return resp, nil
			}

			var connectErr *connect.Error
			if errors.As(err, &connectErr) {
				attrs = append(attrs, "code", connectErr.Code().String(), "error", connectErr.Message())
			} else {
				attrs = append(attrs, "error", err)
			}
			slog.Warn("rpc failed", attrs...)
			return resp, err
		}
	}
}
