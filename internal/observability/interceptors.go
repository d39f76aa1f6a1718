// Package observability provides gRPC interceptors and the HTTP server for
// metrics and health endpoints.
package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"speech-audit-pipeline/internal/observability/metrics"
)

// UnaryClientInterceptor returns a gRPC unary client interceptor that logs
// every outbound call to an STT provider and records its error class.
func UnaryClientInterceptor(provider string) grpc.UnaryClientInterceptor {
	return UnaryClientInterceptorWith(provider, metrics.DefaultMetrics)
}

// UnaryClientInterceptorWith is UnaryClientInterceptor with explicit metrics.
func UnaryClientInterceptorWith(provider string, m *metrics.Metrics) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()

		err := invoker(ctx, method, req, reply, cc, opts...)

		duration := time.Since(start)
		st, _ := status.FromError(err)
		if err != nil {
			m.RecordSTTError(provider, st.Code().String())
		}

		log.Info().
			Str("provider", provider).
			Str("method", method).
			Str("code", st.Code().String()).
			Dur("duration", duration).
			Msg("gRPC client call")

		return err
	}
}
