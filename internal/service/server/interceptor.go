package server

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/oshokin/procdb/internal/logger"
)

// accessLog returns interceptors that write one debug line per call. When
// forced, the lines are written whatever the configured level is.
func accessLog(ctx context.Context, forced bool) (grpc.UnaryServerInterceptor, grpc.StreamServerInterceptor) {
	log := logger.FromContext(ctx).Named("rpc")
	if forced {
		log = log.WithOptions(logger.WithLevel(zapcore.DebugLevel))
	}

	write := func(method string, started time.Time, err error) {
		log.Desugar().Debug("RPC served",
			zap.String("method", method),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}

	unary := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(logger.ToContext(ctx, log), req)
		write(info.FullMethod, started, err)

		return resp, err
	}

	stream := func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		started := time.Now()
		err := handler(srv, ss)
		write(info.FullMethod, started, err)

		return err
	}

	return unary, stream
}
