package api

import (
	"context"
	"strings"
	"time"

	"github.com/coraldb/coral/pkg/log"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RequestLogInterceptor stamps every unary RPC with a fresh uuid request id
// and logs its method, duration and outcome, for request-level tracing
// across the Admin RPC surface.
func RequestLogInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		reqID := uuid.New().String()
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := logger.Debug()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Str("request_id", reqID).
			Str("method", info.FullMethod).
			Dur("elapsed", time.Since(start)).
			Msg("rpc handled")
		return resp, err
	}
}

// ReadOnlyInterceptor returns a gRPC unary interceptor that only allows
// read-only ClusterAdmin methods. It is applied to any listener (e.g. a
// loopback-only admin socket) that should expose cluster status without
// granting the configuration-change and write authority of Bootstrap,
// AddPeer, RemovePeer and Propose.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"write operations not allowed on this listener - use the mTLS admin port",
			)
		}
		return handler(ctx, req)
	}
}

// isReadOnlyMethod reports whether a ClusterAdmin method leaves cluster
// state untouched. Info and Read are the only read-only RPCs in the current surface;
// GenerateToken and RequestCertificate grant credentials, which counts as
// a mutation here.
func isReadOnlyMethod(method string) bool {
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	methodName := parts[len(parts)-1]
	return methodName == "Info" || methodName == "Read"
}
