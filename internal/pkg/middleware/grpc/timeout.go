package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const DefaultRPCTimeout = 10 * time.Second

// UnaryTimeoutInterceptor bounds client calls that carry no deadline.
func UnaryTimeoutInterceptor(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRPCTimeout)
		defer cancel()
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// UnaryServerTimeoutInterceptor bounds handlers to timeout unless the caller
// sent a shorter deadline. A non-positive timeout uses DefaultRPCTimeout.
func UnaryServerTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return handler(ctx, req)
	}
}
