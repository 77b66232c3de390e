package client

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
)

// forwardMetadata is a gRPC unary client interceptor that propagates
// incoming request metadata (including the Bearer auth token) to outgoing
// directory calls. Calls that arrived over HTTP carry the token in ctx instead.
func forwardMetadata(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = metadata.NewOutgoingContext(ctx, md.Copy())
	} else if token := auth.TokenFromContext(ctx); token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// bearerFromContext finds the caller's token for REST calls.
func bearerFromContext(ctx context.Context) string {
	if token := auth.TokenFromContext(ctx); token != "" {
		return token
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, v := range md.Get("authorization") {
			if after, found := strings.CutPrefix(v, "Bearer "); found {
				return after
			}
		}
	}
	return ""
}
