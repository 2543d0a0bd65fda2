package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "bazaar.realtime.v1.Gateway"
	BroadcastMethod = "/" + ServiceName + "/Broadcast"
)

// BroadcastServer is the gRPC face. Requests and responses are
// google.protobuf.Struct values shaped like Request and Response.
type BroadcastServer interface {
	Broadcast(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BroadcastServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Broadcast", Handler: broadcastHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bazaar/realtime/v1/gateway.proto",
}

func broadcastHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BroadcastServer).Broadcast(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: BroadcastMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BroadcastServer).Broadcast(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type grpcServer struct {
	gw *Gateway
}

// RegisterGRPC exposes gw on s.
func RegisterGRPC(s grpc.ServiceRegistrar, gw *Gateway) {
	s.RegisterService(&serviceDesc, &grpcServer{gw: gw})
}

func (s *grpcServer) Broadcast(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if !s.gw.Authorize(tokenFromMetadata(ctx)) {
		return nil, status.Error(codes.Unauthenticated, ErrUnauthorized.Error())
	}

	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}

	resp, err := s.gw.Handle(ctx, req)
	if err != nil {
		if badRequest(err) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.FromContextError(err).Err()
	}

	return structpb.NewStruct(map[string]any{"delivered_count": resp.DeliveredCount})
}

func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	token, found := strings.CutPrefix(vals[0], "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

// LoggingInterceptor logs unary RPC calls.
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		logger.Debug().Str("method", info.FullMethod).Msg("rpc call")
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn().Err(err).Str("method", info.FullMethod).Msg("rpc error")
		}
		return resp, err
	}
}
