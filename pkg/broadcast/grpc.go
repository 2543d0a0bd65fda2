package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

const grpcBroadcastMethod = "/bazaar.realtime.v1.Gateway/Broadcast"

// GRPCClient calls the gateway's gRPC face over an existing connection.
type GRPCClient struct {
	conn    grpc.ClientConnInterface
	token   string
	timeout time.Duration
	logger  zerolog.Logger
}

func NewGRPCClient(conn grpc.ClientConnInterface, token string, logger zerolog.Logger) *GRPCClient {
	return &GRPCClient{conn: conn, token: token, timeout: DefaultTimeout, logger: logger}
}

func (c *GRPCClient) Broadcast(ctx context.Context, channel string, env Envelope) (int, error) {
	// Round-trip through JSON so Data may be any JSON-encodable value.
	raw, err := json.Marshal(map[string]any{"channel": channel, "envelope": env})
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}
	in, err := structpb.NewStruct(m)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, grpcBroadcastMethod, in, out); err != nil {
		return 0, fmt.Errorf("gateway rpc: %w", err)
	}
	return int(out.GetFields()["delivered_count"].GetNumberValue()), nil
}

func (c *GRPCClient) Notify(ctx context.Context, channel string, env Envelope) {
	notify(ctx, c, c.logger, channel, env)
}
