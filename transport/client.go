// Package transport is the controller's gRPC connection to a node agent.
// Addresses may be tcp host:port pairs or local sockets such as
// unix:///run/flowkit/agent.sock.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/xnet"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// DefaultDialTimeout bounds a single connection attempt when the caller's
// context carries no deadline.
const DefaultDialTimeout = 20 * time.Second

// Client sends requests to one node agent.
type Client struct {
	addr   string
	conn   *grpc.ClientConn
	client api.DeployerClient
}

// Dial creates a client for addr. The connection is established lazily by
// gRPC, so Dial only fails on malformed options. Options in opts are applied
// after the defaults and may override the dialer.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	proto, address := xnet.ParseAddr(addr)

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		// gRPC dialer connects to proxy first. Provide a custom dialer here avoid that.
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			timeout := DefaultDialTimeout
			if deadline, ok := ctx.Deadline(); ok {
				timeout = time.Until(deadline)
			}
			return xnet.DialTimeout(proto, addr, timeout)
		}),
	}
	dialOpts = append(dialOpts, opts...)

	cc, err := grpc.DialContext(ctx, address, dialOpts...)
	if err != nil {
		return nil, errdefs.Failed("dial %s: %v", addr, err)
	}
	return &Client{
		addr:   addr,
		conn:   cc,
		client: api.NewDeployerClient(cc),
	}, nil
}

// Addr returns the address the client was dialed with.
func (c *Client) Addr() string {
	return c.addr
}

// Process sends req and waits for the reply. Transport failures are
// returned as errors; application failures arrive in the response.
func (c *Client) Process(ctx context.Context, req *api.Request) (*api.Response, error) {
	resp, err := c.client.Process(ctx, req)
	if err != nil {
		return nil, fromStatus(c.addr, err)
	}
	return resp, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func fromStatus(addr string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errdefs.Failed("%s: %v", addr, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return errdefs.ParamInvalid("%s: %s", addr, st.Message())
	case codes.Internal:
		return errdefs.Internal("%s: %s", addr, st.Message())
	default:
		return errdefs.Failed("%s: %s: %s", addr, st.Code(), st.Message())
	}
}
