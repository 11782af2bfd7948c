package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/akutz/memconn"
	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubServer struct {
	handle func(*api.Request) (*api.Response, error)
}

func (s stubServer) Process(_ context.Context, req *api.Request) (*api.Response, error) {
	return s.handle(req)
}

func startStub(t *testing.T, name string, handle func(*api.Request) (*api.Response, error)) *Client {
	t.Helper()

	lis, err := memconn.Listen("memu", name)
	require.NoError(t, err)

	srv := grpc.NewServer()
	api.RegisterDeployerServer(srv, stubServer{handle: handle})
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, name, grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		return memconn.Dial("memu", addr)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestProcessRoundTrip(t *testing.T) {
	c := startStub(t, "transport-roundtrip", func(req *api.Request) (*api.Response, error) {
		if req.Type != api.RequestInit || req.Init == nil {
			return api.NewErrorResponse(api.ParamInvalid, "unexpected %s", req.Type), nil
		}
		return &api.Response{
			ClientID: "abc",
			Init:     &api.InitResponse{DeviceCount: int32(req.Init.NodeID) + 1, DataPorts: []int32{20000}},
		}, nil
	})
	assert.Equal(t, "transport-roundtrip", c.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.Process(ctx, &api.Request{Type: api.RequestInit, Init: &api.InitRequest{NodeID: 3}})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "abc", resp.ClientID)
	assert.Equal(t, int32(4), resp.Init.DeviceCount)
	assert.Equal(t, []int32{20000}, resp.Init.DataPorts)

	resp, err = c.Process(ctx, &api.Request{Type: api.RequestHeartbeat})
	require.NoError(t, err)
	assert.Equal(t, api.ParamInvalid, resp.ErrorCode)
	assert.Equal(t, "unexpected Heartbeat", resp.ErrorMessage)
}

func TestProcessStatusErrors(t *testing.T) {
	var next error
	c := startStub(t, "transport-errors", func(*api.Request) (*api.Response, error) {
		return nil, next
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	next = status.Error(codes.InvalidArgument, "bad body")
	_, err := c.Process(ctx, &api.Request{})
	assert.True(t, errdefs.IsParamInvalid(err), "got %v", err)

	next = status.Error(codes.Internal, "boom")
	_, err = c.Process(ctx, &api.Request{})
	assert.True(t, errdefs.IsInternal(err), "got %v", err)

	next = status.Error(codes.Unavailable, "gone")
	_, err = c.Process(ctx, &api.Request{})
	assert.True(t, errdefs.IsFailed(err), "got %v", err)
}

func TestProcessUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "transport-nobody", grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		return memconn.Dial("memu", addr)
	}))
	require.NoError(t, err)
	defer c.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer callCancel()
	_, err = c.Process(callCtx, &api.Request{Type: api.RequestHeartbeat})
	assert.True(t, errdefs.IsFailed(err), "got %v", err)
}
