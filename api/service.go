package api

import (
	"context"

	"google.golang.org/grpc"
)

// DeployerServiceName is the fully qualified gRPC service name.
const DeployerServiceName = "flowkit.Deployer"

const processMethod = "/" + DeployerServiceName + "/Process"

// DeployerServer is the node side of the deployer protocol.
type DeployerServer interface {
	Process(context.Context, *Request) (*Response, error)
}

// DeployerClient is the controller side of the deployer protocol.
type DeployerClient interface {
	Process(ctx context.Context, in *Request, opts ...grpc.CallOption) (*Response, error)
}

type deployerClient struct {
	cc grpc.ClientConnInterface
}

// NewDeployerClient returns a client that speaks the CBOR-encoded deployer
// protocol over cc.
func NewDeployerClient(cc grpc.ClientConnInterface) DeployerClient {
	return &deployerClient{cc: cc}
}

func (c *deployerClient) Process(ctx context.Context, in *Request, opts ...grpc.CallOption) (*Response, error) {
	out := new(Response)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, processMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterDeployerServer registers srv with s.
func RegisterDeployerServer(s *grpc.Server, srv DeployerServer) {
	s.RegisterService(&deployerServiceDesc, srv)
}

func processHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeployerServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: processMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DeployerServer).Process(ctx, req.(*Request))
	}
	return interceptor(ctx, in, info, handler)
}

var deployerServiceDesc = grpc.ServiceDesc{
	ServiceName: DeployerServiceName,
	HandlerType: (*DeployerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Process",
			Handler:    processHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flowkit/api/service.go",
}
