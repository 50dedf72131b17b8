package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "aita.fusion.v1.FusionEngine"

// FusionEngineServer is the server API of the fusion engine. Requests and responses are
// google.protobuf.Struct so any gRPC client can call it without generated stubs.
type FusionEngineServer interface {
	ExtractThreat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClassifyThreat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScoreThreat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EnrichThreat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CorrelateLog(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TrainModels(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IngestThreats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(FusionEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var methods = map[string]unaryMethod{
	"ExtractThreat":  FusionEngineServer.ExtractThreat,
	"ClassifyThreat": FusionEngineServer.ClassifyThreat,
	"ScoreThreat":    FusionEngineServer.ScoreThreat,
	"EnrichThreat":   FusionEngineServer.EnrichThreat,
	"CorrelateLog":   FusionEngineServer.CorrelateLog,
	"ProcessPending": FusionEngineServer.ProcessPending,
	"TrainModels":    FusionEngineServer.TrainModels,
	"IngestThreats":  FusionEngineServer.IngestThreats,
	"HealthCheck":    FusionEngineServer.HealthCheck,
}

// MethodNames lists the unary methods in registration order.
var MethodNames = []string{
	"ExtractThreat",
	"ClassifyThreat",
	"ScoreThreat",
	"EnrichThreat",
	"CorrelateLog",
	"ProcessPending",
	"TrainModels",
	"IngestThreats",
	"HealthCheck",
}

func handler(name string) grpc.MethodHandler {
	call := methods[name]
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FusionEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + name,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(FusionEngineServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc describes the FusionEngine service for grpc.Server registration.
var ServiceDesc = func() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*FusionEngineServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "aita/fusion/v1/fusion.proto",
	}
	for _, name := range MethodNames {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: handler(name)})
	}
	return desc
}()

// RegisterFusionEngineServer registers srv on s.
func RegisterFusionEngineServer(s grpc.ServiceRegistrar, srv FusionEngineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FusionEngineClient calls the fusion engine over a client connection.
type FusionEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewFusionEngineClient wraps cc.
func NewFusionEngineClient(cc grpc.ClientConnInterface) *FusionEngineClient {
	return &FusionEngineClient{cc: cc}
}

// Call invokes the named unary method.
func (c *FusionEngineClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
