package profile

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/paw2paw/hf-behavior/go-controller/internal/rules"
)

// #region methods
const (
	serviceName              = "hf.profile.v1.ProfileService"
	methodGetProfile         = "/" + serviceName + "/GetProfile"
	methodGetParameterValues = "/" + serviceName + "/GetParameterValues"
)

// #endregion methods

// #region remote-provider
// RemoteProvider reads profiles from a ProfileService over gRPC. Requests and responses
// are google.protobuf.Struct messages: the request carries caller_id, the response's
// fields are the profile entries themselves.
type RemoteProvider struct {
	conn    *grpc.ClientConn
	cc      grpc.ClientConnInterface
	timeout time.Duration
}

// NewRemoteProvider connects to a profile service.
func NewRemoteProvider(addr string, timeout time.Duration) (*RemoteProvider, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &RemoteProvider{conn: conn, cc: conn, timeout: timeout}, nil
}

// NewRemoteProviderWithConn uses an existing connection, e.g. a bufconn in tests.
func NewRemoteProviderWithConn(cc grpc.ClientConnInterface, timeout time.Duration) *RemoteProvider {
	return &RemoteProvider{cc: cc, timeout: timeout}
}

// Close shuts down the owned gRPC connection, if any.
func (r *RemoteProvider) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Profile implements Provider.
func (r *RemoteProvider) Profile(ctx context.Context, callerID string) (map[string]rules.Value, error) {
	resp, err := r.call(ctx, methodGetProfile, callerID)
	if err != nil {
		return nil, fmt.Errorf("get profile rpc: %w", err)
	}
	out := make(map[string]rules.Value, len(resp.GetFields()))
	for k, v := range resp.GetFields() {
		if val := fromProto(v); !val.IsNull() {
			out[k] = val
		}
	}
	return out, nil
}

// ParameterValues implements Provider. Non-numeric entries are dropped.
func (r *RemoteProvider) ParameterValues(ctx context.Context, callerID string) (map[string]float64, error) {
	resp, err := r.call(ctx, methodGetParameterValues, callerID)
	if err != nil {
		return nil, fmt.Errorf("get parameter values rpc: %w", err)
	}
	out := make(map[string]float64, len(resp.GetFields()))
	for k, v := range resp.GetFields() {
		if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
			out[k] = n.NumberValue
		}
	}
	return out, nil
}

func (r *RemoteProvider) call(ctx context.Context, method, callerID string) (*structpb.Struct, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	req, err := structpb.NewStruct(map[string]interface{}{"caller_id": callerID})
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := r.cc.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// #endregion remote-provider

// #region server
// RegisterService exposes p as a ProfileService on s.
func RegisterService(s *grpc.Server, p Provider) {
	s.RegisterService(&serviceDesc, p)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Provider)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetProfile", Handler: getProfileHandler},
		{MethodName: "GetParameterValues", Handler: getParameterValuesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hf/profile/v1/profile.proto",
}

func getProfileHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, methodGetProfile, func(ctx context.Context, p Provider, callerID string) (*structpb.Struct, error) {
		values, err := p.Profile(ctx, callerID)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "profile: %v", err)
		}
		fields := make(map[string]interface{}, len(values))
		for k, v := range values {
			fields[k] = v.Interface()
		}
		return structpb.NewStruct(fields)
	})
}

func getParameterValuesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unary(srv, ctx, dec, interceptor, methodGetParameterValues, func(ctx context.Context, p Provider, callerID string) (*structpb.Struct, error) {
		values, err := p.ParameterValues(ctx, callerID)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "parameter values: %v", err)
		}
		fields := make(map[string]interface{}, len(values))
		for k, v := range values {
			fields[k] = v
		}
		return structpb.NewStruct(fields)
	})
}

func unary(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
	fullMethod string,
	fn func(ctx context.Context, p Provider, callerID string) (*structpb.Struct, error),
) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req interface{}) (interface{}, error) {
		callerID := req.(*structpb.Struct).GetFields()["caller_id"].GetStringValue()
		if callerID == "" {
			return nil, status.Error(codes.InvalidArgument, "caller_id is required")
		}
		return fn(ctx, srv.(Provider), callerID)
	}
	if interceptor == nil {
		return handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
	return interceptor(ctx, in, info, handle)
}

// #endregion server

func fromProto(v *structpb.Value) rules.Value {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return rules.Number(k.NumberValue)
	case *structpb.Value_StringValue:
		return rules.String(k.StringValue)
	case *structpb.Value_BoolValue:
		return rules.FromInterface(k.BoolValue)
	}
	return rules.Null()
}

// Compile-time interface check.
var _ Provider = (*RemoteProvider)(nil)
