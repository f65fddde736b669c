package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/paw2paw/hf-behavior/go-controller/internal/adapt"
	"github.com/paw2paw/hf-behavior/go-controller/internal/cascade"
	"github.com/paw2paw/hf-behavior/go-controller/internal/playbook"
	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region service
// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "hf.targets.v1.TargetService"

// TargetService is the server-side contract. Every message is a google.protobuf.Struct.
type TargetService interface {
	RunAdaptation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ResolveTargets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ResolveCallTargets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	PlaybookTargets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	PatchPlaybookTargets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// Register exposes svc on s.
func Register(s *grpc.Server, svc TargetService) {
	s.RegisterService(&serviceDesc, svc)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TargetService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunAdaptation", Handler: handler("RunAdaptation", TargetService.RunAdaptation)},
		{MethodName: "ResolveTargets", Handler: handler("ResolveTargets", TargetService.ResolveTargets)},
		{MethodName: "ResolveCallTargets", Handler: handler("ResolveCallTargets", TargetService.ResolveCallTargets)},
		{MethodName: "PlaybookTargets", Handler: handler("PlaybookTargets", TargetService.PlaybookTargets)},
		{MethodName: "PatchPlaybookTargets", Handler: handler("PatchPlaybookTargets", TargetService.PatchPlaybookTargets)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hf/targets/v1/targets.proto",
}

type method func(TargetService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call method) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TargetService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TargetService), ctx, req.(*structpb.Struct))
		})
	}
}

// #endregion service

// #region server
// Server implements TargetService on top of the engine, resolver and playbook service.
type Server struct {
	engine    *adapt.Engine
	resolver  *cascade.Resolver
	playbooks *playbook.Service
}

// NewServer wires the service implementation.
func NewServer(engine *adapt.Engine, resolver *cascade.Resolver, playbooks *playbook.Service) *Server {
	return &Server{engine: engine, resolver: resolver, playbooks: playbooks}
}

// RunAdaptation runs the rule engine for {caller_id}. Engine failures are reported
// in the result's errors list, never as an RPC error.
func (s *Server) RunAdaptation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	callerID, err := requireString(in, "caller_id")
	if err != nil {
		return nil, err
	}
	return encode(s.engine.Run(ctx, callerID))
}

// ResolveTargets returns the cascade for {caller_id}.
func (s *Server) ResolveTargets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	callerID, err := requireString(in, "caller_id")
	if err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(ctx, callerID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(res)
}

// ResolveCallTargets returns the cascade for {call_id} joined with its measurements.
func (s *Server) ResolveCallTargets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	callID, err := requireString(in, "call_id")
	if err != nil {
		return nil, err
	}
	res, err := s.resolver.ResolveCall(ctx, callID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(res)
}

// PlaybookTargets returns {targets: [...]} for {playbook_id}.
func (s *Server) PlaybookTargets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	playbookID, err := requireString(in, "playbook_id")
	if err != nil {
		return nil, err
	}
	rows, err := s.playbooks.Targets(ctx, playbookID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]interface{}{"playbookId": playbookID, "targets": rows})
}

// PatchPlaybookTargets applies {playbook_id, changes: [{parameterId, targetValue|null}]}.
func (s *Server) PatchPlaybookTargets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	playbookID, err := requireString(in, "playbook_id")
	if err != nil {
		return nil, err
	}
	changes, err := decodeChanges(in)
	if err != nil {
		return nil, err
	}
	res, err := s.playbooks.Patch(ctx, playbookID, changes)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(res)
}

// #endregion server

// #region codec
func requireString(in *structpb.Struct, field string) (string, error) {
	v := in.GetFields()[field].GetStringValue()
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	return v, nil
}

func decodeChanges(in *structpb.Struct) ([]playbook.Change, error) {
	list := in.GetFields()["changes"].GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, "changes must be a list")
	}
	changes := make([]playbook.Change, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		fields := item.GetStructValue().GetFields()
		id := fields["parameterId"].GetStringValue()
		if id == "" {
			return nil, status.Errorf(codes.InvalidArgument, "changes[%d]: parameterId is required", i)
		}
		raw, ok := fields["targetValue"]
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "changes[%d]: targetValue is required (number or null)", i)
		}
		c := playbook.Change{ParameterID: id}
		switch k := raw.GetKind().(type) {
		case *structpb.Value_NullValue:
		case *structpb.Value_NumberValue:
			n := k.NumberValue
			c.TargetValue = &n
		default:
			return nil, status.Errorf(codes.InvalidArgument, "changes[%d]: targetValue must be a number or null", i)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// encode converts a JSON-tagged Go value into a Struct.
func encode(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// decode converts a Struct into a JSON-tagged Go value.
func decode(in *structpb.Struct, v interface{}) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, targets.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, playbook.ErrPlaybookPublished):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, playbook.ErrUnknownParameter), errors.Is(err, playbook.ErrRejected):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// #endregion codec

// #region interceptor
// LoggingInterceptor logs every unary call with its status code and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := h(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("rpc", fields...)
		}
		return resp, err
	}
}

// #endregion interceptor

// Compile-time interface check.
var _ TargetService = (*Server)(nil)
