package handler

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
	"github.com/pesio-ai/be-hr-approval-chains/internal/errors"
	"github.com/pesio-ai/be-hr-approval-chains/internal/repository"
	"github.com/pesio-ai/be-hr-approval-chains/internal/service"
)

// ApprovalChainServiceName is the fully-qualified gRPC service name.
const ApprovalChainServiceName = "hr.approvals.v1.ApprovalChainService"

// ApprovalChainServiceServer is the server API. Messages are
// google.protobuf.Struct values with the same snake_case fields as the
// HTTP API.
type ApprovalChainServiceServer interface {
	GetConfiguration(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveConfiguration(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConfiguredRequestTypes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConfigurationHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetConfiguration(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveApprovers(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ApprovalChainServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ApprovalChainServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ApprovalChainServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ApprovalChainServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ApprovalChainServiceDesc describes the service for grpc.Server.RegisterService.
var ApprovalChainServiceDesc = grpc.ServiceDesc{
	ServiceName: ApprovalChainServiceName,
	HandlerType: (*ApprovalChainServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc("GetConfiguration", ApprovalChainServiceServer.GetConfiguration),
		methodDesc("SaveConfiguration", ApprovalChainServiceServer.SaveConfiguration),
		methodDesc("ListConfiguredRequestTypes", ApprovalChainServiceServer.ListConfiguredRequestTypes),
		methodDesc("GetConfigurationHistory", ApprovalChainServiceServer.GetConfigurationHistory),
		methodDesc("ResetConfiguration", ApprovalChainServiceServer.ResetConfiguration),
		methodDesc("ResolveApprovers", ApprovalChainServiceServer.ResolveApprovers),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hr/approvals/v1/approval_chains.proto",
}

// RegisterApprovalChainServiceServer registers srv on s.
func RegisterApprovalChainServiceServer(s grpc.ServiceRegistrar, srv ApprovalChainServiceServer) {
	s.RegisterService(&ApprovalChainServiceDesc, srv)
}

// GRPCHandler implements ApprovalChainServiceServer
type GRPCHandler struct {
	chains   *service.ApprovalChainService
	resolver *service.ApproverResolver
	logger   zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(chains *service.ApprovalChainService, resolver *service.ApproverResolver, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		chains:   chains,
		resolver: resolver,
		logger:   logger.With().Str("handler", "grpc").Logger(),
	}
}

type requestTypeRequest struct {
	RequestType string `json:"request_type"`
	Limit       int    `json:"limit"`
}

// GetConfiguration returns the active configuration. Unconfigured types
// answer with configured=false and the auto-approved default.
func (h *GRPCHandler) GetConfiguration(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	var in requestTypeRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	requestType, err := repository.ParseRequestType(in.RequestType)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.logger.Debug().
		Str("organization_id", actor.OrganizationID).
		Str("request_type", string(requestType)).
		Msg("gRPC GetConfiguration called")

	cfg, err := h.chains.GetConfiguration(ctx, actor, requestType)
	if err != nil {
		return nil, h.fail("GetConfiguration", err)
	}
	if cfg == nil {
		return encodeStruct(map[string]any{
			"request_type":    requestType,
			"approval_flow":   repository.ApprovalFlowAutoApproved,
			"approval_levels": []any{},
			"configured":      false,
		})
	}
	return encodeStruct(configurationResponse{cfg, true})
}

// SaveConfiguration replaces the chain of a request type.
func (h *GRPCHandler) SaveConfiguration(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	var in SaveConfigurationRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	requestType, err := repository.ParseRequestType(in.RequestType)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.logger.Info().
		Str("organization_id", actor.OrganizationID).
		Str("request_type", string(requestType)).
		Str("approval_flow", string(in.ApprovalFlow)).
		Int("levels", len(in.ApprovalLevels)).
		Msg("gRPC SaveConfiguration called")

	cfg, err := h.chains.SaveConfiguration(ctx, actor, requestType, in.ApprovalFlow, in.ApprovalLevels)
	if err != nil {
		return nil, h.fail("SaveConfiguration", err)
	}
	return encodeStruct(configurationResponse{cfg, true})
}

// ListConfiguredRequestTypes returns the request types with a configuration.
func (h *GRPCHandler) ListConfiguredRequestTypes(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	types, err := h.chains.ListRequestTypesWithConfiguration(ctx, actor)
	if err != nil {
		return nil, h.fail("ListConfiguredRequestTypes", err)
	}
	return encodeStruct(map[string]any{"request_types": types})
}

// GetConfigurationHistory returns superseded versions, newest first.
func (h *GRPCHandler) GetConfigurationHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	var in requestTypeRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	requestType, err := repository.ParseRequestType(in.RequestType)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	history, err := h.chains.GetConfigurationHistory(ctx, actor, requestType, in.Limit)
	if err != nil {
		return nil, h.fail("GetConfigurationHistory", err)
	}
	return encodeStruct(map[string]any{"request_type": requestType, "versions": history})
}

// ResetConfiguration falls a request type back to auto-approval.
func (h *GRPCHandler) ResetConfiguration(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	var in requestTypeRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	requestType, err := repository.ParseRequestType(in.RequestType)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	if err := h.chains.ResetConfiguration(ctx, actor, requestType); err != nil {
		return nil, h.fail("ResetConfiguration", err)
	}
	return encodeStruct(map[string]any{"success": true})
}

// ResolveApprovers resolves the concrete approver chain for one request.
func (h *GRPCHandler) ResolveApprovers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	var in ResolveRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	requestType, err := repository.ParseRequestType(in.RequestType)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	resolution, err := h.resolver.ResolveForRequest(ctx, actor, requestType, in.RequestContext)
	if err != nil {
		return nil, h.fail("ResolveApprovers", err)
	}
	return encodeStruct(resolution)
}

func (h *GRPCHandler) fail(method string, err error) error {
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		h.logger.Error().Err(err).Str("method", method).Msg("gRPC call failed")
	}
	return mapErrorToGRPC(err)
}

func actorFrom(ctx context.Context) (auth.Actor, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return auth.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return actor, nil
}

// decodeStruct converts a Struct message into a Go request type via JSON.
func decodeStruct(in *structpb.Struct, out any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// encodeStruct converts a JSON-serializable value into a Struct message.
func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// mapErrorToGRPC maps typed errors to gRPC status codes. Validation and
// unresolved-approver errors carry a Struct detail with their fields.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation:
		var verr *repository.ValidationError
		if errors.As(err, &verr) {
			return withDetail(codes.InvalidArgument, err.Error(), map[string]any{"violations": verr.Violations})
		}
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodeUnresolvedApprover:
		var uerr *service.UnresolvedApproverError
		if errors.As(err, &uerr) {
			return withDetail(codes.FailedPrecondition, err.Error(), map[string]any{
				"level":             uerr.Level,
				"reason":            uerr.Reason,
				"department_id":     uerr.DepartmentID,
				"sub_department_id": uerr.SubDepartmentID,
				"employee_id":       uerr.EmployeeID,
			})
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.ErrCodeConflict:
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func withDetail(code codes.Code, msg string, detail any) error {
	st := status.New(code, msg)
	d, err := encodeStruct(detail)
	if err != nil {
		return st.Err()
	}
	if withDetails, err := st.WithDetails(d); err == nil {
		return withDetails.Err()
	}
	return st.Err()
}
