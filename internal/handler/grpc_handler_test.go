package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
	"github.com/pesio-ai/be-hr-approval-chains/internal/middleware"
)

const testSecret = "grpc-test-secret"

func newTestGRPC(t *testing.T) *grpc.ClientConn {
	t.Helper()
	chains, resolver := newServices()

	authn := middleware.NewAuthenticator(auth.NewTokenVerifier(testSecret))
	srv := grpc.NewServer(grpc.UnaryInterceptor(authn.UnaryServerInterceptor()))
	RegisterApprovalChainServiceServer(srv, NewGRPCHandler(chains, resolver, zerolog.Nop()))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func asActor(t *testing.T, actor auth.Actor) context.Context {
	t.Helper()
	token, err := auth.NewTokenVerifier(testSecret).Issue(actor, time.Hour)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func call(ctx context.Context, conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+ApprovalChainServiceName+"/"+method, in, out)
	return out, err
}

var grpcTwoLevels = map[string]any{
	"request_type":  "loan",
	"approval_flow": "multi-level",
	"approval_levels": []any{
		map[string]any{"level": 1, "approver_type": "specific-employee", "specific_employee_id": "E1"},
		map[string]any{"level": 2, "approver_type": "department-head", "department_head_mode": "auto"},
	},
}

func TestGRPC_SaveGetAndList(t *testing.T) {
	conn := newTestGRPC(t)
	ctx := asActor(t, hrAdmin)

	saved, err := call(ctx, conn, "SaveConfiguration", grpcTwoLevels)
	require.NoError(t, err)
	assert.Equal(t, float64(1), saved.GetFields()["version"].GetNumberValue())

	got, err := call(ctx, conn, "GetConfiguration", map[string]any{"request_type": "loan"})
	require.NoError(t, err)
	assert.True(t, got.GetFields()["configured"].GetBoolValue())
	levels := got.GetFields()["approval_levels"].GetListValue().GetValues()
	require.Len(t, levels, 2)
	assert.Equal(t, "E1", levels[0].GetStructValue().GetFields()["specific_employee_id"].GetStringValue())

	unconfigured, err := call(ctx, conn, "GetConfiguration", map[string]any{"request_type": "attendance"})
	require.NoError(t, err)
	assert.False(t, unconfigured.GetFields()["configured"].GetBoolValue())
	assert.Equal(t, "auto-approved", unconfigured.GetFields()["approval_flow"].GetStringValue())

	types, err := call(ctx, conn, "ListConfiguredRequestTypes", map[string]any{})
	require.NoError(t, err)
	list := types.GetFields()["request_types"].GetListValue().GetValues()
	require.Len(t, list, 1)
	assert.Equal(t, "loan", list[0].GetStringValue())
}

func TestGRPC_ValidationErrorCarriesViolations(t *testing.T) {
	conn := newTestGRPC(t)
	ctx := asActor(t, hrAdmin)

	_, err := call(ctx, conn, "SaveConfiguration", map[string]any{
		"request_type":    "loan",
		"approval_flow":   "multi-level",
		"approval_levels": []any{},
	})
	st := status.Convert(err)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	require.Len(t, st.Details(), 1)
	detail, ok := st.Details()[0].(*structpb.Struct)
	require.True(t, ok)
	assert.NotEmpty(t, detail.GetFields()["violations"].GetListValue().GetValues())
}

func TestGRPC_ResolveApprovers(t *testing.T) {
	conn := newTestGRPC(t)
	ctx := asActor(t, hrAdmin)

	_, err := call(ctx, conn, "SaveConfiguration", grpcTwoLevels)
	require.NoError(t, err)

	res, err := call(ctx, conn, "ResolveApprovers", map[string]any{
		"request_type":          "loan",
		"requester_employee_id": "E7",
		"department_id":         "dept-a",
	})
	require.NoError(t, err)
	chain := res.GetFields()["chain"].GetListValue().GetValues()
	require.Len(t, chain, 2)
	assert.Equal(t, "E2", chain[1].GetStructValue().GetFields()["approver_employee_id"].GetStringValue())

	_, err = call(ctx, conn, "ResolveApprovers", map[string]any{
		"request_type":  "loan",
		"department_id": "dept-b",
	})
	st := status.Convert(err)
	assert.Equal(t, codes.FailedPrecondition, st.Code())
	require.Len(t, st.Details(), 1)
	detail := st.Details()[0].(*structpb.Struct)
	assert.Equal(t, float64(2), detail.GetFields()["level"].GetNumberValue())
	assert.Equal(t, "no-department-head", detail.GetFields()["reason"].GetStringValue())
}

func TestGRPC_HistoryAndReset(t *testing.T) {
	conn := newTestGRPC(t)
	ctx := asActor(t, hrAdmin)

	for range 3 {
		_, err := call(ctx, conn, "SaveConfiguration", grpcTwoLevels)
		require.NoError(t, err)
	}

	history, err := call(ctx, conn, "GetConfigurationHistory", map[string]any{"request_type": "loan", "limit": 1})
	require.NoError(t, err)
	assert.Len(t, history.GetFields()["versions"].GetListValue().GetValues(), 1)

	_, err = call(ctx, conn, "ResetConfiguration", map[string]any{"request_type": "loan"})
	require.NoError(t, err)

	_, err = call(ctx, conn, "ResetConfiguration", map[string]any{"request_type": "loan"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_AuthErrors(t *testing.T) {
	conn := newTestGRPC(t)

	_, err := call(context.Background(), conn, "ListConfiguredRequestTypes", map[string]any{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = call(asActor(t, viewer), conn, "SaveConfiguration", grpcTwoLevels)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = call(asActor(t, viewer), conn, "GetConfiguration", map[string]any{"request_type": "overtime"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
