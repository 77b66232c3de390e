package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DirectoryServiceName is the fully-qualified gRPC service of the HR directory.
const DirectoryServiceName = "hr.directory.v1.DirectoryService"

// DirectoryGRPCClient implements Directory against the HR directory gRPC
// service. Requests and responses are google.protobuf.Struct messages keyed by
// snake_case field names.
type DirectoryGRPCClient struct {
	conn *grpc.ClientConn
}

// NewDirectoryGRPCClient dials the directory service.
func NewDirectoryGRPCClient(addr string, opts ...grpc.DialOption) (*DirectoryGRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return &DirectoryGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *DirectoryGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *DirectoryGRPCClient) GetDepartmentHead(ctx context.Context, organizationID, departmentID string) (string, error) {
	return c.employeeID(ctx, "GetDepartmentHead", map[string]any{
		"organization_id": organizationID,
		"department_id":   departmentID,
	})
}

func (c *DirectoryGRPCClient) GetSubDepartmentHead(ctx context.Context, organizationID, subDepartmentID string) (string, error) {
	return c.employeeID(ctx, "GetSubDepartmentHead", map[string]any{
		"organization_id":   organizationID,
		"sub_department_id": subDepartmentID,
	})
}

func (c *DirectoryGRPCClient) GetRoleHolder(ctx context.Context, organizationID, roleCode, departmentID string) (string, error) {
	return c.employeeID(ctx, "GetRoleHolder", map[string]any{
		"organization_id": organizationID,
		"role_code":       roleCode,
		"department_id":   departmentID,
	})
}

func (c *DirectoryGRPCClient) EmployeeExists(ctx context.Context, organizationID, employeeID string) (bool, error) {
	resp, err := c.invoke(ctx, "EmployeeExists", map[string]any{
		"organization_id": organizationID,
		"employee_id":     employeeID,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return resp.GetFields()["exists"].GetBoolValue(), nil
}

// employeeID calls a lookup RPC; NotFound maps to an empty id.
func (c *DirectoryGRPCClient) employeeID(ctx context.Context, method string, fields map[string]any) (string, error) {
	resp, err := c.invoke(ctx, method, fields)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", err
	}
	return resp.GetFields()["employee_id"].GetStringValue(), nil
}

func (c *DirectoryGRPCClient) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/"+DirectoryServiceName+"/"+method, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, err
		}
		return nil, fmt.Errorf("directory %s failed: %w", method, err)
	}
	return resp, nil
}
