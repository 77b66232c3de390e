package handler

import (
	"context"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
	"github.com/pesio-ai/be-hr-approval-chains/internal/logger"
	"github.com/pesio-ai/be-hr-approval-chains/internal/repository"
	"github.com/pesio-ai/be-hr-approval-chains/internal/service"
)

var (
	hrAdmin = auth.Actor{UserID: "hr-1", OrganizationID: "org-1", Permissions: []string{auth.PermissionAdmin}}
	viewer  = auth.Actor{UserID: "viewer-1", OrganizationID: "org-1", Permissions: []string{auth.PermissionRead}}
)

// stubDirectory knows a single department head and a set of employees.
type stubDirectory struct {
	heads     map[string]string
	employees map[string]bool
}

func (d stubDirectory) GetDepartmentHead(_ context.Context, _, departmentID string) (string, error) {
	return d.heads[departmentID], nil
}

func (d stubDirectory) GetSubDepartmentHead(context.Context, string, string) (string, error) {
	return "", nil
}

func (d stubDirectory) EmployeeExists(_ context.Context, _, employeeID string) (bool, error) {
	return d.employees[employeeID], nil
}

func (d stubDirectory) GetRoleHolder(context.Context, string, string, string) (string, error) {
	return "", nil
}

func newServices() (*service.ApprovalChainService, *service.ApproverResolver) {
	store := repository.NewMemoryApprovalChainStore()
	dir := stubDirectory{
		heads:     map[string]string{"dept-a": "E2"},
		employees: map[string]bool{"E1": true},
	}
	chains := service.NewApprovalChainService(store, repository.NewMemoryAuditLog(), dir, nil, service.Options{}, logger.Nop())
	resolver := service.NewApproverResolver(store, dir, logger.Nop())
	return chains, resolver
}
