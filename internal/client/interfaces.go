package client

import "context"

// Directory is the employee/department directory the resolver consults.
// Lookups that find nothing return an empty id and a nil error; transport
// failures are returned as errors.
type Directory interface {
	// GetDepartmentHead returns the employee currently heading a department.
	GetDepartmentHead(ctx context.Context, organizationID, departmentID string) (string, error)
	// GetSubDepartmentHead returns the employee currently heading a sub-department.
	GetSubDepartmentHead(ctx context.Context, organizationID, subDepartmentID string) (string, error)
	// EmployeeExists reports whether an active employee record exists.
	EmployeeExists(ctx context.Context, organizationID, employeeID string) (bool, error)
	// GetRoleHolder returns an employee holding roleCode, scoped to a
	// department when departmentID is non-empty.
	GetRoleHolder(ctx context.Context, organizationID, roleCode, departmentID string) (string, error)
}
