package service

import (
	"context"
	"sync"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
	"github.com/pesio-ai/be-hr-approval-chains/internal/client"
	"github.com/pesio-ai/be-hr-approval-chains/internal/logger"
	"github.com/pesio-ai/be-hr-approval-chains/internal/repository"
)

const testOrg = "org-1"

var (
	adminActor = auth.Actor{UserID: "admin-1", OrganizationID: testOrg, Permissions: []string{auth.PermissionAdmin}}
	writer     = auth.Actor{UserID: "hr-1", OrganizationID: testOrg, Permissions: []string{auth.PermissionRead, auth.PermissionWrite}}
	reader     = auth.Actor{UserID: "viewer-1", OrganizationID: testOrg, Permissions: []string{auth.PermissionRead}}
)

// fakeDirectory is a static Directory for tests.
type fakeDirectory struct {
	mu        sync.Mutex
	heads     map[string]string
	subHeads  map[string]string
	roles     map[string]string
	employees map[string]bool
	err       error
	lookups   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		heads:     map[string]string{},
		subHeads:  map[string]string{},
		roles:     map[string]string{},
		employees: map[string]bool{},
	}
}

func (d *fakeDirectory) GetDepartmentHead(_ context.Context, _, departmentID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	return d.heads[departmentID], d.err
}

func (d *fakeDirectory) GetSubDepartmentHead(_ context.Context, _, subDepartmentID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	return d.subHeads[subDepartmentID], d.err
}

func (d *fakeDirectory) EmployeeExists(_ context.Context, _, employeeID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	return d.employees[employeeID], d.err
}

func (d *fakeDirectory) GetRoleHolder(_ context.Context, _, roleCode, departmentID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	return d.roles[roleCode+"/"+departmentID], d.err
}

// recordingEvents captures published events.
type recordingEvents struct {
	mu     sync.Mutex
	events []client.ApprovalChainEvent
}

func (r *recordingEvents) PublishApprovalChainEvent(_ context.Context, event client.ApprovalChainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type fixture struct {
	store     *repository.MemoryApprovalChainStore
	audit     *repository.MemoryAuditLog
	directory *fakeDirectory
	events    *recordingEvents
	service   *ApprovalChainService
	resolver  *ApproverResolver
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		store:     repository.NewMemoryApprovalChainStore(),
		audit:     repository.NewMemoryAuditLog(),
		directory: newFakeDirectory(),
		events:    &recordingEvents{},
	}
	f.service = NewApprovalChainService(f.store, f.audit, f.directory, f.events, opts, logger.Nop())
	f.resolver = NewApproverResolver(f.store, f.directory, logger.Nop())
	return f
}

func specificLevel(level int, employeeID string) repository.ApprovalLevelConfig {
	return repository.ApprovalLevelConfig{
		Level:              level,
		ApproverType:       repository.ApproverTypeSpecificEmployee,
		SpecificEmployeeID: employeeID,
	}
}

func deptHeadAutoLevel(level int) repository.ApprovalLevelConfig {
	return repository.ApprovalLevelConfig{
		Level:              level,
		ApproverType:       repository.ApproverTypeDepartmentHead,
		DepartmentHeadMode: repository.DepartmentHeadModeAuto,
	}
}

func multiLevelConfig(levels ...repository.ApprovalLevelConfig) *repository.ApprovalChainConfiguration {
	return &repository.ApprovalChainConfiguration{
		OrganizationID: testOrg,
		RequestType:    repository.RequestTypeLeaveApplication,
		ApprovalFlow:   repository.ApprovalFlowMultiLevel,
		ApprovalLevels: levels,
	}
}
