package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
	"github.com/pesio-ai/be-hr-approval-chains/internal/client"
	"github.com/pesio-ai/be-hr-approval-chains/internal/errors"
	"github.com/pesio-ai/be-hr-approval-chains/internal/logger"
	"github.com/pesio-ai/be-hr-approval-chains/internal/metrics"
	"github.com/pesio-ai/be-hr-approval-chains/internal/repository"
)

// RequestContext describes the request instance being routed.
type RequestContext struct {
	RequesterEmployeeID string `json:"requester_employee_id"`
	DepartmentID        string `json:"department_id,omitempty"`
	SubDepartmentID     string `json:"sub_department_id,omitempty"`
}

// ResolvedApprover is one concrete rung of a resolved chain.
type ResolvedApprover struct {
	Level              int                     `json:"level"`
	ApproverEmployeeID string                  `json:"approver_employee_id"`
	ApproverType       repository.ApproverType `json:"approver_type"`
}

// Resolution is the ordered chain a request must pass through. Level N is
// only actionable after level N-1 approved; driving that is up to the
// workflow engine.
type Resolution struct {
	AutoApproved bool               `json:"auto_approved"`
	Chain        []ResolvedApprover `json:"chain"`
}

// UnresolvedReason explains why a level could not be mapped to an employee.
type UnresolvedReason string

const (
	ReasonNoDepartmentHead           UnresolvedReason = "no-department-head"
	ReasonNoSubDepartmentHead        UnresolvedReason = "no-sub-department-head"
	ReasonDeletedEmployee            UnresolvedReason = "deleted-employee"
	ReasonNoRoleHolder               UnresolvedReason = "no-role-holder"
	ReasonMissingRequesterDepartment UnresolvedReason = "missing-requester-department"
)

// UnresolvedApproverError reports a level that has no concrete approver.
// Such a level is never skipped.
type UnresolvedApproverError struct {
	Level           int
	ApproverType    repository.ApproverType
	Reason          UnresolvedReason
	DepartmentID    string
	SubDepartmentID string
	EmployeeID      string
	RoleCode        string
}

func (e *UnresolvedApproverError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "approval level %d (%s) cannot be resolved: %s", e.Level, e.ApproverType, e.Reason)
	switch {
	case e.EmployeeID != "":
		fmt.Fprintf(&b, " (employee %s)", e.EmployeeID)
	case e.SubDepartmentID != "":
		fmt.Fprintf(&b, " (sub-department %s)", e.SubDepartmentID)
	case e.DepartmentID != "":
		fmt.Fprintf(&b, " (department %s)", e.DepartmentID)
	case e.RoleCode != "":
		fmt.Fprintf(&b, " (role %s)", e.RoleCode)
	}
	return b.String()
}

// ErrorCode implements errors.Coder.
func (e *UnresolvedApproverError) ErrorCode() errors.Code { return errors.ErrCodeUnresolvedApprover }

// ApproverResolver turns a stored chain into concrete approver employee ids.
// It keeps no state between calls: each resolution reads a fresh directory
// snapshot.
type ApproverResolver struct {
	store     repository.ApprovalChainStore
	directory client.Directory
	log       *logger.Logger
}

// NewApproverResolver creates a new ApproverResolver.
func NewApproverResolver(store repository.ApprovalChainStore, directory client.Directory, log *logger.Logger) *ApproverResolver {
	return &ApproverResolver{store: store, directory: directory, log: log}
}

// ResolveForRequest loads the actor's configuration for requestType and
// resolves it against req.
func (r *ApproverResolver) ResolveForRequest(ctx context.Context, actor auth.Actor, requestType repository.RequestType, req RequestContext) (*Resolution, error) {
	if err := authorize(actor, auth.PermissionRead); err != nil {
		return nil, err
	}
	if err := checkRequestType(requestType); err != nil {
		return nil, err
	}

	cfg, err := r.store.Get(ctx, actor.OrganizationID, requestType)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, cfg, req)
}

// Resolve maps every level of cfg to one approver, in ascending level order.
// A nil or auto-approved cfg yields an empty auto-approved resolution.
// A multi-level cfg that breaks the chain rules (no levels, gaps, missing
// approver fields) is an internal error; no level is ever dropped.
// Directory failures are returned wrapped and unchanged in kind.
func (r *ApproverResolver) Resolve(ctx context.Context, cfg *repository.ApprovalChainConfiguration, req RequestContext) (*Resolution, error) {
	if cfg == nil || cfg.ApprovalFlow == repository.ApprovalFlowAutoApproved {
		if cfg != nil {
			metrics.ResolutionsTotal.WithLabelValues(string(cfg.RequestType), "auto_approved").Inc()
		}
		return &Resolution{AutoApproved: true, Chain: []ResolvedApprover{}}, nil
	}

	start := time.Now()
	defer func() {
		metrics.ResolutionDuration.WithLabelValues(string(cfg.RequestType)).Observe(time.Since(start).Seconds())
	}()

	levels := cfg.Clone()
	levels.Normalize()
	if err := levels.Validate(); err != nil {
		err = errors.Wrap(err, errors.ErrCodeInternal, "invalid approval chain configuration")
		r.recordFailure(cfg, err)
		return nil, err
	}

	chain := make([]ResolvedApprover, 0, len(levels.ApprovalLevels))
	for _, level := range levels.ApprovalLevels {
		employeeID, err := r.resolveLevel(ctx, cfg.OrganizationID, level, req)
		if err != nil {
			r.recordFailure(cfg, err)
			return nil, err
		}
		chain = append(chain, ResolvedApprover{
			Level:              level.Level,
			ApproverEmployeeID: employeeID,
			ApproverType:       level.ApproverType,
		})
	}

	metrics.ResolutionsTotal.WithLabelValues(string(cfg.RequestType), "resolved").Inc()
	r.log.Debug().
		Str("organization_id", cfg.OrganizationID).
		Str("request_type", string(cfg.RequestType)).
		Str("requester", req.RequesterEmployeeID).
		Int("levels", len(chain)).
		Msg("Approval chain resolved")

	return &Resolution{Chain: chain}, nil
}

func (r *ApproverResolver) resolveLevel(ctx context.Context, organizationID string, level repository.ApprovalLevelConfig, req RequestContext) (string, error) {
	unresolved := func(reason UnresolvedReason) *UnresolvedApproverError {
		return &UnresolvedApproverError{Level: level.Level, ApproverType: level.ApproverType, Reason: reason}
	}

	switch level.ApproverType {
	case repository.ApproverTypeSpecificEmployee:
		return r.existingEmployee(ctx, organizationID, level)

	case repository.ApproverTypeDepartmentHead:
		if level.DepartmentHeadMode == repository.DepartmentHeadModeSpecific {
			return r.existingEmployee(ctx, organizationID, level)
		}
		departmentID := firstNonEmpty(level.DepartmentID, req.DepartmentID)
		if departmentID == "" {
			return "", unresolved(ReasonMissingRequesterDepartment)
		}
		head, err := r.directory.GetDepartmentHead(ctx, organizationID, departmentID)
		if err != nil {
			return "", fmt.Errorf("level %d: department head lookup for %s: %w", level.Level, departmentID, err)
		}
		if head == "" {
			e := unresolved(ReasonNoDepartmentHead)
			e.DepartmentID = departmentID
			return "", e
		}
		return head, nil

	case repository.ApproverTypeSubDepartmentHead:
		if level.DepartmentHeadMode == repository.DepartmentHeadModeSpecific {
			return r.existingEmployee(ctx, organizationID, level)
		}
		subDepartmentID := firstNonEmpty(level.SubDepartmentID, req.SubDepartmentID)
		if subDepartmentID == "" {
			return "", unresolved(ReasonMissingRequesterDepartment)
		}
		head, err := r.directory.GetSubDepartmentHead(ctx, organizationID, subDepartmentID)
		if err != nil {
			return "", fmt.Errorf("level %d: sub-department head lookup for %s: %w", level.Level, subDepartmentID, err)
		}
		if head == "" {
			e := unresolved(ReasonNoSubDepartmentHead)
			e.SubDepartmentID = subDepartmentID
			return "", e
		}
		return head, nil

	case repository.ApproverTypeRoleBased:
		departmentID := firstNonEmpty(level.DepartmentID, req.DepartmentID)
		holder, err := r.directory.GetRoleHolder(ctx, organizationID, level.RoleCode, departmentID)
		if err != nil {
			return "", fmt.Errorf("level %d: role holder lookup for %s: %w", level.Level, level.RoleCode, err)
		}
		if holder == "" {
			e := unresolved(ReasonNoRoleHolder)
			e.RoleCode = level.RoleCode
			e.DepartmentID = departmentID
			return "", e
		}
		return holder, nil

	default:
		return "", errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("level %d: unsupported approver type %q", level.Level, level.ApproverType))
	}
}

// existingEmployee returns the level's fixed employee after checking the
// directory still knows them.
func (r *ApproverResolver) existingEmployee(ctx context.Context, organizationID string, level repository.ApprovalLevelConfig) (string, error) {
	exists, err := r.directory.EmployeeExists(ctx, organizationID, level.SpecificEmployeeID)
	if err != nil {
		return "", fmt.Errorf("level %d: employee lookup for %s: %w", level.Level, level.SpecificEmployeeID, err)
	}
	if !exists {
		return "", &UnresolvedApproverError{
			Level:        level.Level,
			ApproverType: level.ApproverType,
			Reason:       ReasonDeletedEmployee,
			EmployeeID:   level.SpecificEmployeeID,
		}
	}
	return level.SpecificEmployeeID, nil
}

func (r *ApproverResolver) recordFailure(cfg *repository.ApprovalChainConfiguration, err error) {
	var unresolved *UnresolvedApproverError
	if errors.As(err, &unresolved) {
		metrics.ResolutionsTotal.WithLabelValues(string(cfg.RequestType), "unresolved").Inc()
		metrics.UnresolvedApproversTotal.WithLabelValues(string(unresolved.Reason)).Inc()
		r.log.Warn().
			Str("organization_id", cfg.OrganizationID).
			Str("request_type", string(cfg.RequestType)).
			Int("level", unresolved.Level).
			Str("reason", string(unresolved.Reason)).
			Msg("Approval level could not be resolved")
		return
	}

	metrics.ResolutionsTotal.WithLabelValues(string(cfg.RequestType), "error").Inc()
	r.log.Error().Err(err).
		Str("organization_id", cfg.OrganizationID).
		Str("request_type", string(cfg.RequestType)).
		Msg("Approval chain resolution failed")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
