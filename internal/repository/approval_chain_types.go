package repository

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pesio-ai/be-hr-approval-chains/internal/errors"
)

// ── Request types ────────────────────────────────────────────────────────────

// RequestType identifies the kind of employee request a chain applies to.
type RequestType string

const (
	RequestTypeAttendance       RequestType = "attendance"
	RequestTypeAdvanceSalary    RequestType = "advance-salary"
	RequestTypeLoan             RequestType = "loan"
	RequestTypeLeaveApplication RequestType = "leave-application"
	RequestTypeLeaveEncashment  RequestType = "leave-encashment"
)

// AllRequestTypes lists every supported request type in display order.
var AllRequestTypes = []RequestType{
	RequestTypeAttendance,
	RequestTypeAdvanceSalary,
	RequestTypeLoan,
	RequestTypeLeaveApplication,
	RequestTypeLeaveEncashment,
}

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	return slices.Contains(AllRequestTypes, t)
}

// ParseRequestType validates a wire value.
func ParseRequestType(s string) (RequestType, error) {
	t := RequestType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", errors.InvalidInput("request_type", fmt.Sprintf("unknown request type %q", s))
	}
	return t, nil
}

// ── Flow and approver variants ───────────────────────────────────────────────

// ApprovalFlow selects between immediate approval and a level chain.
type ApprovalFlow string

const (
	ApprovalFlowAutoApproved ApprovalFlow = "auto-approved"
	ApprovalFlowMultiLevel   ApprovalFlow = "multi-level"
)

func (f ApprovalFlow) Valid() bool {
	return f == ApprovalFlowAutoApproved || f == ApprovalFlowMultiLevel
}

// ApproverType is the strategy used to pick a level's approver.
type ApproverType string

const (
	ApproverTypeSpecificEmployee  ApproverType = "specific-employee"
	ApproverTypeDepartmentHead    ApproverType = "department-head"
	ApproverTypeSubDepartmentHead ApproverType = "sub-department-head"
	ApproverTypeRoleBased         ApproverType = "role-based"
)

// DepartmentHeadMode applies to department-head and sub-department-head levels.
type DepartmentHeadMode string

const (
	// DepartmentHeadModeAuto resolves the current head at resolution time.
	DepartmentHeadModeAuto DepartmentHeadMode = "auto"
	// DepartmentHeadModeSpecific always uses SpecificEmployeeID.
	DepartmentHeadModeSpecific DepartmentHeadMode = "specific"
)

// MaxApprovalLevels bounds the length of a chain.
const MaxApprovalLevels = 10

// ── Aggregate ────────────────────────────────────────────────────────────────

// ApprovalLevelConfig is one rung of a multi-level chain. Stored as an element
// of the approval_levels JSONB array.
type ApprovalLevelConfig struct {
	Level              int                `json:"level"`
	ApproverType       ApproverType       `json:"approver_type"`
	DepartmentHeadMode DepartmentHeadMode `json:"department_head_mode,omitempty"`
	SpecificEmployeeID string             `json:"specific_employee_id,omitempty"`
	DepartmentID       string             `json:"department_id,omitempty"`
	SubDepartmentID    string             `json:"sub_department_id,omitempty"`
	RoleCode           string             `json:"role_code,omitempty"`
}

// ApprovalChainConfiguration is the single active chain for an
// (organization, request type) pair.
type ApprovalChainConfiguration struct {
	ID             string                `json:"id"`
	OrganizationID string                `json:"organization_id"`
	RequestType    RequestType           `json:"request_type"`
	ApprovalFlow   ApprovalFlow          `json:"approval_flow"`
	ApprovalLevels []ApprovalLevelConfig `json:"approval_levels"`
	Version        int                   `json:"version"`
	UpdatedBy      string                `json:"updated_by,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Clone returns a deep copy.
func (c *ApprovalChainConfiguration) Clone() *ApprovalChainConfiguration {
	if c == nil {
		return nil
	}
	out := *c
	out.ApprovalLevels = slices.Clone(c.ApprovalLevels)
	if out.ApprovalLevels == nil {
		out.ApprovalLevels = []ApprovalLevelConfig{}
	}
	return &out
}

// Normalize applies the canonical form: auto-approved chains carry no levels
// and levels are ordered ascending. Level fields are stored as submitted.
// Normalize is idempotent.
func (c *ApprovalChainConfiguration) Normalize() {
	if c.ApprovalFlow == ApprovalFlowAutoApproved || c.ApprovalLevels == nil {
		c.ApprovalLevels = []ApprovalLevelConfig{}
		return
	}
	slices.SortStableFunc(c.ApprovalLevels, func(a, b ApprovalLevelConfig) int {
		return a.Level - b.Level
	})
}

// Validate checks the chain invariants. Call after Normalize.
func (c *ApprovalChainConfiguration) Validate() error {
	v := &ValidationError{}

	if strings.TrimSpace(c.OrganizationID) == "" {
		v.Add("organization_id", "organization is required")
	}
	if !c.RequestType.Valid() {
		v.Add("request_type", fmt.Sprintf("unknown request type %q", c.RequestType))
	}
	if !c.ApprovalFlow.Valid() {
		v.Add("approval_flow", fmt.Sprintf("unknown approval flow %q", c.ApprovalFlow))
		return v.OrNil()
	}

	if c.ApprovalFlow == ApprovalFlowAutoApproved {
		if len(c.ApprovalLevels) > 0 {
			v.Add("approval_levels", "auto-approved flow cannot carry levels")
		}
		return v.OrNil()
	}

	if len(c.ApprovalLevels) == 0 {
		v.Add("approval_levels", "multi-level flow requires at least one level")
		return v.OrNil()
	}
	if len(c.ApprovalLevels) > MaxApprovalLevels {
		v.Add("approval_levels", fmt.Sprintf("at most %d levels are allowed", MaxApprovalLevels))
	}

	seen := make(map[int]bool, len(c.ApprovalLevels))
	for i, l := range c.ApprovalLevels {
		field := fmt.Sprintf("approval_levels[%d]", i)
		switch {
		case l.Level < 1:
			v.Add(field+".level", "level must be a positive integer")
		case seen[l.Level]:
			v.Add(field+".level", fmt.Sprintf("duplicate level %d", l.Level))
		}
		seen[l.Level] = true
		validateLevel(v, field, l)
	}

	for want := 1; want <= len(c.ApprovalLevels); want++ {
		if !seen[want] {
			v.Add("approval_levels", fmt.Sprintf("levels must be contiguous from 1; level %d is missing", want))
			break
		}
	}

	return v.OrNil()
}

func validateLevel(v *ValidationError, field string, l ApprovalLevelConfig) {
	switch l.ApproverType {
	case ApproverTypeSpecificEmployee:
		if blank(l.SpecificEmployeeID) {
			v.Add(field+".specific_employee_id", "specific employee is required")
		}
	case ApproverTypeDepartmentHead, ApproverTypeSubDepartmentHead:
		switch l.DepartmentHeadMode {
		case DepartmentHeadModeAuto:
		case DepartmentHeadModeSpecific:
			if blank(l.SpecificEmployeeID) {
				v.Add(field+".specific_employee_id", "specific employee is required when department head mode is specific")
			}
		case "":
			v.Add(field+".department_head_mode", "department head mode is required")
		default:
			v.Add(field+".department_head_mode", fmt.Sprintf("unknown department head mode %q", l.DepartmentHeadMode))
		}
	case ApproverTypeRoleBased:
		if blank(l.RoleCode) {
			v.Add(field+".role_code", "role code is required for role-based levels")
		}
	default:
		v.Add(field+".approver_type", fmt.Sprintf("unknown approver type %q", l.ApproverType))
	}
}

// UsesSpecificEmployee reports whether the level is answered by its
// SpecificEmployeeID rather than a directory lookup.
func (l ApprovalLevelConfig) UsesSpecificEmployee() bool {
	switch l.ApproverType {
	case ApproverTypeSpecificEmployee:
		return true
	case ApproverTypeDepartmentHead, ApproverTypeSubDepartmentHead:
		return l.DepartmentHeadMode == DepartmentHeadModeSpecific
	}
	return false
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ── Validation error ─────────────────────────────────────────────────────────

// FieldViolation is one failed invariant.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a save. Nothing is persisted when it is returned.
type ValidationError struct {
	Violations []FieldViolation `json:"violations"`
}

// Add records a violation.
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Message: message})
}

// OrNil returns e when it holds violations, nil otherwise.
func (e *ValidationError) OrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "invalid approval chain configuration: " + strings.Join(parts, "; ")
}

// ErrorCode implements errors.Coder.
func (e *ValidationError) ErrorCode() errors.Code { return errors.ErrCodeValidation }
