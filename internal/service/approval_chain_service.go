package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
	"github.com/pesio-ai/be-hr-approval-chains/internal/client"
	"github.com/pesio-ai/be-hr-approval-chains/internal/errors"
	"github.com/pesio-ai/be-hr-approval-chains/internal/logger"
	"github.com/pesio-ai/be-hr-approval-chains/internal/metrics"
	"github.com/pesio-ai/be-hr-approval-chains/internal/repository"
)

// AuditLog records configuration changes.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.ApprovalChainAuditEntry) error
	ListByRequestType(ctx context.Context, organizationID string, requestType repository.RequestType) ([]*repository.ApprovalChainAuditEntry, error)
}

// EventPublisher announces configuration changes. Implementations must not
// block or fail the caller.
type EventPublisher interface {
	PublishApprovalChainEvent(ctx context.Context, event client.ApprovalChainEvent)
}

// Options tunes ApprovalChainService.
type Options struct {
	// ValidateEmployees checks every configured employee against the
	// directory on save.
	ValidateEmployees bool
	// HistoryLimit caps GetConfigurationHistory; zero means 50.
	HistoryLimit int
}

const defaultHistoryLimit = 50

// ApprovalChainService manages the approval chain configuration of an
// organization's request types.
type ApprovalChainService struct {
	store     repository.ApprovalChainStore
	audit     AuditLog
	directory client.Directory
	events    EventPublisher
	opts      Options
	log       *logger.Logger
}

// NewApprovalChainService creates a new ApprovalChainService. directory and
// events may be nil.
func NewApprovalChainService(
	store repository.ApprovalChainStore,
	audit AuditLog,
	directory client.Directory,
	events EventPublisher,
	opts Options,
	log *logger.Logger,
) *ApprovalChainService {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &ApprovalChainService{
		store:     store,
		audit:     audit,
		directory: directory,
		events:    events,
		opts:      opts,
		log:       log,
	}
}

// GetConfiguration returns the active configuration, or nil when the request
// type has never been configured. Nil means the type is auto-approved.
func (s *ApprovalChainService) GetConfiguration(ctx context.Context, actor auth.Actor, requestType repository.RequestType) (*repository.ApprovalChainConfiguration, error) {
	if err := authorize(actor, auth.PermissionRead); err != nil {
		return nil, err
	}
	if err := checkRequestType(requestType); err != nil {
		return nil, err
	}

	cfg, err := s.store.Get(ctx, actor.OrganizationID, requestType)
	if err != nil {
		return nil, err
	}
	metrics.ConfigReadsTotal.WithLabelValues(string(requestType), fmt.Sprint(cfg != nil)).Inc()
	return cfg, nil
}

// SaveConfiguration replaces the whole chain for requestType. Levels are
// never patched individually: the submitted list becomes the chain.
func (s *ApprovalChainService) SaveConfiguration(
	ctx context.Context,
	actor auth.Actor,
	requestType repository.RequestType,
	flow repository.ApprovalFlow,
	levels []repository.ApprovalLevelConfig,
) (*repository.ApprovalChainConfiguration, error) {
	if err := authorize(actor, auth.PermissionWrite); err != nil {
		return nil, err
	}

	cfg := &repository.ApprovalChainConfiguration{
		OrganizationID: actor.OrganizationID,
		RequestType:    requestType,
		ApprovalFlow:   flow,
		ApprovalLevels: slices.Clone(levels),
		UpdatedBy:      actor.UserID,
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		metrics.ConfigSavesTotal.WithLabelValues(string(requestType), "invalid").Inc()
		return nil, err
	}
	if err := s.checkEmployees(ctx, cfg); err != nil {
		metrics.ConfigSavesTotal.WithLabelValues(string(requestType), "invalid").Inc()
		return nil, err
	}

	prev, err := s.store.Get(ctx, actor.OrganizationID, requestType)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, cfg); err != nil {
		metrics.ConfigSavesTotal.WithLabelValues(string(requestType), "error").Inc()
		return nil, err
	}
	metrics.ConfigSavesTotal.WithLabelValues(string(requestType), "saved").Inc()

	s.log.Info().
		Str("organization_id", cfg.OrganizationID).
		Str("request_type", string(cfg.RequestType)).
		Str("approval_flow", string(cfg.ApprovalFlow)).
		Int("levels", len(cfg.ApprovalLevels)).
		Int("version", cfg.Version).
		Str("updated_by", actor.UserID).
		Msg("Approval chain configuration saved")

	entry := &repository.ApprovalChainAuditEntry{
		OrganizationID: cfg.OrganizationID,
		RequestType:    cfg.RequestType,
		ConfigID:       &cfg.ID,
		Action:         repository.AuditActionSaved,
		PerformedBy:    actor.UserID,
		VersionAfter:   &cfg.Version,
		Metadata: map[string]interface{}{
			"approval_flow": string(cfg.ApprovalFlow),
			"level_count":   len(cfg.ApprovalLevels),
		},
	}
	if prev != nil {
		entry.VersionBefore = &prev.Version
	}
	s.appendAudit(ctx, entry)

	s.publish(ctx, client.EventApprovalChainUpdated, actor, cfg)

	return cfg.Clone(), nil
}

// ListRequestTypesWithConfiguration returns the request types that have an
// explicit configuration. Every other type is auto-approved.
func (s *ApprovalChainService) ListRequestTypesWithConfiguration(ctx context.Context, actor auth.Actor) ([]repository.RequestType, error) {
	if err := authorize(actor, auth.PermissionRead); err != nil {
		return nil, err
	}
	return s.store.ListConfiguredTypes(ctx, actor.OrganizationID)
}

// GetConfigurationHistory returns superseded versions, newest first.
func (s *ApprovalChainService) GetConfigurationHistory(ctx context.Context, actor auth.Actor, requestType repository.RequestType, limit int) ([]*repository.ApprovalChainConfiguration, error) {
	if err := authorize(actor, auth.PermissionRead); err != nil {
		return nil, err
	}
	if err := checkRequestType(requestType); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.opts.HistoryLimit {
		limit = s.opts.HistoryLimit
	}
	return s.store.History(ctx, actor.OrganizationID, requestType, limit)
}

// GetAuditTrail returns every recorded change for requestType, oldest first.
func (s *ApprovalChainService) GetAuditTrail(ctx context.Context, actor auth.Actor, requestType repository.RequestType) ([]*repository.ApprovalChainAuditEntry, error) {
	if err := authorize(actor, auth.PermissionAdmin); err != nil {
		return nil, err
	}
	if err := checkRequestType(requestType); err != nil {
		return nil, err
	}
	return s.audit.ListByRequestType(ctx, actor.OrganizationID, requestType)
}

// ResetConfiguration removes the configuration so the type falls back to
// auto-approval.
func (s *ApprovalChainService) ResetConfiguration(ctx context.Context, actor auth.Actor, requestType repository.RequestType) error {
	if err := authorize(actor, auth.PermissionWrite); err != nil {
		return err
	}
	if err := checkRequestType(requestType); err != nil {
		return err
	}

	prev, err := s.store.Get(ctx, actor.OrganizationID, requestType)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, actor.OrganizationID, requestType, actor.UserID); err != nil {
		return err
	}

	s.log.Info().
		Str("organization_id", actor.OrganizationID).
		Str("request_type", string(requestType)).
		Str("reset_by", actor.UserID).
		Msg("Approval chain configuration reset")

	entry := &repository.ApprovalChainAuditEntry{
		OrganizationID: actor.OrganizationID,
		RequestType:    requestType,
		Action:         repository.AuditActionReset,
		PerformedBy:    actor.UserID,
	}
	if prev != nil {
		entry.ConfigID = &prev.ID
		entry.VersionBefore = &prev.Version
	}
	s.appendAudit(ctx, entry)

	s.publish(ctx, client.EventApprovalChainReset, actor, &repository.ApprovalChainConfiguration{
		OrganizationID: actor.OrganizationID,
		RequestType:    requestType,
		ApprovalFlow:   repository.ApprovalFlowAutoApproved,
	})
	return nil
}

// checkEmployees rejects levels answered by an employee the directory does
// not know. Auto head levels are skipped since they ignore the field.
func (s *ApprovalChainService) checkEmployees(ctx context.Context, cfg *repository.ApprovalChainConfiguration) error {
	if !s.opts.ValidateEmployees || s.directory == nil {
		return nil
	}

	v := &repository.ValidationError{}
	for i, level := range cfg.ApprovalLevels {
		if !level.UsesSpecificEmployee() {
			continue
		}
		exists, err := s.directory.EmployeeExists(ctx, cfg.OrganizationID, level.SpecificEmployeeID)
		if err != nil {
			return fmt.Errorf("failed to verify employee %s: %w", level.SpecificEmployeeID, err)
		}
		if !exists {
			v.Add(fmt.Sprintf("approval_levels[%d].specific_employee_id", i),
				fmt.Sprintf("employee %s does not exist", level.SpecificEmployeeID))
		}
	}
	return v.OrNil()
}

func (s *ApprovalChainService) publish(ctx context.Context, eventType string, actor auth.Actor, cfg *repository.ApprovalChainConfiguration) {
	if s.events == nil {
		return
	}
	s.events.PublishApprovalChainEvent(ctx, client.ApprovalChainEvent{
		EventType:      eventType,
		OrganizationID: cfg.OrganizationID,
		RequestType:    string(cfg.RequestType),
		ConfigID:       cfg.ID,
		Version:        cfg.Version,
		ApprovalFlow:   string(cfg.ApprovalFlow),
		LevelCount:     len(cfg.ApprovalLevels),
		ActorID:        actor.UserID,
	})
}

// appendAudit writes an audit entry, logging but not propagating errors.
func (s *ApprovalChainService) appendAudit(ctx context.Context, entry *repository.ApprovalChainAuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("request_type", string(entry.RequestType)).
			Str("action", entry.Action).
			Msg("Failed to write approval chain audit entry")
	}
}

// authorize checks that actor belongs to an organization and holds permission.
func authorize(actor auth.Actor, permission string) error {
	if actor.UserID == "" || actor.OrganizationID == "" {
		return errors.New(errors.ErrCodeUnauthorized, "an authenticated actor with an organization is required")
	}
	if !actor.Can(permission) {
		return errors.Forbidden(permission)
	}
	return nil
}

func checkRequestType(requestType repository.RequestType) error {
	if !requestType.Valid() {
		return errors.InvalidInput("request_type", fmt.Sprintf("unknown request type %q", requestType))
	}
	return nil
}
