package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-approval-chains/internal/database"
	"github.com/pesio-ai/be-hr-approval-chains/internal/errors"
)

// Audit actions.
const (
	AuditActionSaved = "saved"
	AuditActionReset = "reset"
)

// ApprovalChainAuditEntry is one immutable record of a configuration change.
type ApprovalChainAuditEntry struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	RequestType    RequestType            `json:"request_type"`
	ConfigID       *string                `json:"config_id,omitempty"`
	Action         string                 `json:"action"`
	PerformedBy    string                 `json:"performed_by"`
	PerformedAt    time.Time              `json:"performed_at"`
	VersionBefore  *int                   `json:"version_before,omitempty"`
	VersionAfter   *int                   `json:"version_after,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ApprovalChainAuditRepository appends and reads audit entries.
type ApprovalChainAuditRepository struct {
	db *database.DB
}

// NewApprovalChainAuditRepository creates a new ApprovalChainAuditRepository.
func NewApprovalChainAuditRepository(db *database.DB) *ApprovalChainAuditRepository {
	return &ApprovalChainAuditRepository{db: db}
}

// Append inserts one audit entry. Entries are never updated or deleted.
func (r *ApprovalChainAuditRepository) Append(ctx context.Context, entry *ApprovalChainAuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_chain_audit_log
		    (organization_id, request_type, config_id,
		     action, performed_by,
		     version_before, version_after, metadata)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7, $8)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.OrganizationID,
		string(entry.RequestType),
		entry.ConfigID,
		entry.Action,
		entry.PerformedBy,
		entry.VersionBefore,
		entry.VersionAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// ListByRequestType returns the audit trail for one request type, oldest first.
func (r *ApprovalChainAuditRepository) ListByRequestType(ctx context.Context, organizationID string, requestType RequestType) ([]*ApprovalChainAuditEntry, error) {
	query := `
		SELECT id, organization_id, request_type, config_id,
		       action, performed_by, performed_at,
		       version_before, version_after, metadata
		FROM approval_chain_audit_log
		WHERE organization_id = $1 AND request_type = $2
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, organizationID, string(requestType))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *ApprovalChainAuditRepository) scanRows(rows pgx.Rows) ([]*ApprovalChainAuditEntry, error) {
	entries := []*ApprovalChainAuditEntry{}
	for rows.Next() {
		entry := &ApprovalChainAuditEntry{}
		var (
			requestType  string
			metadataJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.OrganizationID,
			&requestType,
			&entry.ConfigID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&entry.VersionBefore,
			&entry.VersionAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		entry.RequestType = RequestType(requestType)

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MemoryAuditLog keeps audit entries in process. Used with the memory store.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []*ApprovalChainAuditEntry
}

// NewMemoryAuditLog creates an empty MemoryAuditLog.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (m *MemoryAuditLog) Append(ctx context.Context, entry *ApprovalChainAuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = uuid.NewString()
	entry.PerformedAt = time.Now().UTC()
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryAuditLog) ListByRequestType(ctx context.Context, organizationID string, requestType RequestType) ([]*ApprovalChainAuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []*ApprovalChainAuditEntry{}
	for _, e := range m.entries {
		if e.OrganizationID == organizationID && e.RequestType == requestType {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
