package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-approval-chains/internal/database"
	"github.com/pesio-ai/be-hr-approval-chains/internal/errors"
)

// ApprovalChainRepository is the PostgreSQL ApprovalChainStore.
// approval_chain_configs is unique on (organization_id, request_type); every
// save runs in one transaction serialized per key by an advisory lock.
type ApprovalChainRepository struct {
	db *database.DB
}

// NewApprovalChainRepository creates a new ApprovalChainRepository.
func NewApprovalChainRepository(db *database.DB) *ApprovalChainRepository {
	return &ApprovalChainRepository{db: db}
}

const selectConfigColumns = `
	SELECT id, organization_id, request_type, approval_flow,
	       approval_levels, version, updated_by, created_at, updated_at
`

// Get returns the active configuration or nil when none exists.
func (r *ApprovalChainRepository) Get(ctx context.Context, organizationID string, requestType RequestType) (*ApprovalChainConfiguration, error) {
	query := selectConfigColumns + `
		FROM approval_chain_configs
		WHERE organization_id = $1 AND request_type = $2
	`

	cfg, err := scanConfig(r.db.QueryRow(ctx, query, organizationID, string(requestType)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval chain configuration")
	}
	return cfg, nil
}

// Save replaces the active configuration for cfg's key.
func (r *ApprovalChainRepository) Save(ctx context.Context, cfg *ApprovalChainConfiguration) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	levelsJSON, err := json.Marshal(cfg.ApprovalLevels)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval levels")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockKey(ctx, tx, cfg.OrganizationID, cfg.RequestType); err != nil {
			return err
		}

		if err := archiveActive(ctx, tx, cfg.OrganizationID, cfg.RequestType, cfg.UpdatedBy); err != nil {
			return err
		}

		upsert := `
			INSERT INTO approval_chain_configs
			    (organization_id, request_type, approval_flow,
			     approval_levels, version, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (organization_id, request_type) DO UPDATE
			SET approval_flow   = EXCLUDED.approval_flow,
			    approval_levels = EXCLUDED.approval_levels,
			    version         = approval_chain_configs.version + 1,
			    updated_by      = EXCLUDED.updated_by,
			    updated_at      = NOW()
			RETURNING id, version, created_at, updated_at
		`

		firstVersion, err := nextVersionAfterDelete(ctx, tx, cfg.OrganizationID, cfg.RequestType)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, upsert,
			cfg.OrganizationID,
			string(cfg.RequestType),
			string(cfg.ApprovalFlow),
			levelsJSON,
			firstVersion,
			cfg.UpdatedBy,
		).Scan(&cfg.ID, &cfg.Version, &cfg.CreatedAt, &cfg.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to save approval chain configuration")
		}
		return nil
	})
}

// ListConfiguredTypes returns request types that have an active configuration.
func (r *ApprovalChainRepository) ListConfiguredTypes(ctx context.Context, organizationID string) ([]RequestType, error) {
	query := `
		SELECT request_type
		FROM approval_chain_configs
		WHERE organization_id = $1
		ORDER BY request_type ASC
	`

	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list configured request types")
	}
	defer rows.Close()

	types := []RequestType{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request type")
		}
		types = append(types, RequestType(t))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list configured request types")
	}
	return types, nil
}

// History returns superseded versions newest first.
func (r *ApprovalChainRepository) History(ctx context.Context, organizationID string, requestType RequestType, limit int) ([]*ApprovalChainConfiguration, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT config_id, organization_id, request_type, approval_flow,
		       approval_levels, version, updated_by, created_at, superseded_at
		FROM approval_chain_config_history
		WHERE organization_id = $1 AND request_type = $2
		ORDER BY version DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, organizationID, string(requestType), limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval chain history")
	}
	defer rows.Close()

	out := []*ApprovalChainConfiguration{}
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval chain history")
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval chain history")
	}
	return out, nil
}

// Delete archives and removes the active configuration.
func (r *ApprovalChainRepository) Delete(ctx context.Context, organizationID string, requestType RequestType, deletedBy string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockKey(ctx, tx, organizationID, requestType); err != nil {
			return err
		}
		if err := archiveActive(ctx, tx, organizationID, requestType, deletedBy); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			DELETE FROM approval_chain_configs
			WHERE organization_id = $1 AND request_type = $2
		`, organizationID, string(requestType))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval chain configuration")
		}
		if tag.RowsAffected() == 0 {
			return errors.NotFound("approval_chain_configuration", string(requestType))
		}
		return nil
	})
}

// ── transaction helpers ──────────────────────────────────────────────────────

func lockKey(ctx context.Context, tx pgx.Tx, organizationID string, requestType RequestType) error {
	_, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`,
		organizationID, string(requestType),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval chain configuration")
	}
	return nil
}

// archiveActive copies the active row, if any, into the history table.
func archiveActive(ctx context.Context, tx pgx.Tx, organizationID string, requestType RequestType, supersededBy string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO approval_chain_config_history
		    (config_id, organization_id, request_type, approval_flow,
		     approval_levels, version, updated_by, created_at, superseded_by)
		SELECT id, organization_id, request_type, approval_flow,
		       approval_levels, version, updated_by, created_at, $3
		FROM approval_chain_configs
		WHERE organization_id = $1 AND request_type = $2
	`, organizationID, string(requestType), supersededBy)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to archive approval chain configuration")
	}
	return nil
}

// nextVersionAfterDelete picks the version for a fresh insert so versions keep
// increasing after a reset.
func nextVersionAfterDelete(ctx context.Context, tx pgx.Tx, organizationID string, requestType RequestType) (int, error) {
	var maxVersion int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM approval_chain_config_history
		WHERE organization_id = $1 AND request_type = $2
	`, organizationID, string(requestType)).Scan(&maxVersion)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval chain version")
	}
	return maxVersion + 1, nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type configScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row configScanner) (*ApprovalChainConfiguration, error) {
	cfg := &ApprovalChainConfiguration{}
	var (
		requestType string
		flow        string
		levelsJSON  []byte
	)

	err := row.Scan(
		&cfg.ID,
		&cfg.OrganizationID,
		&requestType,
		&flow,
		&levelsJSON,
		&cfg.Version,
		&cfg.UpdatedBy,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.RequestType = RequestType(requestType)
	cfg.ApprovalFlow = ApprovalFlow(flow)
	cfg.ApprovalLevels = []ApprovalLevelConfig{}
	if len(levelsJSON) > 0 {
		if err := json.Unmarshal(levelsJSON, &cfg.ApprovalLevels); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approval levels")
		}
	}
	return cfg, nil
}
