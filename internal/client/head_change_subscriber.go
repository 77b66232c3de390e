package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// HeadInvalidator drops cached head lookups.
type HeadInvalidator interface {
	InvalidateDepartment(ctx context.Context, organizationID, departmentID string) error
	InvalidateSubDepartment(ctx context.Context, organizationID, subDepartmentID string) error
}

// HeadChangedEvent is published by the HR directory when a department or
// sub-department head is reassigned.
type HeadChangedEvent struct {
	OrganizationID  string `json:"organization_id"`
	DepartmentID    string `json:"department_id,omitempty"`
	SubDepartmentID string `json:"sub_department_id,omitempty"`
}

// SubscribeHeadChanges evicts cached heads whenever the directory announces a
// reassignment on subject.
func SubscribeHeadChanges(conn *nats.Conn, subject string, inv HeadInvalidator, log zerolog.Logger) (*nats.Subscription, error) {
	return conn.Subscribe(subject, HeadChangedHandler(inv, log))
}

// HeadChangedHandler decodes HeadChangedEvent messages and invalidates the
// matching cache entries. Malformed messages are logged and dropped.
func HeadChangedHandler(inv HeadInvalidator, log zerolog.Logger) nats.MsgHandler {
	log = log.With().Str("component", "head_change_subscriber").Logger()

	return func(msg *nats.Msg) {
		var event HeadChangedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed head change event")
			return
		}
		if event.OrganizationID == "" {
			log.Warn().Str("subject", msg.Subject).Msg("dropping head change event without organization_id")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if event.DepartmentID != "" {
			if err := inv.InvalidateDepartment(ctx, event.OrganizationID, event.DepartmentID); err != nil {
				log.Warn().Err(err).Str("department_id", event.DepartmentID).Msg("failed to evict cached department head")
			}
		}
		if event.SubDepartmentID != "" {
			if err := inv.InvalidateSubDepartment(ctx, event.OrganizationID, event.SubDepartmentID); err != nil {
				log.Warn().Err(err).Str("sub_department_id", event.SubDepartmentID).Msg("failed to evict cached sub-department head")
			}
		}

		log.Debug().
			Str("organization_id", event.OrganizationID).
			Str("department_id", event.DepartmentID).
			Str("sub_department_id", event.SubDepartmentID).
			Msg("head change applied to cache")
	}
}
