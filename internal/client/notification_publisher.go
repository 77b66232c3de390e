package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-hr-approval-chains/internal/logger"
)

// Event types published when an approval chain changes.
const (
	EventApprovalChainUpdated = "updated"
	EventApprovalChainReset   = "reset"
)

// MessagePublisher is the subset of *nats.Conn the publisher needs.
type MessagePublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NotificationPublisher publishes approval chain change events to NATS so
// that downstream workflow engines can drop cached chains.
//
// Subject convention: <prefix>.<event_type>, e.g. approvals.chain.updated
//
// Publishing is non-fatal: errors are logged and never returned, so an
// unavailable broker never fails a configuration save.
type NotificationPublisher struct {
	nats   MessagePublisher
	prefix string
	log    zerolog.Logger
}

// ApprovalChainEvent is the JSON schema published to NATS.
type ApprovalChainEvent struct {
	EventType      string    `json:"event_type"`
	OrganizationID string    `json:"organization_id"`
	RequestType    string    `json:"request_type"`
	ConfigID       string    `json:"config_id,omitempty"`
	Version        int       `json:"version,omitempty"`
	ApprovalFlow   string    `json:"approval_flow,omitempty"`
	LevelCount     int       `json:"level_count"`
	ActorID        string    `json:"actor_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewNotificationPublisher creates a publisher. A nil conn disables publishing.
func NewNotificationPublisher(conn MessagePublisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = "approvals.chain"
	}
	return &NotificationPublisher{nats: conn, prefix: prefix, log: log}
}

// PublishApprovalChainEvent publishes event on <prefix>.<event.EventType>.
func (p *NotificationPublisher) PublishApprovalChainEvent(ctx context.Context, event ApprovalChainEvent) {
	if p == nil || p.nats == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := p.prefix + "." + event.EventType
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Organization-Id", event.OrganizationID)
	if reqID := logger.RequestIDFromContext(ctx); reqID != "" {
		msg.Header.Set("X-Request-Id", reqID)
	}

	if err := p.nats.PublishMsg(msg); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_type", event.RequestType).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("organization_id", event.OrganizationID).
		Str("request_type", event.RequestType).
		Int("version", event.Version).
		Msg("notification: event published")
}
