package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/kafka"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/domain"
)

// Event types emitted by the auth service.
const (
	TypeCredentialRegistered = "auth.credential.registered"
	TypeTelegramBound        = "auth.telegram.bound"
	TypeSessionRevoked       = "auth.session.revoked"
	TypeRoleGranted          = "auth.role.granted"
	TypeConsistencyAlert     = "auth.consistency.alert"
)

// Kafka topics for auth events.
var (
	TopicCredentialRegistered = pkgkafka.Topic("auth", "credential", "registered")
	TopicTelegramBound        = pkgkafka.Topic("auth", "telegram", "bound")
	TopicSessionRevoked       = pkgkafka.Topic("auth", "session", "revoked")
	TopicRoleGranted          = pkgkafka.Topic("auth", "role", "granted")
	TopicConsistencyAlert     = pkgkafka.Topic("auth", "consistency", "alert")
)

const (
	AggregateTypeCredential = "credential"
	SourceAuthService       = "auth-service"
)

// CredentialRegisteredData is the payload for a credential.registered event.
type CredentialRegisteredData struct {
	CredentialID string   `json:"credential_id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	TelegramID   *int64   `json:"telegram_id,omitempty"`
	Roles        []string `json:"roles"`
}

// TelegramBoundData is the payload for a telegram.bound event.
type TelegramBoundData struct {
	CredentialID string `json:"credential_id"`
	TelegramID   int64  `json:"telegram_id"`
}

// SessionRevokedData is the payload for a session.revoked event.
type SessionRevokedData struct {
	CredentialID string `json:"credential_id"`
	Revoked      int64  `json:"revoked"`
}

// RoleGrantedData is the payload for a role.granted event.
type RoleGrantedData struct {
	CredentialID string `json:"credential_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
}

// ConsistencyAlertData is the payload for a consistency.alert event. It is
// emitted when a registration could not be rolled back and the credential
// store and the profile service disagree.
type ConsistencyAlertData struct {
	CredentialID string `json:"credential_id"`
	Step         string `json:"step"`
	Error        string `json:"error"`
}

// Publisher delivers an event envelope to a topic. *pkgkafka.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// NoopPublisher discards every event. It is used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, *pkgkafka.Event) error { return nil }

// Producer publishes auth domain events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishCredentialRegistered publishes a credential.registered event.
func (p *Producer) PublishCredentialRegistered(ctx context.Context, c *domain.Credential) error {
	return p.publish(ctx, TopicCredentialRegistered, TypeCredentialRegistered, c.ID, CredentialRegisteredData{
		CredentialID: c.ID,
		Username:     c.Username,
		Email:        c.Email,
		TelegramID:   c.TelegramID,
		Roles:        domain.RoleNames(c.Roles),
	})
}

// PublishTelegramBound publishes a telegram.bound event.
func (p *Producer) PublishTelegramBound(ctx context.Context, credentialID string, telegramID int64) error {
	return p.publish(ctx, TopicTelegramBound, TypeTelegramBound, credentialID, TelegramBoundData{
		CredentialID: credentialID,
		TelegramID:   telegramID,
	})
}

// PublishSessionRevoked publishes a session.revoked event.
func (p *Producer) PublishSessionRevoked(ctx context.Context, credentialID string, revoked int64) error {
	return p.publish(ctx, TopicSessionRevoked, TypeSessionRevoked, credentialID, SessionRevokedData{
		CredentialID: credentialID,
		Revoked:      revoked,
	})
}

// PublishRoleGranted publishes a role.granted event.
func (p *Producer) PublishRoleGranted(ctx context.Context, c *domain.Credential, role domain.Role) error {
	return p.publish(ctx, TopicRoleGranted, TypeRoleGranted, c.ID, RoleGrantedData{
		CredentialID: c.ID,
		Username:     c.Username,
		Role:         string(role),
	})
}

// PublishConsistencyAlert publishes a consistency.alert event.
func (p *Producer) PublishConsistencyAlert(ctx context.Context, credentialID, step string, cause error) error {
	return p.publish(ctx, TopicConsistencyAlert, TypeConsistencyAlert, credentialID, ConsistencyAlertData{
		CredentialID: credentialID,
		Step:         step,
		Error:        cause.Error(),
	})
}

func (p *Producer) publish(ctx context.Context, topic, eventType, credentialID string, data any) error {
	event, err := pkgkafka.NewEvent(ctx, eventType, credentialID, AggregateTypeCredential, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("event_type", eventType),
		slog.String("credential_id", credentialID),
	)
	return nil
}
