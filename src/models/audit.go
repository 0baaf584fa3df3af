package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ============ AUDIT ============
type AuditLog struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID  uuid.UUID       `gorm:"type:uuid;not null;index:idx_audit_business_entity" json:"business_id"`
	UserID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Action      string          `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType  string          `gorm:"type:varchar(50);not null;index:idx_audit_business_entity" json:"entity_type"`
	EntityIDs   []uuid.UUID     `gorm:"type:jsonb;serializer:json" json:"entity_ids"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Metadata    json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	IPAddress   string          `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent   string          `gorm:"type:text" json:"user_agent"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// ============ OUTBOX ============
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxEvent is written in the same transaction as the audit entry and
// relayed to Kafka after commit.
type OutboxEvent struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID    uuid.UUID       `gorm:"type:uuid;not null" json:"business_id"`
	EventType     string          `gorm:"type:varchar(50);not null" json:"event_type"`
	AggregateID   uuid.UUID       `gorm:"type:uuid;not null" json:"aggregate_id"`
	Payload       json.RawMessage `gorm:"type:jsonb;not null" json:"payload"`
	Status        OutboxStatus    `gorm:"type:varchar(20);not null;index:idx_outbox_pending" json:"status"`
	Attempts      int             `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time      `gorm:"index:idx_outbox_pending" json:"next_attempt_at,omitempty"`
	LastError     *string         `gorm:"type:text" json:"last_error,omitempty"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
