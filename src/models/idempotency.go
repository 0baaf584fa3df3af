package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "started"
	IdempotencyStatusSucceeded IdempotencyStatus = "succeeded"
)

// IdempotencyRecord stores the result of the first successful execution of a
// mutating request. Unique on request_key.
type IdempotencyRecord struct {
	ID             uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestKey     string            `gorm:"type:varchar(128);not null;uniqueIndex" json:"request_key"`
	BusinessID     uuid.UUID         `gorm:"type:uuid;not null;index" json:"business_id"`
	EndpointPath   string            `gorm:"type:varchar(255);not null" json:"endpoint_path"`
	Status         IdempotencyStatus `gorm:"type:varchar(20);not null" json:"status"`
	ResultSnapshot json.RawMessage   `gorm:"type:jsonb" json:"result_snapshot,omitempty"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
