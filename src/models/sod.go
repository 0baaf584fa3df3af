package models

import (
	"time"

	"github.com/google/uuid"
)

// SODRule is a business override of one separation-of-duties rule,
// keyed by (business, action, actor field).
type SODRule struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_sod_rule_key" json:"business_id"`
	Action       string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_sod_rule_key" json:"action"`
	ActorField   string    `gorm:"type:varchar(30);not null;uniqueIndex:idx_sod_rule_key" json:"actor_field"`
	Comparison   string    `gorm:"type:varchar(20);not null" json:"comparison"`
	Enabled      bool      `gorm:"not null" json:"enabled"`
	Configurable bool      `gorm:"not null;default:true" json:"configurable"`
	Code         string    `gorm:"type:varchar(80);not null" json:"code"`
	Message      string    `gorm:"type:text;not null" json:"message"`
	Suggestion   string    `gorm:"type:text" json:"suggestion"`
	BypassRoles  []string  `gorm:"type:jsonb;serializer:json" json:"bypass_roles"`
	UpdatedBy    uuid.UUID `gorm:"type:uuid" json:"updated_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (SODRule) TableName() string {
	return "sod_rules"
}
