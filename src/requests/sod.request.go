package requests

import "github.com/google/uuid"

type ValidateSODRequest struct {
	Action     string    `json:"action" binding:"required"`
	EntityType string    `json:"entity_type" binding:"required,oneof=stock_transfer purchase_order"`
	EntityID   uuid.UUID `json:"entity_id" binding:"required"`
}

type UpsertSODRuleRequest struct {
	Action      string   `json:"action" binding:"required"`
	ActorField  string   `json:"actor_field" binding:"required"`
	Comparison  string   `json:"comparison" binding:"required,oneof=must_differ must_match"`
	Enabled     *bool    `json:"enabled" binding:"required"`
	Code        string   `json:"code" binding:"max=80"`
	Message     string   `json:"message"`
	Suggestion  string   `json:"suggestion"`
	BypassRoles []string `json:"bypass_roles,omitempty"`
}
