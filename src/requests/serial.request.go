package requests

import "github.com/google/uuid"

type RegisterSerialRequest struct {
	SerialNumber string    `json:"serial_number" binding:"required,max=150"`
	VariationID  uuid.UUID `json:"variation_id" binding:"required"`
	LocationID   uuid.UUID `json:"location_id" binding:"required"`
}

type TransitionSerialRequest struct {
	FromStatus string     `json:"from_status" binding:"required,oneof=in_stock sold returned damaged"`
	ToStatus   string     `json:"to_status" binding:"required,oneof=in_stock sold returned damaged"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
}
