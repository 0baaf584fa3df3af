package requests

import "github.com/google/uuid"

// ============ TRANSFER ============
type TransferLine struct {
	VariationID   uuid.UUID   `json:"variation_id" binding:"required"`
	Quantity      int         `json:"quantity" binding:"required,min=1"`
	SerialUnitIDs []uuid.UUID `json:"serial_unit_ids,omitempty"`
}

type CreateTransferRequest struct {
	FromLocationID uuid.UUID      `json:"from_location_id" binding:"required"`
	ToLocationID   uuid.UUID      `json:"to_location_id" binding:"required"`
	ReferenceNo    string         `json:"reference_no" binding:"max=50"`
	Notes          *string        `json:"notes,omitempty"`
	Items          []TransferLine `json:"items" binding:"required,min=1,dive"`
}

type ReceiveTransferLine struct {
	TransferItemID   uuid.UUID   `json:"transfer_item_id" binding:"required"`
	QuantityReceived int         `json:"quantity_received" binding:"min=0"`
	SerialUnitIDs    []uuid.UUID `json:"serial_unit_ids,omitempty"`
}

// ReceiveTransferRequest - no items receives the whole transfer as sent
type ReceiveTransferRequest struct {
	Items []ReceiveTransferLine `json:"items" binding:"omitempty,dive"`
}
