package models

import (
	"time"

	"github.com/google/uuid"
)

type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusInTransit TransferStatus = "in_transit"
	TransferStatusArrived   TransferStatus = "arrived"
	TransferStatusVerifying TransferStatus = "verifying"
	TransferStatusReceived  TransferStatus = "received"
)

// Receivable - in_transit, arrived and verifying all accept the receive step
func (s TransferStatus) Receivable() bool {
	switch s {
	case TransferStatusInTransit, TransferStatusArrived, TransferStatusVerifying:
		return true
	default:
		return false
	}
}

// DeductionState says whether the source location has already been charged
// for a transfer.
type DeductionState int

const (
	// NotYetDeducted only exists on transfers sent before send-side deduction.
	NotYetDeducted DeductionState = iota
	DeductedAtSend
)

func (d DeductionState) String() string {
	if d == DeductedAtSend {
		return "deducted_at_send"
	}
	return "not_yet_deducted"
}

type StockTransfer struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"business_id"`
	ReferenceNo    string         `gorm:"type:varchar(50)" json:"reference_no"`
	FromLocationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"from_location_id"`
	ToLocationID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"to_location_id"`
	Status         TransferStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	// true iff a transfer_out ledger entry exists for this transfer; read it through DeductionState
	StockDeducted bool `gorm:"not null;default:false" json:"stock_deducted"`

	CreatedBy  uuid.UUID  `gorm:"type:uuid;not null" json:"created_by"`
	SentBy     *uuid.UUID `gorm:"type:uuid" json:"sent_by,omitempty"`
	CheckedBy  *uuid.UUID `gorm:"type:uuid" json:"checked_by,omitempty"`
	ReceivedBy *uuid.UUID `gorm:"type:uuid" json:"received_by,omitempty"`

	SentAt     *time.Time `json:"sent_at,omitempty"`
	ArrivedAt  *time.Time `json:"arrived_at,omitempty"`
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`

	Notes     *string   `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Items []StockTransferItem `gorm:"foreignKey:TransferID" json:"items"`
}

func (StockTransfer) TableName() string {
	return "stock_transfers"
}

func (t *StockTransfer) DeductionState() DeductionState {
	if t.StockDeducted {
		return DeductedAtSend
	}
	return NotYetDeducted
}

type StockTransferItem struct {
	ID                    uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TransferID            uuid.UUID   `gorm:"type:uuid;not null;index" json:"transfer_id"`
	ProductID             uuid.UUID   `gorm:"type:uuid;not null" json:"product_id"`
	VariationID           uuid.UUID   `gorm:"type:uuid;not null" json:"variation_id"`
	Quantity              int         `gorm:"not null" json:"quantity"`
	ReceivedQuantity      int         `gorm:"not null;default:0" json:"received_quantity"`
	SerialNumbersSent     []uuid.UUID `gorm:"type:jsonb;serializer:json" json:"serial_numbers_sent"`
	SerialNumbersReceived []uuid.UUID `gorm:"type:jsonb;serializer:json" json:"serial_numbers_received"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

func (StockTransferItem) TableName() string {
	return "stock_transfer_items"
}

// SentSerial - Report whether unitID was dispatched on this line
func (i *StockTransferItem) SentSerial(unitID uuid.UUID) bool {
	for _, id := range i.SerialNumbersSent {
		if id == unitID {
			return true
		}
	}
	return false
}
