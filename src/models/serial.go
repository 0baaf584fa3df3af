package models

import (
	"time"

	"github.com/google/uuid"
)

type SerialStatus string

const (
	SerialStatusInStock   SerialStatus = "in_stock"
	SerialStatusInTransit SerialStatus = "in_transit"
	SerialStatusSold      SerialStatus = "sold"
	SerialStatusReturned  SerialStatus = "returned"
	SerialStatusDamaged   SerialStatus = "damaged"
)

func (s SerialStatus) Valid() bool {
	switch s {
	case SerialStatusInStock, SerialStatusInTransit, SerialStatusSold, SerialStatusReturned, SerialStatusDamaged:
		return true
	default:
		return false
	}
}

// SerializedUnit is one physical, individually tracked item.
type SerializedUnit struct {
	ID                uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID        uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_serial_business_number" json:"business_id"`
	SerialNumber      string       `gorm:"type:varchar(150);not null;uniqueIndex:idx_serial_business_number" json:"serial_number"`
	ProductID         uuid.UUID    `gorm:"type:uuid;not null" json:"product_id"`
	VariationID       uuid.UUID    `gorm:"type:uuid;not null;index" json:"variation_id"`
	Status            SerialStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	CurrentLocationID *uuid.UUID   `gorm:"type:uuid;index" json:"current_location_id,omitempty"`
	PurchaseID        *uuid.UUID   `gorm:"type:uuid;index" json:"purchase_id,omitempty"`
	PurchaseReceiptID *uuid.UUID   `gorm:"type:uuid" json:"purchase_receipt_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (SerializedUnit) TableName() string {
	return "serialized_units"
}

// SerialNumberMovement is the append-only trail of unit status/location changes.
type SerialNumberMovement struct {
	ID               uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SerializedUnitID uuid.UUID     `gorm:"type:uuid;not null;index" json:"serialized_unit_id"`
	FromStatus       *SerialStatus `gorm:"type:varchar(20)" json:"from_status,omitempty"`
	ToStatus         SerialStatus  `gorm:"type:varchar(20);not null" json:"to_status"`
	FromLocationID   *uuid.UUID    `gorm:"type:uuid" json:"from_location_id,omitempty"`
	ToLocationID     *uuid.UUID    `gorm:"type:uuid" json:"to_location_id,omitempty"`
	ReferenceType    ReferenceType `gorm:"type:varchar(30)" json:"reference_type"`
	ReferenceID      *uuid.UUID    `gorm:"type:uuid;index" json:"reference_id,omitempty"`
	CreatedBy        uuid.UUID     `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt        time.Time     `json:"created_at"`
}

func (SerialNumberMovement) TableName() string {
	return "serial_number_movements"
}
