package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchaseStatusPending           PurchaseStatus = "pending"
	PurchaseStatusPartiallyReceived PurchaseStatus = "partially_received"
	PurchaseStatusReceived          PurchaseStatus = "received"
)

type PurchaseOrder struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"business_id"`
	ReferenceNo string         `gorm:"type:varchar(50)" json:"reference_no"`
	SupplierID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"supplier_id"`
	LocationID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"location_id"`
	Status      PurchaseStatus `gorm:"type:varchar(30);not null;index" json:"status"`

	Subtotal       decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"subtotal"`
	TaxAmount      decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"tax_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"discount_amount"`
	ShippingCost   decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"shipping_cost"`
	Total          decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"total"`

	CreatedBy  uuid.UUID  `gorm:"type:uuid;not null" json:"created_by"`
	VoidedBy   *uuid.UUID `gorm:"type:uuid" json:"voided_by,omitempty"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`
	VoidReason *string    `gorm:"type:text" json:"void_reason,omitempty"`
	Notes      *string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Items []PurchaseItem `gorm:"foreignKey:PurchaseID" json:"items"`
}

func (PurchaseOrder) TableName() string {
	return "purchase_orders"
}

func (p *PurchaseOrder) IsVoided() bool {
	return p.VoidedAt != nil
}

type PurchaseItem struct {
	ID               uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PurchaseID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"purchase_id"`
	ProductID        uuid.UUID       `gorm:"type:uuid;not null" json:"product_id"`
	VariationID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"variation_id"`
	QuantityOrdered  int             `gorm:"not null" json:"quantity_ordered"`
	QuantityReceived int             `gorm:"not null;default:0" json:"quantity_received"`
	UnitCost         decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"unit_cost"`
	LineTotal        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"line_total"`
	RequiresSerial   bool            `gorm:"not null;default:false" json:"requires_serial"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (PurchaseItem) TableName() string {
	return "purchase_items"
}

func (i *PurchaseItem) Outstanding() int {
	return i.QuantityOrdered - i.QuantityReceived
}

// GoodsReceiptNote records one receiving event against a purchase order.
// It is immutable once created.
type GoodsReceiptNote struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID uuid.UUID `gorm:"type:uuid;not null;index" json:"business_id"`
	PurchaseID uuid.UUID `gorm:"type:uuid;not null;index" json:"purchase_id"`
	LocationID uuid.UUID `gorm:"type:uuid;not null" json:"location_id"`
	ReceiptNo  string    `gorm:"type:varchar(50)" json:"receipt_no"`
	ReceivedBy uuid.UUID `gorm:"type:uuid;not null" json:"received_by"`
	Notes      *string   `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	Items []PurchaseReceiptItem `gorm:"foreignKey:ReceiptID" json:"items"`
}

func (GoodsReceiptNote) TableName() string {
	return "purchase_receipts"
}

type PurchaseReceiptItem struct {
	ID               uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReceiptID        uuid.UUID `gorm:"type:uuid;not null;index" json:"receipt_id"`
	PurchaseItemID   uuid.UUID `gorm:"type:uuid;not null;index" json:"purchase_item_id"`
	VariationID      uuid.UUID `gorm:"type:uuid;not null" json:"variation_id"`
	QuantityReceived int       `gorm:"not null" json:"quantity_received"`
	SerialNumbers    []string  `gorm:"type:jsonb;serializer:json" json:"serial_numbers"`
	CreatedAt        time.Time `json:"created_at"`
}

func (PurchaseReceiptItem) TableName() string {
	return "purchase_receipt_items"
}
