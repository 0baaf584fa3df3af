package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============ ENUMS & TYPES ============
type TransactionType string

const (
	TransactionOpeningStock    TransactionType = "opening_stock"
	TransactionPurchaseReceipt TransactionType = "purchase_receipt"
	TransactionTransferOut     TransactionType = "transfer_out"
	TransactionTransferIn      TransactionType = "transfer_in"
	TransactionAdjustment      TransactionType = "adjustment"
)

type ReferenceType string

const (
	ReferencePurchaseReceipt ReferenceType = "purchase_receipt"
	ReferenceStockTransfer   ReferenceType = "stock_transfer"
	ReferenceAdjustment      ReferenceType = "adjustment"
	ReferenceSerialRegister  ReferenceType = "serial_register"
)

// ============ LEDGER ============

// LedgerEntry is an immutable quantity change for one (variation, location).
// Rows are only ever inserted.
type LedgerEntry struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID uuid.UUID `gorm:"type:uuid;not null;index" json:"business_id"`

	VariationID uuid.UUID `gorm:"type:uuid;not null;index:idx_ledger_variation_location" json:"variation_id"`
	LocationID  uuid.UUID `gorm:"type:uuid;not null;index:idx_ledger_variation_location" json:"location_id"`

	QuantityDelta   int             `gorm:"not null" json:"quantity_delta"`
	TransactionType TransactionType `gorm:"type:varchar(30);not null;index" json:"transaction_type"`

	ReferenceType ReferenceType `gorm:"type:varchar(30);not null;index:idx_ledger_reference" json:"reference_type"`
	ReferenceID   uuid.UUID     `gorm:"type:uuid;not null;index:idx_ledger_reference" json:"reference_id"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "stock_ledger_entries"
}

// VariationLocationDetail is the quantity-on-hand projection of the ledger.
// It is written only by LedgerRepository.ApplyMovement.
type VariationLocationDetail struct {
	ID                uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"business_id"`
	VariationID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_vld_variation_location" json:"variation_id"`
	LocationID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_vld_variation_location" json:"location_id"`
	QtyAvailable      int             `gorm:"not null;default:0" json:"qty_available"`
	SellPriceSnapshot decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"sell_price_snapshot"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (VariationLocationDetail) TableName() string {
	return "variation_location_details"
}

// LedgerMismatch is a (variation, location) whose cached quantity has drifted
// from the sum of its ledger entries.
type LedgerMismatch struct {
	VariationID  uuid.UUID `json:"variation_id"`
	LocationID   uuid.UUID `json:"location_id"`
	QtyAvailable int       `json:"qty_available"`
	LedgerSum    int       `json:"ledger_sum"`
}
