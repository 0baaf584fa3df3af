package requests

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============ PURCHASE ORDER ============
type PurchaseLine struct {
	VariationID uuid.UUID       `json:"variation_id" binding:"required"`
	Quantity    int             `json:"quantity" binding:"required,min=1"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type CreatePurchaseOrderRequest struct {
	SupplierID     uuid.UUID       `json:"supplier_id" binding:"required"`
	LocationID     uuid.UUID       `json:"location_id" binding:"required"`
	ReferenceNo    string          `json:"reference_no" binding:"max=50"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Notes          *string         `json:"notes,omitempty"`
	Items          []PurchaseLine  `json:"items" binding:"required,min=1,dive"`
}

// ============ GOODS RECEIPT ============
type ReceiptLine struct {
	PurchaseItemID   uuid.UUID `json:"purchase_item_id" binding:"required"`
	QuantityReceived int       `json:"quantity_received" binding:"min=0"`
	SerialNumbers    []string  `json:"serial_numbers,omitempty" binding:"omitempty,dive,max=150"`
}

type ReceiveGRNRequest struct {
	ReceiptNo string        `json:"receipt_no" binding:"max=50"`
	Notes     *string       `json:"notes,omitempty"`
	Items     []ReceiptLine `json:"items" binding:"required,min=1,dive"`
}

type VoidPurchaseOrderRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}
