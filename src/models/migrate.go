package models

import "gorm.io/gorm"

// Migrate - Create/upgrade every table and the ledger guard indexes
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Location{},
		&Product{},
		&Variation{},
		&LedgerEntry{},
		&VariationLocationDetail{},
		&PurchaseOrder{},
		&PurchaseItem{},
		&GoodsReceiptNote{},
		&PurchaseReceiptItem{},
		&SerializedUnit{},
		&SerialNumberMovement{},
		&StockTransfer{},
		&StockTransferItem{},
		&IdempotencyRecord{},
		&AuditLog{},
		&OutboxEvent{},
		&SODRule{},
	); err != nil {
		return err
	}

	// at most one transfer_out per transfer, variation and source location
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_transfer_out_once
		ON stock_ledger_entries (reference_id, variation_id, location_id)
		WHERE transaction_type = 'transfer_out'`).Error
}
