package repositories

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/models"
)

type LedgerRepository struct {
	DB *gorm.DB
}

// Movement is one quantity change to append to the ledger.
type Movement struct {
	BusinessID    uuid.UUID
	VariationID   uuid.UUID
	LocationID    uuid.UUID
	Delta         int
	Type          models.TransactionType
	ReferenceType models.ReferenceType
	ReferenceID   uuid.UUID
	CreatedBy     uuid.UUID

	// AllowNegative is the explicit override that lets the cache go below zero
	AllowNegative bool
}

// Applied is the outcome of one movement.
type Applied struct {
	Entry  *models.LedgerEntry
	Before int
	After  int
}

// StockPlacement introduces a variation to a location with a price snapshot.
type StockPlacement struct {
	VariationID uuid.UUID
	SellPrice   decimal.Decimal
}

type LocationStock struct {
	VariationID  uuid.UUID `json:"variation_id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	QtyAvailable int       `json:"qty_available"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type VariationStock struct {
	LocationID   uuid.UUID `json:"location_id"`
	LocationCode string    `json:"location_code"`
	LocationName string    `json:"location_name"`
	QtyAvailable int       `json:"qty_available"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ============ WRITES ============

// ApplyMovement - Append a ledger entry and move the cached quantity by the same delta.
// tx must be the caller's open transaction.
func (r *LedgerRepository) ApplyMovement(tx *gorm.DB, m Movement) (*Applied, error) {
	if m.Delta == 0 {
		return nil, apperrors.Validation(apperrors.CodeValidationFailed, "quantity delta cannot be zero")
	}

	seed := models.VariationLocationDetail{
		ID:          uuid.New(),
		BusinessID:  m.BusinessID,
		VariationID: m.VariationID,
		LocationID:  m.LocationID,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "variation_id"}, {Name: "location_id"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return nil, err
	}

	var detail models.VariationLocationDetail
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("variation_id = ? AND location_id = ?", m.VariationID, m.LocationID).
		First(&detail).Error; err != nil {
		return nil, err
	}

	newQty := detail.QtyAvailable + m.Delta
	if newQty < 0 && !m.AllowNegative {
		return nil, apperrors.InsufficientStock("insufficient stock: %d available, %d requested",
			detail.QtyAvailable, -m.Delta).
			WithDetail("variation_id", m.VariationID).
			WithDetail("location_id", m.LocationID).
			WithDetail("available", detail.QtyAvailable).
			WithDetail("requested", -m.Delta)
	}

	entry := &models.LedgerEntry{
		ID:              uuid.New(),
		BusinessID:      m.BusinessID,
		VariationID:     m.VariationID,
		LocationID:      m.LocationID,
		QuantityDelta:   m.Delta,
		TransactionType: m.Type,
		ReferenceType:   m.ReferenceType,
		ReferenceID:     m.ReferenceID,
		CreatedBy:       m.CreatedBy,
		CreatedAt:       time.Now(),
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&models.VariationLocationDetail{}).
		Where("id = ?", detail.ID).
		Updates(map[string]interface{}{
			"qty_available": gorm.Expr("qty_available + ?", m.Delta),
			"updated_at":    time.Now(),
		}).Error; err != nil {
		return nil, err
	}

	return &Applied{Entry: entry, Before: detail.QtyAvailable, After: newQty}, nil
}

// EnsureLocationRows - Create zero-quantity cache rows for variations new to a location
func (r *LedgerRepository) EnsureLocationRows(tx *gorm.DB, businessID, locationID uuid.UUID, placements []StockPlacement) error {
	if len(placements) == 0 {
		return nil
	}
	rows := make([]models.VariationLocationDetail, 0, len(placements))
	for _, p := range placements {
		rows = append(rows, models.VariationLocationDetail{
			ID:                uuid.New(),
			BusinessID:        businessID,
			VariationID:       p.VariationID,
			LocationID:        locationID,
			SellPriceSnapshot: p.SellPrice,
		})
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "variation_id"}, {Name: "location_id"}},
		DoNothing: true,
	}).Create(&rows).Error
}

// ============ READS ============

// GetCurrentBalance - Cached quantity on hand
func (r *LedgerRepository) GetCurrentBalance(variationID, locationID uuid.UUID) (int, error) {
	var detail models.VariationLocationDetail
	err := r.DB.
		Where("variation_id = ? AND location_id = ?", variationID, locationID).
		First(&detail).Error

	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return detail.QtyAvailable, nil
}

// GetQuantity - Cached quantity read inside tx
func (r *LedgerRepository) GetQuantity(tx *gorm.DB, variationID, locationID uuid.UUID) (int, error) {
	var qty int
	err := tx.Model(&models.VariationLocationDetail{}).
		Select("COALESCE(MAX(qty_available), 0)").
		Where("variation_id = ? AND location_id = ?", variationID, locationID).
		Scan(&qty).Error
	return qty, err
}

// GetLedgerSum - Quantity derived from the ledger alone
func (r *LedgerRepository) GetLedgerSum(tx *gorm.DB, variationID, locationID uuid.UUID) (int, error) {
	var sum int
	err := tx.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(quantity_delta), 0)").
		Where("variation_id = ? AND location_id = ?", variationID, locationID).
		Scan(&sum).Error
	return sum, err
}

// GetBalanceAt - Quantity as of a point in time, replayed from the ledger
func (r *LedgerRepository) GetBalanceAt(variationID, locationID uuid.UUID, at time.Time) (int, error) {
	var sum int
	err := r.DB.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(quantity_delta), 0)").
		Where("variation_id = ? AND location_id = ? AND created_at <= ?", variationID, locationID, at).
		Scan(&sum).Error
	return sum, err
}

// GetTransactions - Ledger entries with pagination, newest first
func (r *LedgerRepository) GetTransactions(businessID, variationID, locationID uuid.UUID,
	fromDate, toDate time.Time, page, limit int) ([]models.LedgerEntry, int64, error) {

	var entries []models.LedgerEntry
	var total int64

	query := r.DB.Model(&models.LedgerEntry{}).
		Where("business_id = ? AND variation_id = ? AND location_id = ?", businessID, variationID, locationID)

	if !fromDate.IsZero() {
		query = query.Where("created_at >= ?", fromDate)
	}
	if !toDate.IsZero() {
		query = query.Where("created_at <= ?", toDate)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// GetEntriesByReference - Every ledger row written for one document
func (r *LedgerRepository) GetEntriesByReference(tx *gorm.DB, refType models.ReferenceType, refID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := tx.Where("reference_type = ? AND reference_id = ?", refType, refID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// CountTransferOut - transfer_out rows for one transfer line at its source
func (r *LedgerRepository) CountTransferOut(tx *gorm.DB, transferID, variationID, locationID uuid.UUID) (int64, error) {
	var count int64
	err := tx.Model(&models.LedgerEntry{}).
		Where("reference_type = ? AND reference_id = ? AND variation_id = ? AND location_id = ? AND transaction_type = ?",
			models.ReferenceStockTransfer, transferID, variationID, locationID, models.TransactionTransferOut).
		Count(&count).Error
	return count, err
}

// GetLocationSummary - Every variation stocked at a location
func (r *LedgerRepository) GetLocationSummary(businessID, locationID uuid.UUID) ([]LocationStock, error) {
	rows := make([]LocationStock, 0)
	err := r.DB.Table("variation_location_details AS d").
		Select("d.variation_id, v.sku, v.name, d.qty_available, d.updated_at").
		Joins("JOIN variations v ON v.id = d.variation_id").
		Where("d.business_id = ? AND d.location_id = ?", businessID, locationID).
		Order("v.sku").
		Scan(&rows).Error
	return rows, err
}

// GetVariationSummary - One variation across all locations of the business
func (r *LedgerRepository) GetVariationSummary(businessID, variationID uuid.UUID) ([]VariationStock, error) {
	rows := make([]VariationStock, 0)
	err := r.DB.Table("variation_location_details AS d").
		Select("d.location_id, l.code AS location_code, l.name AS location_name, d.qty_available, d.updated_at").
		Joins("JOIN locations l ON l.id = d.location_id").
		Where("d.business_id = ? AND d.variation_id = ?", businessID, variationID).
		Order("l.code").
		Scan(&rows).Error
	return rows, err
}

// Reconcile - Keys whose cached quantity differs from the ledger sum
func (r *LedgerRepository) Reconcile(businessID uuid.UUID) ([]models.LedgerMismatch, error) {
	mismatches := make([]models.LedgerMismatch, 0)
	err := r.DB.Raw(`
		SELECT
			COALESCE(d.variation_id, l.variation_id) AS variation_id,
			COALESCE(d.location_id, l.location_id) AS location_id,
			COALESCE(d.qty_available, 0) AS qty_available,
			COALESCE(l.ledger_sum, 0) AS ledger_sum
		FROM (
			SELECT variation_id, location_id, qty_available
			FROM variation_location_details
			WHERE business_id = ?
		) d
		FULL OUTER JOIN (
			SELECT variation_id, location_id, SUM(quantity_delta) AS ledger_sum
			FROM stock_ledger_entries
			WHERE business_id = ?
			GROUP BY variation_id, location_id
		) l ON d.variation_id = l.variation_id AND d.location_id = l.location_id
		WHERE COALESCE(d.qty_available, 0) <> COALESCE(l.ledger_sum, 0)
		ORDER BY 1, 2
	`, businessID, businessID).Scan(&mismatches).Error
	return mismatches, err
}
