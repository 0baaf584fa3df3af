package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/auth"
	"stock-ledger/src/dbtx"
	"stock-ledger/src/models"
	"stock-ledger/src/policy"
	"stock-ledger/src/repositories"
)

// ============ REQUEST STRUCTS ============
type PurchaseLineRequest struct {
	VariationID uuid.UUID
	Quantity    int
	UnitCost    decimal.Decimal
}

type CreatePurchaseOrderRequest struct {
	SupplierID     uuid.UUID
	LocationID     uuid.UUID
	ReferenceNo    string
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	Notes          *string
	Items          []PurchaseLineRequest
}

type ReceiveLineRequest struct {
	PurchaseItemID   uuid.UUID
	QuantityReceived int
	SerialNumbers    []string
}

type ReceiveGRNRequest struct {
	ReceiptNo string
	Notes     *string
	Items     []ReceiveLineRequest
}

// GRNResult is what a receipt request returns, and what an idempotent replay returns verbatim.
type GRNResult struct {
	Receipt        models.GoodsReceiptNote `json:"receipt"`
	PurchaseStatus models.PurchaseStatus   `json:"purchase_status"`
	SerialUnitIDs  []uuid.UUID             `json:"serial_unit_ids"`
}

// ============ PURCHASE SERVICE ============
type PurchaseService struct {
	DB      *gorm.DB
	Ledger  *repositories.LedgerRepository
	Serials *repositories.SerialRepository
	Policy  *PolicyService
	Audit   *AuditRecorder
	Logger  *logrus.Logger
}

// CreatePurchaseOrder - Persist header and lines atomically and introduce the
// variations to the receiving location
func (s *PurchaseService) CreatePurchaseOrder(ctx context.Context, id *auth.Identity,
	req CreatePurchaseOrderRequest) (*models.PurchaseOrder, error) {

	ctx, span := tracer.Start(ctx, "PurchaseService.CreatePurchaseOrder")
	var err error
	defer func() { endSpan(span, err) }()

	if err = requirePermission(id, auth.PermissionPurchaseCreate); err != nil {
		return nil, err
	}
	if err = requireLocation(id, req.LocationID); err != nil {
		return nil, err
	}
	if err = validatePurchaseLines(req); err != nil {
		return nil, err
	}

	var purchase *models.PurchaseOrder
	err = dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		if err := ensureLocation(tx, id.BusinessID, req.LocationID); err != nil {
			return err
		}
		variations, err := loadVariations(tx, id.BusinessID, purchaseVariationIDs(req.Items))
		if err != nil {
			return err
		}

		subtotal := decimal.Zero
		items := make([]models.PurchaseItem, 0, len(req.Items))
		placements := make([]repositories.StockPlacement, 0, len(req.Items))
		for _, line := range req.Items {
			v := variations[line.VariationID]
			lineTotal := line.UnitCost.Mul(decimal.NewFromInt(int64(line.Quantity)))
			subtotal = subtotal.Add(lineTotal)
			items = append(items, models.PurchaseItem{
				ID:              uuid.New(),
				ProductID:       v.ProductID,
				VariationID:     v.ID,
				QuantityOrdered: line.Quantity,
				UnitCost:        line.UnitCost,
				LineTotal:       lineTotal,
				RequiresSerial:  v.Product != nil && v.Product.EnableSerial,
			})
			placements = append(placements, repositories.StockPlacement{VariationID: v.ID, SellPrice: v.SellPrice})
		}

		purchase = &models.PurchaseOrder{
			ID:             uuid.New(),
			BusinessID:     id.BusinessID,
			ReferenceNo:    req.ReferenceNo,
			SupplierID:     req.SupplierID,
			LocationID:     req.LocationID,
			Status:         models.PurchaseStatusPending,
			Subtotal:       subtotal,
			TaxAmount:      req.TaxAmount,
			DiscountAmount: req.DiscountAmount,
			ShippingCost:   req.ShippingCost,
			Total:          subtotal.Add(req.TaxAmount).Sub(req.DiscountAmount).Add(req.ShippingCost),
			CreatedBy:      id.UserID,
			Notes:          req.Notes,
			Items:          items,
		}
		if err := tx.Create(purchase).Error; err != nil {
			return err
		}

		if err := s.Ledger.EnsureLocationRows(tx, id.BusinessID, req.LocationID, placements); err != nil {
			return err
		}

		_, err = s.Audit.Record(tx, id, AuditEntry{
			Action:      AuditPurchaseOrderCreate,
			EntityType:  EntityPurchaseOrder,
			EntityIDs:   []uuid.UUID{purchase.ID},
			Description: fmt.Sprintf("Created purchase order %s with %d lines", purchase.ReferenceNo, len(items)),
			Metadata: map[string]interface{}{
				"supplier_id": purchase.SupplierID,
				"location_id": purchase.LocationID,
				"subtotal":    purchase.Subtotal,
				"total":       purchase.Total,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// ReceiveGRN - Record a goods receipt against a purchase order. Every line is
// validated before anything is written; one bad line aborts the whole receipt.
func (s *PurchaseService) ReceiveGRN(ctx context.Context, id *auth.Identity, purchaseID uuid.UUID,
	req ReceiveGRNRequest) (*GRNResult, error) {

	ctx, span := tracer.Start(ctx, "PurchaseService.ReceiveGRN")
	var err error
	defer func() { endSpan(span, err) }()

	if err = requirePermission(id, auth.PermissionPurchaseReceive); err != nil {
		return nil, err
	}

	var result *GRNResult
	err = dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		purchase, err := lockPurchase(tx, id.BusinessID, purchaseID)
		if err != nil {
			return err
		}
		if purchase.IsVoided() {
			return apperrors.Conflict(apperrors.CodeInvalidPurchaseState, "purchase order %s is voided", purchase.ID)
		}
		if err := requireLocation(id, purchase.LocationID); err != nil {
			return err
		}
		if err := s.Policy.Check(tx, id, policy.ActionPurchaseReceive, purchaseSubject(purchase)); err != nil {
			return err
		}

		var items []models.PurchaseItem
		if err := tx.Where("purchase_id = ?", purchase.ID).Order("created_at, id").Find(&items).Error; err != nil {
			return err
		}

		lines, err := s.planReceipt(tx, id.BusinessID, items, req.Items)
		if err != nil {
			return err
		}

		// ---- writes ----
		receipt := models.GoodsReceiptNote{
			ID:         uuid.New(),
			BusinessID: id.BusinessID,
			PurchaseID: purchase.ID,
			LocationID: purchase.LocationID,
			ReceiptNo:  req.ReceiptNo,
			ReceivedBy: id.UserID,
			Notes:      req.Notes,
		}
		for _, line := range lines {
			receipt.Items = append(receipt.Items, models.PurchaseReceiptItem{
				ID:               uuid.New(),
				PurchaseItemID:   line.item.ID,
				VariationID:      line.item.VariationID,
				QuantityReceived: line.quantity,
				SerialNumbers:    line.serials,
			})
		}
		if err := tx.Create(&receipt).Error; err != nil {
			return err
		}

		movements := make([]map[string]interface{}, 0, len(lines))
		unitIDs := make([]uuid.UUID, 0)
		for _, line := range lines {
			applied, err := s.Ledger.ApplyMovement(tx, repositories.Movement{
				BusinessID:    id.BusinessID,
				VariationID:   line.item.VariationID,
				LocationID:    purchase.LocationID,
				Delta:         line.quantity,
				Type:          models.TransactionPurchaseReceipt,
				ReferenceType: models.ReferencePurchaseReceipt,
				ReferenceID:   receipt.ID,
				CreatedBy:     id.UserID,
			})
			if err != nil {
				return err
			}

			for _, serial := range line.serials {
				unit := &models.SerializedUnit{
					ID:                uuid.New(),
					BusinessID:        id.BusinessID,
					SerialNumber:      serial,
					ProductID:         line.item.ProductID,
					VariationID:       line.item.VariationID,
					Status:            models.SerialStatusInStock,
					CurrentLocationID: uuidPtr(purchase.LocationID),
					PurchaseID:        uuidPtr(purchase.ID),
					PurchaseReceiptID: uuidPtr(receipt.ID),
				}
				if err := s.Serials.RegisterNew(tx, unit, models.ReferencePurchaseReceipt, uuidPtr(receipt.ID), id.UserID); err != nil {
					return err
				}
				unitIDs = append(unitIDs, unit.ID)
			}

			if err := tx.Model(&models.PurchaseItem{}).
				Where("id = ?", line.item.ID).
				Update("quantity_received", gorm.Expr("quantity_received + ?", line.quantity)).Error; err != nil {
				return err
			}
			line.item.QuantityReceived += line.quantity

			movements = append(movements, map[string]interface{}{
				"purchase_item_id":  line.item.ID,
				"variation_id":      line.item.VariationID,
				"quantity_received": line.quantity,
				"qty_before":        applied.Before,
				"qty_after":         applied.After,
				"serial_numbers":    line.serials,
			})
		}

		status := models.PurchaseStatusReceived
		for i := range items {
			if items[i].Outstanding() > 0 {
				status = models.PurchaseStatusPartiallyReceived
				break
			}
		}
		if err := tx.Model(&models.PurchaseOrder{}).
			Where("id = ?", purchase.ID).
			Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error; err != nil {
			return err
		}

		_, err = s.Audit.Record(tx, id, AuditEntry{
			Action:      AuditPurchaseReceiptCreate,
			EntityType:  EntityPurchaseOrder,
			EntityIDs:   []uuid.UUID{purchase.ID, receipt.ID},
			Description: fmt.Sprintf("Received %d lines against purchase order %s", len(lines), purchase.ReferenceNo),
			Metadata: map[string]interface{}{
				"receipt_id":      receipt.ID,
				"location_id":     purchase.LocationID,
				"status_before":   purchase.Status,
				"status_after":    status,
				"lines":           movements,
				"serial_unit_ids": unitIDs,
			},
		})
		if err != nil {
			return err
		}

		result = &GRNResult{Receipt: receipt, PurchaseStatus: status, SerialUnitIDs: unitIDs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VoidPurchaseOrder - Soft void; only allowed while nothing has been received
func (s *PurchaseService) VoidPurchaseOrder(ctx context.Context, id *auth.Identity, purchaseID uuid.UUID,
	reason string) (*models.PurchaseOrder, error) {

	if err := requirePermission(id, auth.PermissionPurchaseVoid); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.Validation(apperrors.CodeValidationFailed, "void reason is required")
	}

	var purchase *models.PurchaseOrder
	err := dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		var err error
		purchase, err = lockPurchase(tx, id.BusinessID, purchaseID)
		if err != nil {
			return err
		}
		if err := requireLocation(id, purchase.LocationID); err != nil {
			return err
		}
		if purchase.IsVoided() {
			return apperrors.Conflict(apperrors.CodeInvalidPurchaseState, "purchase order %s is already voided", purchase.ID)
		}
		if purchase.Status != models.PurchaseStatusPending {
			return apperrors.Conflict(apperrors.CodeInvalidPurchaseState,
				"purchase order %s has received goods and cannot be voided", purchase.ID)
		}

		now := time.Now()
		purchase.VoidedAt = &now
		purchase.VoidedBy = uuidPtr(id.UserID)
		purchase.VoidReason = &reason
		if err := tx.Model(&models.PurchaseOrder{}).
			Where("id = ?", purchase.ID).
			Updates(map[string]interface{}{
				"voided_at":   now,
				"voided_by":   id.UserID,
				"void_reason": reason,
				"updated_at":  now,
			}).Error; err != nil {
			return err
		}

		_, err = s.Audit.Record(tx, id, AuditEntry{
			Action:      AuditPurchaseOrderVoid,
			EntityType:  EntityPurchaseOrder,
			EntityIDs:   []uuid.UUID{purchase.ID},
			Description: "Voided purchase order " + purchase.ReferenceNo,
			Metadata:    map[string]interface{}{"reason": reason},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// GetPurchaseOrder - Header with lines
func (s *PurchaseService) GetPurchaseOrder(ctx context.Context, businessID, purchaseID uuid.UUID) (*models.PurchaseOrder, error) {
	var purchase models.PurchaseOrder
	err := dbtx.From(ctx, s.DB).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Where("id = ? AND business_id = ?", purchaseID, businessID).
		First(&purchase).Error
	if err != nil {
		return nil, notFoundOr(err, "purchase order %s not found", purchaseID)
	}
	return &purchase, nil
}

// ListReceipts - Goods receipts recorded against a purchase order, oldest first
func (s *PurchaseService) ListReceipts(ctx context.Context, businessID, purchaseID uuid.UUID) ([]models.GoodsReceiptNote, error) {
	receipts := make([]models.GoodsReceiptNote, 0)
	err := dbtx.From(ctx, s.DB).
		Preload("Items").
		Where("purchase_id = ? AND business_id = ?", purchaseID, businessID).
		Order("created_at ASC").
		Find(&receipts).Error
	return receipts, err
}

// ============ PRIVATE HELPERS ============

type receiptLine struct {
	item     *models.PurchaseItem
	quantity int
	serials  []string
}

// planReceipt - Validate every requested line against the order. No writes.
func (s *PurchaseService) planReceipt(tx *gorm.DB, businessID uuid.UUID, items []models.PurchaseItem,
	requested []ReceiveLineRequest) ([]receiptLine, error) {

	byID := make(map[uuid.UUID]*models.PurchaseItem, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	pending := make(map[uuid.UUID]int)
	seen := make(map[string]bool)
	allSerials := make([]string, 0)
	lines := make([]receiptLine, 0, len(requested))

	for _, req := range requested {
		item, ok := byID[req.PurchaseItemID]
		if !ok {
			return nil, apperrors.NotFound(apperrors.CodeItemNotFound,
				"purchase item %s not found on this order", req.PurchaseItemID).
				WithDetail("purchase_item_id", req.PurchaseItemID)
		}
		if req.QuantityReceived < 0 {
			return nil, apperrors.Validation(apperrors.CodeValidationFailed, "quantity received cannot be negative")
		}

		serials := make([]string, 0, len(req.SerialNumbers))
		for _, serial := range req.SerialNumbers {
			if err := checkSerialNumber(serial); err != nil {
				return nil, err
			}
			serials = append(serials, serial)
		}

		if req.QuantityReceived == 0 {
			if len(serials) > 0 {
				return nil, apperrors.Validation(apperrors.CodeSerialCountMismatch,
					"%d serial numbers supplied for a line receiving 0", len(serials))
			}
			continue
		}

		already := item.QuantityReceived + pending[item.ID]
		if already+req.QuantityReceived > item.QuantityOrdered {
			return nil, apperrors.OverReceipt(item.QuantityOrdered, already, req.QuantityReceived).
				WithDetail("purchase_item_id", item.ID)
		}
		pending[item.ID] += req.QuantityReceived

		if item.RequiresSerial || len(serials) > 0 {
			if len(serials) != req.QuantityReceived {
				return nil, apperrors.Validation(apperrors.CodeSerialCountMismatch,
					"%d serial numbers supplied for %d units", len(serials), req.QuantityReceived).
					WithDetail("purchase_item_id", item.ID).
					WithDetail("expected", req.QuantityReceived).
					WithDetail("supplied", len(serials))
			}
			for _, serial := range serials {
				if seen[serial] {
					return nil, apperrors.DuplicateSerial(serial)
				}
				seen[serial] = true
				allSerials = append(allSerials, serial)
			}
		}

		lines = append(lines, receiptLine{item: item, quantity: req.QuantityReceived, serials: serials})
	}

	if len(lines) == 0 {
		return nil, apperrors.Validation(apperrors.CodeValidationFailed, "nothing to receive: every line has quantity 0")
	}

	existing, err := s.Serials.FindExisting(tx, businessID, allSerials)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, apperrors.DuplicateSerial(existing[0])
	}
	return lines, nil
}

func validatePurchaseLines(req CreatePurchaseOrderRequest) error {
	if len(req.Items) == 0 {
		return apperrors.Validation(apperrors.CodeValidationFailed, "purchase order needs at least one line")
	}
	for _, amount := range []decimal.Decimal{req.TaxAmount, req.DiscountAmount, req.ShippingCost} {
		if amount.IsNegative() {
			return apperrors.Validation(apperrors.CodeValidationFailed, "tax, discount and shipping cannot be negative")
		}
	}
	for i, line := range req.Items {
		if line.Quantity <= 0 {
			return apperrors.Validation(apperrors.CodeValidationFailed, "line %d: quantity must be greater than 0", i+1)
		}
		if line.UnitCost.IsNegative() {
			return apperrors.Validation(apperrors.CodeValidationFailed, "line %d: unit cost cannot be negative", i+1)
		}
	}
	return nil
}

func purchaseVariationIDs(lines []PurchaseLineRequest) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.VariationID)
	}
	return ids
}

func lockPurchase(tx *gorm.DB, businessID, purchaseID uuid.UUID) (*models.PurchaseOrder, error) {
	var purchase models.PurchaseOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND business_id = ?", purchaseID, businessID).
		First(&purchase).Error
	if err != nil {
		return nil, notFoundOr(err, "purchase order %s not found", purchaseID)
	}
	return &purchase, nil
}

// loadVariations - Variations with their product, all belonging to the business
func loadVariations(tx *gorm.DB, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*models.Variation, error) {
	var variations []models.Variation
	if err := tx.Preload("Product").
		Joins("JOIN products p ON p.id = variations.product_id").
		Where("variations.id IN ? AND p.business_id = ?", ids, businessID).
		Find(&variations).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*models.Variation, len(variations))
	for i := range variations {
		out[variations[i].ID] = &variations[i]
	}
	for _, vid := range ids {
		if _, ok := out[vid]; !ok {
			return nil, apperrors.NotFound(apperrors.CodeNotFound, "variation %s not found", vid).
				WithDetail("variation_id", vid)
		}
	}
	return out, nil
}

func ensureLocation(tx *gorm.DB, businessID, locationID uuid.UUID) error {
	var count int64
	if err := tx.Model(&models.Location{}).
		Where("id = ? AND business_id = ?", locationID, businessID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return apperrors.NotFound(apperrors.CodeNotFound, "location %s not found", locationID)
	}
	return nil
}
