package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/auth"
	"stock-ledger/src/config"
	"stock-ledger/src/dbtx"
	"stock-ledger/src/models"
	"stock-ledger/src/policy"
	"stock-ledger/src/repositories"
)

// ============ REQUEST STRUCTS ============
type TransferLineRequest struct {
	VariationID   uuid.UUID
	Quantity      int
	SerialUnitIDs []uuid.UUID
}

type CreateTransferRequest struct {
	FromLocationID uuid.UUID
	ToLocationID   uuid.UUID
	ReferenceNo    string
	Notes          *string
	Items          []TransferLineRequest
}

type ReceiveTransferLine struct {
	TransferItemID   uuid.UUID
	QuantityReceived int
	SerialUnitIDs    []uuid.UUID
}

// ReceiveTransferRequest - an empty Items list receives every line in full
type ReceiveTransferRequest struct {
	Items []ReceiveTransferLine
}

// ============ TRANSFER SERVICE ============
type TransferService struct {
	DB      *gorm.DB
	Ledger  *repositories.LedgerRepository
	Serials *repositories.SerialRepository
	Policy  *PolicyService
	Audit   *AuditRecorder
	Logger  *logrus.Logger
	Locker  *redislock.Client

	// LegacyDeduction lets transfers that were never deducted at send be deducted on receive.
	LegacyDeduction bool
	ReceiveTimeout  time.Duration
	AllowNegative   bool
}

// CreateTransfer - Draft a movement between two locations. No stock moves yet.
func (s *TransferService) CreateTransfer(ctx context.Context, id *auth.Identity, req CreateTransferRequest) (*models.StockTransfer, error) {
	ctx, span := tracer.Start(ctx, "TransferService.CreateTransfer")
	var err error
	defer func() { endSpan(span, err) }()

	if err = requirePermission(id, auth.PermissionTransferCreate); err != nil {
		return nil, err
	}
	if req.FromLocationID == req.ToLocationID {
		err = apperrors.Validation(apperrors.CodeValidationFailed, "source and destination locations must differ")
		return nil, err
	}
	if err = requireLocation(id, req.FromLocationID); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		err = apperrors.Validation(apperrors.CodeValidationFailed, "transfer needs at least one line")
		return nil, err
	}

	var transfer *models.StockTransfer
	err = dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		if err := ensureLocation(tx, id.BusinessID, req.FromLocationID); err != nil {
			return err
		}
		if err := ensureLocation(tx, id.BusinessID, req.ToLocationID); err != nil {
			return err
		}

		ids := make([]uuid.UUID, 0, len(req.Items))
		seenVariation := make(map[uuid.UUID]bool, len(req.Items))
		for i, line := range req.Items {
			if seenVariation[line.VariationID] {
				return apperrors.Validation(apperrors.CodeValidationFailed, "line %d: variation %s appears twice", i+1, line.VariationID)
			}
			seenVariation[line.VariationID] = true
			if line.Quantity <= 0 {
				return apperrors.Validation(apperrors.CodeValidationFailed, "line %d: quantity must be greater than 0", i+1)
			}
			ids = append(ids, line.VariationID)
		}
		variations, err := loadVariations(tx, id.BusinessID, ids)
		if err != nil {
			return err
		}

		items := make([]models.StockTransferItem, 0, len(req.Items))
		placements := make([]repositories.StockPlacement, 0, len(req.Items))
		for _, line := range req.Items {
			v := variations[line.VariationID]
			serialized := v.Product != nil && v.Product.EnableSerial
			if err := s.checkDispatchSerials(tx, id.BusinessID, req.FromLocationID, v, serialized, line); err != nil {
				return err
			}
			items = append(items, models.StockTransferItem{
				ID:                uuid.New(),
				ProductID:         v.ProductID,
				VariationID:       v.ID,
				Quantity:          line.Quantity,
				SerialNumbersSent: line.SerialUnitIDs,
			})
			placements = append(placements, repositories.StockPlacement{VariationID: v.ID, SellPrice: v.SellPrice})
		}

		transfer = &models.StockTransfer{
			ID:             uuid.New(),
			BusinessID:     id.BusinessID,
			ReferenceNo:    req.ReferenceNo,
			FromLocationID: req.FromLocationID,
			ToLocationID:   req.ToLocationID,
			Status:         models.TransferStatusPending,
			CreatedBy:      id.UserID,
			Notes:          req.Notes,
			Items:          items,
		}
		if err := tx.Create(transfer).Error; err != nil {
			return err
		}
		if err := s.Ledger.EnsureLocationRows(tx, id.BusinessID, req.ToLocationID, placements); err != nil {
			return err
		}

		_, err = s.Audit.Record(tx, id, AuditEntry{
			Action:      AuditTransferCreate,
			EntityType:  EntityStockTransfer,
			EntityIDs:   []uuid.UUID{transfer.ID},
			Description: fmt.Sprintf("Created transfer %s with %d lines", transfer.ReferenceNo, len(items)),
			Metadata: map[string]interface{}{
				"from_location_id": transfer.FromLocationID,
				"to_location_id":   transfer.ToLocationID,
				"lines":            transferLineSummary(items),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// SendTransfer - Deduct every line at the source and put serialized units in transit.
// This is the only place a transfer_out entry is normally written.
func (s *TransferService) SendTransfer(ctx context.Context, id *auth.Identity, transferID uuid.UUID) (*models.StockTransfer, error) {
	ctx, span := tracer.Start(ctx, "TransferService.SendTransfer")
	var err error
	defer func() { endSpan(span, err) }()

	if err = requirePermission(id, auth.PermissionTransferSend); err != nil {
		return nil, err
	}

	var transfer *models.StockTransfer
	err = dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		var err error
		transfer, err = lockTransfer(tx, id.BusinessID, transferID)
		if err != nil {
			return err
		}
		if err := requireLocation(id, transfer.FromLocationID); err != nil {
			return err
		}
		if transfer.Status != models.TransferStatusPending {
			return invalidTransferState(transfer, "send")
		}
		if err := s.Policy.Check(tx, id, policy.ActionTransferSend, transferSubject(transfer)); err != nil {
			return err
		}

		lines := make([]map[string]interface{}, 0, len(transfer.Items))
		for i := range transfer.Items {
			item := &transfer.Items[i]
			applied, err := s.Ledger.ApplyMovement(tx, repositories.Movement{
				BusinessID:    transfer.BusinessID,
				VariationID:   item.VariationID,
				LocationID:    transfer.FromLocationID,
				Delta:         -item.Quantity,
				Type:          models.TransactionTransferOut,
				ReferenceType: models.ReferenceStockTransfer,
				ReferenceID:   transfer.ID,
				CreatedBy:     id.UserID,
				AllowNegative: s.AllowNegative,
			})
			if err != nil {
				return err
			}

			units, err := s.Serials.LockByIDs(tx, transfer.BusinessID, item.SerialNumbersSent)
			if err != nil {
				return err
			}
			for _, unitID := range item.SerialNumbersSent {
				unit, ok := units[unitID]
				if !ok {
					return apperrors.NotFound(apperrors.CodeNotFound, "serialized unit %s not found", unitID)
				}
				if unit.CurrentLocationID == nil || *unit.CurrentLocationID != transfer.FromLocationID {
					return apperrors.Conflict(apperrors.CodeInvalidSerialState,
						"serial number %s is not at the source location", unit.SerialNumber)
				}
				if _, err := s.Serials.Transition(tx, repositories.TransitionRequest{
					UnitID:        unitID,
					From:          models.SerialStatusInStock,
					To:            models.SerialStatusInTransit,
					ReferenceType: models.ReferenceStockTransfer,
					ReferenceID:   uuidPtr(transfer.ID),
					ActorID:       id.UserID,
				}); err != nil {
					return err
				}
			}

			lines = append(lines, map[string]interface{}{
				"variation_id":      item.VariationID,
				"quantity":          item.Quantity,
				"source_qty_before": applied.Before,
				"source_qty_after":  applied.After,
				"serial_unit_ids":   item.SerialNumbersSent,
			})
		}

		now := time.Now()
		if err := tx.Model(&models.StockTransfer{}).
			Where("id = ?", transfer.ID).
			Updates(map[string]interface{}{
				"status":         models.TransferStatusInTransit,
				"stock_deducted": true,
				"sent_by":        id.UserID,
				"sent_at":        now,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}
		transfer.Status = models.TransferStatusInTransit
		transfer.StockDeducted = true
		transfer.SentBy = uuidPtr(id.UserID)
		transfer.SentAt = &now

		_, err = s.Audit.Record(tx, id, AuditEntry{
			Action:      AuditTransferSend,
			EntityType:  EntityStockTransfer,
			EntityIDs:   []uuid.UUID{transfer.ID},
			Description: "Sent transfer " + transfer.ReferenceNo,
			Metadata: map[string]interface{}{
				"from_location_id": transfer.FromLocationID,
				"to_location_id":   transfer.ToLocationID,
				"lines":            lines,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// MarkArrived - Destination acknowledges the shipment is physically there
func (s *TransferService) MarkArrived(ctx context.Context, id *auth.Identity, transferID uuid.UUID) (*models.StockTransfer, error) {
	return s.advance(ctx, id, transferID, models.TransferStatusInTransit, models.TransferStatusArrived, "",
		AuditTransferArrive, "arrive")
}

// StartVerification - Destination starts counting the shipment; records checked_by
func (s *TransferService) StartVerification(ctx context.Context, id *auth.Identity, transferID uuid.UUID) (*models.StockTransfer, error) {
	return s.advance(ctx, id, transferID, models.TransferStatusArrived, models.TransferStatusVerifying,
		policy.ActionTransferVerify, AuditTransferVerify, "verify")
}

func (s *TransferService) advance(ctx context.Context, id *auth.Identity, transferID uuid.UUID,
	from, to models.TransferStatus, action policy.Action, auditAction, step string) (*models.StockTransfer, error) {

	if err := requirePermission(id, auth.PermissionTransferReceive); err != nil {
		return nil, err
	}

	var transfer *models.StockTransfer
	err := dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		var err error
		transfer, err = lockTransfer(tx, id.BusinessID, transferID)
		if err != nil {
			return err
		}
		if err := requireLocation(id, transfer.ToLocationID); err != nil {
			return err
		}
		if transfer.Status != from {
			return invalidTransferState(transfer, step)
		}
		if action != "" {
			if err := s.Policy.Check(tx, id, action, transferSubject(transfer)); err != nil {
				return err
			}
		}

		now := time.Now()
		updates := map[string]interface{}{"status": to, "updated_at": now}
		switch to {
		case models.TransferStatusArrived:
			updates["arrived_at"] = now
			transfer.ArrivedAt = &now
		case models.TransferStatusVerifying:
			updates["checked_by"] = id.UserID
			updates["checked_at"] = now
			transfer.CheckedBy = uuidPtr(id.UserID)
			transfer.CheckedAt = &now
		}
		if err := tx.Model(&models.StockTransfer{}).Where("id = ?", transfer.ID).Updates(updates).Error; err != nil {
			return err
		}
		transfer.Status = to

		_, err = s.Audit.Record(tx, id, AuditEntry{
			Action:      auditAction,
			EntityType:  EntityStockTransfer,
			EntityIDs:   []uuid.UUID{transfer.ID},
			Description: fmt.Sprintf("Transfer %s moved from %s to %s", transfer.ReferenceNo, from, to),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// ReceiveTransfer - Credit the destination and close the transfer. The source is
// never deducted twice: a transfer deducted at send must already carry its
// transfer_out entries, otherwise the receive aborts as an integrity fault.
func (s *TransferService) ReceiveTransfer(ctx context.Context, id *auth.Identity, transferID uuid.UUID,
	req ReceiveTransferRequest) (*models.StockTransfer, error) {

	ctx, span := tracer.Start(ctx, "TransferService.ReceiveTransfer")
	var err error
	defer func() { endSpan(span, err) }()

	if err = requirePermission(id, auth.PermissionTransferReceive); err != nil {
		return nil, err
	}

	lock, err := s.obtainReceiveLock(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		defer func() {
			if relErr := lock.Release(context.Background()); relErr != nil && !errors.Is(relErr, redislock.ErrLockNotHeld) {
				s.warn("release transfer lock", transferID, relErr)
			}
		}()
	}

	if s.ReceiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ReceiveTimeout)
		defer cancel()
	}

	var transfer *models.StockTransfer
	err = dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		var err error
		transfer, err = lockTransfer(tx, id.BusinessID, transferID)
		if err != nil {
			return err
		}
		if err := requireLocation(id, transfer.ToLocationID); err != nil {
			return err
		}
		if err := s.Policy.Check(tx, id, policy.ActionTransferReceive, transferSubject(transfer)); err != nil {
			return err
		}
		if !transfer.Status.Receivable() {
			return invalidTransferState(transfer, "receive")
		}

		plan, err := s.planTransferReceipt(tx, transfer, req)
		if err != nil {
			return err
		}

		state := transfer.DeductionState()
		sourceQty := make(map[uuid.UUID][2]int, len(plan))
		switch state {
		case models.DeductedAtSend:
			if err := s.verifyDeducted(tx, transfer); err != nil {
				return err
			}
		case models.NotYetDeducted:
			if !s.LegacyDeduction {
				err := apperrors.Integrity("transfer %s reached %s without a send-side deduction", transfer.ID, transfer.Status).
					WithDetail("transfer_id", transfer.ID)
				s.integrityFault(transfer, nil, err)
				return err
			}
			if sourceQty, err = s.deductAtReceive(tx, id, transfer, plan); err != nil {
				return err
			}
		}

		lines := make([]map[string]interface{}, 0, len(plan))
		for _, line := range plan {
			line.item.ReceivedQuantity = line.quantity
			line.item.SerialNumbersReceived = line.serials

			entry := map[string]interface{}{
				"transfer_item_id":  line.item.ID,
				"variation_id":      line.item.VariationID,
				"quantity_sent":     line.item.Quantity,
				"quantity_received": line.quantity,
				"serial_unit_ids":   line.serials,
			}
			if qty, ok := sourceQty[line.item.VariationID]; ok {
				entry["source_qty_before"] = qty[0]
				entry["source_qty_after"] = qty[1]
			} else {
				current, err := s.Ledger.GetQuantity(tx, line.item.VariationID, transfer.FromLocationID)
				if err != nil {
					return err
				}
				entry["source_qty_after"] = current
			}

			if line.quantity > 0 {
				applied, err := s.Ledger.ApplyMovement(tx, repositories.Movement{
					BusinessID:    transfer.BusinessID,
					VariationID:   line.item.VariationID,
					LocationID:    transfer.ToLocationID,
					Delta:         line.quantity,
					Type:          models.TransactionTransferIn,
					ReferenceType: models.ReferenceStockTransfer,
					ReferenceID:   transfer.ID,
					CreatedBy:     id.UserID,
				})
				if err != nil {
					return err
				}
				entry["destination_qty_before"] = applied.Before
				entry["destination_qty_after"] = applied.After
			}

			for _, unitID := range line.serials {
				if _, err := s.Serials.Transition(tx, repositories.TransitionRequest{
					UnitID:        unitID,
					From:          models.SerialStatusInTransit,
					To:            models.SerialStatusInStock,
					LocationID:    uuidPtr(transfer.ToLocationID),
					ReferenceType: models.ReferenceStockTransfer,
					ReferenceID:   uuidPtr(transfer.ID),
					ActorID:       id.UserID,
				}); err != nil {
					return err
				}
			}

			if err := tx.Model(line.item).
				Select("received_quantity", "serial_numbers_received", "updated_at").
				Updates(models.StockTransferItem{
					ReceivedQuantity:      line.quantity,
					SerialNumbersReceived: line.serials,
					UpdatedAt:             time.Now(),
				}).Error; err != nil {
				return err
			}

			if line.quantity != line.item.Quantity {
				entry["discrepancy"] = line.item.Quantity - line.quantity
			}
			lines = append(lines, entry)
		}

		statusBefore := transfer.Status
		now := time.Now()
		if err := tx.Model(&models.StockTransfer{}).
			Where("id = ?", transfer.ID).
			Updates(map[string]interface{}{
				"status":         models.TransferStatusReceived,
				"received_by":    id.UserID,
				"received_at":    now,
				"stock_deducted": true,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}
		transfer.Status = models.TransferStatusReceived
		transfer.ReceivedBy = uuidPtr(id.UserID)
		transfer.ReceivedAt = &now
		transfer.StockDeducted = true

		_, err = s.Audit.Record(tx, id, AuditEntry{
			Action:      AuditTransferReceive,
			EntityType:  EntityStockTransfer,
			EntityIDs:   []uuid.UUID{transfer.ID},
			Description: "Received transfer " + transfer.ReferenceNo,
			Metadata: map[string]interface{}{
				"from_location_id": transfer.FromLocationID,
				"to_location_id":   transfer.ToLocationID,
				"status_before":    statusBefore,
				"deduction_state":  state.String(),
				"lines":            lines,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// GetTransfer - Header with lines
func (s *TransferService) GetTransfer(ctx context.Context, businessID, transferID uuid.UUID) (*models.StockTransfer, error) {
	var transfer models.StockTransfer
	err := dbtx.From(ctx, s.DB).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Where("id = ? AND business_id = ?", transferID, businessID).
		First(&transfer).Error
	if err != nil {
		return nil, notFoundOr(err, "transfer %s not found", transferID)
	}
	return &transfer, nil
}

// ============ PRIVATE HELPERS ============

type transferReceipt struct {
	item     *models.StockTransferItem
	quantity int
	serials  []uuid.UUID
}

// planTransferReceipt - Validate the requested lines against what was sent. No writes.
func (s *TransferService) planTransferReceipt(tx *gorm.DB, transfer *models.StockTransfer,
	req ReceiveTransferRequest) ([]*transferReceipt, error) {

	plan := make([]*transferReceipt, 0, len(transfer.Items))
	byID := make(map[uuid.UUID]*transferReceipt, len(transfer.Items))
	for i := range transfer.Items {
		item := &transfer.Items[i]
		line := &transferReceipt{item: item}
		if len(req.Items) == 0 {
			line.quantity = item.Quantity
			line.serials = item.SerialNumbersSent
		}
		plan = append(plan, line)
		byID[item.ID] = line
	}

	seenLine := make(map[uuid.UUID]bool, len(req.Items))
	for _, r := range req.Items {
		line, ok := byID[r.TransferItemID]
		if !ok {
			return nil, apperrors.NotFound(apperrors.CodeItemNotFound,
				"transfer item %s not found on this transfer", r.TransferItemID).
				WithDetail("transfer_item_id", r.TransferItemID)
		}
		if seenLine[r.TransferItemID] {
			return nil, apperrors.Validation(apperrors.CodeValidationFailed, "transfer item %s listed twice", r.TransferItemID)
		}
		seenLine[r.TransferItemID] = true
		if r.QuantityReceived < 0 {
			return nil, apperrors.Validation(apperrors.CodeValidationFailed, "quantity received cannot be negative")
		}
		if r.QuantityReceived > line.item.Quantity {
			return nil, apperrors.OverReceipt(line.item.Quantity, line.item.ReceivedQuantity, r.QuantityReceived).
				WithDetail("transfer_item_id", line.item.ID)
		}
		line.quantity = r.QuantityReceived
		line.serials = r.SerialUnitIDs
	}

	unitIDs := make([]uuid.UUID, 0)
	for _, line := range plan {
		if len(line.item.SerialNumbersSent) == 0 {
			if len(line.serials) > 0 {
				return nil, apperrors.Conflict(apperrors.CodeSerialNotInTransfer,
					"no serial numbers were sent for transfer item %s", line.item.ID)
			}
			continue
		}
		// a serialized unit has no state for "sent but never arrived", so the line lands whole
		if line.quantity != len(line.item.SerialNumbersSent) {
			return nil, apperrors.Validation(apperrors.CodeSerialCountMismatch,
				"serialized transfer item %s must be received in full: %d sent, %d received",
				line.item.ID, len(line.item.SerialNumbersSent), line.quantity).
				WithDetail("transfer_item_id", line.item.ID).
				WithDetail("expected", len(line.item.SerialNumbersSent)).
				WithDetail("supplied", line.quantity)
		}
		if len(line.serials) != line.quantity {
			return nil, apperrors.Validation(apperrors.CodeSerialCountMismatch,
				"%d serial numbers supplied for %d units", len(line.serials), line.quantity).
				WithDetail("transfer_item_id", line.item.ID).
				WithDetail("expected", line.quantity).
				WithDetail("supplied", len(line.serials))
		}
		seen := make(map[uuid.UUID]bool, len(line.serials))
		for _, unitID := range line.serials {
			if seen[unitID] {
				return nil, apperrors.Validation(apperrors.CodeSerialCountMismatch, "serialized unit %s listed twice", unitID)
			}
			seen[unitID] = true
			if !line.item.SentSerial(unitID) {
				return nil, apperrors.Conflict(apperrors.CodeSerialNotInTransfer,
					"serialized unit %s was not sent on this transfer", unitID).
					WithDetail("serial_unit_id", unitID)
			}
			unitIDs = append(unitIDs, unitID)
		}
	}

	units, err := s.Serials.LockByIDs(tx, transfer.BusinessID, unitIDs)
	if err != nil {
		return nil, err
	}
	for _, unitID := range unitIDs {
		unit, ok := units[unitID]
		if !ok || unit.Status != models.SerialStatusInTransit {
			e := apperrors.Conflict(apperrors.CodeSerialNotInTransit, "serialized unit %s is not in transit", unitID).
				WithDetail("serial_unit_id", unitID)
			if ok {
				e.WithDetail("serial_number", unit.SerialNumber).WithDetail("status", unit.Status)
			}
			return nil, e
		}
	}
	return plan, nil
}

// verifyDeducted - Every line of a transfer deducted at send has its transfer_out entry
func (s *TransferService) verifyDeducted(tx *gorm.DB, transfer *models.StockTransfer) error {
	for i := range transfer.Items {
		item := &transfer.Items[i]
		count, err := s.Ledger.CountTransferOut(tx, transfer.ID, item.VariationID, transfer.FromLocationID)
		if err != nil {
			return err
		}
		if count == 0 {
			err := apperrors.Integrity("transfer %s is marked deducted but has no transfer_out entry for variation %s",
				transfer.ID, item.VariationID).
				WithDetail("transfer_id", transfer.ID).
				WithDetail("variation_id", item.VariationID).
				WithDetail("location_id", transfer.FromLocationID)
			s.integrityFault(transfer, item, err)
			return err
		}
	}
	return nil
}

// deductAtReceive - Legacy path for transfers sent before send-side deduction.
// Remove once no such transfers remain.
func (s *TransferService) deductAtReceive(tx *gorm.DB, id *auth.Identity, transfer *models.StockTransfer,
	plan []*transferReceipt) (map[uuid.UUID][2]int, error) {

	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"module":          "transfer",
			"transfer_id":     transfer.ID,
			"business_id":     transfer.BusinessID,
			"status":          transfer.Status,
			"deduction_state": transfer.DeductionState().String(),
		}).Warn("transfer was not deducted at send; deducting source stock on receive")
	}

	quantities := make(map[uuid.UUID][2]int, len(plan))
	for _, line := range plan {
		if line.quantity == 0 {
			continue
		}
		applied, err := s.Ledger.ApplyMovement(tx, repositories.Movement{
			BusinessID:    transfer.BusinessID,
			VariationID:   line.item.VariationID,
			LocationID:    transfer.FromLocationID,
			Delta:         -line.quantity,
			Type:          models.TransactionTransferOut,
			ReferenceType: models.ReferenceStockTransfer,
			ReferenceID:   transfer.ID,
			CreatedBy:     id.UserID,
			AllowNegative: s.AllowNegative,
		})
		if err != nil {
			return nil, err
		}
		quantities[line.item.VariationID] = [2]int{applied.Before, applied.After}
	}
	return quantities, nil
}

// checkDispatchSerials - Serialized lines name exactly quantity units, in stock at the source
func (s *TransferService) checkDispatchSerials(tx *gorm.DB, businessID, fromLocationID uuid.UUID,
	v *models.Variation, serialized bool, line TransferLineRequest) error {

	if !serialized {
		if len(line.SerialUnitIDs) > 0 {
			return apperrors.Validation(apperrors.CodeValidationFailed, "variation %s is not serialized", v.ID)
		}
		return nil
	}
	if len(line.SerialUnitIDs) != line.Quantity {
		return apperrors.Validation(apperrors.CodeSerialCountMismatch,
			"%d serial numbers supplied for %d units", len(line.SerialUnitIDs), line.Quantity).
			WithDetail("variation_id", v.ID).
			WithDetail("expected", line.Quantity).
			WithDetail("supplied", len(line.SerialUnitIDs))
	}

	var units []models.SerializedUnit
	if err := tx.Where("business_id = ? AND id IN ?", businessID, line.SerialUnitIDs).Find(&units).Error; err != nil {
		return err
	}
	found := make(map[uuid.UUID]*models.SerializedUnit, len(units))
	for i := range units {
		found[units[i].ID] = &units[i]
	}
	seen := make(map[uuid.UUID]bool, len(line.SerialUnitIDs))
	for _, unitID := range line.SerialUnitIDs {
		if seen[unitID] {
			return apperrors.Validation(apperrors.CodeSerialCountMismatch, "serialized unit %s listed twice", unitID)
		}
		seen[unitID] = true
		unit, ok := found[unitID]
		if !ok {
			return apperrors.NotFound(apperrors.CodeNotFound, "serialized unit %s not found", unitID)
		}
		if unit.VariationID != v.ID {
			return apperrors.Validation(apperrors.CodeValidationFailed,
				"serial number %s belongs to another variation", unit.SerialNumber)
		}
		if unit.Status != models.SerialStatusInStock || unit.CurrentLocationID == nil || *unit.CurrentLocationID != fromLocationID {
			return apperrors.Conflict(apperrors.CodeInvalidSerialState,
				"serial number %s is not in stock at the source location", unit.SerialNumber).
				WithDetail("serial_number", unit.SerialNumber).
				WithDetail("status", unit.Status)
		}
	}
	return nil
}

// TransferReceiveLockKey - Redis key held while a transfer is being received
func TransferReceiveLockKey(transferID uuid.UUID) string {
	return config.ServiceName + ":transfer-receive:" + transferID.String()
}

// obtainReceiveLock - Best effort; without Redis the row lock alone serializes receives
func (s *TransferService) obtainReceiveLock(ctx context.Context, transferID uuid.UUID) (*redislock.Lock, error) {
	if s.Locker == nil {
		return nil, nil
	}
	ttl := s.ReceiveTimeout
	if ttl <= 0 {
		ttl = time.Minute
	}
	lock, err := s.Locker.Obtain(ctx, TransferReceiveLockKey(transferID), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, apperrors.Conflict(apperrors.CodeTransferReceiveBusy,
			"transfer %s is already being received", transferID).
			WithDetail("transfer_id", transferID)
	}
	if err != nil {
		s.warn("obtain transfer lock", transferID, err)
		return nil, nil
	}
	return lock, nil
}

func (s *TransferService) integrityFault(transfer *models.StockTransfer, item *models.StockTransferItem, err error) {
	if s.Logger == nil {
		return
	}
	data := map[string]interface{}{
		"transfer_id":      transfer.ID,
		"business_id":      transfer.BusinessID,
		"status":           transfer.Status,
		"stock_deducted":   transfer.StockDeducted,
		"from_location_id": transfer.FromLocationID,
		"to_location_id":   transfer.ToLocationID,
	}
	if item != nil {
		data["transfer_item_id"] = item.ID
		data["variation_id"] = item.VariationID
		data["quantity"] = item.Quantity
	}
	config.LogError(s.Logger, "transfer", "ReceiveTransfer", "ledger integrity violation", data, err)
}

func (s *TransferService) warn(msg string, transferID uuid.UUID, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"module":      "transfer",
		"transfer_id": transferID,
		"error":       err.Error(),
	}).Warn(msg)
}

func lockTransfer(tx *gorm.DB, businessID, transferID uuid.UUID) (*models.StockTransfer, error) {
	var transfer models.StockTransfer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND business_id = ?", transferID, businessID).
		First(&transfer).Error
	if err != nil {
		return nil, notFoundOr(err, "transfer %s not found", transferID)
	}
	if err := tx.Where("transfer_id = ?", transfer.ID).Order("created_at, id").Find(&transfer.Items).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}

func invalidTransferState(t *models.StockTransfer, step string) error {
	return apperrors.Validation(apperrors.CodeInvalidTransferState,
		"transfer %s is %s and cannot %s", t.ID, t.Status, step).
		WithDetail("status", t.Status)
}

func transferLineSummary(items []models.StockTransferItem) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]interface{}{
			"variation_id":    item.VariationID,
			"quantity":        item.Quantity,
			"serial_unit_ids": item.SerialNumbersSent,
		})
	}
	return out
}
