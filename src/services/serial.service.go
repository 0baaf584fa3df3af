package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/auth"
	"stock-ledger/src/dbtx"
	"stock-ledger/src/models"
	"stock-ledger/src/repositories"
)

// ============ REQUEST STRUCTS ============
type RegisterSerialRequest struct {
	SerialNumber string
	VariationID  uuid.UUID
	LocationID   uuid.UUID
}

type TransitionSerialRequest struct {
	From       models.SerialStatus
	To         models.SerialStatus
	LocationID *uuid.UUID
}

// ============ SERIAL SERVICE ============
type SerialService struct {
	DB     *gorm.DB
	Repo   *repositories.SerialRepository
	Ledger *repositories.LedgerRepository
	Audit  *AuditRecorder
}

// RegisterSerial - Register one unit found on hand at a location. The unit
// counts as opening stock, so the location quantity grows by one.
func (s *SerialService) RegisterSerial(ctx context.Context, id *auth.Identity, req RegisterSerialRequest) (*models.SerializedUnit, error) {
	ctx, span := tracer.Start(ctx, "SerialService.RegisterSerial")
	var err error
	defer func() { endSpan(span, err) }()

	if err = requirePermission(id, auth.PermissionSerialManage); err != nil {
		return nil, err
	}
	if err = requireLocation(id, req.LocationID); err != nil {
		return nil, err
	}
	serial := req.SerialNumber
	if err = checkSerialNumber(serial); err != nil {
		return nil, err
	}

	var unit *models.SerializedUnit
	err = dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		var variation models.Variation
		if err := tx.Preload("Product").
			Joins("JOIN products p ON p.id = variations.product_id").
			Where("variations.id = ? AND p.business_id = ?", req.VariationID, id.BusinessID).
			First(&variation).Error; err != nil {
			return notFoundOr(err, "variation %s not found", req.VariationID)
		}
		if variation.Product == nil || !variation.Product.EnableSerial {
			return apperrors.Validation(apperrors.CodeValidationFailed,
				"product of variation %s is not serialized", req.VariationID)
		}

		unit = &models.SerializedUnit{
			ID:                uuid.New(),
			BusinessID:        id.BusinessID,
			SerialNumber:      serial,
			ProductID:         variation.ProductID,
			VariationID:       variation.ID,
			Status:            models.SerialStatusInStock,
			CurrentLocationID: uuidPtr(req.LocationID),
		}
		if err := s.Repo.RegisterNew(tx, unit, models.ReferenceSerialRegister, uuidPtr(unit.ID), id.UserID); err != nil {
			return err
		}

		applied, err := s.Ledger.ApplyMovement(tx, repositories.Movement{
			BusinessID:    id.BusinessID,
			VariationID:   variation.ID,
			LocationID:    req.LocationID,
			Delta:         1,
			Type:          models.TransactionOpeningStock,
			ReferenceType: models.ReferenceSerialRegister,
			ReferenceID:   unit.ID,
			CreatedBy:     id.UserID,
		})
		if err != nil {
			return err
		}

		_, err = s.Audit.Record(tx, id, AuditEntry{
			Action:      AuditSerialRegister,
			EntityType:  EntitySerializedUnit,
			EntityIDs:   []uuid.UUID{unit.ID},
			Description: "Registered serial number " + serial,
			Metadata: map[string]interface{}{
				"serial_number": serial,
				"variation_id":  variation.ID,
				"location_id":   req.LocationID,
				"qty_before":    applied.Before,
				"qty_after":     applied.After,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// LookupSerial - Find a unit by its exact serial number
func (s *SerialService) LookupSerial(businessID uuid.UUID, serial string) (*models.SerializedUnit, error) {
	return s.Repo.FindBySerial(businessID, serial)
}

// TransitionSerial - Manual status change (sale, return, damage, restock). in_transit
// and moves between locations are reserved for transfers. Leaving in_stock takes the
// unit off the location's quantity and entering it puts the unit back, both as
// adjustment entries.
func (s *SerialService) TransitionSerial(ctx context.Context, id *auth.Identity, unitID uuid.UUID,
	req TransitionSerialRequest) (*models.SerializedUnit, error) {

	ctx, span := tracer.Start(ctx, "SerialService.TransitionSerial")
	var err error
	defer func() { endSpan(span, err) }()

	if err = requirePermission(id, auth.PermissionSerialManage); err != nil {
		return nil, err
	}
	if !req.From.Valid() || !req.To.Valid() {
		err = apperrors.Validation(apperrors.CodeValidationFailed, "unknown serial status")
		return nil, err
	}
	if req.From == req.To {
		err = apperrors.Validation(apperrors.CodeValidationFailed, "from and to status are the same")
		return nil, err
	}
	if req.From == models.SerialStatusInTransit || req.To == models.SerialStatusInTransit {
		err = apperrors.Validation(apperrors.CodeValidationFailed, "in_transit is only set by stock transfers")
		return nil, err
	}
	if req.LocationID != nil && req.To != models.SerialStatusInStock {
		err = apperrors.Validation(apperrors.CodeValidationFailed,
			"a location can only be given when restocking; moves between locations use stock transfers")
		return nil, err
	}

	var unit *models.SerializedUnit
	err = dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		locked, err := s.Repo.LockByIDs(tx, id.BusinessID, []uuid.UUID{unitID})
		if err != nil {
			return err
		}
		current, ok := locked[unitID]
		if !ok {
			return apperrors.NotFound(apperrors.CodeNotFound, "serialized unit %s not found", unitID)
		}
		fromLocation := current.CurrentLocationID
		if fromLocation != nil {
			if err := requireLocation(id, *fromLocation); err != nil {
				return err
			}
		}
		toLocation := fromLocation
		if req.LocationID != nil {
			if err := requireLocation(id, *req.LocationID); err != nil {
				return err
			}
			if err := ensureLocation(tx, id.BusinessID, *req.LocationID); err != nil {
				return err
			}
			toLocation = req.LocationID
		}
		if toLocation == nil && (req.From == models.SerialStatusInStock || req.To == models.SerialStatusInStock) {
			return apperrors.Validation(apperrors.CodeValidationFailed,
				"serialized unit %s has no location; give one to restock it", unitID)
		}

		unit, err = s.Repo.Transition(tx, repositories.TransitionRequest{
			UnitID:        unitID,
			From:          req.From,
			To:            req.To,
			LocationID:    req.LocationID,
			ReferenceType: models.ReferenceAdjustment,
			ActorID:       id.UserID,
		})
		if err != nil {
			return err
		}

		var ledgerLocation *uuid.UUID
		delta := 0
		switch {
		case req.From == models.SerialStatusInStock:
			ledgerLocation, delta = fromLocation, -1
		case req.To == models.SerialStatusInStock:
			ledgerLocation, delta = toLocation, 1
		}
		metadata := map[string]interface{}{
			"from_status":      req.From,
			"to_status":        req.To,
			"from_location_id": fromLocation,
			"to_location_id":   unit.CurrentLocationID,
		}
		if delta != 0 {
			applied, err := s.Ledger.ApplyMovement(tx, repositories.Movement{
				BusinessID:    id.BusinessID,
				VariationID:   unit.VariationID,
				LocationID:    *ledgerLocation,
				Delta:         delta,
				Type:          models.TransactionAdjustment,
				ReferenceType: models.ReferenceAdjustment,
				ReferenceID:   unit.ID,
				CreatedBy:     id.UserID,
			})
			if err != nil {
				return err
			}
			metadata["ledger_location_id"] = *ledgerLocation
			metadata["qty_before"] = applied.Before
			metadata["qty_after"] = applied.After
		}

		_, err = s.Audit.Record(tx, id, AuditEntry{
			Action:      AuditSerialTransition,
			EntityType:  EntitySerializedUnit,
			EntityIDs:   []uuid.UUID{unitID},
			Description: "Serial number " + unit.SerialNumber + " moved from " + string(req.From) + " to " + string(req.To),
			Metadata:    metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// History - Movement trail of a unit
func (s *SerialService) History(businessID, unitID uuid.UUID) ([]models.SerialNumberMovement, error) {
	return s.Repo.GetMovements(businessID, unitID)
}
