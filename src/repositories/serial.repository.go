package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/models"
)

type SerialRepository struct {
	DB *gorm.DB
}

// TransitionRequest moves one unit between statuses, optionally relocating it.
type TransitionRequest struct {
	UnitID        uuid.UUID
	From          models.SerialStatus
	To            models.SerialStatus
	LocationID    *uuid.UUID
	ReferenceType models.ReferenceType
	ReferenceID   *uuid.UUID
	ActorID       uuid.UUID
}

// FindExisting - Which of the given serial numbers already exist for the business (exact match)
func (r *SerialRepository) FindExisting(tx *gorm.DB, businessID uuid.UUID, serials []string) ([]string, error) {
	existing := make([]string, 0)
	if len(serials) == 0 {
		return existing, nil
	}
	err := tx.Model(&models.SerializedUnit{}).
		Where("business_id = ? AND serial_number IN ?", businessID, serials).
		Pluck("serial_number", &existing).Error
	return existing, err
}

// RegisterNew - Insert a unit and its first movement. Fails DuplicateSerial on an existing number.
func (r *SerialRepository) RegisterNew(tx *gorm.DB, unit *models.SerializedUnit, refType models.ReferenceType, refID *uuid.UUID, actorID uuid.UUID) error {
	existing, err := r.FindExisting(tx, unit.BusinessID, []string{unit.SerialNumber})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return apperrors.DuplicateSerial(unit.SerialNumber)
	}

	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	if err := tx.Create(unit).Error; err != nil {
		if IsUniqueViolation(err) {
			return apperrors.DuplicateSerial(unit.SerialNumber)
		}
		return err
	}

	return tx.Create(&models.SerialNumberMovement{
		ID:               uuid.New(),
		SerializedUnitID: unit.ID,
		ToStatus:         unit.Status,
		ToLocationID:     unit.CurrentLocationID,
		ReferenceType:    refType,
		ReferenceID:      refID,
		CreatedBy:        actorID,
		CreatedAt:        time.Now(),
	}).Error
}

// LockByIDs - Load units FOR UPDATE, keyed by id
func (r *SerialRepository) LockByIDs(tx *gorm.DB, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*models.SerializedUnit, error) {
	out := make(map[uuid.UUID]*models.SerializedUnit, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var units []models.SerializedUnit
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id IN ?", businessID, ids).
		Order("id").
		Find(&units).Error; err != nil {
		return nil, err
	}
	for i := range units {
		out[units[i].ID] = &units[i]
	}
	return out, nil
}

// Transition - Optimistic status change: fails InvalidSerialState when the
// current status is not the expected one. Writes a movement row.
func (r *SerialRepository) Transition(tx *gorm.DB, req TransitionRequest) (*models.SerializedUnit, error) {
	var unit models.SerializedUnit
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", req.UnitID).
		First(&unit).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound(apperrors.CodeNotFound, "serialized unit %s not found", req.UnitID)
		}
		return nil, err
	}

	if unit.Status != req.From {
		return nil, apperrors.Conflict(apperrors.CodeInvalidSerialState,
			"serial number %s is %s, expected %s", unit.SerialNumber, unit.Status, req.From).
			WithDetail("serial_number", unit.SerialNumber).
			WithDetail("current_status", unit.Status).
			WithDetail("expected_status", req.From)
	}

	fromStatus := unit.Status
	fromLocation := unit.CurrentLocationID
	toLocation := fromLocation
	if req.LocationID != nil {
		toLocation = req.LocationID
	}

	res := tx.Model(&models.SerializedUnit{}).
		Where("id = ? AND status = ?", unit.ID, req.From).
		Updates(map[string]interface{}{
			"status":              req.To,
			"current_location_id": toLocation,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, apperrors.Conflict(apperrors.CodeInvalidSerialState,
			"serial number %s changed state concurrently", unit.SerialNumber)
	}

	if err := tx.Create(&models.SerialNumberMovement{
		ID:               uuid.New(),
		SerializedUnitID: unit.ID,
		FromStatus:       &fromStatus,
		ToStatus:         req.To,
		FromLocationID:   fromLocation,
		ToLocationID:     toLocation,
		ReferenceType:    req.ReferenceType,
		ReferenceID:      req.ReferenceID,
		CreatedBy:        req.ActorID,
		CreatedAt:        time.Now(),
	}).Error; err != nil {
		return nil, err
	}

	unit.Status = req.To
	unit.CurrentLocationID = toLocation
	return &unit, nil
}

// FindBySerial - Lookup by exact serial number within a business
func (r *SerialRepository) FindBySerial(businessID uuid.UUID, serial string) (*models.SerializedUnit, error) {
	var unit models.SerializedUnit
	err := r.DB.Where("business_id = ? AND serial_number = ?", businessID, serial).First(&unit).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.NotFound(apperrors.CodeNotFound, "serial number %s not found", serial)
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// GetMovements - Movement trail of a unit, oldest first
func (r *SerialRepository) GetMovements(businessID, unitID uuid.UUID) ([]models.SerialNumberMovement, error) {
	movements := make([]models.SerialNumberMovement, 0)
	err := r.DB.Model(&models.SerialNumberMovement{}).
		Joins("JOIN serialized_units u ON u.id = serial_number_movements.serialized_unit_id").
		Where("u.business_id = ? AND serial_number_movements.serialized_unit_id = ?", businessID, unitID).
		Order("serial_number_movements.created_at ASC").
		Find(&movements).Error
	return movements, err
}
