package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stock-ledger/src/auth"
	"stock-ledger/src/models"
)

// Audit actions
const (
	AuditPurchaseOrderCreate   = "purchase_order_create"
	AuditPurchaseOrderVoid     = "purchase_order_void"
	AuditPurchaseReceiptCreate = "purchase_receipt_create"
	AuditTransferCreate        = "stock_transfer_create"
	AuditTransferSend          = "stock_transfer_send"
	AuditTransferArrive        = "stock_transfer_arrive"
	AuditTransferVerify        = "stock_transfer_verify"
	AuditTransferReceive       = "stock_transfer_receive"
	AuditSerialRegister        = "serial_register"
	AuditSerialTransition      = "serial_transition"
	AuditSODRuleUpdate         = "sod_rule_update"
)

type AuditEntry struct {
	Action      string
	EntityType  string
	EntityIDs   []uuid.UUID
	Description string
	Metadata    interface{}
}

// ============ AUDIT RECORDER ============
type AuditRecorder struct {
	DB *gorm.DB
}

// Record - Append an audit log and its outbox event inside the caller's transaction
func (r *AuditRecorder) Record(tx *gorm.DB, id *auth.Identity, entry AuditEntry) (*models.AuditLog, error) {
	var metadata json.RawMessage
	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = raw
	}

	log := &models.AuditLog{
		ID:          uuid.New(),
		BusinessID:  id.BusinessID,
		UserID:      id.UserID,
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		EntityIDs:   entry.EntityIDs,
		Description: entry.Description,
		Metadata:    metadata,
		IPAddress:   id.IPAddress,
		UserAgent:   id.UserAgent,
		CreatedAt:   time.Now(),
	}
	if err := tx.Create(log).Error; err != nil {
		return nil, err
	}

	payload, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}
	aggregateID := log.ID
	if len(entry.EntityIDs) > 0 {
		aggregateID = entry.EntityIDs[0]
	}
	now := time.Now()
	if err := tx.Create(&models.OutboxEvent{
		ID:            uuid.New(),
		BusinessID:    id.BusinessID,
		EventType:     entry.Action,
		AggregateID:   aggregateID,
		Payload:       payload,
		Status:        models.OutboxStatusPending,
		NextAttemptAt: &now,
		CreatedAt:     now,
	}).Error; err != nil {
		return nil, err
	}

	return log, nil
}

// List - Audit logs for a business, optionally narrowed to one entity
func (r *AuditRecorder) List(businessID uuid.UUID, entityType string, entityID *uuid.UUID,
	page, limit int) ([]models.AuditLog, int64, error) {

	logs := make([]models.AuditLog, 0)
	var total int64

	query := r.DB.Model(&models.AuditLog{}).Where("business_id = ?", businessID)
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if entityID != nil {
		query = query.Where("entity_ids @> ?", fmt.Sprintf(`["%s"]`, entityID.String()))
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
