package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/auth"
	"stock-ledger/src/dbtx"
	"stock-ledger/src/models"
	"stock-ledger/src/policy"
)

// Entity types accepted by ValidateSOD
const (
	EntityStockTransfer  = "stock_transfer"
	EntityPurchaseOrder  = "purchase_order"
	EntitySerializedUnit = "serialized_unit"
	EntitySODRule        = "sod_rule"
)

// ============ POLICY SERVICE ============
type PolicyService struct {
	DB    *gorm.DB
	Audit *AuditRecorder
}

// Rules - Effective rule table for a business: defaults overlaid with its overrides
func (s *PolicyService) Rules(tx *gorm.DB, businessID uuid.UUID) ([]policy.Rule, error) {
	var rows []models.SODRule
	if err := tx.Where("business_id = ?", businessID).Order("action, actor_field").Find(&rows).Error; err != nil {
		return nil, err
	}
	overrides := make([]policy.Rule, 0, len(rows))
	for _, row := range rows {
		overrides = append(overrides, ruleFromRow(row))
	}
	return policy.Merge(policy.DefaultRules(), overrides), nil
}

// Check - Evaluate action for the caller and return the denial as an error
func (s *PolicyService) Check(tx *gorm.DB, id *auth.Identity, action policy.Action, subject policy.Subject) error {
	rules, err := s.Rules(tx, id.BusinessID)
	if err != nil {
		return err
	}
	return policy.Evaluate(rules, action, subject, id.UserID, id.Roles).Err()
}

// ValidateSOD - Dry-run a separation-of-duties check against a stored document. Never writes.
func (s *PolicyService) ValidateSOD(ctx context.Context, id *auth.Identity, action policy.Action,
	entityType string, entityID uuid.UUID) (policy.Decision, error) {

	if !policy.ValidAction(action) {
		return policy.Decision{}, apperrors.Validation(apperrors.CodeValidationFailed, "unknown action %q", action)
	}

	db := dbtx.From(ctx, s.DB)
	var subject policy.Subject
	switch entityType {
	case EntityStockTransfer:
		var transfer models.StockTransfer
		if err := db.Where("id = ? AND business_id = ?", entityID, id.BusinessID).First(&transfer).Error; err != nil {
			return policy.Decision{}, notFoundOr(err, "transfer %s not found", entityID)
		}
		subject = transferSubject(&transfer)
	case EntityPurchaseOrder:
		var purchase models.PurchaseOrder
		if err := db.Where("id = ? AND business_id = ?", entityID, id.BusinessID).First(&purchase).Error; err != nil {
			return policy.Decision{}, notFoundOr(err, "purchase order %s not found", entityID)
		}
		subject = purchaseSubject(&purchase)
	default:
		return policy.Decision{}, apperrors.Validation(apperrors.CodeValidationFailed, "unsupported entity type %q", entityType)
	}

	rules, err := s.Rules(db, id.BusinessID)
	if err != nil {
		return policy.Decision{}, err
	}
	return policy.Evaluate(rules, action, subject, id.UserID, id.Roles), nil
}

// ListRules - Effective rules for the caller's business
func (s *PolicyService) ListRules(ctx context.Context, businessID uuid.UUID) ([]policy.Rule, error) {
	return s.Rules(dbtx.From(ctx, s.DB), businessID)
}

// UpsertRule - Store a business override for one (action, actor field) pair
func (s *PolicyService) UpsertRule(ctx context.Context, id *auth.Identity, rule policy.Rule) (*policy.Rule, error) {
	if err := requirePermission(id, auth.PermissionSODManage); err != nil {
		return nil, err
	}
	if !policy.ValidAction(rule.Action) {
		return nil, apperrors.Validation(apperrors.CodeValidationFailed, "unknown action %q", rule.Action)
	}
	if !policy.ValidActorField(rule.ActorField) {
		return nil, apperrors.Validation(apperrors.CodeValidationFailed, "unknown actor field %q", rule.ActorField)
	}
	if !policy.ValidComparison(rule.Comparison) {
		return nil, apperrors.Validation(apperrors.CodeValidationFailed, "unknown comparison %q", rule.Comparison)
	}
	for _, def := range policy.DefaultRules() {
		if def.Action == rule.Action && def.ActorField == rule.ActorField && !def.Configurable {
			return nil, apperrors.Forbidden(def.Code, "this separation-of-duties rule cannot be changed", false, "")
		}
	}

	var stored policy.Rule
	err := dbtx.From(ctx, s.DB).Transaction(func(tx *gorm.DB) error {
		row := models.SODRule{
			ID:           uuid.New(),
			BusinessID:   id.BusinessID,
			Action:       string(rule.Action),
			ActorField:   string(rule.ActorField),
			Comparison:   string(rule.Comparison),
			Enabled:      rule.Enabled,
			Configurable: true,
			Code:         rule.Code,
			Message:      rule.Message,
			Suggestion:   rule.Suggestion,
			BypassRoles:  rule.BypassRoles,
			UpdatedBy:    id.UserID,
			UpdatedAt:    time.Now(),
		}
		if row.Code == "" || row.Message == "" {
			for _, def := range policy.DefaultRules() {
				if def.Action == rule.Action && def.ActorField == rule.ActorField {
					if row.Code == "" {
						row.Code = def.Code
					}
					if row.Message == "" {
						row.Message = def.Message
					}
				}
			}
		}
		if row.Code == "" || row.Message == "" {
			return apperrors.Validation(apperrors.CodeValidationFailed, "code and message are required for a new rule")
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "business_id"}, {Name: "action"}, {Name: "actor_field"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"comparison", "enabled", "code", "message", "suggestion", "bypass_roles", "updated_by", "updated_at",
			}),
		}).Create(&row).Error; err != nil {
			return err
		}

		stored = ruleFromRow(row)
		_, err := s.Audit.Record(tx, id, AuditEntry{
			Action:      AuditSODRuleUpdate,
			EntityType:  EntitySODRule,
			Description: "Updated separation-of-duties rule " + string(rule.Action) + "/" + string(rule.ActorField),
			Metadata:    stored,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// ============ SUBJECTS ============

func transferSubject(t *models.StockTransfer) policy.Subject {
	return policy.Subject{
		EntityType: EntityStockTransfer,
		EntityID:   t.ID,
		Actors: map[policy.ActorField]*uuid.UUID{
			policy.ActorCreatedBy:  uuidPtr(t.CreatedBy),
			policy.ActorSentBy:     t.SentBy,
			policy.ActorCheckedBy:  t.CheckedBy,
			policy.ActorReceivedBy: t.ReceivedBy,
		},
	}
}

func purchaseSubject(p *models.PurchaseOrder) policy.Subject {
	return policy.Subject{
		EntityType: EntityPurchaseOrder,
		EntityID:   p.ID,
		Actors: map[policy.ActorField]*uuid.UUID{
			policy.ActorCreatedBy: uuidPtr(p.CreatedBy),
		},
	}
}

func ruleFromRow(row models.SODRule) policy.Rule {
	return policy.Rule{
		Action:       policy.Action(row.Action),
		ActorField:   policy.ActorField(row.ActorField),
		Comparison:   policy.Comparison(row.Comparison),
		Enabled:      row.Enabled,
		Configurable: row.Configurable,
		Code:         row.Code,
		Message:      row.Message,
		Suggestion:   row.Suggestion,
		BypassRoles:  row.BypassRoles,
	}
}

func notFoundOr(err error, format string, args ...interface{}) error {
	if err == gorm.ErrRecordNotFound {
		return apperrors.NotFound(apperrors.CodeNotFound, format, args...)
	}
	return err
}
