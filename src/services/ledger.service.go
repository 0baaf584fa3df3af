package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"stock-ledger/src/models"
	"stock-ledger/src/repositories"
)

// ============ LEDGER SERVICE ============
type LedgerService struct {
	DB     *gorm.DB
	Repo   *repositories.LedgerRepository
	Logger *logrus.Logger
}

// GetCurrentBalance - Get current balance
func (s *LedgerService) GetCurrentBalance(variationID, locationID uuid.UUID) (int, error) {
	return s.Repo.GetCurrentBalance(variationID, locationID)
}

// GetBalanceAt - Get historical balance
func (s *LedgerService) GetBalanceAt(variationID, locationID uuid.UUID, at time.Time) (int, error) {
	return s.Repo.GetBalanceAt(variationID, locationID, at)
}

// GetTransactions - Get ledger history
func (s *LedgerService) GetTransactions(businessID, variationID, locationID uuid.UUID,
	fromDate, toDate time.Time, page, limit int) ([]models.LedgerEntry, int64, error) {
	return s.Repo.GetTransactions(businessID, variationID, locationID, fromDate, toDate, page, limit)
}

// GetLocationSummary - Get stock of every variation at a location
func (s *LedgerService) GetLocationSummary(businessID, locationID uuid.UUID) ([]repositories.LocationStock, error) {
	return s.Repo.GetLocationSummary(businessID, locationID)
}

// GetVariationSummary - Get variation stock across all locations
func (s *LedgerService) GetVariationSummary(businessID, variationID uuid.UUID) ([]repositories.VariationStock, error) {
	return s.Repo.GetVariationSummary(businessID, variationID)
}

// Reconcile - Compare every cached quantity with its ledger sum. Mismatches are
// reported, never repaired.
func (s *LedgerService) Reconcile(ctx context.Context, businessID uuid.UUID) ([]models.LedgerMismatch, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.Reconcile")
	repo := &repositories.LedgerRepository{DB: s.Repo.DB.WithContext(ctx)}
	mismatches, err := repo.Reconcile(businessID)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}

	if s.Logger != nil {
		for _, m := range mismatches {
			s.Logger.WithFields(logrus.Fields{
				"module":        "ledger",
				"business_id":   businessID,
				"variation_id":  m.VariationID,
				"location_id":   m.LocationID,
				"qty_available": m.QtyAvailable,
				"ledger_sum":    m.LedgerSum,
			}).Error("quantity cache differs from ledger")
		}
		s.Logger.WithFields(logrus.Fields{
			"module":      "ledger",
			"business_id": businessID,
			"mismatches":  len(mismatches),
		}).Info("ledger reconciliation finished")
	}
	return mismatches, nil
}
