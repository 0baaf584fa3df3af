package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock-ledger/src/config"
	"stock-ledger/src/models"
)

// OutboxDispatcher relays committed outbox rows to a Publisher.
type OutboxDispatcher struct {
	DB        *gorm.DB
	Publisher Publisher
	Logger    *logrus.Logger

	BatchSize      int
	PollInterval   time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, publisher Publisher, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Publisher:      publisher,
		Logger:         logger,
		BatchSize:      50,
		PollInterval:   time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			config.LogError(d.Logger, "events", "DispatchOnce", "outbox dispatch", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce - Publish one batch of due events. Rows stay locked (SKIP LOCKED)
// while publishing so concurrent dispatchers never send the same event.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	published := 0
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		var batch []models.OutboxEvent
		query := tx
		if d.MaxAttempts > 0 {
			query = query.Where("attempts < ?", d.MaxAttempts)
		}
		if err := query.
			Where("status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
				[]models.OutboxStatus{models.OutboxStatusPending, models.OutboxStatusFailed}, now).
			Order("created_at ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&batch).Error; err != nil {
			return err
		}

		for _, event := range batch {
			if pubErr := d.Publisher.Publish(ctx, event); pubErr != nil {
				if err := d.markFailed(tx, event, pubErr); err != nil {
					return err
				}
				continue
			}
			if err := tx.Model(&models.OutboxEvent{}).
				Where("id = ?", event.ID).
				Updates(map[string]interface{}{
					"status":          models.OutboxStatusPublished,
					"attempts":        gorm.Expr("attempts + 1"),
					"published_at":    time.Now(),
					"next_attempt_at": nil,
					"last_error":      nil,
				}).Error; err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}

func (d *OutboxDispatcher) markFailed(tx *gorm.DB, event models.OutboxEvent, pubErr error) error {
	attempt := event.Attempts + 1
	msg := pubErr.Error()
	updates := map[string]interface{}{
		"status":     models.OutboxStatusFailed,
		"attempts":   attempt,
		"last_error": msg,
	}
	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		// parked until an operator resets attempts
		updates["next_attempt_at"] = nil
		d.logFailure(event.ID, attempt, pubErr, true)
	} else {
		updates["next_attempt_at"] = time.Now().Add(Backoff(d.InitialBackoff, attempt))
		d.logFailure(event.ID, attempt, pubErr, false)
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", event.ID).Updates(updates).Error
}

// Backoff - Doubles per attempt, capped at ten minutes
func Backoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return backoff
}

func (d *OutboxDispatcher) logFailure(eventID uuid.UUID, attempt int, err error, parked bool) {
	if d.Logger == nil {
		return
	}
	entry := d.Logger.WithFields(logrus.Fields{
		"module":   "events",
		"event_id": eventID,
		"attempt":  attempt,
		"error":    err.Error(),
	})
	if parked {
		entry.Error("outbox event parked after max attempts")
		return
	}
	entry.Warn("outbox publish failed, will retry")
}
