// Package idempotency deduplicates retried mutating requests. The record is
// claimed and completed inside the same transaction as the business writes.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/dbtx"
	"stock-ledger/src/models"
)

const cachePrefix = "idem:"

type Outcome int

const (
	Executed Outcome = iota
	Replayed
)

// Key identifies one logical request. An empty Token disables deduplication.
type Key struct {
	BusinessID uuid.UUID
	Method     string
	Path       string
	Token      string
}

// Hash - Stable request key stored in idempotency_records.request_key
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.BusinessID.String() + "\n" + k.Method + " " + k.Path + "\n" + k.Token))
	return hex.EncodeToString(sum[:])
}

type Guard struct {
	DB     *gorm.DB
	Redis  *redis.Client
	TTL    time.Duration
	Logger *logrus.Logger
}

// Execute - Run op at most once per key. On replay the stored result is
// decoded into T and op is not called.
func Execute[T any](ctx context.Context, g *Guard, key Key, op func(ctx context.Context) (T, error)) (T, Outcome, error) {
	var result T
	if key.Token == "" {
		res, err := op(ctx)
		return res, Executed, err
	}

	hash := key.Hash()
	if g.cached(ctx, hash, &result) {
		return result, Replayed, nil
	}

	outcome := Executed
	var snapshot []byte
	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if g.TTL > 0 {
			if err := tx.Where("request_key = ? AND created_at < ?", hash, now.Add(-g.TTL)).
				Delete(&models.IdempotencyRecord{}).Error; err != nil {
				return err
			}
		}

		record := models.IdempotencyRecord{
			ID:           uuid.New(),
			RequestKey:   hash,
			BusinessID:   key.BusinessID,
			EndpointPath: key.Path,
			Status:       models.IdempotencyStatusStarted,
			CreatedAt:    now,
		}
		// blocks behind a concurrent claim of the same key until it commits or rolls back
		claim := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if claim.Error != nil {
			return claim.Error
		}

		if claim.RowsAffected == 0 {
			var existing models.IdempotencyRecord
			if err := tx.Where("request_key = ?", hash).First(&existing).Error; err != nil {
				return err
			}
			if existing.Status != models.IdempotencyStatusSucceeded {
				return apperrors.Conflict(apperrors.CodeIdempotencyInProgress,
					"a request with this idempotency key is still being processed")
			}
			if err := json.Unmarshal(existing.ResultSnapshot, &result); err != nil {
				return fmt.Errorf("decode idempotency snapshot: %w", err)
			}
			snapshot = existing.ResultSnapshot
			outcome = Replayed
			return nil
		}

		res, err := op(dbtx.Inject(ctx, tx))
		if err != nil {
			return err
		}
		result = res

		snapshot, err = json.Marshal(res)
		if err != nil {
			return fmt.Errorf("encode idempotency snapshot: %w", err)
		}
		completedAt := time.Now()
		return tx.Model(&models.IdempotencyRecord{}).
			Where("id = ?", record.ID).
			Updates(map[string]interface{}{
				"status":          models.IdempotencyStatusSucceeded,
				"result_snapshot": json.RawMessage(snapshot),
				"completed_at":    completedAt,
			}).Error
	})
	if err != nil {
		var zero T
		return zero, Executed, err
	}

	g.store(ctx, hash, snapshot)
	return result, outcome, nil
}

// Purge - Delete records older than the TTL
func (g *Guard) Purge(ctx context.Context) (int64, error) {
	if g.TTL <= 0 {
		return 0, nil
	}
	res := g.DB.WithContext(ctx).
		Where("created_at < ?", time.Now().Add(-g.TTL)).
		Delete(&models.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}

func (g *Guard) cached(ctx context.Context, hash string, dest interface{}) bool {
	if g.Redis == nil {
		return false
	}
	raw, err := g.Redis.Get(ctx, cachePrefix+hash).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.warn("idempotency cache read failed", hash, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		g.warn("idempotency cache entry undecodable", hash, err)
		return false
	}
	return true
}

func (g *Guard) store(ctx context.Context, hash string, snapshot []byte) {
	if g.Redis == nil || len(snapshot) == 0 {
		return
	}
	if err := g.Redis.Set(ctx, cachePrefix+hash, snapshot, g.TTL).Err(); err != nil {
		g.warn("idempotency cache write failed", hash, err)
	}
}

func (g *Guard) warn(msg, hash string, err error) {
	if g.Logger == nil {
		return
	}
	g.Logger.WithFields(logrus.Fields{
		"module":      "idempotency",
		"request_key": hash,
		"error":       err.Error(),
	}).Warn(msg)
}
