package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"stock-ledger/src/config"
	"stock-ledger/src/events"
	"stock-ledger/src/handlers"
	"stock-ledger/src/idempotency"
	"stock-ledger/src/models"
	"stock-ledger/src/repositories"
	"stock-ledger/src/routes"
	"stock-ledger/src/services"
)

func main() {
	cfg := config.Load()
	config.SetLogLevel(cfg.LogLevel)
	logger := config.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.InitDB(cfg)
	if err != nil {
		logger.WithError(err).Fatal("database unavailable")
	}
	if err := models.Migrate(db); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}

	if cfg.SeedSampleData {
		if err := seedSampleData(db); err != nil {
			config.LogError(logger, "main", "seedSampleData", "seed", nil, err)
		}
	}

	rdb, locker, err := config.ConnectRedis(ctx, cfg.RedisAddress)
	if err != nil {
		// idempotency and transfer locking fall back to postgres only
		logger.WithError(err).Warn("redis unavailable")
	}

	guard := &idempotency.Guard{DB: db, Redis: rdb, TTL: cfg.IdempotencyTTL, Logger: logger}

	// Initialize repositories
	ledgerRepo := &repositories.LedgerRepository{DB: db}
	serialRepo := &repositories.SerialRepository{DB: db}

	// Initialize services
	audit := &services.AuditRecorder{DB: db}
	policySvc := &services.PolicyService{DB: db, Audit: audit}
	ledgerSvc := &services.LedgerService{DB: db, Repo: ledgerRepo, Logger: logger}
	serialSvc := &services.SerialService{DB: db, Repo: serialRepo, Ledger: ledgerRepo, Audit: audit}
	purchaseSvc := &services.PurchaseService{
		DB:      db,
		Ledger:  ledgerRepo,
		Serials: serialRepo,
		Policy:  policySvc,
		Audit:   audit,
		Logger:  logger,
	}
	transferSvc := &services.TransferService{
		DB:              db,
		Ledger:          ledgerRepo,
		Serials:         serialRepo,
		Policy:          policySvc,
		Audit:           audit,
		Logger:          logger,
		Locker:          locker,
		LegacyDeduction: cfg.LegacyTransferDeduction,
		ReceiveTimeout:  cfg.TransferReceiveTimeout,
		AllowNegative:   cfg.AllowNegativeStock,
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	api := router.Group("/api/v1")
	routes.RegisterRoutes(api, routes.Handlers{
		Purchase: &handlers.PurchaseHandler{Service: purchaseSvc, Guard: guard},
		Transfer: &handlers.TransferHandler{Service: transferSvc, Guard: guard},
		Serial:   &handlers.SerialHandler{Service: serialSvc, Guard: guard},
		SOD:      &handlers.SODHandler{Service: policySvc, Guard: guard},
		Stock:    &handlers.StockHandler{Service: ledgerSvc},
		Audit:    &handlers.AuditHandler{Recorder: audit},
	})

	if cfg.KafkaBroker != "" {
		publisher := events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		defer publisher.Close()
		go events.NewOutboxDispatcher(db, publisher, logger).Run(ctx)
	} else {
		logger.Info("KAFKA_BROKER not set; audit events stay in the outbox")
	}
	go purgeIdempotency(ctx, guard, logger)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("port", cfg.HTTPPort).Info("stock-ledger listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("failed to start server")
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetHeader("X-Request-ID"),
		}).Info("request")
	}
}

func purgeIdempotency(ctx context.Context, guard *idempotency.Guard, logger *logrus.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := guard.Purge(ctx)
			if err != nil {
				config.LogError(logger, "main", "purgeIdempotency", "purge", nil, err)
				continue
			}
			if n > 0 {
				logger.WithField("deleted", n).Info("purged expired idempotency records")
			}
		}
	}
}

// seedSampleData - Demo business with two locations and a bulk and a serialized product
func seedSampleData(db *gorm.DB) error {
	businessID := mustParseUUID("b159a190-e72f-4295-853c-ddbbe19fa6f6")

	var count int64
	db.Model(&models.Location{}).Where("business_id = ?", businessID).Count(&count)
	if count > 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		locations := []models.Location{
			{ID: mustParseUUID("2003eacc-5f39-4f3d-94d7-6e01c1bebd6a"), BusinessID: businessID, Name: "Main Warehouse", Code: "WH-MAIN"},
			{ID: mustParseUUID("9cf2bfa5-29b7-4be4-a9cc-969e567f8fe3"), BusinessID: businessID, Name: "Retail Store", Code: "RT-001"},
		}
		if err := tx.Create(&locations).Error; err != nil {
			return err
		}

		products := []models.Product{
			{
				ID: uuid.New(), BusinessID: businessID, Name: "Wireless Mouse",
				Variations: []models.Variation{{ID: uuid.New(), SKU: "MOUSE-BLK", Name: "Black", SellPrice: decimal.NewFromInt(25)}},
			},
			{
				ID: uuid.New(), BusinessID: businessID, Name: "Smartphone X", EnableSerial: true,
				Variations: []models.Variation{{ID: uuid.New(), SKU: "PHONE-X-128", Name: "128GB", SellPrice: decimal.NewFromInt(699)}},
			},
		}
		if err := tx.Create(&products).Error; err != nil {
			return err
		}
		config.GetLogger().WithFields(logrus.Fields{
			"business_id": businessID,
			"locations":   len(locations),
			"products":    len(products),
		}).Info("seeded sample data")
		return nil
	})
}

func mustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}
