package services_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/auth"
	"stock-ledger/src/idempotency"
	"stock-ledger/src/models"
	"stock-ledger/src/repositories"
	"stock-ledger/src/services"
)

var (
	testDB       *gorm.DB
	testLogger   *logrus.Logger
	testLedger   *repositories.LedgerRepository
	testSerials  *repositories.SerialRepository
	testAudit    *services.AuditRecorder
	testPolicy   *services.PolicyService
	testPurchase *services.PurchaseService
	testTransfer *services.TransferService
	testSerial   *services.SerialService
	testLedgerSv *services.LedgerService
	testGuard    *idempotency.Guard
)

// fixture is one isolated business: two locations, a bulk and a serialized product.
type fixture struct {
	BusinessID uuid.UUID
	Warehouse  uuid.UUID
	Store      uuid.UUID
	Bulk       models.Variation
	Phone      models.Variation

	Buyer    *auth.Identity
	Sender   *auth.Identity
	Receiver *auth.Identity
}

func setupTestDB() *gorm.DB {
	dsn := os.Getenv("TEST_DATABASE_DSN")

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		panic("failed to connect database")
	}

	if err := models.Migrate(db); err != nil {
		panic("failed to migrate: " + err.Error())
	}
	return db
}

func cleanupTestDB(db *gorm.DB) {
	db.Exec(`TRUNCATE stock_ledger_entries, variation_location_details, purchase_orders, purchase_items,
		purchase_receipts, purchase_receipt_items, serialized_units, serial_number_movements,
		stock_transfers, stock_transfer_items, idempotency_records, audit_logs, outbox_events,
		sod_rules, variations, products, locations CASCADE`)
}

func TestMain(m *testing.M) {
	if os.Getenv("TEST_DATABASE_DSN") == "" {
		fmt.Println("TEST_DATABASE_DSN not set; skipping postgres integration tests")
		os.Exit(0)
	}

	fmt.Println("Setting up test database...")
	testDB = setupTestDB()
	cleanupTestDB(testDB)

	testLogger = logrus.New()
	testLogger.SetLevel(logrus.WarnLevel)

	testLedger = &repositories.LedgerRepository{DB: testDB}
	testSerials = &repositories.SerialRepository{DB: testDB}
	testAudit = &services.AuditRecorder{DB: testDB}
	testPolicy = &services.PolicyService{DB: testDB, Audit: testAudit}
	testLedgerSv = &services.LedgerService{DB: testDB, Repo: testLedger, Logger: testLogger}
	testSerial = &services.SerialService{DB: testDB, Repo: testSerials, Ledger: testLedger, Audit: testAudit}
	testPurchase = &services.PurchaseService{
		DB:      testDB,
		Ledger:  testLedger,
		Serials: testSerials,
		Policy:  testPolicy,
		Audit:   testAudit,
		Logger:  testLogger,
	}
	testTransfer = newTransferService(true)
	testGuard = &idempotency.Guard{DB: testDB, TTL: time.Hour, Logger: testLogger}

	code := m.Run()

	cleanupTestDB(testDB)
	os.Exit(code)
}

func newTransferService(legacy bool) *services.TransferService {
	return &services.TransferService{
		DB:              testDB,
		Ledger:          testLedger,
		Serials:         testSerials,
		Policy:          testPolicy,
		Audit:           testAudit,
		Logger:          testLogger,
		LegacyDeduction: legacy,
		ReceiveTimeout:  30 * time.Second,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		BusinessID: uuid.New(),
		Warehouse:  uuid.New(),
		Store:      uuid.New(),
	}

	locations := []models.Location{
		{ID: f.Warehouse, BusinessID: f.BusinessID, Name: "Warehouse", Code: "WH"},
		{ID: f.Store, BusinessID: f.BusinessID, Name: "Store", Code: "ST"},
	}
	assertNoError(t, testDB.Create(&locations).Error)

	f.Bulk = models.Variation{ID: uuid.New(), SKU: "CABLE-1M", Name: "1m", SellPrice: decimal.NewFromInt(5)}
	f.Phone = models.Variation{ID: uuid.New(), SKU: "PHONE-128", Name: "128GB", SellPrice: decimal.NewFromInt(700)}
	products := []models.Product{
		{ID: uuid.New(), BusinessID: f.BusinessID, Name: "USB Cable", Variations: []models.Variation{f.Bulk}},
		{ID: uuid.New(), BusinessID: f.BusinessID, Name: "Phone", EnableSerial: true, Variations: []models.Variation{f.Phone}},
	}
	assertNoError(t, testDB.Create(&products).Error)
	f.Bulk.ProductID = products[0].ID
	f.Phone.ProductID = products[1].ID

	f.Buyer = f.identity(auth.PermissionAll)
	f.Sender = f.identity(auth.PermissionAll)
	f.Receiver = f.identity(auth.PermissionAll)
	return f
}

func (f *fixture) identity(permissions ...string) *auth.Identity {
	return &auth.Identity{
		UserID:       uuid.New(),
		BusinessID:   f.BusinessID,
		Permissions:  permissions,
		AllLocations: true,
		IPAddress:    "127.0.0.1",
		UserAgent:    "services-test",
	}
}

func (f *fixture) order(t *testing.T, v models.Variation, qty int, unitCost string) *models.PurchaseOrder {
	t.Helper()
	po, err := testPurchase.CreatePurchaseOrder(bg(), f.Buyer, services.CreatePurchaseOrderRequest{
		SupplierID: uuid.New(),
		LocationID: f.Warehouse,
		Items: []services.PurchaseLineRequest{
			{VariationID: v.ID, Quantity: qty, UnitCost: decimal.RequireFromString(unitCost)},
		},
	})
	assertNoError(t, err)
	return po
}

// stock - Put qty bulk units into the warehouse through a purchase receipt
func (f *fixture) stock(t *testing.T, qty int) {
	t.Helper()
	po := f.order(t, f.Bulk, qty, "1.00")
	_, err := testPurchase.ReceiveGRN(bg(), f.Receiver, po.ID, services.ReceiveGRNRequest{
		Items: []services.ReceiveLineRequest{{PurchaseItemID: po.Items[0].ID, QuantityReceived: qty}},
	})
	assertNoError(t, err)
}

// stockSerials - Receive serialized phones into the warehouse and return their unit ids
func (f *fixture) stockSerials(t *testing.T, serials ...string) []uuid.UUID {
	t.Helper()
	po := f.order(t, f.Phone, len(serials), "500.00")
	res, err := testPurchase.ReceiveGRN(bg(), f.Receiver, po.ID, services.ReceiveGRNRequest{
		Items: []services.ReceiveLineRequest{{
			PurchaseItemID:   po.Items[0].ID,
			QuantityReceived: len(serials),
			SerialNumbers:    serials,
		}},
	})
	assertNoError(t, err)
	return res.SerialUnitIDs
}

func bg() context.Context {
	return context.Background()
}

func quantity(t *testing.T, variationID, locationID uuid.UUID) int {
	t.Helper()
	qty, err := testLedger.GetCurrentBalance(variationID, locationID)
	assertNoError(t, err)
	return qty
}

func countEntries(t *testing.T, refID uuid.UUID, txType models.TransactionType) int64 {
	t.Helper()
	var count int64
	assertNoError(t, testDB.Model(&models.LedgerEntry{}).
		Where("reference_id = ? AND transaction_type = ?", refID, txType).
		Count(&count).Error)
	return count
}

func assertConsistent(t *testing.T, businessID uuid.UUID) {
	t.Helper()
	mismatches, err := testLedger.Reconcile(businessID)
	assertNoError(t, err)
	if len(mismatches) != 0 {
		t.Fatalf("quantity cache drifted from ledger: %+v", mismatches)
	}
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error but got none", code)
	}
	if !apperrors.Is(err, code) {
		t.Fatalf("expected error code %s, got: %v", code, err)
	}
}

func assertEqual(t *testing.T, expected, actual interface{}, msg ...string) {
	t.Helper()
	if expected != actual {
		message := ""
		if len(msg) > 0 {
			message = msg[0] + ": "
		}
		t.Errorf("%sexpected %v, got %v", message, expected, actual)
	}
}
