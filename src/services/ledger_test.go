package services_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/auth"
	"stock-ledger/src/models"
	"stock-ledger/src/policy"
	"stock-ledger/src/repositories"
	"stock-ledger/src/services"
)

func TestLedgerReads(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 8)
	checkpoint := time.Now()
	time.Sleep(10 * time.Millisecond)
	f.stock(t, 2)

	t.Run("SC1: Cache agrees with the ledger", func(t *testing.T) {
		assertEqual(t, 10, quantity(t, f.Bulk.ID, f.Warehouse))
		mismatches, err := testLedgerSv.Reconcile(bg(), f.BusinessID)
		assertNoError(t, err)
		assert.Empty(t, mismatches)
	})

	t.Run("SC2: Historical balance replays the ledger", func(t *testing.T) {
		qty, err := testLedgerSv.GetBalanceAt(f.Bulk.ID, f.Warehouse, checkpoint)
		assertNoError(t, err)
		assertEqual(t, 8, qty)
	})

	t.Run("SC3: Transactions listed newest first", func(t *testing.T) {
		entries, total, err := testLedgerSv.GetTransactions(f.BusinessID, f.Bulk.ID, f.Warehouse,
			time.Time{}, time.Time{}, 1, 50)
		assertNoError(t, err)
		assertEqual(t, int64(2), total)
		require.Len(t, entries, 2)
		assertEqual(t, 2, entries[0].QuantityDelta)
		assertEqual(t, 8, entries[1].QuantityDelta)
	})

	t.Run("SC4: Summaries by location and by variation", func(t *testing.T) {
		byLocation, err := testLedgerSv.GetLocationSummary(f.BusinessID, f.Warehouse)
		assertNoError(t, err)
		var bulk *repositories.LocationStock
		for i := range byLocation {
			if byLocation[i].VariationID == f.Bulk.ID {
				bulk = &byLocation[i]
			}
		}
		require.NotNil(t, bulk)
		assertEqual(t, 10, bulk.QtyAvailable)
		assertEqual(t, "CABLE-1M", bulk.SKU)

		byVariation, err := testLedgerSv.GetVariationSummary(f.BusinessID, f.Bulk.ID)
		assertNoError(t, err)
		require.NotEmpty(t, byVariation)
		assertEqual(t, "WH", byVariation[0].LocationCode)
	})

	t.Run("SC5: Drift is reported, not repaired", func(t *testing.T) {
		assertNoError(t, testDB.Model(&models.VariationLocationDetail{}).
			Where("variation_id = ? AND location_id = ?", f.Bulk.ID, f.Warehouse).
			Update("qty_available", 11).Error)

		mismatches, err := testLedgerSv.Reconcile(bg(), f.BusinessID)
		assertNoError(t, err)
		require.Len(t, mismatches, 1)
		assertEqual(t, 11, mismatches[0].QtyAvailable)
		assertEqual(t, 10, mismatches[0].LedgerSum)
		assertEqual(t, 11, quantity(t, f.Bulk.ID, f.Warehouse))
	})
}

func TestSerialRegistry(t *testing.T) {
	f := newFixture(t)

	t.Run("SC1: Manual registration adds one unit of stock", func(t *testing.T) {
		_, err := testSerial.RegisterSerial(bg(), f.Buyer, services.RegisterSerialRequest{
			SerialNumber: " MAN-1 ",
			VariationID:  f.Phone.ID,
			LocationID:   f.Store,
		})
		assertCode(t, err, apperrors.CodeValidationFailed)
		assertEqual(t, 0, quantity(t, f.Phone.ID, f.Store))

		unit, err := testSerial.RegisterSerial(bg(), f.Buyer, services.RegisterSerialRequest{
			SerialNumber: "MAN-1",
			VariationID:  f.Phone.ID,
			LocationID:   f.Store,
		})
		assertNoError(t, err)
		assertEqual(t, "MAN-1", unit.SerialNumber)
		assertEqual(t, 1, quantity(t, f.Phone.ID, f.Store))
		assertEqual(t, int64(1), countEntries(t, unit.ID, models.TransactionOpeningStock))

		found, err := testSerial.LookupSerial(f.BusinessID, "MAN-1")
		assertNoError(t, err)
		assertEqual(t, unit.ID, found.ID)
		_, err = testSerial.LookupSerial(f.BusinessID, " MAN-1")
		assertCode(t, err, apperrors.CodeNotFound)

		_, err = testSerial.RegisterSerial(bg(), f.Buyer, services.RegisterSerialRequest{
			SerialNumber: "MAN-1",
			VariationID:  f.Phone.ID,
			LocationID:   f.Store,
		})
		assertCode(t, err, apperrors.CodeDuplicateSerial)
		assertEqual(t, 1, quantity(t, f.Phone.ID, f.Store))
	})

	t.Run("SC2: Non-serialized products rejected", func(t *testing.T) {
		_, err := testSerial.RegisterSerial(bg(), f.Buyer, services.RegisterSerialRequest{
			SerialNumber: "CABLE-SN",
			VariationID:  f.Bulk.ID,
			LocationID:   f.Store,
		})
		assertCode(t, err, apperrors.CodeValidationFailed)

		_, err = testSerial.LookupSerial(f.BusinessID, "CABLE-SN")
		assertCode(t, err, apperrors.CodeNotFound)
	})

	t.Run("SC3: Transitions follow the expected status", func(t *testing.T) {
		units := f.stockSerials(t, "TR-1")

		_, err := testSerial.TransitionSerial(bg(), f.Buyer, units[0], services.TransitionSerialRequest{
			From: models.SerialStatusReturned,
			To:   models.SerialStatusSold,
		})
		assertCode(t, err, apperrors.CodeInvalidSerialState)

		before := quantity(t, f.Phone.ID, f.Warehouse)
		sold, err := testSerial.TransitionSerial(bg(), f.Buyer, units[0], services.TransitionSerialRequest{
			From: models.SerialStatusInStock,
			To:   models.SerialStatusSold,
		})
		assertNoError(t, err)
		assertEqual(t, models.SerialStatusSold, sold.Status)
		assertEqual(t, before-1, quantity(t, f.Phone.ID, f.Warehouse))
		assertEqual(t, quantity(t, f.Phone.ID, f.Warehouse), inStockUnits(t, f.Phone.ID, f.Warehouse))
		assertEqual(t, int64(1), countEntries(t, units[0], models.TransactionAdjustment))
		assertConsistent(t, f.BusinessID)

		_, err = testSerial.TransitionSerial(bg(), f.Buyer, units[0], services.TransitionSerialRequest{
			From: models.SerialStatusSold,
			To:   models.SerialStatusInTransit,
		})
		assertCode(t, err, apperrors.CodeValidationFailed)

		history, err := testSerial.History(f.BusinessID, units[0])
		assertNoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("SC4: Location changes belong to transfers", func(t *testing.T) {
		units := f.stockSerials(t, "LOC-1")
		warehouse := quantity(t, f.Phone.ID, f.Warehouse)
		store := quantity(t, f.Phone.ID, f.Store)

		_, err := testSerial.TransitionSerial(bg(), f.Buyer, units[0], services.TransitionSerialRequest{
			From:       models.SerialStatusInStock,
			To:         models.SerialStatusDamaged,
			LocationID: &f.Store,
		})
		assertCode(t, err, apperrors.CodeValidationFailed)

		unit, err := testSerial.LookupSerial(f.BusinessID, "LOC-1")
		assertNoError(t, err)
		assertEqual(t, models.SerialStatusInStock, unit.Status)
		assertEqual(t, f.Warehouse, *unit.CurrentLocationID)
		assertEqual(t, warehouse, quantity(t, f.Phone.ID, f.Warehouse))
		assertEqual(t, store, quantity(t, f.Phone.ID, f.Store))
		assertEqual(t, int64(0), countEntries(t, units[0], models.TransactionAdjustment))
	})

	t.Run("SC5: Restocking a sold unit at another location adds it there", func(t *testing.T) {
		units := f.stockSerials(t, "RS-1")
		_, err := testSerial.TransitionSerial(bg(), f.Buyer, units[0], services.TransitionSerialRequest{
			From: models.SerialStatusInStock,
			To:   models.SerialStatusSold,
		})
		assertNoError(t, err)
		_, err = testSerial.TransitionSerial(bg(), f.Buyer, units[0], services.TransitionSerialRequest{
			From: models.SerialStatusSold,
			To:   models.SerialStatusReturned,
		})
		assertNoError(t, err)

		warehouse := quantity(t, f.Phone.ID, f.Warehouse)
		store := quantity(t, f.Phone.ID, f.Store)
		restocked, err := testSerial.TransitionSerial(bg(), f.Buyer, units[0], services.TransitionSerialRequest{
			From:       models.SerialStatusReturned,
			To:         models.SerialStatusInStock,
			LocationID: &f.Store,
		})
		assertNoError(t, err)
		assertEqual(t, models.SerialStatusInStock, restocked.Status)
		assertEqual(t, f.Store, *restocked.CurrentLocationID)

		assertEqual(t, warehouse, quantity(t, f.Phone.ID, f.Warehouse))
		assertEqual(t, store+1, quantity(t, f.Phone.ID, f.Store))
		assertEqual(t, quantity(t, f.Phone.ID, f.Store), inStockUnits(t, f.Phone.ID, f.Store))
		assertEqual(t, quantity(t, f.Phone.ID, f.Warehouse), inStockUnits(t, f.Phone.ID, f.Warehouse))
		// out at sale, back in at restock; sold to returned moves no stock
		assertEqual(t, int64(2), countEntries(t, units[0], models.TransactionAdjustment))
		assertConsistent(t, f.BusinessID)
	})
}

func inStockUnits(t *testing.T, variationID, locationID uuid.UUID) int {
	t.Helper()
	var count int64
	assertNoError(t, testDB.Model(&models.SerializedUnit{}).
		Where("variation_id = ? AND current_location_id = ? AND status = ?",
			variationID, locationID, models.SerialStatusInStock).
		Count(&count).Error)
	return int(count)
}

func TestSeparationOfDuties(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 5)

	transfer, err := testTransfer.CreateTransfer(bg(), f.Sender, services.CreateTransferRequest{
		FromLocationID: f.Warehouse,
		ToLocationID:   f.Store,
		Items:          []services.TransferLineRequest{{VariationID: f.Bulk.ID, Quantity: 1}},
	})
	assertNoError(t, err)
	_, err = testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
	assertNoError(t, err)

	t.Run("SC1: Dry run reports the sender denial", func(t *testing.T) {
		decision, err := testPolicy.ValidateSOD(bg(), f.Sender, policy.ActionTransferReceive,
			services.EntityStockTransfer, transfer.ID)
		assertNoError(t, err)
		assert.False(t, decision.Allowed)
		assertEqual(t, "SOD_TRANSFER_SENDER_CANNOT_RECEIVE", decision.Code)

		decision, err = testPolicy.ValidateSOD(bg(), f.Receiver, policy.ActionTransferReceive,
			services.EntityStockTransfer, transfer.ID)
		assertNoError(t, err)
		assert.True(t, decision.Allowed)

		_, err = testPolicy.ValidateSOD(bg(), f.Sender, policy.ActionTransferReceive,
			services.EntityStockTransfer, uuid.New())
		assertCode(t, err, apperrors.CodeNotFound)
	})

	t.Run("SC2: Disabled rule lets the sender receive", func(t *testing.T) {
		admin := f.identity(auth.PermissionSODManage)
		stored, err := testPolicy.UpsertRule(bg(), admin, policy.Rule{
			Action:     policy.ActionTransferReceive,
			ActorField: policy.ActorSentBy,
			Comparison: policy.MustDiffer,
			Enabled:    false,
		})
		assertNoError(t, err)
		assertEqual(t, "SOD_TRANSFER_SENDER_CANNOT_RECEIVE", stored.Code)

		rules, err := testPolicy.ListRules(bg(), f.BusinessID)
		assertNoError(t, err)
		assertEqual(t, len(policy.DefaultRules()), len(rules))

		_, err = testTransfer.ReceiveTransfer(bg(), f.Sender, transfer.ID, services.ReceiveTransferRequest{})
		assertNoError(t, err)
	})

	t.Run("SC3: Rule changes need sod.manage and valid fields", func(t *testing.T) {
		_, err := testPolicy.UpsertRule(bg(), f.identity(auth.PermissionStockView), policy.Rule{
			Action:     policy.ActionTransferSend,
			ActorField: policy.ActorCreatedBy,
			Comparison: policy.MustDiffer,
			Enabled:    true,
		})
		assertCode(t, err, apperrors.CodePermissionDenied)

		_, err = testPolicy.UpsertRule(bg(), f.identity(auth.PermissionSODManage), policy.Rule{
			Action:     policy.ActionTransferSend,
			ActorField: policy.ActorCreatedBy,
			Comparison: "sometimes",
			Enabled:    true,
		})
		assertCode(t, err, apperrors.CodeValidationFailed)
	})

	t.Run("SC4: Every mutation leaves an audit row and an outbox event", func(t *testing.T) {
		logs, total, err := testAudit.List(f.BusinessID, services.EntityStockTransfer, &transfer.ID, 1, 50)
		assertNoError(t, err)
		assertEqual(t, int64(3), total)
		assertEqual(t, services.AuditTransferReceive, logs[0].Action)

		var events int64
		testDB.Model(&models.OutboxEvent{}).
			Where("aggregate_id = ? AND status = ?", transfer.ID, models.OutboxStatusPending).
			Count(&events)
		assertEqual(t, int64(3), events)
	})
}
