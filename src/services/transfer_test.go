package services_test

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/auth"
	"stock-ledger/src/config"
	"stock-ledger/src/models"
	"stock-ledger/src/services"
)

func (f *fixture) transfer(t *testing.T, lines ...services.TransferLineRequest) *models.StockTransfer {
	t.Helper()
	transfer, err := testTransfer.CreateTransfer(bg(), f.Sender, services.CreateTransferRequest{
		FromLocationID: f.Warehouse,
		ToLocationID:   f.Store,
		ReferenceNo:    "TR-" + uuid.NewString()[:8],
		Items:          lines,
	})
	assertNoError(t, err)
	return transfer
}

// legacyInTransit - A transfer that reached in_transit without any send-side deduction
func (f *fixture) legacyInTransit(t *testing.T, qty int) *models.StockTransfer {
	t.Helper()
	transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: qty})
	assertNoError(t, testDB.Model(&models.StockTransfer{}).
		Where("id = ?", transfer.ID).
		Updates(map[string]interface{}{"status": models.TransferStatusInTransit, "sent_by": f.Sender.UserID}).Error)
	return transfer
}

func TestTransferLifecycle(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 20)

	t.Run("SC1: Send deducts source, receive credits destination", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 5})
		assertEqual(t, models.TransferStatusPending, transfer.Status)
		assertEqual(t, 20, quantity(t, f.Bulk.ID, f.Warehouse))

		sent, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)
		assertEqual(t, models.TransferStatusInTransit, sent.Status)
		assert.True(t, sent.StockDeducted)
		assertEqual(t, 15, quantity(t, f.Bulk.ID, f.Warehouse))
		assertEqual(t, 0, quantity(t, f.Bulk.ID, f.Store))

		received, err := testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertNoError(t, err)
		assertEqual(t, models.TransferStatusReceived, received.Status)
		require.NotNil(t, received.ReceivedBy)
		assertEqual(t, f.Receiver.UserID, *received.ReceivedBy)

		assertEqual(t, 15, quantity(t, f.Bulk.ID, f.Warehouse))
		assertEqual(t, 5, quantity(t, f.Bulk.ID, f.Store))
		assertEqual(t, int64(1), countEntries(t, transfer.ID, models.TransactionTransferOut))
		assertEqual(t, int64(1), countEntries(t, transfer.ID, models.TransactionTransferIn))

		stored, err := testTransfer.GetTransfer(bg(), f.BusinessID, transfer.ID)
		assertNoError(t, err)
		assertEqual(t, 5, stored.Items[0].ReceivedQuantity)
		assertConsistent(t, f.BusinessID)
	})

	t.Run("SC2: Arrive and verify precede receive", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 1})
		_, err := testTransfer.MarkArrived(bg(), f.Receiver, transfer.ID)
		assertCode(t, err, apperrors.CodeInvalidTransferState)

		_, err = testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)
		arrived, err := testTransfer.MarkArrived(bg(), f.Receiver, transfer.ID)
		assertNoError(t, err)
		assertEqual(t, models.TransferStatusArrived, arrived.Status)

		verifying, err := testTransfer.StartVerification(bg(), f.Receiver, transfer.ID)
		assertNoError(t, err)
		assertEqual(t, models.TransferStatusVerifying, verifying.Status)
		require.NotNil(t, verifying.CheckedBy)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertNoError(t, err)
		assertEqual(t, int64(1), countEntries(t, transfer.ID, models.TransactionTransferOut))
	})

	t.Run("SC3: Receiving a pending or received transfer is rejected", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 1})
		_, err := testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertCode(t, err, apperrors.CodeInvalidTransferState)
		assertEqual(t, apperrors.KindValidation, apperrors.KindOf(err))

		_, err = testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)
		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertNoError(t, err)
		before := quantity(t, f.Bulk.ID, f.Store)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertCode(t, err, apperrors.CodeInvalidTransferState)
		assertEqual(t, before, quantity(t, f.Bulk.ID, f.Store))
	})

	t.Run("SC4: Partial receive records the discrepancy", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 4})
		_, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)
		source := quantity(t, f.Bulk.ID, f.Warehouse)
		dest := quantity(t, f.Bulk.ID, f.Store)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{
			Items: []services.ReceiveTransferLine{{TransferItemID: transfer.Items[0].ID, QuantityReceived: 3}},
		})
		assertNoError(t, err)
		assertEqual(t, source, quantity(t, f.Bulk.ID, f.Warehouse))
		assertEqual(t, dest+3, quantity(t, f.Bulk.ID, f.Store))

		logs, _, err := testAudit.List(f.BusinessID, services.EntityStockTransfer, &transfer.ID, 1, 10)
		assertNoError(t, err)
		var receipt *models.AuditLog
		for i := range logs {
			if logs[i].Action == services.AuditTransferReceive {
				receipt = &logs[i]
			}
		}
		require.NotNil(t, receipt)
		var meta struct {
			Lines []struct {
				Discrepancy int `json:"discrepancy"`
			} `json:"lines"`
		}
		require.NoError(t, json.Unmarshal(receipt.Metadata, &meta))
		require.Len(t, meta.Lines, 1)
		assertEqual(t, 1, meta.Lines[0].Discrepancy)
	})

	t.Run("SC5: Receiving more than sent is rejected", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 2})
		_, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{
			Items: []services.ReceiveTransferLine{{TransferItemID: transfer.Items[0].ID, QuantityReceived: 3}},
		})
		assertCode(t, err, apperrors.CodeOverReceipt)
	})

	t.Run("SC6: Sending more than available is rejected", func(t *testing.T) {
		before := quantity(t, f.Bulk.ID, f.Warehouse)
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: before + 1})
		_, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertCode(t, err, apperrors.CodeInsufficientStock)
		assertEqual(t, before, quantity(t, f.Bulk.ID, f.Warehouse))
		assertEqual(t, int64(0), countEntries(t, transfer.ID, models.TransactionTransferOut))

		stored, err := testTransfer.GetTransfer(bg(), f.BusinessID, transfer.ID)
		assertNoError(t, err)
		assertEqual(t, models.TransferStatusPending, stored.Status)
	})

	t.Run("SC7: Create validation", func(t *testing.T) {
		_, err := testTransfer.CreateTransfer(bg(), f.Sender, services.CreateTransferRequest{
			FromLocationID: f.Warehouse,
			ToLocationID:   f.Warehouse,
			Items:          []services.TransferLineRequest{{VariationID: f.Bulk.ID, Quantity: 1}},
		})
		assertCode(t, err, apperrors.CodeValidationFailed)

		_, err = testTransfer.CreateTransfer(bg(), f.Sender, services.CreateTransferRequest{
			FromLocationID: f.Warehouse,
			ToLocationID:   f.Store,
			Items:          []services.TransferLineRequest{{VariationID: f.Bulk.ID, Quantity: 0}},
		})
		assertCode(t, err, apperrors.CodeValidationFailed)

		_, err = testTransfer.CreateTransfer(bg(), f.Sender, services.CreateTransferRequest{
			FromLocationID: f.Warehouse,
			ToLocationID:   uuid.New(),
			Items:          []services.TransferLineRequest{{VariationID: f.Bulk.ID, Quantity: 1}},
		})
		assertCode(t, err, apperrors.CodeNotFound)
	})
}

func TestTransferIntegrity(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 10)

	t.Run("SC1: Missing transfer_out aborts the receive", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 5})
		_, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)

		assertNoError(t, testDB.Where("reference_id = ? AND transaction_type = ?",
			transfer.ID, models.TransactionTransferOut).Delete(&models.LedgerEntry{}).Error)
		dest := quantity(t, f.Bulk.ID, f.Store)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertCode(t, err, apperrors.CodeLedgerIntegrityViolation)
		assertEqual(t, apperrors.KindIntegrity, apperrors.KindOf(err))

		assertEqual(t, dest, quantity(t, f.Bulk.ID, f.Store))
		assertEqual(t, int64(0), countEntries(t, transfer.ID, models.TransactionTransferIn))
		stored, err := testTransfer.GetTransfer(bg(), f.BusinessID, transfer.ID)
		assertNoError(t, err)
		assertEqual(t, models.TransferStatusInTransit, stored.Status)
	})

	t.Run("SC2: Concurrent receives apply exactly once", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 2})
		_, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)
		dest := quantity(t, f.Bulk.ID, f.Store)

		receivers := []*auth.Identity{f.Receiver, f.identity(auth.PermissionAll)}
		errs := make([]error, len(receivers))
		var wg sync.WaitGroup
		for i, who := range receivers {
			wg.Add(1)
			go func(i int, who *auth.Identity) {
				defer wg.Done()
				_, errs[i] = testTransfer.ReceiveTransfer(bg(), who, transfer.ID, services.ReceiveTransferRequest{})
			}(i, who)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assertCode(t, err, apperrors.CodeInvalidTransferState)
		}
		assertEqual(t, 1, succeeded)
		assertEqual(t, dest+2, quantity(t, f.Bulk.ID, f.Store))
		assertEqual(t, int64(1), countEntries(t, transfer.ID, models.TransactionTransferOut))
		assertEqual(t, int64(1), countEntries(t, transfer.ID, models.TransactionTransferIn))
	})

	t.Run("SC3: Legacy transfer deducted once on receive", func(t *testing.T) {
		transfer := f.legacyInTransit(t, 3)
		source := quantity(t, f.Bulk.ID, f.Warehouse)
		dest := quantity(t, f.Bulk.ID, f.Store)

		received, err := testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertNoError(t, err)
		assert.True(t, received.StockDeducted)
		assertEqual(t, source-3, quantity(t, f.Bulk.ID, f.Warehouse))
		assertEqual(t, dest+3, quantity(t, f.Bulk.ID, f.Store))
		assertEqual(t, int64(1), countEntries(t, transfer.ID, models.TransactionTransferOut))
	})

	t.Run("SC4: Legacy transfer rejected when the fallback is off", func(t *testing.T) {
		strict := newTransferService(false)
		transfer := f.legacyInTransit(t, 1)
		source := quantity(t, f.Bulk.ID, f.Warehouse)

		_, err := strict.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertCode(t, err, apperrors.CodeLedgerIntegrityViolation)
		assertEqual(t, source, quantity(t, f.Bulk.ID, f.Warehouse))
		assertEqual(t, int64(0), countEntries(t, transfer.ID, models.TransactionTransferOut))
	})
}

func TestTransferAuthorization(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 10)

	t.Run("SC1: Sender cannot receive their own transfer", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 1})
		_, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Sender, transfer.ID, services.ReceiveTransferRequest{})
		assertCode(t, err, "SOD_TRANSFER_SENDER_CANNOT_RECEIVE")
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.True(t, appErr.Configurable)
		assert.NotEmpty(t, appErr.Suggestion)
		assertEqual(t, int64(0), countEntries(t, transfer.ID, models.TransactionTransferIn))
	})

	t.Run("SC2: Destination access required to receive", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 1})
		_, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)

		outsider := f.identity(auth.PermissionAll)
		outsider.AllLocations = false
		outsider.LocationAccess = []uuid.UUID{f.Warehouse}
		_, err = testTransfer.ReceiveTransfer(bg(), outsider, transfer.ID, services.ReceiveTransferRequest{})
		assertCode(t, err, apperrors.CodeLocationAccessDenied)
	})

	t.Run("SC3: Missing permission rejected", func(t *testing.T) {
		viewer := f.identity(auth.PermissionStockView)
		_, err := testTransfer.CreateTransfer(bg(), viewer, services.CreateTransferRequest{
			FromLocationID: f.Warehouse,
			ToLocationID:   f.Store,
			Items:          []services.TransferLineRequest{{VariationID: f.Bulk.ID, Quantity: 1}},
		})
		assertCode(t, err, apperrors.CodePermissionDenied)
	})
}

func TestSerializedTransfer(t *testing.T) {
	f := newFixture(t)
	units := f.stockSerials(t, "IMEI-1", "IMEI-2", "IMEI-3")

	t.Run("SC1: Units travel in transit and land at the destination", func(t *testing.T) {
		transfer := f.transfer(t, services.TransferLineRequest{
			VariationID: f.Phone.ID, Quantity: 2, SerialUnitIDs: units[:2],
		})
		_, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)

		var unit models.SerializedUnit
		assertNoError(t, testDB.First(&unit, "id = ?", units[0]).Error)
		assertEqual(t, models.SerialStatusInTransit, unit.Status)

		// the third unit was never sent
		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{
			Items: []services.ReceiveTransferLine{{
				TransferItemID: transfer.Items[0].ID, QuantityReceived: 2, SerialUnitIDs: []uuid.UUID{units[0], units[2]},
			}},
		})
		assertCode(t, err, apperrors.CodeSerialNotInTransfer)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{
			Items: []services.ReceiveTransferLine{{
				TransferItemID: transfer.Items[0].ID, QuantityReceived: 2, SerialUnitIDs: []uuid.UUID{units[0]},
			}},
		})
		assertCode(t, err, apperrors.CodeSerialCountMismatch)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertNoError(t, err)

		for _, id := range units[:2] {
			assertNoError(t, testDB.First(&unit, "id = ?", id).Error)
			assertEqual(t, models.SerialStatusInStock, unit.Status)
			require.NotNil(t, unit.CurrentLocationID)
			assertEqual(t, f.Store, *unit.CurrentLocationID)
		}
		assertEqual(t, 1, quantity(t, f.Phone.ID, f.Warehouse))
		assertEqual(t, 2, quantity(t, f.Phone.ID, f.Store))

		history, err := testSerial.History(f.BusinessID, units[0])
		assertNoError(t, err)
		assert.Len(t, history, 3)
		assertConsistent(t, f.BusinessID)
	})

	t.Run("SC2: Units not in stock at the source cannot be dispatched", func(t *testing.T) {
		_, err := testTransfer.CreateTransfer(bg(), f.Sender, services.CreateTransferRequest{
			FromLocationID: f.Warehouse,
			ToLocationID:   f.Store,
			Items: []services.TransferLineRequest{{
				VariationID: f.Phone.ID, Quantity: 1, SerialUnitIDs: []uuid.UUID{units[0]},
			}},
		})
		assertCode(t, err, apperrors.CodeInvalidSerialState)

		_, err = testTransfer.CreateTransfer(bg(), f.Sender, services.CreateTransferRequest{
			FromLocationID: f.Warehouse,
			ToLocationID:   f.Store,
			Items:          []services.TransferLineRequest{{VariationID: f.Phone.ID, Quantity: 1}},
		})
		assertCode(t, err, apperrors.CodeSerialCountMismatch)
	})

	t.Run("SC3: Serialized lines are received whole", func(t *testing.T) {
		sent := f.stockSerials(t, "IMEI-4", "IMEI-5")
		transfer := f.transfer(t, services.TransferLineRequest{
			VariationID: f.Phone.ID, Quantity: 2, SerialUnitIDs: sent,
		})
		_, err := testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
		assertNoError(t, err)
		store := quantity(t, f.Phone.ID, f.Store)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{
			Items: []services.ReceiveTransferLine{{
				TransferItemID: transfer.Items[0].ID, QuantityReceived: 1, SerialUnitIDs: sent[:1],
			}},
		})
		assertCode(t, err, apperrors.CodeSerialCountMismatch)
		assertEqual(t, apperrors.KindValidation, apperrors.KindOf(err))

		var unit models.SerializedUnit
		for _, id := range sent {
			assertNoError(t, testDB.First(&unit, "id = ?", id).Error)
			assertEqual(t, models.SerialStatusInTransit, unit.Status)
		}
		assertEqual(t, store, quantity(t, f.Phone.ID, f.Store))
		assertEqual(t, int64(0), countEntries(t, transfer.ID, models.TransactionTransferIn))

		var stored models.StockTransfer
		assertNoError(t, testDB.First(&stored, "id = ?", transfer.ID).Error)
		assertEqual(t, models.TransferStatusInTransit, stored.Status)

		_, err = testTransfer.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{
			Items: []services.ReceiveTransferLine{{
				TransferItemID: transfer.Items[0].ID, QuantityReceived: 2, SerialUnitIDs: sent,
			}},
		})
		assertNoError(t, err)
		for _, id := range sent {
			assertNoError(t, testDB.First(&unit, "id = ?", id).Error)
			assertEqual(t, models.SerialStatusInStock, unit.Status)
			assertEqual(t, f.Store, *unit.CurrentLocationID)
		}
		assertEqual(t, store+2, quantity(t, f.Phone.ID, f.Store))
		assertConsistent(t, f.BusinessID)
	})
}

func TestReceiveLockContention(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}
	rdb, locker, err := config.ConnectRedis(bg(), addr)
	require.NoError(t, err)
	defer rdb.Close()

	f := newFixture(t)
	f.stock(t, 3)
	transfer := f.transfer(t, services.TransferLineRequest{VariationID: f.Bulk.ID, Quantity: 3})
	_, err = testTransfer.SendTransfer(bg(), f.Sender, transfer.ID)
	assertNoError(t, err)

	svc := newTransferService(false)
	svc.Locker = locker

	t.Run("SC1: A held receive lock is a conflict with its own code", func(t *testing.T) {
		held, err := locker.Obtain(bg(), services.TransferReceiveLockKey(transfer.ID), time.Minute, nil)
		require.NoError(t, err)

		_, err = svc.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertCode(t, err, apperrors.CodeTransferReceiveBusy)
		assertEqual(t, apperrors.KindConflict, apperrors.KindOf(err))
		assert.False(t, apperrors.Is(err, apperrors.CodeInvalidTransferState))
		assertEqual(t, 0, quantity(t, f.Bulk.ID, f.Store))

		require.NoError(t, held.Release(bg()))
	})

	t.Run("SC2: Once released the receive goes through", func(t *testing.T) {
		_, err := svc.ReceiveTransfer(bg(), f.Receiver, transfer.ID, services.ReceiveTransferRequest{})
		assertNoError(t, err)
		assertEqual(t, 3, quantity(t, f.Bulk.ID, f.Store))
		assertConsistent(t, f.BusinessID)
	})
}
