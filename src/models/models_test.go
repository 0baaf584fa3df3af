package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTransferState(t *testing.T) {
	t.Run("SC1: Receivable statuses", func(t *testing.T) {
		assert.True(t, TransferStatusInTransit.Receivable())
		assert.True(t, TransferStatusArrived.Receivable())
		assert.True(t, TransferStatusVerifying.Receivable())
		assert.False(t, TransferStatusPending.Receivable())
		assert.False(t, TransferStatusReceived.Receivable())
	})

	t.Run("SC2: Deduction state follows stock_deducted", func(t *testing.T) {
		transfer := &StockTransfer{}
		assert.Equal(t, NotYetDeducted, transfer.DeductionState())
		assert.Equal(t, "not_yet_deducted", transfer.DeductionState().String())

		transfer.StockDeducted = true
		assert.Equal(t, DeductedAtSend, transfer.DeductionState())
		assert.Equal(t, "deducted_at_send", transfer.DeductionState().String())
	})

	t.Run("SC3: Sent serial lookup", func(t *testing.T) {
		sent := uuid.New()
		item := &StockTransferItem{SerialNumbersSent: []uuid.UUID{sent}}
		assert.True(t, item.SentSerial(sent))
		assert.False(t, item.SentSerial(uuid.New()))
	})
}

func TestPurchaseHelpers(t *testing.T) {
	item := &PurchaseItem{QuantityOrdered: 10, QuantityReceived: 7}
	assert.Equal(t, 3, item.Outstanding())

	po := &PurchaseOrder{}
	assert.False(t, po.IsVoided())

	assert.True(t, SerialStatusDamaged.Valid())
	assert.False(t, SerialStatus("lost").Valid())
}
