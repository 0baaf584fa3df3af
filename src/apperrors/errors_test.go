package apperrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspection(t *testing.T) {
	t.Run("SC1: Codes survive wrapping", func(t *testing.T) {
		err := fmt.Errorf("receive: %w", Conflict(CodeDuplicateSerial, "serial %s exists", "SN1"))
		assert.True(t, Is(err, CodeDuplicateSerial))
		assert.False(t, Is(err, CodeOverReceipt))
		assert.Equal(t, KindConflict, KindOf(err))
	})

	t.Run("SC2: Plain errors have no kind", func(t *testing.T) {
		err := fmt.Errorf("connection reset")
		_, ok := As(err)
		assert.False(t, ok)
		assert.Equal(t, Kind(""), KindOf(err))
		assert.False(t, Is(nil, CodeNotFound))
	})
}

func TestConstructors(t *testing.T) {
	t.Run("SC1: Over-receipt carries the quantities", func(t *testing.T) {
		err := OverReceipt(10, 7, 4)
		assert.Equal(t, KindValidation, err.Kind)
		assert.Equal(t, CodeOverReceipt, err.Code)
		assert.Equal(t, "Cannot receive more than ordered quantity", err.Error())
		assert.Equal(t, 10, err.Details["ordered"])
		assert.Equal(t, 7, err.Details["already_received"])
		assert.Equal(t, 4, err.Details["requested"])
	})

	t.Run("SC2: Integrity and stock kinds", func(t *testing.T) {
		assert.Equal(t, CodeLedgerIntegrityViolation, Integrity("missing entry").Code)
		assert.Equal(t, KindIntegrity, Integrity("missing entry").Kind)
		assert.Equal(t, KindInsufficientStock, InsufficientStock("short by %d", 2).Kind)
		assert.Equal(t, "short by 2", InsufficientStock("short by %d", 2).Message)
	})

	t.Run("SC3: Forbidden keeps the remediation fields", func(t *testing.T) {
		err := Forbidden("SOD_X", "not allowed", true, "ask someone else")
		assert.Equal(t, KindAuthorization, err.Kind)
		assert.True(t, err.Configurable)
		assert.Equal(t, "ask someone else", err.Suggestion)
	})

	t.Run("SC4: Duplicate serial names the serial", func(t *testing.T) {
		err := DuplicateSerial("SN-9")
		require.NotNil(t, err.Details)
		assert.Equal(t, "SN-9", err.Details["serial_number"])
		assert.Contains(t, err.Error(), "SN-9")
	})
}
