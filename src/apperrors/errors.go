package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindAuthorization     Kind = "authorization"
	KindIntegrity         Kind = "integrity"
	KindInsufficientStock Kind = "insufficient_stock"
	KindNotFound          Kind = "not_found"
)

// ============ CODES ============
const (
	CodeValidationFailed         = "VALIDATION_FAILED"
	CodeOverReceipt              = "OVER_RECEIPT"
	CodeSerialCountMismatch      = "SERIAL_COUNT_MISMATCH"
	CodeInvalidTransferState     = "INVALID_TRANSFER_STATE"
	CodeTransferReceiveBusy      = "TRANSFER_RECEIVE_IN_PROGRESS"
	CodeInvalidPurchaseState     = "INVALID_PURCHASE_STATE"
	CodeItemNotFound             = "ITEM_NOT_FOUND"
	CodeNotFound                 = "NOT_FOUND"
	CodeDuplicateSerial          = "DUPLICATE_SERIAL"
	CodeSerialNotInTransfer      = "SERIAL_NOT_IN_TRANSFER"
	CodeSerialNotInTransit       = "SERIAL_NOT_IN_TRANSIT"
	CodeInvalidSerialState       = "INVALID_SERIAL_STATE"
	CodeIdempotencyInProgress    = "IDEMPOTENCY_IN_PROGRESS"
	CodeLocationAccessDenied     = "LOCATION_ACCESS_DENIED"
	CodePermissionDenied         = "PERMISSION_DENIED"
	CodeLedgerIntegrityViolation = "LEDGER_INTEGRITY_VIOLATION"
	CodeInsufficientStock        = "INSUFFICIENT_STOCK"
)

// Error is the structured failure every core operation returns for
// business-rule violations. Infrastructure errors stay plain wrapped errors.
type Error struct {
	Kind         Kind                   `json:"kind"`
	Code         string                 `json:"code"`
	Message      string                 `json:"message"`
	Configurable bool                   `json:"configurable"`
	Suggestion   string                 `json:"suggestion,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// WithDetail - Attach a key/value for the caller; returns the same error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ============ CONSTRUCTORS ============

func Validation(code, format string, args ...interface{}) *Error {
	return newError(KindValidation, code, format, args...)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return newError(KindConflict, code, format, args...)
}

func NotFound(code, format string, args ...interface{}) *Error {
	return newError(KindNotFound, code, format, args...)
}

func Integrity(format string, args ...interface{}) *Error {
	return newError(KindIntegrity, CodeLedgerIntegrityViolation, format, args...)
}

func InsufficientStock(format string, args ...interface{}) *Error {
	return newError(KindInsufficientStock, CodeInsufficientStock, format, args...)
}

// Forbidden - Authorization denial carrying what an administrator needs to relax it
func Forbidden(code, message string, configurable bool, suggestion string) *Error {
	return &Error{
		Kind:         KindAuthorization,
		Code:         code,
		Message:      message,
		Configurable: configurable,
		Suggestion:   suggestion,
	}
}

func OverReceipt(ordered, alreadyReceived, requested int) *Error {
	return Validation(CodeOverReceipt, "Cannot receive more than ordered quantity").
		WithDetail("ordered", ordered).
		WithDetail("already_received", alreadyReceived).
		WithDetail("requested", requested)
}

func DuplicateSerial(serial string) *Error {
	return Conflict(CodeDuplicateSerial, "serial number %s already exists", serial).
		WithDetail("serial_number", serial)
}

// ============ INSPECTION ============

// As - Extract the structured error from a wrapped chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is - Report whether err carries the given code
func Is(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}
