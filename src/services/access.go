package services

import (
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/auth"
)

var tracer = otel.Tracer("stock-ledger/services")

func requirePermission(id *auth.Identity, permission string) error {
	if id == nil || !id.Can(permission) {
		return apperrors.Forbidden(apperrors.CodePermissionDenied,
			"missing permission "+permission, false, "Ask an administrator to grant the "+permission+" permission")
	}
	return nil
}

// requireLocation - membership check, independent of permissions
func requireLocation(id *auth.Identity, locationID uuid.UUID) error {
	if id == nil || !id.CanAccessLocation(locationID) {
		return apperrors.Forbidden(apperrors.CodeLocationAccessDenied,
			"you do not have access to location "+locationID.String(), false,
			"Ask an administrator to add you to this location").
			WithDetail("location_id", locationID)
	}
	return nil
}

// checkSerialNumber - Serial numbers are matched exactly, so they are never rewritten
func checkSerialNumber(serial string) error {
	if serial == "" {
		return apperrors.Validation(apperrors.CodeValidationFailed, "serial numbers cannot be blank")
	}
	if strings.TrimSpace(serial) != serial {
		return apperrors.Validation(apperrors.CodeValidationFailed,
			"serial number %q has leading or trailing whitespace", serial).
			WithDetail("serial_number", serial)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
