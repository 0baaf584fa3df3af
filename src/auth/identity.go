package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ============ PERMISSIONS ============
const (
	PermissionPurchaseCreate  = "purchase.create"
	PermissionPurchaseReceive = "purchase.receive"
	PermissionPurchaseVoid    = "purchase.void"
	PermissionTransferCreate  = "transfer.create"
	PermissionTransferSend    = "transfer.send"
	PermissionTransferReceive = "transfer.receive"
	PermissionSerialManage    = "serial.manage"
	PermissionSODManage       = "sod.manage"
	PermissionStockView       = "stock.view"
	PermissionAuditView       = "audit.view"

	// PermissionAll grants every permission
	PermissionAll = "*"
)

// Identity is what the upstream identity provider tells us about the caller.
type Identity struct {
	UserID      uuid.UUID
	BusinessID  uuid.UUID
	Permissions []string
	Roles       []string

	// LocationAccess lists locations the user is a member of; AllLocations overrides it
	LocationAccess []uuid.UUID
	AllLocations   bool

	IPAddress string
	UserAgent string
}

// Can - Permission predicate
func (i *Identity) Can(permission string) bool {
	for _, p := range i.Permissions {
		if p == permission || p == PermissionAll {
			return true
		}
	}
	return false
}

// CanAccessLocation - Location membership predicate, independent of permissions
func (i *Identity) CanAccessLocation(locationID uuid.UUID) bool {
	if i.AllLocations {
		return true
	}
	for _, id := range i.LocationAccess {
		if id == locationID {
			return true
		}
	}
	return false
}

func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
