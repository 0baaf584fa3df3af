package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Headers set by the gateway after it has authenticated the caller.
const (
	HeaderUserID         = "X-User-ID"
	HeaderBusinessID     = "X-Business-ID"
	HeaderPermissions    = "X-User-Permissions"
	HeaderRoles          = "X-User-Roles"
	HeaderLocationAccess = "X-Location-Access"

	allLocations = "*"
	ginKey       = "identity"
)

// IdentityMiddleware - Build the caller identity from gateway headers
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identityFromHeaders(c.Request.Header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"kind":    "authorization",
				"code":    "UNAUTHENTICATED",
				"message": err.Error(),
			}})
			return
		}
		id.IPAddress = c.ClientIP()
		id.UserAgent = c.Request.UserAgent()

		c.Set(ginKey, id)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// Current - Identity stored by IdentityMiddleware
func Current(c *gin.Context) *Identity {
	if v, ok := c.Get(ginKey); ok {
		if id, ok := v.(*Identity); ok {
			return id
		}
	}
	return nil
}

func identityFromHeaders(h http.Header) (*Identity, error) {
	userID, err := uuid.Parse(strings.TrimSpace(h.Get(HeaderUserID)))
	if err != nil {
		return nil, errInvalidHeader(HeaderUserID)
	}
	businessID, err := uuid.Parse(strings.TrimSpace(h.Get(HeaderBusinessID)))
	if err != nil {
		return nil, errInvalidHeader(HeaderBusinessID)
	}

	id := &Identity{
		UserID:      userID,
		BusinessID:  businessID,
		Permissions: splitList(h.Get(HeaderPermissions)),
		Roles:       splitList(h.Get(HeaderRoles)),
	}
	for _, raw := range splitList(h.Get(HeaderLocationAccess)) {
		if raw == allLocations {
			id.AllLocations = true
			continue
		}
		locID, err := uuid.Parse(raw)
		if err != nil {
			return nil, errInvalidHeader(HeaderLocationAccess)
		}
		id.LocationAccess = append(id.LocationAccess, locID)
	}
	return id, nil
}

type headerError string

func (e headerError) Error() string { return string(e) }

func errInvalidHeader(name string) error {
	return headerError("missing or invalid " + name + " header")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RequirePermission - Reject callers lacking permission with 403
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := Current(c)
		if id == nil || !id.Can(permission) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{
				"kind":         "authorization",
				"code":         "PERMISSION_DENIED",
				"message":      "missing permission " + permission,
				"configurable": false,
			}})
			return
		}
		c.Next()
	}
}
