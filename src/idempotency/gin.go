package idempotency

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRequestID      = "X-Request-ID"
)

// KeyFunc extracts the client token from a request; "" means not deduplicated.
type KeyFunc func(c *gin.Context) string

// HeaderToken - Idempotency-Key, falling back to X-Request-ID
func HeaderToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); token != "" {
		return token
	}
	return strings.TrimSpace(c.GetHeader(HeaderRequestID))
}

// KeyFromRequest - Build the guard key from method, concrete path and token
func KeyFromRequest(c *gin.Context, businessID uuid.UUID, fn KeyFunc) Key {
	if fn == nil {
		fn = HeaderToken
	}
	return Key{
		BusinessID: businessID,
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		Token:      fn(c),
	}
}
