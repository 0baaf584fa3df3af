package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stock-ledger/src/apperrors"
	"stock-ledger/src/auth"
	"stock-ledger/src/config"
	"stock-ledger/src/idempotency"
)

// HeaderReplayed marks a response served from the idempotency store
const HeaderReplayed = "Idempotent-Replayed"

// StatusFor - HTTP status for an error kind
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindAuthorization:
		return http.StatusForbidden
	case apperrors.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case apperrors.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		config.LogError(config.GetLogger(), "handlers", c.FullPath(), c.Request.Method, nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"kind":    "internal",
			"code":    "INTERNAL_ERROR",
			"message": "internal server error",
		}})
		return
	}
	if appErr.Kind == apperrors.KindIntegrity {
		config.LogError(config.GetLogger(), "handlers", c.FullPath(), "integrity fault surfaced to caller", appErr.Details, err)
	}
	c.JSON(StatusFor(appErr.Kind), gin.H{"error": appErr})
}

func locationDenied(locationID uuid.UUID) error {
	return apperrors.Forbidden(apperrors.CodeLocationAccessDenied,
		"you do not have access to location "+locationID.String(), false,
		"Ask an administrator to add you to this location")
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.Validation(apperrors.CodeValidationFailed, "%s", message)})
}

// bindOptionalJSON - Bind a body that may be absent. An empty body, chunked or not,
// leaves dest at its zero value.
func bindOptionalJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return false
	}
	return true
}

// respondIdempotent - Run op through the guard; replays return the stored body with the same status
func respondIdempotent[T any](c *gin.Context, guard *idempotency.Guard, status int, op func(ctx context.Context) (T, error)) {
	id := auth.Current(c)
	key := idempotency.KeyFromRequest(c, id.BusinessID, idempotency.HeaderToken)

	result, outcome, err := idempotency.Execute(c.Request.Context(), guard, key, op)
	if err != nil {
		respondError(c, err)
		return
	}
	if outcome == idempotency.Replayed {
		c.Header(HeaderReplayed, "true")
	}
	c.JSON(status, gin.H{"data": result})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func uuidQuery(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Query(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return page, limit
}

func pageMeta(page, limit int, total int64) gin.H {
	return gin.H{
		"page":        page,
		"limit":       limit,
		"total":       total,
		"total_pages": (int(total) + limit - 1) / limit,
	}
}

// parseDate - RFC3339 or YYYY-MM-DD
func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
