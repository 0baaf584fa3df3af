package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stock-ledger/src/auth"
	"stock-ledger/src/services"
)

type AuditHandler struct {
	Recorder *services.AuditRecorder
}

// ListAuditLogs - GET /audit-logs?entity_type=&entity_id=
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	var entityID *uuid.UUID
	if raw := c.Query("entity_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid entity_id")
			return
		}
		entityID = &parsed
	}
	page, limit := pagination(c)

	logs, total, err := h.Recorder.List(auth.Current(c).BusinessID, c.Query("entity_type"), entityID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": logs,
		"meta": pageMeta(page, limit, total),
	})
}
