package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"stock-ledger/src/auth"
	"stock-ledger/src/idempotency"
	"stock-ledger/src/models"
	"stock-ledger/src/requests"
	"stock-ledger/src/services"
)

type SerialHandler struct {
	Service *services.SerialService
	Guard   *idempotency.Guard
}

// RegisterSerial - POST /serials
func (h *SerialHandler) RegisterSerial(c *gin.Context) {
	var req requests.RegisterSerialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	id := auth.Current(c)
	respondIdempotent(c, h.Guard, http.StatusCreated, func(ctx context.Context) (*models.SerializedUnit, error) {
		return h.Service.RegisterSerial(ctx, id, services.RegisterSerialRequest{
			SerialNumber: req.SerialNumber,
			VariationID:  req.VariationID,
			LocationID:   req.LocationID,
		})
	})
}

// LookupSerial - GET /serials/lookup?serial_number=
func (h *SerialHandler) LookupSerial(c *gin.Context) {
	serial := c.Query("serial_number")
	if serial == "" {
		badRequest(c, "serial_number is required")
		return
	}
	unit, err := h.Service.LookupSerial(auth.Current(c).BusinessID, serial)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": unit})
}

// TransitionSerial - POST /serials/:id/transition
func (h *SerialHandler) TransitionSerial(c *gin.Context) {
	unitID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req requests.TransitionSerialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	id := auth.Current(c)
	respondIdempotent(c, h.Guard, http.StatusOK, func(ctx context.Context) (*models.SerializedUnit, error) {
		return h.Service.TransitionSerial(ctx, id, unitID, services.TransitionSerialRequest{
			From:       models.SerialStatus(req.FromStatus),
			To:         models.SerialStatus(req.ToStatus),
			LocationID: req.LocationID,
		})
	})
}

// GetMovements - GET /serials/:id/movements
func (h *SerialHandler) GetMovements(c *gin.Context) {
	unitID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	movements, err := h.Service.History(auth.Current(c).BusinessID, unitID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": movements})
}
