package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stock-ledger/src/auth"
	"stock-ledger/src/idempotency"
	"stock-ledger/src/models"
	"stock-ledger/src/requests"
	"stock-ledger/src/services"
)

type TransferHandler struct {
	Service *services.TransferService
	Guard   *idempotency.Guard
}

type transferStep func(ctx context.Context, id *auth.Identity, transferID uuid.UUID) (*models.StockTransfer, error)

// CreateTransfer - POST /transfers
func (h *TransferHandler) CreateTransfer(c *gin.Context) {
	var req requests.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	svcReq := services.CreateTransferRequest{
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		ReferenceNo:    req.ReferenceNo,
		Notes:          req.Notes,
	}
	for _, line := range req.Items {
		svcReq.Items = append(svcReq.Items, services.TransferLineRequest{
			VariationID:   line.VariationID,
			Quantity:      line.Quantity,
			SerialUnitIDs: line.SerialUnitIDs,
		})
	}

	id := auth.Current(c)
	respondIdempotent(c, h.Guard, http.StatusCreated, func(ctx context.Context) (*models.StockTransfer, error) {
		return h.Service.CreateTransfer(ctx, id, svcReq)
	})
}

// GetTransfer - GET /transfers/:id
func (h *TransferHandler) GetTransfer(c *gin.Context) {
	transferID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	transfer, err := h.Service.GetTransfer(c.Request.Context(), auth.Current(c).BusinessID, transferID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": transfer})
}

// SendTransfer - POST /transfers/:id/send
func (h *TransferHandler) SendTransfer(c *gin.Context) {
	h.step(c, h.Service.SendTransfer)
}

// MarkArrived - POST /transfers/:id/arrive
func (h *TransferHandler) MarkArrived(c *gin.Context) {
	h.step(c, h.Service.MarkArrived)
}

// StartVerification - POST /transfers/:id/verify
func (h *TransferHandler) StartVerification(c *gin.Context) {
	h.step(c, h.Service.StartVerification)
}

// ReceiveTransfer - POST /transfers/:id/receive
func (h *TransferHandler) ReceiveTransfer(c *gin.Context) {
	transferID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req requests.ReceiveTransferRequest
	// empty body receives everything as sent
	if !bindOptionalJSON(c, &req) {
		return
	}

	var svcReq services.ReceiveTransferRequest
	for _, line := range req.Items {
		svcReq.Items = append(svcReq.Items, services.ReceiveTransferLine{
			TransferItemID:   line.TransferItemID,
			QuantityReceived: line.QuantityReceived,
			SerialUnitIDs:    line.SerialUnitIDs,
		})
	}

	id := auth.Current(c)
	respondIdempotent(c, h.Guard, http.StatusOK, func(ctx context.Context) (*models.StockTransfer, error) {
		return h.Service.ReceiveTransfer(ctx, id, transferID, svcReq)
	})
}

func (h *TransferHandler) step(c *gin.Context, fn transferStep) {
	transferID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	id := auth.Current(c)
	respondIdempotent(c, h.Guard, http.StatusOK, func(ctx context.Context) (*models.StockTransfer, error) {
		return fn(ctx, id, transferID)
	})
}
