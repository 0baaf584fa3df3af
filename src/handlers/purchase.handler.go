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

type PurchaseHandler struct {
	Service *services.PurchaseService
	Guard   *idempotency.Guard
}

// CreatePurchaseOrder - POST /purchases
func (h *PurchaseHandler) CreatePurchaseOrder(c *gin.Context) {
	var req requests.CreatePurchaseOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	svcReq := services.CreatePurchaseOrderRequest{
		SupplierID:     req.SupplierID,
		LocationID:     req.LocationID,
		ReferenceNo:    req.ReferenceNo,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		ShippingCost:   req.ShippingCost,
		Notes:          req.Notes,
	}
	for _, line := range req.Items {
		svcReq.Items = append(svcReq.Items, services.PurchaseLineRequest{
			VariationID: line.VariationID,
			Quantity:    line.Quantity,
			UnitCost:    line.UnitCost,
		})
	}

	id := auth.Current(c)
	respondIdempotent(c, h.Guard, http.StatusCreated, func(ctx context.Context) (*models.PurchaseOrder, error) {
		return h.Service.CreatePurchaseOrder(ctx, id, svcReq)
	})
}

// GetPurchaseOrder - GET /purchases/:id
func (h *PurchaseHandler) GetPurchaseOrder(c *gin.Context) {
	purchaseID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	purchase, err := h.Service.GetPurchaseOrder(c.Request.Context(), auth.Current(c).BusinessID, purchaseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": purchase})
}

// ReceiveGRN - POST /purchases/:id/receipts
func (h *PurchaseHandler) ReceiveGRN(c *gin.Context) {
	purchaseID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req requests.ReceiveGRNRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	svcReq := services.ReceiveGRNRequest{ReceiptNo: req.ReceiptNo, Notes: req.Notes}
	for _, line := range req.Items {
		svcReq.Items = append(svcReq.Items, services.ReceiveLineRequest{
			PurchaseItemID:   line.PurchaseItemID,
			QuantityReceived: line.QuantityReceived,
			SerialNumbers:    line.SerialNumbers,
		})
	}

	id := auth.Current(c)
	respondIdempotent(c, h.Guard, http.StatusCreated, func(ctx context.Context) (*services.GRNResult, error) {
		return h.Service.ReceiveGRN(ctx, id, purchaseID, svcReq)
	})
}

// ListReceipts - GET /purchases/:id/receipts
func (h *PurchaseHandler) ListReceipts(c *gin.Context) {
	purchaseID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	receipts, err := h.Service.ListReceipts(c.Request.Context(), auth.Current(c).BusinessID, purchaseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": receipts})
}

// VoidPurchaseOrder - POST /purchases/:id/void
func (h *PurchaseHandler) VoidPurchaseOrder(c *gin.Context) {
	purchaseID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req requests.VoidPurchaseOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	id := auth.Current(c)
	respondIdempotent(c, h.Guard, http.StatusOK, func(ctx context.Context) (*models.PurchaseOrder, error) {
		return h.Service.VoidPurchaseOrder(ctx, id, purchaseID, req.Reason)
	})
}
