package routes

import (
	"stock-ledger/src/auth"
	"stock-ledger/src/handlers"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Purchase *handlers.PurchaseHandler
	Transfer *handlers.TransferHandler
	Serial   *handlers.SerialHandler
	SOD      *handlers.SODHandler
	Stock    *handlers.StockHandler
	Audit    *handlers.AuditHandler
}

// RegisterRoutes - Mount every endpoint on r. Mutating workflows check their own
// permissions; read endpoints are gated here.
func RegisterRoutes(r *gin.RouterGroup, h Handlers) {
	r.Use(auth.IdentityMiddleware())

	purchases := r.Group("/purchases")
	purchases.POST("", h.Purchase.CreatePurchaseOrder)
	purchases.GET("/:id", auth.RequirePermission(auth.PermissionStockView), h.Purchase.GetPurchaseOrder)
	purchases.POST("/:id/receipts", h.Purchase.ReceiveGRN)
	purchases.GET("/:id/receipts", auth.RequirePermission(auth.PermissionStockView), h.Purchase.ListReceipts)
	purchases.POST("/:id/void", h.Purchase.VoidPurchaseOrder)

	transfers := r.Group("/transfers")
	transfers.POST("", h.Transfer.CreateTransfer)
	transfers.GET("/:id", auth.RequirePermission(auth.PermissionStockView), h.Transfer.GetTransfer)
	transfers.POST("/:id/send", h.Transfer.SendTransfer)
	transfers.POST("/:id/arrive", h.Transfer.MarkArrived)
	transfers.POST("/:id/verify", h.Transfer.StartVerification)
	transfers.POST("/:id/receive", h.Transfer.ReceiveTransfer)

	serials := r.Group("/serials")
	serials.POST("", h.Serial.RegisterSerial)
	serials.GET("/lookup", auth.RequirePermission(auth.PermissionStockView), h.Serial.LookupSerial)
	serials.POST("/:id/transition", h.Serial.TransitionSerial)
	serials.GET("/:id/movements", auth.RequirePermission(auth.PermissionStockView), h.Serial.GetMovements)

	sod := r.Group("/sod")
	sod.POST("/validate", h.SOD.ValidateSOD)
	sod.GET("/rules", auth.RequirePermission(auth.PermissionSODManage), h.SOD.ListRules)
	sod.PUT("/rules", h.SOD.UpsertRule)

	stock := r.Group("/stock", auth.RequirePermission(auth.PermissionStockView))
	stock.GET("/balance/current", h.Stock.GetCurrentBalance)
	stock.GET("/balance/historical", h.Stock.GetBalanceAt)
	stock.GET("/entries", h.Stock.GetTransactions)
	stock.GET("/summary/location", h.Stock.GetLocationSummary)
	stock.GET("/summary/variation", h.Stock.GetVariationSummary)
	stock.GET("/reconcile", h.Stock.Reconcile)

	r.GET("/audit-logs", auth.RequirePermission(auth.PermissionAuditView), h.Audit.ListAuditLogs)
}
