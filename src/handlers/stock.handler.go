package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stock-ledger/src/auth"
	"stock-ledger/src/services"
)

type StockHandler struct {
	Service *services.LedgerService
}

// ============ GET ENDPOINTS ============

// GetCurrentBalance - Get current balance
func (h *StockHandler) GetCurrentBalance(c *gin.Context) {
	variationID, ok := uuidQuery(c, "variation_id")
	if !ok {
		return
	}
	locationID, ok := uuidQuery(c, "location_id")
	if !ok {
		return
	}
	if !auth.Current(c).CanAccessLocation(locationID) {
		respondError(c, locationDenied(locationID))
		return
	}

	balance, err := h.Service.GetCurrentBalance(variationID, locationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"variation_id":    variationID,
		"location_id":     locationID,
		"current_balance": balance,
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// GetBalanceAt - Get historical balance
func (h *StockHandler) GetBalanceAt(c *gin.Context) {
	variationID, ok := uuidQuery(c, "variation_id")
	if !ok {
		return
	}
	locationID, ok := uuidQuery(c, "location_id")
	if !ok {
		return
	}
	if !auth.Current(c).CanAccessLocation(locationID) {
		respondError(c, locationDenied(locationID))
		return
	}

	date, err := parseDate(c.Query("date"))
	if err != nil {
		badRequest(c, "invalid date format. Use YYYY-MM-DD or RFC3339")
		return
	}
	if len(c.Query("date")) == len("2006-01-02") {
		// a bare date means end of that day
		date = date.Add(24*time.Hour - time.Nanosecond)
	}

	balance, err := h.Service.GetBalanceAt(variationID, locationID, date)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"variation_id": variationID,
		"location_id":  locationID,
		"balance_at":   balance,
		"as_of_date":   date.Format(time.RFC3339),
	})
}

// GetTransactions - Get ledger history
func (h *StockHandler) GetTransactions(c *gin.Context) {
	variationID, ok := uuidQuery(c, "variation_id")
	if !ok {
		return
	}
	locationID, ok := uuidQuery(c, "location_id")
	if !ok {
		return
	}
	id := auth.Current(c)
	if !id.CanAccessLocation(locationID) {
		respondError(c, locationDenied(locationID))
		return
	}

	page, limit := pagination(c)

	var fromDate, toDate time.Time
	if fromStr := c.Query("from_date"); fromStr != "" {
		fromDate, _ = time.Parse("2006-01-02", fromStr)
	}
	if toStr := c.Query("to_date"); toStr != "" {
		toDate, _ = time.Parse("2006-01-02", toStr)
		toDate = time.Date(toDate.Year(), toDate.Month(), toDate.Day(), 23, 59, 59, 0, toDate.Location())
	}

	entries, total, err := h.Service.GetTransactions(id.BusinessID, variationID, locationID, fromDate, toDate, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entries,
		"meta": pageMeta(page, limit, total),
	})
}

// GetLocationSummary - Get location summary
func (h *StockHandler) GetLocationSummary(c *gin.Context) {
	locationID, ok := uuidQuery(c, "location_id")
	if !ok {
		return
	}
	id := auth.Current(c)
	if !id.CanAccessLocation(locationID) {
		respondError(c, locationDenied(locationID))
		return
	}

	summary, err := h.Service.GetLocationSummary(id.BusinessID, locationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"location_id": locationID,
		"data":        summary,
	})
}

// GetVariationSummary - Get variation summary across all locations
func (h *StockHandler) GetVariationSummary(c *gin.Context) {
	variationID, ok := uuidQuery(c, "variation_id")
	if !ok {
		return
	}
	id := auth.Current(c)

	summary, err := h.Service.GetVariationSummary(id.BusinessID, variationID)
	if err != nil {
		respondError(c, err)
		return
	}

	visible := summary[:0]
	for _, row := range summary {
		if id.CanAccessLocation(row.LocationID) {
			visible = append(visible, row)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"variation_id": variationID,
		"data":         visible,
	})
}

// Reconcile - Cache/ledger mismatches for the caller's business
func (h *StockHandler) Reconcile(c *gin.Context) {
	id := auth.Current(c)
	mismatches, err := h.Service.Reconcile(c.Request.Context(), id.BusinessID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"consistent": len(mismatches) == 0,
		"data":       mismatches,
	})
}
