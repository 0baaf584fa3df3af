package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"stock-ledger/src/auth"
	"stock-ledger/src/idempotency"
	"stock-ledger/src/policy"
	"stock-ledger/src/requests"
	"stock-ledger/src/services"
)

type SODHandler struct {
	Service *services.PolicyService
	Guard   *idempotency.Guard
}

// ValidateSOD - POST /sod/validate. A denial is a normal 200 answer here.
func (h *SODHandler) ValidateSOD(c *gin.Context) {
	var req requests.ValidateSODRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	decision, err := h.Service.ValidateSOD(c.Request.Context(), auth.Current(c),
		policy.Action(req.Action), req.EntityType, req.EntityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": decision})
}

// ListRules - GET /sod/rules
func (h *SODHandler) ListRules(c *gin.Context) {
	rules, err := h.Service.ListRules(c.Request.Context(), auth.Current(c).BusinessID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

// UpsertRule - PUT /sod/rules
func (h *SODHandler) UpsertRule(c *gin.Context) {
	var req requests.UpsertSODRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	rule := policy.Rule{
		Action:      policy.Action(req.Action),
		ActorField:  policy.ActorField(req.ActorField),
		Comparison:  policy.Comparison(req.Comparison),
		Enabled:     *req.Enabled,
		Code:        req.Code,
		Message:     req.Message,
		Suggestion:  req.Suggestion,
		BypassRoles: req.BypassRoles,
	}
	id := auth.Current(c)
	respondIdempotent(c, h.Guard, http.StatusOK, func(ctx context.Context) (*policy.Rule, error) {
		return h.Service.UpsertRule(ctx, id, rule)
	})
}
