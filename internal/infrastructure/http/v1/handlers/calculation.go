package handlers

import (
	"github.com/gin-gonic/gin"

	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/infrastructure/http/v1/dto"
)

// CalculationHandler serves tax calculations and their postings.
type CalculationHandler struct {
	*BaseHandler
	calculator *calculator.Calculator
	ledgers    *ledger.Service
}

// NewCalculationHandler creates a calculation handler.
func NewCalculationHandler(base *BaseHandler, calc *calculator.Calculator, ledgers *ledger.Service) *CalculationHandler {
	return &CalculationHandler{BaseHandler: base, calculator: calc, ledgers: ledgers}
}

// Calculate handles POST /orgs/:orgId/calculations.
// Nothing is persisted.
func (h *CalculationHandler) Calculate(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.CalculateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.calculator.Calculate(c.Request.Context(), orgID, req.ToRequest())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// Post handles POST /orgs/:orgId/calculations/post.
func (h *CalculationHandler) Post(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.PostCalculationRequest
	if !h.BindJSON(c, &req) {
		return
	}
	p, err := req.Period.ToPeriod()
	if err != nil {
		h.Error(c, err)
		return
	}

	posted, err := h.ledgers.Post(c.Request.Context(), orgID, req.Result, p)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, posted)
}

// Summary handles GET /orgs/:orgId/calculations/summary?month&year.
func (h *CalculationHandler) Summary(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	p, ok := h.QueryPeriod(c, true)
	if !ok {
		return
	}

	summary, err := h.ledgers.Summary(c.Request.Context(), orgID, *p)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, summary)
}
