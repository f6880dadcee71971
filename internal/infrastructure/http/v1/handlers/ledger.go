package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/infrastructure/http/v1/dto"
)

// LedgerHandler serves the period ledger.
type LedgerHandler struct {
	*BaseHandler
	ledgers *ledger.Service
}

type (
	periodFunc func(ctx context.Context, orgID id.ID, p period.Period) (*ledger.PeriodActionResult, error)
	ledgerFunc func(ctx context.Context, k ledger.Key) (*ledger.Ledger, error)
)

// NewLedgerHandler creates a ledger handler.
func NewLedgerHandler(base *BaseHandler, ledgers *ledger.Service) *LedgerHandler {
	return &LedgerHandler{BaseHandler: base, ledgers: ledgers}
}

// List handles GET /orgs/:orgId/ledgers.
func (h *LedgerHandler) List(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	p, ok := h.QueryPeriod(c, false)
	if !ok {
		return
	}
	taxTypeID, ok := h.QueryID(c, "tax_type_id")
	if !ok {
		return
	}
	regimeID, ok := h.QueryID(c, "regime_id")
	if !ok {
		return
	}
	status := ledger.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		h.Error(c, apperror.NewValidation("status must be aberto or fechado").WithDetail("field", "status"))
		return
	}

	result, err := h.ledgers.List(c.Request.Context(), orgID, ledger.ListFilter{
		Period:    p,
		TaxTypeID: taxTypeID,
		RegimeID:  regimeID,
		Status:    status,
		Limit:     h.ParseIntQuery(c, "limit", 0),
		Offset:    h.ParseIntQuery(c, "offset", 0),
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// ClosePeriod handles POST /orgs/:orgId/periods/:year/:month/close.
func (h *LedgerHandler) ClosePeriod(c *gin.Context) {
	h.periodAction(c, h.ledgers.ClosePeriod)
}

// ReopenPeriod handles POST /orgs/:orgId/periods/:year/:month/reopen.
func (h *LedgerHandler) ReopenPeriod(c *gin.Context) {
	h.periodAction(c, h.ledgers.ReopenPeriod)
}

// periodAction answers 200 with success=false on a business refusal.
func (h *LedgerHandler) periodAction(c *gin.Context, action periodFunc) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	p, ok := h.PathPeriod(c)
	if !ok {
		return
	}

	result, err := action(c.Request.Context(), orgID, p)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromPeriodAction(result))
}

// CloseLedger handles POST /orgs/:orgId/ledgers/close.
func (h *LedgerHandler) CloseLedger(c *gin.Context) {
	h.ledgerAction(c, h.ledgers.CloseLedger)
}

// ReopenLedger handles POST /orgs/:orgId/ledgers/reopen.
func (h *LedgerHandler) ReopenLedger(c *gin.Context) {
	h.ledgerAction(c, h.ledgers.ReopenLedger)
}

func (h *LedgerHandler) ledgerAction(c *gin.Context, action ledgerFunc) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.LedgerActionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	p, err := req.ToPeriod()
	if err != nil {
		h.Error(c, err)
		return
	}

	l, err := action(c.Request.Context(), ledger.Key{
		OrgID:     orgID,
		TaxTypeID: req.TaxTypeID,
		RegimeID:  req.RegimeID,
		Period:    p,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, l)
}
