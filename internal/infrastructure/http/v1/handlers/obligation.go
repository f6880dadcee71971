package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/domain/obligation"
	"shopfiscal/internal/infrastructure/http/v1/dto"
)

// ObligationHandler serves the obligation tracker.
type ObligationHandler struct {
	*BaseHandler
	obligations *obligation.Service
}

// NewObligationHandler creates an obligation handler.
func NewObligationHandler(base *BaseHandler, obligations *obligation.Service) *ObligationHandler {
	return &ObligationHandler{BaseHandler: base, obligations: obligations}
}

// List handles GET /orgs/:orgId/obligations.
func (h *ObligationHandler) List(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	p, ok := h.QueryPeriod(c, false)
	if !ok {
		return
	}
	kindID, ok := h.QueryID(c, "obligation_kind_id")
	if !ok {
		return
	}
	status := obligation.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		h.Error(c, apperror.NewValidation("unknown obligation status").WithDetail("field", "status"))
		return
	}

	result, err := h.obligations.List(c.Request.Context(), orgID, obligation.ListFilter{
		Period: p,
		KindID: kindID,
		Status: status,
		Limit:  h.ParseIntQuery(c, "limit", 0),
		Offset: h.ParseIntQuery(c, "offset", 0),
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// Get handles GET /orgs/:orgId/obligations/:id.
func (h *ObligationHandler) Get(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	obligationID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	o, err := h.obligations.Get(c.Request.Context(), orgID, obligationID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, o)
}

// Create handles POST /orgs/:orgId/obligations.
// An existing obligation for the same kind and period is returned with 200.
func (h *ObligationHandler) Create(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.CreateObligationRequest
	if !h.BindJSON(c, &req) {
		return
	}
	p, err := req.ToPeriod()
	if err != nil {
		h.Error(c, err)
		return
	}

	o, created, err := h.obligations.Create(c.Request.Context(), orgID, obligation.CreateInput{
		KindID: req.ObligationKindID,
		Period: p,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, o)
}

// Transition handles POST /orgs/:orgId/obligations/:id/transition.
func (h *ObligationHandler) Transition(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	obligationID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.TransitionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	o, err := h.obligations.Advance(c.Request.Context(), orgID, obligationID, req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, o)
}

// Retry handles POST /orgs/:orgId/obligations/:id/retry.
func (h *ObligationHandler) Retry(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	obligationID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	o, err := h.obligations.Retry(c.Request.Context(), orgID, obligationID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, o)
}
