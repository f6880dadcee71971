package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/infrastructure/http/v1/dto"
)

// RuleHandler serves the tax rule repository.
type RuleHandler struct {
	*BaseHandler
	rules *rule.Service
}

// NewRuleHandler creates a rule handler.
func NewRuleHandler(base *BaseHandler, rules *rule.Service) *RuleHandler {
	return &RuleHandler{BaseHandler: base, rules: rules}
}

// List handles GET /orgs/:orgId/rules.
func (h *RuleHandler) List(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	regimeID, ok := h.QueryID(c, "regime_id")
	if !ok {
		return
	}
	taxTypeID, ok := h.QueryID(c, "tax_type_id")
	if !ok {
		return
	}
	isActive, ok := h.QueryBool(c, "is_active")
	if !ok {
		return
	}
	filter := rule.ListFilter{
		RegimeID:  regimeID,
		TaxTypeID: taxTypeID,
		Operation: rule.Operation(c.Query("operation")),
		IsActive:  isActive,
		Limit:     h.ParseIntQuery(c, "limit", 0),
		Offset:    h.ParseIntQuery(c, "offset", 0),
	}
	if filter.Operation != "" && !filter.Operation.Valid() {
		h.Error(c, apperror.NewValidation("operation must be venda, compra or prestacao_servico").
			WithDetail("field", "operation"))
		return
	}
	if raw := c.Query("valid_at"); raw != "" {
		at, err := dto.ParseDate(raw)
		if err != nil {
			h.Error(c, apperror.NewValidation(err.Error()).WithDetail("field", "valid_at"))
			return
		}
		filter.ValidAt = &at
	}

	result, err := h.rules.List(c.Request.Context(), orgID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromRules(result.Items, result.TotalCount, result.Limit, result.Offset))
}

// Get handles GET /orgs/:orgId/rules/:id.
func (h *RuleHandler) Get(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	ruleID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	r, err := h.rules.Get(c.Request.Context(), orgID, ruleID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, r.Snapshot())
}

// Create handles POST /orgs/:orgId/rules.
func (h *RuleHandler) Create(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.CreateRuleRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in := req.ToInput()
	if in.ValidFrom.IsZero() {
		in.ValidFrom = time.Now().UTC()
	}

	r, err := h.rules.Create(c.Request.Context(), orgID, in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, r.Snapshot())
}

// Update handles PATCH /orgs/:orgId/rules/:id.
func (h *RuleHandler) Update(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	ruleID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateRuleRequest
	if !h.BindJSON(c, &req) {
		return
	}

	r, err := h.rules.Update(c.Request.Context(), orgID, ruleID, req.ToPatch())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, r.Snapshot())
}

// Deactivate handles POST /orgs/:orgId/rules/:id/deactivate.
func (h *RuleHandler) Deactivate(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	ruleID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	r, err := h.rules.Deactivate(c.Request.Context(), orgID, ruleID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, r.Snapshot())
}

// Delete handles DELETE /orgs/:orgId/rules/:id.
// A rule referenced by postings is refused with CONFLICT.
func (h *RuleHandler) Delete(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	ruleID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	if err := h.rules.Delete(c.Request.Context(), orgID, ruleID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}
