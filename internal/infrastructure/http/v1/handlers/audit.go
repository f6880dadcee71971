package handlers

import (
	"github.com/gin-gonic/gin"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/infrastructure/http/v1/dto"
)

// AuditHandler serves the audit trail of an organization.
type AuditHandler struct {
	*BaseHandler
	audit *audit.Service
}

// NewAuditHandler creates an audit handler.
func NewAuditHandler(base *BaseHandler, svc *audit.Service) *AuditHandler {
	return &AuditHandler{BaseHandler: base, audit: svc}
}

// Query handles GET /orgs/:orgId/audit.
func (h *AuditHandler) Query(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	recordID, ok := h.QueryID(c, "record_id")
	if !ok {
		return
	}

	filter := audit.Filter{
		OrgID:     &orgID,
		TableName: c.Query("table_name"),
		RecordID:  recordID,
		Operation: audit.Operation(c.Query("operation")),
		UserID:    c.Query("user_id"),
		Limit:     h.ParseIntQuery(c, "limit", 0),
		Offset:    h.ParseIntQuery(c, "offset", 0),
	}
	if raw := c.Query("from"); raw != "" {
		from, err := dto.ParseDate(raw)
		if err != nil {
			h.Error(c, apperror.NewValidation(err.Error()).WithDetail("field", "from"))
			return
		}
		filter.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := dto.ParseDate(raw)
		if err != nil {
			h.Error(c, apperror.NewValidation(err.Error()).WithDetail("field", "to"))
			return
		}
		filter.To = &to
	}

	result, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}
