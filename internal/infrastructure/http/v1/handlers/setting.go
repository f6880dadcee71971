package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/domain/setting"
	"shopfiscal/internal/infrastructure/http/v1/dto"
)

// SettingHandler serves company fiscal settings.
type SettingHandler struct {
	*BaseHandler
	settings *setting.Service
}

// NewSettingHandler creates a settings handler.
func NewSettingHandler(base *BaseHandler, settings *setting.Service) *SettingHandler {
	return &SettingHandler{BaseHandler: base, settings: settings}
}

// List handles GET /orgs/:orgId/settings.
func (h *SettingHandler) List(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}

	items, err := h.settings.List(c.Request.Context(), orgID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{"items": items})
}

// Effective handles GET /orgs/:orgId/settings/effective?at=.
func (h *SettingHandler) Effective(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	at := time.Now().UTC()
	if raw := c.Query("at"); raw != "" {
		parsed, err := dto.ParseDate(raw)
		if err != nil {
			h.Error(c, apperror.NewValidation(err.Error()).WithDetail("field", "at"))
			return
		}
		at = parsed
	}

	item, err := h.settings.Effective(c.Request.Context(), orgID, at)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, item)
}

// Create handles POST /orgs/:orgId/settings.
func (h *SettingHandler) Create(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.CreateSettingRequest
	if !h.BindJSON(c, &req) {
		return
	}

	item, err := h.settings.Create(c.Request.Context(), orgID, req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, item)
}

// Update handles PATCH /orgs/:orgId/settings/:id.
func (h *SettingHandler) Update(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	settingID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateSettingRequest
	if !h.BindJSON(c, &req) {
		return
	}

	item, err := h.settings.Update(c.Request.Context(), orgID, settingID, req.ToPatch())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, item)
}
