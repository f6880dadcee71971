package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/infrastructure/http/v1/dto"
	"shopfiscal/internal/infrastructure/http/v1/middleware"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers err on the Gin context and aborts the request.
// The JSON response is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ParseIntQuery parses integer query parameter with default value.
func (h *BaseHandler) ParseIntQuery(c *gin.Context, key string, defaultVal int) int {
	val := c.Query(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

// OrgID returns the organization of an org-scoped route.
func (h *BaseHandler) OrgID(c *gin.Context) (id.ID, bool) {
	orgID, ok := middleware.GetOrgID(c)
	if !ok {
		h.Error(c, apperror.NewValidation("organization id is required").WithDetail("field", "orgId"))
		return orgID, false
	}
	return orgID, true
}

// ParamID parses a path parameter as an id.
func (h *BaseHandler) ParamID(c *gin.Context, name string) (id.ID, bool) {
	v, err := id.Parse(c.Param(name))
	if err != nil {
		h.Error(c, invalidID(name))
		return v, false
	}
	return v, true
}

// QueryID parses an optional id query parameter.
func (h *BaseHandler) QueryID(c *gin.Context, name string) (*id.ID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := id.Parse(raw)
	if err != nil {
		h.Error(c, invalidID(name))
		return nil, false
	}
	return &v, true
}

// QueryPeriod parses month and year query parameters. Both absent yields nil.
func (h *BaseHandler) QueryPeriod(c *gin.Context, required bool) (*period.Period, bool) {
	month, year := c.Query("month"), c.Query("year")
	if month == "" && year == "" && !required {
		return nil, true
	}
	m, errM := strconv.Atoi(month)
	y, errY := strconv.Atoi(year)
	if errM != nil || errY != nil {
		h.Error(c, apperror.NewValidation("month and year must be integers").WithDetail("field", "period"))
		return nil, false
	}
	p, err := period.New(y, m)
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()).WithDetail("field", "period"))
		return nil, false
	}
	return &p, true
}

// PathPeriod parses the :year and :month path parameters.
func (h *BaseHandler) PathPeriod(c *gin.Context) (period.Period, bool) {
	y, errY := strconv.Atoi(c.Param("year"))
	m, errM := strconv.Atoi(c.Param("month"))
	if errY != nil || errM != nil {
		h.Error(c, apperror.NewValidation("month and year must be integers").WithDetail("field", "period"))
		return period.Period{}, false
	}
	p, err := period.New(y, m)
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()).WithDetail("field", "period"))
		return p, false
	}
	return p, true
}

// QueryBool parses an optional boolean query parameter.
func (h *BaseHandler) QueryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid boolean").WithDetail("field", name))
		return nil, false
	}
	return &v, true
}

// Created sends 201 response with data.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// NoContent sends 204 response.
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Success sends success response.
func (h *BaseHandler) Success(c *gin.Context, message string) {
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: message})
}

func invalidID(field string) error {
	return apperror.NewValidation("invalid id format").WithDetail("field", field)
}
