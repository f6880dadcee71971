// Package handlers provides HTTP request handlers.
package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/catalog"
)

// CatalogHandler provides generic HTTP handlers for catalog entities.
type CatalogHandler[T entity.CatalogEntry, CreateDTO any] struct {
	*BaseHandler
	service      *catalog.Service[T]
	mapCreateDTO func(dto CreateDTO) T
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler[T entity.CatalogEntry, CreateDTO any](
	base *BaseHandler,
	service *catalog.Service[T],
	mapCreateDTO func(dto CreateDTO) T,
) *CatalogHandler[T, CreateDTO] {
	return &CatalogHandler[T, CreateDTO]{
		BaseHandler:  base,
		service:      service,
		mapCreateDTO: mapCreateDTO,
	}
}

// List handles GET /catalog/{entity}.
func (h *CatalogHandler[T, CreateDTO]) List(c *gin.Context) {
	filter := domain.DefaultListFilter()
	filter.Search = c.Query("search")
	filter.Limit = h.ParseIntQuery(c, "limit", 0)
	filter.Offset = h.ParseIntQuery(c, "offset", 0)
	filter.OrderBy = c.DefaultQuery("orderBy", "code")

	if raw := c.Query("ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			entryID, err := id.Parse(strings.TrimSpace(part))
			if err != nil {
				h.Error(c, invalidID("ids"))
				return
			}
			filter.IDs = append(filter.IDs, entryID)
		}
	}

	result, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// Get handles GET /catalog/{entity}/:id.
func (h *CatalogHandler[T, CreateDTO]) Get(c *gin.Context) {
	entryID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	item, err := h.service.GetByID(c.Request.Context(), entryID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, item)
}

// Create handles POST /catalog/{entity}.
func (h *CatalogHandler[T, CreateDTO]) Create(c *gin.Context) {
	var req CreateDTO
	if !h.BindJSON(c, &req) {
		return
	}

	item := h.mapCreateDTO(req)
	if err := h.service.Create(c.Request.Context(), item); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, item)
}
