package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// ProviderService is the part of the provider service the API uses.
type ProviderService interface {
	Register(ctx context.Context, req *entities.RegisterProviderRequest) (*entities.RegisteredProvider, error)
	Get(ctx context.Context, id uuid.UUID) (*entities.Provider, error)
	List(ctx context.Context, activeOnly bool) ([]*entities.Provider, error)
	Update(ctx context.Context, id uuid.UUID, req *entities.UpdateProviderRequest) (*entities.Provider, error)
}

type ProviderHandlers struct {
	providers ProviderService
}

func NewProviderHandlers(providers ProviderService) *ProviderHandlers {
	return &ProviderHandlers{providers: providers}
}

// List handles GET /providers
// @Summary List providers
// @Tags providers
// @Produce json
// @Param active query bool false "Only active providers" default(true)
// @Success 200 {array} entities.Provider
// @Router /api/v1/providers [get]
func (h *ProviderHandlers) List(c *gin.Context) {
	activeOnly := c.DefaultQuery("active", "true") != "false"
	providers, err := h.providers.List(c.Request.Context(), activeOnly)
	if err != nil {
		handleError(c, err)
		return
	}
	if providers == nil {
		providers = []*entities.Provider{}
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers, "count": len(providers)})
}

// Get handles GET /providers/:id
// @Summary Get a provider
// @Tags providers
// @Produce json
// @Param id path string true "Provider ID"
// @Success 200 {object} entities.Provider
// @Failure 404 {object} entities.ErrorResponse
// @Router /api/v1/providers/{id} [get]
func (h *ProviderHandlers) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	p, err := h.providers.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Register handles POST /admin/providers
// @Summary Register a provider
// @Description Returns the API key and webhook secret. Neither is retrievable later.
// @Tags admin
// @Accept json
// @Produce json
// @Param request body entities.RegisterProviderRequest true "Provider"
// @Success 201 {object} entities.RegisteredProvider
// @Failure 400 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/admin/providers [post]
func (h *ProviderHandlers) Register(c *gin.Context) {
	var req entities.RegisterProviderRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respondBadRequest(c, MsgInvalidRequest)
		return
	}
	if err := validateStruct(&req); err != nil {
		handleError(c, err)
		return
	}
	reg, err := h.providers.Register(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	requestLogger(c).Info("Provider registered by admin", "provider_id", reg.Provider.ID)
	c.JSON(http.StatusCreated, reg)
}

// Update handles PATCH /admin/providers/:id
// @Summary Activate, deactivate or verify a provider
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Provider ID"
// @Param request body entities.UpdateProviderRequest true "Flags"
// @Success 200 {object} entities.Provider
// @Failure 404 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/admin/providers/{id} [patch]
func (h *ProviderHandlers) Update(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req entities.UpdateProviderRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respondBadRequest(c, MsgInvalidRequest)
		return
	}
	p, err := h.providers.Update(c.Request.Context(), id, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
