package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

// WebhookService is the part of the webhook service the API uses. Every
// call is scoped to the owning provider.
type WebhookService interface {
	Create(ctx context.Context, providerID uuid.UUID, req *entities.CreateWebhookRequest) (*entities.WebhookConfig, error)
	Get(ctx context.Context, providerID, id uuid.UUID) (*entities.WebhookConfig, error)
	List(ctx context.Context, providerID uuid.UUID) ([]*entities.WebhookConfig, error)
	Update(ctx context.Context, providerID, id uuid.UUID, req *entities.UpdateWebhookRequest) (*entities.WebhookConfig, error)
	Delete(ctx context.Context, providerID, id uuid.UUID) error
	Reset(ctx context.Context, providerID, id uuid.UUID) (*entities.WebhookConfig, error)
	Test(ctx context.Context, providerID, id uuid.UUID) (*entities.TestDeliveryResult, error)
	Deliveries(ctx context.Context, providerID, id uuid.UUID, limit, offset int) ([]*entities.NotificationLog, error)
}

type WebhookHandlers struct {
	webhooks WebhookService
}

func NewWebhookHandlers(webhooks WebhookService) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// scope resolves the caller and, when withID is set, the :id path param.
func scope(c *gin.Context, withID bool) (providerID, id uuid.UUID, ok bool) {
	if providerID, ok = authenticatedProvider(c); !ok {
		return
	}
	if withID {
		id, ok = pathUUID(c, "id")
	}
	return
}

// List handles GET /webhooks
// @Summary List webhook configs
// @Tags webhooks
// @Produce json
// @Success 200 {array} entities.WebhookConfig
// @Security ApiKeyAuth
// @Router /api/v1/webhooks [get]
func (h *WebhookHandlers) List(c *gin.Context) {
	providerID, _, ok := scope(c, false)
	if !ok {
		return
	}
	configs, err := h.webhooks.List(c.Request.Context(), providerID)
	if err != nil {
		handleError(c, err)
		return
	}
	if configs == nil {
		configs = []*entities.WebhookConfig{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": configs, "count": len(configs)})
}

// Create handles POST /webhooks
// @Summary Create a webhook config
// @Tags webhooks
// @Accept json
// @Produce json
// @Param request body entities.CreateWebhookRequest true "Webhook"
// @Success 201 {object} entities.WebhookConfig
// @Failure 400 {object} entities.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/webhooks [post]
func (h *WebhookHandlers) Create(c *gin.Context) {
	providerID, _, ok := scope(c, false)
	if !ok {
		return
	}
	var req entities.CreateWebhookRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respondBadRequest(c, MsgInvalidRequest)
		return
	}
	if err := validateStruct(&req); err != nil {
		handleError(c, err)
		return
	}
	cfg, err := h.webhooks.Create(c.Request.Context(), providerID, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// Get handles GET /webhooks/:id
// @Summary Get a webhook config
// @Tags webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} entities.WebhookConfig
// @Failure 404 {object} entities.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/webhooks/{id} [get]
func (h *WebhookHandlers) Get(c *gin.Context) {
	providerID, id, ok := scope(c, true)
	if !ok {
		return
	}
	cfg, err := h.webhooks.Get(c.Request.Context(), providerID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// Update handles PUT /webhooks/:id
// @Summary Update a webhook config
// @Tags webhooks
// @Accept json
// @Produce json
// @Param id path string true "Webhook ID"
// @Param request body entities.UpdateWebhookRequest true "Changes"
// @Success 200 {object} entities.WebhookConfig
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/webhooks/{id} [put]
func (h *WebhookHandlers) Update(c *gin.Context) {
	providerID, id, ok := scope(c, true)
	if !ok {
		return
	}
	var req entities.UpdateWebhookRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respondBadRequest(c, MsgInvalidRequest)
		return
	}
	if err := validateStruct(&req); err != nil {
		handleError(c, err)
		return
	}
	cfg, err := h.webhooks.Update(c.Request.Context(), providerID, id, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// Delete handles DELETE /webhooks/:id
// @Summary Delete a webhook config
// @Tags webhooks
// @Param id path string true "Webhook ID"
// @Success 204
// @Failure 404 {object} entities.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/webhooks/{id} [delete]
func (h *WebhookHandlers) Delete(c *gin.Context) {
	providerID, id, ok := scope(c, true)
	if !ok {
		return
	}
	if err := h.webhooks.Delete(c.Request.Context(), providerID, id); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reset handles POST /webhooks/:id/reset
// @Summary Close a tripped circuit and reactivate the webhook
// @Tags webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} entities.WebhookConfig
// @Failure 404 {object} entities.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/webhooks/{id}/reset [post]
func (h *WebhookHandlers) Reset(c *gin.Context) {
	providerID, id, ok := scope(c, true)
	if !ok {
		return
	}
	cfg, err := h.webhooks.Reset(c.Request.Context(), providerID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// Test handles POST /webhooks/:id/test
// @Summary Send a test delivery
// @Description Test deliveries are not logged and do not affect the circuit.
// @Tags webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} entities.TestDeliveryResult
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/webhooks/{id}/test [post]
func (h *WebhookHandlers) Test(c *gin.Context) {
	providerID, id, ok := scope(c, true)
	if !ok {
		return
	}
	result, err := h.webhooks.Test(c.Request.Context(), providerID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Deliveries handles GET /webhooks/:id/deliveries
// @Summary List delivery attempts, newest first
// @Tags webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Param limit query int false "Page size (1-200)" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} entities.NotificationLog
// @Failure 404 {object} entities.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/v1/webhooks/{id}/deliveries [get]
func (h *WebhookHandlers) Deliveries(c *gin.Context) {
	providerID, id, ok := scope(c, true)
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		handleError(c, err)
		return
	}
	if limit < 1 || limit > 200 {
		handleError(c, domainerrors.ValidationError("limit", "must be between 1 and 200"))
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		handleError(c, domainerrors.ValidationError("offset", "must be a non-negative integer"))
		return
	}
	logs, err := h.webhooks.Deliveries(c.Request.Context(), providerID, id, limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	if logs == nil {
		logs = []*entities.NotificationLog{}
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": logs, "count": len(logs)})
}
