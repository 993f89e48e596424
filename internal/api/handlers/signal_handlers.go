package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/api/middleware"
	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	signalsvc "github.com/signal-bridge/signal_service/internal/domain/services/signal"
)

// SignalService is the part of the signal service the API uses.
type SignalService interface {
	Submit(ctx context.Context, sub *entities.SignalSubmission) (*entities.SubmissionResult, error)
	Close(ctx context.Context, id uuid.UUID, providerID *uuid.UUID) (*entities.Signal, error)
	Detail(ctx context.Context, id uuid.UUID) (*entities.SignalDetail, error)
	List(ctx context.Context, filter entities.SignalFilter) (*signalsvc.SignalPage, error)
	Replay(ctx context.Context, id uuid.UUID) (*signalsvc.ReplayReport, error)
}

// SignalHandlers serves signal ingestion and queries.
type SignalHandlers struct {
	signals SignalService
	auth    middleware.ProviderAuthenticator
}

func NewSignalHandlers(signals SignalService, auth middleware.ProviderAuthenticator) *SignalHandlers {
	return &SignalHandlers{signals: signals, auth: auth}
}

// Submit handles POST /signals
// @Summary Submit a signal
// @Description Normalizes, validates and stores a signal. Economically invalid signals are stored as INVALID and returned with 422.
// @Tags signals
// @Accept json
// @Produce json
// @Param request body entities.SignalSubmission true "Signal"
// @Success 201 {object} entities.SubmissionResult
// @Success 200 {object} entities.SubmissionResult "Duplicate external_id"
// @Failure 400 {object} entities.ErrorResponse
// @Failure 401 {object} entities.ErrorResponse
// @Failure 422 {object} entities.SubmissionResult
// @Security ApiKeyAuth
// @Router /api/v1/signals [post]
func (h *SignalHandlers) Submit(c *gin.Context) {
	providerID, ok := authenticatedProvider(c)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		respondBadRequest(c, MsgInvalidRequest)
		return
	}
	var sub entities.SignalSubmission
	if err := json.Unmarshal(body, &sub); err != nil {
		respondBadRequest(c, MsgInvalidRequest)
		return
	}
	if err := validateStruct(&sub); err != nil {
		handleError(c, err)
		return
	}
	sub.ProviderID = providerID
	sub.Source = entities.SignalSourceAPI
	sub.Raw = json.RawMessage(body)

	h.submit(c, &sub)
}

// TradingView handles POST /webhook/tradingview
// @Summary Ingest a TradingView alert
// @Description Accepts flexible field names. The provider is authenticated by X-API-Key or a provider_key body field.
// @Tags signals
// @Accept json
// @Produce json
// @Success 201 {object} entities.SubmissionResult
// @Failure 400 {object} entities.ErrorResponse
// @Failure 401 {object} entities.ErrorResponse
// @Failure 422 {object} entities.SubmissionResult
// @Router /api/v1/webhook/tradingview [post]
func (h *SignalHandlers) TradingView(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondBadRequest(c, MsgInvalidRequest)
		return
	}
	alert, err := signalsvc.ParseTradingView(body)
	if err != nil {
		handleError(c, err)
		return
	}

	key := strings.TrimSpace(c.GetHeader(middleware.APIKeyHeader))
	if key == "" {
		key = alert.ProviderKey
	}
	if key == "" {
		respondError(c, http.StatusUnauthorized, domainerrors.CodeUnauthorized, "API key required", nil)
		return
	}
	provider, err := h.auth.Authenticate(c.Request.Context(), key)
	if err != nil {
		respondError(c, http.StatusUnauthorized, domainerrors.CodeUnauthorized, "Invalid API key", nil)
		return
	}
	middleware.SetProvider(c, provider)
	alert.Submission.ProviderID = provider.ID

	h.submit(c, alert.Submission)
}

func (h *SignalHandlers) submit(c *gin.Context, sub *entities.SignalSubmission) {
	result, err := h.signals.Submit(c.Request.Context(), sub)
	if err != nil {
		handleError(c, err)
		return
	}
	switch {
	case result.Duplicate:
		c.JSON(http.StatusOK, result)
	case !result.Accepted:
		c.JSON(http.StatusUnprocessableEntity, result)
	default:
		c.JSON(http.StatusCreated, result)
	}
}

// List handles GET /signals
// @Summary List signals
// @Tags signals
// @Produce json
// @Param provider_id query string false "Provider ID"
// @Param symbol query string false "Symbol"
// @Param status query string false "Status"
// @Param limit query int false "Page size (1-500)" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} signal.SignalPage
// @Failure 400 {object} entities.ErrorResponse
// @Router /api/v1/signals [get]
func (h *SignalHandlers) List(c *gin.Context) {
	filter, err := signalFilter(c)
	if err != nil {
		handleError(c, err)
		return
	}
	page, err := h.signals.List(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func signalFilter(c *gin.Context) (entities.SignalFilter, error) {
	var f entities.SignalFilter
	var err error
	if f.ProviderID, err = queryUUID(c, "provider_id"); err != nil {
		return f, err
	}
	f.Symbol = c.Query("symbol")
	if raw := c.Query("status"); raw != "" {
		st := entities.SignalStatus(strings.ToUpper(raw))
		f.Status = &st
	}
	if f.Limit, err = queryInt(c, "limit", 50); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(c, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

// Get handles GET /signals/:id
// @Summary Get a signal with its event timeline
// @Tags signals
// @Produce json
// @Param id path string true "Signal ID"
// @Success 200 {object} entities.SignalDetail
// @Failure 404 {object} entities.ErrorResponse
// @Router /api/v1/signals/{id} [get]
func (h *SignalHandlers) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	detail, err := h.signals.Detail(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Replay handles GET /signals/:id/replay
// @Summary Check a signal projection against its event log
// @Tags signals
// @Produce json
// @Param id path string true "Signal ID"
// @Success 200 {object} signal.ReplayReport
// @Failure 404 {object} entities.ErrorResponse
// @Router /api/v1/signals/{id}/replay [get]
func (h *SignalHandlers) Replay(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	report, err := h.signals.Replay(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Close handles DELETE /signals/:id
// @Summary Close a signal manually
// @Description Closes at the last observed price. Providers may close only their own signals.
// @Tags signals
// @Produce json
// @Param id path string true "Signal ID"
// @Success 200 {object} entities.Signal
// @Failure 403 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/signals/{id} [delete]
func (h *SignalHandlers) Close(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var owner *uuid.UUID
	if !middleware.IsAdmin(c) {
		providerID, ok := authenticatedProvider(c)
		if !ok {
			return
		}
		owner = &providerID
	}
	sig, err := h.signals.Close(c.Request.Context(), id, owner)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}
