package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// HistoricalService backtests open signals against past bars.
type HistoricalService interface {
	Resolve(ctx context.Context, req *entities.HistoricalResolveRequest) (*entities.HistoricalReport, error)
}

type HistoricalHandlers struct {
	resolver HistoricalService
}

func NewHistoricalHandlers(resolver HistoricalService) *HistoricalHandlers {
	return &HistoricalHandlers{resolver: resolver}
}

// Resolve handles POST /admin/signals/resolve-historical
// @Summary Backtest open signals against hourly bars
// @Description Folds past bars through the signal lifecycle and persists the resulting transitions. An empty body selects every open signal.
// @Tags admin
// @Accept json
// @Produce json
// @Param request body entities.HistoricalResolveRequest false "Selection"
// @Success 200 {object} entities.HistoricalReport
// @Failure 400 {object} entities.ErrorResponse
// @Failure 401 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/admin/signals/resolve-historical [post]
func (h *HistoricalHandlers) Resolve(c *gin.Context) {
	var req entities.HistoricalResolveRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, MsgInvalidRequest)
		return
	}
	report, err := h.resolver.Resolve(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	requestLogger(c).Info("Historical resolution requested",
		"total", report.Total, "resolved", report.Resolved, "failed", report.Failed)
	c.JSON(http.StatusOK, report)
}
