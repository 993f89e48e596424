package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

// ReportService is the part of the stats service the API uses.
type ReportService interface {
	Performance(ctx context.Context, providerID uuid.UUID, days int) (*entities.PerformanceReport, error)
	EquityCurve(ctx context.Context, providerID uuid.UUID, days int) (*entities.EquityCurve, error)
	Leaderboard(ctx context.Context, days, limit int) (*entities.Leaderboard, error)
	AllTimeLeaderboard(ctx context.Context, limit int) (*entities.Leaderboard, error)
}

type ReportHandlers struct {
	reports ReportService
}

func NewReportHandlers(reports ReportService) *ReportHandlers {
	return &ReportHandlers{reports: reports}
}

// providerWindow reads the provider_id and days query parameters.
func providerWindow(c *gin.Context) (uuid.UUID, int, error) {
	providerID, err := queryUUID(c, "provider_id")
	if err != nil {
		return uuid.Nil, 0, err
	}
	if providerID == nil {
		return uuid.Nil, 0, domainerrors.ValidationError("provider_id", "is required")
	}
	days, err := queryInt(c, "days", 0)
	if err != nil {
		return uuid.Nil, 0, err
	}
	return *providerID, days, nil
}

// Performance handles GET /reports/performance
// @Summary Provider performance over a trailing window
// @Tags reports
// @Produce json
// @Param provider_id query string true "Provider ID"
// @Param days query int false "Window in days (1-365)" default(30)
// @Success 200 {object} entities.PerformanceReport
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Router /api/v1/reports/performance [get]
func (h *ReportHandlers) Performance(c *gin.Context) {
	providerID, days, err := providerWindow(c)
	if err != nil {
		handleError(c, err)
		return
	}
	report, err := h.reports.Performance(c.Request.Context(), providerID, days)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// EquityCurve handles GET /reports/equity-curve
// @Summary Cumulative R and drawdown per closed signal
// @Tags reports
// @Produce json
// @Param provider_id query string true "Provider ID"
// @Param days query int false "Window in days (1-365)" default(30)
// @Success 200 {object} entities.EquityCurve
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Router /api/v1/reports/equity-curve [get]
func (h *ReportHandlers) EquityCurve(c *gin.Context) {
	providerID, days, err := providerWindow(c)
	if err != nil {
		handleError(c, err)
		return
	}
	curve, err := h.reports.EquityCurve(c.Request.Context(), providerID, days)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, curve)
}

// Leaderboard handles GET /reports/leaderboard
// @Summary Providers ranked over a trailing window
// @Tags reports
// @Produce json
// @Param days query int false "Window in days (1-365)" default(30)
// @Param limit query int false "Entries (1-100)" default(20)
// @Success 200 {object} entities.Leaderboard
// @Failure 400 {object} entities.ErrorResponse
// @Router /api/v1/reports/leaderboard [get]
func (h *ReportHandlers) Leaderboard(c *gin.Context) {
	days, err := queryInt(c, "days", 0)
	if err != nil {
		handleError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		handleError(c, err)
		return
	}
	board, err := h.reports.Leaderboard(c.Request.Context(), days, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

// AllTimeLeaderboard handles GET /reports/leaderboard/all-time
// @Summary Providers ranked by their stored all-time rollups
// @Tags reports
// @Produce json
// @Param limit query int false "Entries (1-100)" default(20)
// @Success 200 {object} entities.Leaderboard
// @Router /api/v1/reports/leaderboard/all-time [get]
func (h *ReportHandlers) AllTimeLeaderboard(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		handleError(c, err)
		return
	}
	board, err := h.reports.AllTimeLeaderboard(c.Request.Context(), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}
