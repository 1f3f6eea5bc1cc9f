package handlers

import (
	"time"

	"ledgermatch/internal/dto"
	"ledgermatch/internal/models"
	"ledgermatch/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CalibrationHandler struct {
	calibration *service.CalibrationService
	logger      *zap.Logger
}

func NewCalibrationHandler(calibration *service.CalibrationService, logger *zap.Logger) *CalibrationHandler {
	return &CalibrationHandler{
		calibration: calibration,
		logger:      logger,
	}
}

// GetCalibration godoc
// @Summary Get tenant calibration
// @Description Return the tenant's current decision thresholds; defaults if never calibrated
// @Tags calibration
// @Produce json
// @Success 200 {object} dto.CalibrationResponse
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /api/v1/calibration [get]
func (h *CalibrationHandler) GetCalibration(c *fiber.Ctx) error {
	tenantID := tenantFromLocals(c)
	if tenantID == uuid.Nil {
		return invalidTenantScope(c)
	}

	cal, err := h.calibration.GetCalibration(c.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to load calibration", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load calibration",
		})
	}

	return c.JSON(toCalibrationResponse(cal))
}

// RefreshCalibration godoc
// @Summary Recalibrate thresholds
// @Description Recompute the tenant's thresholds from the recent feedback window
// @Tags calibration
// @Produce json
// @Success 200 {object} dto.CalibrationResponse
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /api/v1/calibration/refresh [post]
func (h *CalibrationHandler) RefreshCalibration(c *fiber.Ctx) error {
	tenantID := tenantFromLocals(c)
	if tenantID == uuid.Nil {
		return invalidTenantScope(c)
	}

	cal, err := h.calibration.UpdateCalibration(c.Context(), tenantID)
	if err != nil {
		h.logger.Error("Calibration refresh failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Calibration refresh failed",
		})
	}

	return c.JSON(toCalibrationResponse(cal))
}

// ResetCalibration godoc
// @Summary Reset tenant calibration
// @Description Drop the tenant's calibrated thresholds and fall back to defaults
// @Tags calibration
// @Success 204
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /api/v1/calibration [delete]
func (h *CalibrationHandler) ResetCalibration(c *fiber.Ctx) error {
	tenantID := tenantFromLocals(c)
	if tenantID == uuid.Nil {
		return invalidTenantScope(c)
	}

	if err := h.calibration.ResetCalibration(c.Context(), tenantID); err != nil {
		h.logger.Error("Calibration reset failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Calibration reset failed",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func toCalibrationResponse(cal *models.TenantCalibration) dto.CalibrationResponse {
	resp := dto.CalibrationResponse{
		TenantID:                cal.TenantID.String(),
		SuggestedThreshold:      cal.SuggestedThreshold,
		HighConfidenceThreshold: cal.HighConfidenceThreshold,
		AutoMatchThreshold:      cal.AutoMatchThreshold,
		TotalFeedback:           cal.TotalFeedback,
		ConfirmedCount:          cal.ConfirmedCount,
		DeclinedCount:           cal.DeclinedCount,
		UnmatchedCount:          cal.UnmatchedCount,
		Accuracy:                cal.Accuracy,
		AvgConfirmedConfidence:  cal.AvgConfirmedConfidence,
		AvgDeclinedConfidence:   cal.AvgDeclinedConfidence,
	}
	if cal.LastCalibratedAt != nil {
		resp.LastCalibratedAt = cal.LastCalibratedAt.Format(time.RFC3339)
	}
	return resp
}
