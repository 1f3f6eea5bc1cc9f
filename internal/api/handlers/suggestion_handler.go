package handlers

import (
	"errors"

	"ledgermatch/internal/dto"
	"ledgermatch/internal/models"
	"ledgermatch/internal/repository"
	"ledgermatch/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SuggestionHandler struct {
	matcher *service.MatchingService
	logger  *zap.Logger
}

func NewSuggestionHandler(matcher *service.MatchingService, logger *zap.Logger) *SuggestionHandler {
	return &SuggestionHandler{
		matcher: matcher,
		logger:  logger,
	}
}

// RecordFeedback godoc
// @Summary Record review feedback on a suggestion
// @Description Confirm, decline or unmatch a match suggestion; feeds the calibration loop
// @Tags suggestions
// @Accept json
// @Produce json
// @Param inboxId path string true "Inbox item ID"
// @Param transactionId path string true "Transaction ID"
// @Param request body dto.FeedbackRequest true "Feedback request"
// @Success 204
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /api/v1/suggestions/{inboxId}/{transactionId}/feedback [post]
func (h *SuggestionHandler) RecordFeedback(c *fiber.Ctx) error {
	tenantID := tenantFromLocals(c)
	if tenantID == uuid.Nil {
		return invalidTenantScope(c)
	}

	inboxItemID, err := uuid.Parse(c.Params("inboxId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid inbox item ID",
		})
	}
	transactionID, err := uuid.Parse(c.Params("transactionId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid transaction ID",
		})
	}

	var req dto.FeedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	status := models.SuggestionStatus(req.Status)
	switch status {
	case models.SuggestionStatusConfirmed, models.SuggestionStatusDeclined, models.SuggestionStatusUnmatched:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Status must be confirmed, declined or unmatched",
		})
	}

	if err := h.matcher.RecordFeedback(c.Context(), tenantID, inboxItemID, transactionID, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Suggestion not found",
			})
		}
		h.logger.Error("Failed to record feedback",
			zap.String("inbox_item_id", inboxItemID.String()),
			zap.String("transaction_id", transactionID.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record feedback",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
