package handlers

import (
	"ledgermatch/internal/dto"
	"ledgermatch/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MatchHandler struct {
	matcher *service.MatchingService
	batches *service.BatchCoordinator
	logger  *zap.Logger
}

func NewMatchHandler(matcher *service.MatchingService, batches *service.BatchCoordinator, logger *zap.Logger) *MatchHandler {
	return &MatchHandler{
		matcher: matcher,
		batches: batches,
		logger:  logger,
	}
}

// MatchInboxItem godoc
// @Summary Match one inbox item
// @Description Run tiered matching for one inbox item against the tenant's ledger transactions
// @Tags matching
// @Produce json
// @Param id path string true "Inbox item ID"
// @Success 200 {object} dto.MatchResultResponse
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /api/v1/matching/inbox/{id} [post]
func (h *MatchHandler) MatchInboxItem(c *fiber.Ctx) error {
	tenantID := tenantFromLocals(c)
	if tenantID == uuid.Nil {
		return invalidTenantScope(c)
	}

	inboxItemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid inbox item ID",
		})
	}

	result, err := h.matcher.ProcessInboxMatching(c.Context(), tenantID, inboxItemID)
	if err != nil {
		h.logger.Error("Inbox matching failed",
			zap.String("inbox_item_id", inboxItemID.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Matching failed",
		})
	}

	return c.JSON(toMatchResultResponse(result))
}

// MatchTransaction godoc
// @Summary Match one transaction
// @Description Find the best pending inbox item for a ledger transaction
// @Tags matching
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} dto.MatchResultResponse
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /api/v1/matching/transaction/{id} [post]
func (h *MatchHandler) MatchTransaction(c *fiber.Ctx) error {
	tenantID := tenantFromLocals(c)
	if tenantID == uuid.Nil {
		return invalidTenantScope(c)
	}

	transactionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid transaction ID",
		})
	}

	result, err := h.matcher.ProcessTransactionMatching(c.Context(), tenantID, transactionID)
	if err != nil {
		h.logger.Error("Transaction matching failed",
			zap.String("transaction_id", transactionID.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Matching failed",
		})
	}

	return c.JSON(toMatchResultResponse(result))
}

// BatchMatch godoc
// @Summary Match a batch of inbox items
// @Description Run matching for a list of inbox items on a bounded worker pool
// @Tags matching
// @Accept json
// @Produce json
// @Param request body dto.BatchMatchRequest true "Batch match request"
// @Success 200 {object} dto.BatchStatsResponse
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /api/v1/matching/batch [post]
func (h *MatchHandler) BatchMatch(c *fiber.Ctx) error {
	tenantID := tenantFromLocals(c)
	if tenantID == uuid.Nil {
		return invalidTenantScope(c)
	}

	var req dto.BatchMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ids, err := parseIDs(req.InboxItemIDs)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid inbox item ID in list",
		})
	}

	stats, err := h.batches.HandleBatchInboxMatching(c.Context(), tenantID, ids)
	if err != nil {
		h.logger.Error("Batch matching failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Batch matching failed",
		})
	}

	return c.JSON(toBatchStatsResponse(stats))
}

// SmartMatch godoc
// @Summary Match whatever is pending
// @Description Dispatch on the request: explicit inbox items, new transactions, or every pending inbox item
// @Tags matching
// @Accept json
// @Produce json
// @Param request body dto.SmartMatchRequest true "Smart match request"
// @Success 200 {object} dto.BatchStatsResponse
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /api/v1/matching/smart [post]
func (h *MatchHandler) SmartMatch(c *fiber.Ctx) error {
	tenantID := tenantFromLocals(c)
	if tenantID == uuid.Nil {
		return invalidTenantScope(c)
	}

	var req dto.SmartMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	inboxIDs, err := parseIDs(req.InboxItemIDs)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid inbox item ID in list",
		})
	}
	txIDs, err := parseIDs(req.TransactionIDs)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid transaction ID in list",
		})
	}

	stats, err := h.batches.SmartMatching(c.Context(), tenantID, inboxIDs, txIDs)
	if err != nil {
		h.logger.Error("Smart matching failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Smart matching failed",
		})
	}

	return c.JSON(toBatchStatsResponse(stats))
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func toMatchResultResponse(result *service.ProcessResult) dto.MatchResultResponse {
	resp := dto.MatchResultResponse{Outcome: string(result.Outcome)}
	if result.Suggestion != nil {
		s := result.Suggestion
		resp.Suggestion = &dto.MatchSuggestionResponse{
			InboxItemID:     s.InboxItemID.String(),
			TransactionID:   s.TransactionID.String(),
			EmbeddingScore:  s.EmbeddingScore,
			AmountScore:     s.AmountScore,
			CurrencyScore:   s.CurrencyScore,
			DateScore:       s.DateScore,
			ConfidenceScore: s.ConfidenceScore,
			MatchType:       string(s.MatchType),
			MatchDetails:    s.MatchDetails,
			Status:          string(s.Status),
		}
	}
	return resp
}

func toBatchStatsResponse(stats service.MatchRunStats) dto.BatchStatsResponse {
	return dto.BatchStatsResponse{
		Processed:   stats.Processed,
		AutoMatched: stats.AutoMatched,
		Suggestions: stats.Suggestions,
		NoMatches:   stats.NoMatches,
		Skipped:     stats.Skipped,
		Errors:      stats.Errors,
	}
}

// tenantFromLocals reads the tenant scope the auth middleware stored.
// A zero ID means the scope is missing or malformed; handlers answer 401.
func tenantFromLocals(c *fiber.Ctx) uuid.UUID {
	raw, _ := c.Locals("tenantID").(string)
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return tenantID
}

func invalidTenantScope(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Invalid tenant scope",
	})
}
