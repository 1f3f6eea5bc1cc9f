package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	patternMinConfirmed   = 3
	patternMaxDistance    = 0.15
	patternMinEmbedding   = 0.8
	patternMinAmountScore = 0.9
)

// PatternEligibility is the outcome of the recurring-merchant check.
type PatternEligibility struct {
	CanAutoMatch bool
	Reason       string
}

// MerchantPatternChecker decides whether a high-confidence match may be
// upgraded to an auto-match because the tenant has repeatedly confirmed
// matches against near-identical payments.
type MerchantPatternChecker struct {
	history patternHistory
	logger  *zap.Logger
}

func NewMerchantPatternChecker(history patternHistory, logger *zap.Logger) *MerchantPatternChecker {
	return &MerchantPatternChecker{
		history: history,
		logger:  logger,
	}
}

func (c *MerchantPatternChecker) CheckMerchantPatternEligibility(ctx context.Context, tenantID uuid.UUID, inboxEmbedding, paymentEmbedding []float32, summary ScoreSummary) (PatternEligibility, error) {
	if len(paymentEmbedding) == 0 {
		return PatternEligibility{Reason: "payment has no embedding"}, nil
	}
	if summary.EmbeddingScore <= patternMinEmbedding || summary.AmountScore <= patternMinAmountScore {
		return PatternEligibility{Reason: "scores below pattern thresholds"}, nil
	}

	confirmed, err := c.history.CountConfirmedNearEmbedding(ctx, tenantID, paymentEmbedding, patternMaxDistance)
	if err != nil {
		return PatternEligibility{}, fmt.Errorf("failed to query merchant history: %w", err)
	}

	if confirmed < patternMinConfirmed {
		return PatternEligibility{
			Reason: fmt.Sprintf("only %d confirmed matches for this merchant", confirmed),
		}, nil
	}

	c.logger.Debug("Merchant pattern eligible for auto-match",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("confirmed", confirmed),
	)

	return PatternEligibility{
		CanAutoMatch: true,
		Reason:       fmt.Sprintf("recurring merchant with %d confirmed matches", confirmed),
	}, nil
}
