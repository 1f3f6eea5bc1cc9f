package service

import (
	"context"
	"errors"
	"fmt"

	"ledgermatch/internal/models"
	"ledgermatch/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MatchOutcome is the result class of processing one item, matched or not.
// Expected "no match" outcomes are results, never errors.
type MatchOutcome string

const (
	OutcomeAutoMatched MatchOutcome = "auto_matched"
	OutcomeSuggested   MatchOutcome = "suggestion_created"
	OutcomeNoMatch     MatchOutcome = "no_match"
	// OutcomeSkipped marks items that cannot be matched at all: missing,
	// without embedding or without a date.
	OutcomeSkipped MatchOutcome = "skipped"
)

// MatchResult is the best match found for one inbox item.
type MatchResult struct {
	InboxItem  *models.InboxItem
	Payment    *models.Payment
	Suggestion *models.MatchSuggestion
	Summary    ScoreSummary
}

// ProcessResult reports what a persisted matching run did to an inbox item.
type ProcessResult struct {
	InboxItemID uuid.UUID
	Outcome     MatchOutcome
	Suggestion  *models.MatchSuggestion
}

type candidateRetriever interface {
	Retrieve(ctx context.Context, item *models.InboxItem) ([]*models.Payment, error)
}

type calibrationProvider interface {
	GetCalibration(ctx context.Context, tenantID uuid.UUID) (*models.TenantCalibration, error)
}

type patternChecker interface {
	CheckMerchantPatternEligibility(ctx context.Context, tenantID uuid.UUID, inboxEmbedding, paymentEmbedding []float32, summary ScoreSummary) (PatternEligibility, error)
}

// Reverse-direction retrieval window and cutoff. Expense-style: the document
// usually arrives after the payment happened.
const (
	reverseWindowBefore = 10
	reverseWindowAfter  = 93
	reverseMaxDistance  = 0.6
	reverseCandidateCap = 20
)

// MatchingService orchestrates retrieval, scoring, calibration and
// persistence for both matching directions, and drives the inbox item state
// machine.
type MatchingService struct {
	inbox       inboxStore
	payments    paymentStore
	suggestions suggestionStore
	retriever   candidateRetriever
	scoring     *ScoringEngine
	calibration calibrationProvider
	patterns    patternChecker
	embedder    Embedder
	explainer   MatchExplainer
	explainAuto bool
	logger      *zap.Logger
}

func NewMatchingService(
	inbox inboxStore,
	payments paymentStore,
	suggestions suggestionStore,
	retriever candidateRetriever,
	scoring *ScoringEngine,
	calibration calibrationProvider,
	patterns patternChecker,
	embedder Embedder,
	explainer MatchExplainer,
	explainAuto bool,
	logger *zap.Logger,
) *MatchingService {
	return &MatchingService{
		inbox:       inbox,
		payments:    payments,
		suggestions: suggestions,
		retriever:   retriever,
		scoring:     scoring,
		calibration: calibration,
		patterns:    patterns,
		embedder:    embedder,
		explainer:   explainer,
		explainAuto: explainAuto,
		logger:      logger,
	}
}

// FindMatchesTiered returns the single best payment match for an inbox item,
// or nil when the item is missing, unembedded, undated, or nothing clears the
// calibrated suggested threshold. Read-only; ProcessInboxMatching persists.
func (s *MatchingService) FindMatchesTiered(ctx context.Context, tenantID, inboxItemID uuid.UUID) (*MatchResult, error) {
	item, err := s.loadMatchableItem(ctx, tenantID, inboxItemID)
	if err != nil || item == nil {
		return nil, err
	}
	return s.findMatchForItem(ctx, item)
}

func (s *MatchingService) loadMatchableItem(ctx context.Context, tenantID, inboxItemID uuid.UUID) (*models.InboxItem, error) {
	item, err := s.inbox.GetByID(ctx, tenantID, inboxItemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Inbox item not found",
				zap.String("tenant_id", tenantID.String()),
				zap.String("inbox_item_id", inboxItemID.String()),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load inbox item: %w", err)
	}

	if len(item.Embedding) == 0 || item.Date == nil {
		s.logger.Warn("Inbox item not matchable",
			zap.String("inbox_item_id", item.ID.String()),
			zap.Bool("has_embedding", len(item.Embedding) > 0),
			zap.Bool("has_date", item.Date != nil),
		)
		return nil, nil
	}

	return item, nil
}

func (s *MatchingService) findMatchForItem(ctx context.Context, item *models.InboxItem) (*MatchResult, error) {
	cal, err := s.calibration.GetCalibration(ctx, item.TenantID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.retriever.Retrieve(ctx, item)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scored := s.scoring.ScoreCandidates(ctx, item, candidates, cal)

	winner, ok := s.pickUndismissed(ctx, item, scored)
	if !ok {
		return nil, nil
	}

	summary := winner.Summary
	if summary.MatchType == models.MatchTypeHighConfidence {
		summary = s.maybeUpgradeToAuto(ctx, item, winner.Payment, summary, cal)
	}

	suggestion := s.buildSuggestion(ctx, item, winner.Payment, summary)

	return &MatchResult{
		InboxItem:  item,
		Payment:    winner.Payment,
		Suggestion: suggestion,
		Summary:    summary,
	}, nil
}

// pickUndismissed returns the best-scoring candidate whose pair was never
// declined or unmatched by review. When the dismissal check itself fails the
// candidate is skipped: a dismissed pair must never resurface.
func (s *MatchingService) pickUndismissed(ctx context.Context, item *models.InboxItem, scored []ScoredCandidate) (ScoredCandidate, bool) {
	for _, sc := range scored {
		dismissed, err := s.suggestions.WasDismissed(ctx, item.TenantID, item.ID, sc.Payment.ID)
		if err != nil {
			s.logger.Error("Dismissal check failed, skipping candidate",
				zap.String("inbox_item_id", item.ID.String()),
				zap.String("transaction_id", sc.Payment.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if dismissed {
			continue
		}
		return sc, true
	}
	return ScoredCandidate{}, false
}

// maybeUpgradeToAuto promotes a high-confidence match to auto-matched when
// the merchant pattern check allows it and confidence clears the calibrated
// high-confidence threshold.
func (s *MatchingService) maybeUpgradeToAuto(ctx context.Context, item *models.InboxItem, payment *models.Payment, summary ScoreSummary, cal *models.TenantCalibration) ScoreSummary {
	if summary.Confidence < cal.HighConfidenceThreshold {
		return summary
	}

	eligibility, err := s.patterns.CheckMerchantPatternEligibility(ctx, item.TenantID, item.Embedding, payment.Embedding, summary)
	if err != nil {
		s.logger.Error("Merchant pattern check failed", zap.Error(err))
		return summary
	}
	if !eligibility.CanAutoMatch {
		return summary
	}

	s.logger.Info("Match upgraded to auto via merchant pattern",
		zap.String("inbox_item_id", item.ID.String()),
		zap.String("transaction_id", payment.ID.String()),
		zap.String("reason", eligibility.Reason),
	)
	summary.MatchType = models.MatchTypeAuto
	return summary
}

func (s *MatchingService) buildSuggestion(ctx context.Context, item *models.InboxItem, payment *models.Payment, summary ScoreSummary) *models.MatchSuggestion {
	details := fmt.Sprintf("tier %d: embedding %.3f, amount %.3f, currency %.3f, date %.3f",
		summary.Tier, summary.EmbeddingScore, summary.AmountScore, summary.CurrencyScore, summary.DateScore)

	if s.explainAuto && s.explainer != nil && summary.MatchType == models.MatchTypeAuto {
		rationale, err := s.explainer.ExplainMatch(ctx, PrepareInboxText(item), PrepareTransactionText(payment), summary)
		if err != nil {
			s.logger.Warn("Match rationale generation failed", zap.Error(err))
		} else if rationale != "" {
			details = rationale + " | " + details
		}
	}

	return &models.MatchSuggestion{
		TenantID:        item.TenantID,
		InboxItemID:     item.ID,
		TransactionID:   payment.ID,
		EmbeddingScore:  summary.EmbeddingScore,
		AmountScore:     summary.AmountScore,
		CurrencyScore:   summary.CurrencyScore,
		DateScore:       summary.DateScore,
		ConfidenceScore: summary.Confidence,
		MatchType:       summary.MatchType,
		MatchDetails:    details,
		Status:          models.SuggestionStatusPending,
	}
}

// ProcessInboxMatching runs the forward tiered match for one inbox item,
// persists the suggestion and transitions the item's status.
func (s *MatchingService) ProcessInboxMatching(ctx context.Context, tenantID, inboxItemID uuid.UUID) (*ProcessResult, error) {
	item, err := s.loadMatchableItem(ctx, tenantID, inboxItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &ProcessResult{InboxItemID: inboxItemID, Outcome: OutcomeSkipped}, nil
	}

	if err := s.inbox.UpdateStatus(ctx, item.TenantID, item.ID, models.InboxStatusAnalyzing, nil); err != nil {
		s.logger.Warn("Failed to mark item analyzing",
			zap.String("inbox_item_id", item.ID.String()),
			zap.Error(err),
		)
	}

	result, err := s.findMatchForItem(ctx, item)
	if err != nil {
		return nil, err
	}

	return s.applyMatchOutcome(ctx, item, result)
}

// applyMatchOutcome drives the inbox state machine: auto-matched items are
// done and linked; other matches wait for review; everything else is a
// recorded no-match. Only the no-match case skips suggestion persistence.
func (s *MatchingService) applyMatchOutcome(ctx context.Context, item *models.InboxItem, result *MatchResult) (*ProcessResult, error) {
	if result == nil {
		if err := s.inbox.UpdateStatus(ctx, item.TenantID, item.ID, models.InboxStatusNoMatch, nil); err != nil {
			return nil, fmt.Errorf("failed to mark no match: %w", err)
		}
		return &ProcessResult{InboxItemID: item.ID, Outcome: OutcomeNoMatch}, nil
	}

	if err := s.suggestions.Upsert(ctx, result.Suggestion); err != nil {
		return nil, fmt.Errorf("failed to persist suggestion: %w", err)
	}

	if result.Summary.MatchType == models.MatchTypeAuto {
		txID := result.Payment.ID
		if err := s.inbox.UpdateStatus(ctx, item.TenantID, item.ID, models.InboxStatusDone, &txID); err != nil {
			return nil, fmt.Errorf("failed to link transaction: %w", err)
		}
		s.logger.Info("Inbox item auto-matched",
			zap.String("inbox_item_id", item.ID.String()),
			zap.String("transaction_id", txID.String()),
			zap.Float64("confidence", result.Summary.Confidence),
		)
		return &ProcessResult{InboxItemID: item.ID, Outcome: OutcomeAutoMatched, Suggestion: result.Suggestion}, nil
	}

	if err := s.inbox.UpdateStatus(ctx, item.TenantID, item.ID, models.InboxStatusSuggestedMatch, nil); err != nil {
		return nil, fmt.Errorf("failed to mark suggested match: %w", err)
	}
	return &ProcessResult{InboxItemID: item.ID, Outcome: OutcomeSuggested, Suggestion: result.Suggestion}, nil
}

// FindInboxMatchesForTransaction is the reverse direction: given a ledger
// transaction, find the best pending inbox item. Deliberately simpler than
// the forward path: one fixed window and distance cutoff, no tiering.
func (s *MatchingService) FindInboxMatchesForTransaction(ctx context.Context, tenantID, transactionID uuid.UUID) (*MatchResult, error) {
	payment, err := s.payments.GetByID(ctx, tenantID, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Transaction not found",
				zap.String("tenant_id", tenantID.String()),
				zap.String("transaction_id", transactionID.String()),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	if len(payment.Embedding) == 0 {
		if err := s.backfillPaymentEmbedding(ctx, payment); err != nil {
			return nil, err
		}
	}

	cal, err := s.calibration.GetCalibration(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	from := payment.Date.AddDate(0, 0, -reverseWindowBefore)
	to := payment.Date.AddDate(0, 0, reverseWindowAfter)
	items, err := s.inbox.FindPendingNearEmbedding(ctx, tenantID, payment.Embedding, from, to, reverseMaxDistance, reverseCandidateCap)
	if err != nil {
		return nil, fmt.Errorf("failed to find inbox candidates: %w", err)
	}

	var best *MatchResult
	for _, item := range items {
		scored := s.scoring.ScoreCandidates(ctx, item, []*models.Payment{payment}, cal)
		if len(scored) == 0 {
			continue
		}
		sc := scored[0]

		dismissed, err := s.suggestions.WasDismissed(ctx, tenantID, item.ID, payment.ID)
		if err != nil {
			s.logger.Error("Dismissal check failed, skipping candidate",
				zap.String("inbox_item_id", item.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if dismissed {
			continue
		}

		if best == nil || sc.Summary.Confidence > best.Summary.Confidence {
			best = &MatchResult{
				InboxItem:  item,
				Payment:    payment,
				Suggestion: s.buildSuggestion(ctx, item, payment, sc.Summary),
				Summary:    sc.Summary,
			}
		}
	}

	return best, nil
}

func (s *MatchingService) backfillPaymentEmbedding(ctx context.Context, payment *models.Payment) error {
	result, err := s.embedder.GenerateEmbedding(ctx, PrepareTransactionText(payment))
	if err != nil {
		return fmt.Errorf("failed to embed transaction: %w", err)
	}
	payment.Embedding = result.Vector

	if err := s.payments.UpdateEmbedding(ctx, payment.TenantID, payment.ID, result.Vector); err != nil {
		s.logger.Warn("Failed to persist backfilled embedding",
			zap.String("transaction_id", payment.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// ProcessTransactionMatching persists the reverse-direction outcome for one
// transaction. Without a candidate it is a plain no-match result; no inbox
// item changes state.
func (s *MatchingService) ProcessTransactionMatching(ctx context.Context, tenantID, transactionID uuid.UUID) (*ProcessResult, error) {
	result, err := s.FindInboxMatchesForTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &ProcessResult{Outcome: OutcomeNoMatch}, nil
	}

	return s.applyMatchOutcome(ctx, result.InboxItem, result)
}

// RecordFeedback stores a review decision and keeps the item's link
// consistent with it.
func (s *MatchingService) RecordFeedback(ctx context.Context, tenantID, inboxItemID, transactionID uuid.UUID, status models.SuggestionStatus) error {
	if err := s.suggestions.UpdateStatus(ctx, tenantID, inboxItemID, transactionID, status); err != nil {
		return err
	}

	switch status {
	case models.SuggestionStatusConfirmed:
		txID := transactionID
		return s.inbox.UpdateStatus(ctx, tenantID, inboxItemID, models.InboxStatusDone, &txID)
	case models.SuggestionStatusDeclined, models.SuggestionStatusUnmatched:
		return s.inbox.UpdateStatus(ctx, tenantID, inboxItemID, models.InboxStatusPending, nil)
	default:
		return nil
	}
}
