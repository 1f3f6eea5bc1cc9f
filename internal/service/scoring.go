package service

import (
	"context"
	"math"
	"sort"

	"ledgermatch/internal/models"

	"go.uber.org/zap"
)

// ScoreSummary holds the sub-scores and final confidence for one candidate.
type ScoreSummary struct {
	EmbeddingScore        float64
	AmountScore           float64
	CurrencyScore         float64
	DateScore             float64
	Confidence            float64
	PerfectFinancialMatch bool
	MatchType             models.MatchType
	Tier                  int
}

// ScoredCandidate pairs a payment with its score against one inbox item.
type ScoredCandidate struct {
	Payment *models.Payment
	Summary ScoreSummary
}

type scoreWeights struct {
	embedding float64
	amount    float64
	currency  float64
	date      float64
}

// When amounts and currencies line up exactly, the financial signal carries
// more weight than the semantic one.
var (
	perfectMatchWeights = scoreWeights{embedding: 0.25, amount: 0.45, currency: 0.15, date: 0.15}
	defaultWeights      = scoreWeights{embedding: 0.5, amount: 0.35, currency: 0.1, date: 0.05}
)

// confidenceFloor raises the confidence to a minimum when its predicate
// holds. The ladder is evaluated top to bottom and only the first matching
// rung applies, so the order of rungs is load-bearing.
type confidenceFloor struct {
	applies func(s ScoreSummary) bool
	floor   float64
}

var perfectMatchFloors = []confidenceFloor{
	{func(s ScoreSummary) bool { return s.EmbeddingScore > 0.85 && s.DateScore > 0.7 }, 0.96},
	{func(s ScoreSummary) bool { return s.EmbeddingScore > 0.75 && s.DateScore > 0.7 }, 0.94},
	{func(s ScoreSummary) bool { return s.EmbeddingScore > 0.65 && s.DateScore > 0.6 }, 0.88},
	{func(s ScoreSummary) bool { return s.EmbeddingScore > 0.6 && s.DateScore > 0.5 }, 0.90},
	{func(s ScoreSummary) bool { return s.DateScore > 0.5 }, 0.88},
}

type ScoringEngine struct {
	payments paymentEmbeddingSource
	logger   *zap.Logger
}

func NewScoringEngine(payments paymentEmbeddingSource, logger *zap.Logger) *ScoringEngine {
	return &ScoringEngine{
		payments: payments,
		logger:   logger,
	}
}

// ScoreCandidates scores every candidate against the inbox item, discards
// those below the calibrated suggested threshold, and returns the rest sorted
// by confidence, best first.
func (e *ScoringEngine) ScoreCandidates(ctx context.Context, item *models.InboxItem, candidates []*models.Payment, cal *models.TenantCalibration) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))

	for _, payment := range candidates {
		summary, ok := e.scoreCandidate(ctx, item, payment, cal)
		if !ok {
			continue
		}
		scored = append(scored, ScoredCandidate{Payment: payment, Summary: summary})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Summary.Confidence > scored[j].Summary.Confidence
	})

	return scored
}

func (e *ScoringEngine) scoreCandidate(ctx context.Context, item *models.InboxItem, payment *models.Payment, cal *models.TenantCalibration) (ScoreSummary, bool) {
	s := ScoreSummary{
		EmbeddingScore: e.embeddingScore(ctx, item, payment),
		AmountScore:    calculateAmountScore(item.Amount, payment.Amount),
		CurrencyScore:  calculateCurrencyScore(item.Currency, payment.Currency),
		DateScore:      calculateDateScore(item.Date, payment.Date, item.DocumentType),
	}
	s.PerfectFinancialMatch = isPerfectFinancialMatch(item, payment)

	weights := defaultWeights
	if s.PerfectFinancialMatch {
		weights = perfectMatchWeights
	}

	s.Confidence = weights.embedding*s.EmbeddingScore +
		weights.amount*s.AmountScore +
		weights.currency*s.CurrencyScore +
		weights.date*s.DateScore

	s.Confidence = applyConfidenceBoosts(s)

	matchType, ok := classifyMatch(s.Confidence, cal)
	if !ok {
		return ScoreSummary{}, false
	}
	s.MatchType = matchType
	s.Tier = winningTier(s)

	return s, true
}

// embeddingScore prefers the distance precomputed by the retrieval query,
// falls back to the in-memory vectors, and refetches the payment embedding as
// a last resort.
func (e *ScoringEngine) embeddingScore(ctx context.Context, item *models.InboxItem, payment *models.Payment) float64 {
	if payment.EmbeddingDistance != nil {
		return clampScore(1 - *payment.EmbeddingDistance)
	}
	if len(payment.Embedding) > 0 && len(item.Embedding) > 0 {
		return cosineSimilarity(item.Embedding, payment.Embedding)
	}

	embedding, err := e.payments.GetEmbedding(ctx, payment.TenantID, payment.ID)
	if err != nil {
		e.logger.Warn("Failed to fetch payment embedding for scoring",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		return 0
	}
	return cosineSimilarity(item.Embedding, embedding)
}

// isPerfectFinancialMatch holds when amounts agree to the cent in the same
// currency, independent of rounding direction.
func isPerfectFinancialMatch(item *models.InboxItem, payment *models.Payment) bool {
	if item.Amount == nil || item.Currency == "" || payment.Currency == "" {
		return false
	}
	return math.Abs(*item.Amount-payment.Amount) < 0.01 &&
		calculateCurrencyScore(item.Currency, payment.Currency) == 1.0
}

// applyConfidenceBoosts applies the floor ladder, additive embedding bonuses
// and multiplicative penalties, in that order, then clamps to [0,1].
func applyConfidenceBoosts(s ScoreSummary) float64 {
	confidence := s.Confidence

	if s.PerfectFinancialMatch {
		for _, rung := range perfectMatchFloors {
			if rung.applies(s) {
				confidence = math.Max(confidence, rung.floor)
				break
			}
		}
	}

	switch {
	case s.EmbeddingScore > 0.85:
		confidence = math.Min(1, confidence+0.08)
	case s.EmbeddingScore > 0.75:
		confidence = math.Min(1, confidence+0.05)
	}

	if s.AmountScore > 0.85 && s.EmbeddingScore > 0.75 {
		confidence = math.Max(confidence, 0.82)
	}

	if s.CurrencyScore < 0.5 && s.EmbeddingScore < 0.7 {
		confidence *= 0.95
	}
	if s.DateScore < 0.2 {
		if s.EmbeddingScore >= 0.85 {
			confidence *= 0.95
		} else {
			confidence *= 0.85
		}
	}

	return clampScore(confidence)
}

// classifyMatch grades confidence against the tenant's calibrated thresholds.
// Candidates below the suggested threshold are discarded.
func classifyMatch(confidence float64, cal *models.TenantCalibration) (models.MatchType, bool) {
	switch {
	case confidence >= cal.AutoMatchThreshold:
		return models.MatchTypeAuto, true
	case confidence >= cal.HighConfidenceThreshold:
		return models.MatchTypeHighConfidence, true
	case confidence >= cal.SuggestedThreshold:
		return models.MatchTypeSuggested, true
	default:
		return "", false
	}
}

func winningTier(s ScoreSummary) int {
	switch {
	case s.PerfectFinancialMatch:
		return 1
	case s.EmbeddingScore > 0.65:
		return 3
	default:
		return 4
	}
}
