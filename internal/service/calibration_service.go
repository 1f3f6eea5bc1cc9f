package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ledgermatch/internal/models"
	"ledgermatch/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	calibrationLookback    = 90 * 24 * time.Hour
	calibrationMinFeedback = 5

	// maxStep bounds each individual nudge to the suggested threshold.
	// Fractions grade the nudge by rule strength.
	maxStep        = 0.03
	fractionFull   = 1.0
	fractionStrong = 0.66
	fractionMedium = 0.5
	fractionWeak   = 0.33

	suggestedFloor = 0.55
	suggestedCeil  = 0.85
	autoFloor      = 0.85
	relaxedAuto    = 0.88

	// Unmatched feedback is a weaker negative signal than an explicit decline.
	unmatchedWeight = 0.6
)

// CalibrationService derives per-tenant decision thresholds from historical
// review feedback. Thresholds are a pure function of the feedback window, so
// recalibrating twice over identical feedback yields identical thresholds.
type CalibrationService struct {
	calibrations calibrationStore
	suggestions  suggestionStore
	logger       *zap.Logger
}

func NewCalibrationService(calibrations calibrationStore, suggestions suggestionStore, logger *zap.Logger) *CalibrationService {
	return &CalibrationService{
		calibrations: calibrations,
		suggestions:  suggestions,
		logger:       logger,
	}
}

// GetCalibration returns the tenant's persisted thresholds, or the defaults
// when the tenant has never been calibrated.
func (s *CalibrationService) GetCalibration(ctx context.Context, tenantID uuid.UUID) (*models.TenantCalibration, error) {
	cal, err := s.calibrations.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.DefaultCalibration(tenantID), nil
		}
		return nil, fmt.Errorf("failed to load calibration: %w", err)
	}
	return cal, nil
}

// UpdateCalibration recomputes thresholds from the last 90 days of feedback.
// Fewer than 5 reviewed suggestions leave the current calibration untouched.
func (s *CalibrationService) UpdateCalibration(ctx context.Context, tenantID uuid.UUID) (*models.TenantCalibration, error) {
	current, err := s.GetCalibration(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	feedback, err := s.suggestions.GetFeedbackSince(ctx, tenantID, time.Now().Add(-calibrationLookback))
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}

	stats := summarizeFeedback(feedback)
	if stats.total < calibrationMinFeedback {
		s.logger.Info("Not enough feedback to calibrate",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("feedback", stats.total),
		)
		return current, nil
	}

	suggested := computeSuggestedThreshold(stats)
	auto := computeAutoThreshold(stats)
	// The high-confidence threshold is derived, never tuned independently.
	high := round3(suggested + 0.4*(auto-suggested))

	now := time.Now()
	cal := &models.TenantCalibration{
		TenantID:                tenantID,
		SuggestedThreshold:      suggested,
		AutoMatchThreshold:      auto,
		HighConfidenceThreshold: high,
		TotalFeedback:           stats.total,
		ConfirmedCount:          stats.confirmed,
		DeclinedCount:           stats.declined,
		UnmatchedCount:          stats.unmatched,
		Accuracy:                round3(stats.accuracy),
		AvgConfirmedConfidence:  round3(stats.avgConfirmed),
		AvgDeclinedConfidence:   round3(stats.avgNegative),
		LastCalibratedAt:        &now,
	}

	if err := s.calibrations.Upsert(ctx, cal); err != nil {
		return nil, fmt.Errorf("failed to persist calibration: %w", err)
	}

	s.logger.Info("Calibration updated",
		zap.String("tenant_id", tenantID.String()),
		zap.Float64("suggested", cal.SuggestedThreshold),
		zap.Float64("high_confidence", cal.HighConfidenceThreshold),
		zap.Float64("auto", cal.AutoMatchThreshold),
		zap.Float64("accuracy", cal.Accuracy),
		zap.Int("feedback", cal.TotalFeedback),
	)

	return cal, nil
}

// ResetCalibration deletes the tenant's row; the next read sees defaults.
func (s *CalibrationService) ResetCalibration(ctx context.Context, tenantID uuid.UUID) error {
	if err := s.calibrations.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to reset calibration: %w", err)
	}
	s.logger.Info("Calibration reset", zap.String("tenant_id", tenantID.String()))
	return nil
}

type feedbackStats struct {
	total        int
	confirmed    int
	declined     int
	unmatched    int
	accuracy     float64
	avgConfirmed float64
	avgNegative  float64
	gap          float64
}

func summarizeFeedback(feedback []models.FeedbackRow) feedbackStats {
	var stats feedbackStats
	var confirmedSum float64
	var negativeSum, negativeWeight float64

	for _, row := range feedback {
		switch row.Status {
		case models.SuggestionStatusConfirmed:
			stats.confirmed++
			confirmedSum += row.ConfidenceScore
		case models.SuggestionStatusDeclined:
			stats.declined++
			negativeSum += row.ConfidenceScore
			negativeWeight++
		case models.SuggestionStatusUnmatched:
			stats.unmatched++
			negativeSum += row.ConfidenceScore * unmatchedWeight
			negativeWeight += unmatchedWeight
		default:
			continue
		}
		stats.total++
	}

	if stats.total > 0 {
		stats.accuracy = float64(stats.confirmed) / float64(stats.total)
	}
	if stats.confirmed > 0 {
		stats.avgConfirmed = confirmedSum / float64(stats.confirmed)
	}
	if negativeWeight > 0 {
		stats.avgNegative = negativeSum / negativeWeight
	}
	stats.gap = stats.avgConfirmed - stats.avgNegative

	return stats
}

// computeSuggestedThreshold composes the independent nudges onto the default
// threshold. Anchoring on the default rather than the current value keeps
// recalibration idempotent over unchanged feedback.
func computeSuggestedThreshold(stats feedbackStats) float64 {
	negatives := stats.declined + stats.unmatched
	delta := 0.0

	// High accuracy with enough confirmations: suggest more aggressively.
	if stats.accuracy >= 0.9 && stats.confirmed >= 8 {
		delta -= maxStep * fractionFull
	}
	// Low accuracy with enough negative samples: raise the bar.
	if stats.accuracy < 0.6 && negatives >= 5 {
		delta += maxStep * fractionFull
	}
	// Wide gap between confirmed and rejected confidences: scores separate
	// well, the threshold can come down.
	if stats.gap > 0.15 {
		delta -= maxStep * fractionStrong
	}
	// Narrow gap over a meaningful sample: scores are ambiguous, back off.
	if stats.gap < 0.05 && stats.total > 10 {
		delta += maxStep * fractionMedium
	}
	// Volume signals, weakest nudges.
	if stats.confirmed >= 20 && stats.accuracy >= 0.8 {
		delta -= maxStep * fractionWeak
	}
	if negatives >= 20 && stats.accuracy < 0.5 {
		delta += maxStep * fractionWeak
	}

	return clampRange(round3(models.DefaultSuggestedThreshold+delta), suggestedFloor, suggestedCeil)
}

// computeAutoThreshold keeps the auto threshold fixed unless the tenant has a
// long, near-perfect confirmation record.
func computeAutoThreshold(stats feedbackStats) float64 {
	auto := models.DefaultAutoMatchThreshold
	if stats.accuracy > 0.95 && stats.confirmed >= 15 {
		auto = relaxedAuto
	}
	return round3(math.Max(auto, autoFloor))
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
