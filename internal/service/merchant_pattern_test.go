package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPatternHistory struct {
	confirmed int
	err       error
	queries   int
}

func (s *stubPatternHistory) CountConfirmedNearEmbedding(_ context.Context, _ uuid.UUID, _ []float32, _ float64) (int, error) {
	s.queries++
	return s.confirmed, s.err
}

func strongPatternSummary() ScoreSummary {
	return ScoreSummary{EmbeddingScore: 0.9, AmountScore: 0.95}
}

func TestCheckMerchantPatternEligibility(t *testing.T) {
	embedding := []float32{1, 0, 0}

	t.Run("recurring merchant is eligible", func(t *testing.T) {
		history := &stubPatternHistory{confirmed: 4}
		checker := NewMerchantPatternChecker(history, zap.NewNop())

		eligibility, err := checker.CheckMerchantPatternEligibility(context.Background(), uuid.New(), embedding, embedding, strongPatternSummary())
		require.NoError(t, err)
		assert.True(t, eligibility.CanAutoMatch)
	})

	t.Run("too few confirmations", func(t *testing.T) {
		history := &stubPatternHistory{confirmed: 2}
		checker := NewMerchantPatternChecker(history, zap.NewNop())

		eligibility, err := checker.CheckMerchantPatternEligibility(context.Background(), uuid.New(), embedding, embedding, strongPatternSummary())
		require.NoError(t, err)
		assert.False(t, eligibility.CanAutoMatch)
		assert.NotEmpty(t, eligibility.Reason)
	})

	t.Run("weak scores skip the history query", func(t *testing.T) {
		history := &stubPatternHistory{confirmed: 10}
		checker := NewMerchantPatternChecker(history, zap.NewNop())

		weak := ScoreSummary{EmbeddingScore: 0.7, AmountScore: 0.95}
		eligibility, err := checker.CheckMerchantPatternEligibility(context.Background(), uuid.New(), embedding, embedding, weak)
		require.NoError(t, err)
		assert.False(t, eligibility.CanAutoMatch)
		assert.Zero(t, history.queries)
	})

	t.Run("missing payment embedding", func(t *testing.T) {
		history := &stubPatternHistory{confirmed: 10}
		checker := NewMerchantPatternChecker(history, zap.NewNop())

		eligibility, err := checker.CheckMerchantPatternEligibility(context.Background(), uuid.New(), embedding, nil, strongPatternSummary())
		require.NoError(t, err)
		assert.False(t, eligibility.CanAutoMatch)
	})

	t.Run("history failure propagates", func(t *testing.T) {
		history := &stubPatternHistory{err: errors.New("timeout")}
		checker := NewMerchantPatternChecker(history, zap.NewNop())

		_, err := checker.CheckMerchantPatternEligibility(context.Background(), uuid.New(), embedding, embedding, strongPatternSummary())
		assert.Error(t, err)
	})
}
