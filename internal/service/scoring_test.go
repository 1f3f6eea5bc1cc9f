package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledgermatch/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEmbeddingSource struct {
	embeddings map[uuid.UUID][]float32
	err        error
	calls      int
}

func (s *stubEmbeddingSource) GetEmbedding(_ context.Context, _, id uuid.UUID) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.embeddings[id], nil
}

func testInboxItem(amount float64, currency string, date time.Time) *models.InboxItem {
	return &models.InboxItem{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		DisplayName:  "Acme Corp",
		Amount:       &amount,
		Currency:     currency,
		Date:         &date,
		DocumentType: models.DocumentTypeInvoice,
		Embedding:    []float32{1, 0, 0},
	}
}

func testPayment(amount float64, currency string, date time.Time, distance float64) *models.Payment {
	return &models.Payment{
		ID:                uuid.New(),
		Name:              "ACME CORP PAYMENT",
		Amount:            amount,
		Currency:          currency,
		Date:              date,
		EmbeddingDistance: &distance,
	}
}

func TestScoreCandidatesPerfectMatchConfidenceFloor(t *testing.T) {
	engine := NewScoringEngine(&stubEmbeddingSource{}, zap.NewNop())
	cal := models.DefaultCalibration(uuid.New())
	date := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	item := testInboxItem(250.00, "USD", date)

	// Exact amount, same currency, close date and a strong embedding must
	// always clear the auto-match threshold.
	for _, distance := range []float64{0.05, 0.10, 0.14} {
		payment := testPayment(250.00, "USD", date.AddDate(0, 0, 3), distance)
		scored := engine.ScoreCandidates(context.Background(), item, []*models.Payment{payment}, cal)

		require.Len(t, scored, 1)
		summary := scored[0].Summary
		assert.True(t, summary.PerfectFinancialMatch)
		assert.GreaterOrEqual(t, summary.Confidence, 0.96)
		assert.Equal(t, models.MatchTypeAuto, summary.MatchType)
		assert.Equal(t, 1, summary.Tier)
	}
}

func TestScoreCandidatesDiscardsBelowSuggestedThreshold(t *testing.T) {
	engine := NewScoringEngine(&stubEmbeddingSource{}, zap.NewNop())
	cal := models.DefaultCalibration(uuid.New())
	date := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	item := &models.InboxItem{
		ID:           uuid.New(),
		DisplayName:  "Unknown vendor",
		Date:         &date,
		DocumentType: models.DocumentTypeOther,
		Embedding:    []float32{1, 0, 0},
	}
	// Weak semantic signal and no financial fields on the inbox side.
	payment := testPayment(500.00, "", date, 0.5)

	scored := engine.ScoreCandidates(context.Background(), item, []*models.Payment{payment}, cal)
	assert.Empty(t, scored)
}

func TestScoreCandidatesSortsByConfidence(t *testing.T) {
	engine := NewScoringEngine(&stubEmbeddingSource{}, zap.NewNop())
	cal := models.DefaultCalibration(uuid.New())
	date := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	item := testInboxItem(100.00, "EUR", date)
	weak := testPayment(130.00, "EUR", date, 0.35)
	strong := testPayment(100.00, "EUR", date, 0.05)

	scored := engine.ScoreCandidates(context.Background(), item, []*models.Payment{weak, strong}, cal)

	require.Len(t, scored, 2)
	assert.Equal(t, strong.ID, scored[0].Payment.ID)
	assert.Greater(t, scored[0].Summary.Confidence, scored[1].Summary.Confidence)
}

func TestEmbeddingScoreFallbacks(t *testing.T) {
	date := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	item := testInboxItem(100, "EUR", date)

	t.Run("prefers precomputed distance", func(t *testing.T) {
		source := &stubEmbeddingSource{}
		engine := NewScoringEngine(source, zap.NewNop())
		payment := testPayment(100, "EUR", date, 0.25)
		payment.Embedding = []float32{0, 1, 0}

		assert.InDelta(t, 0.75, engine.embeddingScore(context.Background(), item, payment), 1e-9)
		assert.Zero(t, source.calls)
	})

	t.Run("falls back to in-memory vectors", func(t *testing.T) {
		source := &stubEmbeddingSource{}
		engine := NewScoringEngine(source, zap.NewNop())
		payment := &models.Payment{ID: uuid.New(), Embedding: []float32{1, 0, 0}}

		assert.InDelta(t, 1.0, engine.embeddingScore(context.Background(), item, payment), 1e-9)
		assert.Zero(t, source.calls)
	})

	t.Run("refetches the payment embedding last", func(t *testing.T) {
		payment := &models.Payment{ID: uuid.New()}
		source := &stubEmbeddingSource{embeddings: map[uuid.UUID][]float32{
			payment.ID: {1, 0, 0},
		}}
		engine := NewScoringEngine(source, zap.NewNop())

		assert.InDelta(t, 1.0, engine.embeddingScore(context.Background(), item, payment), 1e-9)
		assert.Equal(t, 1, source.calls)
	})

	t.Run("scores zero when the refetch fails", func(t *testing.T) {
		source := &stubEmbeddingSource{err: errors.New("connection lost")}
		engine := NewScoringEngine(source, zap.NewNop())
		payment := &models.Payment{ID: uuid.New()}

		assert.Zero(t, engine.embeddingScore(context.Background(), item, payment))
	})
}

func TestApplyConfidenceBoosts(t *testing.T) {
	tests := []struct {
		name     string
		summary  ScoreSummary
		expected float64
	}{
		{
			name: "perfect match floor ladder stops at first rung",
			summary: ScoreSummary{
				Confidence: 0.70, PerfectFinancialMatch: true,
				EmbeddingScore: 0.70, AmountScore: 1, CurrencyScore: 1, DateScore: 0.65,
			},
			// Third rung (embedding > 0.65, date > 0.6) floors at 0.88, no bonus.
			expected: 0.88,
		},
		{
			name: "perfect match with weak date falls to a lower rung",
			summary: ScoreSummary{
				Confidence: 0.70, PerfectFinancialMatch: true,
				EmbeddingScore: 0.70, AmountScore: 1, CurrencyScore: 1, DateScore: 0.55,
			},
			// Fourth rung (embedding > 0.6, date > 0.5) floors at 0.90.
			expected: 0.90,
		},
		{
			name: "strong embedding bonus",
			summary: ScoreSummary{
				Confidence:     0.80,
				EmbeddingScore: 0.90, AmountScore: 0.5, CurrencyScore: 1, DateScore: 1,
			},
			expected: 0.88,
		},
		{
			name: "amount floor lifts strong financial agreement",
			summary: ScoreSummary{
				Confidence:     0.736,
				EmbeddingScore: 0.76, AmountScore: 0.86, CurrencyScore: 0.3, DateScore: 0.5,
			},
			// +0.05 embedding bonus, then floored at 0.82; no currency penalty
			// since the embedding holds.
			expected: 0.82,
		},
		{
			name: "currency and date penalties stack",
			summary: ScoreSummary{
				Confidence:     0.60,
				EmbeddingScore: 0.60, AmountScore: 0.6, CurrencyScore: 0.3, DateScore: 0.1,
			},
			expected: 0.60 * 0.95 * 0.85,
		},
		{
			name: "strong embedding softens the date penalty",
			summary: ScoreSummary{
				Confidence:     0.80,
				EmbeddingScore: 0.90, AmountScore: 0.6, CurrencyScore: 1, DateScore: 0.1,
			},
			expected: (0.80 + 0.08) * 0.95,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, applyConfidenceBoosts(tt.summary), 1e-9)
		})
	}
}

func TestClassifyMatch(t *testing.T) {
	cal := models.DefaultCalibration(uuid.New())

	tests := []struct {
		confidence float64
		matchType  models.MatchType
		kept       bool
	}{
		{0.95, models.MatchTypeAuto, true},
		{0.90, models.MatchTypeAuto, true},
		{0.89, models.MatchTypeHighConfidence, true},
		{0.72, models.MatchTypeHighConfidence, true},
		{0.71, models.MatchTypeSuggested, true},
		{0.60, models.MatchTypeSuggested, true},
		{0.59, "", false},
	}

	for _, tt := range tests {
		matchType, ok := classifyMatch(tt.confidence, cal)
		assert.Equal(t, tt.kept, ok)
		assert.Equal(t, tt.matchType, matchType)
	}
}
