package service

import (
	"context"
	"testing"
	"time"

	"ledgermatch/internal/models"
	"ledgermatch/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type statusChange struct {
	id            uuid.UUID
	status        models.InboxStatus
	transactionID *uuid.UUID
}

type stubInboxStore struct {
	items         map[uuid.UUID]*models.InboxItem
	pendingItems  []*models.InboxItem
	pendingIDs    []uuid.UUID
	statusChanges []statusChange
}

func (s *stubInboxStore) GetByID(_ context.Context, _, id uuid.UUID) (*models.InboxItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return item, nil
}

func (s *stubInboxStore) UpdateStatus(_ context.Context, _, id uuid.UUID, status models.InboxStatus, transactionID *uuid.UUID) error {
	s.statusChanges = append(s.statusChanges, statusChange{id: id, status: status, transactionID: transactionID})
	return nil
}

func (s *stubInboxStore) FindPendingNearEmbedding(_ context.Context, _ uuid.UUID, _ []float32, _, _ time.Time, _ float64, _ uint64) ([]*models.InboxItem, error) {
	return s.pendingItems, nil
}

func (s *stubInboxStore) FindPendingIDs(_ context.Context, _ uuid.UUID, _ []uuid.UUID, _ uint64) ([]uuid.UUID, error) {
	return s.pendingIDs, nil
}

func (s *stubInboxStore) lastStatus() statusChange {
	return s.statusChanges[len(s.statusChanges)-1]
}

type stubPaymentStore struct {
	payments        map[uuid.UUID]*models.Payment
	embeddingWrites int
}

func (s *stubPaymentStore) GetByID(_ context.Context, _, id uuid.UUID) (*models.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *stubPaymentStore) UpdateEmbedding(_ context.Context, _, _ uuid.UUID, _ []float32) error {
	s.embeddingWrites++
	return nil
}

type dismissedPair struct{ inboxItemID, transactionID uuid.UUID }

type stubSuggestionStore struct {
	dismissed     map[dismissedPair]bool
	upserted      []*models.MatchSuggestion
	statusUpdates []models.SuggestionStatus
}

func (s *stubSuggestionStore) Upsert(_ context.Context, sug *models.MatchSuggestion) error {
	s.upserted = append(s.upserted, sug)
	return nil
}

func (s *stubSuggestionStore) WasDismissed(_ context.Context, _, inboxItemID, transactionID uuid.UUID) (bool, error) {
	return s.dismissed[dismissedPair{inboxItemID, transactionID}], nil
}

func (s *stubSuggestionStore) GetFeedbackSince(_ context.Context, _ uuid.UUID, _ time.Time) ([]models.FeedbackRow, error) {
	return nil, nil
}

func (s *stubSuggestionStore) UpdateStatus(_ context.Context, _, _, _ uuid.UUID, status models.SuggestionStatus) error {
	s.statusUpdates = append(s.statusUpdates, status)
	return nil
}

type stubRetriever struct {
	candidates []*models.Payment
}

func (s *stubRetriever) Retrieve(_ context.Context, _ *models.InboxItem) ([]*models.Payment, error) {
	return s.candidates, nil
}

type stubCalibrationProvider struct{}

func (stubCalibrationProvider) GetCalibration(_ context.Context, tenantID uuid.UUID) (*models.TenantCalibration, error) {
	return models.DefaultCalibration(tenantID), nil
}

type stubPatternChecker struct {
	eligibility PatternEligibility
	calls       int
}

func (s *stubPatternChecker) CheckMerchantPatternEligibility(_ context.Context, _ uuid.UUID, _, _ []float32, _ ScoreSummary) (PatternEligibility, error) {
	s.calls++
	return s.eligibility, nil
}

type stubEmbedder struct {
	vector []float32
}

func (s *stubEmbedder) GenerateEmbedding(_ context.Context, _ string) (*EmbeddingResult, error) {
	return &EmbeddingResult{Vector: s.vector, ModelID: "test"}, nil
}

func (s *stubEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, string, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = s.vector
	}
	return vectors, "test", nil
}

type matchingFixture struct {
	inbox       *stubInboxStore
	payments    *stubPaymentStore
	suggestions *stubSuggestionStore
	retriever   *stubRetriever
	patterns    *stubPatternChecker
	embedder    *stubEmbedder
	svc         *MatchingService
}

func newMatchingFixture() *matchingFixture {
	f := &matchingFixture{
		inbox:       &stubInboxStore{items: map[uuid.UUID]*models.InboxItem{}},
		payments:    &stubPaymentStore{payments: map[uuid.UUID]*models.Payment{}},
		suggestions: &stubSuggestionStore{dismissed: map[dismissedPair]bool{}},
		retriever:   &stubRetriever{},
		patterns:    &stubPatternChecker{},
		embedder:    &stubEmbedder{vector: []float32{1, 0, 0}},
	}
	scoring := NewScoringEngine(&stubEmbeddingSource{}, zap.NewNop())
	f.svc = NewMatchingService(
		f.inbox, f.payments, f.suggestions, f.retriever, scoring,
		stubCalibrationProvider{}, f.patterns, f.embedder, nil, false, zap.NewNop(),
	)
	return f
}

func (f *matchingFixture) addItem(item *models.InboxItem) {
	f.inbox.items[item.ID] = item
}

func TestProcessInboxMatchingSkipsUnmatchableItems(t *testing.T) {
	f := newMatchingFixture()
	tenantID := uuid.New()

	t.Run("missing item", func(t *testing.T) {
		result, err := f.svc.ProcessInboxMatching(context.Background(), tenantID, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, result.Outcome)
	})

	t.Run("item without embedding", func(t *testing.T) {
		date := time.Now()
		item := &models.InboxItem{ID: uuid.New(), TenantID: tenantID, Date: &date}
		f.addItem(item)

		result, err := f.svc.ProcessInboxMatching(context.Background(), tenantID, item.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, result.Outcome)
		assert.Empty(t, f.inbox.statusChanges)
	})

	t.Run("item without date", func(t *testing.T) {
		item := &models.InboxItem{ID: uuid.New(), TenantID: tenantID, Embedding: []float32{1, 0, 0}}
		f.addItem(item)

		result, err := f.svc.ProcessInboxMatching(context.Background(), tenantID, item.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, result.Outcome)
	})
}

func TestProcessInboxMatchingAutoMatch(t *testing.T) {
	f := newMatchingFixture()
	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	item := testInboxItem(250.00, "USD", date)
	f.addItem(item)

	payment := testPayment(250.00, "USD", date, 0.1)
	f.retriever.candidates = []*models.Payment{payment}

	result, err := f.svc.ProcessInboxMatching(context.Background(), item.TenantID, item.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAutoMatched, result.Outcome)
	require.NotNil(t, result.Suggestion)
	assert.Equal(t, models.MatchTypeAuto, result.Suggestion.MatchType)
	assert.Equal(t, models.SuggestionStatusPending, result.Suggestion.Status)

	require.Len(t, f.suggestions.upserted, 1)
	last := f.inbox.lastStatus()
	assert.Equal(t, models.InboxStatusDone, last.status)
	require.NotNil(t, last.transactionID)
	assert.Equal(t, payment.ID, *last.transactionID)
}

func TestProcessInboxMatchingNoCandidates(t *testing.T) {
	f := newMatchingFixture()
	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	item := testInboxItem(99.00, "EUR", date)
	f.addItem(item)

	result, err := f.svc.ProcessInboxMatching(context.Background(), item.TenantID, item.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoMatch, result.Outcome)
	assert.Empty(t, f.suggestions.upserted)
	last := f.inbox.lastStatus()
	assert.Equal(t, models.InboxStatusNoMatch, last.status)
	assert.Nil(t, last.transactionID)
}

func TestProcessInboxMatchingSkipsDismissedPairs(t *testing.T) {
	f := newMatchingFixture()
	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	item := testInboxItem(100.00, "EUR", date)
	f.addItem(item)

	best := testPayment(100.00, "EUR", date, 0.05)
	runnerUp := testPayment(120.00, "EUR", date, 0.30)
	f.retriever.candidates = []*models.Payment{best, runnerUp}
	f.suggestions.dismissed[dismissedPair{item.ID, best.ID}] = true

	result, err := f.svc.ProcessInboxMatching(context.Background(), item.TenantID, item.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuggested, result.Outcome)
	require.NotNil(t, result.Suggestion)
	assert.Equal(t, runnerUp.ID, result.Suggestion.TransactionID)
	assert.Equal(t, models.InboxStatusSuggestedMatch, f.inbox.lastStatus().status)
}

func TestProcessInboxMatchingMerchantPatternUpgrade(t *testing.T) {
	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Close but not exact amount keeps the raw classification at
	// high-confidence.
	run := func(t *testing.T, eligible bool) (*matchingFixture, *ProcessResult) {
		f := newMatchingFixture()
		item := testInboxItem(100.00, "EUR", date)
		f.addItem(item)
		f.retriever.candidates = []*models.Payment{testPayment(115.00, "EUR", date, 0.23)}
		f.patterns.eligibility = PatternEligibility{CanAutoMatch: eligible, Reason: "recurring merchant with 4 confirmed matches"}

		result, err := f.svc.ProcessInboxMatching(context.Background(), item.TenantID, item.ID)
		require.NoError(t, err)
		return f, result
	}

	t.Run("eligible pattern upgrades to auto", func(t *testing.T) {
		f, result := run(t, true)
		assert.Equal(t, OutcomeAutoMatched, result.Outcome)
		assert.Equal(t, models.MatchTypeAuto, result.Suggestion.MatchType)
		assert.Equal(t, 1, f.patterns.calls)
		assert.Equal(t, models.InboxStatusDone, f.inbox.lastStatus().status)
	})

	t.Run("ineligible pattern stays a suggestion", func(t *testing.T) {
		f, result := run(t, false)
		assert.Equal(t, OutcomeSuggested, result.Outcome)
		assert.Equal(t, models.MatchTypeHighConfidence, result.Suggestion.MatchType)
		assert.Equal(t, models.InboxStatusSuggestedMatch, f.inbox.lastStatus().status)
	})
}

func TestProcessTransactionMatchingBackfillsEmbedding(t *testing.T) {
	f := newMatchingFixture()
	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	payment := &models.Payment{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Name:     "Cloud hosting",
		Amount:   89.00,
		Currency: "EUR",
		Date:     date,
	}
	f.payments.payments[payment.ID] = payment

	item := testInboxItem(89.00, "EUR", date.AddDate(0, 0, 2))
	item.TenantID = payment.TenantID
	f.inbox.pendingItems = []*models.InboxItem{item}

	result, err := f.svc.ProcessTransactionMatching(context.Background(), payment.TenantID, payment.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.payments.embeddingWrites)
	assert.NotEmpty(t, payment.Embedding)
	assert.Equal(t, OutcomeAutoMatched, result.Outcome)
	assert.Equal(t, item.ID, result.InboxItemID)
	require.Len(t, f.suggestions.upserted, 1)
	assert.Equal(t, payment.ID, f.suggestions.upserted[0].TransactionID)
}

func TestProcessTransactionMatchingNoCandidates(t *testing.T) {
	f := newMatchingFixture()
	payment := &models.Payment{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Amount:    50,
		Currency:  "USD",
		Date:      time.Now(),
		Embedding: []float32{1, 0, 0},
	}
	f.payments.payments[payment.ID] = payment

	result, err := f.svc.ProcessTransactionMatching(context.Background(), payment.TenantID, payment.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoMatch, result.Outcome)
	assert.Equal(t, uuid.Nil, result.InboxItemID)
	assert.Empty(t, f.inbox.statusChanges)
}

func TestRecordFeedback(t *testing.T) {
	tests := []struct {
		name        string
		status      models.SuggestionStatus
		inboxStatus models.InboxStatus
		withTxID    bool
	}{
		{"confirmed links the transaction", models.SuggestionStatusConfirmed, models.InboxStatusDone, true},
		{"declined returns the item to pending", models.SuggestionStatusDeclined, models.InboxStatusPending, false},
		{"unmatched returns the item to pending", models.SuggestionStatusUnmatched, models.InboxStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMatchingFixture()
			tenantID := uuid.New()
			inboxItemID := uuid.New()
			transactionID := uuid.New()

			err := f.svc.RecordFeedback(context.Background(), tenantID, inboxItemID, transactionID, tt.status)
			require.NoError(t, err)

			require.Len(t, f.suggestions.statusUpdates, 1)
			assert.Equal(t, tt.status, f.suggestions.statusUpdates[0])

			last := f.inbox.lastStatus()
			assert.Equal(t, tt.inboxStatus, last.status)
			if tt.withTxID {
				require.NotNil(t, last.transactionID)
				assert.Equal(t, transactionID, *last.transactionID)
			} else {
				assert.Nil(t, last.transactionID)
			}
		})
	}
}
