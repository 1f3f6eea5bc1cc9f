package service

import (
	"context"
	"time"

	"ledgermatch/internal/models"
	"ledgermatch/internal/repository"

	"github.com/google/uuid"
)

// Consumer-side interfaces over the repositories and the embedding provider.
// Production wiring passes the concrete types; tests pass hand-written mocks.

type inboxStore interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.InboxItem, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.InboxStatus, transactionID *uuid.UUID) error
	FindPendingNearEmbedding(ctx context.Context, tenantID uuid.UUID, embedding []float32, from, to time.Time, maxDistance float64, limit uint64) ([]*models.InboxItem, error)
	FindPendingIDs(ctx context.Context, tenantID uuid.UUID, exclude []uuid.UUID, limit uint64) ([]uuid.UUID, error)
}

type paymentStore interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Payment, error)
	UpdateEmbedding(ctx context.Context, tenantID, id uuid.UUID, embedding []float32) error
}

type paymentEmbeddingSource interface {
	GetEmbedding(ctx context.Context, tenantID, id uuid.UUID) ([]float32, error)
}

type candidateSource interface {
	FindCandidates(ctx context.Context, q repository.CandidateQuery) ([]*models.Payment, error)
	FindCrossCurrencyCandidates(ctx context.Context, q repository.CrossCurrencyQuery) ([]*models.Payment, error)
}

type suggestionStore interface {
	Upsert(ctx context.Context, s *models.MatchSuggestion) error
	WasDismissed(ctx context.Context, tenantID, inboxItemID, transactionID uuid.UUID) (bool, error)
	GetFeedbackSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]models.FeedbackRow, error)
	UpdateStatus(ctx context.Context, tenantID, inboxItemID, transactionID uuid.UUID, status models.SuggestionStatus) error
}

type calibrationStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*models.TenantCalibration, error)
	Upsert(ctx context.Context, c *models.TenantCalibration) error
	Delete(ctx context.Context, tenantID uuid.UUID) error
}

type patternHistory interface {
	CountConfirmedNearEmbedding(ctx context.Context, tenantID uuid.UUID, embedding []float32, maxDistance float64) (int, error)
}

// Embedder is the black-box text-to-vector provider.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) (*EmbeddingResult, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, string, error)
}

// MatchExplainer produces a short human-readable rationale for a suggestion.
type MatchExplainer interface {
	ExplainMatch(ctx context.Context, inboxText, paymentText string, summary ScoreSummary) (string, error)
}
