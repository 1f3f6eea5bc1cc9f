package repository

import (
	"context"
	"time"

	"ledgermatch/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type SuggestionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSuggestionRepository(db *pgxpool.Pool, logger *zap.Logger) *SuggestionRepository {
	return &SuggestionRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert writes a suggestion keyed by (tenant, inbox item, transaction).
// Concurrent forward and reverse runs discovering the same pair update one
// row; score fields are last-writer-wins, the review status is preserved.
func (r *SuggestionRepository) Upsert(ctx context.Context, s *models.MatchSuggestion) error {
	now := time.Now()

	query := squirrel.Insert("match_suggestions").
		Columns(
			"tenant_id", "inbox_item_id", "transaction_id",
			"embedding_score", "amount_score", "currency_score", "date_score",
			"confidence_score", "match_type", "match_details", "status",
			"created_at", "updated_at",
		).
		Values(
			s.TenantID, s.InboxItemID, s.TransactionID,
			s.EmbeddingScore, s.AmountScore, s.CurrencyScore, s.DateScore,
			s.ConfidenceScore, s.MatchType, s.MatchDetails, s.Status,
			now, now,
		).
		Suffix(`ON CONFLICT (tenant_id, inbox_item_id, transaction_id) DO UPDATE SET
			embedding_score = EXCLUDED.embedding_score,
			amount_score = EXCLUDED.amount_score,
			currency_score = EXCLUDED.currency_score,
			date_score = EXCLUDED.date_score,
			confidence_score = EXCLUDED.confidence_score,
			match_type = EXCLUDED.match_type,
			match_details = EXCLUDED.match_details,
			updated_at = EXCLUDED.updated_at`).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

// WasDismissed reports whether the pair was previously declined or unmatched
// by human review. Dismissed pairs never resurface as suggestions.
func (r *SuggestionRepository) WasDismissed(ctx context.Context, tenantID, inboxItemID, transactionID uuid.UUID) (bool, error) {
	query := squirrel.Select("count(*)").
		From("match_suggestions").
		Where(squirrel.Eq{
			"tenant_id":      tenantID,
			"inbox_item_id":  inboxItemID,
			"transaction_id": transactionID,
			"status":         []models.SuggestionStatus{models.SuggestionStatusDeclined, models.SuggestionStatusUnmatched},
		}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return false, err
	}

	var count int
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetFeedbackSince returns reviewed suggestions inside the calibration
// lookback window.
func (r *SuggestionRepository) GetFeedbackSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]models.FeedbackRow, error) {
	query := squirrel.Select("status", "confidence_score").
		From("match_suggestions").
		Where(squirrel.Eq{
			"tenant_id": tenantID,
			"status": []models.SuggestionStatus{
				models.SuggestionStatusConfirmed,
				models.SuggestionStatusDeclined,
				models.SuggestionStatusUnmatched,
			},
		}).
		Where(squirrel.GtOrEq{"updated_at": since}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feedback []models.FeedbackRow
	for rows.Next() {
		var row models.FeedbackRow
		if err := rows.Scan(&row.Status, &row.ConfidenceScore); err != nil {
			return nil, err
		}
		feedback = append(feedback, row)
	}
	return feedback, rows.Err()
}

// UpdateStatus records human review feedback on a suggestion.
func (r *SuggestionRepository) UpdateStatus(ctx context.Context, tenantID, inboxItemID, transactionID uuid.UUID, status models.SuggestionStatus) error {
	query := squirrel.Update("match_suggestions").
		Set("status", status).
		Set("updated_at", time.Now()).
		Where(squirrel.Eq{
			"tenant_id":      tenantID,
			"inbox_item_id":  inboxItemID,
			"transaction_id": transactionID,
		}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
