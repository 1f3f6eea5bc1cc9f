package repository

import (
	"context"
	"errors"

	"ledgermatch/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type CalibrationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewCalibrationRepository(db *pgxpool.Pool, logger *zap.Logger) *CalibrationRepository {
	return &CalibrationRepository{
		db:     db,
		logger: logger,
	}
}

var calibrationColumns = []string{
	"tenant_id", "suggested_threshold", "auto_match_threshold", "high_confidence_threshold",
	"total_feedback", "confirmed_count", "declined_count", "unmatched_count",
	"accuracy", "avg_confirmed_confidence", "avg_declined_confidence", "last_calibrated_at",
}

// Get returns the tenant's calibration row, or ErrNotFound when the tenant
// has never been calibrated.
func (r *CalibrationRepository) Get(ctx context.Context, tenantID uuid.UUID) (*models.TenantCalibration, error) {
	query := squirrel.Select(calibrationColumns...).
		From("tenant_calibrations").
		Where(squirrel.Eq{"tenant_id": tenantID}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var c models.TenantCalibration
	err = r.db.QueryRow(ctx, sql, args...).Scan(
		&c.TenantID, &c.SuggestedThreshold, &c.AutoMatchThreshold, &c.HighConfidenceThreshold,
		&c.TotalFeedback, &c.ConfirmedCount, &c.DeclinedCount, &c.UnmatchedCount,
		&c.Accuracy, &c.AvgConfirmedConfidence, &c.AvgDeclinedConfidence, &c.LastCalibratedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Upsert persists a recomputed calibration, one row per tenant.
func (r *CalibrationRepository) Upsert(ctx context.Context, c *models.TenantCalibration) error {
	query := squirrel.Insert("tenant_calibrations").
		Columns(calibrationColumns...).
		Values(
			c.TenantID, c.SuggestedThreshold, c.AutoMatchThreshold, c.HighConfidenceThreshold,
			c.TotalFeedback, c.ConfirmedCount, c.DeclinedCount, c.UnmatchedCount,
			c.Accuracy, c.AvgConfirmedConfidence, c.AvgDeclinedConfidence, c.LastCalibratedAt,
		).
		Suffix(`ON CONFLICT (tenant_id) DO UPDATE SET
			suggested_threshold = EXCLUDED.suggested_threshold,
			auto_match_threshold = EXCLUDED.auto_match_threshold,
			high_confidence_threshold = EXCLUDED.high_confidence_threshold,
			total_feedback = EXCLUDED.total_feedback,
			confirmed_count = EXCLUDED.confirmed_count,
			declined_count = EXCLUDED.declined_count,
			unmatched_count = EXCLUDED.unmatched_count,
			accuracy = EXCLUDED.accuracy,
			avg_confirmed_confidence = EXCLUDED.avg_confirmed_confidence,
			avg_declined_confidence = EXCLUDED.avg_declined_confidence,
			last_calibrated_at = EXCLUDED.last_calibrated_at`).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

// Delete reverts the tenant to default thresholds on next read.
func (r *CalibrationRepository) Delete(ctx context.Context, tenantID uuid.UUID) error {
	query := squirrel.Delete("tenant_calibrations").
		Where(squirrel.Eq{"tenant_id": tenantID}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}
