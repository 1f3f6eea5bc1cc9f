package models

import (
	"time"

	"github.com/google/uuid"
)

// Default decision thresholds used until a tenant accumulates enough feedback
// for calibration.
const (
	DefaultSuggestedThreshold      = 0.60
	DefaultAutoMatchThreshold      = 0.90
	DefaultHighConfidenceThreshold = 0.72
)

// TenantCalibration holds the per-tenant adaptive decision thresholds together
// with the rolling feedback counters they were derived from.
// Invariant: SuggestedThreshold <= HighConfidenceThreshold <= AutoMatchThreshold.
type TenantCalibration struct {
	TenantID                uuid.UUID  `db:"tenant_id"`
	SuggestedThreshold      float64    `db:"suggested_threshold"`
	AutoMatchThreshold      float64    `db:"auto_match_threshold"`
	HighConfidenceThreshold float64    `db:"high_confidence_threshold"`
	TotalFeedback           int        `db:"total_feedback"`
	ConfirmedCount          int        `db:"confirmed_count"`
	DeclinedCount           int        `db:"declined_count"`
	UnmatchedCount          int        `db:"unmatched_count"`
	Accuracy                float64    `db:"accuracy"`
	AvgConfirmedConfidence  float64    `db:"avg_confirmed_confidence"`
	AvgDeclinedConfidence   float64    `db:"avg_declined_confidence"`
	LastCalibratedAt        *time.Time `db:"last_calibrated_at"`
}

// DefaultCalibration returns the uncalibrated thresholds for a tenant.
func DefaultCalibration(tenantID uuid.UUID) *TenantCalibration {
	return &TenantCalibration{
		TenantID:                tenantID,
		SuggestedThreshold:      DefaultSuggestedThreshold,
		AutoMatchThreshold:      DefaultAutoMatchThreshold,
		HighConfidenceThreshold: DefaultHighConfidenceThreshold,
	}
}
