package models

import (
	"time"

	"github.com/google/uuid"
)

type MatchType string

const (
	MatchTypeAuto           MatchType = "auto_matched"
	MatchTypeHighConfidence MatchType = "high_confidence"
	MatchTypeSuggested      MatchType = "suggested"
)

type SuggestionStatus string

const (
	SuggestionStatusPending   SuggestionStatus = "pending"
	SuggestionStatusConfirmed SuggestionStatus = "confirmed"
	SuggestionStatusDeclined  SuggestionStatus = "declined"
	SuggestionStatusUnmatched SuggestionStatus = "unmatched"
)

// MatchSuggestion links an inbox item to a ledger transaction with the scores
// that produced the link. Composite-keyed by (tenant, inbox item, transaction)
// and upserted, so repeated matching runs update the row instead of
// duplicating it. Status is set later by human review.
type MatchSuggestion struct {
	TenantID        uuid.UUID        `db:"tenant_id"`
	InboxItemID     uuid.UUID        `db:"inbox_item_id"`
	TransactionID   uuid.UUID        `db:"transaction_id"`
	EmbeddingScore  float64          `db:"embedding_score"`
	AmountScore     float64          `db:"amount_score"`
	CurrencyScore   float64          `db:"currency_score"`
	DateScore       float64          `db:"date_score"`
	ConfidenceScore float64          `db:"confidence_score"`
	MatchType       MatchType        `db:"match_type"`
	MatchDetails    string           `db:"match_details"`
	Status          SuggestionStatus `db:"status"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

// FeedbackRow is the slice of a suggestion the calibration loop consumes.
type FeedbackRow struct {
	Status          SuggestionStatus
	ConfidenceScore float64
}
