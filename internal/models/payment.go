package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment is a completed ledger transaction eligible to be matched against an
// inbox item. Read-only from the matching engine's perspective except for the
// lazily backfilled embedding.
type Payment struct {
	ID           uuid.UUID  `db:"id"`
	TenantID     uuid.UUID  `db:"tenant_id"`
	Name         string     `db:"name"`
	Description  string     `db:"description"`
	MerchantName string     `db:"merchant_name"`
	Amount       float64    `db:"amount"`
	BaseAmount   *float64   `db:"base_amount"`
	Currency     string     `db:"currency"`
	BaseCurrency *string    `db:"base_currency"`
	Date         time.Time  `db:"date"`
	Embedding    []float32  `db:"embedding"`

	// EmbeddingDistance is the cosine distance to the inbox item's embedding,
	// populated by candidate retrieval queries.
	EmbeddingDistance *float64 `db:"-"`
}
