package models

import (
	"time"

	"github.com/google/uuid"
)

type DocumentType string

const (
	DocumentTypeInvoice DocumentType = "invoice"
	DocumentTypeExpense DocumentType = "expense"
	DocumentTypeReceipt DocumentType = "receipt"
	DocumentTypeOther   DocumentType = "other"
)

type InboxStatus string

const (
	InboxStatusNew            InboxStatus = "new"
	InboxStatusProcessing     InboxStatus = "processing"
	InboxStatusPending        InboxStatus = "pending"
	InboxStatusAnalyzing      InboxStatus = "analyzing"
	InboxStatusSuggestedMatch InboxStatus = "suggested_match"
	InboxStatusDone           InboxStatus = "done"
	InboxStatusNoMatch        InboxStatus = "no_match"
)

// InboxItem is an uningested financial document (invoice, receipt, expense)
// awaiting a match against a ledger transaction. Amount, date and base-currency
// fields are nullable because OCR extraction does not always produce them.
type InboxItem struct {
	ID            uuid.UUID    `db:"id"`
	TenantID      uuid.UUID    `db:"tenant_id"`
	DisplayName   string       `db:"display_name"`
	Website       string       `db:"website"`
	Description   string       `db:"description"`
	Amount        *float64     `db:"amount"`
	BaseAmount    *float64     `db:"base_amount"`
	Currency      string       `db:"currency"`
	BaseCurrency  *string      `db:"base_currency"`
	Date          *time.Time   `db:"date"`
	DocumentType  DocumentType `db:"document_type"`
	Status        InboxStatus  `db:"status"`
	TransactionID *uuid.UUID   `db:"transaction_id"`
	Embedding     []float32    `db:"embedding"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}
