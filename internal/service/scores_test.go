package service

import (
	"testing"
	"time"

	"ledgermatch/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite vectors clamped to zero", []float32{1, 0, 0}, []float32{-1, 0, 0}, 0.0},
		{"empty vectors", nil, nil, 0.0},
		{"mismatched lengths", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCalculateAmountScore(t *testing.T) {
	amount := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		inbox    *float64
		payment  float64
		expected float64
	}{
		{"missing inbox amount is neutral", nil, 100, 0.5},
		{"exact amount", amount(100), 100, 1.0},
		{"sub-cent difference counts as exact", amount(100.004), 100, 1.0},
		{"ten percent off", amount(100), 110, 1 - (10.0/110.0)*2},
		{"fifty percent off scores zero", amount(100), 200, 0.0},
		{"both zero", amount(0), 0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, calculateAmountScore(tt.inbox, tt.payment), 1e-9)
		})
	}
}

func TestCalculateCurrencyScore(t *testing.T) {
	assert.Equal(t, 0.5, calculateCurrencyScore("", "USD"))
	assert.Equal(t, 0.5, calculateCurrencyScore("USD", ""))
	assert.Equal(t, 1.0, calculateCurrencyScore("USD", "usd"))
	assert.Equal(t, 0.3, calculateCurrencyScore("USD", "EUR"))
}

func TestCalculateDateScore(t *testing.T) {
	anchor := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	days := func(n int) time.Time { return anchor.AddDate(0, 0, n) }

	tests := []struct {
		name     string
		inbox    *time.Time
		payment  time.Time
		docType  models.DocumentType
		expected float64
	}{
		{"missing inbox date is neutral", nil, anchor, models.DocumentTypeInvoice, 0.5},
		{"same day", &anchor, anchor, models.DocumentTypeInvoice, 1.0},
		{"within grace period", &anchor, days(5), models.DocumentTypeInvoice, 1.0},
		{"within grace period backwards", &anchor, days(-5), models.DocumentTypeExpense, 1.0},
		// Invoice window reaches 123 days forward; halfway between grace and
		// edge decays to 1 - 0.7/2.
		{"invoice mid-window", &anchor, days(64), models.DocumentTypeInvoice, 1 - 0.7*(59.0/118.0)},
		// Expense window reaches 93 days back.
		{"expense mid-window", &anchor, days(-49), models.DocumentTypeExpense, 1 - 0.7*(44.0/88.0)},
		{"receipt shares the expense window", &anchor, days(-49), models.DocumentTypeReceipt, 1 - 0.7*(44.0/88.0)},
		{"just outside the window", &anchor, days(-20), models.DocumentTypeInvoice, 0.2 - 0.015*10},
		{"far outside fades to zero", &anchor, days(150), models.DocumentTypeInvoice, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, calculateDateScore(tt.inbox, tt.payment, tt.docType), 1e-9)
		})
	}
}

func TestDateWindow(t *testing.T) {
	tests := []struct {
		docType models.DocumentType
		before  int
		after   int
	}{
		{models.DocumentTypeInvoice, -10, 123},
		{models.DocumentTypeExpense, -93, 10},
		{models.DocumentTypeReceipt, -93, 10},
		{models.DocumentTypeOther, -60, 30},
	}

	for _, tt := range tests {
		before, after := dateWindow(tt.docType)
		assert.Equal(t, tt.before, before, string(tt.docType))
		assert.Equal(t, tt.after, after, string(tt.docType))
	}
}
