package service

import (
	"math"
	"strings"
	"time"

	"ledgermatch/internal/models"
)

// Sub-score helpers. All return values in [0,1], 1.0 meaning an exact match,
// and a neutral 0.5 when the inbox side is missing the field.

const neutralScore = 0.5

// cosineSimilarity returns similarity in [0,1]; negative cosine is clamped to
// zero since anti-similar embeddings carry no matching signal.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	return clampScore(sim)
}

// calculateAmountScore compares the document amount against the ledger
// amount. Sub-cent differences count as exact; the score decays linearly with
// the relative difference and reaches zero at 50%.
func calculateAmountScore(inboxAmount *float64, paymentAmount float64) float64 {
	if inboxAmount == nil {
		return neutralScore
	}

	diff := math.Abs(*inboxAmount - paymentAmount)
	if diff < 0.01 {
		return 1.0
	}

	base := math.Max(math.Abs(*inboxAmount), math.Abs(paymentAmount))
	if base == 0 {
		return 0
	}

	return clampScore(1 - (diff/base)*2)
}

func calculateCurrencyScore(inboxCurrency, paymentCurrency string) float64 {
	if inboxCurrency == "" || paymentCurrency == "" {
		return neutralScore
	}
	if strings.EqualFold(inboxCurrency, paymentCurrency) {
		return 1.0
	}
	return 0.3
}

// calculateDateScore scores the payment date against the document-type
// window anchored on the inbox item's date. Payments within a few days score
// 1.0; the score decays toward the window edge and falls off quickly outside.
func calculateDateScore(inboxDate *time.Time, paymentDate time.Time, docType models.DocumentType) float64 {
	if inboxDate == nil {
		return neutralScore
	}

	before, after := dateWindow(docType)
	offsetDays := int(paymentDate.Sub(*inboxDate).Hours() / 24)

	const graceDays = 5
	if offsetDays >= -graceDays && offsetDays <= graceDays {
		return 1.0
	}

	if offsetDays >= before && offsetDays <= after {
		var edge float64
		if offsetDays < 0 {
			edge = float64(-before)
		} else {
			edge = float64(after)
		}
		beyond := float64(absInt(offsetDays) - graceDays)
		span := edge - graceDays
		if span <= 0 {
			return 1.0
		}
		return clampScore(1 - 0.7*(beyond/span))
	}

	// Outside the window: small residual that fades over two weeks.
	var outside int
	if offsetDays < before {
		outside = before - offsetDays
	} else {
		outside = offsetDays - after
	}
	return clampScore(0.2 - 0.015*float64(outside))
}

// dateWindow returns the candidate window in days relative to the inbox
// item's date. Expenses are usually paid before the document arrives,
// invoices afterwards.
func dateWindow(docType models.DocumentType) (before, after int) {
	switch docType {
	case models.DocumentTypeInvoice:
		return -10, 123
	case models.DocumentTypeExpense, models.DocumentTypeReceipt:
		return -93, 10
	default:
		return -60, 30
	}
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
