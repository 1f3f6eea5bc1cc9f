package service

import (
	"fmt"
	"strings"

	"ledgermatch/internal/models"
)

// Deterministic text construction feeding the embedding calls. The same item
// must always produce the same text so embeddings stay comparable across runs.

func PrepareInboxText(item *models.InboxItem) string {
	var parts []string

	if item.DisplayName != "" {
		parts = append(parts, item.DisplayName)
	}
	if item.Website != "" {
		parts = append(parts, item.Website)
	}
	if item.Description != "" {
		parts = append(parts, item.Description)
	}
	if item.Amount != nil && item.Currency != "" {
		parts = append(parts, fmt.Sprintf("%.2f %s", *item.Amount, item.Currency))
	}
	if item.Date != nil {
		parts = append(parts, item.Date.Format("2006-01-02"))
	}
	parts = append(parts, string(item.DocumentType))

	return sanitizeUTF8(strings.Join(parts, " "))
}

func PrepareTransactionText(payment *models.Payment) string {
	var parts []string

	if payment.Name != "" {
		parts = append(parts, payment.Name)
	}
	if payment.MerchantName != "" && !strings.EqualFold(payment.MerchantName, payment.Name) {
		parts = append(parts, payment.MerchantName)
	}
	if payment.Description != "" {
		parts = append(parts, payment.Description)
	}
	parts = append(parts, fmt.Sprintf("%.2f %s", payment.Amount, payment.Currency))
	parts = append(parts, payment.Date.Format("2006-01-02"))

	return sanitizeUTF8(strings.Join(parts, " "))
}
