package service

import (
	"testing"
	"time"
	"unicode/utf8"

	"ledgermatch/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestPrepareInboxTextIsDeterministic(t *testing.T) {
	date := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	amount := 42.50
	item := &models.InboxItem{
		DisplayName:  "Hetzner Online GmbH",
		Website:      "hetzner.com",
		Description:  "Server invoice",
		Amount:       &amount,
		Currency:     "EUR",
		Date:         &date,
		DocumentType: models.DocumentTypeInvoice,
	}

	text := PrepareInboxText(item)
	assert.Equal(t, "Hetzner Online GmbH hetzner.com Server invoice 42.50 EUR 2026-02-14 invoice", text)
	assert.Equal(t, text, PrepareInboxText(item))
}

func TestPrepareInboxTextSkipsMissingFields(t *testing.T) {
	item := &models.InboxItem{
		DisplayName:  "Coffee Corner",
		DocumentType: models.DocumentTypeReceipt,
	}

	assert.Equal(t, "Coffee Corner receipt", PrepareInboxText(item))
}

func TestPrepareTransactionText(t *testing.T) {
	payment := &models.Payment{
		Name:         "AWS",
		MerchantName: "Amazon Web Services",
		Description:  "Monthly bill",
		Amount:       248.60,
		Currency:     "USD",
		Date:         time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, "AWS Amazon Web Services Monthly bill 248.60 USD 2026-01-03", PrepareTransactionText(payment))
}

func TestPrepareTransactionTextDropsDuplicateMerchant(t *testing.T) {
	payment := &models.Payment{
		Name:         "GitHub",
		MerchantName: "GITHUB",
		Amount:       44.00,
		Currency:     "USD",
		Date:         time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, "GitHub 44.00 USD 2026-01-03", PrepareTransactionText(payment))
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "plain text", sanitizeUTF8("plain text"))
	assert.Equal(t, "Müller GmbH", sanitizeUTF8("Müller GmbH"))

	broken := "ok" + string([]byte{0xff, 0xfe}) + "tail"
	cleaned := sanitizeUTF8(broken)
	assert.True(t, utf8.ValidString(cleaned))
	assert.Equal(t, "oktail", cleaned)
}
