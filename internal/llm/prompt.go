package llm

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

// maxPromptText bounds the raw text placed in the user message.
const maxPromptText = 6000

// BuildParsePrompt composes the system and user messages for the parse stage.
func BuildParsePrompt(rawText string, catalog entity.Catalog) Prompt {
	return Prompt{System: BuildSystemPrompt(catalog), User: BuildUserPrompt(rawText)}
}

// BuildSystemPrompt states the output contract and renders the catalog the
// model may pick suggested ids from.
func BuildSystemPrompt(catalog entity.Catalog) string {
	parts := []string{
		"You are a precise receipt/invoice data extraction assistant. Return ONLY valid JSON matching the provided JSON Schema.",
		"Every field is an object {\"value\": ..., \"confidence\": 0.0-1.0}. Use {\"value\": null} when a value is not present; never omit a key.",
		"Dates use YYYY-MM-DD. All amounts are JSON numbers, never strings.",
		"currency is an uppercase 3-letter ISO 4217 code; use " + constants.DefaultCurrency + " when the receipt does not say.",
		"transaction_type is \"" + constants.TransactionExpense + "\" or \"" + constants.TransactionIncome + "\".",
		"Confidence must reflect how certain the extraction is. If the math does not add up, say so in notes.",
	}
	if !catalog.IsEmpty() {
		parts = append(parts, "suggested_category_id and suggested_payment_method_id must be ids from the lists below, or null if none fits.")
		parts = append(parts, renderCatalog("Expense categories", catalog.ExpenseCategories))
		parts = append(parts, renderCatalog("Income categories", catalog.IncomeCategories))
		parts = append(parts, renderCatalog("Payment methods", catalog.PaymentMethods))
	} else {
		parts = append(parts, "suggested_category_id and suggested_payment_method_id must be null.")
	}
	return strings.Join(parts, "\n")
}

// BuildUserPrompt wraps the extracted text.
func BuildUserPrompt(rawText string) string {
	text := strings.TrimSpace(rawText)
	var b strings.Builder
	b.WriteString("Extract merchant, date, total, subtotal, tax, currency, payment_method, transaction_type, suggested ids, line items (name, qty, unit_price, amount) and notes from this receipt text.\n\nTEXT:\n")
	if len(text) > maxPromptText {
		b.WriteString(text[:maxPromptText])
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}

func renderCatalog(title string, entries []entity.CatalogEntry) string {
	if len(entries) == 0 {
		return title + ": (none)"
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("  %d: %s", e.ID, e.Name)
		if e.Description != "" {
			line += " (" + e.Description + ")"
		}
		lines = append(lines, line)
	}
	return title + ":\n" + strings.Join(lines, "\n")
}
