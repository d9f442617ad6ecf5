package validation

import (
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

// Normalize flattens parsed fields into the record handed to the writer,
// applying the currency and transaction type defaults.
func Normalize(documentID string, doc *entity.ParsedDocument) entity.NormalizedRecord {
	f := doc.Fields
	rec := entity.NormalizedRecord{
		DocumentID:      documentID,
		Currency:        constants.DefaultCurrency,
		TransactionType: constants.DefaultTransactionType,
		Items:           doc.Items,
		Signature:       doc.Signature,
		ParserModel:     doc.Model,
	}
	if !f.Merchant.IsNull() {
		rec.Merchant = f.Merchant.Value
	}
	if !f.Date.IsNull() {
		rec.Date = f.Date.Value
	}
	if !f.Total.IsNull() {
		rec.Total = f.Total.Value
	}
	if !f.Subtotal.IsNull() {
		rec.Subtotal = f.Subtotal.Value
	}
	if !f.Tax.IsNull() {
		rec.Tax = f.Tax.Value
	}
	if v, ok := f.Currency.Get(); ok && v != "" {
		rec.Currency = v
	}
	if v, ok := f.TransactionType.Get(); ok && strings.TrimSpace(v) != "" {
		rec.TransactionType = strings.ToLower(strings.TrimSpace(v))
	}
	if !f.PaymentMethod.IsNull() {
		rec.PaymentMethod = f.PaymentMethod.Value
	}
	if !f.SuggestedCategoryID.IsNull() {
		rec.SuggestedCategoryID = f.SuggestedCategoryID.Value
	}
	if !f.SuggestedPaymentMethodID.IsNull() {
		rec.SuggestedPaymentMethodID = f.SuggestedPaymentMethodID.Value
	}
	if rec.Items == nil {
		rec.Items = []entity.LineItem{}
	}
	return rec
}
