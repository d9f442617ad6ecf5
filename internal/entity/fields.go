package entity

import (
	"github.com/shopspring/decimal"
)

// FieldValue is a parsed value with the model's confidence in it.
// A nil Value is a JSON null: the model looked and found nothing.
type FieldValue[T any] struct {
	Value      *T      `json:"value"`
	Confidence float64 `json:"confidence"`
}

// IsNull reports whether the field is absent or carries a null value.
func (f *FieldValue[T]) IsNull() bool {
	return f == nil || f.Value == nil
}

// Get returns the value and whether it was set.
func (f *FieldValue[T]) Get() (T, bool) {
	var zero T
	if f.IsNull() {
		return zero, false
	}
	return *f.Value, true
}

// NewField builds a FieldValue holding v.
func NewField[T any](v T, confidence float64) *FieldValue[T] {
	return &FieldValue[T]{Value: &v, Confidence: confidence}
}

// NullField builds a FieldValue holding null.
func NullField[T any](confidence float64) *FieldValue[T] {
	return &FieldValue[T]{Confidence: confidence}
}

// Fields are the typed fields extracted from a document. A nil pointer means
// the key was absent from the model output.
type Fields struct {
	Merchant                 *FieldValue[string]          `json:"merchant"`
	Date                     *FieldValue[string]          `json:"date"`
	Total                    *FieldValue[decimal.Decimal] `json:"total"`
	Subtotal                 *FieldValue[decimal.Decimal] `json:"subtotal"`
	Tax                      *FieldValue[decimal.Decimal] `json:"tax"`
	Currency                 *FieldValue[string]          `json:"currency"`
	PaymentMethod            *FieldValue[string]          `json:"payment_method"`
	TransactionType          *FieldValue[string]          `json:"transaction_type"`
	SuggestedCategoryID      *FieldValue[int64]           `json:"suggested_category_id"`
	SuggestedPaymentMethodID *FieldValue[int64]           `json:"suggested_payment_method_id"`
}

// LineItem is one purchased line. qty*unit_price ≈ amount is checked but never enforced.
type LineItem struct {
	Name       string           `json:"name"`
	Qty        *decimal.Decimal `json:"qty"`
	UnitPrice  *decimal.Decimal `json:"unit_price"`
	Amount     decimal.Decimal  `json:"amount"`
	Confidence float64          `json:"confidence"`
}

// ParsedDocument is the output of the parse stage.
type ParsedDocument struct {
	DocumentID        string     `json:"document_id"`
	Fields            Fields     `json:"fields"`
	Items             []LineItem `json:"items"`
	Notes             string     `json:"notes,omitempty"`
	Inconsistencies   []string   `json:"inconsistencies"`
	Model             string     `json:"parser_model"`
	Signature         string     `json:"signature"`
	OverallConfidence float64    `json:"overall_confidence"`
}

// NormalizedRecord is the flattened form handed to the writer and exports.
type NormalizedRecord struct {
	DocumentID               string           `json:"document_id"`
	Merchant                 *string          `json:"merchant"`
	Date                     *string          `json:"date"`
	Total                    *decimal.Decimal `json:"total"`
	Subtotal                 *decimal.Decimal `json:"subtotal"`
	Tax                      *decimal.Decimal `json:"tax"`
	Currency                 string           `json:"currency"`
	TransactionType          string           `json:"transaction_type"`
	PaymentMethod            *string          `json:"payment_method"`
	SuggestedCategoryID      *int64           `json:"suggested_category_id"`
	SuggestedPaymentMethodID *int64           `json:"suggested_payment_method_id"`
	Items                    []LineItem       `json:"items"`
	Signature                string           `json:"signature"`
	ParserModel              string           `json:"parser_model"`
}
