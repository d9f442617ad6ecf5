package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// Document represents an uploaded file moving through the pipeline.
type Document struct {
	ID                   string                     `json:"id"`
	UserID               string                     `json:"user_id"`
	StoragePath          string                     `json:"storage_path"`
	MimeType             string                     `json:"mime_type"`
	IngestKind           constants.IngestKind       `json:"ingest_kind,omitempty"`
	ContentHash          string                     `json:"content_hash,omitempty"`
	Status               constants.DocumentStatus   `json:"status"`
	RawText              string                     `json:"raw_text,omitempty"`
	ExtractionProvider   string                     `json:"extraction_provider,omitempty"`
	ExtractionConfidence float64                    `json:"extraction_confidence,omitempty"`
	Fields               *Fields                    `json:"fields,omitempty"`
	Items                []LineItem                 `json:"items,omitempty"`
	Signature            string                     `json:"signature,omitempty"`
	ParserModel          string                     `json:"parser_model,omitempty"`
	ValidationStatus     constants.ValidationStatus `json:"validation_status,omitempty"`
	OverallConfidence    float64                    `json:"overall_confidence,omitempty"`
	ProcessingError      *string                    `json:"processing_error,omitempty"`
	TransactionID        *string                    `json:"transaction_id,omitempty"`
	CreatedAt            time.Time                  `json:"created_at"`
	UpdatedAt            time.Time                  `json:"updated_at"`
}

// IsTerminal reports whether the document has reached a final status.
func (d *Document) IsTerminal() bool {
	switch d.Status {
	case constants.StatusTransactionCreated, constants.StatusSkippedDuplicate, constants.StatusFailed:
		return true
	}
	return false
}

// DocumentUpdate carries the columns a stage writes alongside a status move.
// Nil fields are left untouched.
type DocumentUpdate struct {
	IngestKind           *constants.IngestKind
	RawText              *string
	ExtractionProvider   *string
	ExtractionConfidence *float64
	Fields               *Fields
	Items                []LineItem
	Signature            *string
	ParserModel          *string
	ValidationStatus     *constants.ValidationStatus
	OverallConfidence    *float64
	ProcessingError      *string
	TransactionID        *string
}

// Transaction is a committed financial record.
type Transaction struct {
	ID              string          `json:"id"`
	DocumentID      string          `json:"document_id"`
	UserID          string          `json:"user_id"`
	Signature       string          `json:"signature"`
	CategoryID      *int64          `json:"category_id,omitempty"`
	CategoryType    string          `json:"category_type"`
	PaymentMethodID *int64          `json:"payment_method_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Merchant        string          `json:"merchant,omitempty"`
	Date            string          `json:"date,omitempty"`
	Description     string          `json:"description,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
