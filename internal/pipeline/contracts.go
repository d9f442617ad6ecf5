package pipeline

import (
	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

type IngestRequest struct {
	DocumentID string `json:"document_id,omitempty"` // generated when empty
	UserID     string `json:"user_id"`
	FileURL    string `json:"file_url"`
	MimeType   string `json:"mime_type"`
}

type IngestResponse struct {
	DocumentID  string                   `json:"document_id"`
	IngestKind  constants.IngestKind     `json:"ingest_kind"`
	SHA256      string                   `json:"sha256"`
	StorageURL  string                   `json:"storage_url"`
	Status      constants.DocumentStatus `json:"status"`
	DuplicateOf string                   `json:"duplicate_of,omitempty"`
}

type ExtractRequest struct {
	DocumentID string               `json:"document_id"`
	IngestKind constants.IngestKind `json:"ingest_kind,omitempty"` // defaults to the classified kind
}

type AttemptView struct {
	Provider  string `json:"provider"`
	Phase     string `json:"phase"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type ExtractResponse struct {
	DocumentID     string        `json:"document_id"`
	Provider       string        `json:"provider"`
	RawText        string        `json:"raw_text"`
	LatencyMS      int64         `json:"latency_ms"`
	ConfidenceHint float64       `json:"confidence_hint"`
	Attempts       []AttemptView `json:"attempts,omitempty"`
}

type ParseRequest struct {
	DocumentID string `json:"document_id"`
	RawText    string `json:"raw_text,omitempty"` // defaults to the extracted text
}

type ParseResponse struct {
	DocumentID        string            `json:"document_id"`
	Fields            entity.Fields     `json:"fields"`
	Items             []entity.LineItem `json:"items"`
	Notes             string            `json:"notes,omitempty"`
	Inconsistencies   []string          `json:"inconsistencies"`
	ParserModel       string            `json:"parser_model"`
	Signature         string            `json:"signature"`
	OverallConfidence float64           `json:"overall_confidence"`
}

type ValidateRequest struct {
	DocumentID string         `json:"document_id"`
	Draft      *ParseResponse `json:"draft,omitempty"` // defaults to the stored parse
}

type ValidateResponse struct {
	DocumentID        string                     `json:"document_id"`
	Status            constants.ValidationStatus `json:"status"`
	NormalizedJSON    entity.NormalizedRecord    `json:"normalized_json"`
	Reasons           []entity.ValidationReason  `json:"reasons"`
	Badges            map[string]string          `json:"badges"`
	OverallConfidence float64                    `json:"overall_confidence"`
}

type WriteRequest struct {
	DocumentID      string                   `json:"document_id"`
	NormalizedJSON  *entity.NormalizedRecord `json:"normalized_json,omitempty"` // defaults to the stored parse
	Force           bool                     `json:"force"`
	CategoryID      *int64                   `json:"category_id,omitempty"`
	PaymentMethodID *int64                   `json:"payment_method_id,omitempty"`
	Description     string                   `json:"description,omitempty"`
}

type WriteResponse struct {
	DocumentID    string                `json:"document_id"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Status        constants.WriteStatus `json:"status"`
}

// ProcessResponse summarises a whole-document run.
type ProcessResponse struct {
	DocumentID string                   `json:"document_id"`
	Status     constants.DocumentStatus `json:"status"`
	Extract    *ExtractResponse         `json:"extract,omitempty"`
	Parse      *ParseResponse           `json:"parse,omitempty"`
	Validate   *ValidateResponse        `json:"validate,omitempty"`
	Write      *WriteResponse           `json:"write,omitempty"`
}
