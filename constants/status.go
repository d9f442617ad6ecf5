package constants

// DocumentStatus is the canonical processing status stored on a document row.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	StatusIngested           DocumentStatus = "ingested"            // created at ingest
	StatusProcessing         DocumentStatus = "processing"          // extraction started
	StatusOCRCompleted       DocumentStatus = "ocr_completed"       // raw text available
	StatusParsed             DocumentStatus = "parsed"              // fields extracted
	StatusTransactionCreated DocumentStatus = "transaction_created" // terminal
	StatusSkippedDuplicate   DocumentStatus = "skipped_duplicate"   // terminal
	StatusFailed             DocumentStatus = "failed"              // terminal failure
)

var allStatuses = []DocumentStatus{
	StatusIngested,
	StatusProcessing,
	StatusOCRCompleted,
	StatusParsed,
	StatusTransactionCreated,
	StatusSkippedDuplicate,
	StatusFailed,
}

// StatusStrings is used by the ent schema enum.
func StatusStrings() []string {
	out := make([]string, len(allStatuses))
	for i, s := range allStatuses {
		out[i] = string(s)
	}
	return out
}

// ParseStatus reports whether s is a known document status.
func ParseStatus(s string) (DocumentStatus, bool) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// ValidationStatus is the outcome of the validation stage. It is recorded as
// document metadata and is not part of the status state machine.
type ValidationStatus string

const (
	ValidationApproved    ValidationStatus = "approved"
	ValidationNeedsReview ValidationStatus = "needs_review"
	ValidationRejected    ValidationStatus = "rejected"
)

// WriteStatus is the outcome of a write request.
type WriteStatus string

const (
	WriteCreated          WriteStatus = "created"
	WriteSkippedDuplicate WriteStatus = "skipped_duplicate"
)
