package entity

import "github.com/joseph-ayodele/receipts-pipeline/constants"

// ValidationReason is a single business-rule finding.
type ValidationReason struct {
	Code    constants.ReasonCode `json:"code"`
	Message string               `json:"msg"`
}

// ValidationResult is the derived outcome of the validation stage.
type ValidationResult struct {
	Status            constants.ValidationStatus `json:"status"`
	Reasons           []ValidationReason         `json:"reasons"`
	Badges            map[string]string          `json:"badges"`
	OverallConfidence float64                    `json:"overall_confidence"`
}

// HasReason reports whether code is among the reasons.
func (r ValidationResult) HasReason(code constants.ReasonCode) bool {
	for _, reason := range r.Reasons {
		if reason.Code == code {
			return true
		}
	}
	return false
}
