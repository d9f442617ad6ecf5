package constants

// ReasonCode identifies a validation finding.
type ReasonCode string

const (
	ReasonMissingField        ReasonCode = "MISSING_FIELD"
	ReasonEmptyField          ReasonCode = "EMPTY_FIELD"
	ReasonInvalidTotal        ReasonCode = "INVALID_TOTAL"
	ReasonTotalTooHigh        ReasonCode = "TOTAL_TOO_HIGH"
	ReasonMathError           ReasonCode = "MATH_ERROR"
	ReasonItemsMismatch       ReasonCode = "ITEMS_MISMATCH"
	ReasonInvalidDateFormat   ReasonCode = "INVALID_DATE_FORMAT"
	ReasonFutureDate          ReasonCode = "FUTURE_DATE"
	ReasonDateTooOld          ReasonCode = "DATE_TOO_OLD"
	ReasonUnsupportedCurrency ReasonCode = "UNSUPPORTED_CURRENCY"
	ReasonDuplicate           ReasonCode = "DUPLICATE"
	ReasonLowConfidence       ReasonCode = "LOW_CONFIDENCE"
)

// CriticalReasons force a rejected outcome when present.
var CriticalReasons = map[ReasonCode]struct{}{
	ReasonMissingField: {},
	ReasonInvalidTotal: {},
	ReasonFutureDate:   {},
}

// SupportedCurrencies is the currency whitelist.
var SupportedCurrencies = []string{"MYR", "USD", "SGD", "EUR", "GBP", "JPY", "CNY"}

// Defaults applied when normalizing parsed fields.
const (
	DefaultCurrency        = "MYR"
	DefaultTransactionType = "expense"
)

// Transaction types.
const (
	TransactionExpense = "expense"
	TransactionIncome  = "income"
)

// Badge keys and labels.
const (
	BadgeStatus     = "status"
	BadgeConfidence = "confidence"

	BadgeRejected      = "Rejected"
	BadgeNeedsReview   = "Needs Review"
	BadgeLowConfidence = "Low Confidence"
	BadgeAutoApproved  = "Auto-Approved"

	BadgeHigh   = "High"
	BadgeMedium = "Medium"
	BadgeLow    = "Low"
)

// Critical fields feed the overall confidence and the schema rule.
const (
	FieldMerchant = "merchant"
	FieldDate     = "date"
	FieldTotal    = "total"
)

var CriticalFields = []string{FieldMerchant, FieldDate, FieldTotal}

const DateLayout = "2006-01-02"
