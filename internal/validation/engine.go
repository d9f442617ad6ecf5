// Package validation applies business rules to parsed documents and decides
// whether they can be approved automatically.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/parse"
)

// DuplicateIndex answers whether a semantic signature was already committed.
type DuplicateIndex interface {
	Exists(ctx context.Context, signature string) (bool, error)
}

// Options configure rule thresholds.
type Options struct {
	TotalsTolerance     decimal.Decimal  // default 0.01
	ConfidenceThreshold decimal.Decimal  // default 0.70
	MaxTotal            decimal.Decimal  // default 100000
	MaxDateAgeDays      int              // default 1825
	Currencies          []string         // default constants.SupportedCurrencies
	Now                 func() time.Time // default time.Now
}

type Engine struct {
	dups       DuplicateIndex
	opts       Options
	currencies map[string]struct{}
	logger     *slog.Logger
}

var (
	highTier   = decimal.RequireFromString("0.9")
	mediumTier = decimal.RequireFromString("0.7")
)

func NewEngine(dups DuplicateIndex, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TotalsTolerance.IsZero() {
		opts.TotalsTolerance = decimal.RequireFromString("0.01")
	}
	if opts.ConfidenceThreshold.IsZero() {
		opts.ConfidenceThreshold = decimal.RequireFromString("0.70")
	}
	if opts.MaxTotal.IsZero() {
		opts.MaxTotal = decimal.NewFromInt(100000)
	}
	if opts.MaxDateAgeDays <= 0 {
		opts.MaxDateAgeDays = 365 * 5
	}
	if len(opts.Currencies) == 0 {
		opts.Currencies = constants.SupportedCurrencies
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cur := make(map[string]struct{}, len(opts.Currencies))
	for _, c := range opts.Currencies {
		cur[strings.ToUpper(c)] = struct{}{}
	}
	return &Engine{dups: dups, opts: opts, currencies: cur, logger: logger}
}

// Validate runs every rule against the parsed document. A duplicate-index
// lookup failure is returned as an error; rule findings never are.
func (e *Engine) Validate(ctx context.Context, doc *entity.ParsedDocument) (entity.ValidationResult, error) {
	fields := doc.Fields
	confidence := parse.ConfidenceMean(fields)

	reasons := make([]entity.ValidationReason, 0, 4)
	reasons = append(reasons, checkRequired(fields)...)
	reasons = append(reasons, e.checkMath(fields, doc.Items)...)
	reasons = append(reasons, e.checkDate(fields)...)
	reasons = append(reasons, e.checkCurrency(fields)...)

	result := entity.ValidationResult{OverallConfidence: confidence.Round(4).InexactFloat64()}

	if e.dups != nil && doc.Signature != "" {
		dup, err := e.dups.Exists(ctx, doc.Signature)
		if err != nil {
			return entity.ValidationResult{}, fmt.Errorf("duplicate lookup: %w", err)
		}
		if dup {
			result.Status = constants.ValidationRejected
			result.Reasons = []entity.ValidationReason{{
				Code:    constants.ReasonDuplicate,
				Message: "A transaction with the same merchant, date and total already exists",
			}}
			result.Badges = badges(constants.BadgeRejected, confidence)
			e.logger.Info("validate.done", "document_id", doc.DocumentID, "status", result.Status, "duplicate", true)
			return result, nil
		}
	}

	var statusBadge string
	switch {
	case hasCritical(reasons):
		result.Status, statusBadge = constants.ValidationRejected, constants.BadgeRejected
	case len(reasons) > 0:
		result.Status, statusBadge = constants.ValidationNeedsReview, constants.BadgeNeedsReview
	case confidence.LessThan(e.opts.ConfidenceThreshold):
		result.Status, statusBadge = constants.ValidationNeedsReview, constants.BadgeLowConfidence
		reasons = append(reasons, entity.ValidationReason{
			Code:    constants.ReasonLowConfidence,
			Message: fmt.Sprintf("Overall confidence %s is below %s", confidence.Truncate(5).String(), e.opts.ConfidenceThreshold.StringFixed(2)),
		})
	default:
		result.Status, statusBadge = constants.ValidationApproved, constants.BadgeAutoApproved
	}
	result.Reasons = reasons
	result.Badges = badges(statusBadge, confidence)

	e.logger.Info("validate.done",
		"document_id", doc.DocumentID,
		"status", result.Status,
		"reasons", len(reasons),
		"confidence", result.OverallConfidence,
	)
	return result, nil
}

func hasCritical(reasons []entity.ValidationReason) bool {
	for _, r := range reasons {
		if _, ok := constants.CriticalReasons[r.Code]; ok {
			return true
		}
	}
	return false
}

func badges(status string, confidence decimal.Decimal) map[string]string {
	tier := constants.BadgeLow
	switch {
	case confidence.GreaterThanOrEqual(highTier):
		tier = constants.BadgeHigh
	case confidence.GreaterThanOrEqual(mediumTier):
		tier = constants.BadgeMedium
	}
	return map[string]string{
		constants.BadgeStatus:     status,
		constants.BadgeConfidence: tier,
	}
}
