package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

func reason(code constants.ReasonCode, format string, args ...any) entity.ValidationReason {
	return entity.ValidationReason{Code: code, Message: fmt.Sprintf(format, args...)}
}

func checkRequired(f entity.Fields) []entity.ValidationReason {
	var out []entity.ValidationReason
	check := func(name string, absent, empty bool) {
		switch {
		case absent:
			out = append(out, reason(constants.ReasonMissingField, "Required field '%s' is missing", name))
		case empty:
			out = append(out, reason(constants.ReasonEmptyField, "Required field '%s' is empty", name))
		}
	}
	check(constants.FieldMerchant, f.Merchant == nil, isBlank(f.Merchant))
	check(constants.FieldDate, f.Date == nil, isBlank(f.Date))
	check(constants.FieldTotal, f.Total == nil, f.Total.IsNull())
	return out
}

func isBlank(f *entity.FieldValue[string]) bool {
	v, ok := f.Get()
	return !ok || strings.TrimSpace(v) == ""
}

func (e *Engine) checkMath(f entity.Fields, items []entity.LineItem) []entity.ValidationReason {
	total, ok := f.Total.Get()
	if !ok {
		return nil
	}
	var out []entity.ValidationReason
	if !total.IsPositive() {
		out = append(out, reason(constants.ReasonInvalidTotal, "Total must be greater than 0, got %s", total.StringFixed(2)))
	}
	if total.GreaterThan(e.opts.MaxTotal) {
		out = append(out, reason(constants.ReasonTotalTooHigh, "Total %s exceeds %s", total.StringFixed(2), e.opts.MaxTotal.StringFixed(2)))
	}

	subtotal, okSub := f.Subtotal.Get()
	tax, okTax := f.Tax.Get()
	if okSub && okTax {
		calc := subtotal.Add(tax)
		if calc.Sub(total).Abs().GreaterThan(e.opts.TotalsTolerance) {
			out = append(out, reason(constants.ReasonMathError, "Subtotal (%s) + Tax (%s) = %s, but Total is %s",
				subtotal.StringFixed(2), tax.StringFixed(2), calc.StringFixed(2), total.StringFixed(2)))
		}
	}
	if okSub && len(items) > 0 {
		sum := decimal.Zero
		for _, it := range items {
			sum = sum.Add(it.Amount)
		}
		if sum.Sub(subtotal).Abs().GreaterThan(e.opts.TotalsTolerance) {
			out = append(out, reason(constants.ReasonItemsMismatch, "Items sum (%s) does not match subtotal (%s)",
				sum.StringFixed(2), subtotal.StringFixed(2)))
		}
	}
	return out
}

func (e *Engine) checkDate(f entity.Fields) []entity.ValidationReason {
	raw, ok := f.Date.Get()
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return nil
	}
	d, err := time.Parse(constants.DateLayout, raw)
	if err != nil {
		return []entity.ValidationReason{reason(constants.ReasonInvalidDateFormat, "Date '%s' is not in YYYY-MM-DD format", raw)}
	}
	now := e.opts.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d.After(today) {
		return []entity.ValidationReason{reason(constants.ReasonFutureDate, "Date %s is in the future", raw)}
	}
	if days := int(today.Sub(d).Hours() / 24); days > e.opts.MaxDateAgeDays {
		return []entity.ValidationReason{reason(constants.ReasonDateTooOld, "Date %s is more than %d days old", raw, e.opts.MaxDateAgeDays)}
	}
	return nil
}

func (e *Engine) checkCurrency(f entity.Fields) []entity.ValidationReason {
	// codes must match the canonical list exactly; "usd" is not "USD"
	cur, ok := f.Currency.Get()
	if !ok || cur == "" {
		return nil
	}
	if _, supported := e.currencies[cur]; !supported {
		return []entity.ValidationReason{reason(constants.ReasonUnsupportedCurrency, "Currency '%s' is not supported", cur)}
	}
	return nil
}
