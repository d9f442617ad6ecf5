// Package parse turns raw document text into typed fields through a language
// model, behind a single JSON-schema gate.
package parse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm"
	"github.com/joseph-ayodele/receipts-pipeline/internal/signature"
)

var (
	ErrEmptyCompletion     = errors.New("completion returned no content")
	ErrMalformedCompletion = errors.New("completion does not match the parse schema")
)

// defaultConfidence is used when none of the critical fields is present.
const defaultConfidence = 0.5

// Options tune the parser.
type Options struct {
	Timeout   time.Duration   // default 12s
	Tolerance decimal.Decimal // default 0.01
}

type Parser struct {
	completion llm.Completion
	schema     map[string]any
	opts       Options
	logger     *slog.Logger
}

func New(completion llm.Completion, opts Options, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	if opts.Tolerance.IsZero() {
		opts.Tolerance = decimal.NewFromFloat(0.01)
	}
	return &Parser{completion: completion, schema: llm.BuildParseSchema(), opts: opts, logger: logger}
}

// Model returns the name of the underlying completion model.
func (p *Parser) Model() string { return p.completion.Model() }

// completionDoc is the decoded shape of a schema-valid completion.
type completionDoc struct {
	entity.Fields
	Items []entity.LineItem `json:"items"`
	Notes *string           `json:"notes"`
}

// Parse extracts fields from rawText. The catalog only biases suggested ids.
func (p *Parser) Parse(ctx context.Context, documentID, rawText string, catalog entity.Catalog) (*entity.ParsedDocument, error) {
	rid := uuid.New().String()
	start := time.Now()
	logger := p.logger.With("req_id", rid, "document_id", documentID)

	cctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	content, err := p.completion.Complete(cctx, llm.BuildParsePrompt(rawText, catalog), p.schema)
	if err != nil {
		logger.Error("parse.completion.failed", "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		if errors.Is(err, llm.ErrNoContent) {
			return nil, ErrEmptyCompletion
		}
		return nil, fmt.Errorf("completion: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyCompletion
	}

	if err := llm.ValidateJSONAgainstSchema(p.schema, []byte(content)); err != nil {
		logger.Warn("parse.schema.rejected", "err", err, "content_bytes", len(content))
		return nil, fmt.Errorf("%w: %v", ErrMalformedCompletion, err)
	}
	var doc completionDoc
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		logger.Warn("parse.decode.failed", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformedCompletion, err)
	}

	fields := doc.Fields
	resolvePaymentMethod(&fields, catalog.PaymentMethods)

	out := &entity.ParsedDocument{
		DocumentID:        documentID,
		Fields:            fields,
		Items:             doc.Items,
		Inconsistencies:   Inconsistencies(fields, doc.Items, p.opts.Tolerance),
		Model:             p.completion.Model(),
		Signature:         signature.FromFields(fields),
		OverallConfidence: OverallConfidence(fields),
	}
	if out.Items == nil {
		out.Items = []entity.LineItem{}
	}
	if doc.Notes != nil {
		out.Notes = *doc.Notes
	}

	logger.Info("parse.done",
		"model", out.Model,
		"items", len(out.Items),
		"inconsistencies", len(out.Inconsistencies),
		"confidence", out.OverallConfidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// OverallConfidence is ConfidenceMean rounded to four places, for display and storage.
func OverallConfidence(f entity.Fields) float64 {
	return ConfidenceMean(f).Round(4).InexactFloat64()
}

// ConfidenceMean is the exact mean confidence of the present critical fields
// (merchant, date, total), or 0.5 when none is present. Threshold checks use
// this value, never the rounded one.
func ConfidenceMean(f entity.Fields) decimal.Decimal {
	var confs []decimal.Decimal
	if f.Merchant != nil {
		confs = append(confs, decimal.NewFromFloat(f.Merchant.Confidence))
	}
	if f.Date != nil {
		confs = append(confs, decimal.NewFromFloat(f.Date.Confidence))
	}
	if f.Total != nil {
		confs = append(confs, decimal.NewFromFloat(f.Total.Confidence))
	}
	if len(confs) == 0 {
		return decimal.NewFromFloat(defaultConfidence)
	}
	return decimal.Sum(confs[0], confs[1:]...).Div(decimal.NewFromInt(int64(len(confs))))
}

// Inconsistencies lists advisory arithmetic mismatches. Nothing here rejects a document.
func Inconsistencies(f entity.Fields, items []entity.LineItem, tolerance decimal.Decimal) []string {
	out := []string{}
	sub, okSub := f.Subtotal.Get()
	tax, okTax := f.Tax.Get()
	total, okTotal := f.Total.Get()
	if okSub && okTax && okTotal && sub.Add(tax).Sub(total).Abs().GreaterThan(tolerance) {
		out = append(out, fmt.Sprintf("Math error: %s + %s != %s", sub.StringFixed(2), tax.StringFixed(2), total.StringFixed(2)))
	}
	for i, it := range items {
		if it.Qty == nil || it.UnitPrice == nil {
			continue
		}
		if it.Qty.Mul(*it.UnitPrice).Sub(it.Amount).Abs().GreaterThan(tolerance) {
			out = append(out, fmt.Sprintf("Item %d (%s): %s x %s != %s", i+1, it.Name,
				it.Qty.String(), it.UnitPrice.StringFixed(2), it.Amount.StringFixed(2)))
		}
	}
	return out
}

// resolvePaymentMethod fills a null suggested_payment_method_id from the
// closest catalog payment method name.
func resolvePaymentMethod(f *entity.Fields, methods []entity.CatalogEntry) {
	if len(methods) == 0 || !f.SuggestedPaymentMethodID.IsNull() {
		return
	}
	name, ok := f.PaymentMethod.Get()
	if !ok {
		return
	}
	if id, found := closestEntry(name, methods); found {
		f.SuggestedPaymentMethodID = entity.NewField(id, f.PaymentMethod.Confidence)
	}
}

// closestEntry returns the entry whose name is nearest to s by edit distance,
// provided the distance stays within a third of the name length.
func closestEntry(s string, entries []entity.CatalogEntry) (int64, bool) {
	needle := strings.ToLower(strings.TrimSpace(s))
	if needle == "" {
		return 0, false
	}
	bestID, bestDist := int64(0), -1
	for _, e := range entries {
		name := strings.ToLower(e.Name)
		if name == needle || strings.Contains(needle, name) {
			return e.ID, true
		}
		d := levenshtein.ComputeDistance(needle, name)
		if bestDist < 0 || d < bestDist {
			bestID, bestDist = e.ID, d
		}
	}
	limit := len(needle) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist >= 0 && bestDist <= limit {
		return bestID, true
	}
	return 0, false
}
