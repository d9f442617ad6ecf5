package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
	"github.com/joseph-ayodele/receipts-pipeline/internal/signature"
	"github.com/joseph-ayodele/receipts-pipeline/internal/state"
	"github.com/joseph-ayodele/receipts-pipeline/internal/validation"
	"github.com/joseph-ayodele/receipts-pipeline/internal/writer"
)

// Ingest registers a file as a new document. Re-ingesting an existing
// document id returns the stored document unchanged.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	start := time.Now()
	if err := common.NewValidator().
		Field("user_id", req.UserID, common.Required, common.MaxLength(64)).
		Field("file_url", req.FileURL, common.Required).
		Field("document_id", req.DocumentID, common.MaxLength(36)).
		Err(); err != nil {
		return nil, err
	}

	mime := constants.NormalizeMime(req.MimeType)
	if mime == "" {
		mime = constants.MimeFromExt(path.Ext(req.FileURL))
	}

	if req.DocumentID != "" {
		existing, err := s.Documents.Get(ctx, req.DocumentID)
		switch {
		case err == nil:
			return s.ingestResponse(ctx, existing), nil
		case !errors.Is(err, common.ErrNotFound):
			return nil, err
		}
	} else {
		req.DocumentID = uuid.NewString()
	}
	log := s.log(ctx, req.DocumentID)

	data, err := s.Storage.Download(ctx, req.FileURL)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	res := s.Classifier.Classify(ctx, data, mime)

	doc := &entity.Document{
		ID:          req.DocumentID,
		UserID:      req.UserID,
		StoragePath: req.FileURL,
		MimeType:    mime,
		IngestKind:  res.Kind,
		ContentHash: res.ContentHash,
		Status:      constants.StatusIngested,
	}
	if err := s.Documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	out := s.ingestResponse(ctx, doc)
	log.Info("ingest.done",
		"kind", res.Kind,
		"probed_chars", res.ProbedChars,
		"bytes", len(data),
		"duplicate_of", out.DuplicateOf,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (s *Service) ingestResponse(ctx context.Context, doc *entity.Document) *IngestResponse {
	out := &IngestResponse{
		DocumentID: doc.ID,
		IngestKind: doc.IngestKind,
		SHA256:     doc.ContentHash,
		StorageURL: doc.StoragePath,
		Status:     doc.Status,
	}
	if doc.ContentHash == "" {
		return out
	}
	dup, err := s.Documents.FindByContentHash(ctx, doc.ContentHash, doc.ID)
	if err != nil {
		s.log(ctx, doc.ID).Warn("ingest.duplicate_lookup.failed", "err", err)
		return out
	}
	if dup != nil {
		out.DuplicateOf = dup.ID
	}
	return out
}

// Extract runs the provider chain over the document's file and stores the text.
// A document already past extraction returns its stored text.
func (s *Service) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	if err := common.NewValidator().
		Field("document_id", req.DocumentID, common.Required).
		Field("ingest_kind", string(req.IngestKind), common.OneOf(string(constants.IngestDigital), string(constants.IngestScanned))).
		Err(); err != nil {
		return nil, err
	}
	doc, err := s.Documents.Get(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	log := s.log(ctx, doc.ID)

	if doc.Status == constants.StatusParsed && doc.RawText != "" {
		return &ExtractResponse{
			DocumentID:     doc.ID,
			Provider:       doc.ExtractionProvider,
			RawText:        doc.RawText,
			ConfidenceHint: doc.ExtractionConfidence,
		}, nil
	}
	if err := state.CanTransition(doc.Status, constants.StatusOCRCompleted); err != nil {
		return nil, err
	}

	kind := req.IngestKind
	if kind == "" {
		kind = doc.IngestKind
	}
	if kind == "" {
		kind = constants.IngestScanned
	}
	if doc.Status == constants.StatusIngested {
		if _, err := s.Tracker.Advance(ctx, doc.ID, constants.StatusProcessing, entity.DocumentUpdate{IngestKind: &kind}); err != nil {
			return nil, err
		}
	}

	data, err := s.Storage.Download(ctx, doc.StoragePath)
	if err != nil {
		return nil, s.fail(ctx, doc.ID, fmt.Errorf("download file: %w", err))
	}
	res, err := s.Extractor.Extract(ctx, extract.Request{Data: data, MimeType: doc.MimeType, Kind: kind})
	if err != nil {
		log.Error("extract.failed", "kind", kind, "err", err)
		return nil, s.fail(ctx, doc.ID, fmt.Errorf("text extraction failed: %w", err))
	}

	if _, err := s.Tracker.Advance(ctx, doc.ID, constants.StatusOCRCompleted, entity.DocumentUpdate{
		RawText:              &res.Text,
		ExtractionProvider:   &res.Provider,
		ExtractionConfidence: &res.Confidence,
	}); err != nil {
		return nil, err
	}

	log.Info("extract.done",
		"provider", res.Provider,
		"chars", len(res.Text),
		"attempts", len(res.Attempts),
		"elapsed_ms", res.Latency.Milliseconds())
	return &ExtractResponse{
		DocumentID:     doc.ID,
		Provider:       res.Provider,
		RawText:        res.Text,
		LatencyMS:      res.Latency.Milliseconds(),
		ConfidenceHint: res.Confidence,
		Attempts:       attemptViews(res.Attempts),
	}, nil
}

func attemptViews(attempts []extract.Attempt) []AttemptView {
	if len(attempts) == 0 {
		return nil
	}
	out := make([]AttemptView, 0, len(attempts))
	for _, a := range attempts {
		v := AttemptView{Provider: a.Provider, Phase: string(a.Phase), ElapsedMS: a.Elapsed.Milliseconds()}
		if a.Err != nil {
			v.Error = a.Err.Error()
		}
		out = append(out, v)
	}
	return out
}

// Parse turns raw text into typed fields. RawText in the request overrides
// the extracted text.
func (s *Service) Parse(ctx context.Context, req ParseRequest) (*ParseResponse, error) {
	start := time.Now()
	if err := common.NewValidator().Field("document_id", req.DocumentID, common.Required).Err(); err != nil {
		return nil, err
	}
	doc, err := s.Documents.Get(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	log := s.log(ctx, doc.ID)

	raw := req.RawText
	if raw == "" {
		raw = doc.RawText
	}
	if nonSpaceLen(raw) < s.opts.MinParseTextChars {
		return nil, ErrTextTooShort
	}
	if err := state.CanTransition(doc.Status, constants.StatusParsed); err != nil {
		return nil, err
	}

	catalog, err := s.Catalog.Load(ctx)
	if err != nil {
		log.Warn("parse.catalog.failed", "err", err)
		catalog = entity.Catalog{}
	}
	parsed, err := s.Parser.Parse(ctx, doc.ID, raw, catalog)
	if err != nil {
		log.Error("parse.failed", "err", err)
		return nil, s.fail(ctx, doc.ID, fmt.Errorf("parse failed: %w", err))
	}
	items := parsed.Items
	if items == nil {
		items = []entity.LineItem{}
	}

	upd := entity.DocumentUpdate{
		Fields:            &parsed.Fields,
		Items:             items,
		Signature:         &parsed.Signature,
		ParserModel:       &parsed.Model,
		OverallConfidence: &parsed.OverallConfidence,
	}
	if req.RawText != "" {
		upd.RawText = &raw
	}
	if _, err := s.Tracker.Advance(ctx, doc.ID, constants.StatusParsed, upd); err != nil {
		return nil, err
	}

	log.Info("parse.done",
		"model", parsed.Model,
		"items", len(items),
		"confidence", parsed.OverallConfidence,
		"elapsed_ms", time.Since(start).Milliseconds())
	inconsistencies := parsed.Inconsistencies
	if inconsistencies == nil {
		inconsistencies = []string{}
	}
	return &ParseResponse{
		DocumentID:        doc.ID,
		Fields:            parsed.Fields,
		Items:             items,
		Notes:             parsed.Notes,
		Inconsistencies:   inconsistencies,
		ParserModel:       parsed.Model,
		Signature:         parsed.Signature,
		OverallConfidence: parsed.OverallConfidence,
	}, nil
}

func nonSpaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Validate checks parsed fields against the business rules. A draft in the
// request is validated instead of the stored parse. The outcome is recorded as
// document metadata; the status does not move.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	start := time.Now()
	if err := common.NewValidator().Field("document_id", req.DocumentID, common.Required).Err(); err != nil {
		return nil, err
	}
	doc, err := s.Documents.Get(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	log := s.log(ctx, doc.ID)

	parsed, err := parsedFor(doc, req.Draft)
	if err != nil {
		return nil, err
	}
	parsed.Signature = signature.FromFields(parsed.Fields)

	res, err := s.Validator.Validate(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	if !state.IsTerminal(doc.Status) {
		if _, err := s.Tracker.Advance(ctx, doc.ID, doc.Status, entity.DocumentUpdate{
			ValidationStatus:  &res.Status,
			OverallConfidence: &res.OverallConfidence,
		}); err != nil {
			log.Warn("validate.record.failed", "err", err)
		}
	}

	log.Info("validate.done",
		"status", res.Status,
		"reasons", len(res.Reasons),
		"confidence", res.OverallConfidence,
		"elapsed_ms", time.Since(start).Milliseconds())
	reasons := res.Reasons
	if reasons == nil {
		reasons = []entity.ValidationReason{}
	}
	return &ValidateResponse{
		DocumentID:        doc.ID,
		Status:            res.Status,
		NormalizedJSON:    validation.Normalize(doc.ID, parsed),
		Reasons:           reasons,
		Badges:            res.Badges,
		OverallConfidence: res.OverallConfidence,
	}, nil
}

func parsedFor(doc *entity.Document, draft *ParseResponse) (*entity.ParsedDocument, error) {
	if draft != nil {
		return &entity.ParsedDocument{
			DocumentID:      doc.ID,
			Fields:          draft.Fields,
			Items:           draft.Items,
			Notes:           draft.Notes,
			Inconsistencies: draft.Inconsistencies,
			Model:           draft.ParserModel,
		}, nil
	}
	if doc.Fields == nil {
		return nil, ErrNotParsed
	}
	return &entity.ParsedDocument{
		DocumentID:        doc.ID,
		Fields:            *doc.Fields,
		Items:             doc.Items,
		Model:             doc.ParserModel,
		Signature:         doc.Signature,
		OverallConfidence: doc.OverallConfidence,
	}, nil
}

// Write commits the normalized record as a transaction.
func (s *Service) Write(ctx context.Context, req WriteRequest) (*WriteResponse, error) {
	if err := common.NewValidator().
		Field("document_id", req.DocumentID, common.Required).
		Field("description", req.Description, common.MaxLength(500)).
		Err(); err != nil {
		return nil, err
	}
	doc, err := s.Documents.Get(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	// terminal documents never get a new transaction, forced or not
	if err := state.CanTransition(doc.Status, constants.StatusTransactionCreated); err != nil {
		return nil, err
	}

	rec := req.NormalizedJSON
	if rec == nil {
		parsed, err := parsedFor(doc, nil)
		if err != nil {
			return nil, err
		}
		n := validation.Normalize(doc.ID, parsed)
		rec = &n
	}
	if err := common.NewValidator().
		Field("currency", rec.Currency, common.CurrencyCode).
		Field("transaction_type", rec.TransactionType, common.OneOf(constants.TransactionExpense, constants.TransactionIncome)).
		Err(); err != nil {
		return nil, err
	}

	sig := rec.Signature
	if sig == "" {
		sig = signature.Semantic(rec.Merchant, rec.Date, rec.Total)
	}
	categoryID := req.CategoryID
	if categoryID == nil {
		categoryID = rec.SuggestedCategoryID
	}
	paymentMethodID := req.PaymentMethodID
	if paymentMethodID == nil {
		paymentMethodID = rec.SuggestedPaymentMethodID
	}

	res, err := s.Writer.Write(ctx, writer.Request{
		DocumentID:      doc.ID,
		UserID:          doc.UserID,
		Signature:       sig,
		Force:           req.Force,
		CategoryID:      categoryID,
		CategoryType:    rec.TransactionType,
		PaymentMethodID: paymentMethodID,
		Amount:          rec.Total,
		Currency:        rec.Currency,
		Merchant:        deref(rec.Merchant),
		Date:            deref(rec.Date),
		Description:     req.Description,
	})
	if err != nil {
		return nil, err
	}
	return &WriteResponse{DocumentID: doc.ID, TransactionID: res.TransactionID, Status: res.Status}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
