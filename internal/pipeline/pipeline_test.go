package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/classify"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/signature"
	"github.com/joseph-ayodele/receipts-pipeline/internal/state"
	"github.com/joseph-ayodele/receipts-pipeline/internal/storage"
	"github.com/joseph-ayodele/receipts-pipeline/internal/validation"
	"github.com/joseph-ayodele/receipts-pipeline/internal/writer"
)

const receiptText = `STARBUCKS COFFEE
Jalan Ampang, Kuala Lumpur
15/01/2024 08:42
Latte            11.50
SST 6%            1.00
TOTAL RM         12.50
VISA ****1234`

var fixedNow = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) (extract.Result, error) {
	if f.err != nil {
		return extract.Result{}, f.err
	}
	return extract.Result{
		Text:       f.text,
		Provider:   constants.ProviderTesseract,
		Confidence: constants.OCRConfidence,
		Latency:    15 * time.Millisecond,
		Attempts: []extract.Attempt{
			{Provider: constants.ProviderTesseract, Phase: extract.PhaseSucceeded, Elapsed: 15 * time.Millisecond},
		},
	}, nil
}

type fakeParser struct {
	err   error
	calls int
}

func (f *fakeParser) Parse(_ context.Context, documentID, _ string, _ entity.Catalog) (*entity.ParsedDocument, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	doc := starbucks(documentID)
	return doc, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func starbucks(documentID string) *entity.ParsedDocument {
	fields := entity.Fields{
		Merchant:                 entity.NewField("Starbucks", 0.95),
		Date:                     entity.NewField("2024-01-15", 0.9),
		Total:                    entity.NewField(dec("12.50"), 0.98),
		Subtotal:                 entity.NewField(dec("11.50"), 0.85),
		Tax:                      entity.NewField(dec("1.00"), 0.85),
		Currency:                 entity.NewField("MYR", 0.9),
		PaymentMethod:            entity.NewField("Visa", 0.8),
		TransactionType:          entity.NewField("expense", 0.9),
		SuggestedCategoryID:      entity.NewField(int64(1), 0.8),
		SuggestedPaymentMethodID: entity.NullField[int64](0),
	}
	return &entity.ParsedDocument{
		DocumentID:        documentID,
		Fields:            fields,
		Items:             []entity.LineItem{{Name: "Latte", Amount: dec("11.50"), Confidence: 0.9}},
		Inconsistencies:   []string{},
		Model:             "test-model",
		Signature:         signature.FromFields(fields),
		OverallConfidence: 0.94,
	}
}

type harness struct {
	svc       *Service
	docs      repository.DocumentRepository
	txs       repository.TransactionRepository
	extractor *fakeExtractor
	parser    *fakeParser
	dir       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := repository.OpenSQLite(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	catalog := repository.NewCatalogRepository(db, nil)
	require.NoError(t, catalog.Seed(ctx))

	docs := repository.NewDocumentRepository(db, nil)
	txs := repository.NewTransactionRepository(db, nil)
	sigs := repository.NewSignatureIndex(db, nil)
	tracker := state.NewTracker(docs, nil)

	h := &harness{
		docs:      docs,
		txs:       txs,
		extractor: &fakeExtractor{text: receiptText},
		parser:    &fakeParser{},
		dir:       t.TempDir(),
	}
	h.svc = NewService(Deps{
		Documents:  docs,
		Storage:    storage.NewFS(h.dir, nil),
		Classifier: classify.New(nil, nil),
		Extractor:  h.extractor,
		Parser:     h.parser,
		Catalog:    catalog,
		Validator:  validation.NewEngine(sigs, validation.Options{Now: func() time.Time { return fixedNow }}, nil),
		Writer:     writer.New(sigs, txs, tracker, nil),
		Tracker:    tracker,
	}, Options{}, nil)
	return h
}

func (h *harness) ingest(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte(content), 0o600))
	res, err := h.svc.Ingest(context.Background(), IngestRequest{UserID: "user-1", FileURL: name})
	require.NoError(t, err)
	return res.DocumentID
}

func TestProcess_StarbucksEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.ingest(t, "starbucks.jpg", "jpeg-bytes")

	out, err := h.svc.Process(ctx, id, false)
	require.NoError(t, err)

	assert.Equal(t, constants.StatusTransactionCreated, out.Status)
	require.NotNil(t, out.Extract)
	assert.Equal(t, constants.ProviderTesseract, out.Extract.Provider)
	require.NotNil(t, out.Parse)
	require.NotNil(t, out.Validate)
	assert.Equal(t, constants.ValidationApproved, out.Validate.Status)
	assert.Empty(t, out.Validate.Reasons)
	assert.Equal(t, map[string]string{"status": "Auto-Approved", "confidence": "High"}, out.Validate.Badges)
	require.NotNil(t, out.Write)
	assert.Equal(t, constants.WriteCreated, out.Write.Status)
	assert.NotEmpty(t, out.Write.TransactionID)

	doc, err := h.docs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.IngestScanned, doc.IngestKind)
	assert.Equal(t, receiptText, doc.RawText)
	assert.Equal(t, constants.ValidationApproved, doc.ValidationStatus)
	require.NotNil(t, doc.TransactionID)
	assert.Equal(t, out.Write.TransactionID, *doc.TransactionID)

	txs, err := h.txs.List(ctx, repository.TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, dec("12.50").Equal(txs[0].Amount))
	assert.Equal(t, "MYR", txs[0].Currency)
	assert.Equal(t, "Starbucks", txs[0].Merchant)
	require.NotNil(t, txs[0].CategoryID)
	assert.Equal(t, int64(1), *txs[0].CategoryID)

	// terminal documents are returned untouched
	again, err := h.svc.Process(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusTransactionCreated, again.Status)
	assert.Nil(t, again.Extract)
	assert.Equal(t, 1, h.parser.calls)
}

func TestProcess_DuplicateReceipt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.ingest(t, "a.jpg", "photo-one")
	_, err := h.svc.Process(ctx, first, false)
	require.NoError(t, err)

	second := h.ingest(t, "b.jpg", "photo-two")
	out, err := h.svc.Process(ctx, second, false)
	require.NoError(t, err)
	assert.Equal(t, constants.ValidationRejected, out.Validate.Status)
	require.Len(t, out.Validate.Reasons, 1)
	assert.Equal(t, constants.ReasonDuplicate, out.Validate.Reasons[0].Code)
	require.NotNil(t, out.Write)
	assert.Equal(t, constants.WriteSkippedDuplicate, out.Write.Status)
	assert.Equal(t, constants.StatusSkippedDuplicate, out.Status)

	forced := h.ingest(t, "c.jpg", "photo-three")
	out, err = h.svc.Process(ctx, forced, true)
	require.NoError(t, err)
	assert.Equal(t, constants.WriteCreated, out.Write.Status)
	assert.Equal(t, constants.StatusTransactionCreated, out.Status)

	txs, err := h.txs.List(ctx, repository.TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestProcess_ExtractionFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.extractor.err = extract.ErrNoProviderAvailable
	id := h.ingest(t, "x.png", "png")

	_, err := h.svc.Process(ctx, id, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrNoProviderAvailable)

	doc, err := h.docs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, doc.Status)
	require.NotNil(t, doc.ProcessingError)
	assert.Contains(t, *doc.ProcessingError, "text extraction failed")
}

func TestProcess_ShortTextFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.extractor.text = "  RM 1.00  "
	id := h.ingest(t, "tiny.jpg", "tiny")

	_, err := h.svc.Process(ctx, id, false)
	assert.ErrorIs(t, err, ErrTextTooShort)
	assert.Zero(t, h.parser.calls)

	doc, err := h.docs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, doc.Status)
}

func TestIngest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("missing fields", func(t *testing.T) {
		_, err := h.svc.Ingest(ctx, IngestRequest{FileURL: "a.pdf"})
		assert.ErrorIs(t, err, common.ErrInvalidInput)
		assert.True(t, common.IsClientError(err))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := h.svc.Ingest(ctx, IngestRequest{UserID: "u", FileURL: "nope.pdf"})
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "r.jpg"), []byte("same-bytes"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "r-copy.jpg"), []byte("same-bytes"), 0o600))

	first, err := h.svc.Ingest(ctx, IngestRequest{DocumentID: "doc-1", UserID: "u", FileURL: "r.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", first.DocumentID)
	assert.Equal(t, constants.StatusIngested, first.Status)
	assert.Equal(t, constants.IngestScanned, first.IngestKind)
	assert.Equal(t, signature.ContentHash([]byte("same-bytes")), first.SHA256)
	assert.Empty(t, first.DuplicateOf)

	t.Run("same content is flagged not rejected", func(t *testing.T) {
		res, err := h.svc.Ingest(ctx, IngestRequest{UserID: "u", FileURL: "r-copy.jpg"})
		require.NoError(t, err)
		assert.NotEqual(t, "doc-1", res.DocumentID)
		assert.Equal(t, "doc-1", res.DuplicateOf)
	})

	t.Run("existing id returns stored document", func(t *testing.T) {
		res, err := h.svc.Ingest(ctx, IngestRequest{DocumentID: "doc-1", UserID: "u", FileURL: "elsewhere.pdf"})
		require.NoError(t, err)
		assert.Equal(t, "r.jpg", res.StorageURL)
		assert.Equal(t, constants.IngestScanned, res.IngestKind)
	})
}

func TestParse_RawTextOverride(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.ingest(t, "p.jpg", "p")

	_, err := h.svc.Parse(ctx, ParseRequest{DocumentID: id, RawText: "too short"})
	assert.ErrorIs(t, err, ErrTextTooShort)
	assert.True(t, common.IsClientError(err))

	res, err := h.svc.Parse(ctx, ParseRequest{DocumentID: id, RawText: receiptText})
	require.NoError(t, err)
	assert.Equal(t, "test-model", res.ParserModel)
	assert.NotEmpty(t, res.Signature)
	assert.NotNil(t, res.Inconsistencies)

	doc, err := h.docs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusParsed, doc.Status)
	assert.Equal(t, receiptText, doc.RawText)
	require.NotNil(t, doc.Fields)
	v, ok := doc.Fields.Merchant.Get()
	require.True(t, ok)
	assert.Equal(t, "Starbucks", v)
}

func TestValidate_Draft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.ingest(t, "v.jpg", "v")

	_, err := h.svc.Validate(ctx, ValidateRequest{DocumentID: id})
	assert.ErrorIs(t, err, ErrNotParsed)

	draft := starbucks(id)
	draft.Fields.Total = entity.NullField[decimal.Decimal](0)
	res, err := h.svc.Validate(ctx, ValidateRequest{DocumentID: id, Draft: &ParseResponse{
		Fields: draft.Fields,
		Items:  draft.Items,
	}})
	require.NoError(t, err)
	assert.Equal(t, constants.ValidationRejected, res.Status)
	assert.Nil(t, res.NormalizedJSON.Total)
	assert.Equal(t, "MYR", res.NormalizedJSON.Currency)

	doc, err := h.docs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusIngested, doc.Status)
	assert.Equal(t, constants.ValidationRejected, doc.ValidationStatus)
}

func TestWrite_AmountRequired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.ingest(t, "w.jpg", "w")

	merchant := "Starbucks"
	_, err := h.svc.Write(ctx, WriteRequest{DocumentID: id, NormalizedJSON: &entity.NormalizedRecord{
		DocumentID:      id,
		Merchant:        &merchant,
		Currency:        "MYR",
		TransactionType: constants.TransactionExpense,
	}})
	assert.ErrorIs(t, err, writer.ErrAmountRequired)
	assert.True(t, common.IsClientError(err))

	_, err = h.svc.Write(ctx, WriteRequest{DocumentID: id, NormalizedJSON: &entity.NormalizedRecord{
		Currency:        "ringgit",
		TransactionType: constants.TransactionExpense,
	}})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestWrite_TerminalDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.extractor.err = errors.New("ocr down")
	id := h.ingest(t, "f.jpg", "failed-doc")
	_, err := h.svc.Process(ctx, id, false)
	require.Error(t, err)

	rec := validation.Normalize(id, starbucks(id))
	for _, force := range []bool{false, true} {
		_, err = h.svc.Write(ctx, WriteRequest{DocumentID: id, NormalizedJSON: &rec, Force: force})
		assert.ErrorIs(t, err, state.ErrTerminalState)
	}

	txs, err := h.txs.List(ctx, repository.TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, txs)
	doc, err := h.docs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, doc.Status)
}

func TestWrite_AfterCreatedIsRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.ingest(t, "s.jpg", "starbucks")
	out, err := h.svc.Process(ctx, id, false)
	require.NoError(t, err)
	require.Equal(t, constants.StatusTransactionCreated, out.Status)

	_, err = h.svc.Write(ctx, WriteRequest{DocumentID: id, Force: true})
	assert.ErrorIs(t, err, state.ErrTerminalState)

	txs, err := h.txs.List(ctx, repository.TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestExtract_UnknownDocument(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Extract(context.Background(), ExtractRequest{DocumentID: "missing"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExtract_TerminalDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.ingest(t, "t.jpg", "t")
	h.extractor.err = errors.New("boom")
	_, err := h.svc.Extract(ctx, ExtractRequest{DocumentID: id})
	require.Error(t, err)

	_, err = h.svc.Extract(ctx, ExtractRequest{DocumentID: id})
	assert.ErrorIs(t, err, state.ErrTerminalState)
}
