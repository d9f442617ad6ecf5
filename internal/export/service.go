package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

const (
	sheetTransactions = "Transactions"
	sheetReview       = "Review"
)

type TransactionLister interface {
	List(ctx context.Context, filter repository.TransactionFilter) ([]*entity.Transaction, error)
}

type DocumentLister interface {
	List(ctx context.Context, filter repository.ListFilter) ([]*entity.Document, error)
}

type CatalogLoader interface {
	Load(ctx context.Context) (entity.Catalog, error)
}

// Filter selects what goes into a workbook. Dates are inclusive.
type Filter struct {
	UserID string
	From   *time.Time
	To     *time.Time
}

// Service produces XLSX workbooks of committed transactions and of the
// documents awaiting review.
type Service struct {
	txs     TransactionLister
	docs    DocumentLister
	catalog CatalogLoader
	logger  *slog.Logger
}

func NewService(txs TransactionLister, docs DocumentLister, catalog CatalogLoader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{txs: txs, docs: docs, catalog: catalog, logger: logger}
}

// ExportXLSX returns the workbook bytes.
// If only From is provided -> From..today (inclusive).
func (s *Service) ExportXLSX(ctx context.Context, filter Filter) ([]byte, error) {
	start := time.Now()

	tf := repository.TransactionFilter{UserID: filter.UserID}
	if filter.From != nil {
		tf.From = filter.From.UTC().Format(constants.DateLayout)
		if filter.To == nil {
			tf.To = time.Now().UTC().Format(constants.DateLayout)
		}
	}
	if filter.To != nil {
		tf.To = filter.To.UTC().Format(constants.DateLayout)
	}

	txs, err := s.txs.List(ctx, tf)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	docs, err := s.docs.List(ctx, repository.ListFilter{UserID: filter.UserID, Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	names := map[string]map[int64]string{}
	if s.catalog != nil {
		cat, err := s.catalog.Load(ctx)
		if err != nil {
			s.logger.Warn("export.catalog.failed", "err", err)
		}
		names = catalogNames(cat)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := writeTransactions(f, txs, names); err != nil {
		return nil, err
	}
	reviewed, err := writeReview(f, docs)
	if err != nil {
		return nil, err
	}
	// NewFile starts with Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	if idx, err := f.GetSheetIndex(sheetTransactions); err == nil {
		f.SetActiveSheet(idx)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", filter.UserID,
		"transactions", len(txs),
		"review_rows", reviewed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeTransactions(f *excelize.File, txs []*entity.Transaction, names map[string]map[int64]string) error {
	if _, err := f.NewSheet(sheetTransactions); err != nil {
		return err
	}
	headers := []string{
		"Transaction Date",
		"Merchant",
		"Category",
		"Type",
		"Payment Method",
		"Amount",
		"Currency",
		"Description",
		"Document ID",
	}
	if err := writeHeaders(f, sheetTransactions, headers); err != nil {
		return err
	}

	for i, t := range txs {
		categoryKind := constants.CatalogExpenseCategory
		if t.CategoryType == constants.TransactionIncome {
			categoryKind = constants.CatalogIncomeCategory
		}
		err := writeRow(f, sheetTransactions, i+2,
			t.Date,
			t.Merchant,
			lookup(names[categoryKind], t.CategoryID),
			t.CategoryType,
			lookup(names[constants.CatalogPaymentMethod], t.PaymentMethodID),
			t.Amount.InexactFloat64(),
			t.Currency,
			truncate(t.Description, 140),
			t.DocumentID,
		)
		if err != nil {
			return err
		}
	}

	_ = f.SetColWidth(sheetTransactions, "A", "A", 14) // date
	_ = f.SetColWidth(sheetTransactions, "B", "C", 28)
	_ = f.SetColWidth(sheetTransactions, "E", "E", 18)
	_ = f.SetColWidth(sheetTransactions, "H", "H", 48)
	_ = f.SetColWidth(sheetTransactions, "I", "I", 38)
	return nil
}

// writeReview lists documents that did not end as a committed transaction.
func writeReview(f *excelize.File, docs []*entity.Document) (int, error) {
	if _, err := f.NewSheet(sheetReview); err != nil {
		return 0, err
	}
	headers := []string{
		"Document ID",
		"File",
		"Status",
		"Validation",
		"Confidence",
		"Merchant",
		"Date",
		"Total",
		"Provider",
		"Error",
	}
	if err := writeHeaders(f, sheetReview, headers); err != nil {
		return 0, err
	}

	row := 2
	for _, d := range docs {
		if d.Status == constants.StatusTransactionCreated {
			continue
		}
		var merchant, date, total string
		if d.Fields != nil {
			merchant, _ = d.Fields.Merchant.Get()
			date, _ = d.Fields.Date.Get()
			if v, ok := d.Fields.Total.Get(); ok {
				total = v.StringFixed(2)
			}
		}
		perr := ""
		if d.ProcessingError != nil {
			perr = truncate(*d.ProcessingError, 200)
		}
		err := writeRow(f, sheetReview, row,
			d.ID,
			d.StoragePath,
			string(d.Status),
			string(d.ValidationStatus),
			d.OverallConfidence,
			merchant,
			date,
			total,
			d.ExtractionProvider,
			perr,
		)
		if err != nil {
			return 0, err
		}
		row++
	}
	_ = f.SetColWidth(sheetReview, "A", "A", 38)
	_ = f.SetColWidth(sheetReview, "B", "B", 48)
	_ = f.SetColWidth(sheetReview, "C", "D", 20)
	_ = f.SetColWidth(sheetReview, "J", "J", 60)
	return row - 2, nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func writeHeaders(f *excelize.File, sheet string, headers []string) error {
	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	return writeRow(f, sheet, 1, values...)
}

func catalogNames(cat entity.Catalog) map[string]map[int64]string {
	index := func(entries []entity.CatalogEntry) map[int64]string {
		m := make(map[int64]string, len(entries))
		for _, e := range entries {
			m[e.ID] = e.Name
		}
		return m
	}
	return map[string]map[int64]string{
		constants.CatalogExpenseCategory: index(cat.ExpenseCategories),
		constants.CatalogIncomeCategory:  index(cat.IncomeCategories),
		constants.CatalogPaymentMethod:   index(cat.PaymentMethods),
	}
}

func lookup(names map[int64]string, id *int64) string {
	if id == nil {
		return ""
	}
	if n, ok := names[*id]; ok {
		return n
	}
	return fmt.Sprint(*id)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
