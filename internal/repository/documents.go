package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

var documentColumns = []string{
	"id", "user_id", "storage_path", "mime_type", "ingest_kind", "content_hash", "status",
	"raw_text", "extraction_provider", "extraction_confidence", "fields", "items", "signature",
	"parser_model", "validation_status", "overall_confidence", "processing_error",
	"transaction_id", "created_at", "updated_at",
}

// ListFilter narrows document listings. Zero values mean no filter.
type ListFilter struct {
	Status constants.DocumentStatus
	UserID string
	Limit  int
	Offset int
}

type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	Get(ctx context.Context, id string) (*entity.Document, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to constants.DocumentStatus, upd entity.DocumentUpdate) (bool, error)
	FindByContentHash(ctx context.Context, hash, excludeID string) (*entity.Document, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.Document, error)
}

type documentRepository struct {
	db     *DB
	now    func() time.Time
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepository{db: db, now: time.Now, logger: logger}
}

func (r *documentRepository) Create(ctx context.Context, doc *entity.Document) error {
	now := r.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = constants.StatusIngested
	}
	fields, items, err := encodeParsed(doc.Fields, doc.Items)
	if err != nil {
		return err
	}

	q, args := entsql.Dialect(r.db.Dialect()).
		Insert(tableDocuments).
		Columns(documentColumns...).
		Values(
			doc.ID, doc.UserID, doc.StoragePath, doc.MimeType, nullStr(string(doc.IngestKind)), nullStr(doc.ContentHash),
			string(doc.Status), nullStr(doc.RawText), nullStr(doc.ExtractionProvider), doc.ExtractionConfidence,
			fields, items, nullStr(doc.Signature), nullStr(doc.ParserModel), nullStr(string(doc.ValidationStatus)),
			doc.OverallConfidence, derefOrNil(doc.ProcessingError), derefOrNil(doc.TransactionID), doc.CreatedAt, doc.UpdatedAt,
		).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to create document", "document_id", doc.ID, "error", err)
		return fmt.Errorf("%w: insert document: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *documentRepository) Get(ctx context.Context, id string) (*entity.Document, error) {
	b := entsql.Dialect(r.db.Dialect())
	q, args := b.Select(documentColumns...).
		From(b.Table(tableDocuments)).
		Where(entsql.EQ("id", id)).
		Query()
	docs, err := r.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return docs[0], nil
}

// CompareAndSetStatus writes upd and the new status only while the stored
// status still equals from.
func (r *documentRepository) CompareAndSetStatus(ctx context.Context, id string, from, to constants.DocumentStatus, upd entity.DocumentUpdate) (bool, error) {
	u := entsql.Dialect(r.db.Dialect()).
		Update(tableDocuments).
		Set("status", string(to)).
		Set("updated_at", r.now().UTC())

	if upd.IngestKind != nil {
		u.Set("ingest_kind", string(*upd.IngestKind))
	}
	if upd.RawText != nil {
		u.Set("raw_text", *upd.RawText)
	}
	if upd.ExtractionProvider != nil {
		u.Set("extraction_provider", *upd.ExtractionProvider)
	}
	if upd.ExtractionConfidence != nil {
		u.Set("extraction_confidence", *upd.ExtractionConfidence)
	}
	if upd.Fields != nil || upd.Items != nil {
		fields, items, err := encodeParsed(upd.Fields, upd.Items)
		if err != nil {
			return false, err
		}
		if upd.Fields != nil {
			u.Set("fields", fields)
		}
		if upd.Items != nil {
			u.Set("items", items)
		}
	}
	if upd.Signature != nil {
		u.Set("signature", *upd.Signature)
	}
	if upd.ParserModel != nil {
		u.Set("parser_model", *upd.ParserModel)
	}
	if upd.ValidationStatus != nil {
		u.Set("validation_status", string(*upd.ValidationStatus))
	}
	if upd.OverallConfidence != nil {
		u.Set("overall_confidence", *upd.OverallConfidence)
	}
	if upd.ProcessingError != nil {
		u.Set("processing_error", *upd.ProcessingError)
	}
	if upd.TransactionID != nil {
		u.Set("transaction_id", *upd.TransactionID)
	}

	q, args := u.Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(from)))).Query()
	var res entsql.Result
	if err := r.db.drv.Exec(ctx, q, args, &res); err != nil {
		r.logger.Error("failed to update document status", "document_id", id, "to", to, "error", err)
		return false, fmt.Errorf("%w: update document: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	}
	return n == 1, nil
}

// FindByContentHash returns the oldest other document with the same raw bytes,
// or nil when there is none.
func (r *documentRepository) FindByContentHash(ctx context.Context, hash, excludeID string) (*entity.Document, error) {
	if hash == "" {
		return nil, nil
	}
	b := entsql.Dialect(r.db.Dialect())
	q, args := b.Select(documentColumns...).
		From(b.Table(tableDocuments)).
		Where(entsql.And(entsql.EQ("content_hash", hash), entsql.NEQ("id", excludeID))).
		OrderBy("created_at").
		Limit(1).
		Query()
	docs, err := r.query(ctx, q, args)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (r *documentRepository) List(ctx context.Context, filter ListFilter) ([]*entity.Document, error) {
	b := entsql.Dialect(r.db.Dialect())
	sel := b.Select(documentColumns...).From(b.Table(tableDocuments))
	var preds []*entsql.Predicate
	if filter.Status != "" {
		preds = append(preds, entsql.EQ("status", string(filter.Status)))
	}
	if filter.UserID != "" {
		preds = append(preds, entsql.EQ("user_id", filter.UserID))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	sel.OrderBy(entsql.Desc("created_at")).Limit(limit)
	if filter.Offset > 0 {
		sel.Offset(filter.Offset)
	}
	q, args := sel.Query()
	return r.query(ctx, q, args)
}

func (r *documentRepository) query(ctx context.Context, q string, args []any) ([]*entity.Document, error) {
	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("failed to query documents", "error", err)
		return nil, fmt.Errorf("%w: query documents: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(&rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate documents: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func scanDocument(rows *entsql.Rows) (*entity.Document, error) {
	var (
		doc    entity.Document
		status string

		kind, hash, raw, provider, fields, items entsql.NullString
		sig, model, vstatus, perr, txID          entsql.NullString
	)
	err := rows.Scan(
		&doc.ID, &doc.UserID, &doc.StoragePath, &doc.MimeType, &kind, &hash, &status,
		&raw, &provider, &doc.ExtractionConfidence, &fields, &items, &sig,
		&model, &vstatus, &doc.OverallConfidence, &perr,
		&txID, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: scan document: %v", common.ErrDatabase, err)
	}
	doc.IngestKind = constants.IngestKind(kind.String)
	doc.ContentHash = hash.String
	doc.Status = constants.DocumentStatus(status)
	doc.RawText = raw.String
	doc.ExtractionProvider = provider.String
	doc.Signature = sig.String
	doc.ParserModel = model.String
	doc.ValidationStatus = constants.ValidationStatus(vstatus.String)
	if perr.Valid {
		doc.ProcessingError = &perr.String
	}
	if txID.Valid {
		doc.TransactionID = &txID.String
	}
	if fields.Valid && fields.String != "" {
		doc.Fields = &entity.Fields{}
		if err := json.Unmarshal([]byte(fields.String), doc.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", doc.ID, err)
		}
	}
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &doc.Items); err != nil {
			return nil, fmt.Errorf("decode items of %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func encodeParsed(fields *entity.Fields, items []entity.LineItem) (any, any, error) {
	var f, it any
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return nil, nil, fmt.Errorf("encode fields: %w", err)
		}
		f = string(b)
	}
	if items != nil {
		b, err := json.Marshal(items)
		if err != nil {
			return nil, nil, fmt.Errorf("encode items: %w", err)
		}
		it = string(b)
	}
	return f, it, nil
}

func derefOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
