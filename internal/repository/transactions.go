package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/writer"
)

var transactionColumns = []string{
	"id", "document_id", "user_id", "signature", "category_id", "category_type",
	"payment_method_id", "amount", "currency", "merchant", "date", "description", "created_at",
}

// TransactionFilter narrows transaction listings; From/To compare the receipt date.
type TransactionFilter struct {
	UserID string
	From   string
	To     string
}

type TransactionRepository interface {
	// Create inserts tx and records its signature in one database transaction.
	// Without force a signature committed earlier yields writer.ErrDuplicateSignature.
	Create(ctx context.Context, tx entity.Transaction, force bool) (*entity.Transaction, error)
	List(ctx context.Context, filter TransactionFilter) ([]*entity.Transaction, error)
}

type transactionRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewTransactionRepository(db *DB, logger *slog.Logger) TransactionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &transactionRepository{db: db, logger: logger}
}

func (r *transactionRepository) Create(ctx context.Context, t entity.Transaction, force bool) (*entity.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	b := entsql.Dialect(r.db.Dialect())

	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		if t.Signature != "" {
			q, args := b.Insert(tableSignatures).
				Columns("signature", "transaction_id", "document_id", "created_at").
				Values(t.Signature, t.ID, t.DocumentID, t.CreatedAt).
				OnConflict(entsql.ConflictColumns("signature"), entsql.DoNothing()).
				Query()
			var res entsql.Result
			if err := tx.Exec(ctx, q, args, &res); err != nil {
				return fmt.Errorf("%w: insert signature: %v", common.ErrDatabase, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
			}
			if n == 0 && !force {
				return writer.ErrDuplicateSignature
			}
		}

		q, args := b.Insert(tableTransactions).
			Columns(transactionColumns...).
			Values(
				t.ID, t.DocumentID, t.UserID, t.Signature, derefOrNil(t.CategoryID), t.CategoryType,
				derefOrNil(t.PaymentMethodID), t.Amount.StringFixed(2), t.Currency, nullStr(t.Merchant),
				nullStr(t.Date), nullStr(t.Description), t.CreatedAt,
			).
			Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("%w: insert transaction: %v", common.ErrDatabase, err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, writer.ErrDuplicateSignature) {
			r.logger.Error("failed to create transaction", "document_id", t.DocumentID, "error", err)
		}
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) List(ctx context.Context, filter TransactionFilter) ([]*entity.Transaction, error) {
	b := entsql.Dialect(r.db.Dialect())
	sel := b.Select(transactionColumns...).From(b.Table(tableTransactions))
	var preds []*entsql.Predicate
	if filter.UserID != "" {
		preds = append(preds, entsql.EQ("user_id", filter.UserID))
	}
	if filter.From != "" {
		preds = append(preds, entsql.GTE("date", filter.From))
	}
	if filter.To != "" {
		preds = append(preds, entsql.LTE("date", filter.To))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	q, args := sel.OrderBy("date", "created_at").Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("failed to list transactions", "error", err)
		return nil, fmt.Errorf("%w: query transactions: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Transaction
	for rows.Next() {
		var (
			t                     entity.Transaction
			catID, pmID           entsql.NullInt64
			amount                string
			merchant, date, descr entsql.NullString
		)
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.UserID, &t.Signature, &catID, &t.CategoryType,
			&pmID, &amount, &t.Currency, &merchant, &date, &descr, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", common.ErrDatabase, err)
		}
		if catID.Valid {
			t.CategoryID = &catID.Int64
		}
		if pmID.Valid {
			t.PaymentMethodID = &pmID.Int64
		}
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("decode amount of %s: %w", t.ID, err)
		}
		t.Amount = amt
		t.Merchant, t.Date, t.Description = merchant.String, date.String, descr.String
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate transactions: %v", common.ErrDatabase, err)
	}
	return out, nil
}
