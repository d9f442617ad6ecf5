// Package writer commits validated documents as transactions.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/state"
)

var (
	ErrAmountRequired = common.NewAppError("AMOUNT_REQUIRED", "amount must be present and non-zero", common.ErrValidation)
	// ErrDuplicateSignature is returned by a TransactionStore when the
	// signature was committed concurrently and force was not set.
	ErrDuplicateSignature = errors.New("signature already committed")
)

type DuplicateIndex interface {
	Exists(ctx context.Context, signature string) (bool, error)
}

// TransactionStore persists a transaction and records its signature in the
// same database transaction.
type TransactionStore interface {
	Create(ctx context.Context, tx entity.Transaction, force bool) (*entity.Transaction, error)
}

// Tracker is the subset of state.Tracker the writer drives.
type Tracker interface {
	Advance(ctx context.Context, id string, to constants.DocumentStatus, upd entity.DocumentUpdate) (constants.DocumentStatus, error)
	Fail(ctx context.Context, id string, cause error) error
}

type Request struct {
	DocumentID      string
	UserID          string
	Signature       string
	Force           bool
	CategoryID      *int64
	CategoryType    string
	PaymentMethodID *int64
	Amount          *decimal.Decimal
	Currency        string
	Merchant        string
	Date            string
	Description     string
}

type Result struct {
	Status        constants.WriteStatus `json:"status"`
	TransactionID string                `json:"transaction_id,omitempty"`
}

type Writer struct {
	dups    DuplicateIndex
	store   TransactionStore
	tracker Tracker
	logger  *slog.Logger
}

func New(dups DuplicateIndex, store TransactionStore, tracker Tracker, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dups: dups, store: store, tracker: tracker, logger: logger}
}

// Write commits req unless its signature was already committed. A document that
// already reached a terminal status keeps it; the outcome is still reported.
func (w *Writer) Write(ctx context.Context, req Request) (Result, error) {
	log := common.LoggerFrom(ctx, w.logger).With("document_id", req.DocumentID)
	start := time.Now()

	if req.Amount == nil || req.Amount.IsZero() {
		return Result{}, ErrAmountRequired
	}

	if !req.Force && req.Signature != "" {
		dup, err := w.dups.Exists(ctx, req.Signature)
		if err != nil {
			return Result{}, fmt.Errorf("duplicate lookup: %w", err)
		}
		if dup {
			return w.skipDuplicate(ctx, log, req)
		}
	}

	created, err := w.store.Create(ctx, entity.Transaction{
		DocumentID:      req.DocumentID,
		UserID:          req.UserID,
		Signature:       req.Signature,
		CategoryID:      req.CategoryID,
		CategoryType:    orDefault(req.CategoryType, constants.DefaultTransactionType),
		PaymentMethodID: req.PaymentMethodID,
		Amount:          *req.Amount,
		Currency:        orDefault(req.Currency, constants.DefaultCurrency),
		Merchant:        req.Merchant,
		Date:            req.Date,
		Description:     req.Description,
	}, req.Force)
	if errors.Is(err, ErrDuplicateSignature) && !req.Force {
		return w.skipDuplicate(ctx, log, req)
	}
	if err != nil {
		log.Error("write.commit.failed", "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		if ferr := w.tracker.Fail(ctx, req.DocumentID, err); ferr != nil {
			log.Warn("write.fail_status.failed", "err", ferr)
		}
		return Result{}, fmt.Errorf("commit transaction: %w", err)
	}

	id := created.ID
	if _, err := w.tracker.Advance(ctx, req.DocumentID, constants.StatusTransactionCreated, entity.DocumentUpdate{TransactionID: &id}); err != nil {
		if !errors.Is(err, state.ErrTerminalState) {
			return Result{}, fmt.Errorf("advance status: %w", err)
		}
		log.Warn("write.status.terminal", "transaction_id", id)
	}
	log.Info("write.created", "transaction_id", id, "force", req.Force, "elapsed_ms", time.Since(start).Milliseconds())
	return Result{Status: constants.WriteCreated, TransactionID: id}, nil
}

func (w *Writer) skipDuplicate(ctx context.Context, log *slog.Logger, req Request) (Result, error) {
	if _, err := w.tracker.Advance(ctx, req.DocumentID, constants.StatusSkippedDuplicate, entity.DocumentUpdate{}); err != nil {
		if !errors.Is(err, state.ErrTerminalState) {
			return Result{}, fmt.Errorf("advance status: %w", err)
		}
	}
	log.Info("write.skipped_duplicate", "signature", req.Signature)
	return Result{Status: constants.WriteSkippedDuplicate}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
