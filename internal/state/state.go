// Package state guards document status transitions.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrTerminalState     = errors.New("document is in a terminal state")
	ErrConcurrentUpdate  = errors.New("document status changed concurrently")
	ErrUnknownStatus     = errors.New("unknown document status")
)

var rank = map[constants.DocumentStatus]int{
	constants.StatusIngested:           0,
	constants.StatusProcessing:         1,
	constants.StatusOCRCompleted:       2,
	constants.StatusParsed:             3,
	constants.StatusTransactionCreated: 4,
	constants.StatusSkippedDuplicate:   4,
}

// IsTerminal reports whether no further transition may leave s.
func IsTerminal(s constants.DocumentStatus) bool {
	switch s {
	case constants.StatusTransactionCreated, constants.StatusSkippedDuplicate, constants.StatusFailed:
		return true
	}
	return false
}

// CanTransition returns nil when a document may move from one status to another.
func CanTransition(from, to constants.DocumentStatus) error {
	if _, ok := constants.ParseStatus(string(from)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if _, ok := constants.ParseStatus(string(to)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if IsTerminal(from) {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalState, from, to)
	}
	if to == constants.StatusFailed || from == to {
		return nil
	}
	if rank[to] > rank[from] {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// StatusStore reads documents and swaps their status atomically.
type StatusStore interface {
	Get(ctx context.Context, id string) (*entity.Document, error)
	// CompareAndSetStatus applies upd and moves the document to `to` only if its
	// status is still `from`. It reports false when the status did not match.
	CompareAndSetStatus(ctx context.Context, id string, from, to constants.DocumentStatus, upd entity.DocumentUpdate) (bool, error)
}

// Tracker advances documents through the status machine.
type Tracker struct {
	store  StatusStore
	logger *slog.Logger
}

func NewTracker(store StatusStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger}
}

// Advance moves document id to status `to`, writing upd in the same update.
// It returns the document's previous status.
func (t *Tracker) Advance(ctx context.Context, id string, to constants.DocumentStatus, upd entity.DocumentUpdate) (constants.DocumentStatus, error) {
	doc, err := t.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	from := doc.Status
	if err := CanTransition(from, to); err != nil {
		t.logger.Warn("state.transition.rejected", "document_id", id, "from", from, "to", to, "err", err)
		return from, err
	}
	ok, err := t.store.CompareAndSetStatus(ctx, id, from, to, upd)
	if err != nil {
		return from, fmt.Errorf("update status: %w", err)
	}
	if !ok {
		t.logger.Warn("state.transition.conflict", "document_id", id, "from", from, "to", to)
		return from, fmt.Errorf("%w: expected %s", ErrConcurrentUpdate, from)
	}
	t.logger.Debug("state.transition", "document_id", id, "from", from, "to", to)
	return from, nil
}

// Fail moves the document to failed and records cause as its processing error.
func (t *Tracker) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	_, err := t.Advance(ctx, id, constants.StatusFailed, entity.DocumentUpdate{ProcessingError: &msg})
	return err
}
