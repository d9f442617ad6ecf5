package repository

import (
	"context"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

// SignatureIndex answers duplicate lookups against committed signatures.
type SignatureIndex interface {
	Exists(ctx context.Context, signature string) (bool, error)
}

type signatureIndex struct {
	db     *DB
	logger *slog.Logger
}

func NewSignatureIndex(db *DB, logger *slog.Logger) SignatureIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &signatureIndex{db: db, logger: logger}
}

func (s *signatureIndex) Exists(ctx context.Context, signature string) (bool, error) {
	if signature == "" {
		return false, nil
	}
	b := entsql.Dialect(s.db.Dialect())
	q, args := b.Select("signature").
		From(b.Table(tableSignatures)).
		Where(entsql.EQ("signature", signature)).
		Limit(1).
		Query()
	var rows entsql.Rows
	if err := s.db.drv.Query(ctx, q, args, &rows); err != nil {
		s.logger.Error("signature lookup failed", "error", err)
		return false, fmt.Errorf("%w: signature lookup: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("%w: signature lookup: %v", common.ErrDatabase, err)
	}
	return found, nil
}
