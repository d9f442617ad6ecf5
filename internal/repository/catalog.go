package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

type CatalogRepository interface {
	// Load returns every category and payment method ordered by id.
	Load(ctx context.Context) (entity.Catalog, error)
	// Seed inserts the default catalog rows that are missing.
	Seed(ctx context.Context) error
}

type catalogRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewCatalogRepository(db *DB, logger *slog.Logger) CatalogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &catalogRepository{db: db, logger: logger}
}

func (r *catalogRepository) Load(ctx context.Context) (entity.Catalog, error) {
	b := entsql.Dialect(r.db.Dialect())
	q, args := b.Select("kind", "id", "name", "description").
		From(b.Table(tableCatalog)).
		OrderBy("kind", "id").
		Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("failed to load catalog", "error", err)
		return entity.Catalog{}, fmt.Errorf("%w: load catalog: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var cat entity.Catalog
	for rows.Next() {
		var (
			kind  string
			e     entity.CatalogEntry
			descr entsql.NullString
		)
		if err := rows.Scan(&kind, &e.ID, &e.Name, &descr); err != nil {
			return entity.Catalog{}, fmt.Errorf("%w: scan catalog: %v", common.ErrDatabase, err)
		}
		e.Description = descr.String
		switch kind {
		case constants.CatalogExpenseCategory:
			cat.ExpenseCategories = append(cat.ExpenseCategories, e)
		case constants.CatalogIncomeCategory:
			cat.IncomeCategories = append(cat.IncomeCategories, e)
		case constants.CatalogPaymentMethod:
			cat.PaymentMethods = append(cat.PaymentMethods, e)
		default:
			r.logger.Warn("unknown catalog kind", "kind", kind, "id", e.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return entity.Catalog{}, fmt.Errorf("%w: iterate catalog: %v", common.ErrDatabase, err)
	}
	return cat, nil
}

func (r *catalogRepository) Seed(ctx context.Context) error {
	seeds := map[string][]constants.CatalogSeed{
		constants.CatalogExpenseCategory: constants.DefaultExpenseCategories,
		constants.CatalogIncomeCategory:  constants.DefaultIncomeCategories,
		constants.CatalogPaymentMethod:   constants.DefaultPaymentMethods,
	}
	ins := entsql.Dialect(r.db.Dialect()).
		Insert(tableCatalog).
		Columns("kind", "id", "name", "description")
	for kind, rows := range seeds {
		for _, s := range rows {
			ins.Values(kind, s.ID, s.Name, nullStr(s.Description))
		}
	}
	q, args := ins.OnConflict(entsql.ConflictColumns("kind", "id"), entsql.DoNothing()).Query()

	return r.db.withTx(ctx, func(tx dialect.Tx) error {
		var res entsql.Result
		if err := tx.Exec(ctx, q, args, &res); err != nil {
			r.logger.Error("failed to seed catalog", "error", err)
			return fmt.Errorf("%w: seed catalog: %v", common.ErrDatabase, err)
		}
		n, _ := res.RowsAffected()
		r.logger.Info("catalog seeded", "inserted", n)
		return nil
	})
}
