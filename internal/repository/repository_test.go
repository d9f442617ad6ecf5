package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/state"
	"github.com/joseph-ayodele/receipts-pipeline/internal/writer"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := OpenSQLite(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func newDoc(id string) *entity.Document {
	return &entity.Document{
		ID:          id,
		UserID:      "user-1",
		StoragePath: "uploads/" + id + ".pdf",
		MimeType:    constants.MimePDF,
		ContentHash: "hash-" + id,
	}
}

func TestDocuments_CreateGet(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentRepository(db, nil)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newDoc("d1")))

	got, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, constants.StatusIngested, got.Status)
	assert.Equal(t, "hash-d1", got.ContentHash)
	assert.Nil(t, got.Fields)
	assert.Nil(t, got.ProcessingError)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestDocuments_CompareAndSetStatus(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentRepository(db, nil)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newDoc("d1")))

	raw := "STARBUCKS\nTOTAL 12.50"
	provider := constants.ProviderNativeText
	conf := 0.95
	ok, err := repo.CompareAndSetStatus(ctx, "d1", constants.StatusIngested, constants.StatusOCRCompleted,
		entity.DocumentUpdate{RawText: &raw, ExtractionProvider: &provider, ExtractionConfidence: &conf})
	require.NoError(t, err)
	assert.True(t, ok)

	// stale expectation loses
	ok, err = repo.CompareAndSetStatus(ctx, "d1", constants.StatusIngested, constants.StatusFailed, entity.DocumentUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)

	fields := &entity.Fields{
		Merchant: entity.NewField("Starbucks", 0.95),
		Total:    entity.NewField(decimal.RequireFromString("12.50"), 0.98),
		Tax:      entity.NullField[decimal.Decimal](0.2),
	}
	items := []entity.LineItem{{Name: "Latte", Amount: decimal.RequireFromString("11.50"), Confidence: 0.9}}
	sig := "sig-1"
	ok, err = repo.CompareAndSetStatus(ctx, "d1", constants.StatusOCRCompleted, constants.StatusParsed,
		entity.DocumentUpdate{Fields: fields, Items: items, Signature: &sig})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, constants.StatusParsed, got.Status)
	assert.Equal(t, raw, got.RawText)
	assert.Equal(t, constants.ProviderNativeText, got.ExtractionProvider)
	assert.InDelta(t, 0.95, got.ExtractionConfidence, 1e-9)
	assert.Equal(t, "sig-1", got.Signature)
	require.NotNil(t, got.Fields)
	merchant, _ := got.Fields.Merchant.Get()
	assert.Equal(t, "Starbucks", merchant)
	total, _ := got.Fields.Total.Get()
	assert.True(t, total.Equal(decimal.RequireFromString("12.50")))
	assert.True(t, got.Fields.Tax.IsNull())
	assert.Nil(t, got.Fields.Date)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Latte", got.Items[0].Name)
}

func TestDocuments_TrackerRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentRepository(db, nil)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newDoc("d1")))

	tracker := state.NewTracker(repo, nil)
	_, err := tracker.Advance(ctx, "d1", constants.StatusProcessing, entity.DocumentUpdate{})
	require.NoError(t, err)
	require.NoError(t, tracker.Fail(ctx, "d1", assert.AnError))

	got, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, got.Status)
	require.NotNil(t, got.ProcessingError)
	assert.Equal(t, assert.AnError.Error(), *got.ProcessingError)

	_, err = tracker.Advance(ctx, "d1", constants.StatusParsed, entity.DocumentUpdate{})
	assert.ErrorIs(t, err, state.ErrTerminalState)
}

func TestDocuments_FindByContentHashAndList(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentRepository(db, nil)
	ctx := context.Background()

	a, b := newDoc("a"), newDoc("b")
	b.ContentHash = a.ContentHash
	c := newDoc("c")
	c.UserID = "user-2"
	for _, d := range []*entity.Document{a, b, c} {
		require.NoError(t, repo.Create(ctx, d))
	}

	dup, err := repo.FindByContentHash(ctx, a.ContentHash, "b")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, "a", dup.ID)

	none, err := repo.FindByContentHash(ctx, c.ContentHash, "c")
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := repo.List(ctx, ListFilter{UserID: "user-2", Status: constants.StatusIngested})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "c", mine[0].ID)
}

func TestTransactions_SignatureGuard(t *testing.T) {
	db := openTestDB(t)
	txs := NewTransactionRepository(db, nil)
	sigs := NewSignatureIndex(db, nil)
	ctx := context.Background()

	exists, err := sigs.Exists(ctx, "sig-1")
	require.NoError(t, err)
	assert.False(t, exists)

	catID := int64(1)
	created, err := txs.Create(ctx, entity.Transaction{
		DocumentID:   "d1",
		UserID:       "user-1",
		Signature:    "sig-1",
		CategoryID:   &catID,
		CategoryType: constants.TransactionExpense,
		Amount:       decimal.RequireFromString("12.5"),
		Currency:     "MYR",
		Merchant:     "Starbucks",
		Date:         "2024-01-15",
	}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	exists, err = sigs.Exists(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = txs.Create(ctx, entity.Transaction{DocumentID: "d2", UserID: "user-1", Signature: "sig-1",
		CategoryType: constants.TransactionExpense, Amount: decimal.NewFromInt(5), Currency: "MYR"}, false)
	assert.ErrorIs(t, err, writer.ErrDuplicateSignature)

	_, err = txs.Create(ctx, entity.Transaction{DocumentID: "d3", UserID: "user-1", Signature: "sig-1",
		CategoryType: constants.TransactionExpense, Amount: decimal.NewFromInt(5), Currency: "MYR"}, true)
	require.NoError(t, err)

	list, err := txs.List(ctx, TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []string{list[0].DocumentID, list[1].DocumentID}
	assert.ElementsMatch(t, []string{"d1", "d3"}, ids)

	ranged, err := txs.List(ctx, TransactionFilter{From: "2024-01-01", To: "2024-01-31"})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "12.50", ranged[0].Amount.StringFixed(2))
	require.NotNil(t, ranged[0].CategoryID)
	assert.Equal(t, int64(1), *ranged[0].CategoryID)
	assert.Nil(t, ranged[0].PaymentMethodID)
}

func TestTransactions_ConcurrentCommitsCreateOnce(t *testing.T) {
	db := openTestDB(t)
	txs := NewTransactionRepository(db, nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dups    int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := txs.Create(ctx, entity.Transaction{DocumentID: fmt.Sprintf("d%d", i), UserID: "u",
				Signature: "same", CategoryType: "expense", Amount: decimal.NewFromInt(1), Currency: "MYR"}, false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, writer.ErrDuplicateSignature):
				dups++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, 7, dups)
}

func TestCatalog_SeedIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := NewCatalogRepository(db, nil)
	ctx := context.Background()

	empty, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	require.NoError(t, repo.Seed(ctx))
	require.NoError(t, repo.Seed(ctx))

	cat, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, cat.ExpenseCategories, len(constants.DefaultExpenseCategories))
	assert.Len(t, cat.IncomeCategories, len(constants.DefaultIncomeCategories))
	assert.Len(t, cat.PaymentMethods, len(constants.DefaultPaymentMethods))
	assert.Equal(t, int64(1), cat.ExpenseCategories[0].ID)
	assert.Equal(t, "Meals", cat.ExpenseCategories[0].Name)
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background(), 0))
	assert.Equal(t, "sqlite3", db.Dialect())
}
