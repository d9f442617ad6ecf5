package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tableDocuments    = "documents"
	tableTransactions = "transactions"
	tableSignatures   = "signatures"
	tableCatalog      = "catalog_entries"
)

var textType = map[string]string{dialect.Postgres: "text", dialect.SQLite: "text"}

func strCol(name string, size int64, nullable bool) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Size: size, Nullable: nullable}
}

func textCol(name string, nullable bool) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, SchemaType: textType, Nullable: nullable}
}

func timeCol(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeTime}
}

func floatCol(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeFloat64, Default: 0}
}

// Tables returns the relational layout of the pipeline store.
func Tables() []*schema.Table {
	documents := schema.NewTable(tableDocuments).
		AddPrimary(strCol("id", 36, false)).
		AddColumn(strCol("user_id", 64, false)).
		AddColumn(textCol("storage_path", false)).
		AddColumn(strCol("mime_type", 64, false)).
		AddColumn(strCol("ingest_kind", 16, true)).
		AddColumn(strCol("content_hash", 64, true)).
		AddColumn(strCol("status", 32, false)).
		AddColumn(textCol("raw_text", true)).
		AddColumn(strCol("extraction_provider", 32, true)).
		AddColumn(floatCol("extraction_confidence")).
		AddColumn(textCol("fields", true)).
		AddColumn(textCol("items", true)).
		AddColumn(strCol("signature", 64, true)).
		AddColumn(strCol("parser_model", 128, true)).
		AddColumn(strCol("validation_status", 32, true)).
		AddColumn(floatCol("overall_confidence")).
		AddColumn(textCol("processing_error", true)).
		AddColumn(strCol("transaction_id", 36, true)).
		AddColumn(timeCol("created_at")).
		AddColumn(timeCol("updated_at")).
		AddIndex("documents_content_hash", false, []string{"content_hash"}).
		AddIndex("documents_status", false, []string{"status"})

	transactions := schema.NewTable(tableTransactions).
		AddPrimary(strCol("id", 36, false)).
		AddColumn(strCol("document_id", 36, false)).
		AddColumn(strCol("user_id", 64, false)).
		AddColumn(strCol("signature", 64, false)).
		AddColumn(&schema.Column{Name: "category_id", Type: field.TypeInt64, Nullable: true}).
		AddColumn(strCol("category_type", 16, false)).
		AddColumn(&schema.Column{Name: "payment_method_id", Type: field.TypeInt64, Nullable: true}).
		AddColumn(&schema.Column{Name: "amount", Type: field.TypeString, Size: 32,
			SchemaType: map[string]string{dialect.Postgres: "numeric(14,2)"}}).
		AddColumn(strCol("currency", 3, false)).
		AddColumn(strCol("merchant", 255, true)).
		AddColumn(strCol("date", 10, true)).
		AddColumn(textCol("description", true)).
		AddColumn(timeCol("created_at")).
		AddIndex("transactions_document_id", false, []string{"document_id"}).
		AddIndex("transactions_signature", false, []string{"signature"})

	// signatures is the duplicate index; its primary key is the commit guard
	signatures := schema.NewTable(tableSignatures).
		AddPrimary(strCol("signature", 64, false)).
		AddColumn(strCol("transaction_id", 36, false)).
		AddColumn(strCol("document_id", 36, false)).
		AddColumn(timeCol("created_at"))

	catalog := schema.NewTable(tableCatalog).
		AddPrimary(strCol("kind", 32, false)).
		AddPrimary(&schema.Column{Name: "id", Type: field.TypeInt64}).
		AddColumn(strCol("name", 128, false)).
		AddColumn(textCol("description", true))

	return []*schema.Table{documents, transactions, signatures, catalog}
}

// Migrate creates missing tables, columns and indexes. It never drops anything.
func (d *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(d.drv)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Create(ctx, Tables()...); err != nil {
		d.logger.Error("schema migration failed", "error", err)
		return fmt.Errorf("migrate: %w", err)
	}
	d.logger.Info("schema migrated", "tables", len(Tables()))
	return nil
}
