package entity

// CatalogEntry represents a category or payment method offered to the parser.
type CatalogEntry struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Catalog is the set of names the parser may suggest ids from.
type Catalog struct {
	ExpenseCategories []CatalogEntry `json:"expense_categories"`
	IncomeCategories  []CatalogEntry `json:"income_categories"`
	PaymentMethods    []CatalogEntry `json:"payment_methods"`
}

// IsEmpty reports whether the catalog has no entries at all.
func (c Catalog) IsEmpty() bool {
	return len(c.ExpenseCategories) == 0 && len(c.IncomeCategories) == 0 && len(c.PaymentMethods) == 0
}
