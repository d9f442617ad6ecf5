package constants

// CatalogSeed is a default catalog row: categories and payment methods the
// catalog table is seeded with when empty.
type CatalogSeed struct {
	ID          int64
	Name        string
	Description string
}

// Catalog kinds, stored in the catalog_entries.kind column.
const (
	CatalogExpenseCategory = "expense_category"
	CatalogIncomeCategory  = "income_category"
	CatalogPaymentMethod   = "payment_method"
)

var DefaultExpenseCategories = []CatalogSeed{
	{ID: 1, Name: "Meals", Description: "Food or drink purchases"},
	{ID: 2, Name: "Groceries", Description: "Supermarket and household consumables"},
	{ID: 3, Name: "Transport", Description: "Ride-share, taxi, fuel, tolls, parking"},
	{ID: 4, Name: "Travel", Description: "Airfare, lodging, baggage"},
	{ID: 5, Name: "Utilities", Description: "Electricity, water, internet, phone plans"},
	{ID: 6, Name: "Office Supplies", Description: "Consumables and small accessories"},
	{ID: 7, Name: "Office Equipment", Description: "Durable hardware and peripherals"},
	{ID: 8, Name: "Software Subscription", Description: "Recurring SaaS and licenses"},
	{ID: 9, Name: "Healthcare", Description: "Clinic, pharmacy, insurance"},
	{ID: 10, Name: "Other", Description: "Use only when nothing else applies"},
}

var DefaultIncomeCategories = []CatalogSeed{
	{ID: 101, Name: "Salary", Description: "Regular employment income"},
	{ID: 102, Name: "Refund", Description: "Merchant refunds and reversals"},
	{ID: 103, Name: "Other Income", Description: "Anything else received"},
}

var DefaultPaymentMethods = []CatalogSeed{
	{ID: 1, Name: "Cash"},
	{ID: 2, Name: "Credit Card"},
	{ID: 3, Name: "Debit Card"},
	{ID: 4, Name: "E-Wallet"},
	{ID: 5, Name: "Bank Transfer"},
}
