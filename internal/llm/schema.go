package llm

// Keys of the parse completion object. Every key is required; absence of a
// value is expressed as {"value": null}.
var ParseFieldKeys = []string{
	"merchant", "date", "total", "subtotal", "tax", "currency",
	"payment_method", "transaction_type", "suggested_category_id", "suggested_payment_method_id",
}

// BuildParseSchema returns the JSON-Schema every parse completion must satisfy.
// It is sent to the model and used locally as the single validation gate.
func BuildParseSchema() map[string]any {
	props := map[string]any{
		"merchant":                    fieldProp("string"),
		"date":                        fieldProp("string"),
		"total":                       fieldProp("number"),
		"subtotal":                    fieldProp("number"),
		"tax":                         fieldProp("number"),
		"currency":                    fieldProp("string"),
		"payment_method":              fieldProp("string"),
		"transaction_type":            fieldProp("string"),
		"suggested_category_id":       fieldProp("integer"),
		"suggested_payment_method_id": fieldProp("integer"),
		"items": map[string]any{
			"type":  "array",
			"items": itemProp(),
		},
		"notes": map[string]any{"type": []any{"string", "null"}},
	}
	required := append(append([]string{}, ParseFieldKeys...), "items", "notes")

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func fieldProp(valueType string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"value":      map[string]any{"type": []any{valueType, "null"}},
			"confidence": confidenceProp(),
		},
		"required": []string{"value"},
	}
}

func itemProp() map[string]any {
	nullableNumber := map[string]any{"type": []any{"number", "null"}}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":       map[string]any{"type": "string"},
			"qty":        nullableNumber,
			"unit_price": nullableNumber,
			"amount":     map[string]any{"type": "number"},
			"confidence": confidenceProp(),
		},
		"required": []string{"name", "amount"},
	}
}

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}
