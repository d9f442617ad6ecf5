// Package signature computes document identities: a content hash over raw
// bytes and a semantic signature over the normalized merchant, date and total.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

const (
	unknownPart = "unknown"
	zeroTotal   = "0"
	separator   = "|"
)

// ContentHash returns the hex sha256 of the raw file bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Semantic returns the hex sha256 of normalized merchant, date and total.
// Missing parts fall back to "unknown", "unknown" and "0".
func Semantic(merchant, date *string, total *decimal.Decimal) string {
	m, d, t := unknownPart, unknownPart, zeroTotal
	if merchant != nil {
		if v := NormalizeMerchant(*merchant); v != "" {
			m = v
		}
	}
	if date != nil {
		if v := strings.TrimSpace(*date); v != "" {
			d = v
		}
	}
	if total != nil {
		t = total.StringFixed(2)
	}
	sum := sha256.Sum256([]byte(m + separator + d + separator + t))
	return hex.EncodeToString(sum[:])
}

// FromFields computes the semantic signature of parsed fields.
func FromFields(f entity.Fields) string {
	var merchant, date *string
	var total *decimal.Decimal
	if !f.Merchant.IsNull() {
		merchant = f.Merchant.Value
	}
	if !f.Date.IsNull() {
		date = f.Date.Value
	}
	if !f.Total.IsNull() {
		total = f.Total.Value
	}
	return Semantic(merchant, date, total)
}

// NormalizeMerchant lowercases the name and collapses runs of whitespace.
func NormalizeMerchant(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
