// Package fingerprint provides the two deterministic identities used for
// deduplication: the content hash of an uploaded file and the business key of
// an extracted invoice.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Content returns the hex sha256 of the raw file bytes. Identical bytes map to
// the same fingerprint regardless of file name.
func Content(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Amount formats a monetary value as a fixed-point string with exactly two
// fraction digits (half-up at the boundary). The second return is false for
// NaN or infinite inputs, which must be stored as null.
func Amount(v float64) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	return decimal.NewFromFloat(v).StringFixed(2), true
}

// BusinessKeyInput carries the five semantic fields a business key is derived
// from. All of them must be present for a key to exist.
type BusinessKeyInput struct {
	SupplierName  string
	InvoiceNumber string
	InvoiceDate   string // YYYY-MM-DD
	AmountTTC     float64
	Currency      string
}

// BusinessKey derives the deduplication key for a real-world invoice: the hex
// sha256 of the normalized fields joined with '|'. Supplier and number are
// trimmed and lower-cased, currency trimmed and upper-cased, the total amount
// fixed to two decimals, the date used as-is. The delimiter prevents
// field-boundary collisions. Returns false when the amount is not finite.
func BusinessKey(in BusinessKeyInput) (string, bool) {
	amount, ok := Amount(in.AmountTTC)
	if !ok {
		return "", false
	}
	normalized := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(in.SupplierName)),
		strings.ToLower(strings.TrimSpace(in.InvoiceNumber)),
		in.InvoiceDate,
		amount,
		strings.ToUpper(strings.TrimSpace(in.Currency)),
	}, "|")
	return Content([]byte(normalized)), true
}
