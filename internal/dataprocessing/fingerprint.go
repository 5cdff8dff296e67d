package dataprocessing

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"donorpulse/pkg/contracts/domain"
)

// Fingerprint returns a SHA-256 content hash of a raw table. Two tables with
// the same columns and rows in the same order share a fingerprint.
func Fingerprint(table *domain.RawTable) string {
	h := sha256.New()
	if table == nil {
		return hex.EncodeToString(h.Sum(nil))
	}
	io.WriteString(h, strings.Join(table.Columns, "\x1f"))
	io.WriteString(h, "\x1e")
	for _, row := range table.Rows {
		writeOptional(h, row.Name)
		writeOptional(h, row.Account)
		writeDecimal(h, row.Amount)
		writeDecimal(h, row.Credit)
		io.WriteString(h, row.Sheet)
		io.WriteString(h, "\x1e")
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeOptional(w io.Writer, s *string) {
	if s == nil {
		io.WriteString(w, "\x00\x1f")
		return
	}
	io.WriteString(w, "="+*s+"\x1f")
}

func writeDecimal(w io.Writer, d decimal.NullDecimal) {
	if !d.Valid {
		io.WriteString(w, "\x00\x1f")
		return
	}
	io.WriteString(w, "="+d.Decimal.String()+"\x1f")
}
