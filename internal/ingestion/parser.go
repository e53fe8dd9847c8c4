package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/guttosm/quoteflow/internal/domain/models"
)

// Canonical column keys read by ExtractRows.
const (
	colSymbol = "symbol"
	colName   = "name"
	colPrice  = "price"
)

const byteOrderMark = "\ufeff"

// NormalizeHeader maps a raw CSV header cell to its canonical key so files with
// variant casing or spacing land on the same columns.
//
//	" Price "    → "price"
//	"Last Price" → "last_price"
//	"last-price" → "last_price"
func NormalizeHeader(raw string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch r {
		case ' ', '\t', '-', '_':
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseRows parses comma-delimited text into one field mapping per data row,
// keyed by NormalizeHeader of the first record.
//
// It tolerates:
//   - a leading UTF-8 BOM
//   - rows shorter than the header (missing columns are simply absent)
//   - rows longer than the header (extra cells are ignored)
//   - blank lines (skipped by the reader)
//
// It fails only when the reader itself cannot tokenise the input.
func ParseRows(csvText string) ([]map[string]string, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(csvText, byteOrderMark)))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = NormalizeHeader(h)
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", len(rows)+2, err)
		}

		n := min(len(rec), len(keys))
		row := make(map[string]string, n)
		for i := 0; i < n; i++ {
			row[keys[i]] = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParsePrice converts a price cell into a decimal, resolving ambiguous separators:
//
//   - "1,234.56" → 1234.56 (comma is a thousands separator when a period is present)
//   - "1234,56"  → 1234.56 (a lone comma is the decimal separator)
//   - "1 234.5"  → 1234.5
//
// Blank or non-numeric input yields an invalid NullDecimal; it never fails.
// So does a value the float8 price column cannot hold ("1e400", "1e-400").
func ParsePrice(raw string) decimal.NullDecimal {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.NullDecimal{}
	}

	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if f := d.InexactFloat64(); math.IsInf(f, 0) || (f == 0 && !d.IsZero()) {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// ExtractRows turns normalized field mappings into quotes.
//
// Rules:
//   - rows whose trimmed symbol is empty are dropped silently
//   - a blank name becomes nil
//   - the price goes through ParsePrice
//   - country is title-cased ("usa" → "Usa", "united states" → "United States")
//   - CreatedAt is now, in UTC
func ExtractRows(rows []map[string]string, country string, now time.Time) []models.Quote {
	titled := cases.Title(language.Und).String(strings.TrimSpace(country))
	stamp := now.UTC()

	out := make([]models.Quote, 0, len(rows))
	for _, row := range rows {
		symbol := strings.TrimSpace(row[colSymbol])
		if symbol == "" {
			continue
		}

		var name *string
		if n := strings.TrimSpace(row[colName]); n != "" {
			name = &n
		}

		out = append(out, models.Quote{
			Symbol:    symbol,
			Name:      name,
			Price:     ParsePrice(row[colPrice]),
			Country:   titled,
			CreatedAt: stamp,
		})
	}
	return out
}
