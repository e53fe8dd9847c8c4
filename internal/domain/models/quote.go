package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote represents a single persisted row of the yahoo_finance table.
//
// Fields:
//   - Symbol: instrument ticker, always non-empty and trimmed.
//   - Name: instrument display name; nil when the CSV cell was blank.
//   - Price: last price; invalid (NULL) when the CSV cell could not be parsed.
//   - Country: title-cased country the upload was tagged with (e.g. "Usa").
//   - CreatedAt: UTC time the row was extracted from its envelope.
type Quote struct {
	Symbol    string
	Name      *string
	Price     decimal.NullDecimal
	Country   string
	CreatedAt time.Time
}

// Batch is the unit of persistence: every valid row extracted from one envelope.
// Key identifies the envelope content so a redelivered message is stored once.
type Batch struct {
	Key      string
	Filename string
	Country  string
	Rows     []Quote
}
