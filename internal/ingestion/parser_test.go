package ingestion

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		" Price ":        "price",
		"price":          "price",
		"PRICE":          "price",
		"Last Price":     "last_price",
		"last-price":     "last_price",
		"last__price":    "last_price",
		"  Last - Price": "last_price",
		"_symbol_":       "symbol",
		"":               "",
	}
	for in, want := range cases {
		if got := NormalizeHeader(in); got != want {
			t.Errorf("NormalizeHeader(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseRows(t *testing.T) {
	t.Run("header normalized and rows mapped", func(t *testing.T) {
		rows, err := ParseRows("Symbol, Name ,PRICE\nAAPL,Apple,150.25\nMSFT,Microsoft,300\n")
		if err != nil {
			t.Fatalf("ParseRows: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("want 2 rows, got %d", len(rows))
		}
		if rows[0]["symbol"] != "AAPL" || rows[0]["name"] != "Apple" || rows[0]["price"] != "150.25" {
			t.Fatalf("unexpected first row %v", rows[0])
		}
	})

	t.Run("bom stripped", func(t *testing.T) {
		rows, err := ParseRows("\ufeffsymbol,price\nAAPL,1\n")
		if err != nil {
			t.Fatalf("ParseRows: %v", err)
		}
		if len(rows) != 1 || rows[0]["symbol"] != "AAPL" {
			t.Fatalf("bom not stripped: %v", rows)
		}
	})

	t.Run("short and long rows", func(t *testing.T) {
		rows, err := ParseRows("symbol,name,price\nAAPL\nMSFT,Microsoft,300,extra,cells\n")
		if err != nil {
			t.Fatalf("ParseRows: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("want 2 rows, got %d", len(rows))
		}
		if _, ok := rows[0]["name"]; ok {
			t.Fatalf("short row should not carry name: %v", rows[0])
		}
		if len(rows[1]) != 3 {
			t.Fatalf("long row should keep header width, got %v", rows[1])
		}
	})

	t.Run("blank lines skipped", func(t *testing.T) {
		rows, err := ParseRows("symbol\n\nAAPL\n\n\nMSFT\n")
		if err != nil {
			t.Fatalf("ParseRows: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("want 2 rows, got %d", len(rows))
		}
	})

	t.Run("empty text", func(t *testing.T) {
		rows, err := ParseRows("")
		if err != nil || len(rows) != 0 {
			t.Fatalf("want empty result, got %v, %v", rows, err)
		}
	})

	t.Run("header only", func(t *testing.T) {
		rows, err := ParseRows("symbol,name,price\n")
		if err != nil || len(rows) != 0 {
			t.Fatalf("want empty result, got %v, %v", rows, err)
		}
	})
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in    string
		want  string
		valid bool
	}{
		{"1,234.56", "1234.56", true},
		{"1234,56", "1234.56", true},
		{"1 234.5", "1234.5", true},
		{" 150.25 ", "150.25", true},
		{"-3", "-3", true},
		{"", "", false},
		{"   ", "", false},
		{"N/A", "", false},
		{"1.2.3", "", false},
		{"1e400", "", false},
		{"-1e400", "", false},
		{"1e-400", "", false},
		{"0", "0", true},
		{"1.5e3", "1500", true},
	}
	for _, tc := range cases {
		got := ParsePrice(tc.in)
		if got.Valid != tc.valid {
			t.Errorf("ParsePrice(%q).Valid = %v, want %v", tc.in, got.Valid, tc.valid)
			continue
		}
		if tc.valid && !got.Decimal.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("ParsePrice(%q) = %s, want %s", tc.in, got.Decimal, tc.want)
		}
	}
}

func TestExtractRows(t *testing.T) {
	now := time.Date(2025, 9, 11, 9, 30, 0, 0, time.FixedZone("BRT", -3*3600))
	rows := []map[string]string{
		{"symbol": " AAPL ", "name": " Apple ", "price": "150.25"},
		{"symbol": "   ", "name": "Ghost", "price": "1"},
		{"name": "No Symbol"},
		{"symbol": "MSFT", "name": "", "price": "n/a"},
	}

	got := ExtractRows(rows, "united states", now)
	if len(got) != 2 {
		t.Fatalf("want 2 quotes, got %d: %+v", len(got), got)
	}

	aapl := got[0]
	if aapl.Symbol != "AAPL" || aapl.Name == nil || *aapl.Name != "Apple" {
		t.Fatalf("unexpected AAPL quote %+v", aapl)
	}
	if !aapl.Price.Valid || !aapl.Price.Decimal.Equal(decimal.RequireFromString("150.25")) {
		t.Fatalf("unexpected AAPL price %+v", aapl.Price)
	}
	if aapl.Country != "United States" {
		t.Fatalf("country not title-cased: %q", aapl.Country)
	}
	if aapl.CreatedAt.Location() != time.UTC || !aapl.CreatedAt.Equal(now) {
		t.Fatalf("created_at should be now in UTC, got %v", aapl.CreatedAt)
	}

	msft := got[1]
	if msft.Name != nil || msft.Price.Valid {
		t.Fatalf("blank name and bad price should be null: %+v", msft)
	}
}

func TestExtractRows_Country(t *testing.T) {
	rows := []map[string]string{{"symbol": "AAPL"}}
	for in, want := range map[string]string{"usa": "Usa", " BRAZIL ": "Brazil", "": ""} {
		got := ExtractRows(rows, in, time.Now())
		if got[0].Country != want {
			t.Errorf("country %q: got %q want %q", in, got[0].Country, want)
		}
	}
}

func TestExtractRows_OutOfRangePriceKeepsRow(t *testing.T) {
	rows := []map[string]string{
		{"symbol": "HUGE", "price": "1e400"},
		{"symbol": "AAPL", "price": "150.25"},
	}
	got := ExtractRows(rows, "usa", time.Now())
	if len(got) != 2 {
		t.Fatalf("rows must not be dropped for a bad price, got %d", len(got))
	}
	if got[0].Price.Valid {
		t.Fatalf("out-of-range price should be null, got %s", got[0].Price.Decimal)
	}
	if !got[1].Price.Valid {
		t.Fatalf("neighbouring row lost its price")
	}
}
