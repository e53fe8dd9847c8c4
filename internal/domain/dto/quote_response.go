package dto

import "time"

// QuoteResponse represents the JSON structure returned by the
// GET /api/v1/quotes/latest endpoint.
//
// Price and Name are null when the source CSV cell was blank or unparseable.
type QuoteResponse struct {
	Symbol    string    `json:"symbol" example:"AAPL"`
	Name      *string   `json:"name" example:"Apple"`
	Price     *float64  `json:"price" example:"150.25"`
	Country   string    `json:"country" example:"Usa"`
	CreatedAt time.Time `json:"created_at"`
}
