package models

// DefaultFilename is used when an upload or envelope carries no file name.
const DefaultFilename = "unknown.csv"

// Envelope is the message body moved through the broker.
//
// Wire format (JSON):
//
//	{"filename": "quotes.csv", "content": "symbol,name,price\n...", "country": "usa"}
type Envelope struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Country  string `json:"country"`

	// MessageID is the broker message id the envelope arrived under. It is not
	// part of the body; the consumer fills it from the delivery.
	MessageID string `json:"-"`
}

// Receipt is returned to the uploader once the envelope is on the exchange.
//
// swagger:model Receipt
type Receipt struct {
	Status    string `json:"status" example:"published"`
	Exchange  string `json:"exchange" example:"yahoo_finance"`
	Filename  string `json:"filename" example:"quotes.csv"`
	Bytes     int    `json:"bytes" example:"2048"`
	MessageID string `json:"message_id" example:"5f0c4a0e-6a57-4f5e-9c39-1b0f2f3f6f11"`
}
