package dto

import "time"

// ErrorResponse is the JSON body returned for every non-2xx response.
//
// Fields:
//   - Message: human-readable summary safe to show to callers.
//   - ErrorDetails: underlying error text, omitted when there is none.
//   - Timestamp: UTC time the error was produced.
type ErrorResponse struct {
	Message      string    `json:"message" example:"invalid upload"`
	ErrorDetails string    `json:"error,omitempty" example:"csv must be utf-8"`
	Timestamp    time.Time `json:"timestamp"`
}

// Error implements the error interface so an ErrorResponse can travel through gin's c.Error.
func (e ErrorResponse) Error() string {
	if e.ErrorDetails == "" {
		return e.Message
	}
	return e.Message + ": " + e.ErrorDetails
}

// NewErrorResponse builds an ErrorResponse, copying err's text into ErrorDetails when err is non-nil.
func NewErrorResponse(message string, err error) ErrorResponse {
	resp := ErrorResponse{Message: message, Timestamp: time.Now().UTC()}
	if err != nil {
		resp.ErrorDetails = err.Error()
	}
	return resp
}
