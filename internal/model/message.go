package model

import "time"

// Processing error reasons recorded on a RawMessage. These are terminal
// classifications until an operator explicitly retries the message.
const (
	ErrReasonServiceUnavailable = "service unavailable"
	ErrReasonExtractionFailed   = "extraction failed"
)

// RawMessage is an inbound supplier message awaiting (or past) extraction.
// Immutable once created except for the processed/error fields, which
// transition exactly once from unprocessed to processed.
type RawMessage struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Sender          string    `json:"sender"`
	Content         string    `json:"content"`
	ReceivedAt      time.Time `json:"received_at"`
	Processed       bool      `json:"processed"`
	ProcessingError string    `json:"processing_error,omitempty"`
}

// Failed reports whether the message was processed but yielded no quote.
func (m RawMessage) Failed() bool {
	return m.Processed && m.ProcessingError != ""
}
