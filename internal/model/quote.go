package model

import "time"

// Quote is one point-in-time price assertion for a product from a
// supplier, derived from a single source message. Append-only.
type Quote struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ProductID       string    `json:"product_id"`
	SupplierID      string    `json:"supplier_id"`
	Price           float64   `json:"price"`
	Conditions      string    `json:"conditions,omitempty"`
	ExtractedAt     time.Time `json:"extracted_at"`
	SourceMessageID string    `json:"source_message_id"`
}
