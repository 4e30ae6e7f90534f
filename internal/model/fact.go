package model

import "github.com/rotisserie/eris"

// ExtractedFact is the transient output of the extraction capability:
// a single structured price assertion pulled from free text. It is never
// persisted; the pipeline turns it into a Quote.
type ExtractedFact struct {
	ProductName  string  `json:"productName"`
	Price        float64 `json:"price"`
	SupplierName string  `json:"supplierName,omitempty"`
	Conditions   string  `json:"conditions,omitempty"`
}

// Validate checks the mandatory fields. A fact missing a product name or
// carrying a non-positive price is unusable as a whole.
func (f ExtractedFact) Validate() error {
	if f.ProductName == "" {
		return eris.New("fact: missing product name")
	}
	if f.Price <= 0 {
		return eris.Errorf("fact: non-positive price %v", f.Price)
	}
	return nil
}
