package model

// Supplier is a tenant-scoped price source. Identity is
// (tenant, normalized name); created lazily on first reference.
type Supplier struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

// Product is a tenant-scoped quotable item. Identity is
// (tenant, normalized name); created lazily on first reference.
type Product struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

// AggregatedProduct is a Product plus its derived best-price view.
// Never stored as source of truth; always recomputed from quotes.
type AggregatedProduct struct {
	Product
	BestPrice        *float64 `json:"best_price,omitempty"`
	BestSupplierName string   `json:"best_supplier_name,omitempty"`
}
