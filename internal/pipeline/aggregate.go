package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/pricedesk/quotes-cli/internal/model"
	"github.com/pricedesk/quotes-cli/internal/store"
)

// BestQuote selects the winning quote from a product's history: lowest
// price, earliest extraction on a price tie. Quotes must be ordered by
// extraction time ascending, which every store listing guarantees.
// Returns nil for an empty history.
func BestQuote(quotes []model.Quote) *model.Quote {
	var best *model.Quote
	for i := range quotes {
		q := &quotes[i]
		if best == nil || q.Price < best.Price {
			best = q
		}
	}
	return best
}

// Aggregator derives best-price views from the quote history. Views are
// always recomputed; nothing derived is persisted.
type Aggregator struct {
	store store.Store
}

// NewAggregator creates an Aggregator backed by the given store.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// AggregateProducts returns every product of the tenant with its current
// best price and the supplier offering it. Products without quotes
// appear with no best price.
func (a *Aggregator) AggregateProducts(ctx context.Context, tenantID string) ([]model.AggregatedProduct, error) {
	products, err := a.store.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list products")
	}
	quotes, err := a.store.ListQuotes(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list quotes")
	}
	supplierNames, err := a.supplierNames(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string][]model.Quote)
	for _, q := range quotes {
		byProduct[q.ProductID] = append(byProduct[q.ProductID], q)
	}

	out := make([]model.AggregatedProduct, 0, len(products))
	for _, p := range products {
		ap := model.AggregatedProduct{Product: p}
		if best := BestQuote(byProduct[p.ID]); best != nil {
			price := best.Price
			ap.BestPrice = &price
			ap.BestSupplierName = supplierNames[best.SupplierID]
		}
		out = append(out, ap)
	}
	return out, nil
}

// ProductDetail is the single-product view: the aggregated product plus
// its full quote history, newest first.
type ProductDetail struct {
	model.AggregatedProduct
	Quotes []model.Quote `json:"quotes"`
}

// AggregateProduct returns the best-price view and quote history for a
// single product.
func (a *Aggregator) AggregateProduct(ctx context.Context, tenantID, productID string) (*ProductDetail, error) {
	p, err := a.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: get product")
	}
	if p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}

	quotes, err := a.store.ListQuotesByProduct(ctx, tenantID, productID)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list quotes")
	}

	detail := ProductDetail{
		AggregatedProduct: model.AggregatedProduct{Product: *p},
		Quotes:            newestFirst(quotes),
	}
	if best := BestQuote(quotes); best != nil {
		supplier, err := a.store.GetSupplier(ctx, best.SupplierID)
		if err != nil {
			return nil, eris.Wrap(err, "aggregate: get supplier")
		}
		price := best.Price
		detail.BestPrice = &price
		detail.BestSupplierName = supplier.Name
	}
	return &detail, nil
}

// newestFirst reverses a time-ascending quote listing for display.
func newestFirst(quotes []model.Quote) []model.Quote {
	out := make([]model.Quote, len(quotes))
	for i, q := range quotes {
		out[len(quotes)-1-i] = q
	}
	return out
}

func (a *Aggregator) supplierNames(ctx context.Context, tenantID string) (map[string]string, error) {
	suppliers, err := a.store.ListSuppliers(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list suppliers")
	}
	names := make(map[string]string, len(suppliers))
	for _, s := range suppliers {
		names[s.ID] = s.Name
	}
	return names, nil
}
