// Package resolver maps noisy product and supplier names onto stable
// tenant-scoped identities. Matching is case- and whitespace-insensitive;
// anything stricter (edit distance, abbreviations) is deliberately out,
// since a false merge silently fuses two suppliers' price histories.
package resolver

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/pricedesk/quotes-cli/internal/model"
	"github.com/pricedesk/quotes-cli/internal/store"
)

// Normalize produces the comparison key for a name: Unicode case fold,
// trim, and collapse internal whitespace.
func Normalize(name string) string {
	folded := cases.Fold().String(name)
	return strings.Join(strings.Fields(folded), " ")
}

// Resolver finds or lazily creates products and suppliers by name.
type Resolver struct {
	store store.Store
}

// New creates a Resolver backed by the given store.
func New(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// ResolveProduct returns the tenant's product matching rawName, creating
// it when no match exists. The stored name keeps the first-seen spelling;
// case-variant resubmissions never mutate it.
func (r *Resolver) ResolveProduct(ctx context.Context, tenantID, rawName string) (*model.Product, error) {
	normalized := Normalize(rawName)
	if normalized == "" {
		return nil, eris.New("resolver: empty product name")
	}

	if p, err := r.store.FindProductByName(ctx, tenantID, normalized); err == nil {
		return p, nil
	} else if !eris.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "resolver: find product")
	}

	p := model.Product{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Name:     strings.TrimSpace(rawName),
	}
	err := r.store.CreateProduct(ctx, p, normalized)
	if err == nil {
		zap.L().Debug("resolver: created product",
			zap.String("tenant", tenantID),
			zap.String("name", p.Name),
		)
		return &p, nil
	}
	if eris.Is(err, store.ErrConflict) {
		// Lost the creation race; the winner's row is the identity.
		return r.store.FindProductByName(ctx, tenantID, normalized)
	}
	return nil, eris.Wrap(err, "resolver: create product")
}

// ResolveSupplier returns the tenant's supplier matching rawName,
// creating it when no match exists. Same semantics as ResolveProduct.
func (r *Resolver) ResolveSupplier(ctx context.Context, tenantID, rawName string) (*model.Supplier, error) {
	normalized := Normalize(rawName)
	if normalized == "" {
		return nil, eris.New("resolver: empty supplier name")
	}

	if s, err := r.store.FindSupplierByName(ctx, tenantID, normalized); err == nil {
		return s, nil
	} else if !eris.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "resolver: find supplier")
	}

	s := model.Supplier{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Name:     strings.TrimSpace(rawName),
	}
	err := r.store.CreateSupplier(ctx, s, normalized)
	if err == nil {
		zap.L().Debug("resolver: created supplier",
			zap.String("tenant", tenantID),
			zap.String("name", s.Name),
		)
		return &s, nil
	}
	if eris.Is(err, store.ErrConflict) {
		return r.store.FindSupplierByName(ctx, tenantID, normalized)
	}
	return nil, eris.Wrap(err, "resolver: create supplier")
}
