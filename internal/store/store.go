package store

import (
	"context"

	"github.com/pricedesk/quotes-cli/internal/model"
)

// MessageFilter narrows message listings. The zero value lists everything
// for the tenant, newest first.
type MessageFilter struct {
	Unprocessed bool `json:"unprocessed,omitempty"`
	Failed      bool `json:"failed,omitempty"`
	Limit       int  `json:"limit,omitempty"`
}

// Store is the persistence boundary for the quote pipeline. Any backing
// store satisfying these operations is acceptable; all reads and writes
// are tenant-scoped.
type Store interface {
	// Messages
	CreateMessage(ctx context.Context, msg model.RawMessage) error
	GetMessage(ctx context.Context, id string) (*model.RawMessage, error)
	ListMessages(ctx context.Context, tenantID string, filter MessageFilter) ([]model.RawMessage, error)
	CountUnprocessed(ctx context.Context, tenantID string) (int, error)
	// MarkProcessed transitions a message to processed with the given
	// failure reason (empty for success). Conditional on the message
	// still being unprocessed; returns ErrConflict when another writer
	// got there first.
	MarkProcessed(ctx context.Context, id string, reason string) error
	// ResetFailed returns processed-with-error messages to the backlog
	// for an operator-triggered retry. Returns the number reset.
	ResetFailed(ctx context.Context, tenantID string) (int, error)

	// Products
	CreateProduct(ctx context.Context, p model.Product, normalizedName string) error
	FindProductByName(ctx context.Context, tenantID, normalizedName string) (*model.Product, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, tenantID string) ([]model.Product, error)

	// Suppliers
	CreateSupplier(ctx context.Context, s model.Supplier, normalizedName string) error
	FindSupplierByName(ctx context.Context, tenantID, normalizedName string) (*model.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*model.Supplier, error)
	ListSuppliers(ctx context.Context, tenantID string) ([]model.Supplier, error)

	// Quotes
	// CommitQuote appends the quote and marks its source message
	// processed in one transaction. ErrConflict means the message was
	// already processed and no quote was written.
	CommitQuote(ctx context.Context, q model.Quote) error
	ListQuotesByProduct(ctx context.Context, tenantID, productID string) ([]model.Quote, error)
	ListQuotes(ctx context.Context, tenantID string) ([]model.Quote, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
