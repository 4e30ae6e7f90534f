package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pricedesk/quotes-cli/internal/model"
)

// MemoryStore is an in-process Store used in tests and for the "memory"
// driver. A single mutex serializes the check-then-create steps, giving
// the same uniqueness guarantees the SQL backends get from constraints.
type MemoryStore struct {
	mu        sync.RWMutex
	messages  []model.RawMessage
	products  map[string]model.Product  // id -> product
	suppliers map[string]model.Supplier // id -> supplier
	quotes    []model.Quote

	productNames  map[[2]string]string // (tenant, normalized) -> id
	supplierNames map[[2]string]string
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		products:      make(map[string]model.Product),
		suppliers:     make(map[string]model.Supplier),
		productNames:  make(map[[2]string]string),
		supplierNames: make(map[[2]string]string),
	}
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg model.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*model.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListMessages(_ context.Context, tenantID string, filter MessageFilter) ([]model.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RawMessage
	for _, m := range s.messages {
		if m.TenantID != tenantID {
			continue
		}
		if filter.Unprocessed && m.Processed {
			continue
		}
		if filter.Failed && !m.Failed() {
			continue
		}
		out = append(out, m)
	}

	if filter.Unprocessed {
		// Backlog reads stay in insertion order for batch processing.
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		})
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountUnprocessed(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.TenantID == tenantID && !m.Processed {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markProcessedLocked(id, reason)
}

func (s *MemoryStore) markProcessedLocked(id, reason string) error {
	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		if s.messages[i].Processed {
			return ErrConflict
		}
		s.messages[i].Processed = true
		s.messages[i].ProcessingError = reason
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) ResetFailed(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.messages {
		if s.messages[i].TenantID == tenantID && s.messages[i].Failed() {
			s.messages[i].Processed = false
			s.messages[i].ProcessingError = ""
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, p model.Product, normalizedName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{p.TenantID, normalizedName}
	if _, exists := s.productNames[key]; exists {
		return ErrConflict
	}
	s.products[p.ID] = p
	s.productNames[key] = p.ID
	return nil
}

func (s *MemoryStore) FindProductByName(_ context.Context, tenantID, normalizedName string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.productNames[[2]string{tenantID, normalizedName}]
	if !ok {
		return nil, ErrNotFound
	}
	p := s.products[id]
	return &p, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ListProducts(_ context.Context, tenantID string) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Product
	for _, p := range s.products {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CreateSupplier(_ context.Context, sup model.Supplier, normalizedName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{sup.TenantID, normalizedName}
	if _, exists := s.supplierNames[key]; exists {
		return ErrConflict
	}
	s.suppliers[sup.ID] = sup
	s.supplierNames[key] = sup.ID
	return nil
}

func (s *MemoryStore) FindSupplierByName(_ context.Context, tenantID, normalizedName string) (*model.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.supplierNames[[2]string{tenantID, normalizedName}]
	if !ok {
		return nil, ErrNotFound
	}
	sup := s.suppliers[id]
	return &sup, nil
}

func (s *MemoryStore) GetSupplier(_ context.Context, id string) (*model.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sup, ok := s.suppliers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sup, nil
}

func (s *MemoryStore) ListSuppliers(_ context.Context, tenantID string) ([]model.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Supplier
	for _, sup := range s.suppliers {
		if sup.TenantID == tenantID {
			out = append(out, sup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CommitQuote(_ context.Context, q model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markProcessedLocked(q.SourceMessageID, ""); err != nil {
		return err
	}
	s.quotes = append(s.quotes, q)
	return nil
}

func (s *MemoryStore) ListQuotesByProduct(_ context.Context, tenantID, productID string) ([]model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Quote
	for _, q := range s.quotes {
		if q.TenantID == tenantID && q.ProductID == productID {
			out = append(out, q)
		}
	}
	sortQuotes(out)
	return out, nil
}

func (s *MemoryStore) ListQuotes(_ context.Context, tenantID string) ([]model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Quote
	for _, q := range s.quotes {
		if q.TenantID == tenantID {
			out = append(out, q)
		}
	}
	sortQuotes(out)
	return out, nil
}

// sortQuotes orders by extraction time, then id for a deterministic
// tiebreak, matching the SQL backends.
func sortQuotes(qs []model.Quote) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].ExtractedAt.Equal(qs[j].ExtractedAt) {
			return qs[i].ID < qs[j].ID
		}
		return qs[i].ExtractedAt.Before(qs[j].ExtractedAt)
	})
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
