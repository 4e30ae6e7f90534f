package resolver

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricedesk/quotes-cli/internal/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Caneta Azul BIC", "caneta azul bic"},
		{"  caneta   azul   bic  ", "caneta azul bic"},
		{"AÇUCAR Cristal", "açucar cristal"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestResolveProduct_StableIdentity(t *testing.T) {
	st := store.NewMemory()
	r := New(st)
	ctx := context.Background()

	p1, err := r.ResolveProduct(ctx, "t1", "Caneta Azul BIC")
	require.NoError(t, err)
	p2, err := r.ResolveProduct(ctx, "t1", "  caneta azul bic  ")
	require.NoError(t, err)

	assert.Equal(t, p1.ID, p2.ID)
	// First-seen spelling sticks.
	assert.Equal(t, "Caneta Azul BIC", p2.Name)

	products, err := st.ListProducts(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestResolveProduct_TenantIsolation(t *testing.T) {
	st := store.NewMemory()
	r := New(st)
	ctx := context.Background()

	p1, err := r.ResolveProduct(ctx, "t1", "Widget")
	require.NoError(t, err)
	p2, err := r.ResolveProduct(ctx, "t2", "Widget")
	require.NoError(t, err)

	assert.NotEqual(t, p1.ID, p2.ID)
}

func TestResolveProduct_EmptyName(t *testing.T) {
	r := New(store.NewMemory())

	_, err := r.ResolveProduct(context.Background(), "t1", "   ")
	assert.Error(t, err)
}

func TestResolveSupplier_StableIdentity(t *testing.T) {
	st := store.NewMemory()
	r := New(st)
	ctx := context.Background()

	s1, err := r.ResolveSupplier(ctx, "t1", "The Coffee Co.")
	require.NoError(t, err)
	s2, err := r.ResolveSupplier(ctx, "t1", "THE COFFEE CO.")
	require.NoError(t, err)

	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, "The Coffee Co.", s2.Name)
}

func TestResolveProduct_Concurrent(t *testing.T) {
	st := store.NewMemory()
	r := New(st)
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.ResolveProduct(ctx, "t1", "SSD Kingston 1TB")
			if assert.NoError(t, err) {
				ids[i] = p.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id, "all workers must converge on one identity")
	}

	products, err := st.ListProducts(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, products, 1)
}
