package match

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scanstock/scanstock/internal/ledger"
)

type fakeLookup struct {
	products []ledger.Product
}

func (f *fakeLookup) FindProductByBarcode(ctx context.Context, barcode string) (ledger.Product, error) {
	for _, p := range f.products {
		if p.IsActive && p.Barcode == barcode {
			return p, nil
		}
	}
	return ledger.Product{}, ledger.ErrNotFound
}

func (f *fakeLookup) FindProductByBarcodePattern(ctx context.Context, identifier string) (ledger.Product, error) {
	for _, p := range f.products {
		if !p.IsActive {
			continue
		}
		if strings.HasSuffix(p.Barcode, "_"+identifier) || strings.HasPrefix(p.Barcode, identifier+"_") ||
			p.Barcode == "SKU_"+identifier || p.Barcode == "MAN_"+identifier {
			return p, nil
		}
	}
	return ledger.Product{}, ledger.ErrNotFound
}

func (f *fakeLookup) FindProductByName(ctx context.Context, name string) (ledger.Product, error) {
	for _, p := range f.products {
		if p.IsActive && strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return ledger.Product{}, ledger.ErrNotFound
}

func TestResolveBarcodeWinsOverName(t *testing.T) {
	lookup := &fakeLookup{products: []ledger.Product{
		{ID: 1, Name: "Widget", Barcode: "1234567890123", IsActive: true},
		{ID: 2, Name: "Widget", Barcode: "9999999999999", IsActive: true},
	}}
	resolver := NewResolver()

	product, strategy, err := resolver.Resolve(context.Background(), lookup, Item{Barcode: "1234567890123", Name: "Widget"})
	require.NoError(t, err)
	require.Equal(t, int64(1), product.ID)
	require.Equal(t, "barcode", strategy)
}

func TestResolveProductCodeAsBarcode(t *testing.T) {
	lookup := &fakeLookup{products: []ledger.Product{
		{ID: 7, Name: "Gadget", Barcode: "1234567890123", IsActive: true},
	}}
	resolver := NewResolver()

	product, strategy, err := resolver.Resolve(context.Background(), lookup, Item{ProductCode: "1234567890123"})
	require.NoError(t, err)
	require.Equal(t, int64(7), product.ID)
	require.Equal(t, "product-code", strategy)
}

func TestResolveProductCodeWithSKUPrefix(t *testing.T) {
	lookup := &fakeLookup{products: []ledger.Product{
		{ID: 3, Name: "Cable", Barcode: "SKU_AB-100", IsActive: true},
	}}
	resolver := NewResolver()

	product, strategy, err := resolver.Resolve(context.Background(), lookup, Item{ProductCode: "AB-100"})
	require.NoError(t, err)
	require.Equal(t, int64(3), product.ID)
	require.Equal(t, "product-code", strategy)
}

func TestResolvePatternSuffix(t *testing.T) {
	lookup := &fakeLookup{products: []ledger.Product{
		{ID: 4, Name: "Hose", Barcode: "LEGACY_777", IsActive: true},
	}}
	resolver := NewResolver()

	product, strategy, err := resolver.Resolve(context.Background(), lookup, Item{Barcode: "777"})
	require.NoError(t, err)
	require.Equal(t, int64(4), product.ID)
	require.Equal(t, "pattern", strategy)
}

func TestResolveNameLastResort(t *testing.T) {
	lookup := &fakeLookup{products: []ledger.Product{
		{ID: 5, Name: "Premium Coffee", Barcode: "555", IsActive: true},
	}}
	resolver := NewResolver()

	product, strategy, err := resolver.Resolve(context.Background(), lookup, Item{Name: "  premium coffee "})
	require.NoError(t, err)
	require.Equal(t, int64(5), product.ID)
	require.Equal(t, "name", strategy)
}

func TestResolveNameNeverSubstring(t *testing.T) {
	lookup := &fakeLookup{products: []ledger.Product{
		{ID: 6, Name: "Premium Coffee Beans 1kg", IsActive: true},
	}}
	resolver := NewResolver()

	_, _, err := resolver.Resolve(context.Background(), lookup, Item{Name: "Premium Coffee"})
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestResolveSkipsInactive(t *testing.T) {
	lookup := &fakeLookup{products: []ledger.Product{
		{ID: 8, Name: "Retired", Barcode: "42", IsActive: false},
	}}
	resolver := NewResolver()

	_, _, err := resolver.Resolve(context.Background(), lookup, Item{Barcode: "42", Name: "Retired"})
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestResolveNoIdentifiers(t *testing.T) {
	resolver := NewResolver()
	_, _, err := resolver.Resolve(context.Background(), &fakeLookup{}, Item{})
	require.ErrorIs(t, err, ErrNoMatch)
}
