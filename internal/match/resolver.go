// Package match maps a scanned line item's loose identifiers to an existing
// catalog product. Line items may carry a real scannable barcode, a vendor
// SKU, a generated placeholder, or nothing but a name, so lookups run through
// an ordered fallback chain that stops at the first hit.
package match

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/scanstock/scanstock/internal/ledger"
)

// ErrNoMatch signals that no strategy found an existing product and the
// caller should create a new one.
var ErrNoMatch = errors.New("match: no existing product")

// Item carries the identifiers of one scanned line item.
type Item struct {
	Barcode     string
	ProductCode string
	Name        string
}

// Strategy is one named matching step. Strategies return ledger.ErrNotFound
// to pass control to the next one; any other error aborts resolution.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context, lookup ledger.ProductLookup, item Item) (ledger.Product, error)
}

// Strategies returns the fixed precedence order. Name matching is last and
// exact-only (case-insensitive, trimmed) to bound false-positive merges.
func Strategies() []Strategy {
	return []Strategy{
		{Name: "barcode", Resolve: byBarcode},
		{Name: "product-code", Resolve: byProductCode},
		{Name: "pattern", Resolve: byPattern},
		{Name: "name", Resolve: byName},
	}
}

// Resolver runs the strategy chain against active products.
type Resolver struct {
	strategies []Strategy
}

// NewResolver constructs a Resolver with the default strategy order.
func NewResolver() *Resolver {
	return &Resolver{strategies: Strategies()}
}

// Resolve returns the first matching product and the name of the strategy
// that found it, or ErrNoMatch after exhausting all strategies.
func (r *Resolver) Resolve(ctx context.Context, lookup ledger.ProductLookup, item Item) (ledger.Product, string, error) {
	item.Barcode = strings.TrimSpace(item.Barcode)
	item.ProductCode = strings.TrimSpace(item.ProductCode)
	item.Name = NormalizeName(item.Name)

	for _, strategy := range r.strategies {
		product, err := strategy.Resolve(ctx, lookup, item)
		if err == nil {
			return product, strategy.Name, nil
		}
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		return ledger.Product{}, strategy.Name, err
	}
	return ledger.Product{}, "", ErrNoMatch
}

// NormalizeName trims and NFC-normalises a scanned product name. OCR output
// occasionally carries decomposed code points that would defeat an exact
// comparison.
func NormalizeName(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}

func byBarcode(ctx context.Context, lookup ledger.ProductLookup, item Item) (ledger.Product, error) {
	if item.Barcode == "" {
		return ledger.Product{}, ledger.ErrNotFound
	}
	return lookup.FindProductByBarcode(ctx, item.Barcode)
}

// byProductCode tries the extracted product code as a raw barcode, then with
// the synthetic SKU_ prefix used for records created before real barcodes
// were scanned.
func byProductCode(ctx context.Context, lookup ledger.ProductLookup, item Item) (ledger.Product, error) {
	if item.ProductCode == "" {
		return ledger.Product{}, ledger.ErrNotFound
	}
	product, err := lookup.FindProductByBarcode(ctx, item.ProductCode)
	if err == nil || !errors.Is(err, ledger.ErrNotFound) {
		return product, err
	}
	return lookup.FindProductByBarcode(ctx, "SKU_"+item.ProductCode)
}

// byPattern tolerates legacy records whose barcodes were generated with
// prefixes or suffixes around the real identifier.
func byPattern(ctx context.Context, lookup ledger.ProductLookup, item Item) (ledger.Product, error) {
	identifier := item.Barcode
	if identifier == "" {
		identifier = item.ProductCode
	}
	if identifier == "" {
		return ledger.Product{}, ledger.ErrNotFound
	}
	return lookup.FindProductByBarcodePattern(ctx, identifier)
}

func byName(ctx context.Context, lookup ledger.ProductLookup, item Item) (ledger.Product, error) {
	if item.Name == "" {
		return ledger.Product{}, ledger.ErrNotFound
	}
	return lookup.FindProductByName(ctx, item.Name)
}
