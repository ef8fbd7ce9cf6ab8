package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scanstock/scanstock/internal/ledger"
	"github.com/scanstock/scanstock/internal/ledger/ledgertest"
)

type fakeQueue struct {
	events []SaleEvent
}

func (q *fakeQueue) EnqueueSaleNotification(ctx context.Context, evt SaleEvent) error {
	q.events = append(q.events, evt)
	return nil
}

type fakeFeed struct {
	published   []string
	invalidated int
}

func (f *fakeFeed) Publish(action, entity string, id int64) {
	f.published = append(f.published, action+":"+entity)
}

func (f *fakeFeed) Invalidate(ctx context.Context) { f.invalidated++ }

func newTestService(repo *ledgertest.MemoryRepository, queue TaskQueue, feed ChangeFeed, allowNeg bool) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, queue, feed, nil, ServiceConfig{AllowNegativeStock: allowNeg}, logger)
}

func seedProduct(repo *ledgertest.MemoryRepository, p ledger.Product) ledger.Product {
	if p.ID == 0 {
		p.ID = int64(len(repo.Products) + 1)
	}
	repo.Products = append(repo.Products, p)
	return p
}

func ptr[T any](v T) *T { return &v }

func TestUpdateKeepsUnsetFields(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{
		ID: 1, Name: "Widget", Barcode: "111", Price: 15, CostPrice: 10, Quantity: 3, IsActive: true,
	})
	svc := newTestService(repo, nil, nil, false)

	updated, err := svc.Update(context.Background(), 1, UpdateInput{Price: ptr(17.5)})
	require.NoError(t, err)
	require.InDelta(t, 17.5, updated.Price, 1e-9)
	require.Equal(t, "Widget", updated.Name)
	require.Equal(t, "111", updated.Barcode)
	require.InDelta(t, 3, updated.Quantity, 1e-9)
	require.Empty(t, repo.Movements, "price change alone must not create a movement")
}

func TestUpdateQuantityRecordsAdjustment(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Widget", Quantity: 3, IsActive: true})
	feed := &fakeFeed{}
	svc := newTestService(repo, nil, feed, false)

	updated, err := svc.Update(context.Background(), 1, UpdateInput{Quantity: ptr(7.0)})
	require.NoError(t, err)
	require.InDelta(t, 7, updated.Quantity, 1e-9)

	require.Len(t, repo.Movements, 1)
	movement := repo.Movements[0]
	require.Equal(t, ledger.MovementAdjustment, movement.Type)
	require.InDelta(t, 4, movement.Quantity, 1e-9)
	require.InDelta(t, 3, movement.PreviousQuantity, 1e-9)
	require.InDelta(t, 7, movement.NewQuantity, 1e-9)

	require.Equal(t, 1, feed.invalidated)
	require.Contains(t, feed.published, "updated:product")
}

func TestUpdateCreatesVendorAndCategory(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Widget", IsActive: true})
	svc := newTestService(repo, nil, nil, false)

	updated, err := svc.Update(context.Background(), 1, UpdateInput{
		Vendor:   ptr("Acme"),
		Category: ptr("Hardware"),
	})
	require.NoError(t, err)
	require.Len(t, repo.Vendors, 1)
	require.Len(t, repo.Categories, 1)
	require.Equal(t, repo.Vendors[0].ID, updated.VendorID)
	require.Equal(t, repo.Categories[0].ID, updated.CategoryID)
}

func TestUpdateBarcodeConflict(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "A", Barcode: "111", IsActive: true})
	seedProduct(repo, ledger.Product{ID: 2, Name: "B", Barcode: "222", IsActive: true})
	svc := newTestService(repo, nil, nil, false)

	_, err := svc.Update(context.Background(), 2, UpdateInput{Barcode: ptr("111")})
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)
	require.Equal(t, "222", repo.Products[1].Barcode, "failed update must not persist")
}

func TestUpdateRejectsNegativeQuantity(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Widget", Quantity: 3, IsActive: true})
	svc := newTestService(repo, nil, nil, false)

	_, err := svc.Update(context.Background(), 1, UpdateInput{Quantity: ptr(-1.0)})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPostSale(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{
		ID: 1, Name: "Widget", Price: 15, CostPrice: 10, Quantity: 5, MinStockLevel: 2, IsActive: true,
	})
	queue := &fakeQueue{}
	feed := &fakeFeed{}
	svc := newTestService(repo, queue, feed, false)

	result, err := svc.PostSale(context.Background(), SaleInput{ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	require.InDelta(t, 15, result.UnitPrice, 1e-9)
	require.InDelta(t, 30, result.Total, 1e-9)
	require.InDelta(t, 3, result.RemainingQuantity, 1e-9)
	require.False(t, result.LowStock)
	require.NotEmpty(t, result.TransactionID)

	require.InDelta(t, 3, repo.Products[0].Quantity, 1e-9)
	require.False(t, repo.Products[0].LastSold.IsZero())

	require.Len(t, repo.Movements, 1)
	movement := repo.Movements[0]
	require.Equal(t, ledger.MovementOut, movement.Type)
	require.InDelta(t, 5, movement.PreviousQuantity, 1e-9)
	require.InDelta(t, 3, movement.NewQuantity, 1e-9)
	require.Equal(t, result.TransactionID, movement.ReferenceID)

	require.Len(t, repo.Transactions, 1)
	require.Equal(t, ledger.TransactionSale, repo.Transactions[0].Type)

	require.Len(t, queue.events, 1)
	require.Equal(t, 1, feed.invalidated)
}

func TestPostSaleRejectsNegativeStock(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Widget", Price: 15, Quantity: 1, IsActive: true})
	svc := newTestService(repo, nil, nil, false)

	_, err := svc.PostSale(context.Background(), SaleInput{ProductID: 1, Quantity: 2})
	require.ErrorIs(t, err, ledger.ErrNegativeStock)

	require.InDelta(t, 1, repo.Products[0].Quantity, 1e-9)
	require.Empty(t, repo.Movements)
	require.Empty(t, repo.Transactions)
}

func TestPostSaleAllowsNegativeWhenConfigured(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Widget", Price: 15, Quantity: 1, IsActive: true})
	svc := newTestService(repo, nil, nil, true)

	result, err := svc.PostSale(context.Background(), SaleInput{ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	require.InDelta(t, -1, result.RemainingQuantity, 1e-9)
}

func TestPostSaleLowStockFlag(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Widget", Price: 15, Quantity: 3, MinStockLevel: 2, IsActive: true})
	queue := &fakeQueue{}
	svc := newTestService(repo, queue, nil, false)

	result, err := svc.PostSale(context.Background(), SaleInput{ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	require.True(t, result.LowStock)
	require.Len(t, queue.events, 1)
	require.True(t, queue.events[0].LowStock)
}

func TestPostSaleInactiveProduct(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Widget", Price: 15, Quantity: 5, IsActive: false})
	svc := newTestService(repo, nil, nil, false)

	_, err := svc.PostSale(context.Background(), SaleInput{ProductID: 1, Quantity: 1})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSoftDeleteHidesFromListing(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Widget", IsActive: true})
	svc := newTestService(repo, nil, nil, false)
	ctx := context.Background()

	require.NoError(t, svc.SoftDelete(ctx, 1))

	products, total, err := svc.List(ctx, ledger.ProductFilter{})
	require.NoError(t, err)
	require.Empty(t, products)
	require.Zero(t, total)

	// The row survives for audit and direct reads.
	product, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, product.IsActive)

	all, _, err := svc.List(ctx, ledger.ProductFilter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestHardDeleteRemovesRow(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Widget", IsActive: true})
	svc := newTestService(repo, nil, nil, false)

	require.NoError(t, svc.HardDelete(context.Background(), 1))
	_, err := svc.Get(context.Background(), 1)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLookupSubstring(t *testing.T) {
	repo := ledgertest.New()
	seedProduct(repo, ledger.Product{ID: 1, Name: "Cola 1L", IsActive: true})
	svc := newTestService(repo, nil, nil, false)

	product, err := svc.Lookup(context.Background(), "cola")
	require.NoError(t, err)
	require.Equal(t, int64(1), product.ID)

	_, err = svc.Lookup(context.Background(), "  ")
	require.ErrorIs(t, err, ErrInvalidInput)
}
