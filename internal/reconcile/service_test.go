package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scanstock/scanstock/internal/ledger"
	"github.com/scanstock/scanstock/internal/ledger/ledgertest"
	"github.com/scanstock/scanstock/internal/match"
)

type fakeQueue struct {
	enriched []int64
	scans    []ScanEvent
}

func (q *fakeQueue) EnqueueProductEnrichment(ctx context.Context, productID int64, productName string) error {
	q.enriched = append(q.enriched, productID)
	return nil
}

func (q *fakeQueue) EnqueueScanNotification(ctx context.Context, evt ScanEvent) error {
	q.scans = append(q.scans, evt)
	return nil
}

type fakeFeed struct {
	published   []string
	invalidated int
}

func (f *fakeFeed) Publish(action, entity string, id int64) {
	f.published = append(f.published, fmt.Sprintf("%s:%s:%d", action, entity, id))
}

func (f *fakeFeed) Invalidate(ctx context.Context) { f.invalidated++ }

func newTestEngine(repo *ledgertest.MemoryRepository, queue TaskQueue, feed ChangeFeed) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(repo, match.NewResolver(), nil, queue, feed, nil, logger)
}

func f64(v float64) *float64 { return &v }

func TestFinalizeCreatesProduct(t *testing.T) {
	repo := ledgertest.New()
	queue := &fakeQueue{}
	feed := &fakeFeed{}
	engine := newTestEngine(repo, queue, feed)
	ctx := context.Background()

	result, err := engine.Finalize(ctx, Payload{
		RequestID: "r1",
		Vendor:    "Acme",
		Items: []LineItem{{
			Name: "Widget", Quantity: 2, CostPrice: f64(10), SellingPrice: f64(15),
		}},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.False(t, result.Duplicate)
	require.Equal(t, 1, result.Stats.ProcessedItems)
	require.Equal(t, 0, result.Stats.FailedItems)

	require.Len(t, repo.Products, 1)
	product := repo.Products[0]
	require.Equal(t, "Widget", product.Name)
	require.InDelta(t, 2, product.Quantity, 1e-9)
	require.InDelta(t, 15, product.Price, 1e-9)
	require.InDelta(t, 10, product.CostPrice, 1e-9)
	require.True(t, product.IsActive)

	require.Len(t, repo.Movements, 1)
	movement := repo.Movements[0]
	require.Equal(t, ledger.MovementIn, movement.Type)
	require.InDelta(t, 2, movement.Quantity, 1e-9)
	require.InDelta(t, 0, movement.PreviousQuantity, 1e-9)
	require.InDelta(t, 2, movement.NewQuantity, 1e-9)

	require.Len(t, repo.Transactions, 1)
	transaction := repo.Transactions[0]
	require.Equal(t, ledger.TransactionPurchase, transaction.Type)
	require.InDelta(t, 20, transaction.TotalPrice, 1e-9)

	require.Len(t, repo.Vendors, 1)
	require.Equal(t, "Acme", repo.Vendors[0].Name)

	require.Equal(t, []int64{product.ID}, queue.enriched)
	require.Len(t, queue.scans, 1)
	require.Equal(t, 1, feed.invalidated)
	require.Contains(t, feed.published, fmt.Sprintf("created:product:%d", product.ID))
}

func TestFinalizeRestockMatchesByName(t *testing.T) {
	repo := ledgertest.New()
	engine := newTestEngine(repo, nil, nil)
	ctx := context.Background()

	item := LineItem{Name: "Widget", Quantity: 2, CostPrice: f64(10), SellingPrice: f64(15)}
	_, err := engine.Finalize(ctx, Payload{RequestID: "r1", Vendor: "Acme", Items: []LineItem{item}})
	require.NoError(t, err)

	result, err := engine.Finalize(ctx, Payload{RequestID: "r2", Vendor: "Acme", Items: []LineItem{item}})
	require.NoError(t, err)
	require.Equal(t, 1, result.Stats.ProcessedItems)

	require.Len(t, repo.Products, 1, "restock must reuse the existing product")
	require.InDelta(t, 4, repo.Products[0].Quantity, 1e-9)

	require.Len(t, repo.Movements, 2)
	second := repo.Movements[1]
	require.InDelta(t, 2, second.PreviousQuantity, 1e-9)
	require.InDelta(t, 4, second.NewQuantity, 1e-9)
	first := repo.Movements[0]
	require.InDelta(t, 0, first.PreviousQuantity, 1e-9)
	require.InDelta(t, 2, first.NewQuantity, 1e-9)
}

func TestFinalizeIdempotentReplay(t *testing.T) {
	repo := ledgertest.New()
	engine := newTestEngine(repo, nil, nil)
	ctx := context.Background()

	payload := Payload{
		RequestID: "r1",
		Vendor:    "Acme",
		Items:     []LineItem{{Name: "Widget", Quantity: 2, CostPrice: f64(10)}},
	}
	first, err := engine.Finalize(ctx, payload)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := engine.Finalize(ctx, payload)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.InvoiceID, second.InvoiceID)

	require.Len(t, repo.Invoices, 1)
	require.Len(t, repo.Products, 1)
	require.Len(t, repo.Movements, 1)
	require.Len(t, repo.Transactions, 1)
}

func TestFinalizeResolverPrecedence(t *testing.T) {
	repo := ledgertest.New()
	repo.Products = append(repo.Products, ledger.Product{
		ID: 1, Name: "Cola 1L", Barcode: "1234567890123", Quantity: 5, IsActive: true,
	})
	engine := newTestEngine(repo, nil, nil)

	result, err := engine.Finalize(context.Background(), Payload{
		RequestID: "r1",
		Items: []LineItem{{
			Name: "Cola one litre", ProductCode: "1234567890123", Quantity: 3, CostPrice: f64(1),
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Stats.ProcessedItems)
	require.Len(t, repo.Products, 1, "productCode must resolve to the existing barcode, not create a product")
	require.Equal(t, "product-code", result.Items[0].MatchedBy)
	require.InDelta(t, 8, repo.Products[0].Quantity, 1e-9)
}

func TestFinalizePartialFailureIsolation(t *testing.T) {
	repo := ledgertest.New()
	engine := newTestEngine(repo, nil, nil)

	result, err := engine.Finalize(context.Background(), Payload{
		RequestID: "r1",
		Vendor:    "Acme",
		Items: []LineItem{
			{Name: "A", Quantity: 1, CostPrice: f64(1)},
			{Name: "B", Quantity: 2, CostPrice: f64(2)},
			{Quantity: 0}, // no name, no quantity
			{Name: "C", Quantity: 3, CostPrice: f64(3)},
		},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 3, result.Stats.ProcessedItems)
	require.Equal(t, 1, result.Stats.FailedItems)

	require.Len(t, repo.Products, 3)
	require.Len(t, repo.Movements, 3)
	require.Len(t, repo.Transactions, 3)

	failed := result.Items[2]
	require.False(t, failed.Processed)
	require.NotEmpty(t, failed.Error)
}

func TestFinalizeStorageFaultIsolatedPerItem(t *testing.T) {
	repo := ledgertest.New()
	inserts := 0
	repo.FailOn = func(op string) error {
		if op == "InsertProduct" {
			inserts++
			if inserts == 2 {
				return errors.New("disk full")
			}
		}
		return nil
	}
	engine := newTestEngine(repo, nil, nil)

	result, err := engine.Finalize(context.Background(), Payload{
		RequestID: "r1",
		Items: []LineItem{
			{Name: "A", Quantity: 1, CostPrice: f64(1)},
			{Name: "B", Quantity: 1, CostPrice: f64(1)},
			{Name: "C", Quantity: 1, CostPrice: f64(1)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Stats.ProcessedItems)
	require.Equal(t, 1, result.Stats.FailedItems)

	// The failed item must leave no partial writes behind.
	require.Len(t, repo.Products, 2)
	require.Len(t, repo.Movements, 2)
	require.Len(t, repo.Transactions, 2)
	for _, p := range repo.Products {
		require.NotEqual(t, "B", p.Name)
	}
}

func TestFinalizeValidationTouchesNoStorage(t *testing.T) {
	repo := ledgertest.New()
	engine := newTestEngine(repo, nil, nil)
	ctx := context.Background()

	_, err := engine.Finalize(ctx, Payload{Items: []LineItem{{Name: "A", Quantity: 1}}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "requestId", verr.Field)

	_, err = engine.Finalize(ctx, Payload{RequestID: "r1"})
	require.ErrorAs(t, err, &verr)

	require.Empty(t, repo.Invoices)
	require.Empty(t, repo.Products)
	require.Empty(t, repo.Vendors)
}

func TestFinalizeGeneratedBarcodeUsesItemIndex(t *testing.T) {
	repo := ledgertest.New()
	engine := newTestEngine(repo, nil, nil)

	_, err := engine.Finalize(context.Background(), Payload{
		RequestID: "req-9",
		Items: []LineItem{
			{Name: "First", Quantity: 1, CostPrice: f64(1)},
			{Name: "Second", Quantity: 1, CostPrice: f64(1)},
		},
	})
	require.NoError(t, err)
	require.Len(t, repo.Products, 2)
	require.Equal(t, "INV_req-9_0", repo.Products[0].Barcode)
	require.Equal(t, "INV_req-9_1", repo.Products[1].Barcode)
}

func TestFinalizeBarcodePrecedence(t *testing.T) {
	repo := ledgertest.New()
	engine := newTestEngine(repo, nil, nil)

	_, err := engine.Finalize(context.Background(), Payload{
		RequestID: "r1",
		Items: []LineItem{
			{Name: "Real", Quantity: 1, Barcode: "4006381333931"},
			{Name: "Loose", Quantity: 1, Barcode: "ABC-42"},
			{Name: "Coded", Quantity: 1, ProductCode: "XJ-9"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "4006381333931", repo.Products[0].Barcode)
	require.Equal(t, "ABC-42", repo.Products[1].Barcode)
	require.Equal(t, "XJ-9", repo.Products[2].Barcode)
}

func TestFinalizeSuppliedTotalWinsWithWarning(t *testing.T) {
	repo := ledgertest.New()
	engine := newTestEngine(repo, nil, nil)

	result, err := engine.Finalize(context.Background(), Payload{
		RequestID: "r1",
		Total:     f64(99.5),
		Items:     []LineItem{{Name: "A", Quantity: 2, CostPrice: f64(10)}},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, repo.Invoices, 1)
	require.InDelta(t, 99.5, repo.Invoices[0].TotalAmount, 1e-9)
}

func TestMovementConsistency(t *testing.T) {
	repo := ledgertest.New()
	engine := newTestEngine(repo, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.Finalize(ctx, Payload{
			RequestID: fmt.Sprintf("r%d", i),
			Items:     []LineItem{{Name: "Widget", Quantity: float64(i + 1), CostPrice: f64(5)}},
		})
		require.NoError(t, err)
	}

	for _, m := range repo.Movements {
		require.Equal(t, ledger.MovementIn, m.Type)
		require.InDelta(t, m.PreviousQuantity+m.Quantity, m.NewQuantity, 1e-9)
	}
}
