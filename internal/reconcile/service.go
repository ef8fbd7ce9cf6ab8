package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/scanstock/scanstock/internal/ledger"
	"github.com/scanstock/scanstock/internal/match"
	"github.com/scanstock/scanstock/internal/shared"
)

// TaskQueue schedules post-commit background work. Implementations must not
// share locks with the ledger transaction.
type TaskQueue interface {
	EnqueueProductEnrichment(ctx context.Context, productID int64, productName string) error
	EnqueueScanNotification(ctx context.Context, evt ScanEvent) error
}

// ScanEvent describes a committed invoice finalize for notification.
type ScanEvent struct {
	RequestID string
	InvoiceID int64
	Vendor    string
	ItemCount int
}

// ChangeFeed receives committed-mutation signals for connected observers.
type ChangeFeed interface {
	Publish(action, entity string, id int64)
	Invalidate(ctx context.Context)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Engine turns an external invoice payload into inventory state. The
// transactional body is atomic; each line item runs in its own nested unit
// so one item's failure cannot leave partial writes or abort its siblings.
type Engine struct {
	repo     ledger.RepositoryPort
	resolver *match.Resolver
	pages    *PageStore
	queue    TaskQueue
	feed     ChangeFeed
	audit    AuditPort
	logger   *slog.Logger
}

// NewEngine constructs the reconciliation engine.
func NewEngine(repo ledger.RepositoryPort, resolver *match.Resolver, pages *PageStore, queue TaskQueue, feed ChangeFeed, audit AuditPort, logger *slog.Logger) *Engine {
	return &Engine{repo: repo, resolver: resolver, pages: pages, queue: queue, feed: feed, audit: audit, logger: logger}
}

var realBarcodePattern = regexp.MustCompile(`^\d{8,13}$`)

// Finalize validates, reconciles and commits one invoice payload. Retries
// with the same request id are safe: the second submission observes the
// existing invoice and performs no further work.
func (e *Engine) Finalize(ctx context.Context, payload Payload) (Result, error) {
	if verr := payload.Validate(); verr != nil {
		return Result{}, verr
	}

	total := calculatedTotal(payload.Items)
	if payload.Total != nil {
		if math.Abs(*payload.Total-total) > 0.01 {
			e.logger.Warn("invoice total mismatch",
				slog.String("request_id", payload.RequestID),
				slog.Float64("supplied", *payload.Total),
				slog.Float64("calculated", total))
		}
		total = *payload.Total
	}

	// Fast path for retried requests; the unique request_id insert inside
	// the transaction still arbitrates concurrent first submissions.
	if existing, err := e.repo.GetInvoiceByRequestID(ctx, payload.RequestID); err == nil {
		return duplicateResult(existing), nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return Result{}, fmt.Errorf("reconcile: lookup request id: %w", err)
	}

	// Page images are materialised before the transaction; a failed page
	// degrades to no image rather than aborting the invoice.
	images := e.pages.SavePages(payload.RequestID, payload.InvoiceImages)

	now := time.Now().UTC()
	header := ledger.Invoice{
		RequestID:        payload.RequestID,
		InvoiceNumber:    payload.InvoiceNumber,
		InvoiceDate:      parseInvoiceDate(payload.InvoiceDate),
		TotalItems:       len(payload.Items),
		TotalAmount:      total,
		Status:           ledger.InvoiceStatusFinalized,
		QualityAnalysis:  payload.QualityAnalysis,
		TotalsData:       payload.TotalsData,
		AdditionalData:   mergeAdditional(payload),
		ConfidenceScores: payload.Confidence,
		FinalizedAt:      now,
	}

	result := Result{
		RequestID: payload.RequestID,
		Stats:     Stats{TotalItems: len(payload.Items), Vendor: payload.Vendor},
	}

	err := e.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		if payload.Vendor != "" {
			vendor, err := tx.GetOrCreateVendor(ctx, payload.Vendor)
			if err != nil {
				return fmt.Errorf("reconcile: vendor: %w", err)
			}
			header.VendorID = vendor.ID
		}

		created, invoice, err := tx.InsertInvoiceIfAbsent(ctx, header)
		if err != nil {
			return fmt.Errorf("reconcile: insert invoice: %w", err)
		}
		if !created {
			result = duplicateResult(invoice)
			return nil
		}
		result.InvoiceID = invoice.ID

		if len(images) > 0 {
			if err := tx.InsertInvoiceImages(ctx, invoice.ID, images); err != nil {
				return fmt.Errorf("reconcile: insert invoice images: %w", err)
			}
		}

		for i, item := range payload.Items {
			itemResult := e.processItem(ctx, tx, invoice, header.VendorID, i, item, payload.RequestID)
			if itemResult.Processed {
				result.Stats.ProcessedItems++
			} else {
				result.Stats.FailedItems++
			}
			result.Items = append(result.Items, itemResult)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if result.Duplicate {
		return result, nil
	}
	result.Success = true

	e.afterCommit(ctx, payload, result)
	return result, nil
}

// processItem reconciles one line item inside its own savepoint. The
// returned result records success or the isolated failure.
func (e *Engine) processItem(ctx context.Context, tx ledger.TxRepository, invoice ledger.Invoice, vendorID int64, index int, item LineItem, requestID string) ItemResult {
	itemResult := ItemResult{ItemID: index}

	resolved, verr := resolveItem(index, item)
	if verr != nil {
		itemResult.Error = verr.Error()
		return itemResult
	}

	err := tx.Savepoint(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		transactionID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("PUR:%s:%d", requestID, index))).String()
		reason := fmt.Sprintf("invoice %s", invoiceLabel(invoice))

		product, strategy, err := e.resolver.Resolve(ctx, tx, match.Item{
			Barcode:     resolved.Barcode,
			ProductCode: resolved.ProductCode,
			Name:        resolved.Name,
		})
		switch {
		case err == nil:
			newQty := product.Quantity + resolved.Quantity
			if err := tx.UpdateProductStock(ctx, product.ID, ledger.StockUpdate{
				Quantity:  newQty,
				Price:     resolved.SellingPrice,
				CostPrice: resolved.CostPrice,
			}); err != nil {
				return err
			}
			if err := tx.AppendMovement(ctx, ledger.Movement{
				ProductID:        product.ID,
				Type:             ledger.MovementIn,
				Quantity:         resolved.Quantity,
				PreviousQuantity: product.Quantity,
				NewQuantity:      newQty,
				Reason:           reason,
				ReferenceID:      transactionID,
			}); err != nil {
				return err
			}
			itemResult.ProductID = product.ID
			itemResult.MatchedBy = strategy

		case errors.Is(err, match.ErrNoMatch):
			barcode := chooseBarcode(resolved, requestID, index)
			productID, err := tx.InsertProduct(ctx, ledger.Product{
				Name:        resolved.Name,
				Barcode:     barcode,
				ProductCode: resolved.ProductCode,
				Reference:   resolved.Reference,
				Price:       resolved.SellingPrice,
				CostPrice:   resolved.CostPrice,
				Quantity:    resolved.Quantity,
				VendorID:    vendorID,
				IsActive:    true,
			})
			if err != nil {
				return err
			}
			if err := tx.AppendMovement(ctx, ledger.Movement{
				ProductID:   productID,
				Type:        ledger.MovementIn,
				Quantity:    resolved.Quantity,
				NewQuantity: resolved.Quantity,
				Reason:      reason,
				ReferenceID: transactionID,
			}); err != nil {
				return err
			}
			itemResult.ProductID = productID
			itemResult.Created = true

		default:
			return err
		}

		return tx.AppendTransaction(ctx, ledger.Transaction{
			TransactionID: transactionID,
			ProductID:     itemResult.ProductID,
			Quantity:      resolved.Quantity,
			UnitPrice:     resolved.CostPrice,
			TotalPrice:    resolved.CostPrice * resolved.Quantity,
			Type:          ledger.TransactionPurchase,
			Notes:         reason,
		})
	})
	if err != nil {
		e.logger.Warn("invoice item failed",
			slog.String("request_id", requestID),
			slog.Int("item", index),
			slog.Any("error", err))
		itemResult.ProductID = 0
		itemResult.Created = false
		itemResult.MatchedBy = ""
		itemResult.Error = shared.UserSafeMessage(err)
		return itemResult
	}

	itemResult.Processed = true
	return itemResult
}

// afterCommit schedules the non-transactional side effects. Failures here
// are logged and never surface to the invoice caller.
func (e *Engine) afterCommit(ctx context.Context, payload Payload, result Result) {
	if e.audit != nil {
		_ = e.audit.Record(ctx, shared.AuditLog{
			Action:   "INVOICE_FINALIZE",
			Entity:   "invoice",
			EntityID: payload.RequestID,
			Meta: map[string]any{
				"invoice_id": result.InvoiceID,
				"processed":  result.Stats.ProcessedItems,
				"failed":     result.Stats.FailedItems,
			},
		})
	}

	if e.queue != nil {
		if err := e.queue.EnqueueScanNotification(ctx, ScanEvent{
			RequestID: payload.RequestID,
			InvoiceID: result.InvoiceID,
			Vendor:    payload.Vendor,
			ItemCount: result.Stats.ProcessedItems,
		}); err != nil {
			e.logger.Warn("enqueue scan notification", slog.Any("error", err))
		}
		for _, item := range result.Items {
			if !item.Processed {
				continue
			}
			name := ""
			if resolved, verr := resolveItem(item.ItemID, payload.Items[item.ItemID]); verr == nil {
				name = resolved.Name
			}
			if err := e.queue.EnqueueProductEnrichment(ctx, item.ProductID, name); err != nil {
				e.logger.Warn("enqueue enrichment",
					slog.Int64("product_id", item.ProductID),
					slog.Any("error", err))
			}
		}
	}

	if e.feed != nil {
		e.feed.Invalidate(ctx)
		e.feed.Publish("finalized", "invoice", result.InvoiceID)
		for _, item := range result.Items {
			if item.Processed {
				action := "updated"
				if item.Created {
					action = "created"
				}
				e.feed.Publish(action, "product", item.ProductID)
			}
		}
	}
}

// GetInvoice returns a committed invoice with its page images.
func (e *Engine) GetInvoice(ctx context.Context, id int64) (ledger.Invoice, []ledger.InvoiceImage, error) {
	return e.repo.GetInvoice(ctx, id)
}

// chooseBarcode picks an identifier for a newly created product. Real
// scannable barcodes win; the generated fallback combines the request id and
// the item's position in the input array so it is globally distinguishable
// without looking like a real barcode.
func chooseBarcode(item resolvedItem, requestID string, index int) string {
	switch {
	case realBarcodePattern.MatchString(item.Barcode):
		return item.Barcode
	case item.Barcode != "":
		return item.Barcode
	case item.ProductCode != "":
		return item.ProductCode
	default:
		return fmt.Sprintf("INV_%s_%d", requestID, index)
	}
}

func duplicateResult(invoice ledger.Invoice) Result {
	return Result{
		Success:   true,
		Duplicate: true,
		InvoiceID: invoice.ID,
		RequestID: invoice.RequestID,
		Stats:     Stats{TotalItems: invoice.TotalItems},
	}
}

func invoiceLabel(invoice ledger.Invoice) string {
	if invoice.InvoiceNumber != "" {
		return invoice.InvoiceNumber
	}
	return invoice.RequestID
}

func parseInvoiceDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func mergeAdditional(payload Payload) map[string]any {
	if payload.AdditionalFields == nil && payload.Metadata == nil && payload.ProcessingMethod == "" {
		return nil
	}
	merged := map[string]any{}
	for k, v := range payload.AdditionalFields {
		merged[k] = v
	}
	if payload.Metadata != nil {
		merged["metadata"] = payload.Metadata
	}
	if payload.ProcessingMethod != "" {
		merged["processing_method"] = payload.ProcessingMethod
	}
	return merged
}

