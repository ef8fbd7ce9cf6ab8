package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/scanstock/scanstock/internal/notify"
)

const (
	// QueueDefault is the queue name for background jobs.
	QueueDefault = "default"

	// TaskTypeEnrichProduct attaches an external image to a product.
	TaskTypeEnrichProduct = "enrich:product"
	// TaskTypeScanNotification records an invoice-processed notification.
	TaskTypeScanNotification = "notify:scan"
	// TaskTypeSaleNotification records sale and low-stock notifications.
	TaskTypeSaleNotification = "notify:sale"
)

// EnrichProductPayload identifies the product to enrich.
type EnrichProductPayload struct {
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
}

// ScanNotificationPayload describes a committed invoice finalize.
type ScanNotificationPayload struct {
	RequestID string `json:"requestId"`
	InvoiceID int64  `json:"invoiceId"`
	Vendor    string `json:"vendor,omitempty"`
	ItemCount int    `json:"itemCount"`
}

// SaleNotificationPayload describes a committed sale.
type SaleNotificationPayload struct {
	TransactionID string  `json:"transactionId"`
	ProductID     int64   `json:"productId"`
	ProductName   string  `json:"productName"`
	Quantity      float64 `json:"quantity"`
	Remaining     float64 `json:"remaining"`
	LowStock      bool    `json:"lowStock"`
}

// NewEnrichProductTask constructs an Asynq task.
func NewEnrichProductTask(payload EnrichProductPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeEnrichProduct, data, asynq.MaxRetry(3)), nil
}

// NewScanNotificationTask constructs an Asynq task.
func NewScanNotificationTask(payload ScanNotificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeScanNotification, data, asynq.MaxRetry(2)), nil
}

// NewSaleNotificationTask constructs an Asynq task.
func NewSaleNotificationTask(payload SaleNotificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSaleNotification, data, asynq.MaxRetry(2)), nil
}

// Enricher is the worker-side enrichment surface.
type Enricher interface {
	AttachImage(ctx context.Context, productID int64, productName string) error
}

// Recorder is the worker-side notification surface.
type Recorder interface {
	Record(ctx context.Context, evt notify.Event) (bool, error)
}

// HandleEnrichProduct processes TaskTypeEnrichProduct tasks. Search or
// download failures return an error so Asynq retries within its bound.
func HandleEnrichProduct(svc Enricher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload EnrichProductPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode enrich payload: %v: %w", err, asynq.SkipRetry)
		}
		return svc.AttachImage(ctx, payload.ProductID, payload.ProductName)
	}
}

// HandleScanNotification processes TaskTypeScanNotification tasks. Record
// failures are logged and swallowed; notifications never retry into dupes.
func HandleScanNotification(rec Recorder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ScanNotificationPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode scan payload: %v: %w", err, asynq.SkipRetry)
		}
		title := fmt.Sprintf("Invoice processed: %d item(s)", payload.ItemCount)
		if payload.Vendor != "" {
			title = fmt.Sprintf("Invoice from %s processed: %d item(s)", payload.Vendor, payload.ItemCount)
		}
		if _, err := rec.Record(ctx, notify.Event{
			Kind:          notify.KindScanComplete,
			Title:         title,
			CorrelationID: payload.RequestID,
		}); err != nil {
			logger.Warn("record scan notification",
				slog.String("request_id", payload.RequestID),
				slog.Any("error", err))
		}
		return nil
	}
}

// HandleSaleNotification processes TaskTypeSaleNotification tasks, recording
// the sale itself and a low-stock alert when the sale crossed the threshold.
func HandleSaleNotification(rec Recorder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SaleNotificationPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode sale payload: %v: %w", err, asynq.SkipRetry)
		}
		if _, err := rec.Record(ctx, notify.Event{
			Kind:          notify.KindSale,
			Title:         fmt.Sprintf("Sold %g x %s", payload.Quantity, payload.ProductName),
			CorrelationID: payload.TransactionID,
			ProductID:     payload.ProductID,
		}); err != nil {
			logger.Warn("record sale notification",
				slog.String("transaction_id", payload.TransactionID),
				slog.Any("error", err))
		}
		if payload.LowStock {
			if _, err := rec.Record(ctx, notify.Event{
				Kind:      notify.KindLowStock,
				Title:     fmt.Sprintf("Low stock: %s (%g left)", payload.ProductName, payload.Remaining),
				ProductID: payload.ProductID,
			}); err != nil {
				logger.Warn("record low stock notification",
					slog.Int64("product_id", payload.ProductID),
					slog.Any("error", err))
			}
		}
		return nil
	}
}
