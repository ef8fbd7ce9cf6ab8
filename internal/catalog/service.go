package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/scanstock/scanstock/internal/ledger"
	"github.com/scanstock/scanstock/internal/shared"
)

var validate = validator.New()

// TaskQueue schedules post-commit background work.
type TaskQueue interface {
	EnqueueSaleNotification(ctx context.Context, evt SaleEvent) error
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

// Service coordinates product reads, updates and point-of-sale postings.
type Service struct {
	repo     ledger.RepositoryPort
	queue    TaskQueue
	feed     ChangeFeed
	audit    AuditPort
	allowNeg bool
	logger   *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo ledger.RepositoryPort, queue TaskQueue, feed ChangeFeed, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{repo: repo, queue: queue, feed: feed, audit: audit, allowNeg: cfg.AllowNegativeStock, logger: logger}
}

// List returns products matching the filter with the total count.
func (s *Service) List(ctx context.Context, filter ledger.ProductFilter) ([]ledger.Product, int, error) {
	return s.repo.ListProducts(ctx, filter)
}

// Get returns one product by id, soft-deleted rows included.
func (s *Service) Get(ctx context.Context, id int64) (ledger.Product, error) {
	if id <= 0 {
		return ledger.Product{}, fmt.Errorf("%w: product id", ErrInvalidInput)
	}
	return s.repo.GetProduct(ctx, id)
}

// Lookup finds the closest active product by name substring. Invoice
// reconciliation never uses this; exact matching stays over there.
func (s *Service) Lookup(ctx context.Context, name string) (ledger.Product, error) {
	if strings.TrimSpace(name) == "" {
		return ledger.Product{}, fmt.Errorf("%w: name", ErrInvalidInput)
	}
	return s.repo.FindProductByNameLike(ctx, strings.TrimSpace(name))
}

// Movements lists the audit trail for one product, newest first.
func (s *Service) Movements(ctx context.Context, productID int64, limit int) ([]ledger.Movement, error) {
	if productID <= 0 {
		return nil, fmt.Errorf("%w: product id", ErrInvalidInput)
	}
	return s.repo.ListMovements(ctx, productID, limit)
}

// Update applies the supplied fields to the product. Fields left nil keep
// their stored values. A quantity change is recorded as an adjustment
// movement in the same transaction.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (ledger.Product, error) {
	if id <= 0 {
		return ledger.Product{}, fmt.Errorf("%w: product id", ErrInvalidInput)
	}
	if err := validate.Struct(input); err != nil {
		return ledger.Product{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return ledger.Product{}, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}

	var updated ledger.Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		existing, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		next, err := applyUpdate(ctx, tx, existing, input)
		if err != nil {
			return err
		}
		if err := tx.UpdateProduct(ctx, next); err != nil {
			return err
		}
		if next.Quantity != existing.Quantity {
			if err := tx.AppendMovement(ctx, ledger.Movement{
				ProductID:        id,
				Type:             ledger.MovementAdjustment,
				Quantity:         math.Abs(next.Quantity - existing.Quantity),
				PreviousQuantity: existing.Quantity,
				NewQuantity:      next.Quantity,
				Reason:           "manual update",
			}); err != nil {
				return err
			}
		}
		updated = next
		return nil
	})
	if err != nil {
		return ledger.Product{}, err
	}

	s.afterWrite(ctx, "PRODUCT_UPDATE", id, map[string]any{"quantity": updated.Quantity})
	return updated, nil
}

// applyUpdate resolves each field from the explicit input value, falling back
// to the stored one. Vendor and category arrive as names and are created on
// first reference.
func applyUpdate(ctx context.Context, tx ledger.TxRepository, existing ledger.Product, input UpdateInput) (ledger.Product, error) {
	next := existing
	if input.Name != nil {
		next.Name = strings.TrimSpace(*input.Name)
	}
	if input.Barcode != nil {
		next.Barcode = strings.TrimSpace(*input.Barcode)
	}
	if input.ProductCode != nil {
		next.ProductCode = strings.TrimSpace(*input.ProductCode)
	}
	if input.Reference != nil {
		next.Reference = *input.Reference
	}
	if input.Price != nil {
		next.Price = *input.Price
	}
	if input.CostPrice != nil {
		next.CostPrice = *input.CostPrice
	}
	if input.Quantity != nil {
		next.Quantity = *input.Quantity
	}
	if input.MinStockLevel != nil {
		next.MinStockLevel = *input.MinStockLevel
	}
	if input.MaxStockLevel != nil {
		next.MaxStockLevel = *input.MaxStockLevel
	}
	if input.Vendor != nil {
		next.VendorID = 0
		if name := strings.TrimSpace(*input.Vendor); name != "" {
			vendor, err := tx.GetOrCreateVendor(ctx, name)
			if err != nil {
				return ledger.Product{}, err
			}
			next.VendorID = vendor.ID
		}
	}
	if input.Category != nil {
		next.CategoryID = 0
		if name := strings.TrimSpace(*input.Category); name != "" {
			category, err := tx.GetOrCreateCategory(ctx, name)
			if err != nil {
				return ledger.Product{}, err
			}
			next.CategoryID = category.ID
		}
	}
	return next, nil
}

// SoftDelete hides the product from listings and matching. The row and its
// history stay behind for audit.
func (s *Service) SoftDelete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: product id", ErrInvalidInput)
	}
	if err := s.repo.SetProductActive(ctx, id, false); err != nil {
		return err
	}
	s.afterWrite(ctx, "PRODUCT_SOFT_DELETE", id, nil)
	return nil
}

// HardDelete removes the product row permanently.
func (s *Service) HardDelete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: product id", ErrInvalidInput)
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.afterWrite(ctx, "PRODUCT_HARD_DELETE", id, nil)
	return nil
}

// PostSale posts an outbound movement and a sale transaction for one product.
// The sale is rejected when it would drive the quantity negative.
func (s *Service) PostSale(ctx context.Context, input SaleInput) (SaleResult, error) {
	if err := validate.Struct(input); err != nil {
		return SaleResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	transactionID := uuid.NewString()
	var result SaleResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		product, err := tx.LockProduct(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return ledger.ErrNotFound
		}
		newQty := product.Quantity - input.Quantity
		if newQty < 0 && !s.allowNeg {
			return ledger.ErrNegativeStock
		}
		unitPrice := product.Price
		if input.UnitPrice != nil {
			unitPrice = *input.UnitPrice
		}

		if err := tx.UpdateProductStock(ctx, product.ID, ledger.StockUpdate{
			Quantity:  newQty,
			Price:     product.Price,
			CostPrice: product.CostPrice,
		}); err != nil {
			return err
		}
		if err := tx.AppendMovement(ctx, ledger.Movement{
			ProductID:        product.ID,
			Type:             ledger.MovementOut,
			Quantity:         input.Quantity,
			PreviousQuantity: product.Quantity,
			NewQuantity:      newQty,
			Reason:           "sale",
			ReferenceID:      transactionID,
		}); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, ledger.Transaction{
			TransactionID: transactionID,
			ProductID:     product.ID,
			Quantity:      input.Quantity,
			UnitPrice:     unitPrice,
			TotalPrice:    unitPrice * input.Quantity,
			Type:          ledger.TransactionSale,
			Notes:         input.Notes,
		}); err != nil {
			return err
		}
		if err := tx.TouchLastSold(ctx, product.ID); err != nil {
			return err
		}

		result = SaleResult{
			TransactionID:     transactionID,
			ProductID:         product.ID,
			ProductName:       product.Name,
			Quantity:          input.Quantity,
			UnitPrice:         unitPrice,
			Total:             unitPrice * input.Quantity,
			RemainingQuantity: newQty,
			LowStock:          product.MinStockLevel > 0 && newQty <= product.MinStockLevel,
		}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}

	if s.queue != nil {
		evt := SaleEvent{
			TransactionID: result.TransactionID,
			ProductID:     result.ProductID,
			ProductName:   result.ProductName,
			Quantity:      result.Quantity,
			Remaining:     result.RemainingQuantity,
			LowStock:      result.LowStock,
		}
		if err := s.queue.EnqueueSaleNotification(ctx, evt); err != nil {
			s.logger.Warn("enqueue sale notification",
				slog.Int64("product_id", result.ProductID),
				slog.Any("error", err))
		}
	}
	s.afterWrite(ctx, "SALE_POST", result.ProductID, map[string]any{
		"transaction_id": result.TransactionID,
		"quantity":       result.Quantity,
		"total":          result.Total,
	})
	return result, nil
}

// CountActive returns the number of active products.
func (s *Service) CountActive(ctx context.Context) (int, error) {
	return s.repo.CountActiveProducts(ctx)
}

// afterWrite records the audit entry and signals observers. Failures here
// never surface to the caller.
func (s *Service) afterWrite(ctx context.Context, action string, productID int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   action,
			Entity:   "product",
			EntityID: fmt.Sprintf("%d", productID),
			Meta:     meta,
		})
	}
	if s.feed != nil {
		s.feed.Invalidate(ctx)
		verb := "updated"
		if strings.Contains(action, "DELETE") {
			verb = "deleted"
		}
		s.feed.Publish(verb, "product", productID)
	}
}
