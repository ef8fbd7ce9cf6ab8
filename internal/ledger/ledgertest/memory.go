// Package ledgertest provides an in-memory ledger repository for service
// tests. Transactions and savepoints are implemented by snapshotting state,
// so rollback semantics match the real repository closely enough to exercise
// atomicity and per-item isolation.
package ledgertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/scanstock/scanstock/internal/ledger"
)

// MemoryRepository implements ledger.RepositoryPort in memory.
type MemoryRepository struct {
	mu sync.Mutex

	Vendors       []ledger.Vendor
	Categories    []ledger.Category
	Products      []ledger.Product
	Movements     []ledger.Movement
	Transactions  []ledger.Transaction
	Invoices      []ledger.Invoice
	InvoiceImages map[int64][]ledger.InvoiceImage

	// FailOn simulates a storage fault: when set, every mutating operation
	// calls it with its name and aborts if an error comes back.
	FailOn func(op string) error

	nextID int64
}

// New constructs an empty MemoryRepository.
func New() *MemoryRepository {
	return &MemoryRepository{InvoiceImages: map[int64][]ledger.InvoiceImage{}}
}

type state struct {
	vendors       []ledger.Vendor
	categories    []ledger.Category
	products      []ledger.Product
	movements     []ledger.Movement
	transactions  []ledger.Transaction
	invoices      []ledger.Invoice
	invoiceImages map[int64][]ledger.InvoiceImage
	nextID        int64
}

func (r *MemoryRepository) snapshot() state {
	images := make(map[int64][]ledger.InvoiceImage, len(r.InvoiceImages))
	for k, v := range r.InvoiceImages {
		images[k] = append([]ledger.InvoiceImage(nil), v...)
	}
	return state{
		vendors:       append([]ledger.Vendor(nil), r.Vendors...),
		categories:    append([]ledger.Category(nil), r.Categories...),
		products:      append([]ledger.Product(nil), r.Products...),
		movements:     append([]ledger.Movement(nil), r.Movements...),
		transactions:  append([]ledger.Transaction(nil), r.Transactions...),
		invoices:      append([]ledger.Invoice(nil), r.Invoices...),
		invoiceImages: images,
		nextID:        r.nextID,
	}
}

func (r *MemoryRepository) restore(s state) {
	r.Vendors = s.vendors
	r.Categories = s.categories
	r.Products = s.products
	r.Movements = s.movements
	r.Transactions = s.transactions
	r.Invoices = s.invoices
	r.InvoiceImages = s.invoiceImages
	r.nextID = s.nextID
}

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemoryRepository) fail(op string) error {
	if r.FailOn != nil {
		return r.FailOn(op)
	}
	return nil
}

type memoryTx struct {
	repo *MemoryRepository
}

// WithTx runs fn against the repository, restoring the pre-transaction state
// when fn fails.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(before)
		return err
	}
	return nil
}

func (t *memoryTx) Savepoint(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	before := t.repo.snapshot()
	if err := fn(ctx, t); err != nil {
		t.repo.restore(before)
		return err
	}
	return nil
}

func (t *memoryTx) GetOrCreateVendor(ctx context.Context, name string) (ledger.Vendor, error) {
	if err := t.repo.fail("GetOrCreateVendor"); err != nil {
		return ledger.Vendor{}, err
	}
	for _, v := range t.repo.Vendors {
		if v.Name == name {
			return v, nil
		}
	}
	vendor := ledger.Vendor{ID: t.repo.id(), Name: name, CreatedAt: time.Now()}
	t.repo.Vendors = append(t.repo.Vendors, vendor)
	return vendor, nil
}

func (t *memoryTx) GetOrCreateCategory(ctx context.Context, name string) (ledger.Category, error) {
	for _, c := range t.repo.Categories {
		if c.Name == name {
			return c, nil
		}
	}
	category := ledger.Category{ID: t.repo.id(), Name: name, CreatedAt: time.Now()}
	t.repo.Categories = append(t.repo.Categories, category)
	return category, nil
}

func (t *memoryTx) FindProductByBarcode(ctx context.Context, barcode string) (ledger.Product, error) {
	if barcode == "" {
		return ledger.Product{}, ledger.ErrNotFound
	}
	for _, p := range t.repo.Products {
		if p.IsActive && p.Barcode == barcode {
			return p, nil
		}
	}
	return ledger.Product{}, ledger.ErrNotFound
}

func (t *memoryTx) FindProductByBarcodePattern(ctx context.Context, identifier string) (ledger.Product, error) {
	if identifier == "" {
		return ledger.Product{}, ledger.ErrNotFound
	}
	for _, p := range t.repo.Products {
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

func (t *memoryTx) FindProductByName(ctx context.Context, name string) (ledger.Product, error) {
	if name == "" {
		return ledger.Product{}, ledger.ErrNotFound
	}
	for _, p := range t.repo.Products {
		if p.IsActive && strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return ledger.Product{}, ledger.ErrNotFound
}

func (t *memoryTx) LockProduct(ctx context.Context, id int64) (ledger.Product, error) {
	for _, p := range t.repo.Products {
		if p.ID == id {
			return p, nil
		}
	}
	return ledger.Product{}, ledger.ErrNotFound
}

func (t *memoryTx) InsertProduct(ctx context.Context, product ledger.Product) (int64, error) {
	if err := t.repo.fail("InsertProduct"); err != nil {
		return 0, err
	}
	if product.Barcode != "" {
		for _, p := range t.repo.Products {
			if p.IsActive && p.Barcode == product.Barcode {
				return 0, fmt.Errorf("%w: products_barcode_key", ledger.ErrDuplicateKey)
			}
		}
	}
	product.ID = t.repo.id()
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now
	t.repo.Products = append(t.repo.Products, product)
	return product.ID, nil
}

func (t *memoryTx) UpdateProduct(ctx context.Context, product ledger.Product) error {
	if err := t.repo.fail("UpdateProduct"); err != nil {
		return err
	}
	return t.repo.updateProductLocked(product)
}

func (t *memoryTx) UpdateProductStock(ctx context.Context, id int64, update ledger.StockUpdate) error {
	if err := t.repo.fail("UpdateProductStock"); err != nil {
		return err
	}
	for i := range t.repo.Products {
		if t.repo.Products[i].ID == id {
			t.repo.Products[i].Quantity = update.Quantity
			t.repo.Products[i].Price = update.Price
			t.repo.Products[i].CostPrice = update.CostPrice
			t.repo.Products[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (t *memoryTx) TouchLastSold(ctx context.Context, id int64) error {
	for i := range t.repo.Products {
		if t.repo.Products[i].ID == id {
			t.repo.Products[i].LastSold = time.Now()
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (t *memoryTx) AppendMovement(ctx context.Context, movement ledger.Movement) error {
	if err := t.repo.fail("AppendMovement"); err != nil {
		return err
	}
	movement.ID = t.repo.id()
	movement.CreatedAt = time.Now()
	t.repo.Movements = append(t.repo.Movements, movement)
	return nil
}

func (t *memoryTx) AppendTransaction(ctx context.Context, transaction ledger.Transaction) error {
	if err := t.repo.fail("AppendTransaction"); err != nil {
		return err
	}
	for _, existing := range t.repo.Transactions {
		if existing.TransactionID == transaction.TransactionID {
			return fmt.Errorf("%w: transactions_transaction_id_key", ledger.ErrDuplicateKey)
		}
	}
	transaction.ID = t.repo.id()
	transaction.CreatedAt = time.Now()
	t.repo.Transactions = append(t.repo.Transactions, transaction)
	return nil
}

func (t *memoryTx) InsertInvoiceIfAbsent(ctx context.Context, invoice ledger.Invoice) (bool, ledger.Invoice, error) {
	if err := t.repo.fail("InsertInvoiceIfAbsent"); err != nil {
		return false, ledger.Invoice{}, err
	}
	for _, existing := range t.repo.Invoices {
		if existing.RequestID == invoice.RequestID {
			return false, existing, nil
		}
	}
	invoice.ID = t.repo.id()
	invoice.CreatedAt = time.Now()
	t.repo.Invoices = append(t.repo.Invoices, invoice)
	return true, invoice, nil
}

func (t *memoryTx) InsertInvoiceImages(ctx context.Context, invoiceID int64, images []ledger.InvoiceImage) error {
	for _, img := range images {
		img.ID = t.repo.id()
		img.InvoiceID = invoiceID
		t.repo.InvoiceImages[invoiceID] = append(t.repo.InvoiceImages[invoiceID], img)
	}
	return nil
}

func (r *MemoryRepository) GetProduct(ctx context.Context, id int64) (ledger.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.Products {
		if p.ID == id {
			return p, nil
		}
	}
	return ledger.Product{}, ledger.ErrNotFound
}

func (r *MemoryRepository) ListProducts(ctx context.Context, filter ledger.ProductFilter) ([]ledger.Product, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var products []ledger.Product
	for _, p := range r.Products {
		if !filter.IncludeInactive && !p.IsActive {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.VendorID != 0 && p.VendorID != filter.VendorID {
			continue
		}
		if filter.CategoryID != 0 && p.CategoryID != filter.CategoryID {
			continue
		}
		products = append(products, p)
	}
	return products, len(products), nil
}

func (r *MemoryRepository) FindProductByNameLike(ctx context.Context, name string) (ledger.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return ledger.Product{}, ledger.ErrNotFound
	}
	for _, p := range r.Products {
		if p.IsActive && strings.Contains(strings.ToLower(p.Name), strings.ToLower(name)) {
			return p, nil
		}
	}
	return ledger.Product{}, ledger.ErrNotFound
}

func (r *MemoryRepository) CountActiveProducts(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, p := range r.Products {
		if p.IsActive {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) UpdateProduct(ctx context.Context, product ledger.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateProductLocked(product)
}

func (r *MemoryRepository) updateProductLocked(product ledger.Product) error {
	if product.Barcode != "" {
		for _, p := range r.Products {
			if p.ID != product.ID && p.IsActive && p.Barcode == product.Barcode {
				return fmt.Errorf("%w: products_barcode_key", ledger.ErrDuplicateKey)
			}
		}
	}
	for i := range r.Products {
		if r.Products[i].ID == product.ID {
			product.IsActive = r.Products[i].IsActive
			product.CreatedAt = r.Products[i].CreatedAt
			product.UpdatedAt = time.Now()
			r.Products[i] = product
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (r *MemoryRepository) UpdateProductImage(ctx context.Context, id int64, imageURL, localPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Products {
		if r.Products[i].ID == id {
			r.Products[i].ImageURL = imageURL
			r.Products[i].ImageLocalPath = localPath
			r.Products[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (r *MemoryRepository) SetProductActive(ctx context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Products {
		if r.Products[i].ID == id {
			r.Products[i].IsActive = active
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (r *MemoryRepository) DeleteProduct(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Products {
		if r.Products[i].ID == id {
			r.Products = append(r.Products[:i], r.Products[i+1:]...)
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (r *MemoryRepository) ListMovements(ctx context.Context, productID int64, limit int) ([]ledger.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var movements []ledger.Movement
	for i := len(r.Movements) - 1; i >= 0; i-- {
		if r.Movements[i].ProductID == productID {
			movements = append(movements, r.Movements[i])
			if limit > 0 && len(movements) >= limit {
				break
			}
		}
	}
	return movements, nil
}

func (r *MemoryRepository) GetInvoice(ctx context.Context, id int64) (ledger.Invoice, []ledger.InvoiceImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.Invoices {
		if inv.ID == id {
			return inv, r.InvoiceImages[id], nil
		}
	}
	return ledger.Invoice{}, nil, ledger.ErrNotFound
}

func (r *MemoryRepository) GetInvoiceByRequestID(ctx context.Context, requestID string) (ledger.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.Invoices {
		if inv.RequestID == requestID {
			return inv, nil
		}
	}
	return ledger.Invoice{}, ledger.ErrNotFound
}
