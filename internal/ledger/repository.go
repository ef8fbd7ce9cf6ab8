package ledger

import "context"

// ProductLookup exposes the matching queries used by the identifier resolver.
// All lookups consider active products only.
type ProductLookup interface {
	FindProductByBarcode(ctx context.Context, barcode string) (Product, error)
	FindProductByBarcodePattern(ctx context.Context, identifier string) (Product, error)
	FindProductByName(ctx context.Context, name string) (Product, error)
}

// TxRepository exposes transactional operations used by services. Savepoint
// nests an all-or-nothing unit inside the open transaction so one line item's
// failure cannot leave partial writes behind.
type TxRepository interface {
	ProductLookup

	GetOrCreateVendor(ctx context.Context, name string) (Vendor, error)
	GetOrCreateCategory(ctx context.Context, name string) (Category, error)
	LockProduct(ctx context.Context, id int64) (Product, error)
	InsertProduct(ctx context.Context, product Product) (int64, error)
	UpdateProduct(ctx context.Context, product Product) error
	UpdateProductStock(ctx context.Context, id int64, update StockUpdate) error
	TouchLastSold(ctx context.Context, id int64) error
	AppendMovement(ctx context.Context, movement Movement) error
	AppendTransaction(ctx context.Context, transaction Transaction) error
	InsertInvoiceIfAbsent(ctx context.Context, invoice Invoice) (bool, Invoice, error)
	InsertInvoiceImages(ctx context.Context, invoiceID int64, images []InvoiceImage) error
	Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// RepositoryPort abstracts repository usage for services.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	FindProductByNameLike(ctx context.Context, name string) (Product, error)
	CountActiveProducts(ctx context.Context) (int, error)
	UpdateProduct(ctx context.Context, product Product) error
	UpdateProductImage(ctx context.Context, id int64, imageURL, localPath string) error
	SetProductActive(ctx context.Context, id int64, active bool) error
	DeleteProduct(ctx context.Context, id int64) error
	ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, []InvoiceImage, error)
	GetInvoiceByRequestID(ctx context.Context, requestID string) (Invoice, error)
}
