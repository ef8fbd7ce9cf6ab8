package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scanstock/scanstock/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Savepoint nests an all-or-nothing unit on the open transaction.
func (r *txRepository) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSavepoint(ctx, r.tx, func(nested pgx.Tx) error {
		return fn(ctx, &txRepository{tx: nested})
	})
}

const productColumns = `id, name, COALESCE(barcode,''), COALESCE(product_code,''), COALESCE(reference,''),
price, cost_price, quantity, min_stock_level, max_stock_level,
COALESCE(vendor_id,0), COALESCE(category_id,0), COALESCE(image_url,''), COALESCE(image_local_path,''),
is_active, created_at, updated_at, COALESCE(last_sold, 'epoch')`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Barcode, &p.ProductCode, &p.Reference,
		&p.Price, &p.CostPrice, &p.Quantity, &p.MinStockLevel, &p.MaxStockLevel,
		&p.VendorID, &p.CategoryID, &p.ImageURL, &p.ImageLocalPath,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt, &p.LastSold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func mapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
	}
	return err
}

func (r *txRepository) GetOrCreateVendor(ctx context.Context, name string) (Vendor, error) {
	var v Vendor
	err := r.tx.QueryRow(ctx, `SELECT id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at
FROM vendors WHERE name = $1`, name).Scan(&v.ID, &v.Name, &v.Phone, &v.Email, &v.Address, &v.CreatedAt)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Vendor{}, err
	}
	// Concurrent inserters race on the unique name; the loser reuses the
	// winner's row.
	err = r.tx.QueryRow(ctx, `INSERT INTO vendors (name, created_at) VALUES ($1, NOW())
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at`, name).
		Scan(&v.ID, &v.Name, &v.Phone, &v.Email, &v.Address, &v.CreatedAt)
	if err != nil {
		return Vendor{}, err
	}
	return v, nil
}

func (r *txRepository) GetOrCreateCategory(ctx context.Context, name string) (Category, error) {
	var c Category
	err := r.tx.QueryRow(ctx, `INSERT INTO categories (name, created_at) VALUES ($1, NOW())
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, created_at`, name).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return Category{}, err
	}
	return c, nil
}

func (r *txRepository) FindProductByBarcode(ctx context.Context, barcode string) (Product, error) {
	if barcode == "" {
		return Product{}, ErrNotFound
	}
	return scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+`
FROM products WHERE barcode = $1 AND is_active`, barcode))
}

func (r *txRepository) FindProductByBarcodePattern(ctx context.Context, identifier string) (Product, error) {
	if identifier == "" {
		return Product{}, ErrNotFound
	}
	return scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+`
FROM products
WHERE is_active AND (barcode LIKE '%\_' || $1 OR barcode LIKE $1 || '\_%' OR barcode = 'SKU_' || $1 OR barcode = 'MAN_' || $1)
ORDER BY id LIMIT 1`, identifier))
}

func (r *txRepository) FindProductByName(ctx context.Context, name string) (Product, error) {
	if name == "" {
		return Product{}, ErrNotFound
	}
	return scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+`
FROM products WHERE LOWER(TRIM(name)) = LOWER(TRIM($1)) AND is_active
ORDER BY id LIMIT 1`, name))
}

func (r *txRepository) LockProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+`
FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) InsertProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO products
(name, barcode, product_code, reference, price, cost_price, quantity, min_stock_level, max_stock_level,
 vendor_id, category_id, image_url, image_local_path, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
RETURNING id`,
		p.Name, nullStr(p.Barcode), nullStr(p.ProductCode), nullStr(p.Reference),
		p.Price, p.CostPrice, p.Quantity, p.MinStockLevel, p.MaxStockLevel,
		nullInt(p.VendorID), nullInt(p.CategoryID), nullStr(p.ImageURL), nullStr(p.ImageLocalPath), p.IsActive).Scan(&id)
	if err != nil {
		return 0, mapDuplicate(err)
	}
	return id, nil
}

func (r *txRepository) UpdateProductStock(ctx context.Context, id int64, update StockUpdate) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products
SET quantity = $2, price = $3, cost_price = $4, updated_at = NOW()
WHERE id = $1`, id, update.Quantity, update.Price, update.CostPrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) TouchLastSold(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET last_sold = NOW() WHERE id = $1`, id)
	return err
}

func (r *txRepository) AppendMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_movements
(product_id, movement_type, quantity, previous_quantity, new_quantity, reason, reference_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`,
		m.ProductID, string(m.Type), m.Quantity, m.PreviousQuantity, m.NewQuantity, m.Reason, nullStr(m.ReferenceID))
	return err
}

func (r *txRepository) AppendTransaction(ctx context.Context, t Transaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transactions
(transaction_id, product_id, quantity, unit_price, total_price, transaction_type, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`,
		t.TransactionID, t.ProductID, t.Quantity, t.UnitPrice, t.TotalPrice, string(t.Type), t.Notes)
	if err != nil {
		return mapDuplicate(err)
	}
	return nil
}

func (r *txRepository) InsertInvoiceIfAbsent(ctx context.Context, inv Invoice) (bool, Invoice, error) {
	quality, totals, additional, confidence, err := marshalInvoiceMeta(inv)
	if err != nil {
		return false, Invoice{}, err
	}
	var id int64
	var createdAt time.Time
	err = r.tx.QueryRow(ctx, `INSERT INTO invoices
(request_id, invoice_number, invoice_date, vendor_id, total_items, total_amount, status,
 quality_analysis, totals_data, additional_data, confidence_scores, created_at, finalized_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),$12)
ON CONFLICT (request_id) DO NOTHING
RETURNING id, created_at`,
		inv.RequestID, nullStr(inv.InvoiceNumber), nullTime(inv.InvoiceDate), nullInt(inv.VendorID),
		inv.TotalItems, inv.TotalAmount, string(inv.Status),
		quality, totals, additional, confidence, nullTime(inv.FinalizedAt)).Scan(&id, &createdAt)
	if err == nil {
		inv.ID = id
		inv.CreatedAt = createdAt
		return true, inv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, Invoice{}, err
	}
	existing, err := getInvoiceByRequestID(ctx, r.tx, inv.RequestID)
	if err != nil {
		return false, Invoice{}, err
	}
	return false, existing, nil
}

func (r *txRepository) InsertInvoiceImages(ctx context.Context, invoiceID int64, images []InvoiceImage) error {
	for _, img := range images {
		if _, err := r.tx.Exec(ctx, `INSERT INTO invoice_images (invoice_id, image_path, page_number, image_type)
VALUES ($1,$2,$3,$4)`, invoiceID, img.ImagePath, img.PageNumber, nullStr(img.ImageType)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *Repository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if !filter.IncludeInactive {
		where += ` AND is_active`
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR barcode ILIKE $` + n + ` OR product_code ILIKE $` + n + `)`
	}
	if filter.VendorID != 0 {
		args = append(args, filter.VendorID)
		where += ` AND vendor_id = $` + strconv.Itoa(len(args))
	}
	if filter.CategoryID != 0 {
		args = append(args, filter.CategoryID)
		where += ` AND category_id = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY name ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

// FindProductByNameLike falls back to a substring match. Used by catalog
// search only; invoice finalize deliberately sticks to exact name matching.
func (r *Repository) FindProductByNameLike(ctx context.Context, name string) (Product, error) {
	if name == "" {
		return Product{}, ErrNotFound
	}
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+`
FROM products WHERE name ILIKE '%' || $1 || '%' AND is_active
ORDER BY LENGTH(name) ASC, id ASC LIMIT 1`, name))
}

func (r *Repository) CountActiveProducts(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE is_active`).Scan(&count)
	return count, err
}

func (r *Repository) UpdateProduct(ctx context.Context, p Product) error {
	return updateProduct(ctx, r.pool, p)
}

func (r *txRepository) UpdateProduct(ctx context.Context, p Product) error {
	return updateProduct(ctx, r.tx, p)
}

func updateProduct(ctx context.Context, q querier, p Product) error {
	tag, err := q.Exec(ctx, `UPDATE products
SET name = $2, barcode = $3, product_code = $4, reference = $5, price = $6, cost_price = $7,
    quantity = $8, min_stock_level = $9, max_stock_level = $10, vendor_id = $11, category_id = $12,
    updated_at = NOW()
WHERE id = $1`,
		p.ID, p.Name, nullStr(p.Barcode), nullStr(p.ProductCode), nullStr(p.Reference),
		p.Price, p.CostPrice, p.Quantity, p.MinStockLevel, p.MaxStockLevel,
		nullInt(p.VendorID), nullInt(p.CategoryID))
	if err != nil {
		return mapDuplicate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateProductImage(ctx context.Context, id int64, imageURL, localPath string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products
SET image_url = $2, image_local_path = $3, updated_at = NOW()
WHERE id = $1`, id, nullStr(imageURL), nullStr(localPath))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetProductActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, movement_type, quantity, previous_quantity, new_quantity,
COALESCE(reason,''), COALESCE(reference_id,''), created_at
FROM inventory_movements WHERE product_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.PreviousQuantity, &m.NewQuantity,
			&m.Reason, &m.ReferenceID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, []InvoiceImage, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, invoiceSelect+` WHERE id = $1`, id))
	if err != nil {
		return Invoice{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, image_path, page_number, COALESCE(image_type,'')
FROM invoice_images WHERE invoice_id = $1 ORDER BY page_number ASC`, id)
	if err != nil {
		return Invoice{}, nil, err
	}
	defer rows.Close()
	var images []InvoiceImage
	for rows.Next() {
		var img InvoiceImage
		if err := rows.Scan(&img.ID, &img.InvoiceID, &img.ImagePath, &img.PageNumber, &img.ImageType); err != nil {
			return Invoice{}, nil, err
		}
		images = append(images, img)
	}
	return inv, images, rows.Err()
}

func (r *Repository) GetInvoiceByRequestID(ctx context.Context, requestID string) (Invoice, error) {
	return getInvoiceByRequestID(ctx, r.pool, requestID)
}

const invoiceSelect = `SELECT id, request_id, COALESCE(invoice_number,''), COALESCE(invoice_date,'epoch'),
COALESCE(vendor_id,0), total_items, total_amount, status,
COALESCE(quality_analysis,'{}'), COALESCE(totals_data,'{}'), COALESCE(additional_data,'{}'), COALESCE(confidence_scores,'{}'),
created_at, COALESCE(finalized_at,'epoch')
FROM invoices`

func getInvoiceByRequestID(ctx context.Context, q querier, requestID string) (Invoice, error) {
	return scanInvoice(q.QueryRow(ctx, invoiceSelect+` WHERE request_id = $1`, requestID))
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var quality, totals, additional, confidence []byte
	err := row.Scan(&inv.ID, &inv.RequestID, &inv.InvoiceNumber, &inv.InvoiceDate,
		&inv.VendorID, &inv.TotalItems, &inv.TotalAmount, &inv.Status,
		&quality, &totals, &additional, &confidence,
		&inv.CreatedAt, &inv.FinalizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	for _, pair := range []struct {
		raw  []byte
		dest *map[string]any
	}{
		{quality, &inv.QualityAnalysis},
		{totals, &inv.TotalsData},
		{additional, &inv.AdditionalData},
		{confidence, &inv.ConfidenceScores},
	} {
		if len(pair.raw) > 0 {
			if err := json.Unmarshal(pair.raw, pair.dest); err != nil {
				return Invoice{}, fmt.Errorf("ledger: decode invoice metadata: %w", err)
			}
		}
	}
	return inv, nil
}

func marshalInvoiceMeta(inv Invoice) (quality, totals, additional, confidence []byte, err error) {
	if quality, err = json.Marshal(orEmpty(inv.QualityAnalysis)); err != nil {
		return
	}
	if totals, err = json.Marshal(orEmpty(inv.TotalsData)); err != nil {
		return
	}
	if additional, err = json.Marshal(orEmpty(inv.AdditionalData)); err != nil {
		return
	}
	confidence, err = json.Marshal(orEmpty(inv.ConfidenceScores))
	return
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
