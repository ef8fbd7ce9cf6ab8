package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scanstock/scanstock/internal/ledger"
)

// SQLRepository persists notifications in PostgreSQL.
type SQLRepository struct {
	pool *pgxpool.Pool
}

// NewSQLRepository constructs SQLRepository.
func NewSQLRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

const notificationColumns = `id, kind, title, COALESCE(body,''), COALESCE(correlation_id,''),
COALESCE(vendor_id,0), COALESCE(product_id,0), read, created_at`

func (r *SQLRepository) Insert(ctx context.Context, n Notification) (Notification, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO notifications
(kind, title, body, correlation_id, vendor_id, product_id, read, created_at)
VALUES ($1,$2,$3,$4,$5,$6,false,NOW())
RETURNING id, created_at`,
		string(n.Kind), n.Title, nullStr(n.Body), nullStr(n.CorrelationID),
		nullInt(n.VendorID), nullInt(n.ProductID)).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (r *SQLRepository) HasCorrelation(ctx context.Context, correlationID string) (bool, error) {
	if correlationID == "" {
		return false, nil
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE correlation_id = $1)`,
		correlationID).Scan(&exists)
	return exists, err
}

func (r *SQLRepository) HasRecent(ctx context.Context, kind Kind, vendorID, productID int64, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM notifications
WHERE kind = $1 AND COALESCE(vendor_id,0) = $2 AND COALESCE(product_id,0) = $3 AND created_at >= $4)`,
		string(kind), vendorID, productID, since).Scan(&exists)
	return exists, err
}

func (r *SQLRepository) List(ctx context.Context, filter Filter) ([]Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE 1=1`
	args := []any{}
	if filter.UnreadOnly {
		query += ` AND NOT read`
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Kind, &n.Title, &n.Body, &n.CorrelationID,
			&n.VendorID, &n.ProductID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *SQLRepository) MarkRead(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) MarkAllRead(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE NOT read`)
	return err
}

func (r *SQLRepository) Clear(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM notifications`)
	return err
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
