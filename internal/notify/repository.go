package notify

import (
	"context"
	"time"
)

// Repository abstracts notification persistence.
type Repository interface {
	Insert(ctx context.Context, n Notification) (Notification, error)
	// HasCorrelation reports whether any notification carries the id.
	HasCorrelation(ctx context.Context, correlationID string) (bool, error)
	// HasRecent reports whether a matching (kind, vendor, product) triple
	// exists at or after the cutoff.
	HasRecent(ctx context.Context, kind Kind, vendorID, productID int64, since time.Time) (bool, error)
	List(ctx context.Context, filter Filter) ([]Notification, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
	Clear(ctx context.Context) error
}
