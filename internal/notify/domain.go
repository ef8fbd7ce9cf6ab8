package notify

import "time"

// Kind classifies notifications.
type Kind string

const (
	KindScanComplete Kind = "scan_complete"
	KindSale         Kind = "sale"
	KindLowStock     Kind = "low_stock"
)

// Notification is one dispatched message.
type Notification struct {
	ID            int64     `json:"id"`
	Kind          Kind      `json:"kind"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	CorrelationID string    `json:"correlationId,omitempty"`
	VendorID      int64     `json:"vendorId,omitempty"`
	ProductID     int64     `json:"productId,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Event is a candidate notification before dedup.
type Event struct {
	Kind          Kind
	Title         string
	Body          string
	CorrelationID string
	VendorID      int64
	ProductID     int64
}

// Filter narrows notification listings.
type Filter struct {
	UnreadOnly bool
	Kind       Kind
	Limit      int
}
